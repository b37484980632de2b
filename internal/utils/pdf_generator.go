package utils

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/go-pdf/fpdf"
)

var pdfColumnWidths = []float64{70, 55, 55}

// WritePDF renders doc as an A4 report: title, period line, the readings
// table (or NoDataMessage) and the optional charts, one per row.
func WritePDF(w io.Writer, doc ReportDocument, charts []ChartImage) error {
	pdf := buildPDF(doc, charts)
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to write PDF: %w", err)
	}
	return nil
}

func buildPDF(doc ReportDocument, charts []ChartImage) *fpdf.Fpdf {
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetTitle(doc.Title, true)
	pdf.SetCreator("thermowatch", true)
	if !doc.GeneratedAt.IsZero() {
		pdf.SetCreationDate(doc.GeneratedAt)
	}
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 6, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 10, tr(doc.Title), "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	if doc.Period != "" {
		pdf.CellFormat(0, 6, tr(doc.Period), "", 1, "C", false, 0, "")
	}
	if !doc.GeneratedAt.IsZero() {
		loc := doc.Location
		if loc == nil {
			loc = time.Local
		}
		generated := "Generated " + doc.GeneratedAt.In(loc).Format("02/01/2006 15:04:05")
		pdf.CellFormat(0, 6, generated, "", 1, "C", false, 0, "")
	}
	pdf.Ln(4)

	rows := doc.Rows()
	if len(rows) == 0 {
		pdf.SetFont("Helvetica", "I", 11)
		pdf.CellFormat(0, 10, NoDataMessage, "", 1, "C", false, 0, "")
		return pdf
	}

	writeTableHeader(pdf, tr)
	pdf.SetFont("Helvetica", "", 10)
	for i, row := range rows {
		fill := i%2 == 1
		pdf.SetFillColor(240, 244, 248)
		for col, cell := range row {
			align := "R"
			if col == 0 {
				align = "L"
			}
			pdf.CellFormat(pdfColumnWidths[col], 7, cell, "1", 0, align, fill, 0, "")
		}
		pdf.Ln(-1)
	}

	for _, c := range charts {
		pdf.Ln(6)
		pdf.RegisterImageOptionsReader(c.Name, fpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(c.PNG))
		pdf.ImageOptions(c.Name, 15, 0, 180, 0, true, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")
	}

	return pdf
}

func writeTableHeader(pdf *fpdf.Fpdf, tr func(string) string) {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(52, 73, 94)
	pdf.SetTextColor(255, 255, 255)
	for i, h := range ReportHeaders {
		pdf.CellFormat(pdfColumnWidths[i], 8, tr(h), "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetTextColor(0, 0, 0)
}
