package utils

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"thermowatch/internal/models"
)

const (
	readingsSheet = "Readings"
	infoSheet     = "Info"
)

// WriteExcel renders doc as an xlsx workbook with the readings table, two
// line charts and a summary sheet.
func WriteExcel(w io.Writer, doc ReportDocument) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), readingsSheet); err != nil {
		return err
	}

	headers := make([]interface{}, len(ReportHeaders))
	for i, h := range ReportHeaders {
		headers[i] = h
	}
	if err := f.SetSheetRow(readingsSheet, "A1", &headers); err != nil {
		return err
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#34495E"}, Pattern: 1},
	})
	if err == nil {
		f.SetCellStyle(readingsSheet, "A1", "C1", headerStyle)
	}

	if len(doc.Readings) == 0 {
		f.SetCellValue(readingsSheet, "A2", NoDataMessage)
	}

	numberStyle := getNumberStyle(f, "0.00")
	for i, row := range doc.Rows() {
		r := doc.Readings[i]
		rowNum := i + 2

		f.SetCellValue(readingsSheet, fmt.Sprintf("A%d", rowNum), row[0])
		f.SetCellValue(readingsSheet, fmt.Sprintf("B%d", rowNum), r.Temperature)
		f.SetCellValue(readingsSheet, fmt.Sprintf("C%d", rowNum), r.Humidity)
		f.SetCellStyle(readingsSheet, fmt.Sprintf("B%d", rowNum), fmt.Sprintf("C%d", rowNum), numberStyle)
	}

	f.SetColWidth(readingsSheet, "A", "A", 24)
	f.SetColWidth(readingsSheet, "B", "C", 16)
	f.SetPanes(readingsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	if len(doc.Readings) > 0 {
		last := len(doc.Readings) + 1
		// Hot and cold highlights on the temperature column.
		hot := []excelize.ConditionalFormatOptions{{
			Type: "cell", Criteria: ">", Value: "35",
			Format: getConditionalFormatStyle(f, "#FFCCCC"),
		}}
		if err := f.SetConditionalFormat(readingsSheet, fmt.Sprintf("B2:B%d", last), hot); err != nil {
			return err
		}
		cold := []excelize.ConditionalFormatOptions{{
			Type: "cell", Criteria: "<", Value: "15",
			Format: getConditionalFormatStyle(f, "#CCE5FF"),
		}}
		if err := f.SetConditionalFormat(readingsSheet, fmt.Sprintf("B2:B%d", last), cold); err != nil {
			return err
		}
	}

	if len(doc.Readings) > 1 {
		if err := createCharts(f, len(doc.Readings)); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(infoSheet); err != nil {
		return err
	}
	createInfoSheet(f, doc)

	f.SetActiveSheet(0)
	return f.Write(w)
}

func getNumberStyle(f *excelize.File, format string) int {
	style, err := f.NewStyle(&excelize.Style{CustomNumFmt: &format})
	if err != nil {
		return 0
	}
	return style
}

func getConditionalFormatStyle(f *excelize.File, color string) *int {
	style, err := f.NewConditionalStyle(&excelize.Style{
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{color},
			Pattern: 1,
		},
	})
	if err != nil {
		return nil
	}
	return &style
}

func createCharts(f *excelize.File, n int) error {
	last := n + 1
	series := []struct {
		cell, title, column string
	}{
		{cell: "E2", title: "Temperature (°C)", column: "B"},
		{cell: "E22", title: "Humidity (%)", column: "C"},
	}

	for _, s := range series {
		err := f.AddChart(readingsSheet, s.cell, &excelize.Chart{
			Type: excelize.Line,
			Series: []excelize.ChartSeries{{
				Name:       fmt.Sprintf("%s!$%s$1", readingsSheet, s.column),
				Categories: fmt.Sprintf("%s!$A$2:$A$%d", readingsSheet, last),
				Values:     fmt.Sprintf("%s!$%s$2:$%s$%d", readingsSheet, s.column, s.column, last),
			}},
			Title:     []excelize.RichTextRun{{Text: s.title}},
			XAxis:     excelize.ChartAxis{ReverseOrder: true},
			YAxis:     excelize.ChartAxis{MajorGridLines: true},
			Dimension: excelize.ChartDimension{Width: 600, Height: 360},
		})
		if err != nil {
			return fmt.Errorf("add %s chart: %w", s.title, err)
		}
	}
	return nil
}

func createInfoSheet(f *excelize.File, doc ReportDocument) {
	loc := doc.Location
	if loc == nil {
		loc = time.Local
	}

	rows := [][]interface{}{
		{"Report", doc.Title},
		{"Period", doc.Period},
		{"Generated", doc.GeneratedAt.In(loc).Format("2006-01-02 15:04:05")},
		{"Total Records", len(doc.Readings)},
	}
	if len(doc.Readings) > 0 {
		tMin, tMax := minMax(doc.Readings, func(r models.Reading) float64 { return r.Temperature })
		hMin, hMax := minMax(doc.Readings, func(r models.Reading) float64 { return r.Humidity })
		rows = append(rows,
			[]interface{}{"Temperature Range", fmt.Sprintf("%.2f°C - %.2f°C", tMin, tMax)},
			[]interface{}{"Humidity Range", fmt.Sprintf("%.2f%% - %.2f%%", hMin, hMax)},
		)
	}

	for i, row := range rows {
		f.SetCellValue(infoSheet, fmt.Sprintf("A%d", i+1), row[0])
		f.SetCellValue(infoSheet, fmt.Sprintf("B%d", i+1), row[1])
	}
	f.SetColWidth(infoSheet, "A", "B", 24)
}

func minMax(readings []models.Reading, value func(models.Reading) float64) (lo, hi float64) {
	lo, hi = value(readings[0]), value(readings[0])
	for _, r := range readings[1:] {
		v := value(r)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
