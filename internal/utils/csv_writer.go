package utils

import (
	"encoding/csv"
	"io"
)

// WriteCSV writes the header row followed by one row per reading.
func WriteCSV(w io.Writer, doc ReportDocument) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(ReportHeaders); err != nil {
		return err
	}
	if err := writer.WriteAll(doc.Rows()); err != nil {
		return err
	}

	writer.Flush()
	return writer.Error()
}
