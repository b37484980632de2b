package utils

import (
	"strconv"
	"time"

	"thermowatch/internal/models"
)

// NoDataMessage is rendered in place of the table when nothing matches.
const NoDataMessage = "No data available within the selected date range."

// ReportHeaders are the column titles shared by every export format.
var ReportHeaders = []string{"Waktu", "Suhu (°C)", "Kelembapan (%)"}

// ReportDocument is everything a generator needs to render one export.
type ReportDocument struct {
	Title       string
	Period      string
	GeneratedAt time.Time
	Readings    []models.Reading
	TimeFormat  string
	Location    *time.Location
}

// Rows formats the readings as table cells in document order.
func (d ReportDocument) Rows() [][]string {
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	layout := d.TimeFormat
	if layout == "" {
		layout = "02/01/2006 15:04:05"
	}

	rows := make([][]string, 0, len(d.Readings))
	for _, r := range d.Readings {
		rows = append(rows, []string{
			r.CreatedAt.In(loc).Format(layout),
			formatValue(r.Temperature),
			formatValue(r.Humidity),
		})
	}
	return rows
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
