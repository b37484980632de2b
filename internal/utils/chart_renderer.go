package utils

import (
	"bytes"
	"fmt"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"thermowatch/internal/models"
)

// ChartImage is a rendered PNG ready to embed in a document.
type ChartImage struct {
	Name string
	PNG  []byte
}

// RenderReadingCharts draws the temperature and humidity series as PNG line
// charts. It returns nil when fewer than two distinct timestamps are
// available, since a time axis needs a non-zero span.
func RenderReadingCharts(readings []models.Reading, loc *time.Location) ([]ChartImage, error) {
	if !hasTimeSpan(readings) {
		return nil, nil
	}
	if loc == nil {
		loc = time.Local
	}

	// Readings arrive newest first; plot oldest to newest.
	times := make([]time.Time, len(readings))
	temps := make([]float64, len(readings))
	hums := make([]float64, len(readings))
	for i, r := range readings {
		j := len(readings) - 1 - i
		times[j] = r.CreatedAt
		temps[j] = r.Temperature
		hums[j] = r.Humidity
	}

	temp, err := renderLineChart("Temperature (°C)", "Suhu", times, temps, chart.ColorBlue, loc)
	if err != nil {
		return nil, fmt.Errorf("render temperature chart: %w", err)
	}
	hum, err := renderLineChart("Humidity (%)", "Kelembapan", times, hums, chart.ColorAlternateGreen, loc)
	if err != nil {
		return nil, fmt.Errorf("render humidity chart: %w", err)
	}

	return []ChartImage{
		{Name: "temperature", PNG: temp},
		{Name: "humidity", PNG: hum},
	}, nil
}

func renderLineChart(title, series string, times []time.Time, values []float64, color drawing.Color, loc *time.Location) ([]byte, error) {
	graph := chart.Chart{
		Title:  title,
		Width:  900,
		Height: 360,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 10, Bottom: 10},
		},
		XAxis: chart.XAxis{
			ValueFormatter: timeFormatter("15:04:05", loc),
		},
		YAxis: chart.YAxis{
			Range: flatRange(values),
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name: series,
				Style: chart.Style{
					StrokeColor: color,
					StrokeWidth: 2,
					DotColor:    color,
					DotWidth:    3,
				},
				XValues: times,
				YValues: values,
			},
		},
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func timeFormatter(layout string, loc *time.Location) chart.ValueFormatter {
	return func(v interface{}) string {
		switch t := v.(type) {
		case time.Time:
			return t.In(loc).Format(layout)
		case float64:
			return time.Unix(0, int64(t)).In(loc).Format(layout)
		case int64:
			return time.Unix(0, t).In(loc).Format(layout)
		}
		return ""
	}
}

// flatRange pads the y axis when every value is equal.
func flatRange(values []float64) chart.Range {
	if len(values) == 0 {
		return nil
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi > lo {
		return nil
	}
	return &chart.ContinuousRange{Min: lo - 1, Max: hi + 1}
}

func hasTimeSpan(readings []models.Reading) bool {
	if len(readings) < 2 {
		return false
	}
	first := readings[0].CreatedAt
	for _, r := range readings[1:] {
		if !r.CreatedAt.Equal(first) {
			return true
		}
	}
	return false
}
