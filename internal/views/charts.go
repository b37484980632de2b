package views

import (
	"html/template"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"thermowatch/internal/models"
)

// ChartHTML is a rendered echarts snippet: the container element and the
// script that initialises it.
type ChartHTML struct {
	ID      string
	Element template.HTML
	Script  template.HTML
}

type chartSeries struct {
	id    string
	title string
	name  string
	color string
	value func(models.Reading) float64
}

var (
	temperatureSeries = chartSeries{
		id:    "chart_suhu",
		title: "Grafik Suhu (°C)",
		name:  "Suhu (°C)",
		color: "#2563eb",
		value: func(r models.Reading) float64 { return r.Temperature },
	}
	humiditySeries = chartSeries{
		id:    "chart_kelembapan",
		title: "Grafik Kelembapan (%)",
		name:  "Kelembapan (%)",
		color: "#16a34a",
		value: func(r models.Reading) float64 { return r.Humidity },
	}
)

func (c chartSeries) values(readings []models.Reading) []float64 {
	out := make([]float64, 0, len(readings))
	for _, r := range readings {
		out = append(out, c.value(r))
	}
	return out
}

// ChartLabels returns the x-axis labels: each reading's time of day in query
// order followed by the clock of the last poll tick.
func ChartLabels(readings []models.Reading, loc *time.Location, clockFormat, clock string) []string {
	if loc == nil {
		loc = time.Local
	}
	labels := make([]string, 0, len(readings)+1)
	for _, r := range readings {
		labels = append(labels, r.CreatedAt.In(loc).Format(clockFormat))
	}
	return append(labels, clock)
}

func buildLineChart(series chartSeries, labels []string, readings []models.Reading) ChartHTML {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			ChartID: series.id,
			Width:   "100%",
			Height:  "320px",
		}),
		charts.WithTitleOpts(opts.Title{Title: series.title}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show:    opts.Bool(true),
			Trigger: "axis",
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Scale: opts.Bool(true)}),
		charts.WithColorsOpts(opts.Colors{series.color}),
	)

	data := make([]opts.LineData, 0, len(readings))
	for _, v := range series.values(readings) {
		data = append(data, opts.LineData{Value: v})
	}

	line.SetXAxis(labels).
		AddSeries(series.name, data,
			charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true), ShowSymbol: opts.Bool(true)}),
			charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.15)}),
		)

	snippet := line.RenderSnippet()
	return ChartHTML{
		ID:      series.id,
		Element: template.HTML(snippet.Element),
		Script:  template.HTML(snippet.Script),
	}
}
