package views

import (
	"errors"
	"html/template"
	"io"
	"io/fs"
	"strconv"
	"time"

	"thermowatch/internal/models"
)

// EChartsAsset is the script the dashboard charts are drawn with.
const EChartsAsset = "https://go-echarts.github.io/go-echarts-assets/assets/echarts.min.js"

var dashboardTmpl *template.Template

// loadTemplatesFromFS parses every template under dir. Tests use it with an
// in-memory fs to exercise the failure paths.
func loadTemplatesFromFS(fsys fs.FS, dir string) error {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return err
	}
	dashboardTmpl, err = template.ParseFS(sub, "*.html")
	if err != nil {
		return err
	}
	return nil
}

// LoadTemplates loads the embedded templates. Call it once during startup.
func LoadTemplates() error {
	return loadTemplatesFromFS(viewsFS, "templates")
}

// DashboardOptions controls how a snapshot is turned into a page.
type DashboardOptions struct {
	Title         string
	Location      *time.Location
	ClockFormat   string
	TimeFormat    string
	PollInterval  time.Duration
	ExportPath    string
	RangePath     string
	LivePath      string
	ChartAssetURL string
}

// LatestPanel holds the values of the newest reading, already formatted.
type LatestPanel struct {
	Temperature string `json:"temperature"`
	Humidity    string `json:"humidity"`
	LastUpdated string `json:"last_updated"`
}

type DashboardData struct {
	Title          string
	Clock          string
	Start          string
	End            string
	Error          string
	FormError      string
	Count          int
	Latest         LatestPanel
	Temperature    ChartHTML
	Humidity       ChartHTML
	RefreshSeconds int
	ExportPath     string
	RangePath      string
	LivePath       string
	ChartAssetURL  string
}

// LiveData is the part of the page the browser refreshes in place between
// polls, formatted the same way as the initial render.
type LiveData struct {
	Clock       string      `json:"clock"`
	Error       string      `json:"error"`
	Count       int         `json:"count"`
	Latest      LatestPanel `json:"latest"`
	Labels      []string    `json:"labels"`
	Temperature []float64   `json:"temperature"`
	Humidity    []float64   `json:"humidity"`
}

func (o DashboardOptions) withDefaults() DashboardOptions {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.ClockFormat == "" {
		o.ClockFormat = "15:04:05"
	}
	if o.TimeFormat == "" {
		o.TimeFormat = "02/01/2006 15:04:05"
	}
	if o.ChartAssetURL == "" {
		o.ChartAssetURL = EChartsAsset
	}
	if o.Title == "" {
		o.Title = "Monitoring Suhu & Kelembapan"
	}
	return o
}

func latestPanel(snap models.Snapshot, o DashboardOptions) LatestPanel {
	latest, ok := snap.Latest()
	if !ok {
		return LatestPanel{Temperature: "-", Humidity: "-", LastUpdated: "-"}
	}
	return LatestPanel{
		Temperature: strconv.FormatFloat(latest.Temperature, 'f', -1, 64),
		Humidity:    strconv.FormatFloat(latest.Humidity, 'f', -1, 64),
		LastUpdated: latest.CreatedAt.In(o.Location).Format(o.TimeFormat),
	}
}

// NewDashboardData builds the view model for snap. The latest panel shows
// "-" until a reading has been loaded.
func NewDashboardData(snap models.Snapshot, o DashboardOptions) *DashboardData {
	o = o.withDefaults()

	data := &DashboardData{
		Title:         o.Title,
		Clock:         snap.Clock,
		Start:         snap.Range.Start,
		End:           snap.Range.End,
		Error:         snap.LastError,
		Count:         len(snap.Readings),
		Latest:        latestPanel(snap, o),
		ExportPath:    o.ExportPath,
		RangePath:     o.RangePath,
		LivePath:      o.LivePath,
		ChartAssetURL: o.ChartAssetURL,
	}
	if o.PollInterval > 0 {
		data.RefreshSeconds = int((o.PollInterval + time.Second - 1) / time.Second)
	}

	labels := ChartLabels(snap.Readings, o.Location, o.ClockFormat, snap.Clock)
	data.Temperature = buildLineChart(temperatureSeries, labels, snap.Readings)
	data.Humidity = buildLineChart(humiditySeries, labels, snap.Readings)
	return data
}

// NewLiveData builds the in-place update for snap.
func NewLiveData(snap models.Snapshot, o DashboardOptions) LiveData {
	o = o.withDefaults()

	return LiveData{
		Clock:       snap.Clock,
		Error:       snap.LastError,
		Count:       len(snap.Readings),
		Latest:      latestPanel(snap, o),
		Labels:      ChartLabels(snap.Readings, o.Location, o.ClockFormat, snap.Clock),
		Temperature: temperatureSeries.values(snap.Readings),
		Humidity:    humiditySeries.values(snap.Readings),
	}
}

func RenderDashboard(w io.Writer, data *DashboardData) error {
	if dashboardTmpl == nil {
		return errors.New("dashboard template not loaded: call views.LoadTemplates during startup")
	}
	return dashboardTmpl.ExecuteTemplate(w, "dashboard.html", data)
}
