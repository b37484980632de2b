package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"thermowatch/internal/models"
	"thermowatch/internal/service"
	"thermowatch/internal/views"
	"thermowatch/internal/worker"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeReadings struct {
	snap       models.Snapshot
	refresh    service.FetchResult
	rangeErr   error
	history    []models.Reading
	historyErr error
	counters   service.Counters

	gotStart, gotEnd string
	gotFrom, gotTo   time.Time
	gotLimit         int
}

func (f *fakeReadings) Refresh(context.Context) service.FetchResult { return f.refresh }

func (f *fakeReadings) SetRange(_ context.Context, start, end string) (service.FetchResult, error) {
	f.gotStart, f.gotEnd = start, end
	if f.rangeErr != nil {
		return service.FetchResult{}, f.rangeErr
	}
	f.snap.Range = models.TimeRange{Start: start, End: end}
	return f.refresh, nil
}

func (f *fakeReadings) Tick(context.Context) error      { return nil }
func (f *fakeReadings) Snapshot() models.Snapshot       { return f.snap }
func (f *fakeReadings) Latest() (models.Reading, bool)  { return f.snap.Latest() }
func (f *fakeReadings) WarmStart(context.Context) error { return nil }

func (f *fakeReadings) History(_ context.Context, from, to time.Time, limit int) ([]models.Reading, error) {
	f.gotFrom, f.gotTo, f.gotLimit = from, to, limit
	return f.history, f.historyErr
}

func (f *fakeReadings) PruneArchive(context.Context) (int64, error) { return 0, nil }

func (f *fakeReadings) Counters(context.Context) (service.Counters, error) { return f.counters, nil }

type fakeReports struct {
	report *service.Report
	err    error
	got    service.ExportRequest
}

func (f *fakeReports) Export(_ context.Context, req service.ExportRequest) (*service.Report, error) {
	f.got = req
	return f.report, f.err
}

func (f *fakeReports) ExportReadings(ctx context.Context, _ []models.Reading, req service.ExportRequest) (*service.Report, error) {
	return f.Export(ctx, req)
}

type fakeTasks []worker.TaskStatus

func (f fakeTasks) Status() []worker.TaskStatus { return f }

func loadedSnapshot() models.Snapshot {
	return models.Snapshot{
		Readings: []models.Reading{
			{ID: 7, CreatedAt: time.Date(2024, 5, 1, 10, 0, 5, 0, time.UTC), Temperature: 30.2, Humidity: 65},
			{ID: 6, CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), Temperature: 30.1, Humidity: 66},
		},
		Clock: "10:00:10",
	}
}

func newTestRouter(readings *fakeReadings, reports *fakeReports) *gin.Engine {
	r := gin.New()
	rh := NewReadingHandler(readings, reports, time.UTC)
	dh := NewDashboardHandler(readings, views.DashboardOptions{
		Location:     time.UTC,
		PollInterval: 5 * time.Second,
		ExportPath:   "/api/v1/readings/export",
		RangePath:    "/range",
		LivePath:     "/live",
	}, nil)
	sh := NewSystemHandler(SystemDeps{Readings: readings, Tasks: fakeTasks{{Name: "poll-readings", Runs: 3}}, Version: "test"})

	r.GET("/", dh.Index)
	r.POST("/range", dh.SubmitRange)
	r.GET("/live", dh.Live)
	r.GET("/health", sh.HealthCheck)
	api := r.Group("/api/v1")
	api.GET("/readings", rh.GetSnapshot)
	api.GET("/readings/latest", rh.GetLatest)
	api.POST("/readings/refresh", rh.Refresh)
	api.PUT("/readings/range", rh.SetRange)
	api.GET("/readings/export", rh.Export)
	api.GET("/readings/history", rh.GetHistory)
	api.GET("/stats", sh.GetStats)
	api.GET("/polls", sh.GetPolls)
	return r
}

func serve(r http.Handler, method, target string, body string, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

func TestGetSnapshotAndLatest(t *testing.T) {
	readings := &fakeReadings{}
	r := newTestRouter(readings, &fakeReports{})

	if w := serve(r, http.MethodGet, "/api/v1/readings/latest", "", ""); w.Code != http.StatusNotFound {
		t.Fatalf("latest with no data status = %d, want 404", w.Code)
	}

	readings.snap = loadedSnapshot()
	w := serve(r, http.MethodGet, "/api/v1/readings/latest", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("latest status = %d", w.Code)
	}
	if got := decode(t, w)["id"]; got != float64(7) {
		t.Errorf("latest id = %v, want 7", got)
	}

	w = serve(r, http.MethodGet, "/api/v1/readings", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("snapshot status = %d", w.Code)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Readings) != 2 || snap.Clock != "10:00:10" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestRefresh(t *testing.T) {
	readings := &fakeReadings{refresh: service.FetchResult{Count: 2}}
	r := newTestRouter(readings, &fakeReports{})

	w := serve(r, http.MethodPost, "/api/v1/readings/refresh", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decode(t, w); body["success"] != true || body["count"] != float64(2) {
		t.Errorf("body = %v", body)
	}

	readings.refresh = service.FetchResult{Err: errors.New("failed to fetch readings: boom")}
	w = serve(r, http.MethodPost, "/api/v1/readings/refresh", "", "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("failed refresh status = %d, want 502", w.Code)
	}
	if body := decode(t, w); body["success"] != false || !strings.Contains(fmt.Sprint(body["error"]), "boom") {
		t.Errorf("body = %v", body)
	}
}

func TestSetRange(t *testing.T) {
	readings := &fakeReadings{refresh: service.FetchResult{Count: 1, Applied: true}}
	r := newTestRouter(readings, &fakeReports{})

	w := serve(r, http.MethodPut, "/api/v1/readings/range",
		`{"start":"2024-05-01T08:00","end":"2024-05-01T17:00"}`, "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if readings.gotStart != "2024-05-01T08:00" || readings.gotEnd != "2024-05-01T17:00" {
		t.Errorf("range = %q..%q", readings.gotStart, readings.gotEnd)
	}

	readings.rangeErr = fmt.Errorf("start: %w", service.ErrInvalidDate)
	w = serve(r, http.MethodPut, "/api/v1/readings/range", `{"start":"nope","end":""}`, "application/json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid range status = %d, want 400", w.Code)
	}

	w = serve(r, http.MethodPut, "/api/v1/readings/range", `{`, "application/json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", w.Code)
	}
}

func TestExport(t *testing.T) {
	reports := &fakeReports{report: &service.Report{
		Filename:    "data-suhu-kelembapan.pdf",
		ContentType: "application/pdf",
		Rows:        2,
		Data:        []byte("%PDF-1.3 test"),
	}}
	r := newTestRouter(&fakeReadings{}, reports)

	w := serve(r, http.MethodGet, "/api/v1/readings/export?start=2024-05-01&end=2024-05-02&format=pdf", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Disposition"); got != `attachment; filename="data-suhu-kelembapan.pdf"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	if got := w.Header().Get("Content-Type"); got != "application/pdf" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := w.Header().Get("X-Report-Rows"); got != "2" {
		t.Errorf("X-Report-Rows = %q", got)
	}
	if !strings.HasPrefix(w.Body.String(), "%PDF") {
		t.Errorf("body = %q", w.Body.String())
	}
	if reports.got.Start != "2024-05-01" || reports.got.End != "2024-05-02" || reports.got.Format != "pdf" {
		t.Errorf("request = %+v", reports.got)
	}
}

func TestExport_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid date", fmt.Errorf("end: %w", service.ErrInvalidDate), http.StatusBadRequest},
		{"unsupported format", fmt.Errorf("%w: %q", service.ErrUnsupportedFormat, "doc"), http.StatusBadRequest},
		{"render failure", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&fakeReadings{}, &fakeReports{err: tt.err})
			w := serve(r, http.MethodGet, "/api/v1/readings/export?format=doc", "", "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestGetHistory(t *testing.T) {
	readings := &fakeReadings{history: loadedSnapshot().Readings}
	r := newTestRouter(readings, &fakeReports{})

	w := serve(r, http.MethodGet, "/api/v1/readings/history?from=2024-05-01&to=2024-05-02T12:00&limit=5", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decode(t, w); body["count"] != float64(2) {
		t.Errorf("count = %v", body["count"])
	}
	if !readings.gotFrom.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) ||
		!readings.gotTo.Equal(time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)) || readings.gotLimit != 5 {
		t.Errorf("history args = %v %v %d", readings.gotFrom, readings.gotTo, readings.gotLimit)
	}

	if w := serve(r, http.MethodGet, "/api/v1/readings/history?from=yesterday", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad from status = %d, want 400", w.Code)
	}

	readings.historyErr = service.ErrArchiveDisabled
	if w := serve(r, http.MethodGet, "/api/v1/readings/history", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled archive status = %d, want 503", w.Code)
	}
}

func TestDashboard(t *testing.T) {
	if err := views.LoadTemplates(); err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}
	readings := &fakeReadings{snap: loadedSnapshot()}
	r := newTestRouter(readings, &fakeReports{})

	w := serve(r, http.MethodGet, "/", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Suhu: 30.2 °C") {
		t.Errorf("page missing latest temperature")
	}

	form := url.Values{"start": {"2024-05-01T08:00"}, "end": {"2024-05-01T17:00"}}
	w = serve(r, http.MethodPost, "/range", form.Encode(), "application/x-www-form-urlencoded")
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/" {
		t.Fatalf("submit status = %d location = %q", w.Code, w.Header().Get("Location"))
	}
	if readings.gotStart != "2024-05-01T08:00" {
		t.Errorf("start = %q", readings.gotStart)
	}

	readings.rangeErr = fmt.Errorf("start: %w", service.ErrInvalidDate)
	form = url.Values{"start": {"garbage"}, "end": {""}}
	w = serve(r, http.MethodPost, "/range", form.Encode(), "application/x-www-form-urlencoded")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid submit status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "invalid date") || !strings.Contains(w.Body.String(), `value="garbage"`) {
		t.Errorf("page missing error or submitted value: %s", w.Body.String())
	}
}

var (
	rangeFormRe = regexp.MustCompile(`(?s)<form id="range-form"(.*?)</form>`)
	inputRe     = regexp.MustCompile(`<input [^>]*name="([^"]+)" value="([^"]*)"`)
	exportBtnRe = regexp.MustCompile(`<button [^>]*formaction="([^"]+)" formmethod="get"[^>]*>Download PDF</button>`)
)

func TestDashboard_DownloadSubmitsPickers(t *testing.T) {
	if err := views.LoadTemplates(); err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}
	snap := loadedSnapshot()
	snap.Range = models.TimeRange{Start: "2024-05-01T08:00", End: "2024-05-01T17:00"}
	readings := &fakeReadings{snap: snap}
	reports := &fakeReports{report: &service.Report{Filename: "data-suhu-kelembapan.pdf", ContentType: "application/pdf", Data: []byte("%PDF")}}
	r := newTestRouter(readings, reports)

	page := serve(r, http.MethodGet, "/", "", "").Body.String()
	if strings.Contains(page, `http-equiv="refresh"`) {
		t.Error("page still reloads itself")
	}
	form := rangeFormRe.FindStringSubmatch(page)
	if form == nil {
		t.Fatalf("range form not found: %s", page)
	}
	btn := exportBtnRe.FindStringSubmatch(form[1])
	if btn == nil {
		t.Fatalf("Download PDF is not a GET submit of the range form: %s", form[1])
	}

	values := url.Values{}
	for _, m := range inputRe.FindAllStringSubmatch(form[1], -1) {
		values.Set(m[1], m[2])
	}
	if values.Get("start") != "2024-05-01T08:00" || values.Get("format") != "pdf" {
		t.Fatalf("form fields = %v", values)
	}

	// a date picked but not yet fetched is what gets exported
	values.Set("start", "2024-05-02T06:00")
	values.Set("end", "2024-05-02T18:00")
	w := serve(r, http.MethodGet, btn[1]+"?"+values.Encode(), "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("export status = %d body=%s", w.Code, w.Body.String())
	}
	if reports.got.Start != "2024-05-02T06:00" || reports.got.End != "2024-05-02T18:00" || reports.got.Format != "pdf" {
		t.Errorf("export request = %+v, want picker values", reports.got)
	}
	if readings.gotStart != "" {
		t.Errorf("download changed the stored range to %q", readings.gotStart)
	}
}

func TestDashboard_Live(t *testing.T) {
	readings := &fakeReadings{snap: loadedSnapshot()}
	readings.snap.LastError = "failed to fetch readings: timeout"
	r := newTestRouter(readings, &fakeReports{})

	w := serve(r, http.MethodGet, "/live", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var live views.LiveData
	if err := json.Unmarshal(w.Body.Bytes(), &live); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if live.Count != 2 || live.Latest.Temperature != "30.2" || live.Clock != "10:00:10" {
		t.Errorf("live = %+v", live)
	}
	if len(live.Labels) != 3 || live.Labels[2] != "10:00:10" || len(live.Temperature) != 2 || live.Humidity[0] != 65 {
		t.Errorf("chart data = %v %v %v", live.Labels, live.Temperature, live.Humidity)
	}
	if live.Error != readings.snap.LastError {
		t.Errorf("error = %q", live.Error)
	}
}

func TestHealthAndStats(t *testing.T) {
	readings := &fakeReadings{snap: loadedSnapshot(), counters: service.Counters{Polls: 7, PublishedThrough: 42}}
	r := newTestRouter(readings, &fakeReports{})

	w := serve(r, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	body := decode(t, w)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("health = %v", body)
	}

	readings.snap.LastError = "failed to fetch readings: timeout"
	if body := decode(t, serve(r, http.MethodGet, "/health", "", "")); body["status"] != "degraded" {
		t.Errorf("health with failed poll = %v", body["status"])
	}

	w = serve(r, http.MethodGet, "/api/v1/stats", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d", w.Code)
	}
	stats := decode(t, w)
	if stats["loaded"] != float64(2) {
		t.Errorf("loaded = %v", stats["loaded"])
	}
	counters, _ := stats["counters"].(map[string]interface{})
	if counters["polls"] != float64(7) || counters["published_through"] != float64(42) {
		t.Errorf("counters = %v", stats["counters"])
	}
	workers, ok := stats["workers"].([]interface{})
	if !ok || len(workers) != 1 {
		t.Errorf("workers = %v", stats["workers"])
	}

	if w := serve(r, http.MethodGet, "/api/v1/polls", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("polls without archive status = %d, want 503", w.Code)
	}
}
