package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"thermowatch/internal/metrics"
	"thermowatch/internal/models"
	"thermowatch/internal/utils"
)

// ErrUnsupportedFormat is returned for export formats other than pdf, xlsx and csv.
var ErrUnsupportedFormat = errors.New("unsupported export format")

var contentTypes = map[string]string{
	"pdf":  "application/pdf",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"csv":  "text/csv; charset=utf-8",
}

type ExportRequest struct {
	Start  string `json:"start" form:"start"`
	End    string `json:"end" form:"end"`
	Format string `json:"format" form:"format"`
}

type Report struct {
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Format      string    `json:"format"`
	Rows        int       `json:"rows"`
	From        time.Time `json:"from,omitempty"`
	To          time.Time `json:"to,omitempty"`
	Data        []byte    `json:"-"`
}

// Empty reports whether the document carries the no-data placeholder.
func (r *Report) Empty() bool { return r.Rows == 0 }

type ReportService interface {
	// Export filters the readings currently held by the dashboard.
	Export(ctx context.Context, req ExportRequest) (*Report, error)
	ExportReadings(ctx context.Context, readings []models.Reading, req ExportRequest) (*Report, error)
}

type ReportConfig struct {
	Filename   string
	Title      string
	TimeFormat string
	Location   *time.Location
	Now        func() time.Time
}

type reportService struct {
	readings ReadingService
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      ReportConfig
}

func NewReportService(readings ReadingService, m *metrics.Metrics, logger *slog.Logger, config ReportConfig) ReportService {
	if config.Filename == "" {
		config.Filename = "data-suhu-kelembapan.pdf"
	}
	if config.Title == "" {
		config.Title = "Data Suhu dan Kelembapan"
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &reportService{
		readings: readings,
		metrics:  m,
		logger:   logger.With("component", "exporter"),
		cfg:      config,
	}
}

func (s *reportService) Export(ctx context.Context, req ExportRequest) (*Report, error) {
	return s.ExportReadings(ctx, s.readings.Snapshot().Readings, req)
}

// ExportReadings keeps the readings whose timestamp falls within
// [start 00:00:00.000, end 23:59:59.999] and renders them in the requested
// format. A missing boundary yields a document with the no-data placeholder.
func (s *reportService) ExportReadings(ctx context.Context, readings []models.Reading, req ExportRequest) (*Report, error) {
	format := strings.ToLower(strings.TrimSpace(req.Format))
	if format == "" {
		format = "pdf"
	}
	contentType, ok := contentTypes[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.Format)
	}

	start, startSet, err := ParseBoundary(req.Start, s.cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	end, endSet, err := ParseBoundary(req.End, s.cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}

	report := &Report{
		Filename:    s.filename(format),
		ContentType: contentType,
		Format:      format,
	}
	doc := utils.ReportDocument{
		Title:       s.cfg.Title,
		GeneratedAt: s.cfg.Now(),
		TimeFormat:  s.cfg.TimeFormat,
		Location:    s.cfg.Location,
		Readings:    []models.Reading{},
	}

	if startSet && endSet {
		report.From, report.To = DayBounds(start, end, s.cfg.Location)
		doc.Readings = FilterByDay(readings, report.From, report.To)
		doc.Period = fmt.Sprintf("%s - %s", report.From.Format("02/01/2006"), report.To.Format("02/01/2006"))
	}
	report.Rows = len(doc.Readings)

	var buf bytes.Buffer
	switch format {
	case "pdf":
		charts, err := utils.RenderReadingCharts(doc.Readings, s.cfg.Location)
		if err != nil {
			s.logger.Warn("skipping charts in PDF", "error", err)
			charts = nil
		}
		err = utils.WritePDF(&buf, doc, charts)
		if err != nil {
			return nil, err
		}
	case "xlsx":
		if err := utils.WriteExcel(&buf, doc); err != nil {
			return nil, fmt.Errorf("failed to write xlsx: %w", err)
		}
	case "csv":
		if err := utils.WriteCSV(&buf, doc); err != nil {
			return nil, fmt.Errorf("failed to write csv: %w", err)
		}
	}
	report.Data = buf.Bytes()

	s.metrics.ReportGenerated(format)
	s.logger.Info("report generated",
		"format", format,
		"rows", report.Rows,
		"loaded", len(readings),
		"bytes", len(report.Data),
	)
	return report, nil
}

func (s *reportService) filename(format string) string {
	name := s.cfg.Filename
	return strings.TrimSuffix(name, filepath.Ext(name)) + "." + format
}
