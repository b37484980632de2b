package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"thermowatch/internal/models"
)

// ReadingQuery describes one read against the hosted table. Rows are always
// ordered by id descending; From/To are only applied when both are set.
type ReadingQuery struct {
	Limit int       `json:"limit"`
	From  time.Time `json:"from,omitempty"`
	To    time.Time `json:"to,omitempty"`
}

// Bounded reports whether the query carries a created_at range.
func (q ReadingQuery) Bounded() bool {
	return !q.From.IsZero() && !q.To.IsZero()
}

type ReadingsClient interface {
	FetchReadings(ctx context.Context, q ReadingQuery) ([]models.Reading, error)
	SourceURL() string
}

type ReadingsConfig struct {
	BaseURL           string
	APIKey            string
	Table             string
	TemperatureColumn string
	HumidityColumn    string
	Timeout           time.Duration
}

type readingsClient struct {
	cfg        ReadingsConfig
	httpClient *http.Client
}

func NewReadingsClient(config ReadingsConfig) ReadingsClient {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &readingsClient{
		cfg: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

func (c *readingsClient) SourceURL() string {
	return fmt.Sprintf("%s/rest/v1/%s", c.cfg.BaseURL, c.cfg.Table)
}

// Params builds the PostgREST query string for q.
func (c *readingsClient) Params(q ReadingQuery) url.Values {
	params := url.Values{}
	params.Set("select", "*")
	params.Set("order", "id.desc")
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Bounded() {
		params.Add("created_at", "gte."+q.From.UTC().Format(time.RFC3339Nano))
		params.Add("created_at", "lte."+q.To.UTC().Format(time.RFC3339Nano))
	}
	return params
}

func (c *readingsClient) FetchReadings(ctx context.Context, q ReadingQuery) ([]models.Reading, error) {
	reqURL := c.SourceURL() + "?" + c.Params(q).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", "thermowatch/1.0")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("apikey", c.cfg.APIKey)
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("readings API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var rows []map[string]interface{}
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}

	readings := make([]models.Reading, 0, len(rows))
	for i, row := range rows {
		r, err := c.toReading(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		readings = append(readings, r)
	}
	return readings, nil
}

func (c *readingsClient) toReading(row map[string]interface{}) (models.Reading, error) {
	id, err := extractID(row, "id")
	if err != nil {
		return models.Reading{}, err
	}
	raw, _ := row["created_at"].(string)
	createdAt, err := ParseTimestamp(raw)
	if err != nil {
		return models.Reading{}, fmt.Errorf("id %d: %w", id, err)
	}
	temperature, _ := extractFloat(row, c.cfg.TemperatureColumn)
	humidity, _ := extractFloat(row, c.cfg.HumidityColumn)

	return models.Reading{
		ID:          id,
		CreatedAt:   createdAt,
		Temperature: temperature,
		Humidity:    humidity,
	}, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses created_at values as returned by PostgREST for both
// timestamptz and timestamp columns. Values without an offset are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("missing created_at")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised created_at %q", s)
}

// extractID reads a bigint column without a float64 round trip.
func extractID(data map[string]interface{}, key string) (int64, error) {
	val, ok := data[key]
	if !ok || val == nil {
		return 0, fmt.Errorf("missing %s", key)
	}
	var (
		id  int64
		err error
	)
	switch v := val.(type) {
	case json.Number:
		id, err = v.Int64()
	case string:
		id, err = strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	case float64:
		if v != float64(int64(v)) {
			err = fmt.Errorf("not an integer")
		}
		id = int64(v)
	default:
		err = fmt.Errorf("unexpected type %T", val)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid %s %v: %w", key, val, err)
	}
	return id, nil
}

func extractFloat(data map[string]interface{}, key string) (float64, bool) {
	val, ok := data[key]
	if !ok || val == nil {
		return 0, false
	}
	switch v := val.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}
