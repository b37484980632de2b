package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"gorm.io/datatypes"

	"thermowatch/internal/clients"
	"thermowatch/internal/metrics"
	"thermowatch/internal/models"
	"thermowatch/internal/publisher"
	"thermowatch/internal/repository"
)

const (
	snapshotCacheKey = "thermowatch:snapshot"
	pollCounterKey   = "thermowatch:polls"
)

// ErrArchiveDisabled is returned by archive queries when no database is configured.
var ErrArchiveDisabled = errors.New("reading archive is disabled")

// FetchResult is the outcome of one request against the remote table.
// Err is nil on success; on failure Readings is empty and the dashboard
// keeps showing what it had before.
type FetchResult struct {
	Readings  []models.Reading     `json:"readings"`
	Count     int                  `json:"count"`
	Query     clients.ReadingQuery `json:"query"`
	FetchedAt time.Time            `json:"fetched_at"`
	Duration  time.Duration        `json:"duration"`
	Applied   bool                 `json:"applied"`
	Err       error                `json:"-"`
}

func (r FetchResult) OK() bool { return r.Err == nil }

// Counters are process-wide poller totals.
type Counters struct {
	Polls            int64 `json:"polls"`
	PublishedThrough int64 `json:"published_through"`
}

type ReadingService interface {
	Refresh(ctx context.Context) FetchResult
	SetRange(ctx context.Context, start, end string) (FetchResult, error)
	Tick(ctx context.Context) error
	Snapshot() models.Snapshot
	Latest() (models.Reading, bool)
	WarmStart(ctx context.Context) error
	History(ctx context.Context, from, to time.Time, limit int) ([]models.Reading, error)
	PruneArchive(ctx context.Context) (int64, error)
	Counters(ctx context.Context) (Counters, error)
}

type ReadingServiceConfig struct {
	Limit       int
	Location    *time.Location
	ClockFormat string
	SnapshotTTL time.Duration
	Retention   time.Duration
	Now         func() time.Time
}

type readingService struct {
	client    clients.ReadingsClient
	archive   repository.ReadingRepository
	pollLogs  repository.PollLogRepository
	cacheRepo repository.CacheRepository
	publisher publisher.Publisher
	tracker   *publisher.Tracker
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       ReadingServiceConfig

	mu    sync.RWMutex
	state models.Snapshot
}

// NewReadingService wires the poller. archive and pollLogs may be nil when
// the database is disabled.
func NewReadingService(
	client clients.ReadingsClient,
	archive repository.ReadingRepository,
	pollLogs repository.PollLogRepository,
	cacheRepo repository.CacheRepository,
	pub publisher.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
	config ReadingServiceConfig,
) ReadingService {
	if config.Limit <= 0 {
		config.Limit = 10
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.ClockFormat == "" {
		config.ClockFormat = "15:04:05"
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if cacheRepo == nil {
		cacheRepo = repository.NewMemoryCacheRepository()
	}
	if pub == nil {
		pub = publisher.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &readingService{
		client:    client,
		archive:   archive,
		pollLogs:  pollLogs,
		cacheRepo: cacheRepo,
		publisher: pub,
		tracker:   publisher.NewTracker(0),
		metrics:   m,
		logger:    logger.With("component", "poller"),
		cfg:       config,
	}
	s.state.Readings = []models.Reading{}
	s.state.Clock = s.clock()
	return s
}

func (s *readingService) Refresh(ctx context.Context) FetchResult {
	s.mu.RLock()
	rng := s.state.Range
	s.mu.RUnlock()

	return s.fetch(ctx, rng)
}

// SetRange stores the picker values and immediately re-requests rows bounded
// by them. Empty values clear the range.
func (s *readingService) SetRange(ctx context.Context, start, end string) (FetchResult, error) {
	rng := models.TimeRange{
		Start: strings.TrimSpace(start),
		End:   strings.TrimSpace(end),
	}
	if _, _, _, err := parseRange(rng, s.cfg.Location); err != nil {
		return FetchResult{}, err
	}

	s.mu.Lock()
	s.state.Range = rng
	s.mu.Unlock()

	s.logger.Info("range updated", "start", rng.Start, "end", rng.End)
	return s.fetch(ctx, rng), nil
}

func (s *readingService) Tick(ctx context.Context) error {
	clock := s.clock()
	s.mu.Lock()
	s.state.Clock = clock
	s.mu.Unlock()

	return s.Refresh(ctx).Err
}

func (s *readingService) Snapshot() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyState()
}

func (s *readingService) Latest() (models.Reading, bool) {
	return s.Snapshot().Latest()
}

// WarmStart seeds the state from the cached snapshot, falling back to the
// newest archived rows. Readings restored here are not republished.
func (s *readingService) WarmStart(ctx context.Context) error {
	var snap models.Snapshot
	found, err := s.cacheRepo.GetJSON(ctx, snapshotCacheKey, &snap)
	if err != nil {
		s.logger.Warn("dropping unreadable cached snapshot", "error", err)
		if err := s.cacheRepo.Delete(ctx, snapshotCacheKey); err != nil {
			s.logger.Warn("failed to delete cached snapshot", "error", err)
		}
	}

	if !found && s.archive != nil {
		readings, err := s.archive.GetLatest(ctx, s.cfg.Limit)
		if err != nil {
			return fmt.Errorf("failed to load archived readings: %w", err)
		}
		snap = models.Snapshot{Readings: readings}
		if len(readings) > 0 {
			snap.FetchedAt = readings[0].ArchivedAt
		}
	}

	if snap.Readings == nil {
		snap.Readings = []models.Reading{}
	}
	if _, _, _, err := parseRange(snap.Range, s.cfg.Location); err != nil {
		snap.Range = models.TimeRange{}
	}

	s.tracker.Commit(snap.Readings)

	s.mu.Lock()
	s.state.Readings = snap.Readings
	s.state.Range = snap.Range
	s.state.FetchedAt = snap.FetchedAt
	s.mu.Unlock()

	s.logger.Info("warm start", "from_cache", found, "readings", len(snap.Readings))
	return nil
}

// Counters reports the successful poll count kept in the cache and the
// highest reading id accepted by the publisher.
func (s *readingService) Counters(ctx context.Context) (Counters, error) {
	c := Counters{PublishedThrough: s.tracker.LastID()}
	raw, err := s.cacheRepo.Get(ctx, pollCounterKey)
	if err != nil {
		return c, fmt.Errorf("failed to read poll counter: %w", err)
	}
	if raw == "" {
		return c, nil
	}
	if c.Polls, err = strconv.ParseInt(raw, 10, 64); err != nil {
		return c, fmt.Errorf("poll counter %q: %w", raw, err)
	}
	return c, nil
}

func (s *readingService) History(ctx context.Context, from, to time.Time, limit int) ([]models.Reading, error) {
	if s.archive == nil {
		return nil, ErrArchiveDisabled
	}

	now := s.cfg.Now().UTC()
	if to.IsZero() {
		to = now
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}

	maxRange := 30 * 24 * time.Hour
	if to.Sub(from) > maxRange {
		from = to.Add(-maxRange)
	}

	return s.archive.GetByDateRange(ctx, from, to, limit)
}

func (s *readingService) PruneArchive(ctx context.Context) (int64, error) {
	if s.archive == nil || s.cfg.Retention <= 0 {
		return 0, nil
	}

	cutoff := s.cfg.Now().UTC().Add(-s.cfg.Retention)
	deleted, err := s.archive.DeleteOld(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune readings: %w", err)
	}
	if s.pollLogs != nil {
		if _, err := s.pollLogs.DeleteOld(ctx, cutoff); err != nil {
			return deleted, fmt.Errorf("failed to prune poll logs: %w", err)
		}
	}

	s.logger.Info("archive pruned", "cutoff", cutoff, "deleted", deleted)
	return deleted, nil
}

func (s *readingService) fetch(ctx context.Context, rng models.TimeRange) FetchResult {
	query := clients.ReadingQuery{Limit: s.cfg.Limit}
	start := s.cfg.Now()
	res := FetchResult{Query: query, FetchedAt: start, Readings: []models.Reading{}}

	from, to, bounded, err := parseRange(rng, s.cfg.Location)
	if err != nil {
		res.Err = err
		s.recordFailure(ctx, res)
		return res
	}
	if bounded {
		query.From, query.To = from, to
		res.Query = query
	}

	began := time.Now()
	readings, err := s.client.FetchReadings(ctx, query)
	res.Duration = time.Since(began)
	s.metrics.PollCompleted(res.Duration, err)
	if err != nil {
		res.Err = fmt.Errorf("failed to fetch readings: %w", err)
		s.recordFailure(ctx, res)
		return res
	}
	if readings == nil {
		readings = []models.Reading{}
	}
	res.Readings = readings
	res.Count = len(readings)

	s.mu.Lock()
	// A fetch issued before the range changed must not overwrite rows for
	// the new range.
	if s.state.Range == rng {
		s.state.Readings = append([]models.Reading(nil), readings...)
		s.state.FetchedAt = start
		s.state.LastAttempt = start
		s.state.LastError = ""
		res.Applied = true
	}
	snap := s.copyState()
	s.mu.Unlock()

	if !res.Applied {
		s.logger.Debug("discarding fetch for stale range", "start", rng.Start, "end", rng.End)
		return res
	}

	s.afterFetch(ctx, snap, res)
	return res
}

func (s *readingService) recordFailure(ctx context.Context, res FetchResult) {
	s.mu.Lock()
	s.state.LastAttempt = res.FetchedAt
	s.state.LastError = res.Err.Error()
	s.mu.Unlock()

	s.logger.Warn("fetch failed, keeping previous readings", "error", res.Err)
	s.writePollLog(ctx, res)
}

// afterFetch runs the side effects of a successful fetch. Failures are
// logged and never touch the dashboard state.
func (s *readingService) afterFetch(ctx context.Context, snap models.Snapshot, res FetchResult) {
	latest, _ := snap.Latest()
	s.metrics.ReadingsLoaded(len(snap.Readings), latest.Temperature, latest.Humidity)

	if err := s.cacheRepo.SetJSON(ctx, snapshotCacheKey, snap, s.cfg.SnapshotTTL); err != nil {
		s.logger.Warn("failed to cache snapshot", "error", err)
	}
	if _, err := s.cacheRepo.Increment(ctx, pollCounterKey); err != nil {
		s.logger.Debug("failed to bump poll counter", "error", err)
	}

	if s.archive != nil {
		if inserted, err := s.archive.Upsert(ctx, res.Readings); err != nil {
			s.logger.Warn("failed to archive readings", "error", err)
		} else if inserted > 0 {
			s.logger.Debug("archived readings", "inserted", inserted)
		}
	}

	if pending := s.tracker.Pending(res.Readings); len(pending) > 0 {
		if err := s.publisher.Publish(ctx, pending); err != nil {
			s.metrics.PublishFailed()
			s.logger.Warn("failed to publish readings, will retry next poll",
				"backend", s.publisher.Name(), "pending", len(pending), "error", err)
		} else {
			s.tracker.Commit(pending)
			s.logger.Debug("published readings", "backend", s.publisher.Name(),
				"count", len(pending), "last_id", s.tracker.LastID())
		}
	}

	s.writePollLog(ctx, res)
	s.logger.Debug("readings refreshed", "count", res.Count, "took", res.Duration)
}

func (s *readingService) writePollLog(ctx context.Context, res FetchResult) {
	if s.pollLogs == nil {
		return
	}

	query, err := json.Marshal(res.Query)
	if err != nil {
		query = []byte("{}")
	}
	entry := &models.PollLog{
		FetchedAt: res.FetchedAt.UTC(),
		SourceURL: s.client.SourceURL(),
		Success:   res.Err == nil,
		Rows:      res.Count,
		Query:     datatypes.JSON(query),
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}

	if err := s.pollLogs.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to write poll log", "error", err)
	}
}

func (s *readingService) copyState() models.Snapshot {
	snap := s.state
	snap.Readings = append(make([]models.Reading, 0, len(s.state.Readings)), s.state.Readings...)
	return snap
}

func (s *readingService) clock() string {
	return s.cfg.Now().In(s.cfg.Location).Format(s.cfg.ClockFormat)
}
