package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"thermowatch/internal/clients"
	"thermowatch/internal/metrics"
	"thermowatch/internal/models"
	"thermowatch/internal/repository"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeClient struct {
	mu      sync.Mutex
	queries []clients.ReadingQuery
	fetch   func(ctx context.Context, q clients.ReadingQuery) ([]models.Reading, error)
}

func (f *fakeClient) FetchReadings(ctx context.Context, q clients.ReadingQuery) ([]models.Reading, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	fetch := f.fetch
	f.mu.Unlock()
	return fetch(ctx, q)
}

func (f *fakeClient) SourceURL() string { return "https://db.example/rest/v1/suhu" }

func (f *fakeClient) respond(readings []models.Reading, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetch = func(context.Context, clients.ReadingQuery) ([]models.Reading, error) {
		return readings, err
	}
}

func (f *fakeClient) lastQuery() clients.ReadingQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[len(f.queries)-1]
}

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type fakePublisher struct {
	mu       sync.Mutex
	err      error
	attempts int
	batches  [][]models.Reading
}

func (p *fakePublisher) Publish(_ context.Context, readings []models.Reading) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, readings)
	return nil
}

func (p *fakePublisher) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}
func (p *fakePublisher) Name() string { return "fake" }
func (p *fakePublisher) Close() error { return nil }

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func testConfig() ReadingServiceConfig {
	return ReadingServiceConfig{
		Limit:       10,
		Location:    time.UTC,
		ClockFormat: "15:04:05",
		SnapshotTTL: time.Minute,
		Retention:   24 * time.Hour,
		Now:         func() time.Time { return fixedNow },
	}
}

func batch(ids ...int64) []models.Reading {
	out := make([]models.Reading, len(ids))
	for i, id := range ids {
		out[i] = models.Reading{
			ID:          id,
			CreatedAt:   fixedNow.Add(-time.Duration(100-id) * time.Minute),
			Temperature: 20 + float64(id)/10,
			Humidity:    60 + float64(id)/10,
		}
	}
	return out
}

func newArchiveDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "archive.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Reading{}, &models.PollLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestRefresh_NoRangeRequestsLatestTen(t *testing.T) {
	client := &fakeClient{}
	client.respond(batch(12, 11, 10), nil)
	svc := NewReadingService(client, nil, nil, nil, nil, nil, quiet, testConfig())

	res := svc.Refresh(context.Background())
	if !res.OK() || !res.Applied {
		t.Fatalf("Refresh() = %+v, want applied success", res)
	}

	q := client.lastQuery()
	if q.Limit != 10 || q.Bounded() {
		t.Errorf("query = %+v, want limit 10 without range", q)
	}

	snap := svc.Snapshot()
	if got := readingIDs(snap.Readings); len(got) != 3 || got[0] != 12 || got[2] != 10 {
		t.Errorf("snapshot ids = %v, want query order [12 11 10]", got)
	}
	if !snap.FetchedAt.Equal(fixedNow) || snap.LastError != "" {
		t.Errorf("snapshot meta = %v / %q", snap.FetchedAt, snap.LastError)
	}

	latest, ok := svc.Latest()
	if !ok || latest.ID != 12 {
		t.Errorf("Latest() = %v, %v; want id 12", latest.ID, ok)
	}
}

func TestSetRange_RequeriesBoundedRows(t *testing.T) {
	client := &fakeClient{}
	client.respond(batch(5), nil)
	svc := NewReadingService(client, nil, nil, nil, nil, nil, quiet, testConfig())

	res, err := svc.SetRange(context.Background(), "2024-05-01T08:00", " 2024-05-02T17:30 ")
	if err != nil {
		t.Fatalf("SetRange() error = %v", err)
	}
	if !res.OK() || client.calls() != 1 {
		t.Fatalf("SetRange() did not fetch: %+v, calls=%d", res, client.calls())
	}

	q := client.lastQuery()
	if !q.Bounded() {
		t.Fatalf("query = %+v, want bounded", q)
	}
	if want := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC); !q.From.Equal(want) {
		t.Errorf("query.From = %v, want %v", q.From, want)
	}
	if want := time.Date(2024, 5, 2, 17, 30, 0, 0, time.UTC); !q.To.Equal(want) {
		t.Errorf("query.To = %v, want %v", q.To, want)
	}

	if rng := svc.Snapshot().Range; rng.Start != "2024-05-01T08:00" || rng.End != "2024-05-02T17:30" {
		t.Errorf("Range = %+v", rng)
	}

	// Later polls keep using the stored range.
	svc.Refresh(context.Background())
	if !client.lastQuery().Bounded() {
		t.Error("poll after SetRange dropped the range")
	}

	// Clearing the range goes back to the unbounded query.
	if _, err := svc.SetRange(context.Background(), "", ""); err != nil {
		t.Fatalf("SetRange(clear) error = %v", err)
	}
	if client.lastQuery().Bounded() {
		t.Error("cleared range still bounded")
	}
}

func TestSetRange_OneSidedIsUnbounded(t *testing.T) {
	client := &fakeClient{}
	client.respond(batch(1), nil)
	svc := NewReadingService(client, nil, nil, nil, nil, nil, quiet, testConfig())

	if _, err := svc.SetRange(context.Background(), "2024-05-01T08:00", ""); err != nil {
		t.Fatalf("SetRange() error = %v", err)
	}
	if client.lastQuery().Bounded() {
		t.Error("range with one side set should not filter")
	}
}

func TestSetRange_InvalidDate(t *testing.T) {
	client := &fakeClient{}
	client.respond(batch(1), nil)
	svc := NewReadingService(client, nil, nil, nil, nil, nil, quiet, testConfig())

	_, err := svc.SetRange(context.Background(), "yesterday", "2024-05-02")
	if !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("SetRange() error = %v, want ErrInvalidDate", err)
	}
	if client.calls() != 0 {
		t.Error("invalid range triggered a fetch")
	}
	if svc.Snapshot().Range.IsSet() {
		t.Error("invalid range was stored")
	}
}

func TestRefresh_FailureKeepsPreviousReadings(t *testing.T) {
	client := &fakeClient{}
	client.respond(batch(3, 2, 1), nil)
	svc := NewReadingService(client, nil, nil, nil, nil, nil, quiet, testConfig())
	svc.Refresh(context.Background())

	client.respond(nil, errors.New("connection refused"))
	res := svc.Refresh(context.Background())
	if res.OK() || res.Applied {
		t.Fatalf("Refresh() = %+v, want failure", res)
	}

	snap := svc.Snapshot()
	if got := readingIDs(snap.Readings); len(got) != 3 || got[0] != 3 {
		t.Errorf("readings after failure = %v, want unchanged [3 2 1]", got)
	}
	if snap.LastError == "" {
		t.Error("LastError not surfaced")
	}

	if err := svc.Tick(context.Background()); err == nil {
		t.Error("Tick() error = nil, want fetch error")
	}

	client.respond(batch(4), nil)
	svc.Refresh(context.Background())
	if snap := svc.Snapshot(); snap.LastError != "" || len(snap.Readings) != 1 {
		t.Errorf("success did not replace state: %+v", snap)
	}
}

func TestRefresh_EmptyResultReplacesState(t *testing.T) {
	client := &fakeClient{}
	client.respond(batch(3, 2, 1), nil)
	svc := NewReadingService(client, nil, nil, nil, nil, nil, quiet, testConfig())
	svc.Refresh(context.Background())

	client.respond(nil, nil)
	svc.Refresh(context.Background())
	if snap := svc.Snapshot(); len(snap.Readings) != 0 {
		t.Errorf("readings = %v, want empty after empty fetch", readingIDs(snap.Readings))
	}
	if _, ok := svc.Latest(); ok {
		t.Error("Latest() ok = true on empty state")
	}
}

func TestFetch_StaleRangeIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	client := &fakeClient{}
	client.fetch = func(ctx context.Context, q clients.ReadingQuery) ([]models.Reading, error) {
		if !q.Bounded() {
			close(started)
			<-release
			return batch(99), nil
		}
		return batch(7), nil
	}
	svc := NewReadingService(client, nil, nil, nil, nil, nil, quiet, testConfig())

	done := make(chan FetchResult)
	go func() { done <- svc.Refresh(context.Background()) }()
	<-started

	if _, err := svc.SetRange(context.Background(), "2024-05-01", "2024-05-02"); err != nil {
		t.Fatalf("SetRange() error = %v", err)
	}
	close(release)

	if res := <-done; res.Applied {
		t.Error("fetch for the old range was applied")
	}
	if got := readingIDs(svc.Snapshot().Readings); len(got) != 1 || got[0] != 7 {
		t.Errorf("readings = %v, want ranged result [7]", got)
	}
}

func TestTick_UpdatesClock(t *testing.T) {
	now := fixedNow
	cfg := testConfig()
	cfg.Now = func() time.Time { return now }
	client := &fakeClient{}
	client.respond(batch(1), nil)
	svc := NewReadingService(client, nil, nil, nil, nil, nil, quiet, cfg)

	if got := svc.Snapshot().Clock; got != "10:00:00" {
		t.Errorf("initial Clock = %q", got)
	}

	now = fixedNow.Add(5 * time.Second)
	if err := svc.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if got := svc.Snapshot().Clock; got != "10:00:05" {
		t.Errorf("Clock after tick = %q, want 10:00:05", got)
	}
}

func TestRefresh_SideEffects(t *testing.T) {
	ctx := context.Background()
	db := newArchiveDB(t)
	archive := repository.NewReadingRepository(db)
	pollLogs := repository.NewPollLogRepository(db)
	cache := repository.NewMemoryCacheRepository()
	pub := &fakePublisher{}

	client := &fakeClient{}
	client.respond(batch(3, 2, 1), nil)
	svc := NewReadingService(client, archive, pollLogs, cache, pub, metrics.New(), quiet, testConfig())

	svc.Refresh(ctx)
	svc.Refresh(ctx)

	if n, _ := archive.Count(ctx); n != 3 {
		t.Errorf("archived = %d, want 3", n)
	}
	if n, _ := pollLogs.Count(ctx); n != 2 {
		t.Errorf("poll logs = %d, want 2", n)
	}

	var cached models.Snapshot
	if found, err := cache.GetJSON(ctx, snapshotCacheKey, &cached); err != nil || !found || len(cached.Readings) != 3 {
		t.Errorf("cached snapshot = %+v, found=%v err=%v", cached, found, err)
	}

	if len(pub.batches) != 1 {
		t.Fatalf("published %d batches, want 1 (repeat rows are not republished)", len(pub.batches))
	}
	if got := readingIDs(pub.batches[0]); got[0] != 1 || got[2] != 3 {
		t.Errorf("published ids = %v, want oldest first", got)
	}

	counters, err := svc.Counters(ctx)
	if err != nil || counters.Polls != 2 || counters.PublishedThrough != 3 {
		t.Errorf("Counters() = %+v, %v; want 2 polls through id 3", counters, err)
	}

	client.respond(nil, errors.New("timeout"))
	svc.Refresh(ctx)
	last, err := pollLogs.GetLast(ctx)
	if err != nil || last.Success || last.Error == "" {
		t.Errorf("last poll log = %+v, %v; want recorded failure", last, err)
	}
}

func TestRefresh_PublishFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	pub.fail(errors.New("broker down"))

	client := &fakeClient{}
	client.respond(batch(3, 2, 1), nil)
	svc := NewReadingService(client, nil, nil, nil, pub, metrics.New(), quiet, testConfig())

	svc.Refresh(ctx)
	if pub.attempts != 1 || len(pub.batches) != 0 {
		t.Fatalf("attempts=%d batches=%d, want one failed attempt", pub.attempts, len(pub.batches))
	}

	pub.fail(nil)
	client.respond(batch(4, 3, 2, 1), nil)
	svc.Refresh(ctx)
	if len(pub.batches) != 1 {
		t.Fatalf("published %d batches after recovery, want 1", len(pub.batches))
	}
	if got := readingIDs(pub.batches[0]); len(got) != 4 || got[0] != 1 || got[3] != 4 {
		t.Errorf("republished ids = %v, want [1 2 3 4]", got)
	}

	svc.Refresh(ctx)
	if len(pub.batches) != 1 {
		t.Errorf("published %d batches, want committed ids skipped", len(pub.batches))
	}
}

func TestWarmStart(t *testing.T) {
	ctx := context.Background()
	cache := repository.NewMemoryCacheRepository()
	client := &fakeClient{}
	client.respond(batch(3, 2, 1), nil)

	first := NewReadingService(client, nil, nil, cache, nil, nil, quiet, testConfig())
	if _, err := first.SetRange(ctx, "2024-05-01", "2024-05-02"); err != nil {
		t.Fatalf("SetRange() error = %v", err)
	}

	pub := &fakePublisher{}
	second := NewReadingService(client, nil, nil, cache, pub, nil, quiet, testConfig())
	if err := second.WarmStart(ctx); err != nil {
		t.Fatalf("WarmStart() error = %v", err)
	}

	snap := second.Snapshot()
	if len(snap.Readings) != 3 || snap.Range.Start != "2024-05-01" {
		t.Errorf("warm snapshot = %+v", snap)
	}

	second.Refresh(ctx)
	if len(pub.batches) != 0 {
		t.Errorf("restored readings were republished: %v", pub.batches)
	}
}

func TestWarmStart_DropsUnreadableSnapshot(t *testing.T) {
	ctx := context.Background()
	cache := repository.NewMemoryCacheRepository()
	if err := cache.SetJSON(ctx, snapshotCacheKey, "not a snapshot", time.Minute); err != nil {
		t.Fatalf("SetJSON() error = %v", err)
	}

	svc := NewReadingService(&fakeClient{}, nil, nil, cache, nil, nil, quiet, testConfig())
	if err := svc.WarmStart(ctx); err != nil {
		t.Fatalf("WarmStart() error = %v", err)
	}

	var snap models.Snapshot
	if found, err := cache.GetJSON(ctx, snapshotCacheKey, &snap); found || err != nil {
		t.Errorf("cached snapshot still present: found=%v err=%v", found, err)
	}
	if got := svc.Snapshot().Readings; len(got) != 0 {
		t.Errorf("readings = %v, want none", readingIDs(got))
	}
}

func TestWarmStart_FromArchive(t *testing.T) {
	ctx := context.Background()
	archive := repository.NewReadingRepository(newArchiveDB(t))
	if _, err := archive.Upsert(ctx, batch(2, 1)); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	svc := NewReadingService(&fakeClient{}, archive, nil, repository.NewMemoryCacheRepository(), nil, nil, quiet, testConfig())
	if err := svc.WarmStart(ctx); err != nil {
		t.Fatalf("WarmStart() error = %v", err)
	}
	if got := readingIDs(svc.Snapshot().Readings); len(got) != 2 || got[0] != 2 {
		t.Errorf("readings = %v, want [2 1]", got)
	}
}

func TestHistoryAndPrune(t *testing.T) {
	ctx := context.Background()

	noArchive := NewReadingService(&fakeClient{}, nil, nil, nil, nil, nil, quiet, testConfig())
	if _, err := noArchive.History(ctx, time.Time{}, time.Time{}, 10); !errors.Is(err, ErrArchiveDisabled) {
		t.Errorf("History() without archive error = %v", err)
	}
	if n, err := noArchive.PruneArchive(ctx); n != 0 || err != nil {
		t.Errorf("PruneArchive() without archive = %d, %v", n, err)
	}

	db := newArchiveDB(t)
	archive := repository.NewReadingRepository(db)
	old := models.Reading{ID: 1, CreatedAt: fixedNow.Add(-48 * time.Hour), Temperature: 20, Humidity: 50}
	recent := models.Reading{ID: 2, CreatedAt: fixedNow.Add(-time.Hour), Temperature: 21, Humidity: 51}
	if _, err := archive.Upsert(ctx, []models.Reading{recent, old}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	svc := NewReadingService(&fakeClient{}, archive, repository.NewPollLogRepository(db), nil, nil, nil, quiet, testConfig())

	history, err := svc.History(ctx, time.Time{}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if got := readingIDs(history); len(got) != 1 || got[0] != 2 {
		t.Errorf("History(last 24h) = %v, want [2]", got)
	}

	deleted, err := svc.PruneArchive(ctx)
	if err != nil || deleted != 1 {
		t.Errorf("PruneArchive() = %d, %v; want 1", deleted, err)
	}
}
