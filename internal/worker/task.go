package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PeriodicTask runs Run every Interval until stopped. Each run gets its own
// context bounded by Timeout; the context is also cancelled by Stop.
type PeriodicTask struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool
	Timeout    time.Duration
	Run        func(ctx context.Context) error
	Logger     *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	status  TaskStatus
}

// TaskStatus is a point-in-time view of a task's run history.
type TaskStatus struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	Running   bool          `json:"running"`
	Runs      int64         `json:"runs"`
	Failures  int64         `json:"failures"`
	LastRun   time.Time     `json:"last_run,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

func (t *PeriodicTask) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	t.running = true

	t.logger().Info("task started", "interval", t.Interval, "run_on_start", t.RunOnStart)
	go t.loop(ctx, t.done)
}

func (t *PeriodicTask) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	cancel()
	<-done
	t.logger().Info("task stopped")
}

func (t *PeriodicTask) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.status
	s.Name = t.Name
	s.Interval = t.Interval
	s.Running = t.running
	return s
}

func (t *PeriodicTask) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	if t.RunOnStart {
		t.runOnce(ctx)
	}

	for {
		select {
		case <-ticker.C:
			t.runOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (t *PeriodicTask) runOnce(parent context.Context) {
	ctx := parent
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, t.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := t.Run(ctx)

	t.mu.Lock()
	t.status.Runs++
	t.status.LastRun = start
	if err != nil {
		t.status.Failures++
		t.status.LastError = err.Error()
	} else {
		t.status.LastError = ""
	}
	t.mu.Unlock()

	if err != nil {
		t.logger().Warn("task run failed", "error", err, "took", time.Since(start))
		return
	}
	t.logger().Debug("task run completed", "took", time.Since(start))
}

func (t *PeriodicTask) logger() *slog.Logger {
	l := t.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("task", t.Name)
}
