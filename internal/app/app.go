package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"thermowatch/internal/clients"
	"thermowatch/internal/config"
	"thermowatch/internal/handlers"
	"thermowatch/internal/metrics"
	"thermowatch/internal/middleware"
	"thermowatch/internal/publisher"
	"thermowatch/internal/repository"
	"thermowatch/internal/service"
	"thermowatch/internal/views"
	"thermowatch/internal/worker"
	"thermowatch/pkg/database"
	redisx "thermowatch/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// App holds every long-lived component of the server.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	version   string
	startedAt time.Time

	db        *gorm.DB
	redis     *redis.Client
	metrics   *metrics.Metrics
	publisher publisher.Publisher
	limiter   *middleware.IPRateLimiter
	upstream  *rate.Limiter
	scheduler *worker.Scheduler

	archive  repository.ReadingRepository
	pollLogs repository.PollLogRepository
	readings service.ReadingService
	reports  service.ReportService
}

// New connects the optional stores and wires the services. An unreachable
// database or redis disables that store instead of failing startup.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string) (*App, error) {
	if cfg.Remote.URL == "" {
		return nil, errors.New("SUPABASE_URL is required")
	}

	a := &App{
		cfg:       cfg,
		logger:    logger,
		version:   version,
		startedAt: time.Now(),
		metrics:   metrics.New(),
		scheduler: worker.NewScheduler(logger.With("component", "scheduler")),
	}

	if cfg.DB.Enabled {
		if err := a.openArchive(); err != nil {
			logger.Warn("archive disabled", "error", err)
		}
	}

	cacheRepo := repository.NewMemoryCacheRepository()
	if cfg.Redis.Enabled {
		client, err := redisx.Connect(ctx, redisx.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, using in-memory cache", "error", err)
		} else {
			a.redis = client
			cacheRepo = repository.NewCacheRepository(client)
		}
	}

	pub, err := publisher.New(ctx, cfg, logger.With("component", "publisher"))
	if err != nil {
		logger.Warn("publisher disabled", "backend", cfg.Publisher.Backend, "error", err)
		pub = publisher.Noop{}
	}
	a.publisher = pub

	client := clients.NewReadingsClient(clients.ReadingsConfig{
		BaseURL:           cfg.Remote.URL,
		APIKey:            cfg.Remote.APIKey,
		Table:             cfg.Remote.Table,
		TemperatureColumn: cfg.Remote.TemperatureColumn,
		HumidityColumn:    cfg.Remote.HumidityColumn,
		Timeout:           cfg.Remote.Timeout,
	})

	a.readings = service.NewReadingService(client, a.archive, a.pollLogs, cacheRepo, pub, a.metrics, logger, service.ReadingServiceConfig{
		Limit:       cfg.Remote.Limit,
		Location:    cfg.Report.Location,
		ClockFormat: cfg.Report.ClockFormat,
		SnapshotTTL: cfg.Redis.SnapshotTTL,
		Retention:   cfg.DB.Retention,
	})
	a.reports = service.NewReportService(a.readings, a.metrics, logger, service.ReportConfig{
		Filename:   cfg.Report.Filename,
		Title:      cfg.Report.Title,
		TimeFormat: cfg.Report.TimeFormat,
		Location:   cfg.Report.Location,
	})

	if !cfg.App.Debug {
		a.limiter = middleware.NewIPRateLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
		a.upstream = rate.NewLimiter(rate.Limit(cfg.RateLimit.UpstreamPerSecond), cfg.RateLimit.UpstreamBurst)
	}

	a.registerTasks()
	return a, nil
}

func (a *App) openArchive() error {
	db, err := database.Connect(database.Config{
		Driver:     a.cfg.DB.Driver,
		Host:       a.cfg.DB.Host,
		Port:       a.cfg.DB.Port,
		User:       a.cfg.DB.User,
		Password:   a.cfg.DB.Password,
		DBName:     a.cfg.DB.DBName,
		SSLMode:    a.cfg.DB.SSLMode,
		SQLitePath: a.cfg.DB.SQLitePath,
		Debug:      a.cfg.App.Debug,
	}, a.logger)
	if err != nil {
		return err
	}
	if err := database.Migrate(db, a.logger); err != nil {
		closeDB(db)
		return err
	}

	a.db = db
	a.archive = repository.NewReadingRepository(db)
	a.pollLogs = repository.NewPollLogRepository(db)
	return nil
}

func (a *App) registerTasks() {
	if a.cfg.Workers.PollEnabled {
		a.scheduler.AddWorker(&worker.PeriodicTask{
			Name:       "poll-readings",
			Interval:   a.cfg.Workers.PollInterval,
			RunOnStart: true,
			Timeout:    a.cfg.Remote.Timeout,
			Run:        a.readings.Tick,
			Logger:     a.logger,
		})
		a.logger.Info("poll worker enabled", "interval", a.cfg.Workers.PollInterval)
	}

	if a.cfg.Workers.PruneEnabled && a.archive != nil {
		a.scheduler.AddWorker(&worker.PeriodicTask{
			Name:     "prune-archive",
			Interval: a.cfg.Workers.PruneInterval,
			Timeout:  time.Minute,
			Run: func(ctx context.Context) error {
				_, err := a.readings.PruneArchive(ctx)
				return err
			},
			Logger: a.logger,
		})
		a.logger.Info("prune worker enabled", "interval", a.cfg.Workers.PruneInterval, "retention", a.cfg.DB.Retention)
	}

	if a.limiter != nil {
		a.scheduler.AddWorker(&worker.PeriodicTask{
			Name:     "limiter-cleanup",
			Interval: time.Minute,
			Run: func(context.Context) error {
				if n := a.limiter.Cleanup(10 * time.Minute); n > 0 {
					a.logger.Debug("forgot idle clients", "count", n)
				}
				return nil
			},
			Logger: a.logger,
		})
	}
}

// Router builds the HTTP handler tree.
func (a *App) Router() (*gin.Engine, error) {
	if err := views.LoadTemplates(); err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	return NewRouter(RouterDeps{
		Readings: handlers.NewReadingHandler(a.readings, a.reports, a.cfg.Report.Location),
		Dashboard: handlers.NewDashboardHandler(a.readings, views.DashboardOptions{
			Location:     a.cfg.Report.Location,
			ClockFormat:  a.cfg.Report.ClockFormat,
			TimeFormat:   a.cfg.Report.TimeFormat,
			PollInterval: a.cfg.Workers.PollInterval,
			ExportPath:   "/api/v1/readings/export",
			RangePath:    "/range",
			LivePath:     "/live",
		}, a.logger),
		System: handlers.NewSystemHandler(handlers.SystemDeps{
			Readings:  a.readings,
			Archive:   a.archive,
			PollLogs:  a.pollLogs,
			Redis:     a.redis,
			Tasks:     a.scheduler,
			Version:   a.version,
			StartedAt: a.startedAt,
			Logger:    a.logger,
		}),
		Metrics:     a.metrics,
		Limiter:     a.limiter,
		Upstream:    a.upstream,
		FrontendURL: a.cfg.App.FrontendURL,
		Logger:      a.logger,
	}), nil
}

// Run serves HTTP and runs the scheduled tasks until ctx is cancelled or
// the listener fails.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.App.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router, err := a.Router()
	if err != nil {
		return err
	}

	if err := a.readings.WarmStart(ctx); err != nil {
		a.logger.Warn("warm start failed", "error", err)
	}

	server := &http.Server{
		Addr:         ":" + a.cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("server starting", "addr", server.Addr, "dashboard", "http://localhost:"+a.cfg.App.Port+"/")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.scheduler.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	a.logger.Info("server exited")
	return err
}

// Close releases the stores and the publisher.
func (a *App) Close() {
	if err := a.publisher.Close(); err != nil {
		a.logger.Warn("failed to close publisher", "error", err)
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", "error", err)
		}
	}
	if a.db != nil {
		closeDB(a.db)
	}
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

const rangeLayout = "2006-01-02T15:04:05.000"

// Export fetches the readings of the requested days and renders them without
// starting the server. With no complete range the latest rows are used.
func (a *App) Export(ctx context.Context, req service.ExportRequest) (*service.Report, error) {
	loc := a.cfg.Report.Location
	start, startSet, err := service.ParseBoundary(req.Start, loc)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	end, endSet, err := service.ParseBoundary(req.End, loc)
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}

	var res service.FetchResult
	if startSet && endSet {
		from, to := service.DayBounds(start, end, loc)
		res, err = a.readings.SetRange(ctx, from.Format(rangeLayout), to.Format(rangeLayout))
		if err != nil {
			return nil, err
		}
	} else {
		res = a.readings.Refresh(ctx)
	}
	if res.Err != nil {
		return nil, res.Err
	}

	return a.reports.Export(ctx, req)
}
