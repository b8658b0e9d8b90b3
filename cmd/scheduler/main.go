// Package main runs the range scheduler, the change monitor and the
// operational HTTP surface in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"rangescan/internal/config"
	"rangescan/internal/domain/admin"
	"rangescan/internal/domain/auth"
	"rangescan/internal/domain/monitor"
	"rangescan/internal/domain/scheduler"
	v1 "rangescan/internal/infrastructure/http/v1"
	"rangescan/internal/infrastructure/http/v1/handlers"
	"rangescan/internal/infrastructure/lookup"
	"rangescan/internal/infrastructure/metrics"
	"rangescan/internal/infrastructure/sink"
	"rangescan/internal/infrastructure/storage/postgres"
	"rangescan/pkg/logger"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development || cfg.IsDevelopment(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Errorw("scheduler exited", "error", err)
		os.Exit(1)
	}
	log.Info("scheduler stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}

	poolCfg := postgres.DefaultPoolConfig(cfg.Database.URL)
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MinConns = cfg.Database.MinConns
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	log.Info("database connection established")

	txm := postgres.NewTxManager(pool)
	store := postgres.NewRangeStore(pool, txm)
	attempts := postgres.NewAttemptLog(txm)

	results, err := sink.New(sink.Config{
		Backend:     cfg.Sink.Backend,
		Directory:   cfg.Sink.Directory,
		Compress:    cfg.Sink.Compress,
		TablePrefix: cfg.Sink.TablePrefix,
	}, txm)
	if err != nil {
		return fmt.Errorf("create result sink: %w", err)
	}
	defer func() {
		if err := results.Close(); err != nil {
			log.Warnw("failed to close result sink", "error", err)
		}
	}()

	lookupCfg := lookupConfig(cfg.Lookup)
	resolver := lookup.New(lookupCfg, log)
	if lookupCfg.Enabled {
		checkLookup(ctx, lookupCfg, log)
	} else {
		log.Warn("lookups disabled, every identifier resolves as not found")
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
		m.WatchPool(cfg.Metrics.Namespace, pool.Stats)
	}

	interrupt := scheduler.NewSignal()
	deps := scheduler.Deps{
		Store:    store,
		Resolver: resolver,
		Sink:     results,
		Attempts: attempts,
		Signal:   interrupt,
		Logger:   log,
	}
	if m != nil {
		deps.Recorder = m
	}
	sched := scheduler.New(schedulerConfig(cfg), deps)

	var changes monitor.Recorder
	if m != nil {
		changes = m
	}
	mon := monitor.New(monitor.Config{Interval: cfg.Monitor.Interval}, store, sched, interrupt, changes, log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error { return mon.Run(ctx) })

	if cfg.HTTP.Enabled {
		server, err := newServer(cfg, log, store, attempts, sched, pool, m)
		if err != nil {
			return err
		}
		g.Go(func() error {
			log.Infow("http server starting", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func newServer(
	cfg *config.Config,
	log *logger.Logger,
	store *postgres.RangeStore,
	attempts *postgres.AttemptLog,
	sched *scheduler.Scheduler,
	pool *postgres.Pool,
	m *metrics.Metrics,
) (*http.Server, error) {
	rc := v1.RouterConfig{
		Logger:    log,
		Scheduler: sched,
		Checks:    map[string]handlers.Pinger{"database": store},
		Info: func() map[string]any {
			st := pool.Stats()
			return map[string]any{
				"database": map[string]any{
					"total_conns":    st.TotalConns,
					"acquired_conns": st.AcquiredConns,
					"idle_conns":     st.IdleConns,
					"max_conns":      st.MaxConns,
				},
			}
		},
		Version: version,
	}
	if m != nil {
		rc.Metrics = m.Handler()
	}

	if cfg.Auth.JWTSecret != "" {
		jwtCfg := auth.DefaultJWTConfig(cfg.Auth.JWTSecret)
		if cfg.Auth.Issuer != "" {
			jwtCfg.Issuer = cfg.Auth.Issuer
		}
		if cfg.Auth.TokenTTL > 0 {
			jwtCfg.TokenTTL = cfg.Auth.TokenTTL
		}
		jwt, err := auth.NewJWTService(jwtCfg)
		if err != nil {
			return nil, err
		}
		rc.JWTValidator = jwt
		rc.Admin = admin.NewService(store, attempts, log)
		rc.Control = sched
	} else {
		log.Warn("auth.jwt_secret is not set, admin API disabled")
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      v1.NewRouter(rc),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}, nil
}

// checkLookup checks the lookup site once. An unreachable site is not fatal:
// failed lookups degrade to not found.
func checkLookup(ctx context.Context, cfg lookup.Config, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := lookup.NewClient(cfg, nil).Health(ctx); err != nil {
		log.Warnw("lookup site unreachable at startup", "base_url", cfg.BaseURL, "error", err)
		return
	}
	log.Infow("lookup site reachable", "base_url", cfg.BaseURL)
}

func lookupConfig(c config.LookupConfig) lookup.Config {
	return lookup.Config{
		Enabled:         c.Enabled,
		BaseURL:         c.BaseURL,
		FormPath:        c.FormPath,
		SubmitPath:      c.SubmitPath,
		FormField:       c.FormField,
		PayloadColumn:   c.PayloadColumn,
		PayloadDigits:   c.PayloadDigits,
		UserAgent:       c.UserAgent,
		Timeout:         c.Timeout,
		MaxAttempts:     c.MaxAttempts,
		InitialInterval: c.InitialInterval,
		MaxInterval:     c.MaxInterval,
	}
}

// schedulerConfig derives the scheduler's bound on one Resolve call from the
// per-attempt timeout and the worst-case backoff between attempts.
func schedulerConfig(cfg *config.Config) scheduler.Config {
	attempts := time.Duration(cfg.Lookup.MaxAttempts)
	return scheduler.Config{
		IdleInterval:           cfg.Scheduler.IdleInterval,
		Pacing:                 cfg.Scheduler.Pacing,
		LookupTimeout:          attempts*cfg.Lookup.Timeout + (attempts-1)*cfg.Lookup.MaxInterval,
		SinkTimeout:            cfg.Sink.Timeout,
		StoreTimeout:           cfg.Scheduler.StoreTimeout,
		MaxConsecutiveFailures: cfg.Scheduler.MaxConsecutiveFailures,
	}
}
