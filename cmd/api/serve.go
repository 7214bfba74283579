package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nongsaijai/api/internal/app"
	"nongsaijai/api/internal/export"
	"nongsaijai/api/internal/metrics"
	"nongsaijai/api/internal/pm"
	"nongsaijai/api/internal/search"
	"nongsaijai/api/internal/session"
	"nongsaijai/api/internal/store"
)

const sessionPurgeInterval = 15 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

// runtime holds the adapters shared by the server and the CLI commands.
type runtime struct {
	db       *sql.DB
	store    *store.PostgresStore
	sessions session.Store
	purger   *store.AuthSessionStore
	search   *search.Service
	export   *export.Service
	closers  []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// openDatabase connects and brings the schema up to date.
func openDatabase(ctx context.Context) (*sql.DB, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := store.MigrateUp(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	return db, nil
}

func newExportService(ctx context.Context, dataStore export.DataStore) (*export.Service, error) {
	if strings.TrimSpace(cfg.MinioEndpoint) == "" {
		return export.NewService(dataStore, nil), nil
	}
	archive, err := export.NewMinioArchive(ctx, cfg.MinioEndpoint, cfg.MinioAccess, cfg.MinioSecret, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		return nil, fmt.Errorf("object storage: %w", err)
	}
	logger.Info("archiving exports to object storage", zap.String("bucket", cfg.MinioBucket))
	return export.NewService(dataStore, archive), nil
}

func buildRuntime(ctx context.Context) (*runtime, error) {
	db, err := openDatabase(ctx)
	if err != nil {
		return nil, err
	}
	rt := &runtime{db: db, store: store.NewPostgresStore(db)}
	rt.closers = append(rt.closers, func() { _ = db.Close() })

	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info("using redis for auth sessions")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		rt.sessions = redisStore
		rt.closers = append(rt.closers, func() { _ = redisStore.Close() })
	} else {
		logger.Info("using postgres for auth sessions")
		pgSessions := store.NewAuthSessionStore(db)
		rt.sessions = pgSessions
		rt.purger = pgSessions
	}

	var primary search.Primary
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Named("meili"))
		primary = meili
		rt.closers = append(rt.closers, meili.Close)
	}
	rt.search = search.NewService(primary, search.NewPgFTS(db), logger.Named("search"))

	rt.export, err = newExportService(ctx, rt.store)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func newDirectory(db *sql.DB) (pm.Directory, error) {
	var next pm.Directory
	switch cfg.PMDirectory {
	case "supabase":
		dir, err := pm.NewSupabaseDirectory(cfg.SupabaseURL, cfg.SupabaseKey)
		if err != nil {
			return nil, fmt.Errorf("supabase directory: %w", err)
		}
		next = dir
	default:
		next = pm.NewPostgresDirectory(db)
	}
	return pm.NewCached(next, cfg.PMCacheTTL), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	directory, err := newDirectory(rt.db)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	service := app.New(cfg, app.Deps{
		Store:     rt.store,
		Sessions:  rt.sessions,
		Directory: directory,
		Search:    rt.search,
		Export:    rt.export,
		Metrics:   metrics.New(registry),
		Logger:    logger,
	})
	go rt.search.ReindexAll(context.Background())

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	if rt.purger != nil {
		go purgeExpiredSessions(bgCtx, rt.purger)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, registry)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("nsj api listening", zap.String("addr", cfg.Addr), zap.String("version", version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	return nil
}

// purgeExpiredSessions deletes expired rows of the postgres session table.
// Redis expires keys on its own.
func purgeExpiredSessions(ctx context.Context, purger *store.AuthSessionStore) {
	ticker := time.NewTicker(sessionPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := purger.PurgeExpired(ctx, now)
			if err != nil {
				logger.Warn("purge expired sessions", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("purged expired sessions", zap.Int64("count", removed))
			}
		}
	}
}
