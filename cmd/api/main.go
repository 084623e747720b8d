package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crm-voice/internal/audit"
	"crm-voice/internal/auth"
	"crm-voice/internal/calls"
	"crm-voice/internal/config"
	"crm-voice/internal/history"
	"crm-voice/internal/observability"
	"crm-voice/internal/presence"
	"crm-voice/internal/realtime"
	"crm-voice/internal/reporting"
	"crm-voice/pkg/logger"
	"crm-voice/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// .env is a local convenience; real deployments set the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn(".env load failed", "err", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	auditor := audit.NewService(audit.NewLogRepo(log.With("component", "audit")), log)

	var rdb *redis.Client
	if cfg.RedisEnabled() {
		rdb, err = utils.OpenRedis(rootCtx, cfg.RedisOptions())
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	var db *sql.DB
	if cfg.History.Export == "postgres" {
		db, err = utils.OpenPostgres(rootCtx, cfg.Postgres())
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	// Call history: an in-process ring for summaries plus the optional export.
	ring := history.NewMemoryRepo(cfg.History.Retain)
	repos := []history.Repository{ring}
	switch cfg.History.Export {
	case "postgres":
		outbox := history.NewPostgresOutbox(db)
		if err := outbox.EnsureSchema(rootCtx); err != nil {
			log.Error("history outbox schema failed", "err", err)
			os.Exit(1)
		}
		repos = append(repos, outbox)
	case "redis":
		repos = append(repos, history.NewRedisStream(rdb, "", 0))
	}
	sink := history.NewSink(log.With("component", "history"), 0, repos...)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics("crm_voice", promReg)

	hubOpts := realtime.HubOptions{
		RingTimeout: cfg.Calls.RingTimeout,
		Metrics:     metrics,
		Observers:   []calls.Observer{sink},
		Logger:      log.With("component", "hub"),
		Audit:       auditor,
	}
	var mirror *presence.RedisMirror
	if rdb != nil {
		mirror = presence.NewRedisMirror(rdb)
		hubOpts.Mirror = mirror
		if cfg.Calls.MaxPerTenant > 0 {
			hubOpts.Limiter = calls.NewRedisLimiter(rdb, cfg.Calls.MaxPerTenant, 0)
		}
	}
	hub := realtime.NewHub(hubOpts)

	deps := routeDeps{
		cfg:     cfg,
		auth:    authManager,
		hub:     hub,
		reports: reporting.NewService(ring),
		metrics: metrics,
		audit:   auditor,
		db:      db,
		rdb:     rdb,
	}
	if mirror != nil {
		deps.cluster = mirror
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "history_export", cfg.History.Export, "redis", rdb != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// Hijacked websockets are not tracked by the http server; the hub closes them.
	if err := hub.Stop(shutdownCtx); err != nil {
		log.Error("hub stop failed", "err", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	sink.Close()
	log.Info("shutdown complete")
}
