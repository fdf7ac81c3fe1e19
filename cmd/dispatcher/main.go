package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/bulk-messaging/internal/api"
	"github.com/LeventeLantos/bulk-messaging/internal/cache"
	"github.com/LeventeLantos/bulk-messaging/internal/config"
	"github.com/LeventeLantos/bulk-messaging/internal/dispatch"
	"github.com/LeventeLantos/bulk-messaging/internal/registry"
	"github.com/LeventeLantos/bulk-messaging/internal/relay"
	"github.com/LeventeLantos/bulk-messaging/internal/repo"
	"github.com/LeventeLantos/bulk-messaging/internal/sweep"
	"github.com/LeventeLantos/bulk-messaging/internal/transport"
	"github.com/LeventeLantos/bulk-messaging/internal/variation"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal(err)
	}

	slog.Info("dispatcher starting",
		"addr", cfg.Server.Address,
		"batch", cfg.Dispatch.BatchSize,
		"redis", cfg.Redis.Enabled,
		"sweep", cfg.Sweep.Enabled,
	)

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	queues := repo.NewPostgresQueueRepo(db)
	recipients := repo.NewPostgresRecipientRepo(db)

	var totals cache.TotalsCache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		totals = cache.NewRedisCache(rdb, cfg.Redis.TTL)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := relay.NewHub()
	gateway := transport.NewGatewayClient(cfg.Gateway.BaseURL, cfg.Gateway.CallbackURL)
	reg := registry.New(gateway, recipients, hub, cfg.Dispatch.QRMaxRetries)

	processor := dispatch.NewProcessor(reg, queues, recipients, hub, variation.NewEngine(), dispatch.Config{
		BatchSize: cfg.Dispatch.BatchSize,
		DelayMin:  cfg.Dispatch.DelayMin,
		DelayMax:  cfg.Dispatch.DelayMax,
	})
	commander := dispatch.NewCommander(runCtx, reg, processor, queues, hub)
	hub.SetCommands(commander)

	handler := api.NewHandler(commander, reg, queues, recipients, totals, gateway)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(handler, hub.Handler())),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var sweeper *sweep.Sweeper
	if cfg.Sweep.Enabled {
		sweeper, err = sweep.New(cfg.Sweep.Interval, queues, reg, processor)
		if err != nil {
			log.Fatal(err)
		}
		sweeper.Start()
	}

	go func() {
		slog.Info("http server listening", "addr", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-runCtx.Done()
	slog.Info("shutting down")

	if sweeper != nil {
		sweeper.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	reg.Shutdown(shutdownCtx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The websocket endpoint hijacks the connection; wrapping the
		// ResponseWriter would hide the Hijacker it needs.
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
