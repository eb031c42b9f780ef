package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"casitas/internal/api"
	"casitas/internal/bot"
	"casitas/internal/clock"
	"casitas/internal/config"
	"casitas/internal/events"
	"casitas/internal/export"
	"casitas/internal/google"
	"casitas/internal/metrics"
	"casitas/internal/pricing"
	"casitas/internal/repository"
	"casitas/internal/service"
	"casitas/internal/session"
	"casitas/internal/storage"
	"casitas/internal/sweeper"
)

func main() {
	_ = godotenv.Load()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("CASITAS_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if cfg.Telegram.BotToken == "" || cfg.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE" {
		logger.Fatal().Msg("set telegram.bot_token in config")
	}

	db, err := storage.New(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	rates := pricing.NewService(db)
	if rdb != nil && cfg.RateCacheTTL() > 0 {
		rates.UseRedisCache(rdb, cfg.RateCacheTTL())
	}

	bus := events.NewBus()
	svc := service.NewReservationService(db, rates, bus, clock.Real{}, &logger)

	sw := sweeper.New(sweeper.Config{
		Interval:      cfg.SweepInterval(),
		PendingWindow: cfg.PendingWindow(),
	}, db, svc, clock.Real{}, &logger)

	states := dialogStates(rdb, cfg.SessionTimeout(), &logger)
	sessions := session.NewStore(cfg.SessionTimeout())

	b, err := bot.New(cfg.Telegram.BotToken, svc, db, sessions, states, cfg.Managers, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("create bot error")
	}
	b.SetPendingWindow(cfg.PendingWindow())
	b.SetExporter(export.NewExporter(db, &logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backup := storage.NewBackupService(db, storage.BackupConfig{
		Enabled:       cfg.Backup.Enabled,
		StoragePath:   cfg.Backup.StoragePath,
		Interval:      cfg.BackupInterval(),
		RetentionDays: cfg.Backup.RetentionDays,
	}, &logger)
	go backup.Start(ctx)

	b.SubscribeNotifications(ctx, bus)
	b.StartPendingDigest(ctx, 9)
	go sw.Start(ctx)
	go sessionCleanup(ctx, sessions, &logger)

	if cfg.Sheets.Enabled {
		mirror, err := google.NewSheetsService(ctx, cfg.Sheets.CredentialsFile, cfg.Sheets.SpreadsheetID, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("sheets mirror disabled")
		} else {
			subscribeSheetsMirror(ctx, bus, mirror, db, &logger)
		}
	}

	if cfg.API.Enabled {
		if cfg.API.Port == 0 {
			cfg.API.Port = 8080
		}
		apiSrv := api.NewServer(svc, &logger)
		go func() {
			if err := apiSrv.ListenAndServe(ctx, cfg.API.Port); err != nil {
				logger.Error().Err(err).Msg("api server error")
			}
		}()
	}

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	logger.Info().Msg("casitas bot started")
	b.Start(ctx)
}

// dialogStates picks the dialog persistence layer: redis with an in-memory
// fallback when configured, plain memory otherwise.
func dialogStates(rdb *redis.Client, ttl time.Duration, logger *zerolog.Logger) repository.StateRepository {
	memory := repository.NewMemoryStateRepository()
	if rdb == nil {
		return memory
	}
	primary := repository.NewRedisStateRepository(rdb, ttl)
	return repository.NewFailoverStateRepository(primary, memory, logger)
}

func sessionCleanup(ctx context.Context, sessions *session.Store, logger *zerolog.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := sessions.Cleanup(); removed > 0 {
				logger.Debug().Int("removed", removed).Msg("stale dialog sessions dropped")
			}
		}
	}
}

func subscribeSheetsMirror(ctx context.Context, bus *events.Bus, mirror *google.SheetsService, db *storage.DB, logger *zerolog.Logger) {
	mirrorEvent := func(ev events.Event) error {
		bk := ev.Booking
		name := fmt.Sprintf("объект #%d", bk.PropertyID)
		if p, err := db.GetProperty(ctx, bk.PropertyID); err == nil {
			name = p.Name
		}
		if err := mirror.SyncBooking(ctx, &bk, name); err != nil {
			logger.Warn().Err(err).Str("booking_id", bk.ID).Msg("sheets mirror sync failed")
		}
		return nil
	}
	bus.Subscribe(events.TypeBookingCreated, mirrorEvent)
	bus.Subscribe(events.TypeBookingConfirmed, mirrorEvent)
	bus.Subscribe(events.TypeBookingRejected, mirrorEvent)
	bus.Subscribe(events.TypeBookingExpired, mirrorEvent)
}

func startHealthServer(ctx context.Context, port int, db *storage.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := db.Healthy(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
