package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"mowerhub/backend/internal/audit"
	auditrepo "mowerhub/backend/internal/audit/repository"
	"mowerhub/backend/internal/backoff"
	"mowerhub/backend/internal/config"
	"mowerhub/backend/internal/db"
	"mowerhub/backend/internal/device/store"
	dispatchsvc "mowerhub/backend/internal/dispatch/service"
	"mowerhub/backend/internal/eventbus"
	"mowerhub/backend/internal/gateway/cloudhttp"
	"mowerhub/backend/internal/httpapi"
	"mowerhub/backend/internal/logging"
	"mowerhub/backend/internal/poller"
	"mowerhub/backend/internal/realtime"
	sessrepo "mowerhub/backend/internal/session/repository"
	sesssvc "mowerhub/backend/internal/session/service"
	"mowerhub/backend/internal/telemetry"
	"mowerhub/backend/internal/telemetry/producer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := eventbus.New(logger)
	states := store.New(logger, bus)
	gw := cloudhttp.New(cfg.CloudBaseURL, logger)

	// Session snapshots survive restarts when Redis is configured.
	var snapshots sessrepo.SnapshotRepository
	var redisRepo *sessrepo.RedisRepository
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			logger.Warn("redis unreachable, session persistence disabled", zap.Error(err))
		} else {
			redisRepo = sessrepo.NewRedisRepository(client, logger, cfg.SessionAge())
			snapshots = redisRepo
			defer client.Close()
		}
	}

	sessions := sesssvc.NewManager(gw, snapshots, logger,
		backoff.Policy{MaxAttempts: cfg.MaxAuthRetries, BaseDelay: cfg.AuthRetryDelay()},
		cfg.SessionAge())

	if redisRepo != nil {
		restoreCtx, restoreCancel := context.WithTimeout(ctx, 5*time.Second)
		if snap, err := redisRepo.LoadLast(restoreCtx); err == nil && snap != nil {
			if sessions.Adopt(snap) {
				logger.Info("restored session snapshot", zap.String("session_id", snap.ID))
			}
		}
		restoreCancel()
	}

	// Command audit needs Postgres; without it dispatches still work, they
	// just leave no trail.
	var auditor dispatchsvc.Auditor
	var history auditrepo.Repository
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Warn("postgres unreachable, command audit disabled", zap.Error(err))
		} else {
			defer conn.Close()
			repo := auditrepo.NewPostgresRepository(conn)
			auditor = audit.NewLogger(repo)
			history = repo
		}
	}

	dispatcher := dispatchsvc.NewDispatcher(sessions, gw, states, bus, auditor, logger,
		backoff.Policy{MaxAttempts: cfg.MaxDispatchRetries, BaseDelay: cfg.DispatchRetryDelay()},
		cfg.FallbackEnabled)

	hub := realtime.NewHub(bus, states, dispatcher, logger)

	go poller.New(sessions, gw, states, logger, cfg.PollEvery()).Run(ctx)

	var kafkaProducer *producer.KafkaProducer
	if brokers := cfg.EventsKafkaBrokersList(); len(brokers) > 0 {
		kafkaProducer, err = producer.NewKafkaProducer(brokers, cfg.EventsKafkaTopic)
		if err != nil {
			logger.Warn("kafka producer init failed, event mirror disabled", zap.Error(err))
		} else if kafkaProducer != nil {
			go telemetry.NewMirror(bus, kafkaProducer, logger).Run(ctx)
		}
	}

	handler := httpapi.NewHandler(sessions, dispatcher, states, hub, history, logger)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	hub.Close()
	cancel()

	if kafkaProducer != nil {
		// Give in-flight async emits time to land before closing the writer.
		time.Sleep(telemetry.ShutdownDrainDuration)
		kafkaProducer.Close()
	}
	logger.Info("stopped")
}
