package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"

	"eventAdmission/cmd/buildCFG"
	"eventAdmission/internal/api/api"
	"eventAdmission/internal/authz"
	"eventAdmission/internal/cache"
	rabbitReader "eventAdmission/internal/consumerWorker"
	"eventAdmission/internal/mailer"
	"eventAdmission/internal/model"
	"eventAdmission/internal/rabbit"
	"eventAdmission/internal/repo"
	"eventAdmission/internal/scheduler"
	"eventAdmission/internal/service"
	"eventAdmission/internal/telemetry"
)

func main() {
	zlog.Init()
	if err := run(); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("service stopped")
	}
}

func run() error {
	log := zlog.Logger

	cfg, err := buildCFG.LoadConfig(".")
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	serverCfg := buildCFG.BuildServerConfig(cfg, &log)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(rootCtx, buildCFG.BuildTelemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}

	repository, err := openRepository(rootCtx, cfg, &log)
	if err != nil {
		return fmt.Errorf("initialize repository: %w", err)
	}
	defer repository.Close()

	var eventCache service.EventCache
	redisCfg, ok, err := buildCFG.BuildRedisConfig(cfg)
	if err != nil {
		return fmt.Errorf("load Redis config: %w", err)
	}
	if ok {
		client := redis.NewClient(&redis.Options{Addr: redisCfg.Addr, Password: redisCfg.Password, DB: redisCfg.DB})
		c := cache.NewEventCache(client, redisCfg.TTL)
		defer c.Close()
		if err := client.Ping(rootCtx).Err(); err != nil {
			return fmt.Errorf("ping Redis at %s: %w", redisCfg.Addr, err)
		}
		eventCache = c
		log.Info().Str("addr", redisCfg.Addr).Msg("Redis event cache enabled")
	}

	var notifier service.Notifier
	var reader *rabbitReader.Reader
	rabbitCfg, ok, err := buildCFG.BuildRabbitConfig(cfg, &log)
	if err != nil {
		return fmt.Errorf("load RabbitMQ config: %w", err)
	}
	if ok {
		rmq, err := rabbit.NewRabbit(rabbitCfg.Url, rabbitCfg.Exchange, rabbitCfg.Queue)
		if err != nil {
			return fmt.Errorf("connect to RabbitMQ: %w", err)
		}
		defer rmq.Close()
		notifier = rmq

		mailCfg, err := buildCFG.BuildMailConfig(cfg)
		if err != nil {
			return fmt.Errorf("load mail config: %w", err)
		}
		reader = rabbitReader.NewReader(rmq, mailer.New(mailCfg, repository, &log))
		reader.Start(rootCtx)
		defer reader.Stop()
	}

	svc := service.NewService(repository, authz.NewChecker(repository), notifier, eventCache, &log)

	schedCfg, err := buildCFG.BuildSchedulerConfig(cfg)
	if err != nil {
		return fmt.Errorf("load scheduler config: %w", err)
	}
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		scheduler.NewScheduler(svc, schedCfg, &log).Start(rootCtx)
	}()

	app := api.NewRouters(&api.Routers{Service: svc, Log: &log, RequestTimeout: serverCfg.RequestTimeout})
	server := &http.Server{
		Addr:    ":" + serverCfg.Port,
		Handler: app,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info().Msgf("Starting server on %s", serverCfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("failed to start server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-rootCtx.Done():
		log.Info().Msg("Received shutdown signal")
	case serveErr = <-serverErrChan:
		log.Error().Err(serveErr).Msg("Server error")
	}
	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverCfg.ShutdownGrace)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down server")
	}
	<-schedDone
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error flushing traces")
	}
	log.Info().Msg("Shutdown complete")
	return serveErr
}

func openRepository(ctx context.Context, cfg *viper.Viper, log *zerolog.Logger) (repo.Repository, error) {
	dbCfg, err := buildCFG.BuildDBConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	seed, err := buildCFG.BuildSeedMembers(cfg)
	if err != nil {
		return nil, err
	}

	switch dbCfg.Driver {
	case "postgres":
		masterDSN, slaveDSNs, poolOptions, err := buildCFG.BuildPostgresConfig(cfg, log)
		if err != nil {
			return nil, err
		}
		db, err := dbpg.New(masterDSN, slaveDSNs, poolOptions)
		if err != nil {
			return nil, fmt.Errorf("connect to DB: %w", err)
		}
		r, err := repo.NewPostgresRepository(db, log)
		if err != nil {
			return nil, err
		}
		migrationPath, err := filepath.Abs(dbCfg.Migrations)
		if err != nil {
			return nil, fmt.Errorf("resolve migrations dir: %w", err)
		}
		if err := r.MigrateUp(migrationPath); err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		log.Info().Msg("Migrations applied successfully")
		if len(seed) > 0 {
			log.Warn().Int("members", len(seed)).Msg("seed members are ignored for postgres, manage users and memberships in the database")
		}
		return r, nil

	case "sqlite":
		r, err := repo.OpenSQLite(dbCfg.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		for _, m := range seed {
			if err := r.SetRole(ctx, m.UserID, m.CommunityID, model.Role(m.Role)); err != nil {
				_ = r.Close()
				return nil, fmt.Errorf("seed role: %w", err)
			}
			if err := r.SetContact(ctx, contactOf(m)); err != nil {
				_ = r.Close()
				return nil, fmt.Errorf("seed contact: %w", err)
			}
		}
		log.Info().Str("path", dbCfg.SQLitePath).Int("seeded", len(seed)).Msg("SQLite repository opened")
		return r, nil

	default:
		r := repo.NewMemoryRepository()
		for _, m := range seed {
			r.SetRole(m.UserID, m.CommunityID, model.Role(m.Role))
			r.SetContact(contactOf(m))
		}
		log.Warn().Int("seeded", len(seed)).Msg("using in-memory repository, state is lost on restart")
		return r, nil
	}
}

func contactOf(m buildCFG.SeedMember) model.Contact {
	return model.Contact{UserID: m.UserID, Email: m.Email, FullName: m.FullName}
}
