package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"grouplock/internal/access"
	"grouplock/internal/directory"
	"grouplock/internal/events"
	"grouplock/internal/jwtauth"
	"grouplock/internal/platform/config"
	"grouplock/internal/platform/httpserver"
	"grouplock/internal/platform/logger"
	"grouplock/internal/platform/metrics"
	"grouplock/internal/platform/postgres"
	"grouplock/internal/platform/redis"
	"grouplock/internal/session/handler"
	"grouplock/internal/session/service"
	"grouplock/internal/session/store"
	httptransport "grouplock/internal/transport/http"
	"grouplock/internal/verify"
	id "grouplock/pkg/domain"
	audit "grouplock/pkg/platform/audit"
	"grouplock/pkg/platform/audit/publisher"
	auditmem "grouplock/pkg/platform/audit/store/memory"
	auditpg "grouplock/pkg/platform/audit/store/postgres"
)

// main wires dependencies and owns the process lifecycle. Every backend is
// optional: without Postgres, Redis, or Kafka the service runs fully
// in-process, which is what development and tests use.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	db, err := postgres.Open(cfg.PostgresDSN)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Stores: Postgres when configured, memory otherwise.
	var sessions store.SessionStore
	var intents store.IntentStore
	var dir directory.Directory
	if db != nil {
		pgStore := store.NewPostgres(db)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			return err
		}
		pgDir := directory.NewPostgres(db)
		if err := pgDir.EnsureSchema(ctx); err != nil {
			return err
		}
		sessions, intents, dir = pgStore, pgStore, pgDir
	} else {
		memStore := store.NewMemory()
		sessions, intents, dir = memStore, memStore, directory.NewMemory()
		log.Warn("postgres not configured, using in-memory stores")
	}

	// Broadcaster: Redis pub/sub when configured, in-process bus otherwise.
	var broadcaster events.Broadcaster
	if redisClient != nil {
		broadcaster = events.NewRedisBroadcaster(redisClient.Client, log,
			events.WithErrorHook(m.BroadcastErrors.Inc))
	} else {
		broadcaster = events.NewMemoryBus()
		log.Warn("redis not configured, broadcasts stay in-process")
	}

	// Verifier: remote matcher when configured, deterministic stub otherwise.
	var verifier verify.Verifier
	if cfg.VerifierURL != "" {
		verifier = verify.NewRemote(cfg.VerifierURL)
	} else {
		verifier = verify.NewStatic()
		log.Warn("verifier not configured, using static matcher")
	}

	// Audit pipeline: durable store plus Kafka sink when configured.
	var auditStore publisher.Store
	if db != nil {
		pgAudit := auditpg.New(db)
		if err := pgAudit.EnsureSchema(ctx); err != nil {
			return err
		}
		auditStore = pgAudit
	} else {
		auditStore = auditmem.NewInMemoryStore()
	}

	auditOpts := []publisher.Option{
		publisher.WithAsyncBuffer(cfg.AuditBufferSize),
		publisher.WithLogger(log),
	}
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := audit.NewKafkaSink(ctx, cfg.KafkaBrokers, cfg.AuditTopic)
		if err != nil {
			return err
		}
		defer sink.Close()
		auditOpts = append(auditOpts, publisher.WithSink(sink))
	}
	auditor := publisher.NewPublisher(auditStore, auditOpts...)
	defer auditor.Close()

	gate := access.NewGate(dir, sessions,
		access.WithLogger(log),
		access.WithTTL(cfg.AccessCacheTTL),
		access.WithMetrics(m),
		access.WithAuditor(auditor),
	)

	svc := service.NewService(sessions, intents, dir, verifier, broadcaster,
		service.WithLogger(log),
		service.WithSessionTTL(cfg.SessionTTL),
		service.WithAuditor(auditor),
		service.WithMetrics(m),
		service.WithAccessInvalidator(func(groupID id.GroupID) { gate.Invalidate(groupID) }),
	)

	tokens := jwtauth.New(cfg.JWTSigningKey, cfg.JWTIssuer)
	authHandler := handler.New(svc, gate, log, m, tokens)

	checks := map[string]httptransport.HealthCheck{}
	if db != nil {
		checks["postgres"] = db.PingContext
	}
	if redisClient != nil {
		checks["redis"] = redisClient.Health
	}
	router := httptransport.NewRouter(authHandler, checks)
	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting grouplock", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return svc.RunSweeper(ctx, cfg.SweepInterval)
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
