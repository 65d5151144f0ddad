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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	captableservice "capstack/internal/captable/service"
	captablestore "capstack/internal/captable/store"
	"capstack/internal/documents"
	"capstack/internal/identity/replay"
	identityservice "capstack/internal/identity/service"
	identitystore "capstack/internal/identity/store"
	invitationservice "capstack/internal/invitation/service"
	invitationstore "capstack/internal/invitation/store"
	"capstack/internal/ledger"
	"capstack/internal/platform/config"
	"capstack/internal/platform/httpserver"
	"capstack/internal/platform/kafka"
	"capstack/internal/platform/logger"
	"capstack/internal/platform/metrics"
	"capstack/internal/platform/middleware"
	"capstack/internal/platform/postgres"
	"capstack/internal/platform/redis"
	"capstack/internal/review/publisher"
	reviewservice "capstack/internal/review/service"
	reviewstore "capstack/internal/review/store"
	spvservice "capstack/internal/spv/service"
	spvstore "capstack/internal/spv/store"
	subscriptionservice "capstack/internal/subscription/service"
	substore "capstack/internal/subscription/store"
	httptransport "capstack/internal/transport/http"
	"capstack/internal/verification/sumsub"
	"capstack/pkg/platform/tx"
)

// main wires configuration, persistence and services, then serves the API
// and metrics endpoints until SIGINT or SIGTERM.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, closeStores, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStores()

	reviewOpts := []reviewservice.Option{reviewservice.WithLogger(log), reviewservice.WithMetrics(m)}
	producer, err := kafka.NewProducer(ctx, cfg.Kafka)
	if err != nil {
		return err
	}
	if producer != nil {
		defer producer.Close()
		reviewOpts = append(reviewOpts, reviewservice.WithAnnouncer(publisher.NewKafkaAnnouncer(producer)))
		log.Info("admin reviews published to kafka", "topic", cfg.Kafka.ReviewTopic)
	}
	reviews := reviewservice.New(st.reviews, reviewOpts...)

	identityOpts := []identityservice.Option{
		identityservice.WithLogger(log),
		identityservice.WithMetrics(m),
		identityservice.WithProvider(sumsub.New(cfg.Sumsub, m)),
		identityservice.WithWebhookSecret(cfg.Sumsub.WebhookSecret),
	}
	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		identityOpts = append(identityOpts, identityservice.WithReplayGuard(replay.NewRedisGuard(redisClient, cfg.Redis.ReplayTTL)))
	} else {
		identityOpts = append(identityOpts, identityservice.WithReplayGuard(replay.NewMemoryGuard(cfg.Redis.ReplayTTL)))
	}
	identities := identityservice.New(st.identities, reviews, st.runner, identityOpts...)

	tokens := ledger.NewInstrumented(ledger.NewSimulated(), m)
	spvs := spvservice.New(st.spvs, identities, reviews, tokens, st.runner,
		spvservice.WithLogger(log),
		spvservice.WithMetrics(m),
		spvservice.WithDocuments(documents.NewRecorder(log)),
		spvservice.WithTerminationFee(cfg.Business.EarlyTerminationFee),
	)
	captable := captableservice.New(st.captable, spvs, identities, tokens, st.runner,
		captableservice.WithLogger(log),
		captableservice.WithMetrics(m),
	)
	invitations := invitationservice.New(st.invitations, spvs,
		invitationservice.WithLogger(log),
		invitationservice.WithMetrics(m),
		invitationservice.WithFrontendURL(cfg.Business.FrontendURL),
		invitationservice.WithDefaultTTLDays(cfg.Business.InvitationTTLDays),
	)
	subscriptions := subscriptionservice.New(st.subscriptions, spvs, identities, captable, tokens, st.runner,
		subscriptionservice.WithLogger(log),
		subscriptionservice.WithMetrics(m),
		subscriptionservice.WithClaimTTL(cfg.Business.CompletionClaimTTL),
		subscriptionservice.WithLedgerWriteAttempts(cfg.Business.LedgerWriteAttempts),
	)

	handler := httptransport.NewHandler(httptransport.Services{
		Identities:    identities,
		Invitations:   invitations,
		SPVs:          spvs,
		Subscriptions: subscriptions,
		CapTable:      captable,
		Reviews:       reviews,
	}, log)
	tokenService := middleware.NewTokenService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer)
	api := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(handler, tokenService))

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	metricsServer := httpserver.New(cfg.Server.MetricsAddr, metricsMux)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, api, cfg.Server.ShutdownTimeout, log)
	})
	g.Go(func() error {
		return httpserver.Run(gctx, metricsServer, cfg.Server.ShutdownTimeout, log)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type stores struct {
	runner        tx.Runner
	identities    identityservice.Store
	reviews       reviewservice.Store
	spvs          spvservice.Store
	invitations   invitationservice.Store
	subscriptions subscriptionservice.Store
	captable      captableservice.Store
}

// openStores selects Postgres when DATABASE_URL is set and in-memory stores
// otherwise.
func openStores(ctx context.Context, cfg config.Config, log *slog.Logger) (stores, func(), error) {
	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		return stores{
			runner:        tx.NewMemoryRunner(),
			identities:    identitystore.NewInMemory(),
			reviews:       reviewstore.NewInMemory(),
			spvs:          spvstore.NewInMemory(),
			invitations:   invitationstore.NewInMemory(),
			subscriptions: substore.NewInMemory(),
			captable:      captablestore.NewInMemory(),
		}, func() {}, nil
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return stores{}, nil, err
	}
	if cfg.Database.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return stores{}, nil, err
		}
	}
	return postgresStores(db, cfg), func() { _ = db.Close() }, nil
}

func postgresStores(db *sql.DB, cfg config.Config) stores {
	return stores{
		runner:        postgres.NewRunner(db, cfg.Database.TxTimeout),
		identities:    identitystore.NewPostgres(db),
		reviews:       reviewstore.NewPostgres(db),
		spvs:          spvstore.NewPostgres(db),
		invitations:   invitationstore.NewPostgres(db),
		subscriptions: substore.NewPostgres(db),
		captable:      captablestore.NewPostgres(db),
	}
}
