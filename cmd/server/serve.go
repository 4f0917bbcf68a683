package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	consenthandler "ehrconsent/internal/consent/handler"
	"ehrconsent/internal/consent/qr"
	requesthandler "ehrconsent/internal/consent/request/handler"
	"ehrconsent/internal/consent/request/retention"
	requestservice "ehrconsent/internal/consent/request/service"
	requeststore "ehrconsent/internal/consent/request/store"
	consentservice "ehrconsent/internal/consent/service"
	consentstore "ehrconsent/internal/consent/store"
	"ehrconsent/internal/consent/token"
	"ehrconsent/internal/ehr"
	ehrhandler "ehrconsent/internal/ehr/handler"
	"ehrconsent/internal/enforcement"
	"ehrconsent/internal/identity"
	"ehrconsent/internal/platform/config"
	"ehrconsent/internal/platform/health"
	"ehrconsent/internal/platform/httpserver"
	"ehrconsent/internal/platform/keys"
	"ehrconsent/internal/platform/logger"
	"ehrconsent/internal/platform/metrics"
	"ehrconsent/internal/platform/postgres"
	"ehrconsent/internal/platform/redis"
	httptransport "ehrconsent/internal/transport/http"
	audit "ehrconsent/pkg/platform/audit"
	auditpublisher "ehrconsent/pkg/platform/audit/publisher"
	kafkapublisher "ehrconsent/pkg/platform/audit/publishers/kafka"
	auditmemory "ehrconsent/pkg/platform/audit/store/memory"
	auditpostgres "ehrconsent/pkg/platform/audit/store/postgres"
	"ehrconsent/pkg/platform/circuit"
)

const (
	shutdownTimeout = 10 * time.Second
	auditBufferSize = 1024
)

func serveCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the consent API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, logger.New(cfg.Env, cfg.LogLevel))
		},
	}
}

// backends are the infrastructure handles the server owns and must release.
type backends struct {
	records  consentservice.Store
	requests requestservice.Store
	purger   retention.Purger
	auditor  audit.Publisher
	health   *health.Checker
	closers  []func(context.Context) error
}

func (b *backends) close(ctx context.Context, log *slog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			log.WarnContext(ctx, "failed to release backend", "error", err)
		}
	}
}

// openBackends picks Redis, Postgres and Kafka when configured and in-memory
// implementations otherwise.
func openBackends(ctx context.Context, cfg *config.Server, log *slog.Logger) (*backends, error) {
	b := &backends{health: health.NewChecker(log)}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		b.records = consentstore.NewRedis(rc.Client)
		b.health.Add("redis", rc)
		b.closers = append(b.closers, func(context.Context) error { return rc.Close() })
		log.InfoContext(ctx, "consent store: redis")
	} else {
		b.records = consentstore.NewInMemory()
		log.WarnContext(ctx, "consent store: in-memory, records are lost on restart")
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		b.close(ctx, log)
		return nil, err
	}
	if db != nil {
		store := requeststore.NewPostgres(db)
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			b.close(ctx, log)
			return nil, fmt.Errorf("migrate request store: %w", err)
		}
		b.requests = store
		b.purger = store
		b.health.Add("postgres", store)
		b.closers = append(b.closers, func(context.Context) error { return db.Close() })
		log.InfoContext(ctx, "request store: postgres")
	} else {
		mem := requeststore.NewInMemory()
		b.requests = mem
		b.purger = mem
		log.WarnContext(ctx, "request store: in-memory, requests are lost on restart")
	}

	var sink audit.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := kafkapublisher.New(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, kafkapublisher.WithLogger(log))
		if err != nil {
			b.close(ctx, log)
			return nil, err
		}
		if err := pub.EnsureTopic(ctx, 3, 1); err != nil {
			log.WarnContext(ctx, "audit topic bootstrap failed", "topic", cfg.Kafka.AuditTopic, "error", err)
		}
		sink = pub
		b.health.Add("kafka", pub)
		b.closers = append(b.closers, pub.Close)
		log.InfoContext(ctx, "audit sink: kafka", "topic", cfg.Kafka.AuditTopic)
	} else if db != nil {
		store := auditpostgres.New(db)
		if err := store.Migrate(ctx); err != nil {
			b.close(ctx, log)
			return nil, fmt.Errorf("migrate audit store: %w", err)
		}
		sink = store
		log.InfoContext(ctx, "audit sink: postgres")
	} else {
		sink = auditmemory.NewInMemoryStore()
		log.WarnContext(ctx, "audit sink: in-memory")
	}
	buffered := auditpublisher.NewPublisher(sink,
		auditpublisher.WithAsyncBuffer(auditBufferSize),
		auditpublisher.WithLogger(log),
	)
	b.auditor = buffered
	b.closers = append(b.closers, buffered.Close)
	return b, nil
}

func runServer(ctx context.Context, cfg *config.Server, log *slog.Logger) error {
	tokenKey, err := keys.Derive([]byte(cfg.ConsentSigningKey), keys.PurposeConsentToken)
	if err != nil {
		return err
	}
	qrKey, err := keys.Derive([]byte(cfg.ConsentSigningKey), keys.PurposeQRPayload)
	if err != nil {
		return err
	}

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		b.close(closeCtx, log)
	}()

	var reader ehr.Reader = ehr.StubReader{}
	if cfg.EHRUpstreamURL != "" {
		upstream, err := ehr.NewHTTPReader(cfg.EHRUpstreamURL, cfg.EHRUpstreamTimeout)
		if err != nil {
			return err
		}
		reader = ehr.NewGuardedReader(upstream, circuit.New("ehr-upstream",
			circuit.WithFailureThreshold(cfg.EHRBreakerFailures),
			circuit.WithCooldown(cfg.EHRBreakerCooldown),
		), log)
	} else {
		log.WarnContext(ctx, "EHR upstream not configured, reads return empty sections")
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	codec := token.NewCodec(tokenKey, cfg.TokenIssuer)
	consents := consentservice.New(b.records, codec, consentservice.Config{
		DefaultDuration:      cfg.ConsentDefaultDuration,
		MaxDuration:          cfg.ConsentMaxDuration,
		AllowRecipientRevoke: cfg.AllowRecipientRevoke,
	},
		consentservice.WithAuditor(b.auditor),
		consentservice.WithMetrics(m),
		consentservice.WithLogger(log),
	)
	requests := requestservice.New(b.requests, consents,
		requestservice.WithAuditor(b.auditor),
		requestservice.WithMetrics(m),
		requestservice.WithLogger(log),
	)
	enforcer := enforcement.New(codec, b.records,
		enforcement.WithAuditor(b.auditor),
		enforcement.WithMetrics(m),
		enforcement.WithLogger(log),
	)

	if cfg.RequestRetention > 0 {
		sweeper, err := retention.New(b.purger, cfg.RequestRetention, cfg.RetentionSchedule,
			retention.WithLogger(log),
			retention.WithMetrics(m),
		)
		if err != nil {
			return err
		}
		sweeper.Start()
		b.closers = append(b.closers, sweeper.Stop)
		log.InfoContext(ctx, "request retention enabled",
			"retention", cfg.RequestRetention.String(), "schedule", cfg.RetentionSchedule)
	}

	router := httptransport.NewRouter(httptransport.Dependencies{
		Logger:         log,
		Identity:       identity.NewJWTService(cfg.IdentitySigningKey, cfg.TokenIssuer),
		RequestTimeout: cfg.RequestTimeout,
		Health:         b.health,
		Metrics:        promhttp.Handler(),
		MetricsToken:   cfg.MetricsToken,
		Routes: []httptransport.RouteRegistrar{
			consenthandler.New(consents, qr.NewCodec(qrKey, qr.WithTTL(cfg.QRTTL)), log, m),
			requesthandler.New(requests, log),
			ehrhandler.New(reader, enforcer, log),
		},
	})
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "starting ehrconsent", "addr", cfg.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.InfoContext(shutdownCtx, "shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}
