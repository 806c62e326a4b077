package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/upb/llm-governance-gateway/config"
	"github.com/upb/llm-governance-gateway/internal/observability"
	"github.com/upb/llm-governance-gateway/internal/policy"
	auditplugin "github.com/upb/llm-governance-gateway/plugins/audit"
	"github.com/upb/llm-governance-gateway/plugins/authn"
	"github.com/upb/llm-governance-gateway/plugins/contentfilter"
	"github.com/upb/llm-governance-gateway/plugins/guardrail"
	"github.com/upb/llm-governance-gateway/plugins/pii"
	quotaplugin "github.com/upb/llm-governance-gateway/plugins/quota"
	"github.com/upb/llm-governance-gateway/repositories"
	"github.com/upb/llm-governance-gateway/repositories/postgres"
	auditsvc "github.com/upb/llm-governance-gateway/services/audit"
	"github.com/upb/llm-governance-gateway/services/inference"
	"github.com/upb/llm-governance-gateway/services/pipeline"
	"github.com/upb/llm-governance-gateway/services/providers"
	"github.com/upb/llm-governance-gateway/services/providers/openai"
	"github.com/upb/llm-governance-gateway/services/quota"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Plugin priorities. Lower runs first within a phase; audit runs last so it
// sees every annotation the other plugins recorded.
const (
	PriorityAuthn         = 10
	PriorityQuota         = 20
	PriorityGuardrail     = 30
	PriorityPII           = 40
	PriorityContentFilter = 50
	PriorityAudit         = 1000
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Optional stores, nil when the configured backends do not need them
	RepoFactory *postgres.RepositoryFactory
	DB          *postgres.DB
	Redis       redis.UniversalClient

	// Governance
	Tenants   *policy.Catalog
	Ledger    quota.Ledger
	AuditSink auditsvc.Sink
	AuditRepo repositories.AuditRepository

	// Pipeline
	Provider     providers.Provider
	Orchestrator *pipeline.Orchestrator
	Inference    *inference.Service

	asyncSink   *auditsvc.AsyncSink
	stopWorkers context.CancelFunc
}

// Option customizes NewDependencies
type Option func(*Dependencies)

// WithProvider replaces the configured backend provider
func WithProvider(p providers.Provider) Option {
	return func(d *Dependencies) { d.Provider = p }
}

// WithRedisClient uses an existing Redis client for the quota ledger
func WithRedisClient(c redis.UniversalClient) Option {
	return func(d *Dependencies) { d.Redis = c }
}

// WithDB uses an existing database pool instead of opening one
func WithDB(db *postgres.DB) Option {
	return func(d *Dependencies) { d.DB = db }
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
	}
	for _, opt := range opts {
		opt(deps)
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"database", deps.initDatabase},
		{"redis", deps.initRedis},
		{"tenants", deps.initTenants},
		{"quota ledger", deps.initLedger},
		{"audit sink", deps.initAudit},
		{"pipeline", deps.initPipeline},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			_ = deps.Close(ctx)
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	logger.Info("all dependencies initialized successfully",
		zap.Int("tenants", deps.Tenants.Len()),
		zap.String("quota_backend", cfg.Quota.Backend),
		zap.String("audit_sink", cfg.Audit.Sink))
	return deps, nil
}

// initDatabase opens PostgreSQL when a configured backend needs it
func (d *Dependencies) initDatabase(ctx context.Context) error {
	if !d.Config.NeedsDatabase() {
		return nil
	}

	if d.DB == nil {
		if d.Config.Database == nil {
			return errors.New("database configuration is missing")
		}
		factory, err := postgres.NewRepositoryFactory(*d.Config.Database, d.Logger)
		if err != nil {
			return fmt.Errorf("failed to create repository factory: %w", err)
		}
		d.RepoFactory = factory
		d.DB = factory.DB()
	} else {
		d.RepoFactory = postgres.NewRepositoryFactoryFromDB(d.DB, d.Logger)
	}

	if d.Config.Database != nil && d.Config.Database.InitSchema {
		if err := d.RepoFactory.InitSchema(ctx); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// initRedis connects to Redis when it backs the quota ledger
func (d *Dependencies) initRedis(ctx context.Context) error {
	if d.Config.Quota.Backend != config.QuotaBackendRedis {
		return nil
	}

	if d.Redis == nil {
		d.Redis = redis.NewClient(&redis.Options{
			Addr:     d.Config.Redis.Addr,
			Password: d.Config.Redis.Password,
			DB:       d.Config.Redis.DB,
		})
	}

	if err := d.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	d.Logger.Info("redis connection established", zap.String("addr", d.Config.Redis.Addr))
	return nil
}

func (d *Dependencies) initTenants(context.Context) error {
	catalog, err := policy.Load(d.Config.TenantsFile)
	if err != nil {
		return err
	}
	d.Tenants = catalog
	d.Logger.Info("tenant policies loaded",
		zap.String("file", d.Config.TenantsFile),
		zap.Strings("tenants", catalog.IDs()))
	return nil
}

func (d *Dependencies) initLedger(ctx context.Context) error {
	var ledger quota.Ledger

	switch d.Config.Quota.Backend {
	case config.QuotaBackendRedis:
		ledger = quota.NewRedisLedger(d.Redis, d.Config.Redis.KeyPrefix, d.Logger, nil)
	case config.QuotaBackendPostgres:
		pg := d.RepoFactory.NewQuotaLedger()
		workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		d.stopWorkers = cancel
		go pg.StartResetWorker(workerCtx, d.Config.Quota.ResetInterval)
		ledger = pg
	default:
		ledger = quota.NewMemoryLedger(d.Logger, nil)
	}

	d.Ledger = quota.WithMetrics(ledger, d.Metrics)
	return nil
}

func (d *Dependencies) initAudit(ctx context.Context) error {
	cfg := d.Config.Audit

	if cfg.Sink != config.AuditSinkPostgres {
		var sink auditsvc.Sink = auditsvc.NewLoggerSink(d.Logger)
		if cfg.HashChain {
			sink = auditsvc.NewChainSink(sink, "")
		}
		d.AuditSink = sink
		return nil
	}

	repo := d.RepoFactory.NewRepositories().AuditRecords
	head := ""
	if cfg.HashChain {
		var err error
		if head, err = repo.LatestHash(ctx); err != nil {
			return fmt.Errorf("failed to load audit chain head: %w", err)
		}
	}

	// Records are chained by the writer, after they leave the queue
	async := auditsvc.NewAsyncSink(repo, d.Logger, auditsvc.Config{
		BufferSize:   cfg.BufferSize,
		WorkerCount:  cfg.Workers,
		WriteTimeout: auditsvc.DefaultConfig().WriteTimeout,
		HashChain:    cfg.HashChain,
		ChainHead:    head,
	})
	if err := async.Start(); err != nil {
		return err
	}
	d.Metrics.ObserveAuditQueue(func() observability.AuditQueueStats {
		st := async.GetStats()
		return observability.AuditQueueStats{
			Pending:   st.PendingRecords,
			Delivered: st.Delivered,
			Failed:    st.Failed,
			Dropped:   st.Dropped,
		}
	})
	d.asyncSink = async
	d.AuditRepo = repo
	d.AuditSink = async
	return nil
}

func (d *Dependencies) initPipeline(context.Context) error {
	if d.Provider == nil {
		base := providers.DefaultProviderConfig()
		base.APIKey = d.Config.Provider.APIKey
		base.BaseURL = d.Config.Provider.BaseURL
		base.Timeout = d.Config.Provider.Timeout
		d.Provider = openai.NewOpenAIAdapter(base)
	}

	invoker := inference.NewProviderInvoker(d.Provider, d.Config.Provider.Model, d.Logger)
	orch := pipeline.NewOrchestrator(invoker, d.Logger.Named("pipeline"),
		pipeline.WithMetrics(d.Metrics),
		pipeline.WithTracerProvider(otel.GetTracerProvider()),
	)

	quotaPlugin, err := quotaplugin.New(d.Ledger, d.Tenants, d.Logger.Named("quota"), PriorityQuota)
	if err != nil {
		return err
	}

	orch.RegisterAll(
		authn.New(d.Tenants, d.Logger.Named("authn"), PriorityAuthn),
		quotaPlugin,
		guardrail.New(d.Tenants, d.Logger.Named("guardrail"), PriorityGuardrail),
		pii.New(d.Tenants, d.Logger.Named("pii"), PriorityPII),
		contentfilter.New(d.Tenants, d.Logger.Named("contentfilter"), PriorityContentFilter),
		auditplugin.New(d.AuditSink, d.Logger, PriorityAudit),
	)

	d.Orchestrator = orch
	d.Inference = inference.NewService(orch, d.Tenants, d.Logger)
	return nil
}

// AuditStats reports the audit write queue. ok is false when audit records
// are not queued for storage.
func (d *Dependencies) AuditStats() (stats auditsvc.Stats, ok bool) {
	if d.asyncSink == nil {
		return auditsvc.Stats{}, false
	}
	return d.asyncSink.GetStats(), true
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.stopWorkers != nil {
		d.stopWorkers()
	}

	// Drain pending audit records before the pool closes
	if d.asyncSink != nil {
		if err := d.asyncSink.Stop(d.Config.Audit.ShutdownTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit sink: %w", err))
		}
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}
