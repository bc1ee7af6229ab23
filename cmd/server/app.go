package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"practice-portal/auth/internal/audit"
	auditrepo "practice-portal/auth/internal/audit/repository"
	"practice-portal/auth/internal/config"
	"practice-portal/auth/internal/db"
	"practice-portal/auth/internal/health"
	"practice-portal/auth/internal/identity/service"
	"practice-portal/auth/internal/notify"
	"practice-portal/auth/internal/policy/engine"
	rbacrepo "practice-portal/auth/internal/rbac/repository"
	rbacservice "practice-portal/auth/internal/rbac/service"
	revocation "practice-portal/auth/internal/revocation/repository"
	"practice-portal/auth/internal/security"
	"practice-portal/auth/internal/server/interceptors"
	sessionrepo "practice-portal/auth/internal/session/repository"
	"practice-portal/auth/internal/telemetry/otel"
	tokenservice "practice-portal/auth/internal/token/service"
	userrepo "practice-portal/auth/internal/user/repository"
	vdomain "practice-portal/auth/internal/verification/domain"
	vrepo "practice-portal/auth/internal/verification/repository"
)

// app holds every wired component of the auth service. close releases them in
// reverse order of construction.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	auth     *service.AuthService
	tokens   *tokenservice.Service
	sessions sessionrepo.Repository
	tx       db.Transactor
	resolver *rbacservice.Resolver
	health   *health.Server
	outbox   *notify.Outbox
	metrics  *otel.AuthMetrics
	registry *prometheus.Registry

	closers []func(context.Context) error
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.log.Warn().Err(err).Msg("shutdown")
		}
	}
}

// sessionValidator reports whether a session is still usable, for the gRPC
// auth interceptor.
func (a *app) sessionValidator() interceptors.SessionValidator {
	return func(ctx context.Context, sessionID string) (bool, error) {
		s, err := a.sessions.Get(ctx, sessionrepo.Lookup{ID: sessionID})
		if err != nil {
			return false, err
		}
		return s != nil && s.IsUsable(time.Now().UTC()), nil
	}
}

// stores groups the persistence layer, Postgres or in-memory.
type stores struct {
	users    userrepo.Repository
	sessions sessionrepo.Repository
	tokens   vrepo.Repository
	roles    rbacrepo.Repository
	audit    auditrepo.Repository
	tx       db.Transactor
	conn     *sql.DB
}

func openStores(cfg *config.Config, log zerolog.Logger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set; using in-memory stores")
		return &stores{
			users:    userrepo.NewMemoryRepository(),
			sessions: sessionrepo.NewMemoryRepository(),
			tokens:   vrepo.NewMemoryRepository(),
			roles:    rbacrepo.NewMemoryRepository(),
			audit:    auditrepo.NewMemoryRepository(),
			tx:       db.NewMemoryTransactor(),
		}, nil
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	return &stores{
		users:    userrepo.NewPostgresRepository(conn),
		sessions: sessionrepo.NewPostgresRepository(conn),
		tokens:   vrepo.NewPostgresRepository(conn),
		roles:    rbacrepo.NewPostgresRepository(conn),
		audit:    auditrepo.NewPostgresRepository(conn),
		tx:       db.NewSQLTransactor(conn),
		conn:     conn,
	}, nil
}

// shared is the state replicas must agree on: the revocation set and the
// permission cache generations. ping is nil when both are in-process.
type shared struct {
	revoked revocation.Store
	gens    rbacrepo.GenerationStore
	ping    health.CachePinger
}

// openShared backs the shared state with Redis when REDIS_URL is set.
func (a *app) openShared(ctx context.Context) (*shared, error) {
	if a.cfg.RedisURL == "" {
		a.log.Warn().Msg("REDIS_URL not set; revoked access tokens and cache generations are tracked in-process")
		return &shared{revoked: revocation.NewMemoryStore(), gens: rbacrepo.NewMemoryGenerations()}, nil
	}
	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	rdb := redis.NewClient(opts)
	a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
	store := revocation.NewRedisStore(rdb, revocation.DefaultRedisKey)
	if err := store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return &shared{
		revoked: store,
		gens:    rbacrepo.NewRedisGenerations(rdb, rbacrepo.DefaultGenerationPrefix),
		ping:    store,
	}, nil
}

// permissionCacheTTL disables the permission cache when several replicas
// can share the database but have no Redis to share cache generations.
func (a *app) permissionCacheTTL(postgres, redisBacked bool) time.Duration {
	if postgres && !redisBacked {
		a.log.Warn().Msg("REDIS_URL not set with a database; permission cache disabled")
		return 0
	}
	return a.cfg.PermissionCacheTTLDuration()
}

func newNotifier(cfg *config.Config, log zerolog.Logger) (notify.Notifier, *notify.Outbox) {
	senders := notify.Multi{notify.LogNotifier{Log: log}}
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		senders = append(senders, notify.NewKafkaNotifier(brokers, cfg.NotificationKafkaTopic))
		log.Info().Strs("brokers", brokers).Str("topic", cfg.NotificationKafkaTopic).Msg("notifications published to kafka")
	}
	var outbox *notify.Outbox
	if cfg.DevOutbox {
		outbox = notify.NewOutbox()
		senders = append(senders, outbox)
		log.Warn().Msg("DEV_OUTBOX enabled; notifications are readable at /dev/outbox")
	}
	return senders, outbox
}

func newPolicy(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*engine.OPAEvaluator, error) {
	if cfg.PolicyFile != "" {
		return engine.NewOPAEvaluatorFromFile(ctx, cfg.PolicyFile, log)
	}
	return engine.NewOPAEvaluator(ctx, engine.DefaultLoginPolicy, log)
}

// build wires the service from cfg. The caller must call close.
func build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	fail := func(err error) (*app, error) {
		a.close(context.Background())
		return nil, err
	}

	providers, err := otel.NewProviders(ctx, cfg.OTELEndpoint, cfg.OTELServiceName, cfg.OTELInsecure)
	if err != nil {
		return fail(fmt.Errorf("otel: %w", err))
	}
	providers.SetGlobal()
	a.closers = append(a.closers, providers.Shutdown)
	a.metrics, err = otel.NewAuthMetrics(providers.MeterProvider)
	if err != nil {
		return fail(fmt.Errorf("otel metrics: %w", err))
	}

	st, err := openStores(cfg, log)
	if err != nil {
		return fail(err)
	}
	if st.conn != nil {
		a.closers = append(a.closers, func(context.Context) error { return st.conn.Close() })
		a.registry.MustRegister(collectors.NewDBStatsCollector(st.conn, "auth"))
	}
	a.sessions = st.sessions
	a.tx = st.tx

	sh, err := a.openShared(ctx)
	if err != nil {
		return fail(err)
	}

	key, err := security.LoadSigningKey(cfg.JWTSigningKey)
	if err != nil {
		return fail(fmt.Errorf("signing key: %w", err))
	}
	codec, err := security.NewTokenCodec(key, cfg.JWTKeyID, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	if err != nil {
		return fail(fmt.Errorf("token codec: %w", err))
	}
	a.tokens, err = tokenservice.NewService(codec, st.sessions, st.tokens, sh.revoked, st.tx, tokenservice.Config{
		RefreshTTL: cfg.RefreshTTL(),
		OneTime: map[vdomain.TokenType]tokenservice.OneTimePolicy{
			vdomain.TypeEmailVerification: {TTL: cfg.EmailVerificationTTLDuration(), MaxAttempts: cfg.EmailVerificationMaxAttempts},
			vdomain.TypePasswordReset:     {TTL: cfg.PasswordResetTTLDuration(), MaxAttempts: cfg.PasswordResetMaxAttempts},
			vdomain.TypeTwoFactor:         {TTL: cfg.TwoFactorTTLDuration(), MaxAttempts: cfg.TwoFactorMaxAttempts},
			vdomain.TypeTrustedDevice:     {TTL: cfg.TrustedDeviceTTLDuration(), MaxAttempts: cfg.TrustedDeviceMaxAttempts},
		},
		UsedTokenRetention: cfg.UsedTokenRetentionDuration(),
	})
	if err != nil {
		return fail(fmt.Errorf("token service: %w", err))
	}

	totp, err := security.NewTOTP(cfg.TOTPIssuer, cfg.TOTPDigits, uint(cfg.TOTPPeriod), uint(cfg.TOTPSkew))
	if err != nil {
		return fail(fmt.Errorf("totp: %w", err))
	}
	policy, err := newPolicy(ctx, cfg, log)
	if err != nil {
		return fail(fmt.Errorf("policy: %w", err))
	}

	notifier, outbox := newNotifier(cfg, log)
	a.outbox = outbox
	a.closers = append(a.closers, func(context.Context) error { return notifier.Close() })

	auditLog := audit.NewLogger(st.audit, interceptors.GetClientIP, log).
		WithSink(otel.NewAuditSink(providers.LoggerProvider))

	a.resolver = rbacservice.NewResolver(st.roles, st.users, a.permissionCacheTTL(st.conn != nil, sh.ping != nil)).
		WithGenerations(sh.gens)
	a.auth = service.NewAuthService(service.Deps{
		Users:    st.users,
		Sessions: st.sessions,
		Tokens:   a.tokens,
		Resolver: a.resolver,
		Policy:   policy,
		Hasher:   security.NewHasher(cfg.BcryptCost),
		TOTP:     totp,
		Tx:       st.tx,
		Notifier: notifier,
		Audit:    auditLog,
		Metrics:  a.metrics,
		Log:      log,
	}, service.Options{
		LockoutThreshold:         cfg.LockoutThreshold,
		LockoutDuration:          cfg.LockoutDurationValue(),
		RequireEmailVerification: cfg.RequireEmailVerification,
		DefaultRole:              cfg.DefaultRole,
		RecoveryCodeCount:        cfg.RecoveryCodeCount,
	})

	// Untyped nil keeps the in-memory mode reported as skipped.
	var pinger health.Pinger
	if st.conn != nil {
		pinger = st.conn
	}
	a.health = health.NewServer(pinger, sh.ping, policy)
	return a, nil
}
