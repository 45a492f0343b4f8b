package main

import (
	"context"
	"crypto/rsa"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	api "github.com/mind-engage/lti-assistant/internal/api/http"
	"github.com/mind-engage/lti-assistant/internal/auth/jwks"
	"github.com/mind-engage/lti-assistant/internal/chat"
	"github.com/mind-engage/lti-assistant/internal/config"
	"github.com/mind-engage/lti-assistant/internal/course"
	"github.com/mind-engage/lti-assistant/internal/logging"
	"github.com/mind-engage/lti-assistant/internal/lti"
	"github.com/mind-engage/lti-assistant/internal/metrics"
	"github.com/mind-engage/lti-assistant/internal/ratelimit"
	"github.com/mind-engage/lti-assistant/internal/rbac"
	"github.com/mind-engage/lti-assistant/internal/secrets"
	"github.com/mind-engage/lti-assistant/internal/session"
)

// app wires every component from one Config.
type app struct {
	cfg config.Config
	log zerolog.Logger
	db  *sql.DB

	metrics   *metrics.Collector
	sessions  *session.Store
	cookies   session.CookiePolicy
	courses   *course.Service
	chat      *chat.Service
	publisher *jwks.Publisher
	signer    *lti.DeepLinkSigner
	handshake *lti.Handshake
	validator *lti.Validator
	launcher  *api.Launcher
	limiter   *ratelimit.Limiter
	redis     redis.UniversalClient
}

func newApp(cfg config.Config, log zerolog.Logger, dbh *sql.DB, reg *prometheus.Registry) (*app, error) {
	cipher, err := secrets.NewCipher(cfg.EncryptionSecret)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, db: dbh, metrics: metrics.New(reg)}
	a.sessions = session.NewStore(dbh, session.WithTTL(cfg.SessionTTL), session.WithObserver(a.metrics))
	a.cookies = session.CookiePolicy{Production: cfg.Production(), TTL: cfg.SessionTTL}
	a.courses = course.NewService(course.NewSQLStore(dbh), cipher, log)
	a.chat = chat.NewService(a.courses, chat.NewClient(cfg.OpenAIAPIURL), chat.NewTranscripts(dbh), log)

	if err := a.loadKeys(); err != nil {
		return nil, err
	}

	var replay lti.ReplayGuard = lti.NewMemoryReplay(256)
	if cfg.RedisURL != "" {
		ropts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		a.redis = redis.NewClient(ropts)
		replay = lti.NewRedisReplay(a.redis, "")
	}

	keys := lti.NewKeySetCache(cfg.LTIKeySetURL,
		lti.WithMaxAge(cfg.KeySetMaxAge),
		lti.WithCooldown(cfg.KeySetCooldown),
		lti.WithRefreshObserver(a.metrics.KeySetRefreshed),
	)
	a.handshake = &lti.Handshake{
		Issuer:    cfg.LTIIssuer,
		ClientID:  cfg.LTIClientID,
		AuthURL:   cfg.LTIAuthURL,
		LaunchURL: cfg.LTILaunchURL,
		Secure:    cfg.Production(),
	}
	a.validator = &lti.Validator{
		Verifier: newVerifier(cfg, keys, log),
		Replay:   replay,
		Skew:     cfg.ClockSkew,
	}
	a.launcher = &api.Launcher{
		Courses:    a.courses,
		Sessions:   a.sessions,
		Cookies:    a.cookies,
		AppURL:     cfg.PublicURL,
		TrustProxy: cfg.TrustProxy,
		Log:        log,
	}
	a.limiter = ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, log)
	return a, nil
}

// loadKeys parses the tool key pair. The public half is derived from the
// private key when not given separately.
func (a *app) loadKeys() error {
	var priv *rsa.PrivateKey
	if a.cfg.LTIPrivateKey != "" {
		k, err := jwks.ParsePrivateKeyPEM(a.cfg.LTIPrivateKey)
		if err != nil {
			return fmt.Errorf("LTI_PRIVATE_KEY: %w", err)
		}
		priv = k
	}

	switch {
	case a.cfg.LTIPublicKey != "":
		pub, err := jwks.NewPublisher(a.cfg.LTIPublicKey, a.cfg.LTIKID)
		if err != nil {
			return fmt.Errorf("LTI_PUBLIC_KEY: %w", err)
		}
		a.publisher = pub
	case priv != nil:
		a.publisher = jwks.NewPublisherFromKey(&priv.PublicKey, a.cfg.LTIKID)
	default:
		a.publisher, _ = jwks.NewPublisher("", a.cfg.LTIKID)
		a.log.Warn().Msg("no tool signing key configured; key set is empty and deep linking is disabled")
	}

	a.signer = &lti.DeepLinkSigner{
		ClientID: a.cfg.LTIClientID,
		Issuer:   a.cfg.LTIIssuer,
		KID:      a.cfg.LTIKID,
		Key:      priv,
	}
	return nil
}

func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if a.cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(logging.RequestLogger(a.log), middleware.Recoverer, a.metrics.Middleware)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", api.Healthz)
	r.Get("/readyz", api.Readyz(a.db))
	r.Handle("/metrics", a.metrics.Handler())

	keySet := jwks.Handler(a.publisher, a.log)
	for _, p := range []string{"/.well-known/jwks.json", "/api/lti/jwks"} {
		r.Get(p, keySet)
		r.Head(p, keySet)
	}

	r.Route("/api", func(ar chi.Router) {
		// unauthenticated LTI entry points
		ar.Group(func(lr chi.Router) {
			lr.Use(a.limiter.Middleware)
			login := lti.LoginHandler(a.handshake, a.log, a.metrics)
			lr.Get("/lti/login", login)
			lr.Post("/lti/login", login)
			lr.Post("/lti/launch", lti.LaunchHandler(a.validator, a.handshake, a.launcher.Complete, a.log, a.metrics))
		})

		// session cookie, then role checks
		ar.Group(func(pr chi.Router) {
			pr.Use(session.Middleware(a.sessions, api.RoleOf, a.log))

			pr.With(rbac.Require(rbac.PermSessionView)).
				Get("/session", api.SessionInfoHandler())
			pr.Post("/logout", api.LogoutHandler(a.sessions, a.cookies, a.log))

			pr.With(rbac.Require(rbac.PermCourseConfigure)).
				Get("/dashboard", api.DashboardHandler(a.courses, a.log))
			pr.With(rbac.Require(rbac.PermCourseConfigure)).
				Post("/dashboard/setup", api.SetupHandler(a.courses, a.cfg.PublicURL, a.log))

			pr.With(rbac.Require(rbac.PermChatUse)).
				Post("/chat", api.ChatHandler(a.chat, a.log))

			pr.With(rbac.Require(rbac.PermDeepLinkSign)).
				Post("/lti/deep-linking/response", api.DeepLinkHandler(a.signer, a.log))
		})
	})
	return r
}

func (a *app) sweeper() *session.Sweeper {
	return &session.Sweeper{Store: a.sessions, Interval: a.cfg.SessionSweepInterval, Log: a.log}
}

func (a *app) close() {
	a.limiter.Stop()
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

// pingRedis fails fast on a misconfigured replay store.
func (a *app) pingRedis(ctx context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Ping(ctx).Err()
}
