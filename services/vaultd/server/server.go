package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"safevault/core/state"
	"safevault/native/bank"
	"safevault/native/vault"
	"safevault/observability"
	"safevault/services/vaultd/journal"
	"safevault/services/vaultd/middleware"
)

// RateLimitKey names the limiter bucket applied to mutating routes.
const RateLimitKey = "vault"

// Config wires the HTTP surface to the vault engine and its collaborators.
type Config struct {
	Engine        *vault.Engine
	State         *state.Manager
	Bank          *bank.Bank
	Journal       *journal.Journal
	Auth          *middleware.Authenticator
	Limiter       *middleware.RateLimiter
	Observability *middleware.Observability
	Metrics       *observability.VaultMetrics
	Gatherer      prometheus.Gatherer
	Stream        http.Handler
	Logger        *slog.Logger
}

// Server exposes vault instructions over HTTP/JSON.
type Server struct {
	engine  *vault.Engine
	state   *state.Manager
	bank    *bank.Bank
	journal *journal.Journal
	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	obs     *middleware.Observability
	metrics *observability.VaultMetrics
	gather  prometheus.Gatherer
	stream  http.Handler
	logger  *slog.Logger
	now     func() time.Time
}

func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil || cfg.State == nil || cfg.Bank == nil {
		return nil, errors.New("server: engine, state and bank are required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("server: authenticator required")
	}
	s := &Server{
		engine:  cfg.Engine,
		state:   cfg.State,
		bank:    cfg.Bank,
		journal: cfg.Journal,
		auth:    cfg.Auth,
		limiter: cfg.Limiter,
		obs:     cfg.Observability,
		metrics: cfg.Metrics,
		gather:  cfg.Gatherer,
		stream:  cfg.Stream,
		logger:  cfg.Logger,
		now:     time.Now,
	}
	if s.limiter == nil {
		s.limiter = middleware.NewRateLimiter(nil, cfg.Logger)
	}
	if s.obs == nil {
		s.obs = middleware.NewObservability(middleware.ObservabilityConfig{}, prometheus.NewRegistry(), cfg.Logger)
	}
	if s.metrics == nil {
		s.metrics = observability.Vault()
	}
	if s.gather == nil {
		s.gather = prometheus.DefaultGatherer
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.With(s.obs.Middleware("healthz")).Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))

	user := func(route string) chi.Router {
		return r.With(s.obs.Middleware(route), s.limiter.Middleware(RateLimitKey), s.auth.Middleware(middleware.ScopeUser))
	}
	admin := func(route string) chi.Router {
		return r.With(s.obs.Middleware(route), s.limiter.Middleware(RateLimitKey), s.auth.Middleware(middleware.ScopeAdmin))
	}
	public := func(route string) chi.Router {
		return r.With(s.obs.Middleware(route))
	}

	admin("vault.initialize").Post("/v1/vault/initialize", s.initialize)
	user("vault.deposit").Post("/v1/vault/deposit", s.deposit)
	user("vault.borrow").Post("/v1/vault/borrow", s.borrow)
	user("vault.repay").Post("/v1/vault/repay", s.repay)
	user("vault.withdraw").Post("/v1/vault/withdraw", s.withdraw)
	public("vault.ledger").Get("/v1/vault/ledger", s.getLedger)
	public("vault.position").Get("/v1/vault/positions/{owner}", s.getPosition)

	admin("bank.mint").Post("/v1/bank/mint", s.mint)
	public("bank.balance").Get("/v1/bank/balances/{owner}", s.getBalance)

	if s.journal != nil {
		admin("journal").Get("/v1/journal", s.listJournal)
	}
	if s.stream != nil {
		public("events").Get("/v1/events/ws", s.stream.ServeHTTP)
	}
	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
