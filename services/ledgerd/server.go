package ledgerd

import (
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"ticketledger/crypto"
	"ticketledger/gateway/middleware"
	"ticketledger/native/billing"
	"ticketledger/observability"
)

// CallerHeader names the caller when bearer auth is disabled. With auth
// enabled the caller is the token subject.
const CallerHeader = "X-Ledger-Caller"

// Rate limit buckets.
const (
	LimitAdmin = "admin"
	LimitHooks = "hooks"
	LimitRead  = "read"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine      *billing.Engine
	Journal     *Journal
	Auth        middleware.AuthConfig
	RateLimits  map[string]middleware.RateLimit
	Logger      *slog.Logger
	Telemetry   bool
	LogRequests bool
}

// Server exposes the billing engine over HTTP.
type Server struct {
	engine  *billing.Engine
	journal *Journal
	logger  *slog.Logger
	authOn  bool

	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	obs     *middleware.Observability
	router  http.Handler
}

// New constructs a configured HTTP router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limiter := middleware.NewRateLimiter(cfg.RateLimits, logger)
	limiter.OnThrottle(observability.HTTP().RecordThrottle)
	srv := &Server{
		engine:  cfg.Engine,
		journal: cfg.Journal,
		logger:  logger,
		authOn:  cfg.Auth.Enabled,
		auth:    middleware.NewAuthenticator(cfg.Auth, logger),
		limiter: limiter,
		obs: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: "ledgerd",
			Enabled:     cfg.Telemetry,
			LogRequests: cfg.LogRequests,
		}, observability.HTTP(), logger),
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) with(route, bucket, scope string) chi.Middlewares {
	return chi.Middlewares{
		s.obs.Middleware(route),
		s.limiter.Middleware(bucket),
		s.auth.Middleware(scope),
	}
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", s.obs.MetricsHandler())

	r.Route("/v1", func(api chi.Router) {
		api.With(s.with("events.list", LimitRead, middleware.ScopeRead)...).Get("/events", s.listEvents)
		api.With(s.with("events.register", LimitAdmin, middleware.ScopeAdmin)...).Post("/events", s.registerEvent)

		api.Route("/events/{event}", func(ev chi.Router) {
			ev.With(s.with("events.get", LimitRead, middleware.ScopeRead)...).Get("/", s.getEvent)
			ev.With(s.with("events.stats", LimitRead, middleware.ScopeRead)...).Get("/stats", s.getStats)
			ev.With(s.with("events.rules", LimitAdmin, middleware.ScopeAdmin)...).Put("/rules", s.updateRules)
			ev.With(s.with("events.policy", LimitAdmin, middleware.ScopeAdmin)...).Put("/policy", s.setPolicy)
			ev.With(s.with("events.final_price", LimitHooks, middleware.ScopeHooks)...).Post("/final-price", s.finalPrice)

			ev.With(s.with("escrow.balance", LimitRead, middleware.ScopeRead)...).Get("/escrow/{account}", s.escrowBalance)
			ev.With(s.with("escrow.unlock", LimitAdmin, middleware.ScopeAdmin)...).Post("/escrow/{account}/unlock", s.unlockEscrow)

			ev.Route("/tickets/{ticket}", func(tk chi.Router) {
				tk.With(s.with("tickets.allocate", LimitHooks, middleware.ScopeHooks)...).Post("/allocate", s.allocate)
				tk.With(s.with("tickets.sell", LimitHooks, middleware.ScopeHooks)...).Post("/sell", s.sell)
				tk.With(s.with("tickets.buy", LimitHooks, middleware.ScopeHooks)...).Post("/buy", s.buy)
				tk.With(s.with("tickets.transfer", LimitHooks, middleware.ScopeHooks)...).Post("/transfer", s.transfer)
				tk.With(s.with("tickets.redeem", LimitHooks, middleware.ScopeHooks)...).Post("/redeem", s.redeem)
				tk.With(s.with("tickets.refund", LimitHooks, middleware.ScopeHooks)...).Post("/refund", s.refund)
				tk.With(s.with("tickets.refund_confirm", LimitHooks, middleware.ScopeHooks)...).Post("/refund/confirm", s.confirmRefund)
			})
		})

		api.With(s.with("balances.get", LimitRead, middleware.ScopeRead)...).Get("/balances/{currency}/{account}", s.getBalance)
		api.With(s.with("balances.deposit", LimitAdmin, middleware.ScopeAdmin)...).Post("/balances/{currency}/{account}/deposit", s.deposit)
		api.With(s.with("journal.list", LimitRead, middleware.ScopeRead)...).Get("/journal", s.listJournal)
	})
	return r
}

// caller resolves the account acting on the request. Token subjects that are
// not ids themselves are mapped into the id space with crypto.DeriveID.
func (s *Server) caller(r *http.Request) ([20]byte, error) {
	if s.authOn {
		subject := middleware.Subject(r.Context())
		if subject == "" {
			return [20]byte{}, nil
		}
		if id, err := crypto.ParseID(subject); err == nil {
			return id, nil
		}
		return crypto.DeriveID(subject), nil
	}
	raw := strings.TrimSpace(r.Header.Get(CallerHeader))
	if raw == "" {
		return [20]byte{}, nil
	}
	id, err := crypto.ParseID(raw)
	if err != nil {
		return id, badRequest("%s: %v", CallerHeader, err)
	}
	return id, nil
}

func pathID(r *http.Request, name string) ([20]byte, error) {
	id, err := crypto.ParseID(chi.URLParam(r, name))
	if err != nil {
		return id, badRequest("%s: %v", name, err)
	}
	return id, nil
}

func pathTicket(r *http.Request) ([32]byte, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "ticket"))
	if raw == "" {
		return [32]byte{}, badRequest("ticket required")
	}
	return crypto.ParseTicketID(raw), nil
}

func parseID(field, raw string) ([20]byte, error) {
	id, err := crypto.ParseID(raw)
	if err != nil {
		return id, badRequest("%s: %v", field, err)
	}
	return id, nil
}

func parseAmountField(field, raw string) (*big.Int, error) {
	value, err := parseAmount(raw)
	if err != nil {
		return nil, badRequest("%s: %v", field, err)
	}
	return value, nil
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return badRequest("request body required")
		}
		return badRequest("decode body: %v", err)
	}
	return nil
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("ledgerd: request failed",
			"request_id", middleware.RequestID(r.Context()),
			"route", r.URL.Path,
			"error", err)
	}
	writeJSONError(w, status, err)
}
