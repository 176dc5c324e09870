package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/johanake/voxera/internal/api/middleware"
	"github.com/johanake/voxera/internal/call"
	"github.com/johanake/voxera/internal/carrier"
	"github.com/johanake/voxera/internal/config"
	"github.com/johanake/voxera/internal/database"
	"github.com/johanake/voxera/internal/pstn"
	"github.com/johanake/voxera/internal/routing"
)

// CallNotifier pushes call teardown events to connected softphone
// clients. Implemented by signaling.Router.
type CallNotifier interface {
	NotifyCallEnded(sess *call.Session, reason string)
}

// Deps bundles everything the HTTP layer needs. Notifier, Carrier,
// Bridge, WSHandler and Metrics may be nil; their routes degrade to 404
// or 503.
type Deps struct {
	Config       *config.Config
	Users        database.UserRepository
	Numbers      database.PhoneNumberRepository
	Flows        database.CallFlowRepository
	History      database.CallHistoryRepository
	SystemConfig database.SystemConfigRepository

	Registry   *call.Registry
	Presence   *call.Presence
	Extensions *call.Extensions

	Sessions     *middleware.SessionStore
	ClientTokens *middleware.ClientTokens
	Notifier     CallNotifier
	Carrier      *carrier.Client
	Bridge       *pstn.Bridge
	WSHandler    http.Handler
	Metrics      http.Handler
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router *chi.Mux
	cfg    *config.Config

	users        database.UserRepository
	numbers      database.PhoneNumberRepository
	flows        database.CallFlowRepository
	history      database.CallHistoryRepository
	systemConfig database.SystemConfigRepository

	registry   *call.Registry
	presence   *call.Presence
	extensions *call.Extensions

	sessions      *middleware.SessionStore
	clientTokens  *middleware.ClientTokens
	notifier      CallNotifier
	carrier       *carrier.Client
	bridge        *pstn.Bridge
	wsHandler     http.Handler
	metrics       http.Handler
	flowValidator *routing.Validator

	apiLimiter  *middleware.IPRateLimiter
	authLimiter *middleware.IPRateLimiter
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(deps Deps) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		cfg:           deps.Config,
		users:         deps.Users,
		numbers:       deps.Numbers,
		flows:         deps.Flows,
		history:       deps.History,
		systemConfig:  deps.SystemConfig,
		registry:      deps.Registry,
		presence:      deps.Presence,
		extensions:    deps.Extensions,
		sessions:      deps.Sessions,
		clientTokens:  deps.ClientTokens,
		notifier:      deps.Notifier,
		carrier:       deps.Carrier,
		bridge:        deps.Bridge,
		wsHandler:     deps.WSHandler,
		metrics:       deps.Metrics,
		flowValidator: routing.NewValidator(deps.Users),
		apiLimiter:    middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig()),
		authLimiter:   middleware.NewIPRateLimiter(middleware.AuthRateLimitConfig()),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the background rate-limiter goroutines.
func (s *Server) Close() {
	s.apiLimiter.Stop()
	s.authLimiter.Stop()
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router
	secure := s.cfg.TLSEnabled()

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders(secure))
	r.Use(middleware.CORS(middleware.ParseCORSOrigins(s.cfg.CORSOrigins)))

	requireAuth := middleware.RequireAuth(s.sessions, secure)
	requireClient := middleware.RequireClientAuth(s.clientTokens)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	if s.wsHandler != nil {
		r.Method(http.MethodGet, "/ws", s.wsHandler)
	}

	// Carrier webhooks authenticate by request signature, not session.
	if s.bridge != nil {
		r.Post("/pstn/inbound", s.bridge.HandleInbound)
		r.Post("/pstn/status", s.bridge.HandleStatus)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.apiLimiter))

		r.Get("/health", s.handleHealth)

		// First-boot setup and logins get the stricter limiter.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.authLimiter))
			r.Post("/setup", s.handleSetup)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/client/login", s.handleClientLogin)
		})

		// Admin panel routes, session-cookie authenticated.
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/me", s.handleMe)

			r.Route("/users", func(r chi.Router) {
				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetUser)
					r.Put("/", s.handleUpdateUser)
					r.Delete("/", s.handleDeleteUser)
				})
			})

			r.Route("/numbers", func(r chi.Router) {
				r.Get("/", s.handleListNumbers)
				r.Post("/", s.handleCreateNumber)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetNumber)
					r.Put("/", s.handleUpdateNumber)
					r.Delete("/", s.handleDeleteNumber)
				})
			})

			r.Route("/flows", func(r chi.Router) {
				r.Get("/", s.handleListFlows)
				r.Post("/", s.handleCreateFlow)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetFlow)
					r.Put("/", s.handleUpdateFlow)
					r.Delete("/", s.handleDeleteFlow)
					r.Post("/validate", s.handleValidateFlow)
					r.Post("/publish", s.handlePublishFlow)
					r.Post("/unpublish", s.handleUnpublishFlow)
				})
			})

			r.Get("/history", s.handleListHistory)
			r.Get("/history/{id}", s.handleGetHistory)

			r.Get("/calls/active", s.handleActiveCalls)
			r.Post("/calls/{id}/hangup", s.handleHangupCall)
			r.Get("/presence", s.handlePresence)

			r.Get("/settings", s.handleGetSettings)
			r.Put("/settings", s.handleUpdateSettings)

			r.Get("/dashboard/stats", s.handleDashboardStats)
		})

		// Softphone client routes, bearer-token authenticated.
		r.Route("/client", func(r chi.Router) {
			r.Use(requireClient)
			r.Get("/me", s.handleClientMe)
			r.Get("/token", s.handleClientMediaToken)
			r.Get("/history", s.handleClientHistory)
		})
	})
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
