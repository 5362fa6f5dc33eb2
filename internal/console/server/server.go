package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/constraint-ledger/internal/console/handler"
	"github.com/xela07ax/constraint-ledger/internal/engine"
	"github.com/xela07ax/constraint-ledger/internal/infra/auth"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Проверка RS256 токенов. nil - авторизация выключена
	authValidator auth.TokenValidator

	constraintHandler *handler.ConstraintHandler // /v1/constraints
	auditHandler      *handler.AuditHandler      // /v1/constraints/{id}/audit
}

// NewConsoleServer собирает HTTP API ограничений.
// validator передавать нетипизированным nil, если ключа нет.
func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	constraintH *handler.ConstraintHandler,
	auditH *handler.AuditHandler,
) *ConsoleServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ConsoleServer{
		router:            chi.NewRouter(),
		logger:            logger.Named("http-api"),
		authValidator:     validator,
		constraintHandler: constraintH,
		auditHandler:      auditH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(engine.TracingMiddleware)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))
		write := auth.RequireScope(auth.ScopeWrite)

		r.Route("/v1/constraints", func(r chi.Router) {
			r.Get("/", s.constraintHandler.List) // Табло
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.constraintHandler.Get)
				r.Get("/events", s.constraintHandler.Events)
				if s.auditHandler != nil {
					r.Get("/audit", s.auditHandler.GetLogs)
				}

				r.With(write).Post("/claim", s.constraintHandler.Claim)
				r.With(write).Post("/validate", s.constraintHandler.Validate)
				r.With(write).Post("/release", s.constraintHandler.Release)
			})
		})
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
