// Package dashboard exposes a small JSON API over the bot's state: today's
// levels, the open position slot, and the trade history.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/arjunvm/pivot_sentry/internal/config"
	"github.com/arjunvm/pivot_sentry/internal/models"
	"github.com/arjunvm/pivot_sentry/internal/positions"
	"github.com/arjunvm/pivot_sentry/internal/storage"
)

type Server struct {
	router    *chi.Mux
	server    *http.Server
	storage   storage.Interface
	book      *positions.Book
	cfg       *config.Config
	logger    *logrus.Logger
	port      int
	authToken string
}

func NewServer(cfg *config.Config, store storage.Interface, book *positions.Book, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		storage:   store,
		book:      book,
		cfg:       cfg,
		logger:    logger,
		port:      cfg.Dashboard.Port,
		authToken: cfg.Dashboard.AuthToken,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/api/levels", s.handleGetLevels)
	s.router.Get("/api/position", s.handleGetPosition)
	s.router.Get("/api/trades", s.handleGetTrades)
	s.router.Get("/healthz", s.handleHealth)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on port %d", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleGetLevels(w http.ResponseWriter, r *http.Request) {
	set, err := s.storage.LevelSet(time.Now().In(s.cfg.Location()))
	if err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, set)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	pos := s.book.Current()
	if pos == nil {
		s.writeJSON(w, map[string]any{"open": false})
		return
	}

	s.writeJSON(w, map[string]any{"open": true, "position": pos})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	trades := s.storage.Trades()
	if trades == nil {
		trades = []models.TradeEvent{}
	}

	s.writeJSON(w, map[string]any{"count": len(trades), "trades": trades})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":      "healthy",
		"market_open": s.cfg.IsWithinTradingHours(time.Now()),
		"timestamp":   time.Now().Unix(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
