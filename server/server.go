// Package server wires the HTTP router, middleware chain, and listener.
package server

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"lmsrmarket/engine"
	"lmsrmarket/handlers/markets"
	"lmsrmarket/handlers/settle"
	"lmsrmarket/handlers/trade"
	"lmsrmarket/handlers/users"
	"lmsrmarket/setup"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Server holds the HTTP stack for the market service.
type Server struct {
	config *setup.Config
	db     *gorm.DB
	engine *engine.Engine
	logger *zap.Logger
}

// New builds a server around an already-migrated database.
func New(config *setup.Config, db *gorm.DB, eng *engine.Engine, logger *zap.Logger) *Server {
	return &Server{config: config, db: db, engine: eng, logger: logger}
}

// Router assembles all routes under /v0.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	v0 := r.PathPrefix("/v0").Subrouter()

	v0.HandleFunc("/users/register", users.RegisterHandler(s.db, &s.config.Economics)).Methods(http.MethodPost)
	v0.HandleFunc("/users/login", users.LoginHandler(s.db, &s.config.Auth)).Methods(http.MethodPost)
	v0.HandleFunc("/users/me", users.PortfolioHandler(s.db, &s.config.Auth)).Methods(http.MethodGet)

	v0.HandleFunc("/wallet/approve", users.ApproveHandler(s.db, &s.config.Auth)).Methods(http.MethodPost)
	v0.HandleFunc("/wallet/transfer", users.TransferHandler(s.db, &s.config.Auth)).Methods(http.MethodPost)

	v0.HandleFunc("/markets", markets.CreateHandler(s.db, s.engine, s.config)).Methods(http.MethodPost)
	v0.HandleFunc("/markets", markets.ListHandler(s.db, s.engine)).Methods(http.MethodGet)
	v0.HandleFunc("/markets/{marketId}", markets.DetailHandler(s.db, s.engine)).Methods(http.MethodGet)
	v0.HandleFunc("/markets/{marketId}/events", markets.EventsHandler(s.engine)).Methods(http.MethodGet)

	v0.HandleFunc("/markets/{marketId}/quote", trade.QuoteHandler(s.engine)).Methods(http.MethodGet)
	v0.HandleFunc("/markets/{marketId}/price", trade.PriceHandler(s.engine)).Methods(http.MethodGet)
	v0.HandleFunc("/markets/{marketId}/buy", trade.BuyHandler(s.db, s.engine, &s.config.Auth)).Methods(http.MethodPost)
	v0.HandleFunc("/markets/{marketId}/sell", trade.SellHandler(s.db, s.engine, &s.config.Auth)).Methods(http.MethodPost)

	v0.HandleFunc("/markets/{marketId}/close", settle.CloseHandler(s.db, s.engine, &s.config.Auth)).Methods(http.MethodPost)
	v0.HandleFunc("/markets/{marketId}/outcome", settle.SetOutcomeHandler(s.db, s.engine, &s.config.Auth)).Methods(http.MethodPost)
	v0.HandleFunc("/markets/{marketId}/claim", settle.ClaimHandler(s.db, s.engine, &s.config.Auth)).Methods(http.MethodPost)
	v0.HandleFunc("/markets/{marketId}/fees/withdraw", settle.WithdrawFeesHandler(s.db, s.engine, &s.config.Auth)).Methods(http.MethodPost)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	}).Methods(http.MethodGet)

	handler := s.requestLogging(s.rateLimit(r))
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
	}).Handler(handler)
}

// Run blocks serving HTTP on the configured port.
func (s *Server) Run() error {
	addr := fmt.Sprintf(":%d", s.config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	s.logger.Sugar().Infow("listening", "addr", addr)
	return srv.ListenAndServe()
}

// responseWriter captures the status code for the request log.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(wrapped, r)

		s.logger.Sugar().Infow("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

// rateLimit applies a per-client token bucket keyed by remote IP.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	limiterFor := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		limiter, ok := limiters[ip]
		if !ok {
			limiter = rate.NewLimiter(rate.Limit(20), 40)
			limiters[ip] = limiter
		}
		return limiter
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !limiterFor(ip).Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
