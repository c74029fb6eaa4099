// Package web provides the HTTP API for the import batch engine: batch
// lifecycle endpoints, commit progress streaming over SSE, and the
// collection/profile/history read surface.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sitebooks/importer/internal/config"
	"github.com/sitebooks/importer/internal/engine"
	"github.com/sitebooks/importer/internal/profile"
	"github.com/sitebooks/importer/internal/store"
	mw "github.com/sitebooks/importer/internal/web/middleware"
)

// Server is the HTTP server for the import API.
type Server struct {
	service  *engine.Service
	profiles *profile.Store
	history  store.HistoryStore // nil disables /api/history
	cfg      *config.Config
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates a Server instance wired to the given service.
func NewServer(service *engine.Service, profiles *profile.Store, history store.HistoryStore, cfg *config.Config) *Server {
	s := &Server{
		service:  service,
		profiles: profiles,
		history:  history,
		cfg:      cfg,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	if len(s.cfg.Server.TrustedProxies) > 0 {
		s.router.Use(mw.ClientIP(s.cfg.Server.TrustedProxies))
	} else {
		s.router.Use(middleware.RealIP)
	}
	s.router.Use(mw.RequestLog)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		limiter := newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute)
		s.router.Use(limiter.middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// The SSE stream outlives the request timeout; it gets its own group.
		r.Get("/batches/{batchID}/commit/progress", s.handleCommitProgress)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

			// Stateless detection for the upload wizard's first step
			r.Post("/detect", s.handleDetect)

			// Target collections
			r.Get("/collections", s.handleListCollections)

			// Mapping profiles
			r.Get("/profiles", s.handleListProfiles)
			r.Post("/profiles", s.handleSaveProfile)
			r.Get("/profiles/{name}", s.handleGetProfile)
			r.Delete("/profiles/{name}", s.handleDeleteProfile)

			// Import history (audit trail)
			r.Get("/history", s.handleHistory)

			// Batch lifecycle
			r.Post("/batches", s.handleCreateBatch)
			r.Get("/batches", s.handleListBatches)
			r.Route("/batches/{batchID}", func(r chi.Router) {
				r.Get("/", s.handleGetBatch)
				r.Post("/data", s.handleUploadData)
				r.Post("/detect", s.handleDetectBatch)
				r.Post("/automatch", s.handleAutoMatch)
				r.Get("/mappings", s.handleGetMappings)
				r.Put("/mappings", s.handleSaveMappings)
				r.Post("/validate", s.handleValidate)
				r.Get("/errors", s.handleGetErrors)
				r.Get("/errors.csv", s.handleExportErrors)
				r.Post("/preview", s.handlePreview)
				r.Post("/commit", s.handleCommit)
				r.Get("/commit/result", s.handleCommitResult)
				r.Post("/commit/cancel", s.handleCancelCommit)
			})
		})
	})
}

// Start begins listening on the configured address. Blocks until the server
// exits.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout, // 0 keeps SSE streams open
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// securityHeaders sets baseline hardening headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// visitor tracks request counts for one client IP.
type visitor struct {
	tokens    int
	lastReset time.Time
}

// rateLimiter is a simple fixed-window limiter keyed by client IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // requests per window
	window   time.Duration // time window
}

func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
	}
	// Start cleanup goroutine
	go rl.cleanup()
	return rl
}

func (rl *rateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastReset) > rl.window*2 {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		rl.visitors[ip] = &visitor{
			tokens:    rl.rate - 1, // consume one token
			lastReset: time.Now(),
		}
		return true
	}

	// Reset tokens if window has passed
	if time.Since(v.lastReset) > rl.window {
		v.tokens = rl.rate - 1
		v.lastReset = time.Now()
		return true
	}

	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(r.RemoteAddr) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v interface{}) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
