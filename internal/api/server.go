package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-virtual-lab/internal/auth"
	"github.com/lorawan-server/lorawan-virtual-lab/internal/config"
	"github.com/lorawan-server/lorawan-virtual-lab/internal/simulation"
	"github.com/lorawan-server/lorawan-virtual-lab/internal/validation"
)

type contextKey string

const claimsKey contextKey = "claims"

// Executor runs f on the goroutine that owns the lab and waits for it.
// clock.Loop implements it.
type Executor interface {
	Do(ctx context.Context, f func()) error
}

// RESTServer represents the REST API server
type RESTServer struct {
	config    *config.Config
	lab       *simulation.Lab
	exec      Executor
	hub       *WSHub
	auth      *auth.JWTManager
	validator *validation.Validator
	router    chi.Router
	server    *http.Server
}

// NewRESTServer creates a new REST API server. hub may be nil, in which
// case the WebSocket endpoint is not mounted.
func NewRESTServer(cfg *config.Config, lab *simulation.Lab, exec Executor, hub *WSHub) *RESTServer {
	s := &RESTServer{
		config:    cfg,
		lab:       lab,
		exec:      exec,
		hub:       hub,
		auth:      auth.NewJWTManager(&cfg.JWT),
		validator: validation.NewValidator(),
		router:    chi.NewRouter(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: it would cut long-lived WebSocket streams
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Handler returns the router, mainly for tests
func (s *RESTServer) Handler() http.Handler {
	return s.router
}

// Mount attaches an extra handler, e.g. the metrics endpoint
func (s *RESTServer) Mount(pattern string, h http.Handler) {
	s.router.Handle(pattern, h)
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.API.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})
}

// requestLogger logs each request through zerolog
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr

	// 挂载静态文件服务 (Web UI)
	webDir := s.config.Web.StaticDir
	if envWebDir := os.Getenv("WEB_DIR"); envWebDir != "" {
		webDir = envWebDir
	}

	// 检查 web 目录是否存在
	if _, err := os.Stat(webDir); os.IsNotExist(err) {
		log.Warn().Str("dir", webDir).Msg("Web directory not found, dashboard will not be available")
	} else {
		log.Info().Str("dir", webDir).Msg("Serving dashboard from directory")

		fs := http.FileServer(http.Dir(webDir))
		s.server.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// API 路径由 chi 路由处理
			if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == s.config.Metrics.Path {
				s.router.ServeHTTP(w, r)
				return
			}

			// 没有扩展名的路径返回 index.html
			if r.URL.Path == "/" || !strings.Contains(r.URL.Path, ".") {
				http.ServeFile(w, r, filepath.Join(webDir, "index.html"))
				return
			}

			fs.ServeHTTP(w, r)
		})
	}

	log.Info().Str("addr", addr).Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// authMiddleware is the authentication middleware. It lets everything
// through when JWT is disabled.
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.config.JWT.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		// Get token from header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.respondError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		// Parse Bearer token
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.respondError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		// Validate token
		claims, err := s.auth.ValidateToken(parts[1])
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		// Add claims to context
		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
