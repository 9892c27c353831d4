// Package control exposes the dispatcher and discovery surfaces over HTTP for
// GUI collaborators.
package control

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/danmuck/bittyctl/internal/auth"
	"github.com/danmuck/bittyctl/internal/discovery"
	"github.com/danmuck/bittyctl/internal/dispatch"
	"github.com/danmuck/bittyctl/internal/logging"
	"github.com/danmuck/bittyctl/internal/observability"
)

type Config struct {
	Addr        string
	CorsOrigins []string
	// Token, when set, is required as a bearer token on mutating routes.
	Token string
}

// Server is the HTTP control surface.
type Server struct {
	cfg        Config
	dispatcher *dispatch.Dispatcher
	discoverer *discovery.Discoverer
	replug     *discovery.Supervisor
	router     *gin.Engine
	started    time.Time

	// base scopes replug watches started over HTTP; request contexts end
	// with the response.
	base context.Context
}

func New(cfg Config, d *dispatch.Dispatcher, disc *discovery.Discoverer, replug *discovery.Supervisor) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logging.Logger()))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:        cfg,
		dispatcher: d,
		discoverer: disc,
		replug:     replug,
		router:     r,
		started:    time.Now(),
		base:       context.Background(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

// Serve listens on cfg.Addr until ctx ends.
func (s *Server) Serve(ctx context.Context) error {
	s.base = ctx
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Infof("control.Server.Serve listening addr=%q", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		logging.Infof("control.Server.Serve shutdown addr=%q", s.cfg.Addr)
		return srv.Shutdown(shutdownCtx)
	}
}

// requireToken rejects requests whose bearer token fails v.
func requireToken(v auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := v.Validate(auth.BearerToken(c.GetHeader("Authorization"))); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
