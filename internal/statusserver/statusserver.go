// Package statusserver exposes a minimal read-only HTTP surface over the
// engine's live state: open positions, account capacity, and the
// Prometheus metrics endpoint (spec.md §4.8 supplement). It never accepts
// an order or position mutation — every route is a GET.
//
// Grounded on the teacher's internal/api/server.go for the gin+CORS
// wiring, simplified to a single bearer-token check instead of the
// teacher's full session/JWT auth stack, since this surface has no
// concept of a logged-in user — only one operator credential.
package statusserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/lseng/topstep-bot-5.0-sub000/internal/position"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/router"
)

// Config configures the status server.
type Config struct {
	Addr             string
	OperatorTokenHash string // bcrypt hash of the operator bearer token; empty disables auth
	AllowedOrigins   []string
}

// Server is the read-only status/metrics HTTP surface.
type Server struct {
	cfg        Config
	httpServer *http.Server
	router     *router.Router
}

// New builds a Server. routerDeps is the Multi-Account Router, the single
// source of truth for live positions across every account.
func New(cfg Config, routerDeps *router.Router) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	engine.Use(cors.New(corsConfig))

	s := &Server{
		cfg:    cfg,
		router: routerDeps,
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      engine,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}

	group := engine.Group("/", s.authMiddleware())
	group.GET("/healthz", s.handleHealth)
	group.GET("/positions", s.handlePositions)
	group.GET("/capacity", s.handleCapacity)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return s
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.OperatorTokenHash == "" {
			c.Next()
			return
		}
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" || bcrypt.CompareHashAndPassword([]byte(s.cfg.OperatorTokenHash), []byte(token)) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handlePositions(c *gin.Context) {
	var all []position.Position
	for _, acct := range s.router.Accounts() {
		m, ok := s.router.Machine(acct.ID)
		if !ok {
			continue
		}
		all = append(all, m.Positions()...)
	}
	c.JSON(http.StatusOK, gin.H{"positions": all})
}

func (s *Server) handleCapacity(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": s.router.Accounts()})
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
