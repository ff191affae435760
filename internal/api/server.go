// Package api provides the optional management HTTP server. It exposes a
// health probe and basic runtime statistics, guarded by the configured API
// keys. It never touches conversation contents.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/sk0pp/ollabot/internal/config"
	"github.com/sk0pp/ollabot/internal/store"
)

// Server is the management API server.
type Server struct {
	engine  *gin.Engine
	server  *http.Server
	cfg     *config.Config
	store   *store.Store
	started time.Time
}

// NewServer builds the server and its routes.
func NewServer(cfg *config.Config, st *store.Store) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Logger())
	engine.Use(gin.Recovery())

	s := &Server{
		engine:  engine,
		cfg:     cfg,
		store:   st,
		started: time.Now(),
	}

	engine.GET("/health", s.handleHealth)

	v0 := engine.Group("/v0")
	v0.Use(s.apiKeyMiddleware())
	v0.GET("/stats", s.handleStats)

	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.ManagementPort),
		Handler: s.engine,
	}
	go func() {
		log.Infof("management API listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("management API failed: %v", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"conversations":  s.store.Len(),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"default_model":  s.cfg.DefaultModel,
	})
}

// apiKeyMiddleware rejects requests that carry none of the configured keys
// in the Authorization (Bearer) or X-Api-Key header. With no keys
// configured, access is open.
func (s *Server) apiKeyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(s.cfg.APIKeys) == 0 {
			c.Next()
			return
		}

		key := c.GetHeader("X-Api-Key")
		if key == "" {
			key = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		for _, allowed := range s.cfg.APIKeys {
			if key == allowed {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}
