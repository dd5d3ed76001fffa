// Package authserver is a reference credential server. It implements the
// widget token endpoints a tenant API exposes, so the agent and the library
// can be exercised locally without the real backend.
package authserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/moweilong/widgetauth/pkg/gin/handlerfunc"
	mw "github.com/moweilong/widgetauth/pkg/gin/middleware"
	"github.com/moweilong/widgetauth/pkg/gin/validator"
	"github.com/moweilong/widgetauth/pkg/jwt"
	"github.com/moweilong/widgetauth/pkg/jwt/core"
	"github.com/moweilong/widgetauth/pkg/jwt/store"
	"github.com/moweilong/widgetauth/pkg/log"
)

// Tenant is an owner token the server accepts.
type Tenant struct {
	Name       string `json:"name" mapstructure:"name" validate:"required"`
	OwnerToken string `json:"owner-token" mapstructure:"owner-token" validate:"required"`
}

// Config contains the auth server configuration.
type Config struct {
	Addr            string
	SigningKey      string
	TokenTTL        time.Duration
	RenewGrace      time.Duration
	Tenants         []Tenant
	Store           *store.Config
	AllowedOrigins  []string
	CleanupInterval time.Duration
}

// Server serves the credential endpoints.
type Server struct {
	cfg      *Config
	issuer   *jwt.Issuer
	store    core.RevocationStore
	owners   map[string]string
	registry *prometheus.Registry
	metrics  *metrics
	engine   *gin.Engine
	srv      *http.Server
}

// NewServer builds the server described by cfg.
func (cfg *Config) NewServer() (*Server, error) {
	revocations, err := store.NewStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("create revocation store: %w", err)
	}

	issuer, err := jwt.NewIssuer([]byte(cfg.SigningKey),
		jwt.WithTTL(cfg.TokenTTL),
		jwt.WithRenewGrace(cfg.RenewGrace),
		jwt.WithStore(revocations),
	)
	if err != nil {
		return nil, err
	}

	owners := make(map[string]string, len(cfg.Tenants))
	for _, t := range cfg.Tenants {
		owners[t.OwnerToken] = t.Name
	}

	reg := prometheus.NewRegistry()
	s := &Server{
		cfg:      cfg,
		issuer:   issuer,
		store:    revocations,
		owners:   owners,
		registry: reg,
		metrics:  newMetrics(reg),
	}
	s.engine = s.router()
	s.srv = &http.Server{Addr: cfg.Addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	return s, nil
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Issuer returns the token issuer.
func (s *Server) Issuer() *jwt.Issuer {
	return s.issuer
}

func (s *Server) router() *gin.Engine {
	binding.Validator = validator.Init()

	r := gin.New()
	r.Use(
		gin.Recovery(),
		mw.RequestID(),
		mw.Logging(mw.WithLog(log.Z()), mw.WithRequestIDFromContext()),
		mw.Cors(s.cfg.AllowedOrigins),
	)

	handlerfunc.Register(r, s.registry)

	r.POST("/auth/widget-token", s.Mint)
	r.POST("/auth/widget-refresh", s.Refresh)

	api := r.Group("/api/v1", mw.Auth(s.issuer))
	api.GET("/whoami", s.WhoAmI)
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infow("Start to listening the incoming requests", "addr", s.cfg.Addr, "tenants", len(s.owners))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if s.cfg.CleanupInterval > 0 {
		g.Go(func() error {
			wait.UntilWithContext(ctx, s.cleanup, s.cfg.CleanupInterval)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Infow("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Infow("Server exited successfully.")
	return nil
}

func (s *Server) cleanup(ctx context.Context) {
	n, err := s.store.Cleanup(ctx)
	if err != nil {
		log.Errorw(err, "Failed to clean up revoked tokens")
		return
	}
	if n > 0 {
		log.Debugw("Cleaned up revoked tokens", "count", n)
	}
}
