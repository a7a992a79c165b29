// Package server is the HTTP adapter over the reconciliation core. It
// authenticates bearer tokens into scope principals, binds the JSON
// contracts onto the domain services and maps the error taxonomy onto
// transport status codes. No reconciliation logic lives here.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bank-reconciliation-core/internal/admin"
	"bank-reconciliation-core/internal/approvals"
	"bank-reconciliation-core/internal/exceptions"
	"bank-reconciliation-core/internal/models"
	"bank-reconciliation-core/internal/recon"
	"bank-reconciliation-core/internal/runs"
	"bank-reconciliation-core/internal/store"
	"bank-reconciliation-core/pkg/logger"
)

// Config carries the transport settings.
type Config struct {
	ListenAddr     string
	JWTSecret      string
	AllowedOrigins []string
}

// Services bundles the domain services the handlers dispatch to. Store is
// consulted directly only for scope-guard lookups before a write.
type Services struct {
	Store      *store.Store
	Runs       *runs.Service
	Admin      *admin.Service
	Recon      *recon.Service
	Exceptions *exceptions.Service
	Approvals  *approvals.Service
}

// Server hosts the /api/v1 surface.
type Server struct {
	cfg    Config
	svc    Services
	router *gin.Engine
	http   *http.Server
	log    logger.Logger
}

// New wires the router and middleware. Callers pick the gin mode
// themselves; the server only registers routes.
func New(cfg Config, svc Services, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		router: gin.New(),
		log:    log.WithComponent("server"),
	}
	s.router.Use(gin.Recovery(), s.requestLogger(), s.corsMiddleware())
	s.routes()
	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler { return s.router }

// Run serves HTTP until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.log.WithFields(logger.Fields{"addr": s.cfg.ListenAddr}).Info("HTTP server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) routes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/api/v1", s.authenticate())

	api.POST("/auto/preview", s.handleAutoPreview)
	api.POST("/auto/apply", s.handleAutoApply)
	api.GET("/auto/runs", s.handleRunList)
	api.GET("/auto/runs/:id", s.handleRunGet)

	api.POST("/rules", s.handleRuleCreate)
	api.PATCH("/rules/:id", s.handleRuleUpdate)
	api.GET("/rules", s.handleRuleList)
	api.GET("/rules/:id", s.handleRuleGet)

	api.POST("/templates", s.handleTemplateCreate)
	api.PATCH("/templates/:id", s.handleTemplateUpdate)
	api.GET("/templates", s.handleTemplateList)
	api.GET("/templates/:id", s.handleTemplateGet)

	api.POST("/profiles", s.handleProfileCreate)
	api.PATCH("/profiles/:id", s.handleProfileUpdate)
	api.GET("/profiles", s.handleProfileList)
	api.GET("/profiles/:id", s.handleProfileGet)

	api.GET("/exceptions", s.handleExceptionList)
	api.GET("/exceptions/:id", s.handleExceptionGet)
	api.POST("/exceptions/:id/assign", s.handleExceptionAssign)
	api.POST("/exceptions/:id/resolve", s.handleExceptionResolve)
	api.POST("/exceptions/:id/ignore", s.handleExceptionIgnore)
	api.POST("/exceptions/:id/retry", s.handleExceptionRetry)

	api.GET("/approvals", s.handleApprovalList)
	api.GET("/approvals/:id", s.handleApprovalGet)
	api.POST("/approvals/:id/approve", s.decideApproval(models.VerdictApprove))
	api.POST("/approvals/:id/reject", s.decideApproval(models.VerdictReject))

	api.POST("/lines/:id/match", s.handleLineMatch)
	api.POST("/lines/:id/unmatch", s.handleLineUnmatch)
	api.POST("/lines/:id/ignore", s.handleLineIgnore)
	api.POST("/lines/:id/unignore", s.handleLineUnignore)

	api.POST("/payment-returns", s.handleManualReturn)
	api.POST("/payment-batches/:id/submit-export", s.handleSubmitExport)
}
