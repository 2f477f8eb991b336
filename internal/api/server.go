// Package api provides the HTTP surface of the billing system. It is a thin
// adapter: handlers translate requests into calls on the domain services and
// never touch SQL themselves.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rezendeng/faturamento/internal/config"
	"github.com/rezendeng/faturamento/internal/export"
	"github.com/rezendeng/faturamento/internal/ingest"
	"github.com/rezendeng/faturamento/internal/reconcile"
	"github.com/rezendeng/faturamento/internal/report"
	"github.com/rezendeng/faturamento/internal/repository"
)

// Server is the HTTP server adapter.
type Server struct {
	cfg        config.ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	handlers   *Handlers
	logger     *zap.Logger
}

// Deps bundles the services the HTTP layer exposes.
type Deps struct {
	Notas     *repository.NotaRepository
	Extrato   *repository.ExtratoRepository
	Engine    *reconcile.Engine
	Reports   *report.Service
	Extractor *ingest.Extractor
	Importer  *ingest.Importer
	Exporter  *export.Writer
	Upload    config.UploadConfig
	Export    config.ExportConfig
}

// NewServer creates a new HTTP server with all routes registered.
func NewServer(cfg config.ServerConfig, deps Deps, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	s := &Server{
		cfg:      cfg,
		router:   router,
		handlers: NewHandlers(deps, logger),
		logger:   logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(corsMiddleware())
	s.router.MaxMultipartMemory = s.handlers.upload.MaxSizeBytes
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		s.logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handlers.HealthCheck)

	api := s.router.Group("/api")
	{
		api.POST("/upload", s.handlers.UploadPDF)
		api.POST("/calcular", s.handlers.ComputeWithholdings)

		api.POST("/notas", s.handlers.CreateInvoice)
		api.GET("/notas", s.handlers.ListInvoices)
		api.GET("/notas/pendentes", s.handlers.ListPending)
		api.POST("/notas/:id/adiantar", s.handlers.AdvanceInvoice)

		api.POST("/recebimentos", s.handlers.RegisterReceipt)
		api.GET("/extrato", s.handlers.ListStatement)

		api.GET("/dashboard", s.handlers.Dashboard)

		api.GET("/exportar/:tipo", s.handlers.ExportReport)
		api.GET("/exportar-completo", s.handlers.ExportFullWorkbook)
		api.POST("/importar", s.handlers.ImportWorkbook)
	}
}

// Start runs the server until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("HTTP server listening", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", zap.Error(err))
		return err
	}
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing).
func (s *Server) Router() *gin.Engine {
	return s.router
}
