// Package dashboard serves a read-only JSON API over the session and
// evaluation stores.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zulandar/consortium/internal/evaluation"
	"github.com/zulandar/consortium/internal/session"
)

// DefaultPollInterval is how often the event stream checks for new
// evaluations.
const DefaultPollInterval = 3 * time.Second

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Sessions     *session.Store
	Evaluations  *evaluation.Store
	Port         int
	Out          io.Writer
	Logger       *zap.Logger   // optional; request log
	PollInterval time.Duration // defaults to DefaultPollInterval
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.Sessions == nil || opts.Evaluations == nil {
		return nil, fmt.Errorf("dashboard: session and evaluation stores are required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if opts.Logger != nil {
		router.Use(requestLog(opts.Logger))
	}

	registerRoutes(router, opts)
	return router, nil
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

func requestLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}
