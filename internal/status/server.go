// Package status serves a small read-only HTTP surface for operators:
// liveness, the current session snapshot, and Prometheus metrics.
package status

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Snapshot describes the running chat session.
type Snapshot struct {
	User        string `json:"user"`
	Queue       string `json:"queue"`
	TargetQueue string `json:"target_queue"`
	Mode        string `json:"mode"`
	Listener    string `json:"listener"`
}

// Provider reports the current session state.
type Provider interface {
	Snapshot() Snapshot
}

// StartOpts holds configuration for the status server.
type StartOpts struct {
	Addr     string
	Provider Provider
	Out      io.Writer
}

// NewRouter builds the gin engine serving the status routes.
func NewRouter(p Provider) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, p)
	return router
}

// Start serves the status routes on opts.Addr. It blocks until ctx is
// cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Provider == nil {
		return fmt.Errorf("status: provider is required")
	}
	if opts.Addr == "" {
		return fmt.Errorf("status: addr is required")
	}

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return fmt.Errorf("status: listen %s: %w", opts.Addr, err)
	}
	return Serve(ctx, ln, opts)
}

// Serve is Start on an existing listener.
func Serve(ctx context.Context, ln net.Listener, opts StartOpts) error {
	if opts.Provider == nil {
		return fmt.Errorf("status: provider is required")
	}
	srv := &http.Server{
		Handler: NewRouter(opts.Provider),
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Status server listening on %s\n", ln.Addr())
	}

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status: %w", err)
	}
	return nil
}

func registerRoutes(router *gin.Engine, p Provider) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, p.Snapshot())
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
