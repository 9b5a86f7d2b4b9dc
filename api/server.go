package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

// RouterOptions configures the HTTP routes.
type RouterOptions struct {
	Handler  *Handler
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// NewRouter builds the gin engine with every API route.
func NewRouter(opts RouterOptions) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()
	router.Use(recovery(logger))
	router.Use(requestLogger(logger))

	h := opts.Handler
	router.GET("/healthz", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/api")
	{
		SessionRouter(v1.Group("/session"), h)
		MessageRouter(v1.Group("/messages"), h)
		v1.GET("/notices", h.Notices)
	}
	return router
}

// SessionRouter registers wallet session routes.
func SessionRouter(router *gin.RouterGroup, h *Handler) {
	router.GET("", h.Session)
	router.POST("/connect", h.Connect)
	router.DELETE("", h.Disconnect)
}

// MessageRouter registers timeline routes.
func MessageRouter(router *gin.RouterGroup, h *Handler) {
	router.GET("", h.ListMessages)
	router.POST("", h.SendMessage)
	router.POST("/refresh", h.Refresh)
	router.GET("/:id", h.GetMessage)
}

// Serve runs handler on listener until ctx is canceled, then shuts down gracefully.
func Serve(ctx context.Context, listener net.Listener, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	// No write timeout: the notice stream stays open.
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "http server starting", "address", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
