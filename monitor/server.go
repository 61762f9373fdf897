package monitor

import (
	iface "BlurCam/interface"
	"BlurCam/logger"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter exposes the pipeline status, a stop switch and the metrics of
// registry. web may be nil when the websocket preview is disabled.
func NewRouter(ctrl iface.Controller, registry *prometheus.Registry, web *WebPreview) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": ctrl.Status()})
	})
	r.POST("/api/stop", func(c *gin.Context) {
		ctrl.RequestStop()
		logger.Log().Info("stop requested over http", zap.String("remote", c.ClientIP()))
		c.JSON(http.StatusAccepted, gin.H{"data": "stopping"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))
	if web != nil {
		r.GET("/ws/preview", web.Serve)
	}
	return r
}

// Serve runs handler on port until ctx is done, then shuts it down.
func Serve(ctx context.Context, port int, handler http.Handler) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Log().Info("monitor listening", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Log().Error("monitor server failed", zap.Error(err))
	}
}
