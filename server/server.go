// Package server exposes the progress of a running capture over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hb9tf/iqdump/stats"
)

const (
	statsEndpoint   = "/iqdump/v1/stats"
	metricsEndpoint = "/metrics"
	healthEndpoint  = "/healthz"
)

type StatusServer struct {
	server   *http.Server
	progress *stats.Progress
	certFile string
	keyFile  string
}

// New returns a server listening on listen. The TLS files are optional;
// without them the server falls back to plain HTTP.
func New(listen, certFile, keyFile string, progress *stats.Progress, gatherer prometheus.Gatherer) *StatusServer {
	s := &StatusServer{
		progress: progress,
		certFile: certFile,
		keyFile:  keyFile,
	}
	s.server = &http.Server{
		Addr:              listen,
		Handler:           s.router(gatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *StatusServer) router(gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET(statsEndpoint, s.statsHandler)
	r.GET(healthEndpoint, func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	if gatherer != nil {
		r.GET(metricsEndpoint, gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

func (s *StatusServer) statsHandler(c *gin.Context) {
	if s.progress == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no capture running"})
		return
	}
	c.JSON(http.StatusOK, s.progress.Snapshot())
}

func (s *StatusServer) Handler() http.Handler {
	return s.server.Handler
}

// ListenAndServe blocks until the server is shut down.
func (s *StatusServer) ListenAndServe() error {
	var err error
	if s.certFile != "" || s.keyFile != "" {
		err = s.server.ListenAndServeTLS(s.certFile, s.keyFile)
	} else {
		glog.Infoln("Resorting to serving HTTP because there was no certificate and key defined.")
		err = s.server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
