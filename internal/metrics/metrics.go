// Package metrics registers reportpush's Prometheus instrumentation and, in
// serve mode, exposes it over HTTP.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "reportpush/pkg/logx"
)

var (
	DispatchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reportpush_dispatch_attempts_total",
		Help: "Delivery attempts per channel and outcome",
	}, []string{"channel", "outcome"})

	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reportpush_dispatch_attempt_seconds",
		Help:    "Wall time of a single delivery attempt",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel"})

	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reportpush_runs_total",
		Help: "Completed runs by overall outcome",
	}, []string{"overall"})
)

// Server exposes /metrics in serve mode. One-shot invocations never start it.
type Server struct {
	srv *http.Server
	log logx.Logger
}

func NewServer(addr string, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		srv: &http.Server{
			Addr:        addr,
			Handler:     mux,
			ReadTimeout: 5 * time.Second,
			IdleTimeout: 30 * time.Second,
		},
		log: log,
	}
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.log.Info("metrics listening", logx.String("addr", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("metrics server exited", logx.Err(err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
