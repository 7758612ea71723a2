// Package server exposes courseforge over HTTP.
//
// The identity provider is external: every /api request carries the
// authenticated owner in the X-Owner-ID header, and every lookup is scoped
// to that owner. JSON in, JSON out.
package server

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/teranos/courseforge/batch"
	"github.com/teranos/courseforge/content"
	"github.com/teranos/courseforge/credits"
	"github.com/teranos/courseforge/generation"
	"github.com/teranos/courseforge/logger"
	"github.com/teranos/courseforge/metrics"
	"github.com/teranos/courseforge/notify"
	"github.com/teranos/courseforge/pulse/async"
)

// Deps wires a Server. Hub and Gatherer are optional.
type Deps struct {
	Orchestrator   *generation.Orchestrator
	Batches        *batch.Coordinator
	Jobs           *async.Queue
	Ledger         *credits.Ledger
	Content        *content.Store
	Hub            *notify.Hub         // nil = no /ws/events
	Gatherer       prometheus.Gatherer // nil = no /metrics
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Logger         *zap.SugaredLogger
}

// Server is the courseforge HTTP API
type Server struct {
	orch     *generation.Orchestrator
	batches  *batch.Coordinator
	jobs     *async.Queue
	ledger   *credits.Ledger
	content  *content.Store
	hub      *notify.Hub
	gatherer prometheus.Gatherer
	metrics  *metrics.Metrics
	origins  []string
	logger   *zap.SugaredLogger

	readTimeout  time.Duration
	writeTimeout time.Duration

	state   atomic.Int32
	handler http.Handler
	srv     *http.Server
}

// New creates a Server with its routes registered
func New(d Deps) *Server {
	s := &Server{
		orch:         d.Orchestrator,
		batches:      d.Batches,
		jobs:         d.Jobs,
		ledger:       d.Ledger,
		content:      d.Content,
		hub:          d.Hub,
		gatherer:     d.Gatherer,
		metrics:      d.Metrics,
		origins:      d.AllowedOrigins,
		logger:       logger.OrGlobal(d.Logger, "server"),
		readTimeout:  d.ReadTimeout,
		writeTimeout: d.WriteTimeout,
	}
	s.handler = s.routes()
	return s
}

// Handler is the fully wrapped HTTP handler, usable with httptest
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) getState() ServerState {
	return ServerState(s.state.Load())
}

func (s *Server) setState(state ServerState) {
	s.state.Store(int32(state))
	s.logger.Infow("Server state changed", logger.FieldStatus, state.String())
}
