// Copyright (C) 2024 The fdistdump-go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package metrics is ambient observability, not a spec.md feature: an
// optional Prometheus endpoint (--metrics-addr) exposing the same summary
// counters spec.md §3 defines, so an operator can watch a long-running
// cluster without parsing stdout (SPEC_FULL.md Section B).
package metrics

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CESNET/fdistdump-sub002/stats"
)

// Registry holds the counters one process (coordinator or worker)
// reports. It wraps a private *prometheus.Registry rather than using the
// global default, so a test can construct one without polluting
// process-wide metric state.
type Registry struct {
	reg *prometheus.Registry

	queriesTotal   prometheus.Counter
	processedFlows prometheus.Counter
	processedPkts  prometheus.Counter
	processedBytes prometheus.Counter
	filesDone      prometheus.Counter
}

// NewRegistry constructs a Registry. rank labels every counter so a
// --metrics-addr endpoint on a worker and the coordinator's own endpoint
// never collide if scraped through the same federation setup.
func NewRegistry(rank int) *Registry {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"rank": strconv.Itoa(rank)}
	return &Registry{
		reg: reg,
		queriesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "fdistdump_queries_total",
			Help:        "Queries this participant has completed.",
			ConstLabels: labels,
		}),
		processedFlows: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "fdistdump_processed_flows_total",
			Help:        "Filter-passing flows processed (spec.md §3).",
			ConstLabels: labels,
		}),
		processedPkts: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "fdistdump_processed_packets_total",
			Help:        "Packets belonging to filter-passing flows.",
			ConstLabels: labels,
		}),
		processedBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "fdistdump_processed_bytes_total",
			Help:        "Bytes belonging to filter-passing flows.",
			ConstLabels: labels,
		}),
		filesDone: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name:        "fdistdump_files_processed_total",
			Help:        "Flow files covered by completed queries, summed over all workers; reported by the coordinator only.",
			ConstLabels: labels,
		}),
	}
}

// ObserveSummary folds one completed query's stats.Summary into the
// cumulative counters.
func (r *Registry) ObserveSummary(s stats.Summary) {
	r.queriesTotal.Inc()
	r.processedFlows.Add(float64(s.ProcessedFlows))
	r.processedPkts.Add(float64(s.ProcessedPkts))
	r.processedBytes.Add(float64(s.ProcessedBytes))
}

// ObserveFileDone records one finished flow file.
func (r *Registry) ObserveFileDone() {
	r.filesDone.Inc()
}

// Handler returns the /metrics HTTP handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Server is the optional --metrics-addr HTTP endpoint, grounded on
// cmd/snellerd's server.go http.Server-as-a-struct-field pattern.
type Server struct {
	srv http.Server
	ln  net.Listener
}

// NewServer builds a Server bound to addr, exposing r at /metrics. The
// caller starts it with Serve and stops it with Shutdown.
func NewServer(addr string, r *Registry) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	return &Server{srv: http.Server{Handler: mux}, ln: ln}, nil
}

// Addr returns the bound listener address, useful when addr was "host:0".
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve blocks accepting connections until Shutdown is called. Run it in
// its own goroutine; a query's coordinator/worker loop does not wait on
// it.
func (s *Server) Serve() error {
	err := s.srv.Serve(s.ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
