// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"net/http"

	"github.com/grailbio/parmap/exec"
	"github.com/grailbio/parmap/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// sessionCounters lists the engine counters that are exported.
var sessionCounters = []struct {
	name, help string
	counter    metrics.Counter
}{
	{"parmap_units_dispatched_total", "Total number of units of work submitted to map.", exec.UnitsDispatched},
	{"parmap_workers_started_total", "Total number of workers spawned.", exec.WorkersStarted},
	{"parmap_inline_runs_total", "Total number of units of work applied inline.", exec.InlineRuns},
	{"parmap_units_failed_total", "Total number of units of work that failed.", exec.UnitsFailed},
}

// newRegistry returns a Prometheus registry that reports the session's
// counters. Counters are read from the session scope at collection
// time, and so reflect all map calls that have returned.
func newRegistry(sess *exec.Session) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range sessionCounters {
		counter := c.counter
		reg.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name:        c.name,
				Help:        c.help,
				ConstLabels: prometheus.Labels{"executor": sess.Executor()},
			},
			func() float64 { return float64(counter.Value(sess.Scope())) },
		))
	}
	return reg
}

func metricsHandler(sess *exec.Session) http.Handler {
	return promhttp.HandlerFor(newRegistry(sess), promhttp.HandlerOpts{})
}
