// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/grailbio/parmap/exec"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestWorkloads(t *testing.T) {
	ctx := context.Background()
	sess := exec.Start(exec.Local)
	for _, p := range []params{{10, 4}, {1, 1}, {7, 3}} {
		out, err := fill(ctx, sess, p)
		assert.NoError(t, err)
		if p.n == 10 {
			expect.EQ(t, out, "[0 1 2 3 4 5 6 7 8 9]")
		}
		out, err = squares(ctx, sess, p)
		assert.NoError(t, err)
		if p.n == 10 {
			expect.EQ(t, out, "[0 1 4 9 16 25 36 49 64 81]")
		}
		_, err = adds(ctx, sess, p)
		assert.NoError(t, err)
		_, err = chunks(ctx, sess, p)
		assert.NoError(t, err)
	}
}

func TestMetricsHandler(t *testing.T) {
	sess := exec.Start(exec.Local)
	_, err := squares(context.Background(), sess, params{n: 10})
	assert.NoError(t, err)

	server := httptest.NewServer(metricsHandler(sess))
	defer server.Close()
	resp, err := server.Client().Get(server.URL)
	assert.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	assert.NoError(t, err)
	for _, line := range []string{
		`parmap_units_dispatched_total{executor="local"} 10`,
		`parmap_workers_started_total{executor="local"} 10`,
		`parmap_inline_runs_total{executor="local"} 0`,
		`parmap_units_failed_total{executor="local"} 0`,
	} {
		if !strings.Contains(string(body), line) {
			t.Errorf("metrics output does not contain %q:\n%s", line, body)
		}
	}
}
