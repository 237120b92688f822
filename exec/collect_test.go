// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"errors"
	"testing"

	baseerrors "github.com/grailbio/base/errors"
	"github.com/grailbio/parmap"
	"github.com/grailbio/testutil/expect"
)

func fill(results []Result) chan Result {
	c := make(chan Result, len(results))
	for _, r := range results {
		c <- r
	}
	return c
}

func noReason(int) error { return nil }

func TestDrainOrder(t *testing.T) {
	// Results arrive in completion order; values are read by index.
	table := drain(fill([]Result{
		{Index: 2, Value: "c"},
		{Index: 0, Value: "a"},
		{Index: 1, Value: "b"},
	}), 3)
	values, err := table.Resolve(FailFastPolicy, noReason)
	if err != nil {
		t.Fatal(err)
	}
	expect.EQ(t, values, []interface{}{"a", "b", "c"})
}

func TestDrainEmptyChannel(t *testing.T) {
	table := drain(make(chan Result, 2), 2)
	failures := table.Failures(noReason)
	if failures == nil {
		t.Fatal("expected failures")
	}
	expect.EQ(t, failures.Indices(), []int{0, 1})
	for _, index := range failures.Indices() {
		if !baseerrors.Is(baseerrors.Unavailable, failures.Err(index)) {
			t.Errorf("unit %d: got %v, want unavailable", index, failures.Err(index))
		}
	}
}

func TestResolvePolicies(t *testing.T) {
	failure := errors.New("unit failed")
	lost := errors.New("machine died")
	results := []Result{
		{Index: 4, Value: 40},
		{Index: 1, Err: failure},
		{Index: 0, Value: 0},
		{Index: 2, Value: 20},
	}
	// Unit 3 deposited nothing.
	reason := func(index int) error {
		if index == 3 {
			return lost
		}
		return nil
	}

	values, err := drain(fill(results), 5).Resolve(FailFastPolicy, reason)
	if values != nil {
		t.Errorf("got %v, want nil", values)
	}
	checkFailures(t, err, failure, lost)

	values, err = drain(fill(results), 5).Resolve(BestEffortPolicy, reason)
	expect.EQ(t, values, []interface{}{0, 20, 40})
	checkFailures(t, err, failure, lost)
}

func checkFailures(t *testing.T, err error, failure, lost error) {
	t.Helper()
	failures, ok := err.(*parmap.Failures)
	if !ok {
		t.Fatalf("got %T, want failures", err)
	}
	expect.EQ(t, failures.N, 5)
	expect.EQ(t, failures.Indices(), []int{1, 3})
	expect.EQ(t, failures.Err(1), failure)
	expect.EQ(t, failures.Err(3), lost)
}

func TestDrainOutOfRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	drain(fill([]Result{{Index: 5}}), 5)
}

func TestFailurePolicyString(t *testing.T) {
	expect.EQ(t, FailFastPolicy.String(), "fail-fast")
	expect.EQ(t, BestEffortPolicy.String(), "best-effort")
	expect.EQ(t, FailurePolicy(7).String(), "FailurePolicy(7)")
}
