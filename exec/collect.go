// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/parmap"
)

// A FailurePolicy determines how Map treats units of work that
// failed.
type FailurePolicy int

const (
	// FailFastPolicy causes Map to return only an error if any unit
	// failed.
	FailFastPolicy FailurePolicy = iota
	// BestEffortPolicy causes Map to return the results of the units
	// that succeeded, in index order, together with an error
	// describing the units that failed.
	BestEffortPolicy
)

// String returns the policy's name.
func (p FailurePolicy) String() string {
	switch p {
	case FailFastPolicy:
		return "fail-fast"
	case BestEffortPolicy:
		return "best-effort"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

// A resultTable maps unit indices to their results. It is built by
// the coordinator after the barrier and discarded after the call.
type resultTable struct {
	n      int
	ok     *roaring.Bitmap
	values []interface{}
	errs   map[int]error
}

// drain builds a result table for n units from every result that is
// currently available in the results channel. It does not block.
func drain(results <-chan Result, n int) *resultTable {
	t := &resultTable{
		n:      n,
		ok:     roaring.New(),
		values: make([]interface{}, n),
		errs:   make(map[int]error),
	}
	for {
		select {
		case r := <-results:
			if r.Index < 0 || r.Index >= n {
				panic(fmt.Sprintf("exec: result for index %d out of range [0, %d)", r.Index, n))
			}
			if r.Err != nil {
				t.errs[r.Index] = r.Err
				continue
			}
			t.ok.AddInt(r.Index)
			t.values[r.Index] = r.Value
		default:
			return t
		}
	}
}

// Failures returns the units that did not report a successful
// result, or nil if all units succeeded. Reasons for units that
// deposited nothing are looked up with reason.
func (t *resultTable) Failures(reason func(index int) error) *parmap.Failures {
	if int(t.ok.GetCardinality()) == t.n {
		return nil
	}
	failed := roaring.Flip(t.ok, 0, uint64(t.n))
	f := &parmap.Failures{N: t.n}
	for it := failed.Iterator(); it.HasNext(); {
		index := int(it.Next())
		err, ok := t.errs[index]
		if !ok {
			err = reason(index)
		}
		if err == nil {
			err = errors.E(errors.Unavailable, fmt.Sprintf("no result reported for unit %d", index))
		}
		f.Errs = append(f.Errs, &parmap.UnitError{Index: index, Err: err})
	}
	return f
}

// Values returns the values of the units that succeeded, in ascending
// index order.
func (t *resultTable) Values() []interface{} {
	values := make([]interface{}, 0, t.ok.GetCardinality())
	for it := t.ok.Iterator(); it.HasNext(); {
		values = append(values, t.values[it.Next()])
	}
	return values
}

// Resolve returns the output of a Map call according to policy.
func (t *resultTable) Resolve(policy FailurePolicy, reason func(index int) error) ([]interface{}, error) {
	failures := t.Failures(reason)
	if failures == nil {
		return t.Values(), nil
	}
	if policy == BestEffortPolicy {
		return t.Values(), failures
	}
	return nil, failures
}
