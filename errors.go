// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package parmap

import (
	"bytes"
	"fmt"

	"github.com/grailbio/base/errors"
)

// IsInvalidArgument tells whether err reports arguments that are
// not a list.
func IsInvalidArgument(err error) bool {
	return errors.Is(errors.Invalid, err)
}

// IsEmptyInput tells whether err reports an empty argument list.
func IsEmptyInput(err error) bool {
	return errors.Is(errors.Precondition, err)
}

// IsFailure tells whether err reports the failure of one or more
// units of work.
func IsFailure(err error) bool {
	_, ok := AsFailures(err)
	return ok
}

// AsFailures returns the *Failures carried by err, if any. Map
// returns failures wrapped in an error of errors.Fatal severity, so
// that they are recognized by errors.Match and errors.Recover.
func AsFailures(err error) (*Failures, bool) {
	for err != nil {
		switch e := err.(type) {
		case *Failures:
			return e, true
		case *errors.Error:
			err = e.Err
		default:
			return nil, false
		}
	}
	return nil, false
}

// E returns f as an error of errors.Fatal severity.
func (f *Failures) E() error {
	return errors.E(errors.Fatal, f)
}

// A UnitError is the failure of a single unit of work.
type UnitError struct {
	// Index is the index of the failed unit in the argument list.
	Index int
	// Err is the reason for the failure.
	Err error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("unit %d: %v", e.Index, e.Err)
}

// Failures reports the units of work that failed during a Map, in
// ascending index order.
type Failures struct {
	// N is the total number of units of work that were dispatched.
	N int
	// Errs lists the failed units.
	Errs []*UnitError
}

// Indices returns the indices of the failed units.
func (f *Failures) Indices() []int {
	indices := make([]int, len(f.Errs))
	for i, e := range f.Errs {
		indices[i] = e.Index
	}
	return indices
}

// Err returns the failure reason for the unit at index, or nil if
// the unit did not fail.
func (f *Failures) Err(index int) error {
	for _, e := range f.Errs {
		if e.Index == index {
			return e.Err
		}
	}
	return nil
}

func (f *Failures) Error() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "parmap: %d of %d units failed", len(f.Errs), f.N)
	const max = 5
	for i, e := range f.Errs {
		if i == max {
			fmt.Fprintf(&b, "\n\t(and %d more)", len(f.Errs)-max)
			break
		}
		fmt.Fprintf(&b, "\n\t%v", e)
	}
	return b.String()
}
