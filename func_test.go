// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package parmap

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"reflect"
	"strings"
	"testing"

	baseerrors "github.com/grailbio/base/errors"
	"github.com/grailbio/parmap/typecheck"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

type testStruct0 struct{ field0 int }
type testStruct1 struct{ field1 int }

type testInterface interface{ FuncTestMethod() }
type testInterfaceImpl struct{}

func (s *testInterfaceImpl) FuncTestMethod() {}

var fnTestNilFuncArgs = Func(
	func(i int, s string, ss []string, m map[int]int,
		ts0 testStruct0, pts1 *testStruct1, ti testInterface) int {

		return len(ss)
	})

// TestNilFuncArgs verifies that Func invocation handles untyped nil arguments
// properly.
func TestNilFuncArgs(t *testing.T) {
	ts0 := testStruct0{field0: 0}
	pts1 := &testStruct1{field1: 0}
	ptii := &testInterfaceImpl{}
	for _, c := range []struct {
		name string
		args []interface{}
		ok   bool
	}{
		{
			name: "all non-nil",
			args: []interface{}{
				0, "", []string{}, map[int]int{0: 0},
				ts0, pts1, ptii,
			},
			ok: true,
		},
		{
			name: "nil for types that can be nil",
			args: []interface{}{
				0, "", nil, nil,
				ts0, nil, nil,
			},
			ok: true,
		},
		{
			name: "nil for int",
			args: []interface{}{
				nil, "", []string{}, map[int]int{0: 0},
				ts0, pts1, ptii,
			},
			ok: false,
		},
		{
			name: "nil for string",
			args: []interface{}{
				0, nil, []string{}, map[int]int{0: 0},
				ts0, pts1, ptii,
			},
			ok: false,
		},
		{
			name: "nil for struct",
			args: []interface{}{
				0, "", []string{}, map[int]int{0: 0},
				nil, pts1, ptii,
			},
			ok: false,
		},
		{
			name: "too few args",
			args: []interface{}{},
			ok:   false,
		},
	} {
		t.Run(c.name, func(t *testing.T) {
			checkPanic := func() {
				r := recover()
				if c.ok {
					if r != nil {
						t.Errorf("expected no panic, got %v", r)
					}
				} else {
					if r == nil {
						t.Errorf("expected panic")
					} else if _, ok := r.(*typecheck.Error); !ok {
						t.Errorf("expected *typecheck.Error, got %T", r)
					}
				}
			}
			func() {
				defer checkPanic()
				fnTestNilFuncArgs.Invocation("", c.args...)
			}()
			func() {
				defer checkPanic()
				_, _ = fnTestNilFuncArgs.Apply(context.Background(), c.args...)
			}()
		})
	}
}

var (
	fnTestAdd     = Func(func(x, y int) int { return x + y })
	fnTestNothing = Func(func(x int) {})
	fnTestErr     = Func(func(x int) error {
		if x < 0 {
			return errors.New("negative")
		}
		return nil
	})
	fnTestValueErr = Func(func(ctx context.Context, s string) (int, error) {
		if ctx == nil {
			return 0, errors.New("no context")
		}
		if s == "" {
			return 0, errors.New("empty")
		}
		return len(s), nil
	})
	fnTestPanic = Func(func(x int) int {
		panic("boom")
	})
)

func TestFuncShapes(t *testing.T) {
	ctx := context.Background()

	v, err := fnTestAdd.Apply(ctx, 1, 2)
	assert.NoError(t, err)
	expect.EQ(t, v, 3)

	v, err = fnTestNothing.Apply(ctx, 1)
	assert.NoError(t, err)
	expect.Nil(t, v)

	_, err = fnTestErr.Apply(ctx, -1)
	expect.EQ(t, err.Error(), "negative")
	_, err = fnTestErr.Apply(ctx, 1)
	expect.NoError(t, err)

	expect.EQ(t, fnTestValueErr.NumIn(), 1)
	expect.EQ(t, fnTestValueErr.In(0), reflect.TypeOf(""))
	v, err = fnTestValueErr.Apply(ctx, "hello")
	assert.NoError(t, err)
	expect.EQ(t, v, 5)
	_, err = fnTestValueErr.Apply(ctx, "")
	expect.EQ(t, err.Error(), "empty")
}

func TestFuncPanic(t *testing.T) {
	v, err := fnTestPanic.Apply(context.Background(), 1)
	expect.Nil(t, v)
	if err == nil {
		t.Fatal("expected error")
	}
	if !baseerrors.Match(baseerrors.E(baseerrors.Fatal), err) {
		t.Errorf("expected fatal error, got %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error %v does not mention panic value", err)
	}
}

func TestFuncBadShapes(t *testing.T) {
	for _, fn := range []interface{}{
		1,
		func(xs ...int) int { return 0 },
		func() (int, int) { return 0, 0 },
		func() (int, int, error) { return 0, 0, nil },
	} {
		func() {
			defer func() {
				if _, ok := recover().(*typecheck.Error); !ok {
					t.Errorf("%T: expected type error", fn)
				}
			}()
			Func(fn)
		}()
	}
}

func TestInvocation(t *testing.T) {
	inv := fnTestAdd.Invocation("test", 3, 4)
	expect.EQ(t, inv.FuncValue(), fnTestAdd)
	v, err := inv.Call(context.Background())
	assert.NoError(t, err)
	expect.EQ(t, v, 7)

	next := fnTestAdd.Invocation("test", 3, 4)
	if next.Index <= inv.Index {
		t.Errorf("invocation index %d not greater than %d", next.Index, inv.Index)
	}
}

func TestInvocationGob(t *testing.T) {
	inv := fnTestValueErr.Invocation("test", "gob")
	var (
		b   bytes.Buffer
		enc = gob.NewEncoder(&b)
		dec = gob.NewDecoder(&b)
		got Invocation
	)
	assert.NoError(t, enc.Encode(inv))
	assert.NoError(t, dec.Decode(&got))
	expect.EQ(t, got, inv)
	v, err := got.Call(context.Background())
	assert.NoError(t, err)
	expect.EQ(t, v, 3)
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint()
	expect.EQ(t, Fingerprint(), fp)
	locs := FuncLocations()
	if len(locs) == 0 {
		t.Fatal("no funcs registered")
	}
	if !strings.Contains(fnTestAdd.Location(), "func_test.go:") {
		t.Errorf("unexpected location %s", fnTestAdd.Location())
	}
}

func TestFuncLocationsDiff(t *testing.T) {
	for _, c := range []struct {
		lhs  []string
		rhs  []string
		diff []string
	}{
		{nil, nil, nil},
		{[]string{"a"}, []string{"a"}, nil},
		{
			[]string{},
			[]string{"a"},
			[]string{"+ a"},
		},
		{
			[]string{"a", "b"},
			[]string{"a"},
			[]string{"a", "- b"},
		},
		{
			[]string{"a", "b"},
			[]string{"b"},
			[]string{"- a", "b"},
		},
		{
			[]string{"a"},
			[]string{"a", "b"},
			[]string{"a", "+ b"},
		},
		{
			[]string{"a", "c"},
			[]string{"a", "b", "c", "d"},
			[]string{"a", "+ b", "c", "+ d"},
		},
		{
			[]string{"a", "b", "d"},
			[]string{"a", "c", "d"},
			[]string{"a", "- b", "+ c", "d"},
		},
		{
			[]string{"a", "b", "c"},
			[]string{"a", "c", "d", "e"},
			[]string{"a", "- b", "c", "+ d", "+ e"},
		},
	} {
		if got, want := FuncLocationsDiff(c.lhs, c.rhs), c.diff; !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}
