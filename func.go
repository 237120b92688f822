// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package parmap

import (
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"reflect"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/parmap/typecheck"
	"github.com/spaolacci/murmur3"
)

func init() {
	gob.Register([]interface{}{})
	gob.Register([]int{})
}

var (
	typeOfContext = reflect.TypeOf((*context.Context)(nil)).Elem()
	typeOfError   = reflect.TypeOf((*error)(nil)).Elem()
)

var (
	// Funcs is the global registry of funcs. We rely on deterministic
	// registration order so that a func's index names the same function
	// in every copy of the binary.
	funcsMu sync.Mutex
	funcs   []*FuncValue
)

// A FuncValue represents a parmap function, as returned by Func.
// FuncValues are the only functions that may be mapped, since they
// can be named across process boundaries.
type FuncValue struct {
	fn       reflect.Value
	args     []reflect.Type
	index    int
	location string

	// hasContext is true when the function's first parameter is a
	// context.Context. It is supplied by the executor and is not
	// counted among the function's arguments.
	hasContext bool
	// hasResult is true when the function returns a value
	// (in addition to an optional error).
	hasResult bool
	// hasError is true when the function's last return value is an
	// error.
	hasError bool
}

// NumIn returns the number of input arguments to f, not counting
// a leading context.Context.
func (f *FuncValue) NumIn() int { return len(f.args) }

// In returns the i'th argument type of function f.
func (f *FuncValue) In(i int) reflect.Type { return f.args[i] }

// Location returns the source location at which f was created.
func (f *FuncValue) Location() string { return f.location }

// Invocation creates an invocation representing the function f
// applied to the provided arguments. Invocation panics with a type
// error if the provided arguments do not match in type or arity.
// Location names the caller's source location, and is used for
// diagnostics.
func (f *FuncValue) Invocation(location string, args ...interface{}) Invocation {
	argTypes := make([]reflect.Type, len(args))
	for i, arg := range args {
		argTypes[i] = reflect.TypeOf(arg)
	}
	f.typecheck(argTypes...)
	return newInvocation(uint64(f.index), location, args...)
}

// Apply invokes the function f with the provided arguments in the
// caller's goroutine, returning its result. Apply panics with a type
// error if argument type or arity do not match. Panics raised by the
// function itself are returned as fatal errors.
func (f *FuncValue) Apply(ctx context.Context, args ...interface{}) (interface{}, error) {
	argTypes := make([]reflect.Type, len(args))
	for i, arg := range args {
		argTypes[i] = reflect.TypeOf(arg)
	}
	f.typecheck(argTypes...)
	return f.call(ctx, args)
}

func (f *FuncValue) call(ctx context.Context, args []interface{}) (result interface{}, err error) {
	argv := make([]reflect.Value, 0, len(args)+1)
	if f.hasContext {
		argv = append(argv, reflect.ValueOf(ctx))
	}
	for i, arg := range args {
		if arg == nil {
			argv = append(argv, reflect.Zero(f.args[i]))
		} else {
			argv = append(argv, reflect.ValueOf(arg))
		}
	}
	defer func() {
		if e := recover(); e != nil {
			stack := debug.Stack()
			err = errors.E(errors.Fatal, fmt.Sprintf("panic while applying %s: %v\n%s", f.location, e, string(stack)))
			result = nil
		}
	}()
	out := f.fn.Call(argv)
	if f.hasError {
		if e := out[len(out)-1]; !e.IsNil() {
			err = e.Interface().(error)
		}
	}
	if f.hasResult {
		result = out[0].Interface()
	}
	return
}

func (f *FuncValue) typecheck(args ...reflect.Type) {
	if len(args) != len(f.args) {
		typecheck.Panicf(2, "wrong number of arguments: function takes %d arguments, got %d",
			len(f.args), len(args))
	}
	for i := range args {
		expect, have := f.args[i], args[i]
		if have == nil {
			// Untyped nil is permitted for the kinds that may be nil.
			switch expect.Kind() {
			case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
				continue
			}
			typecheck.Panicf(2, "wrong type for argument %d: expected %s, got nil", i, expect)
		}
		switch expect.Kind() {
		case reflect.Interface:
			if !have.Implements(expect) {
				typecheck.Panicf(2, "wrong type for argument %d: type %s does not implement interface %s", i, have, expect)
			}
		default:
			if have != expect {
				typecheck.Panicf(2, "wrong type for argument %d: expected %s, got %s", i, expect, have)
			}
		}
	}
}

// Func creates a parmap function from the provided function value.
// The function may accept a context.Context as its first parameter,
// in which case it is supplied with the context of the Map call. The
// function may return nothing, a single value, an error, or a value
// and an error.
//
// Funcs must be created in a deterministic order, and before any
// machine executor is started: this is guaranteed when funcs are
// package-level variables.
//
//	var square = parmap.Func(func(x int) int { return x * x })
func Func(fn interface{}) *FuncValue {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func {
		typecheck.Panicf(1, "parmap.Func: argument to func is a %T, not a func", fn)
	}
	ftype := fv.Type()
	if ftype.IsVariadic() {
		typecheck.Panicf(1, "parmap.Func: variadic funcs are not supported")
	}
	v := new(FuncValue)
	v.fn = fv
	for i := 0; i < ftype.NumIn(); i++ {
		typ := ftype.In(i)
		if i == 0 && typ == typeOfContext {
			v.hasContext = true
			continue
		}
		v.args = append(v.args, typ)
		register(typ)
	}
	switch ftype.NumOut() {
	case 0:
	case 1:
		if ftype.Out(0) == typeOfError {
			v.hasError = true
		} else {
			v.hasResult = true
			register(ftype.Out(0))
		}
	case 2:
		if ftype.Out(1) != typeOfError {
			typecheck.Panicf(1, "parmap.Func: second return value must be an error, not %s", ftype.Out(1))
		}
		v.hasResult = true
		v.hasError = true
		register(ftype.Out(0))
	default:
		typecheck.Panicf(1, "parmap.Func: func must return at most a value and an error")
	}
	if _, file, line, ok := runtime.Caller(1); ok {
		v.location = fmt.Sprintf("%s:%d", file, line)
	} else {
		v.location = "<unknown>"
	}
	funcsMu.Lock()
	v.index = len(funcs)
	funcs = append(funcs, v)
	funcsMu.Unlock()
	return v
}

// Register registers the concrete type typ with gob so that values
// of the type may be carried in interface-typed invocation arguments
// and results.
func register(typ reflect.Type) {
	if typ.Kind() == reflect.Interface {
		return
	}
	defer func() {
		// Gob refuses to register types it cannot encode (e.g., funcs
		// and channels). Such functions can still be used by in-process
		// executors.
		_ = recover()
	}()
	gob.Register(reflect.Zero(typ).Interface())
}

// FuncLocations returns the locations of all registered funcs, in
// registration order.
func FuncLocations() []string {
	funcsMu.Lock()
	defer funcsMu.Unlock()
	locs := make([]string, len(funcs))
	for i, f := range funcs {
		locs[i] = f.location
	}
	return locs
}

// Fingerprint returns a digest of the func registry. Two binaries
// that register the same funcs in the same order have the same
// fingerprint.
func Fingerprint() uint64 {
	h := murmur3.New64()
	var b [binary.MaxVarintLen64]byte
	for _, loc := range FuncLocations() {
		n := binary.PutUvarint(b[:], uint64(len(loc)))
		_, _ = h.Write(b[:n])
		_, _ = h.Write([]byte(loc))
	}
	return h.Sum64()
}

// FuncLocationsDiff returns a slice of strings that describes the
// differences between lhs and rhs, in the manner of a line diff.
// Lines only in lhs are prefixed with "- "; lines only in rhs with
// "+ ". FuncLocationsDiff returns nil if there are no differences.
func FuncLocationsDiff(lhs, rhs []string) []string {
	// Longest common subsequence, by dynamic programming. Registries
	// are small, so the quadratic table is fine.
	lcs := make([][]int, len(lhs)+1)
	for i := range lcs {
		lcs[i] = make([]int, len(rhs)+1)
	}
	for i := len(lhs) - 1; i >= 0; i-- {
		for j := len(rhs) - 1; j >= 0; j-- {
			switch {
			case lhs[i] == rhs[j]:
				lcs[i][j] = lcs[i+1][j+1] + 1
			case lcs[i+1][j] >= lcs[i][j+1]:
				lcs[i][j] = lcs[i+1][j]
			default:
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}
	var (
		diff    []string
		changed bool
		i, j    int
	)
	for i < len(lhs) && j < len(rhs) {
		switch {
		case lhs[i] == rhs[j]:
			diff = append(diff, lhs[i])
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			diff = append(diff, "- "+lhs[i])
			changed = true
			i++
		default:
			diff = append(diff, "+ "+rhs[j])
			changed = true
			j++
		}
	}
	for ; i < len(lhs); i++ {
		diff = append(diff, "- "+lhs[i])
		changed = true
	}
	for ; j < len(rhs); j++ {
		diff = append(diff, "+ "+rhs[j])
		changed = true
	}
	if !changed {
		return nil
	}
	return diff
}

// Invocation represents an invocation of a parmap func of the same
// binary. Invocations can be transmitted across process boundaries
// and thus may be invoked by remote workers.
//
// Each invocation carries an invocation index, which is unique for
// invocations within a process namespace.
//
// Invocations must be created by FuncValue.Invocation.
type Invocation struct {
	Index    uint64
	Func     uint64
	Location string
	Args     []interface{}
}

var invocationIndex uint64

func newInvocation(fn uint64, location string, args ...interface{}) Invocation {
	return Invocation{
		Index:    atomic.AddUint64(&invocationIndex, 1),
		Func:     fn,
		Location: location,
		Args:     args,
	}
}

// FuncValue returns the func named by this invocation.
func (i Invocation) FuncValue() *FuncValue {
	funcsMu.Lock()
	defer funcsMu.Unlock()
	if i.Func >= uint64(len(funcs)) {
		panic(fmt.Sprintf("parmap: invocation of unknown func %d (have %d funcs)", i.Func, len(funcs)))
	}
	return funcs[i.Func]
}

// Call performs the func invocation represented by this Invocation,
// returning its result. Panics in the func are recovered and
// returned as errors with errors.Fatal severity.
func (i Invocation) Call(ctx context.Context) (interface{}, error) {
	return i.FuncValue().call(ctx, i.Args)
}

func (i Invocation) String() string {
	return fmt.Sprintf("invocation %d of func %d (%s)", i.Index, i.Func, i.Location)
}
