// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package parmap

import (
	"fmt"
	"reflect"

	"github.com/grailbio/base/errors"
)

// An Arg is an argument group: the positional arguments for a single
// application of a func. An Arg is either a scalar, a single argument,
// or a tuple, an ordered sequence of arguments. Args are immutable.
type Arg struct {
	values []interface{}
	tuple  bool
}

// Scalar returns an argument group with the single argument v. Use
// Scalar to pass a slice as a single argument.
func Scalar(v interface{}) Arg {
	return Arg{values: []interface{}{v}}
}

// Tuple returns an argument group whose members are spread as
// positional arguments, in order.
func Tuple(vs ...interface{}) Arg {
	return Arg{values: vs, tuple: true}
}

// IsTuple tells whether the argument group is a tuple.
func (a Arg) IsTuple() bool { return a.tuple }

// Len returns the number of positional arguments in the group.
func (a Arg) Len() int { return len(a.values) }

// Values returns the positional arguments in the group. The
// returned slice must not be modified.
func (a Arg) Values() []interface{} { return a.values }

func (a Arg) String() string {
	if len(a.values) == 0 {
		return "tuple[]"
	}
	if !a.tuple {
		return fmt.Sprintf("scalar(%v)", a.values[0])
	}
	return fmt.Sprintf("tuple%v", a.values)
}

var (
	typeOfArg   = reflect.TypeOf(Arg{})
	typeOfBytes = reflect.TypeOf([]byte(nil))
)

// Normalize turns a list of argument groups into Args. Arguments must
// be a slice or array; Normalize returns an errors.Invalid error
// otherwise, and an errors.Precondition error if it is empty.
//
// Elements of type Arg are kept as they are. Other elements are
// classified by their dynamic type: slices and arrays become tuples,
// whose members are spread as positional arguments; anything else,
// including strings and byte slices, becomes a scalar.
func Normalize(arguments interface{}) ([]Arg, error) {
	if args, ok := arguments.([]Arg); ok {
		if len(args) == 0 {
			return nil, errEmpty()
		}
		return args, nil
	}
	v := reflect.ValueOf(arguments)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
	default:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("parmap: arguments of type %T are not a list", arguments))
	}
	if v.Len() == 0 {
		return nil, errEmpty()
	}
	args := make([]Arg, v.Len())
	for i := range args {
		args[i] = normalize(v.Index(i))
	}
	return args, nil
}

func normalize(v reflect.Value) Arg {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return Scalar(nil)
		}
		v = v.Elem()
	}
	if v.Type() == typeOfArg {
		return v.Interface().(Arg)
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Type() == typeOfBytes {
			break
		}
		vs := make([]interface{}, v.Len())
		for i := range vs {
			vs[i] = v.Index(i).Interface()
		}
		return Tuple(vs...)
	}
	return Scalar(v.Interface())
}

func errEmpty() error {
	return errors.E(errors.Precondition, "parmap: empty argument list")
}
