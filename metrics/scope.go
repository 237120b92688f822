// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package metrics

import (
	"bytes"
	"context"
	"encoding/gob"
	"sync"
	"sync/atomic"
)

// Scope is a collection of metric instances. The zero Scope is empty
// and ready to use. Scopes may be used concurrently.
type Scope struct {
	mu     sync.Mutex
	values map[int]*int64
}

// GobEncode implements a custom gob encoder for scopes.
func (s *Scope) GobEncode() ([]byte, error) {
	var b bytes.Buffer
	err := gob.NewEncoder(&b).Encode(s.snapshot())
	return b.Bytes(), err
}

// GobDecode implements a custom gob decoder for scopes.
func (s *Scope) GobDecode(p []byte) error {
	var values map[int]int64
	if err := gob.NewDecoder(bytes.NewReader(p)).Decode(&values); err != nil {
		return err
	}
	s.set(values)
	return nil
}

// Merge merges instances from Scope u into Scope s.
func (s *Scope) Merge(u *Scope) {
	for id, v := range u.snapshot() {
		atomic.AddInt64(s.instance(id), v)
	}
}

// Reset resets the scope s to u. It is reset to its initial (zero) state
// if u is nil.
func (s *Scope) Reset(u *Scope) {
	if u == nil {
		s.set(nil)
		return
	}
	s.set(u.snapshot())
}

// instance returns the instance of metric id in the scope s. A new
// instance is created if none exists yet.
func (s *Scope) instance(id int) *int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[int]*int64)
	}
	p := s.values[id]
	if p == nil {
		p = new(int64)
		s.values[id] = p
	}
	return p
}

// snapshot returns the current values in the scope s.
func (s *Scope) snapshot() map[int]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	values := make(map[int]int64, len(s.values))
	for id, p := range s.values {
		values[id] = atomic.LoadInt64(p)
	}
	return values
}

func (s *Scope) set(values map[int]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[int]*int64, len(values))
	for id, v := range values {
		v := v
		s.values[id] = &v
	}
}

// contextKeyType is used to create unique context key for scopes,
// available only to code in this package.
type contextKeyType struct{}

// contextKey is the key used to attach scopes to contexts.
var contextKey contextKeyType

// ScopedContext returns a context with the provided scope attached.
// The scope may be retrieved by ContextScope.
func ScopedContext(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, contextKey, scope)
}

// ContextScope returns the scope attached to the provided context. ContextScope
// panics if the context does not have an attached scope.
func ContextScope(ctx context.Context) *Scope {
	s := ctx.Value(contextKey)
	if s == nil {
		panic("metrics: context does not provide metrics")
	}
	return s.(*Scope)
}
