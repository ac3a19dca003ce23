// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tool

import (
	"context"
	"sync"
)

// FakeRunner is only for unittests. It records every command line it is
// asked to run and yields scripted results instead of running anything.
type FakeRunner struct {
	// Handler, if set, computes the result of each run. call is the 0-based
	// index of the run.
	Handler func(call int, argv []string) (Result, error)
	// Results are returned in order when Handler is nil. Once exhausted,
	// runs succeed.
	Results []Result

	mu    sync.Mutex
	calls [][]string
}

// Run implements the Runner interface.
func (r *FakeRunner) Run(ctx context.Context, argv []string) (Result, error) {
	r.mu.Lock()
	call := len(r.calls)
	r.calls = append(r.calls, append([]string{}, argv...))
	var res Result
	if r.Handler == nil && call < len(r.Results) {
		res = r.Results[call]
	}
	r.mu.Unlock()
	if r.Handler != nil {
		return r.Handler(call, argv)
	}
	return res, nil
}

// Calls returns the command lines run so far, in order.
func (r *FakeRunner) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string{}, r.calls...)
}
