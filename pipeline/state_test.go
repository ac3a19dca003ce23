// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeline

import (
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
)

func TestTransition(t *testing.T) {
	forward := []State{Initialized, Preprocessing, VariantDiscovery, Recalibration, Completed}
	for i := 0; i+1 < len(forward); i++ {
		expect.NoError(t, Transition(forward[i], forward[i+1]))
		expect.NoError(t, Transition(forward[i], Failed))
	}
	for _, test := range []struct{ from, to State }{
		{Initialized, VariantDiscovery},
		{Preprocessing, Initialized},
		{Recalibration, Preprocessing},
		{VariantDiscovery, VariantDiscovery},
		{Completed, Failed},
		{Failed, Initialized},
		{Failed, Failed},
	} {
		err := Transition(test.from, test.to)
		assert.True(t, errors.Is(errors.Precondition, err), "%v -> %v", test.from, test.to)
	}
}

func TestStateString(t *testing.T) {
	expect.EQ(t, Recalibration.String(), "Recalibration")
	expect.EQ(t, State(42).String(), "State(42)")
	expect.True(t, Failed.IsTerminal())
	expect.False(t, Preprocessing.IsTerminal())
}
