// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeline

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// State is the phase of a pipeline run.
type State int

const (
	// Initialized is the state of a run that has not started.
	Initialized State = iota
	// Preprocessing covers alignment cleanup through BQSR.
	Preprocessing
	// VariantDiscovery covers haplotype calling and joint genotyping.
	VariantDiscovery
	// Recalibration covers VQSR.
	Recalibration
	// Completed is the state of a run that produced its final artifact.
	Completed
	// Failed is the state of a run stopped by a fatal error.
	Failed
)

var stateNames = [...]string{
	Initialized:      "Initialized",
	Preprocessing:    "Preprocessing",
	VariantDiscovery: "VariantDiscovery",
	Recalibration:    "Recalibration",
	Completed:        "Completed",
	Failed:           "Failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return s == Completed || s == Failed
}

// next is the only forward transition out of each non-terminal state.
var next = map[State]State{
	Initialized:      Preprocessing,
	Preprocessing:    VariantDiscovery,
	VariantDiscovery: Recalibration,
	Recalibration:    Completed,
}

// Transition validates the move from one state to another. Runs move
// strictly forward one phase at a time; any non-terminal state may fail.
func Transition(from, to State) error {
	if from.IsTerminal() {
		return errors.E(errors.Precondition, fmt.Sprintf("transition out of terminal state %v to %v", from, to))
	}
	if to == Failed || next[from] == to {
		return nil
	}
	return errors.E(errors.Precondition, fmt.Sprintf("disallowed transition %v -> %v", from, to))
}
