// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/varcall/artifact"
	"github.com/grailbio/varcall/lifecycle"
	"github.com/grailbio/varcall/scatter"
	"github.com/grailbio/varcall/tool"
)

// RawAlignmentExts are the extensions of the raw inputs discovered in the
// input directory.
var RawAlignmentExts = []string{".sam", ".sam.gz", ".bam"}

// Failure reports the stage, and the tool if any, that stopped a run.
type Failure struct {
	Stage string
	// Tool is the name of the failing tool, or empty if the stage failed
	// outside a tool invocation.
	Tool string
	Err  error
}

// Error implements error.
func (f *Failure) Error() string {
	if f.Tool == "" {
		return fmt.Sprintf("stage %s: %v", f.Stage, f.Err)
	}
	return fmt.Sprintf("stage %s: tool %s: %v", f.Stage, f.Tool, f.Err)
}

// AsFailure finds the *Failure in the cause chain of err.
func AsFailure(err error) (*Failure, bool) {
	for err != nil {
		switch e := err.(type) {
		case *Failure:
			return e, true
		case *errors.Error:
			err = e.Err
		default:
			return nil, false
		}
	}
	return nil, false
}

// runStage runs fn as the named stage. A returned error carries a *Failure
// and the kind of the underlying error.
func runStage(name string, fn func() error) error {
	log.Printf("stage %s: start", name)
	start := time.Now()
	err := fn()
	if err == nil {
		log.Printf("stage %s: done in %s", name, time.Since(start).Round(time.Millisecond))
		return nil
	}
	if _, ok := AsFailure(err); ok {
		return err
	}
	f := &Failure{Stage: name, Err: err}
	if tf, ok := tool.AsFailure(err); ok {
		f.Tool = tf.Tool
	}
	kind := errors.Other
	if e, ok := err.(*errors.Error); ok {
		kind = e.Kind
	}
	return errors.E(kind, f)
}

// Orchestrator drives one run of the pipeline. An Orchestrator runs at
// most once.
type Orchestrator struct {
	Config Config
	// Invoker runs the tools. Defaults to tool.NewInvoker().
	Invoker Invoker
	// Substrate runs the per-input and per-contig work. Defaults to a
	// scatter.Local as wide as Config.Parallelism.
	Substrate scatter.Substrate

	id       string
	state    State
	retained []artifact.Artifact
}

// State returns the state of the run.
func (o *Orchestrator) State() State { return o.state }

// ID returns the identifier of the run, assigned when Run starts.
func (o *Orchestrator) ID() string { return o.id }

// Retained lists the artifacts the run moved into the output directory, in
// the order they were produced.
func (o *Orchestrator) Retained() []artifact.Artifact {
	return append([]artifact.Artifact(nil), o.retained...)
}

func (o *Orchestrator) transition(to State) error {
	if err := Transition(o.state, to); err != nil {
		return err
	}
	log.Printf("run %s: %v -> %v", o.id, o.state, to)
	o.state = to
	return nil
}

// Run processes every raw alignment of inputDir and returns the final call
// set, placed in Config.OutputDir. It stops at the first fatal error, which
// is returned with kind errors.Invalid for a bad configuration,
// errors.NotExist when inputDir holds no raw alignment, and otherwise
// carries a *Failure naming the failing stage.
func (o *Orchestrator) Run(ctx context.Context, inputDir string) (final artifact.Artifact, err error) {
	if o.state != Initialized {
		return artifact.Artifact{}, errors.E(errors.Precondition, "pipeline run already started")
	}
	o.id = uuid.New().String()
	defer func() {
		if err != nil {
			log.Error.Printf("run %s failed in state %v: %v", o.id, o.state, err)
			o.state = Failed
		}
	}()
	cfg := o.Config
	cfg.ToolArgs = make(map[string]string, len(o.Config.ToolArgs))
	for k, v := range o.Config.ToolArgs {
		cfg.ToolArgs[k] = v
	}
	if err := cfg.Validate(); err != nil {
		return artifact.Artifact{}, err
	}
	raw, err := lifecycle.Discover(ctx, inputDir, artifact.RawAlignment, RawAlignmentExts...)
	if err != nil {
		return artifact.Artifact{}, errors.E(errors.NotExist, err, "no input")
	}
	if len(raw) == 0 {
		return artifact.Artifact{}, errors.E(errors.NotExist, "no input: no raw alignment files in", inputDir)
	}
	seen := map[string]string{}
	for _, a := range raw {
		if prev, ok := seen[a.Base()]; ok {
			return artifact.Artifact{}, errors.E(errors.Invalid, "inputs", prev, "and", a.Path, "share a name")
		}
		seen[a.Base()] = a.Path
	}
	for _, dir := range []string{cfg.OutputDir, cfg.ScratchDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return artifact.Artifact{}, errors.E(err, "create", dir)
		}
	}
	env := &runEnv{
		cfg:     &cfg,
		tools:   cfg.toolchain(),
		invoker: o.Invoker,
	}
	if env.invoker == nil {
		env.invoker = tool.NewInvoker()
	}
	env.files = &lifecycle.Manager{ScratchDir: cfg.ScratchDir, Tools: env.tools, Invoker: env.invoker}
	substrate := o.Substrate
	if substrate == nil {
		substrate = scatter.Local{Parallelism: cfg.Parallelism}
	}
	env.part = &scatter.Partitioner{Substrate: substrate, Splitter: env.files}
	defer func() { o.retained = env.retained }()

	log.Printf("run %s: %d raw alignments in %s, output in %s", o.id, len(raw), inputDir, cfg.OutputDir)
	return o.drive(ctx, env, raw)
}

func (o *Orchestrator) drive(ctx context.Context, env *runEnv, raw []artifact.Artifact) (artifact.Artifact, error) {
	var (
		sorted                 []artifact.Artifact
		deduped, targets       artifact.Artifact
		realignedMerged, table artifact.Artifact
		realigned, recal       scatter.Shards
		gvcf, vcf              artifact.Artifact
		err                    error
	)
	if err = o.transition(Preprocessing); err != nil {
		return artifact.Artifact{}, err
	}
	preprocessing := []struct {
		name string
		fn   func() error
	}{
		{StageAlignmentCleanup, func() (err error) { sorted, err = cleanupAlignments(ctx, env, raw); return }},
		{StageDedup, func() (err error) { deduped, err = markDuplicates(ctx, env, sorted); return }},
		{StageIndelTargets, func() (err error) { targets, err = createIndelTargets(ctx, env, deduped); return }},
		{StageIndelRealignment, func() (err error) { realigned, err = realignIndels(ctx, env, deduped, targets); return }},
		{StageBQSRTargets, func() (err error) { realignedMerged, table, err = createBQSRTable(ctx, env, realigned); return }},
		{StageBQSRApply, func() (err error) { recal, err = applyBQSR(ctx, env, realignedMerged, table); return }},
	}
	for _, s := range preprocessing {
		if err = runStage(s.name, s.fn); err != nil {
			return artifact.Artifact{}, err
		}
	}

	if err = o.transition(VariantDiscovery); err != nil {
		return artifact.Artifact{}, err
	}
	if err = runStage(StageHaplotypeCalling, func() (err error) { gvcf, err = callHaplotypes(ctx, env, recal); return }); err != nil {
		return artifact.Artifact{}, err
	}
	if err = runStage(StageJointGenotyping, func() (err error) { vcf, err = genotype(ctx, env, gvcf); return }); err != nil {
		return artifact.Artifact{}, err
	}

	if err = o.transition(Recalibration); err != nil {
		return artifact.Artifact{}, err
	}
	if vcf, err = recalibrateVariants(ctx, env, vcf); err != nil {
		return artifact.Artifact{}, err
	}
	if vcf.Kind == artifact.RecalibratedVCF {
		if vcf, err = env.keep(ctx, vcf); err != nil {
			return artifact.Artifact{}, err
		}
	}

	if err = o.transition(Completed); err != nil {
		return artifact.Artifact{}, err
	}
	log.Printf("run %s: final call set %s", o.id, vcf.Path)
	return vcf, nil
}
