// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package tool invokes the external programs (Picard, GATK) that implement
// the genomic analyses of the pipeline.
//
// Every tool is described by a single Invocation record: the program to run,
// the base arguments the pipeline requires, and a free-form string of extra
// arguments taken from the user's configuration. Tool-specific argument
// construction lives in pure functions (see Toolchain) that return
// Invocations; there is one Invoker that runs them and applies a RetryPolicy.
package tool

import (
	"strings"

	"github.com/grailbio/base/errors"
	shellwords "github.com/mattn/go-shellwords"
)

// Names of the tools, as used for keys of the extra-arguments configuration.
const (
	SortSam                  = "SortSam"
	MarkDuplicates           = "MarkDuplicates"
	RealignerTargetCreator   = "RealignerTargetCreator"
	IndelRealigner           = "IndelRealigner"
	BaseRecalibrator         = "BaseRecalibrator"
	PrintReads               = "PrintReads"
	HaplotypeCaller          = "HaplotypeCaller"
	GenotypeGVCFs            = "GenotypeGVCFs"
	SNPVariantRecalibrator   = "SNPVariantRecalibrator"
	INDELVariantRecalibrator = "INDELVariantRecalibrator"
	ApplyRecalibration       = "ApplyRecalibration"
	MergeVcfs                = "MergeVcfs"
)

// Names lists every tool name recognized in the extra-arguments
// configuration.
var Names = []string{
	SortSam,
	MarkDuplicates,
	RealignerTargetCreator,
	IndelRealigner,
	BaseRecalibrator,
	PrintReads,
	HaplotypeCaller,
	GenotypeGVCFs,
	SNPVariantRecalibrator,
	INDELVariantRecalibrator,
	ApplyRecalibration,
	MergeVcfs,
}

// Invocation describes one run of an external tool.
type Invocation struct {
	// Name identifies the tool in logs, errors and the configuration.
	Name string
	// Program is the argv prefix that launches the tool, e.g.
	// {"java", "-jar", "picard.jar", "MarkDuplicates"}.
	Program []string
	// Args are the arguments required by the pipeline: reference, inputs,
	// outputs and thread counts.
	Args []string
	// Extra is the user-supplied argument string. It is tokenized with shell
	// quoting rules and appended after Args.
	Extra string
	// Outputs lists the files the tool is expected to write. They are removed
	// if the invocation fails.
	Outputs []string
}

// Argv returns the complete argument vector. Extra arguments are appended
// verbatim after the base arguments, so they can never displace them.
func (inv Invocation) Argv() ([]string, error) {
	argv := make([]string, 0, len(inv.Program)+len(inv.Args)+8)
	argv = append(argv, inv.Program...)
	argv = append(argv, inv.Args...)
	if strings.TrimSpace(inv.Extra) == "" {
		return argv, nil
	}
	extra, err := shellwords.Parse(inv.Extra)
	if err != nil {
		return nil, errors.E(errors.Invalid, err, "parse extra arguments for", inv.Name)
	}
	return append(argv, extra...), nil
}

// String returns the command line, for logging.
func (inv Invocation) String() string {
	argv, err := inv.Argv()
	if err != nil {
		words := append([]string{}, inv.Program...)
		words = append(words, inv.Args...)
		return strings.Join(append(words, inv.Extra), " ")
	}
	return strings.Join(argv, " ")
}
