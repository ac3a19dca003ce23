// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tool

import (
	"strconv"
)

// VariantMode selects the variant class recalibrated by VQSR.
type VariantMode string

const (
	// SNP recalibrates single nucleotide polymorphisms.
	SNP VariantMode = "SNP"
	// INDEL recalibrates insertions and deletions.
	INDEL VariantMode = "INDEL"
)

// Toolchain builds the Invocations of the Picard and GATK3 tools used by the
// pipeline. Building an Invocation has no side effects.
type Toolchain struct {
	// GATK is the argv prefix that launches GATK3, e.g.
	// {"java", "-jar", "GenomeAnalysisTK.jar"}.
	GATK []string
	// Picard is the argv prefix that launches Picard, e.g.
	// {"java", "-jar", "picard.jar"}.
	Picard []string
	// Reference is the path of the indexed reference FASTA.
	Reference string
	// Threads is the number of threads passed to multi-threaded tools.
	Threads int
	// Extra maps tool names to user-supplied argument strings.
	Extra map[string]string
}

func (tc Toolchain) picard(name string, args []string, outputs ...string) Invocation {
	return Invocation{
		Name:    name,
		Program: append(append([]string{}, tc.Picard...), name),
		Args:    args,
		Extra:   tc.Extra[name],
		Outputs: outputs,
	}
}

// gatk builds an invocation of walker. extraKey names the configuration
// entry holding the extra arguments; it differs from walker only for the
// per-mode variant recalibrators.
func (tc Toolchain) gatk(walker, extraKey string, args []string, outputs ...string) Invocation {
	base := []string{"-T", walker, "-R", tc.Reference}
	return Invocation{
		Name:    extraKey,
		Program: append([]string{}, tc.GATK...),
		Args:    append(base, args...),
		Extra:   tc.Extra[extraKey],
		Outputs: outputs,
	}
}

func (tc Toolchain) threads() string {
	if tc.Threads < 1 {
		return "1"
	}
	return strconv.Itoa(tc.Threads)
}

// SortSam converts an aligner's SAM output into a coordinate-sorted BAM.
func (tc Toolchain) SortSam(in, out string) Invocation {
	return tc.picard(SortSam, []string{
		"I=" + in,
		"O=" + out,
		"SORT_ORDER=coordinate",
	}, out)
}

// MarkDuplicates marks duplicate reads of in, writing out and a metrics file.
func (tc Toolchain) MarkDuplicates(in, out, metrics string) Invocation {
	return tc.picard(MarkDuplicates, []string{
		"I=" + in,
		"O=" + out,
		"M=" + metrics,
	}, out, metrics)
}

// MergeVcfs merges VCF files that share their sample columns into out,
// ordered by the sequence dictionary of their headers.
func (tc Toolchain) MergeVcfs(in []string, out string) Invocation {
	args := make([]string, 0, len(in)+1)
	for _, path := range in {
		args = append(args, "I="+path)
	}
	args = append(args, "O="+out)
	return tc.picard(MergeVcfs, args, out, out+".idx", out+".tbi")
}

// RealignerTargetCreator finds intervals that need indel realignment.
func (tc Toolchain) RealignerTargetCreator(in, intervals string) Invocation {
	return tc.gatk(RealignerTargetCreator, RealignerTargetCreator, []string{
		"-I", in,
		"-o", intervals,
		"-nt", tc.threads(),
	}, intervals)
}

// IndelRealigner realigns reads of in around the given target intervals.
// The tool is single threaded.
func (tc Toolchain) IndelRealigner(in, intervals, out string) Invocation {
	return tc.gatk(IndelRealigner, IndelRealigner, []string{
		"-I", in,
		"-targetIntervals", intervals,
		"-o", out,
	}, out)
}

// BaseRecalibrator builds a base quality recalibration table for in.
func (tc Toolchain) BaseRecalibrator(in, knownSites, table string) Invocation {
	return tc.gatk(BaseRecalibrator, BaseRecalibrator, []string{
		"-I", in,
		"-knownSites", knownSites,
		"-o", table,
		"-nct", tc.threads(),
	}, table)
}

// PrintReads applies a recalibration table to in.
func (tc Toolchain) PrintReads(in, table, out string) Invocation {
	return tc.gatk(PrintReads, PrintReads, []string{
		"-I", in,
		"-BQSR", table,
		"-o", out,
		"-nct", tc.threads(),
	}, out)
}

// HaplotypeCaller calls variants of in into a GVCF.
func (tc Toolchain) HaplotypeCaller(in, out string) Invocation {
	return tc.gatk(HaplotypeCaller, HaplotypeCaller, []string{
		"-I", in,
		"-o", out,
		"--emitRefConfidence", "GVCF",
		"-nct", tc.threads(),
	}, out, out+".idx")
}

// GenotypeGVCFs jointly genotypes the given GVCFs.
func (tc Toolchain) GenotypeGVCFs(in []string, out string) Invocation {
	var args []string
	for _, path := range in {
		args = append(args, "--variant", path)
	}
	args = append(args, "-o", out, "-nt", tc.threads())
	return tc.gatk(GenotypeGVCFs, GenotypeGVCFs, args, out, out+".idx")
}

// VariantRecalibrator builds the recalibration model of the given mode. The
// training resources are expected in the extra arguments of the mode's
// configuration entry.
func (tc Toolchain) VariantRecalibrator(mode VariantMode, in, recal, tranches string) Invocation {
	return tc.gatk("VariantRecalibrator", RecalibratorName(mode), []string{
		"-input", in,
		"-mode", string(mode),
		"-recalFile", recal,
		"-tranchesFile", tranches,
		"-nt", tc.threads(),
	}, recal, tranches, recal+".idx")
}

// ApplyRecalibration applies a recalibration model to in.
func (tc Toolchain) ApplyRecalibration(mode VariantMode, in, recal, tranches, out string) Invocation {
	return tc.gatk(ApplyRecalibration, ApplyRecalibration, []string{
		"-input", in,
		"-mode", string(mode),
		"-recalFile", recal,
		"-tranchesFile", tranches,
		"-o", out,
	}, out, out+".idx")
}

// RecalibratorName returns the configuration key of the variant recalibrator
// for mode.
func RecalibratorName(mode VariantMode) string {
	if mode == INDEL {
		return INDELVariantRecalibrator
	}
	return SNPVariantRecalibrator
}
