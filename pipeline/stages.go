// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/varcall/artifact"
	"github.com/grailbio/varcall/lifecycle"
	"github.com/grailbio/varcall/scatter"
	"github.com/grailbio/varcall/tool"
)

// Stage names, as reported by Failure.
const (
	StageAlignmentCleanup   = "alignment-cleanup"
	StageDedup              = "dedup"
	StageIndelTargets       = "indel-target-creation"
	StageIndelRealignment   = "indel-realignment"
	StageBQSRTargets        = "bqsr-target-creation"
	StageBQSRApply          = "bqsr-apply"
	StageHaplotypeCalling   = "haplotype-calling"
	StageJointGenotyping    = "joint-genotyping"
	StageVQSRTargetCreation = "vqsr-target-creation"
	StageVQSRApply          = "vqsr-apply"
)

// Names of the files merged across inputs or contigs.
const (
	mergedSortedName    = "merged-sorted.bam"
	mergedRealignedName = "merged-realigned.bam"
	mergedGVCFName      = "merged.g.vcf"
	mergedVCFName       = "merged.vcf"
)

// Invoker runs one tool invocation to completion.
type Invoker interface {
	Invoke(ctx context.Context, inv tool.Invocation) error
}

// runEnv carries what every stage of one run needs. Stages run on the
// driver goroutine; only the transforms handed to the partitioner run
// concurrently, and those touch nothing but their own shard.
type runEnv struct {
	cfg      *Config
	tools    tool.Toolchain
	invoker  Invoker
	files    *lifecycle.Manager
	part     *scatter.Partitioner
	retained []artifact.Artifact
}

// keep moves a into the output directory and records it as retained.
func (e *runEnv) keep(ctx context.Context, a artifact.Artifact) (artifact.Artifact, error) {
	moved, err := e.files.Relocate(ctx, a, e.cfg.OutputDir)
	if err != nil {
		return artifact.Artifact{}, err
	}
	e.retained = append(e.retained, moved)
	return moved, nil
}

func (e *runEnv) keepAll(ctx context.Context, list []artifact.Artifact) ([]artifact.Artifact, error) {
	out := make([]artifact.Artifact, len(list))
	for i, a := range list {
		var err error
		if out[i], err = e.keep(ctx, a); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// scratch derives an output of a in the scratch directory.
func (e *runEnv) scratch(a artifact.Artifact, suffix string, kind artifact.Kind) artifact.Artifact {
	return artifact.Derive(a, e.cfg.ScratchDir, suffix, kind)
}

// cleanupAlignments coordinate-sorts every raw alignment into a BAM.
// Gzip-compressed SAM inputs are decompressed into scratch first.
func cleanupAlignments(ctx context.Context, e *runEnv, raw []artifact.Artifact) ([]artifact.Artifact, error) {
	sorted, err := e.part.Each(ctx, raw, func(ctx context.Context, a artifact.Artifact) (artifact.Artifact, error) {
		a, err := e.files.Decompress(ctx, a)
		if err != nil {
			return artifact.Artifact{}, err
		}
		out := e.scratch(a, "-sorted.bam", artifact.SortedAlignment)
		if err := e.invoker.Invoke(ctx, e.tools.SortSam(a.Path, out.Path)); err != nil {
			return artifact.Artifact{}, err
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return e.keepAll(ctx, sorted)
}

// markDuplicates merges the sorted alignments and marks duplicate reads.
func markDuplicates(ctx context.Context, e *runEnv, sorted []artifact.Artifact) (artifact.Artifact, error) {
	merged, err := e.files.Merge(ctx, sorted, mergedSortedName)
	if err != nil {
		return artifact.Artifact{}, err
	}
	out := e.scratch(merged, "-dedup.bam", artifact.DedupedAlignment)
	metrics := e.scratch(merged, "-dedup_metrics.txt", artifact.DuplicateMetrics)
	if err := e.invoker.Invoke(ctx, e.tools.MarkDuplicates(merged.Path, out.Path, metrics.Path)); err != nil {
		return artifact.Artifact{}, err
	}
	return e.keep(ctx, out.WithCompanion(metrics.Path))
}

// createIndelTargets finds the intervals of the deduplicated alignment
// that need realignment.
func createIndelTargets(ctx context.Context, e *runEnv, deduped artifact.Artifact) (artifact.Artifact, error) {
	deduped, err := e.files.Index(ctx, deduped)
	if err != nil {
		return artifact.Artifact{}, err
	}
	targets := e.scratch(deduped, "-realign.intervals", artifact.IndelTarget)
	if err := e.invoker.Invoke(ctx, e.tools.RealignerTargetCreator(deduped.Path, targets.Path)); err != nil {
		return artifact.Artifact{}, err
	}
	return e.keep(ctx, targets)
}

// realignIndels realigns every contig of the deduplicated alignment. Reads
// without a reference are not realigned and do not reach later stages
// through this path.
func realignIndels(ctx context.Context, e *runEnv, deduped, targets artifact.Artifact) (scatter.Shards, error) {
	shards, err := e.files.SplitByContig(ctx, deduped)
	if err != nil {
		return nil, err
	}
	mapped := scatter.Drop(shards, artifact.Unmapped)
	log.Printf("realigning %d contigs", len(mapped))
	return e.part.Gather(ctx, mapped, func(ctx context.Context, shard artifact.Artifact) (artifact.Artifact, error) {
		shard, err := e.files.Index(ctx, shard)
		if err != nil {
			return artifact.Artifact{}, err
		}
		out := e.scratch(shard, "-realigned.bam", artifact.RealignedAlignment)
		if err := e.invoker.Invoke(ctx, e.tools.IndelRealigner(shard.Path, targets.Path, out.Path)); err != nil {
			return artifact.Artifact{}, err
		}
		return out, nil
	})
}

// createBQSRTable merges the realigned contigs and computes one base
// recalibration table for the whole genome. It returns the merged
// alignment and the table.
func createBQSRTable(ctx context.Context, e *runEnv, realigned scatter.Shards) (merged, table artifact.Artifact, err error) {
	if merged, err = e.files.Merge(ctx, realigned.Artifacts(), mergedRealignedName); err != nil {
		return
	}
	if merged, err = e.files.Index(ctx, merged); err != nil {
		return
	}
	table = e.scratch(merged, "-recal_data.table", artifact.RecalTable)
	if err = e.invoker.Invoke(ctx, e.tools.BaseRecalibrator(merged.Path, e.cfg.KnownSites, table.Path)); err != nil {
		return
	}
	if table, err = e.keep(ctx, table); err != nil {
		return
	}
	merged, err = e.keep(ctx, merged)
	return
}

// applyBQSR splits the merged alignment by contig, unmapped reads
// included, and applies the recalibration table to every shard.
func applyBQSR(ctx context.Context, e *runEnv, merged, table artifact.Artifact) (scatter.Shards, error) {
	recalibrated, err := e.part.ScatterGather(ctx, merged, func(ctx context.Context, shard artifact.Artifact) (artifact.Artifact, error) {
		shard, err := e.files.Index(ctx, shard)
		if err != nil {
			return artifact.Artifact{}, err
		}
		out := e.scratch(shard, "-recal.bam", artifact.RecalibratedAlignment)
		if err := e.invoker.Invoke(ctx, e.tools.PrintReads(shard.Path, table.Path, out.Path)); err != nil {
			return artifact.Artifact{}, err
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	for _, contig := range recalibrated.Keys() {
		if recalibrated[contig], err = e.keep(ctx, recalibrated[contig]); err != nil {
			return nil, err
		}
	}
	return recalibrated, nil
}

// callHaplotypes calls variants on every recalibrated contig and merges
// the per-contig GVCFs.
func callHaplotypes(ctx context.Context, e *runEnv, recalibrated scatter.Shards) (artifact.Artifact, error) {
	gvcfs, err := e.part.Gather(ctx, recalibrated, func(ctx context.Context, shard artifact.Artifact) (artifact.Artifact, error) {
		shard, err := e.files.Index(ctx, shard)
		if err != nil {
			return artifact.Artifact{}, err
		}
		out := e.scratch(shard, ".g.vcf", artifact.GVCF)
		if err := e.invoker.Invoke(ctx, e.tools.HaplotypeCaller(shard.Path, out.Path)); err != nil {
			return artifact.Artifact{}, err
		}
		return out, nil
	})
	if err != nil {
		return artifact.Artifact{}, err
	}
	return e.files.Merge(ctx, gvcfs.Artifacts(), mergedGVCFName)
}

// genotype jointly genotypes the merged GVCF into the output directory.
func genotype(ctx context.Context, e *runEnv, gvcf artifact.Artifact) (artifact.Artifact, error) {
	out := artifact.New(filepath.Join(e.cfg.OutputDir, mergedVCFName), artifact.MergedVCF)
	if err := e.invoker.Invoke(ctx, e.tools.GenotypeGVCFs([]string{gvcf.Path}, out.Path)); err != nil {
		return artifact.Artifact{}, err
	}
	e.retained = append(e.retained, out)
	return out, nil
}

// recalibrateVariants runs VQSR on vcf, first for SNPs and then for
// indels. A mode runs only if its recalibrator has a configuration entry;
// with neither configured, vcf is returned unchanged. Errors are returned
// as *Failure naming the failing sub-stage.
func recalibrateVariants(ctx context.Context, e *runEnv, vcf artifact.Artifact) (artifact.Artifact, error) {
	for _, mode := range []tool.VariantMode{tool.SNP, tool.INDEL} {
		if !e.cfg.Configured(tool.RecalibratorName(mode)) {
			log.Printf("no %s recalibration configured", mode)
			continue
		}
		tag := "-" + strings.ToLower(string(mode))
		var targets artifact.Artifact
		err := runStage(StageVQSRTargetCreation, func() error {
			recal := e.scratch(vcf, tag+".recal", artifact.VQSRTargetPair)
			tranches := e.scratch(vcf, tag+".tranches", artifact.VQSRTargetPair)
			inv := e.tools.VariantRecalibrator(mode, vcf.Path, recal.Path, tranches.Path)
			if err := e.invoker.Invoke(ctx, inv); err != nil {
				return err
			}
			var err error
			targets, err = e.keep(ctx, recal.WithCompanion(tranches.Path))
			return err
		})
		if err != nil {
			return artifact.Artifact{}, err
		}
		err = runStage(StageVQSRApply, func() error {
			out := e.scratch(vcf, tag+".vcf", artifact.RecalibratedVCF)
			inv := e.tools.ApplyRecalibration(mode, vcf.Path, targets.Path, targets.Companion, out.Path)
			if err := e.invoker.Invoke(ctx, inv); err != nil {
				return err
			}
			vcf = out
			return nil
		})
		if err != nil {
			return artifact.Artifact{}, err
		}
	}
	return vcf, nil
}
