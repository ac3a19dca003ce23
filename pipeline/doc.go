// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pipeline sequences the stages of a GATK3 best-practices germline
// variant calling workflow over a directory of raw alignments.
//
// The stages are, in order:
//
//   alignment-cleanup       SortSam of every raw alignment
//   dedup                   merge, then MarkDuplicates
//   indel-target-creation   RealignerTargetCreator on the whole genome
//   indel-realignment       IndelRealigner per contig; unmapped reads dropped
//   bqsr-target-creation    merge, then BaseRecalibrator on the whole genome
//   bqsr-apply              PrintReads per contig, unmapped reads included
//   haplotype-calling       HaplotypeCaller per contig, GVCFs merged
//   joint-genotyping        GenotypeGVCFs into merged.vcf
//   vqsr-target-creation    VariantRecalibrator, SNP then INDEL
//   vqsr-apply              ApplyRecalibration, SNP then INDEL
//
// The two VQSR stages run for a variant class only if the tool
// configuration has an entry for its recalibrator (SNPVariantRecalibrator
// or INDELVariantRecalibrator). Without either entry the joint genotyped
// call set is the result.
//
// A run moves through the states Initialized, Preprocessing,
// VariantDiscovery, Recalibration and Completed, or ends in Failed. The
// first fatal error stops the run; no later stage is started.
//
// Intermediate files are written to Config.ScratchDir. The artifacts worth
// keeping (sorted, deduplicated, realigned and recalibrated alignments,
// recalibration tables and VQSR models) are moved into Config.OutputDir
// along with the final call set.
package pipeline
