// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
bio-varcall runs a GATK3 best-practices germline variant calling pipeline
over a directory of raw SAM, gzipped SAM or BAM alignments. Every alignment
is sorted and deduplicated, realigned around indels and base quality
recalibrated. The recalibrated reads are called per contig with
HaplotypeCaller, joint genotyped, and optionally filtered with VQSR.

Sample usage:

  bio-varcall \
      -R /ref/hg19.fa \
      -S /ref/dbsnp_138.hg19.vcf \
      -I /data/sample-alignments \
      -O /data/calls \
      -C tools.yaml \
      -CPN 8

The tool configuration named by -C is required, as is -CPN. The file maps a
tool name to extra arguments for it, either as YAML or as a properties file:

  MarkDuplicates: REMOVE_DUPLICATES=true
  SNPVariantRecalibrator: -an QD -an MQ -resource:hapmap,known=false,training=true,truth=true,prior=15.0 hapmap.vcf

VQSR runs for SNPs only if SNPVariantRecalibrator is configured, and for
indels only if INDELVariantRecalibrator is configured.

The final call set is written to the output directory, along with the
sorted, deduplicated, realigned and recalibrated alignments.
*/
package main
