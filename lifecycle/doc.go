// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package lifecycle manages the intermediate files of the pipeline.
//
// A Manager merges artifacts of the same kind into one, splits an alignment
// into one shard per contig, indexes alignments, and relocates artifacts into
// a canonical output directory. No operation modifies an existing artifact:
// each returns a new Artifact whose path is derived deterministically from
// its inputs, written under a temporary name and renamed into place once
// complete.
//
// BAM files are read and written with github.com/grailbio/hts. VCF files are
// never parsed here: they are merged by Picard MergeVcfs, run through the
// Manager's Invoker.
//
// Passing an empty list to Merge, or artifacts of different kinds, is a
// programming error and is reported with kind errors.Precondition.
package lifecycle
