// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package artifact defines the file-backed units of state passed between
// pipeline stages, and the deterministic naming rules used to derive one
// artifact's path from another's.
package artifact

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Kind identifies what an artifact contains.
type Kind int

const (
	// Unknown is a sentinel.
	Unknown Kind = iota
	// RawAlignment is an aligner output (SAM or BAM), unsorted.
	RawAlignment
	// SortedAlignment is a coordinate-sorted BAM.
	SortedAlignment
	// DedupedAlignment is a BAM with duplicates marked.
	DedupedAlignment
	// DuplicateMetrics is the metrics file written by duplicate marking.
	DuplicateMetrics
	// IndelTarget is an interval list of indel realignment targets.
	IndelTarget
	// RealignedAlignment is a BAM after local indel realignment.
	RealignedAlignment
	// RecalTable is a base quality recalibration table.
	RecalTable
	// RecalibratedAlignment is a BAM with recalibrated base qualities.
	RecalibratedAlignment
	// GVCF is a per-sample genomic VCF.
	GVCF
	// MergedVCF is the jointly genotyped VCF.
	MergedVCF
	// VQSRTargetPair is a variant recalibration file; its Companion is the
	// tranches file.
	VQSRTargetPair
	// RecalibratedVCF is a VCF after variant quality score recalibration.
	RecalibratedVCF
)

var kindNames = map[Kind]string{
	Unknown:               "unknown",
	RawAlignment:          "raw-alignment",
	SortedAlignment:       "sorted-alignment",
	DedupedAlignment:      "deduped-alignment",
	DuplicateMetrics:      "duplicate-metrics",
	IndelTarget:           "indel-target",
	RealignedAlignment:    "realigned-alignment",
	RecalTable:            "recal-table",
	RecalibratedAlignment: "recalibrated-alignment",
	GVCF:                  "gvcf",
	MergedVCF:             "merged-vcf",
	VQSRTargetPair:        "vqsr-target-pair",
	RecalibratedVCF:       "recalibrated-vcf",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsAlignment reports whether artifacts of this kind are SAM/BAM files.
func (k Kind) IsAlignment() bool {
	switch k {
	case RawAlignment, SortedAlignment, DedupedAlignment, RealignedAlignment, RecalibratedAlignment:
		return true
	}
	return false
}

// IsVariants reports whether artifacts of this kind are VCF files.
func (k Kind) IsVariants() bool {
	switch k {
	case GVCF, MergedVCF, RecalibratedVCF:
		return true
	}
	return false
}

// ContigKey names a reference contig. It is used only as a partition key.
type ContigKey string

// Unmapped is the ContigKey of reads that have no reference.
const Unmapped ContigKey = "unmapped"

// Artifact is a handle to a file on a filesystem shared by all workers.
// Artifacts are values: transformations produce new Artifacts.
type Artifact struct {
	// Path is the absolute pathname of the data file.
	Path string
	Kind Kind
	// Contig is set for per-contig shards, and empty otherwise.
	Contig ContigKey
	// Companion is an optional second file that travels with Path, e.g. the
	// tranches file of a VQSRTargetPair or the metrics of a DedupedAlignment.
	Companion string
}

// New creates an artifact for path. path is made absolute.
func New(path string, kind Kind) Artifact {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return Artifact{Path: path, Kind: kind}
}

// WithContig returns a copy of a tagged with contig.
func (a Artifact) WithContig(contig ContigKey) Artifact {
	a.Contig = contig
	return a
}

// WithCompanion returns a copy of a with the given companion file.
func (a Artifact) WithCompanion(path string) Artifact {
	a.Companion = path
	return a
}

// Dir returns the directory containing the artifact.
func (a Artifact) Dir() string { return filepath.Dir(a.Path) }

// Base returns the file name of the artifact without its extension.
func (a Artifact) Base() string { return TrimExt(filepath.Base(a.Path)) }

// Files lists the data file and its companion, if any.
func (a Artifact) Files() []string {
	if a.Companion == "" {
		return []string{a.Path}
	}
	return []string{a.Path, a.Companion}
}

func (a Artifact) String() string {
	if a.Contig != "" {
		return fmt.Sprintf("%s[%s]:%s", a.Kind, a.Contig, a.Path)
	}
	return fmt.Sprintf("%s:%s", a.Kind, a.Path)
}

// extensions ordered so that compound extensions match first.
var extensions = []string{".g.vcf.gz", ".vcf.gz", ".g.vcf", ".vcf", ".sam.gz", ".bam", ".sam", ".intervals", ".table", ".recal", ".tranches", ".txt"}

// TrimExt strips a known genomics extension from name. Unknown extensions are
// stripped with filepath.Ext.
func TrimExt(name string) string {
	for _, ext := range extensions {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Derive computes the path of an artifact produced from a: the base name of
// a, followed by suffix, placed in dir. Derivation is a pure function of its
// arguments, so distinct inputs never share an output path.
func Derive(a Artifact, dir, suffix string, kind Kind) Artifact {
	if dir == "" {
		dir = a.Dir()
	}
	return Artifact{
		Path:   filepath.Join(dir, a.Base()+suffix),
		Kind:   kind,
		Contig: a.Contig,
	}
}

// ShardName returns the file name of the contig shard of base with the given
// extension.
func ShardName(base string, contig ContigKey, ext string) string {
	return base + "-" + SanitizeContig(contig) + ext
}

// SanitizeContig maps contig names to strings safe to embed in file names.
func SanitizeContig(contig ContigKey) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		}
		return '_'
	}, string(contig))
}
