// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package lifecycle

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/varcall/artifact"
	"github.com/grailbio/varcall/tool"
	"github.com/klauspost/compress/gzip"
)

// IndexSuffix is appended to a BAM path to form the path of its index.
const IndexSuffix = ".bai"

// Invoker runs one tool invocation to completion.
type Invoker interface {
	Invoke(ctx context.Context, inv tool.Invocation) error
}

// Manager implements the file lifecycle operations. The zero value writes
// merged files and shards next to their first input, and cannot merge VCFs.
type Manager struct {
	// ScratchDir is the directory that receives merged files and contig
	// shards. If empty, outputs are written next to their input.
	ScratchDir string
	// Tools and Invoker run Picard MergeVcfs for VCF merges.
	Tools   tool.Toolchain
	Invoker Invoker
}

func (m *Manager) dir(a artifact.Artifact) string {
	if m.ScratchDir != "" {
		return m.ScratchDir
	}
	return a.Dir()
}

// Merge combines artifacts of the same kind into one file named name. A
// single artifact is returned unchanged. Alignments are merged in coordinate
// order in process; VCFs are merged by Picard MergeVcfs.
func (m *Manager) Merge(ctx context.Context, in []artifact.Artifact, name string) (artifact.Artifact, error) {
	if len(in) == 0 {
		return artifact.Artifact{}, errors.E(errors.Precondition, "merge", name, "of zero artifacts")
	}
	if len(in) == 1 {
		return in[0], nil
	}
	kind := in[0].Kind
	for _, a := range in[1:] {
		if a.Kind != kind {
			return artifact.Artifact{}, errors.E(errors.Precondition,
				fmt.Sprintf("merge %s: mixed kinds %v and %v", name, kind, a.Kind))
		}
	}
	out := artifact.Artifact{Path: filepath.Join(m.dir(in[0]), name), Kind: kind}
	log.Debug.Printf("merging %d %v artifacts into %s", len(in), kind, out.Path)
	if err := os.MkdirAll(filepath.Dir(out.Path), 0755); err != nil {
		return artifact.Artifact{}, errors.E(err, "merge", out.Path)
	}
	var err error
	switch {
	case kind.IsAlignment():
		err = writeAtomic(ctx, out.Path, func(w io.Writer) error {
			return mergeBAM(ctx, w, paths(in))
		})
	case kind.IsVariants():
		if m.Invoker == nil {
			return artifact.Artifact{}, errors.E(errors.Precondition, "merge", name, "without a tool invoker")
		}
		err = m.Invoker.Invoke(ctx, m.Tools.MergeVcfs(paths(in), out.Path))
	default:
		err = errors.E(errors.NotSupported, "merge of", kind.String(), "artifacts")
	}
	if err != nil {
		return artifact.Artifact{}, errors.E(err, "merge", out.Path)
	}
	return out, nil
}

// SplitByContig partitions an alignment into one shard per contig that has
// at least one read, plus a shard keyed artifact.Unmapped holding the reads
// without a reference. The unmapped shard is always present, possibly empty.
func (m *Manager) SplitByContig(ctx context.Context, a artifact.Artifact) (map[artifact.ContigKey]artifact.Artifact, error) {
	if !a.Kind.IsAlignment() {
		return nil, errors.E(errors.Precondition, "split of non-alignment artifact", a.String())
	}
	if err := os.MkdirAll(m.dir(a), 0755); err != nil {
		return nil, errors.E(err, "split", a.Path)
	}
	shards, err := splitBAM(ctx, a, m.dir(a))
	if err != nil {
		return nil, errors.E(err, "split", a.Path)
	}
	log.Debug.Printf("split %s into %d shards", a.Path, len(shards))
	return shards, nil
}

// Index creates the companion index of a BAM artifact. An index that is not
// older than its BAM is left alone, so indexing twice is harmless. Only
// alignments are indexed; other kinds are returned as is.
func (m *Manager) Index(ctx context.Context, a artifact.Artifact) (artifact.Artifact, error) {
	if !a.Kind.IsAlignment() {
		return a, nil
	}
	indexPath := a.Path + IndexSuffix
	data, err := file.Stat(ctx, a.Path)
	if err != nil {
		return artifact.Artifact{}, errors.E(err, "index", a.Path)
	}
	if idx, err := file.Stat(ctx, indexPath); err == nil && !idx.ModTime().Before(data.ModTime()) {
		log.Debug.Printf("%s: index is up to date", a.Path)
		return a, nil
	}
	err = writeAtomic(ctx, indexPath, func(w io.Writer) error {
		return indexBAM(ctx, w, a.Path)
	})
	if err != nil {
		return artifact.Artifact{}, errors.E(err, "index", a.Path)
	}
	return a, nil
}

// Relocate moves an artifact, with its index and companion files, into dir
// and returns the moved artifact. An artifact already in dir is returned
// unchanged.
func (m *Manager) Relocate(ctx context.Context, a artifact.Artifact, dir string) (artifact.Artifact, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return artifact.Artifact{}, errors.E(err, "relocate", a.Path)
	}
	if filepath.Clean(a.Dir()) == dir {
		return a, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return artifact.Artifact{}, errors.E(err, "relocate", a.Path)
	}
	moved := a
	moved.Path = filepath.Join(dir, filepath.Base(a.Path))
	if err := move(ctx, a.Path, moved.Path); err != nil {
		return artifact.Artifact{}, err
	}
	for _, src := range indexPaths(a.Path) {
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := move(ctx, src, filepath.Join(dir, filepath.Base(src))); err != nil {
			return artifact.Artifact{}, err
		}
	}
	if a.Companion != "" {
		moved.Companion = filepath.Join(dir, filepath.Base(a.Companion))
		if err := move(ctx, a.Companion, moved.Companion); err != nil {
			return artifact.Artifact{}, err
		}
	}
	log.Debug.Printf("relocated %s to %s", a.Path, dir)
	return moved, nil
}

// indexPaths lists where an index of the file at path may live. Picard and
// htslib append .bai to the BAM path, GATK3 replaces the .bam extension, and
// GATK writes .idx next to VCFs.
func indexPaths(path string) []string {
	list := []string{path + IndexSuffix, path + ".idx"}
	if strings.HasSuffix(path, ".bam") {
		list = append(list, artifact.TrimExt(path)+IndexSuffix)
	}
	return list
}

// Decompress writes a gzip-compressed artifact, uncompressed, into the
// scratch directory. Artifacts without a .gz suffix are returned unchanged.
func (m *Manager) Decompress(ctx context.Context, a artifact.Artifact) (artifact.Artifact, error) {
	if !isGzip(a.Path) {
		return a, nil
	}
	dir := m.dir(a)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return artifact.Artifact{}, errors.E(err, "decompress", a.Path)
	}
	out := a
	out.Path = filepath.Join(dir, strings.TrimSuffix(filepath.Base(a.Path), ".gz"))
	err := writeAtomic(ctx, out.Path, func(w io.Writer) (err error) {
		in, err := file.Open(ctx, a.Path)
		if err != nil {
			return err
		}
		defer file.CloseAndReport(ctx, in, &err)
		gz, err := gzip.NewReader(in.Reader(ctx))
		if err != nil {
			return errors.E(errors.Invalid, err, "not gzip data")
		}
		if _, err = io.Copy(w, gz); err != nil {
			return err
		}
		return gz.Close()
	})
	if err != nil {
		return artifact.Artifact{}, errors.E(err, "decompress", a.Path)
	}
	log.Debug.Printf("decompressed %s into %s", a.Path, out.Path)
	return out, nil
}

// Discover lists the files in dir whose name ends with one of exts, sorted
// by name, as artifacts of the given kind.
func Discover(ctx context.Context, dir string, kind artifact.Kind, exts ...string) ([]artifact.Artifact, error) {
	var found []artifact.Artifact
	lister := file.List(ctx, dir, false)
	for lister.Scan() {
		path := lister.Path()
		for _, ext := range exts {
			if strings.HasSuffix(path, ext) {
				found = append(found, artifact.New(path, kind))
				break
			}
		}
	}
	if err := lister.Err(); err != nil {
		return nil, errors.E(err, "list", dir)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })
	return found, nil
}

func move(ctx context.Context, src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if linkErr, ok := err.(*os.LinkError); !ok || !isCrossDevice(linkErr) {
		return errors.E(err, "move", src, "to", dst)
	}
	// Different filesystems: copy, then remove the source.
	err = writeAtomic(ctx, dst, func(w io.Writer) (err error) {
		in, err := file.Open(ctx, src)
		if err != nil {
			return err
		}
		defer file.CloseAndReport(ctx, in, &err)
		_, err = io.Copy(w, in.Reader(ctx))
		return err
	})
	if err != nil {
		return errors.E(err, "move", src, "to", dst)
	}
	return os.Remove(src)
}

// writeAtomic writes path through fn. The data is written to a temporary
// file that replaces path only if fn and the close succeed.
func writeAtomic(ctx context.Context, path string, fn func(w io.Writer) error) (err error) {
	tmp := path + ".tmp"
	out, err := file.Create(ctx, tmp)
	if err != nil {
		return err
	}
	err = fn(out.Writer(ctx))
	file.CloseAndReport(ctx, out, &err)
	if err != nil {
		if e := os.Remove(tmp); e != nil && !os.IsNotExist(e) {
			log.Error.Printf("remove %s: %v", tmp, e)
		}
		return err
	}
	return os.Rename(tmp, path)
}

func paths(in []artifact.Artifact) []string {
	p := make([]string, len(in))
	for i, a := range in {
		p[i] = a.Path
	}
	return p
}

func isGzip(path string) bool {
	return strings.HasSuffix(path, ".gz")
}
