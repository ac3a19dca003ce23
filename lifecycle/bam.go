// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package lifecycle

import (
	"context"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/varcall/artifact"
)

// bamFile is an open BAM reader together with its underlying file.
type bamFile struct {
	path string
	in   file.File
	r    *bam.Reader
}

func openBAM(ctx context.Context, path string) (*bamFile, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	r, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		in.Close(ctx) // nolint: errcheck
		return nil, errors.E(err, "read BAM header of", path)
	}
	return &bamFile{path: path, in: in, r: r}, nil
}

func (b *bamFile) close(ctx context.Context) error {
	e := errors.Once{}
	e.Set(b.r.Close())
	e.Set(b.in.Close(ctx))
	return e.Err()
}

// mergeInput is one input of a k-way merge. links maps the reference IDs of
// the input header to references of the merged header.
type mergeInput struct {
	*bamFile
	seq   int
	links []*sam.Reference
	rec   *sam.Record
}

// advance reads the next record, remapped onto the merged header. It sets
// rec to nil at the end of the input.
func (m *mergeInput) advance() error {
	rec, err := m.r.Read()
	if err == io.EOF {
		m.rec = nil
		return nil
	}
	if err != nil {
		return errors.E(err, "read", m.path)
	}
	if rec.Ref != nil {
		rec.Ref = m.links[rec.Ref.ID()]
	}
	if rec.MateRef != nil {
		rec.MateRef = m.links[rec.MateRef.ID()]
	}
	m.rec = rec
	return nil
}

// coordKey orders records by (reference, position) with unmapped reads last.
func coordKey(r *sam.Record) (int, int) {
	if r.Ref == nil {
		return math.MaxInt32, r.Pos
	}
	return r.Ref.ID(), r.Pos
}

// Compare implements llrb.Comparable. Ties are broken by input order.
func (m *mergeInput) Compare(c llrb.Comparable) int {
	m1 := c.(*mergeInput)
	r0, p0 := coordKey(m.rec)
	r1, p1 := coordKey(m1.rec)
	if r0 != r1 {
		return r0 - r1
	}
	if p0 != p1 {
		return p0 - p1
	}
	return m.seq - m1.seq
}

// mergeBAM merges coordinate-sorted BAM files into w. The output header is
// the union of the input headers.
func mergeBAM(ctx context.Context, w io.Writer, paths []string) (err error) {
	e := errors.Once{}
	inputs := make([]*mergeInput, 0, len(paths))
	defer func() {
		for _, in := range inputs {
			e.Set(in.close(ctx))
		}
		if err == nil {
			err = e.Err()
		}
	}()
	headers := make([]*sam.Header, 0, len(paths))
	for i, path := range paths {
		b, err := openBAM(ctx, path)
		if err != nil {
			return err
		}
		inputs = append(inputs, &mergeInput{bamFile: b, seq: i})
		headers = append(headers, b.r.Header())
	}
	header, links, err := sam.MergeHeaders(headers)
	if err != nil {
		return errors.E(errors.Invalid, err, "incompatible BAM headers")
	}
	for i, in := range inputs {
		if links == nil {
			in.links = header.Refs()
		} else {
			in.links = links[i]
		}
	}
	header.SortOrder = sam.Coordinate
	bw, err := bam.NewWriter(w, header, 1)
	if err != nil {
		return err
	}
	leafs := llrb.Tree{}
	for _, in := range inputs {
		if err := in.advance(); err != nil {
			return err
		}
		if in.rec != nil {
			leafs.Insert(in)
		}
	}
	var n int64
	for leafs.Len() > 0 {
		top := leafs.Min().(*mergeInput)
		leafs.DeleteMin()
		if err := bw.Write(top.rec); err != nil {
			return err
		}
		n++
		if err := top.advance(); err != nil {
			return err
		}
		if top.rec != nil {
			leafs.Insert(top)
		}
	}
	log.Debug.Printf("merged %d records from %d files", n, len(paths))
	return bw.Close()
}

type shardWriter struct {
	art     artifact.Artifact
	tmp     string
	out     file.File
	w       *bam.Writer
	renamed bool
}

// splitBAM writes one BAM per contig of a into dir. Every shard carries the
// full header of a. Contigs whose sanitized names coincide get the
// reference ID appended, so no two shards share a path.
func splitBAM(ctx context.Context, a artifact.Artifact, dir string) (shards map[artifact.ContigKey]artifact.Artifact, err error) {
	in, err := openBAM(ctx, a.Path)
	if err != nil {
		return nil, err
	}
	header := in.r.Header()
	writers := map[artifact.ContigKey]*shardWriter{}
	defer func() {
		e := errors.Once{}
		e.Set(err)
		e.Set(in.close(ctx))
		for _, sw := range writers {
			if sw.w != nil {
				e.Set(sw.w.Close())
			}
			e.Set(sw.out.Close(ctx))
		}
		err = e.Err()
		if err == nil {
			shards = make(map[artifact.ContigKey]artifact.Artifact, len(writers))
			for contig, sw := range writers {
				if err = os.Rename(sw.tmp, sw.art.Path); err != nil {
					break
				}
				sw.renamed = true
				shards[contig] = sw.art
			}
		}
		if err != nil {
			for _, sw := range writers {
				path := sw.tmp
				if sw.renamed {
					path = sw.art.Path
				}
				os.Remove(path) // nolint: errcheck
			}
			shards = nil
		}
	}()
	names := map[string]bool{}
	create := func(contig artifact.ContigKey, refID int) (*shardWriter, error) {
		name := artifact.ShardName(a.Base(), contig, "")
		for names[name] {
			name += "-" + strconv.Itoa(refID)
		}
		names[name] = true
		path := filepath.Join(dir, name+".bam")
		sw := &shardWriter{
			art: artifact.Artifact{Path: path, Kind: a.Kind, Contig: contig},
			tmp: path + ".tmp",
		}
		out, err := file.Create(ctx, sw.tmp)
		if err != nil {
			return nil, err
		}
		sw.out = out
		writers[contig] = sw
		if sw.w, err = bam.NewWriter(out.Writer(ctx), header, 1); err != nil {
			return nil, err
		}
		return sw, nil
	}
	if _, err := create(artifact.Unmapped, -1); err != nil {
		return nil, err
	}
	for {
		rec, err := in.r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.E(err, "read", a.Path)
		}
		contig, refID := artifact.Unmapped, -1
		if rec.Ref != nil {
			contig, refID = artifact.ContigKey(rec.Ref.Name()), rec.Ref.ID()
		}
		sw, ok := writers[contig]
		if !ok {
			if sw, err = create(contig, refID); err != nil {
				return nil, err
			}
		}
		if err := sw.w.Write(rec); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// indexBAM writes the .bai index of the coordinate-sorted BAM at path to w.
func indexBAM(ctx context.Context, w io.Writer, path string) (err error) {
	in, err := openBAM(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		if e := in.close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	var idx bam.Index
	for {
		rec, err := in.r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.E(err, "read", path)
		}
		if err := idx.Add(rec, in.r.LastChunk()); err != nil {
			return errors.E(errors.Invalid, err, "index record", rec.Name, "of", path)
		}
	}
	return bam.WriteIndex(w, &idx)
}

// countRecords returns the number of records in the BAM at path.
func countRecords(ctx context.Context, path string) (n int, err error) {
	in, err := openBAM(ctx, path)
	if err != nil {
		return 0, err
	}
	defer func() {
		if e := in.close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	for {
		_, err := in.r.Read()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}
