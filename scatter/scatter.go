// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package scatter runs a per-artifact transform over the contig shards of an
// alignment, or over a list of artifacts, and gathers the results.
//
// Every call is a barrier: it returns only once all work items it started
// have finished. Work items share no mutable state; each result is stored
// into a slot reserved for it before the work starts.
package scatter

import (
	"context"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/varcall/artifact"
)

// Substrate executes independent work items.
type Substrate interface {
	// Map calls fn(i) for every i in [0, n). It returns after every started
	// call has returned. The first error stops the scheduling of further
	// items and is returned.
	Map(ctx context.Context, n int, fn func(i int) error) error
}

// Local is a Substrate that runs work items on goroutines in this process.
// At most Parallelism items run at once; zero means one.
type Local struct {
	Parallelism int
}

// Map implements Substrate.
func (l Local) Map(ctx context.Context, n int, fn func(i int) error) error {
	if n == 0 {
		return nil
	}
	p := l.Parallelism
	if p <= 0 {
		p = 1
	}
	return traverse.Limit(p).Each(n, func(i int) error {
		if err := ctx.Err(); err != nil {
			return errors.E(errors.Canceled, err)
		}
		return fn(i)
	})
}

// Shards maps a contig to the artifact holding its reads or calls.
type Shards map[artifact.ContigKey]artifact.Artifact

// Keys returns the contigs of s in sorted order.
func (s Shards) Keys() []artifact.ContigKey {
	keys := make([]artifact.ContigKey, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Artifacts returns the artifacts of s, ordered by contig.
func (s Shards) Artifacts() []artifact.Artifact {
	keys := s.Keys()
	list := make([]artifact.Artifact, len(keys))
	for i, k := range keys {
		list[i] = s[k]
	}
	return list
}

// Drop returns a copy of s without the given contigs.
func Drop(s Shards, contigs ...artifact.ContigKey) Shards {
	out := make(Shards, len(s))
	for k, v := range s {
		out[k] = v
	}
	for _, k := range contigs {
		delete(out, k)
	}
	return out
}

// Splitter partitions an alignment by contig.
type Splitter interface {
	SplitByContig(ctx context.Context, a artifact.Artifact) (map[artifact.ContigKey]artifact.Artifact, error)
}

// Transform produces a new artifact from a.
type Transform func(ctx context.Context, a artifact.Artifact) (artifact.Artifact, error)

// Partitioner runs transforms over contig shards on a Substrate.
type Partitioner struct {
	Substrate Substrate
	Splitter  Splitter
}

// ScatterGather splits a by contig, applies fn to every shard, and returns
// the transformed shards keyed by contig.
func (p *Partitioner) ScatterGather(ctx context.Context, a artifact.Artifact, fn Transform) (Shards, error) {
	shards, err := p.Splitter.SplitByContig(ctx, a)
	if err != nil {
		return nil, err
	}
	return p.Gather(ctx, shards, fn)
}

// Gather applies fn to every shard of an already partitioned artifact.
func (p *Partitioner) Gather(ctx context.Context, shards Shards, fn Transform) (Shards, error) {
	keys := shards.Keys()
	results := make([]artifact.Artifact, len(keys))
	err := p.Substrate.Map(ctx, len(keys), func(i int) error {
		contig := keys[i]
		log.Debug.Printf("contig %s: start", contig)
		out, err := fn(ctx, shards[contig])
		if err != nil {
			return errors.E(err, "contig", string(contig))
		}
		results[i] = out.WithContig(contig)
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make(Shards, len(keys))
	for i, k := range keys {
		out[k] = results[i]
	}
	return out, nil
}

// Each applies fn to every artifact of in and returns the results in the
// same order.
func (p *Partitioner) Each(ctx context.Context, in []artifact.Artifact, fn Transform) ([]artifact.Artifact, error) {
	results := make([]artifact.Artifact, len(in))
	err := p.Substrate.Map(ctx, len(in), func(i int) error {
		out, err := fn(ctx, in[i])
		if err != nil {
			return errors.E(err, "input", in[i].Path)
		}
		results[i] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
