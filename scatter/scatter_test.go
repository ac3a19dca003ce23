// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package scatter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil/expect"
	"github.com/grailbio/varcall/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSplitter struct {
	shards map[artifact.ContigKey]artifact.Artifact
	err    error
}

func (f *fakeSplitter) SplitByContig(ctx context.Context, a artifact.Artifact) (map[artifact.ContigKey]artifact.Artifact, error) {
	return f.shards, f.err
}

func testShards() Shards {
	s := Shards{}
	for _, c := range []artifact.ContigKey{"chr2", "chr1", artifact.Unmapped} {
		s[c] = artifact.New(artifact.ShardName("/o/merged", c, ".bam"), artifact.DedupedAlignment).WithContig(c)
	}
	return s
}

func TestLocalBarrier(t *testing.T) {
	var (
		running, max, done int32
	)
	err := Local{Parallelism: 3}.Map(context.Background(), 20, func(i int) error {
		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&max)
			if n <= m || atomic.CompareAndSwapInt32(&max, m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&running, -1)
		atomic.AddInt32(&done, 1)
		return nil
	})
	require.NoError(t, err)
	expect.EQ(t, atomic.LoadInt32(&done), int32(20))
	assert.True(t, atomic.LoadInt32(&max) <= 3)
}

func TestLocalError(t *testing.T) {
	var mu sync.Mutex
	finished := map[int]bool{}
	err := Local{Parallelism: 4}.Map(context.Background(), 8, func(i int) error {
		if i == 2 {
			return fmt.Errorf("item %d failed", i)
		}
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		finished[i] = true
		mu.Unlock()
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item 2 failed")
	// Map returned, so nothing is still running.
	mu.Lock()
	n := len(finished)
	mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	mu.Lock()
	expect.EQ(t, len(finished), n)
	mu.Unlock()
}

func TestLocalCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls int32
	err := Local{}.Map(ctx, 3, func(i int) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	expect.True(t, errors.Is(errors.Canceled, err))
	expect.EQ(t, calls, int32(0))
}

func TestScatterGather(t *testing.T) {
	p := &Partitioner{
		Substrate: Local{Parallelism: 2},
		Splitter:  &fakeSplitter{shards: testShards()},
	}
	in := artifact.New("/o/merged.bam", artifact.DedupedAlignment)
	out, err := p.ScatterGather(context.Background(), in, func(ctx context.Context, a artifact.Artifact) (artifact.Artifact, error) {
		return artifact.Derive(a, "", "-realigned.bam", artifact.RealignedAlignment), nil
	})
	require.NoError(t, err)
	expect.EQ(t, out.Keys(), []artifact.ContigKey{"chr1", "chr2", artifact.Unmapped})
	for c, a := range out {
		expect.EQ(t, a.Contig, c)
		expect.EQ(t, a.Kind, artifact.RealignedAlignment)
		expect.True(t, strings.HasSuffix(a.Path, "-realigned.bam"))
	}
	expect.EQ(t, out["chr1"].Path, "/o/merged-chr1-realigned.bam")
}

func TestScatterGatherSplitError(t *testing.T) {
	p := &Partitioner{
		Substrate: Local{},
		Splitter:  &fakeSplitter{err: errors.E(errors.Invalid, "bad bam")},
	}
	called := false
	_, err := p.ScatterGather(context.Background(), artifact.New("/o/x.bam", artifact.DedupedAlignment),
		func(ctx context.Context, a artifact.Artifact) (artifact.Artifact, error) {
			called = true
			return a, nil
		})
	expect.True(t, errors.Is(errors.Invalid, err))
	expect.False(t, called)
}

func TestGatherNamesContig(t *testing.T) {
	p := &Partitioner{Substrate: Local{Parallelism: 4}}
	_, err := p.Gather(context.Background(), testShards(), func(ctx context.Context, a artifact.Artifact) (artifact.Artifact, error) {
		if a.Contig == "chr2" {
			return artifact.Artifact{}, errors.E(errors.Fatal, "IndelRealigner exited 1")
		}
		return a, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contig chr2")
	assert.Contains(t, err.Error(), "IndelRealigner exited 1")
}

func TestEach(t *testing.T) {
	p := &Partitioner{Substrate: Local{Parallelism: 2}}
	in := []artifact.Artifact{
		artifact.New("/i/a.sam", artifact.RawAlignment),
		artifact.New("/i/b.sam", artifact.RawAlignment),
		artifact.New("/i/c.sam", artifact.RawAlignment),
	}
	out, err := p.Each(context.Background(), in, func(ctx context.Context, a artifact.Artifact) (artifact.Artifact, error) {
		return artifact.Derive(a, "/o", "-sorted.bam", artifact.SortedAlignment), nil
	})
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i, name := range []string{"a", "b", "c"} {
		expect.EQ(t, out[i].Path, "/o/"+name+"-sorted.bam")
	}

	_, err = p.Each(context.Background(), in, func(ctx context.Context, a artifact.Artifact) (artifact.Artifact, error) {
		if a.Base() == "b" {
			return artifact.Artifact{}, errors.E(errors.Invalid, "truncated")
		}
		return a, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/i/b.sam")
}

func TestDrop(t *testing.T) {
	s := testShards()
	d := Drop(s, artifact.Unmapped, "chrM")
	expect.EQ(t, d.Keys(), []artifact.ContigKey{"chr1", "chr2"})
	expect.EQ(t, len(s), 3)
	expect.EQ(t, len(d.Artifacts()), 2)
	expect.EQ(t, d.Artifacts()[0].Contig, artifact.ContigKey("chr1"))
}
