// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package lifecycle

import (
	"context"
	"io"
	"testing"

	"github.com/grailbio/base/file"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/require"
)

// NewRecord returns a mapped, unpaired 10M record. A nil ref produces an
// unmapped read.
func NewRecord(name string, ref *sam.Reference, pos int) *sam.Record {
	r := sam.GetFromFreePool()
	r.Name = name
	r.Ref = ref
	r.Pos = pos
	r.MatePos = -1
	r.MapQ = 60
	if ref == nil {
		r.Pos = -1
		r.Flags = sam.Unmapped
		r.MapQ = 0
	} else {
		r.Cigar = []sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, 10)}
	}
	r.Seq = sam.NewSeq([]byte("ACGTACGTAC"))
	r.Qual = []byte("IIIIIIIIII")
	return r
}

// WriteBAM writes records to a BAM file at path.
func WriteBAM(t testing.TB, path string, header *sam.Header, records ...*sam.Record) {
	ctx := context.Background()
	out, err := file.Create(ctx, path)
	require.NoError(t, err)
	w, err := bam.NewWriter(out.Writer(ctx), header, 1)
	require.NoError(t, err)
	for _, r := range records {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())
	require.NoError(t, out.Close(ctx))
}

// ReadNames returns the names of the records of the BAM at path, in file
// order.
func ReadNames(t testing.TB, path string) []string {
	ctx := context.Background()
	in, err := openBAM(ctx, path)
	require.NoError(t, err)
	defer func() { require.NoError(t, in.close(ctx)) }()
	var names []string
	for {
		r, err := in.r.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, r.Name)
	}
	return names
}

// CountRecords returns the number of records of the BAM at path.
func CountRecords(t testing.TB, path string) int {
	n, err := countRecords(context.Background(), path)
	require.NoError(t, err)
	return n
}
