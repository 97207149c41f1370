// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package worker

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/primerscope/align"
	"github.com/kortschak/primerscope/iupac"
	"github.com/kortschak/primerscope/model"
	"github.com/kortschak/primerscope/store"
)

type sliceCursor struct {
	recs []store.SequenceRecord
	i    int
}

func (c *sliceCursor) Next(ctx context.Context) (store.SequenceRecord, bool, error) {
	if c.i >= len(c.recs) {
		return store.SequenceRecord{}, false, nil
	}
	r := c.recs[c.i]
	c.i++
	return r, true, nil
}

func (c *sliceCursor) Close() error { return nil }

type fakeStore struct {
	mu          sync.Mutex
	written     []model.PrimerPair
	writeCalls  int
	failUntil   int // WritePairs returns false,nil for calls < failUntil
	failErr     error
}

func (f *fakeStore) CountSequences(ctx context.Context) (int, error) { return 0, nil }
func (f *fakeStore) IterSequences(ctx context.Context, fwd, rev string, override bool) (store.Cursor, error) {
	return nil, nil
}
func (f *fakeStore) WritePairs(ctx context.Context, batch []model.PrimerPair) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeCalls++
	if f.failErr != nil {
		return false, f.failErr
	}
	if f.writeCalls <= f.failUntil {
		return false, nil
	}
	f.written = append(f.written, batch...)
	return true, nil
}
func (f *fakeStore) BuildTaxonomicGroup(ctx context.Context, q *model.SearchQuery, override bool) error {
	return nil
}
func (f *fakeStore) CountUnsolvedInGroup(ctx context.Context) (int, error) { return 0, nil }
func (f *fakeStore) NextUnsolved(ctx context.Context) (*model.PrimerPair, error) { return nil, nil }
func (f *fakeStore) SampleSolvedRelated(ctx context.Context, rank model.Rank, taxon string, seed int64, upper int) ([]model.PrimerPair, error) {
	return nil, nil
}
func (f *fakeStore) FetchUnsolvedRelated(ctx context.Context, rank model.Rank, taxon string) ([]model.PrimerPair, error) {
	return nil, nil
}
func (f *fakeStore) WriteDecided(ctx context.Context, batch []model.PrimerPair) error { return nil }
func (f *fakeStore) FlushGroupToCanonical(ctx context.Context) error                  { return nil }
func (f *fakeStore) DropGroup(ctx context.Context) error                             { return nil }
func (f *fakeStore) Close() error                                                    { return nil }

func testSetup() (*model.SearchQuery, *regexp.Regexp, *regexp.Regexp, *align.Aligner) {
	q := &model.SearchQuery{
		ForwardPrimer:    "ACGT",
		ReversePrimer:    "GGCC",
		ExpectedDistance: 4,
		ForwardCutoff:    0.25,
		ReverseCutoff:    0.25,
		TranslationTable: 1,
	}
	fre := regexp.MustCompile(iupac.CompileRegex(q.ForwardPrimer))
	rre := regexp.MustCompile(iupac.CompileRegex(q.ReversePrimer))
	a := align.New(align.Config{GapPenalty: -2, TripletGapPenalty: -2, EndOfReadBonus: 1})
	return q, fre, rre, a
}

func TestDriverRunFlushesAllRecords(t *testing.T) {
	q, fre, rre, a := testSetup()
	recs := make([]store.SequenceRecord, 0, 7)
	for i := 0; i < 7; i++ {
		recs = append(recs, store.SequenceRecord{
			SpecimenID: string(rune('a' + i)),
			Sequence:   "xxACGTttttGGCCyy",
		})
	}
	cur := &sliceCursor{recs: recs}
	fs := &fakeStore{}
	d := Driver{NumWorkers: 3, ChunkSize: 2, BatchSize: 3}

	err := d.Run(context.Background(), q, fre, rre, a, 0.25, cur, fs)
	require.NoError(t, err)
	assert.Len(t, fs.written, 7)
	for _, p := range fs.written {
		assert.False(t, p.ForwardMatch.IsMismatch())
		assert.Equal(t, model.OrfUnresolved, p.OrfIndex)
	}
}

func TestDriverRunDropsBothMismatch(t *testing.T) {
	q, fre, rre, a := testSetup()
	cur := &sliceCursor{recs: []store.SequenceRecord{
		{SpecimenID: "noise", Sequence: "NNNNNNNNNNNNNNNNNNNNNNNNNN"},
	}}
	// Heavily penalise gaps so the SW fallback also fails to match.
	a2 := align.New(align.Config{GapPenalty: -10, TripletGapPenalty: -10, EndOfReadBonus: 0})
	fs := &fakeStore{}
	d := Driver{NumWorkers: 1, ChunkSize: 1, BatchSize: 1}

	err := d.Run(context.Background(), q, fre, rre, a2, 0.25, cur, fs)
	require.NoError(t, err)
	assert.Empty(t, fs.written)
}

func TestDriverRunRetriesOnBusyFlush(t *testing.T) {
	q, fre, rre, a := testSetup()
	cur := &sliceCursor{recs: []store.SequenceRecord{
		{SpecimenID: "a", Sequence: "xxACGTttttGGCCyy"},
	}}
	fs := &fakeStore{failUntil: 2}
	d := Driver{NumWorkers: 1, ChunkSize: 1, BatchSize: 1, FlushBackoff: time.Millisecond}

	err := d.Run(context.Background(), q, fre, rre, a, 0.25, cur, fs)
	require.NoError(t, err)
	assert.Len(t, fs.written, 1)
	assert.Equal(t, 3, fs.writeCalls)
}

func TestDriverRunSurfacesUnrecoverableError(t *testing.T) {
	q, fre, rre, a := testSetup()
	recs := make([]store.SequenceRecord, 0, 5)
	for i := 0; i < 5; i++ {
		recs = append(recs, store.SequenceRecord{SpecimenID: string(rune('a' + i)), Sequence: "xxACGTttttGGCCyy"})
	}
	cur := &sliceCursor{recs: recs}
	fs := &fakeStore{failErr: errors.New("disk full")}
	d := Driver{NumWorkers: 2, ChunkSize: 1, BatchSize: 1}

	err := d.Run(context.Background(), q, fre, rre, a, 0.25, cur, fs)
	require.Error(t, err)
}

func TestDriverRunExhaustsRetriesAndFails(t *testing.T) {
	q, fre, rre, a := testSetup()
	cur := &sliceCursor{recs: []store.SequenceRecord{
		{SpecimenID: "a", Sequence: "xxACGTttttGGCCyy"},
	}}
	fs := &fakeStore{failUntil: 100}
	d := Driver{NumWorkers: 1, ChunkSize: 1, BatchSize: 1, FlushBackoff: time.Millisecond, MaxFlushAttempts: 2}

	err := d.Run(context.Background(), q, fre, rre, a, 0.25, cur, fs)
	require.Error(t, err)
	assert.Equal(t, 2, fs.writeCalls)
}
