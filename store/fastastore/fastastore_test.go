// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fastastore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/primerscope/model"
	"github.com/kortschak/primerscope/store"
)

const testFasta = `>spec1 kingdom=Animalia phylum=Arthropoda class=Insecta order=Hymenoptera family=Apidae genus=Apis species=mellifera
ACGTACGTACGTNNNNTTTTGGCCAAAA
>spec2 kingdom=Animalia phylum=Arthropoda class=Insecta order=Hymenoptera family=Apidae genus=Apis species=cerana
ACGTACGTACGTGGGGTTTTGGCCAAAA
>spec3 kingdom=Animalia phylum=Arthropoda class=Insecta order=Diptera family=Culicidae genus=Aedes species=aegypti
TTTTTTTTTTTTTTTTTTTTTTTTTTTT
`

func storeConfig() store.Config {
	return store.Config{BatchSize: 10, LowerSampleBound: 1}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "specimens.fasta")
	require.NoError(t, os.WriteFile(path, []byte(testFasta), 0o644))

	s, err := Open(path, storeConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s.(*Store)
}

func TestOpenReadsTaxonomyFromDescription(t *testing.T) {
	s := openTestStore(t)
	sp, ok := s.specimens["spec1"]
	require.True(t, ok)
	assert.Equal(t, "Animalia", sp.Kingdom)
	assert.Equal(t, "Apidae", sp.Family)
	assert.Equal(t, "mellifera", sp.Species)
}

func TestOpenRejectsDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dup.fasta")
	require.NoError(t, os.WriteFile(path, []byte(">a\nACGT\n>a\nTTTT\n"), 0o644))
	_, err := Open(path, storeConfig())
	assert.Error(t, err)
}

func TestCountAndIterSequences(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.CountSequences(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	cur, err := s.IterSequences(ctx, "ACGT", "GGCC", true)
	require.NoError(t, err)
	defer cur.Close()

	var seen []string
	for {
		rec, ok, err := cur.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		seen = append(seen, rec.SpecimenID)
		assert.Nil(t, rec.PriorForward, "override mode must report no prior matches")
	}
	assert.Equal(t, []string{"spec1", "spec2", "spec3"}, seen)
}

func TestWritePairsThenIterSeesPriorMatches(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	fwd := model.MatchResult{Primer: "ACGT", Start: 0, End: 4, Score: 8}
	rev := model.MatchResult{Primer: "GGCC", Start: 20, End: 24, Score: 8}
	pair := model.PrimerPair{
		ForwardMatchID: model.MatchID("spec1", fwd.Primer),
		ReverseMatchID: model.MatchID("spec1", rev.Primer),
		ForwardMatch:   fwd,
		ReverseMatch:   rev,
		SpecimenID:     "spec1",
		OrfCandidates:  model.Encode([]int{0, 1}),
		OrfIndex:       model.OrfUnresolved,
	}

	ok, err := s.WritePairs(ctx, []model.PrimerPair{pair})
	require.NoError(t, err)
	require.True(t, ok)

	cur, err := s.IterSequences(ctx, "ACGT", "GGCC", false)
	require.NoError(t, err)
	defer cur.Close()

	rec, found, err := cur.Next(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, rec.PriorForward)
	assert.Equal(t, fwd.Start, rec.PriorForward.Start)
	assert.Equal(t, fwd.Score, rec.PriorForward.Score)
}

func TestTaxonomicGroupLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"spec1", "spec2", "spec3"} {
		fwd := model.MatchResult{Primer: "ACGT", Start: 0, End: 4, Score: 8}
		rev := model.MatchResult{Primer: "GGCC", Start: 20, End: 24, Score: 8}
		pair := model.PrimerPair{
			ForwardMatchID: model.MatchID(id, fwd.Primer),
			ReverseMatchID: model.MatchID(id, rev.Primer),
			ForwardMatch:   fwd,
			ReverseMatch:   rev,
			SpecimenID:     id,
			OrfCandidates:  model.Encode([]int{0, 1}),
			OrfIndex:       model.OrfUnresolved,
		}
		if i == 2 {
			// spec3 resolved trivially (single candidate frame) already.
			pair.OrfCandidates = model.Encode([]int{0})
			pair.OrfIndex = 0
		}
		ok, err := s.WritePairs(ctx, []model.PrimerPair{pair})
		require.NoError(t, err)
		require.True(t, ok)
	}

	query := &model.SearchQuery{ForwardPrimer: "ACGT", ReversePrimer: "GGCC"}
	require.NoError(t, s.BuildTaxonomicGroup(ctx, query, false))

	n, err := s.CountUnsolvedInGroup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	next, err := s.NextUnsolved(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)

	next.OrfIndex = 1
	next.OrfAA = "M"
	require.NoError(t, s.WriteDecided(ctx, []model.PrimerPair{*next}))

	n, err = s.CountUnsolvedInGroup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	related, err := s.FetchUnsolvedRelated(ctx, model.Order, "Hymenoptera")
	require.NoError(t, err)
	assert.Len(t, related, 1)

	sampled, err := s.SampleSolvedRelated(ctx, model.Order, "Diptera", 1, 5)
	require.NoError(t, err)
	assert.Len(t, sampled, 1)

	require.NoError(t, s.FlushGroupToCanonical(ctx))
	require.NoError(t, s.DropGroup(ctx))

	_, err = s.NextUnsolved(ctx)
	assert.Error(t, err, "DropGroup must invalidate the transient view")
}
