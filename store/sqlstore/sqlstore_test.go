// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/primerscope/model"
	"github.com/kortschak/primerscope/store"
)

func testConfig() store.Config {
	return store.Config{
		TableName:        "specimens",
		IDColumn:         "id",
		SequenceColumn:   "sequence",
		BatchSize:        10,
		LowerSampleBound: 1,
	}
}

// openTestStore seeds a fresh SQLite file with a specimen table the
// package itself does not own (per spec §6, database.input_table_name
// et al. name a pre-existing table), then opens it through Open so
// primer_matches/primer_pairs are migrated in alongside it.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "specimens.db")

	seed, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = seed.Exec(`CREATE TABLE specimens (
		id TEXT PRIMARY KEY,
		sequence TEXT NOT NULL,
		kingdom TEXT, phylum TEXT, class TEXT, "order" TEXT,
		family TEXT, subfamily TEXT, tribe TEXT, genus TEXT, species TEXT
	)`)
	require.NoError(t, err)
	rows := [][2]string{
		{"spec1", "Hymenoptera"},
		{"spec2", "Hymenoptera"},
		{"spec3", "Diptera"},
	}
	for _, r := range rows {
		_, err = seed.Exec(`INSERT INTO specimens (id, sequence, kingdom, phylum, class, "order", family, genus, species)
			VALUES (?, ?, 'Animalia', 'Arthropoda', 'Insecta', ?, 'fam', 'gen', 'sp')`,
			r[0], "ACGTACGTACGTNNNNTTTTGGCCAAAA", r[1])
		require.NoError(t, err)
	}
	require.NoError(t, seed.Close())

	s, err := Open(path, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s.(*Store)
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
		assert.Nil(t, rec.PriorForward)
	}
	assert.Equal(t, []string{"spec1", "spec2", "spec3"}, seen)
}

func testPair(id string, candidates model.FrameSet, orfIndex model.OrfIndex) model.PrimerPair {
	fwd := model.MatchResult{Primer: "ACGT", Start: 0, End: 4, Score: 8}
	rev := model.MatchResult{Primer: "GGCC", Start: 20, End: 24, Score: 8}
	return model.PrimerPair{
		ForwardMatchID: model.MatchID(id, fwd.Primer),
		ReverseMatchID: model.MatchID(id, rev.Primer),
		ForwardMatch:   fwd,
		ReverseMatch:   rev,
		SpecimenID:     id,
		OrfCandidates:  candidates,
		OrfIndex:       orfIndex,
	}
}

func TestWritePairsThenIterSeesPriorMatches(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pair := testPair("spec1", model.Encode([]int{0, 1}), model.OrfUnresolved)
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
	assert.Equal(t, 0, rec.PriorForward.Start)
	assert.Equal(t, 8.0, rec.PriorForward.Score)
}

func TestWritePairsIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pair := testPair("spec1", model.Encode([]int{0, 1}), model.OrfUnresolved)
	for i := 0; i < 2; i++ {
		ok, err := s.WritePairs(ctx, []model.PrimerPair{pair})
		require.NoError(t, err)
		require.True(t, ok)
	}

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM primer_pairs`).Scan(&n))
	assert.Equal(t, 1, n, "upsert must not duplicate the pair row")
}

func TestTaxonomicGroupLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pairs := []model.PrimerPair{
		testPair("spec1", model.Encode([]int{0, 1}), model.OrfUnresolved),
		testPair("spec2", model.Encode([]int{0, 1}), model.OrfUnresolved),
		testPair("spec3", model.Encode([]int{0}), 0),
	}
	for _, p := range pairs {
		ok, err := s.WritePairs(ctx, []model.PrimerPair{p})
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

	var orfIndex sql.NullInt64
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT orf_index FROM primer_pairs WHERE forward_match_id = ?`, next.ForwardMatchID).Scan(&orfIndex))
	require.True(t, orfIndex.Valid)
	assert.EqualValues(t, 1, orfIndex.Int64)

	require.NoError(t, s.DropGroup(ctx))
	_, err = s.NextUnsolved(ctx)
	assert.Error(t, err, "DropGroup must drop the temp table")
}
