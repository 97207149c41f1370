// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"

	"github.com/kortschak/primerscope/model"
)

// taxonomicRankColumns is indexed by model.Rank (Species=0 ... Kingdom=8).
var taxonomicRankColumns = []string{
	"species", "genus", "family", "subfamily", "tribe", "order_", "class", "phylum", "kingdom",
}

// BuildTaxonomicGroup materialises the transient view as a real SQL
// temp table, joined against the specimen table for taxonomy, with
// indexes on orf_index and every taxonomic rank column (spec §6
// "Indexes on orf_index and ... each taxonomic rank column").
func (s *Store) BuildTaxonomicGroup(ctx context.Context, query *model.SearchQuery, override bool) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS group_pairs`); err != nil {
		return fmt.Errorf("sqlstore: dropping stale group: %w", err)
	}

	createColumns := `forward_match_id TEXT, reverse_match_id TEXT, specimen_id TEXT,
		inter_primer_sequence TEXT, orf_candidates INTEGER, orf_index INTEGER, orf_aa TEXT,
		matching_flag INTEGER, length_flag INTEGER,
		kingdom TEXT, phylum TEXT, class TEXT, order_ TEXT, family TEXT, subfamily TEXT,
		tribe TEXT, genus TEXT, species TEXT,
		PRIMARY KEY (forward_match_id, reverse_match_id)`
	if _, err := s.db.ExecContext(ctx, `CREATE TEMP TABLE group_pairs (`+createColumns+`)`); err != nil {
		return fmt.Errorf("sqlstore: creating group table: %w", err)
	}

	where := `fm.primer_sequence = ? AND rm.primer_sequence = ?`
	args := []any{query.ForwardPrimer, query.ReversePrimer}
	if query.TaxonomicFilter != nil {
		col := taxonomicRankColumns[int(query.TaxonomicFilter.Rank)]
		where += fmt.Sprintf(` AND sp.%s = ?`, quoteIdent(col))
		args = append(args, query.TaxonomicFilter.Value)
	}

	insert := fmt.Sprintf(`
		INSERT INTO group_pairs
		SELECT p.forward_match_id, p.reverse_match_id, p.specimen_id, p.inter_primer_sequence,
			p.orf_candidates, p.orf_index, p.orf_aa, p.matching_flag, p.length_flag,
			sp.kingdom, sp.phylum, sp.class, sp."order", sp.family, sp.subfamily,
			sp.tribe, sp.genus, sp.species
		FROM primer_pairs p
		JOIN primer_matches fm ON fm.match_id = p.forward_match_id
		JOIN primer_matches rm ON rm.match_id = p.reverse_match_id
		JOIN %s sp ON sp.%s = p.specimen_id
		WHERE %s`, quoteIdent(s.cfg.TableName), quoteIdent(s.cfg.IDColumn), where)
	if _, err := s.db.ExecContext(ctx, insert, args...); err != nil {
		return fmt.Errorf("sqlstore: populating group: %w", err)
	}

	if override {
		if _, err := s.db.ExecContext(ctx, `UPDATE group_pairs SET orf_index = NULL, orf_aa = NULL`); err != nil {
			return fmt.Errorf("sqlstore: resetting group in override mode: %w", err)
		}
	}

	for _, col := range append([]string{"orf_index"}, taxonomicRankColumns...) {
		idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_group_%s ON group_pairs(%s)`, col, col)
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("sqlstore: indexing group on %s: %w", col, err)
		}
	}
	return nil
}

func (s *Store) CountUnsolvedInGroup(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM group_pairs WHERE orf_index IS NULL`)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlstore: counting unsolved: %w", err)
	}
	return n, nil
}

func (s *Store) NextUnsolved(ctx context.Context) (*model.PrimerPair, error) {
	row := s.db.QueryRowContext(ctx, groupSelectColumns+` FROM group_pairs WHERE orf_index IS NULL LIMIT 1`)
	p, err := scanGroupRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: reading next unsolved: %w", err)
	}
	return p, nil
}

func (s *Store) SampleSolvedRelated(ctx context.Context, rank model.Rank, taxon string, seed int64, upper int) ([]model.PrimerPair, error) {
	col := taxonomicRankColumns[int(rank)]
	query := groupSelectColumns + fmt.Sprintf(` FROM group_pairs WHERE orf_index >= 0 AND matching_flag = 0 AND %s = ?`, col)
	rows, err := s.db.QueryContext(ctx, query, taxon)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: sampling solved related: %w", err)
	}
	defer rows.Close()

	var candidates []model.PrimerPair
	for rows.Next() {
		p, err := scanGroupRows(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scanning solved related: %w", err)
		}
		candidates = append(candidates, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: iterating solved related: %w", err)
	}

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	if upper >= 0 && len(candidates) > upper {
		candidates = candidates[:upper]
	}
	return candidates, nil
}

func (s *Store) FetchUnsolvedRelated(ctx context.Context, rank model.Rank, taxon string) ([]model.PrimerPair, error) {
	col := taxonomicRankColumns[int(rank)]
	query := groupSelectColumns + fmt.Sprintf(` FROM group_pairs WHERE orf_index IS NULL AND %s = ?`, col)
	rows, err := s.db.QueryContext(ctx, query, taxon)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: fetching unsolved related: %w", err)
	}
	defer rows.Close()

	var related []model.PrimerPair
	for rows.Next() {
		p, err := scanGroupRows(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scanning unsolved related: %w", err)
		}
		related = append(related, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: iterating unsolved related: %w", err)
	}
	return related, nil
}

func (s *Store) WriteDecided(ctx context.Context, batch []model.PrimerPair) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: beginning write-decided transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range batch {
		_, err := tx.ExecContext(ctx, `UPDATE group_pairs SET orf_index = ?, orf_aa = ?
			WHERE forward_match_id = ? AND reverse_match_id = ?`,
			int(p.OrfIndex), p.OrfAA, p.ForwardMatchID, p.ReverseMatchID)
		if err != nil {
			return fmt.Errorf("sqlstore: writing decided pair: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) FlushGroupToCanonical(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE primer_pairs
		SET orf_index = (SELECT g.orf_index FROM group_pairs g
			WHERE g.forward_match_id = primer_pairs.forward_match_id AND g.reverse_match_id = primer_pairs.reverse_match_id),
		    orf_aa = (SELECT g.orf_aa FROM group_pairs g
			WHERE g.forward_match_id = primer_pairs.forward_match_id AND g.reverse_match_id = primer_pairs.reverse_match_id)
		WHERE EXISTS (SELECT 1 FROM group_pairs g
			WHERE g.forward_match_id = primer_pairs.forward_match_id AND g.reverse_match_id = primer_pairs.reverse_match_id)`)
	if err != nil {
		return fmt.Errorf("sqlstore: flushing group to canonical: %w", err)
	}
	return nil
}

func (s *Store) DropGroup(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS group_pairs`)
	if err != nil {
		return fmt.Errorf("sqlstore: dropping group: %w", err)
	}
	return nil
}

const groupSelectColumns = `SELECT forward_match_id, reverse_match_id, specimen_id, inter_primer_sequence,
	orf_candidates, orf_index, orf_aa, matching_flag, length_flag,
	kingdom, phylum, class, order_, family, subfamily, tribe, genus, species`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroupRow(row *sql.Row) (*model.PrimerPair, error) {
	return scanGroupRows(row)
}

func scanGroupRows(r rowScanner) (*model.PrimerPair, error) {
	var (
		p                                                                            model.PrimerPair
		region, orfAA                                                                sql.NullString
		orfIndex                                                                     sql.NullInt64
		orfCandidates, matchingFlag, lengthFlag                                       int
		kingdom, phylum, class, order, family, subfamily, tribe, genus, species       sql.NullString
	)
	err := r.Scan(&p.ForwardMatchID, &p.ReverseMatchID, &p.SpecimenID, &region,
		&orfCandidates, &orfIndex, &orfAA, &matchingFlag, &lengthFlag,
		&kingdom, &phylum, &class, &order, &family, &subfamily, &tribe, &genus, &species)
	if err != nil {
		return nil, err
	}
	if region.Valid {
		p.InterPrimerRegion = &region.String
	}
	p.OrfCandidates = model.FrameSet(orfCandidates)
	if orfIndex.Valid {
		p.OrfIndex = model.OrfIndex(orfIndex.Int64)
	} else {
		p.OrfIndex = model.OrfUnresolved
	}
	p.OrfAA = orfAA.String
	p.MatchingFlag = model.MatchingFlag(matchingFlag)
	p.LengthFlag = model.LengthFlag(lengthFlag)
	p.Taxon = model.Specimen{
		ID:        p.SpecimenID,
		Kingdom:   kingdom.String,
		Phylum:    phylum.String,
		Class:     class.String,
		Order:     order.String,
		Family:    family.String,
		Subfamily: subfamily.String,
		Tribe:     tribe.String,
		Genus:     genus.String,
		Species:   species.String,
	}
	return &p, nil
}
