// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sqlite "modernc.org/sqlite"

	"github.com/kortschak/primerscope/model"
)

// WritePairs idempotently upserts batch inside one transaction, per
// spec §4.5 ("upserts are atomic per batch"). A locked database is
// reported as transient contention so the worker pool retries; any
// other error is unrecoverable.
func (s *Store) WritePairs(ctx context.Context, batch []model.PrimerPair) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if isBusy(err) {
			return false, nil
		}
		return false, fmt.Errorf("sqlstore: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range batch {
		if err := upsertMatch(ctx, tx, p.SpecimenID, p.ForwardMatch); err != nil {
			if isBusy(err) {
				return false, nil
			}
			return false, err
		}
		if err := upsertMatch(ctx, tx, p.SpecimenID, p.ReverseMatch); err != nil {
			if isBusy(err) {
				return false, nil
			}
			return false, err
		}
		if err := upsertPair(ctx, tx, p); err != nil {
			if isBusy(err) {
				return false, nil
			}
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return false, nil
		}
		return false, fmt.Errorf("sqlstore: committing %d pairs: %w", len(batch), err)
	}
	return true, nil
}

func upsertMatch(ctx context.Context, tx *sql.Tx, specimenID string, m model.MatchResult) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO primer_matches (match_id, specimen_id, primer_sequence, primer_start_index, primer_end_index, match_score)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(match_id) DO UPDATE SET
			primer_start_index = excluded.primer_start_index,
			primer_end_index = excluded.primer_end_index,
			match_score = excluded.match_score`,
		model.MatchID(specimenID, m.Primer), specimenID, m.Primer, m.Start, m.End, m.Score)
	if err != nil {
		return fmt.Errorf("sqlstore: upserting match %s/%s: %w", specimenID, m.Primer, err)
	}
	return nil
}

func upsertPair(ctx context.Context, tx *sql.Tx, p model.PrimerPair) error {
	var region sql.NullString
	if p.InterPrimerRegion != nil {
		region = sql.NullString{String: *p.InterPrimerRegion, Valid: true}
	}
	var orfIndex sql.NullInt64
	if p.OrfIndex != model.OrfUnresolved {
		orfIndex = sql.NullInt64{Int64: int64(p.OrfIndex), Valid: true}
	}
	var orfAA sql.NullString
	if p.OrfAA != "" {
		orfAA = sql.NullString{String: p.OrfAA, Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO primer_pairs (forward_match_id, reverse_match_id, specimen_id, inter_primer_sequence,
			orf_candidates, orf_index, orf_aa, matching_flag, length_flag)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(forward_match_id, reverse_match_id) DO UPDATE SET
			inter_primer_sequence = excluded.inter_primer_sequence,
			orf_candidates = excluded.orf_candidates,
			orf_index = excluded.orf_index,
			orf_aa = excluded.orf_aa,
			matching_flag = excluded.matching_flag,
			length_flag = excluded.length_flag`,
		p.ForwardMatchID, p.ReverseMatchID, p.SpecimenID, region,
		int(p.OrfCandidates), orfIndex, orfAA, int(p.MatchingFlag), int(p.LengthFlag))
	if err != nil {
		return fmt.Errorf("sqlstore: upserting pair %s/%s: %w", p.ForwardMatchID, p.ReverseMatchID, err)
	}
	return nil
}

// isBusy reports whether err reflects SQLite's SQLITE_BUSY/SQLITE_LOCKED
// condition, the transient-contention case of spec §4.5.
func isBusy(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case 5, 6: // SQLITE_BUSY, SQLITE_LOCKED
			return true
		}
	}
	return false
}
