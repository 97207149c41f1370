// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kortschak/primerscope/model"
	"github.com/kortschak/primerscope/store"
)

func (s *Store) IterSequences(ctx context.Context, fwdPrimer, revPrimer string, override bool) (store.Cursor, error) {
	query := fmt.Sprintf(`SELECT %s, %s FROM %s ORDER BY %s`,
		quoteIdent(s.cfg.IDColumn), quoteIdent(s.cfg.SequenceColumn),
		quoteIdent(s.cfg.TableName), quoteIdent(s.cfg.IDColumn))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: querying %s: %w", s.cfg.TableName, err)
	}
	return &cursor{s: s, rows: rows, fwd: fwdPrimer, rev: revPrimer, override: override}, nil
}

type cursor struct {
	s        *Store
	rows     *sql.Rows
	fwd, rev string
	override bool
}

func (c *cursor) Next(ctx context.Context) (store.SequenceRecord, bool, error) {
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return store.SequenceRecord{}, false, fmt.Errorf("sqlstore: iterating sequences: %w", err)
		}
		return store.SequenceRecord{}, false, nil
	}
	var id, seq string
	if err := c.rows.Scan(&id, &seq); err != nil {
		return store.SequenceRecord{}, false, fmt.Errorf("sqlstore: scanning sequence row: %w", err)
	}
	rec := store.SequenceRecord{SpecimenID: id, Sequence: seq}
	if !c.override {
		fwd, err := c.s.getMatch(ctx, id, c.fwd)
		if err != nil {
			return store.SequenceRecord{}, false, err
		}
		rec.PriorForward = fwd
		rev, err := c.s.getMatch(ctx, id, c.rev)
		if err != nil {
			return store.SequenceRecord{}, false, err
		}
		rec.PriorReverse = rev
	}
	return rec, true, nil
}

func (c *cursor) Close() error {
	return c.rows.Close()
}

func (s *Store) getMatch(ctx context.Context, specimenID, primer string) (*model.MatchResult, error) {
	row := s.db.QueryRowContext(ctx, `SELECT primer_start_index, primer_end_index, match_score
		FROM primer_matches WHERE match_id = ?`, model.MatchID(specimenID, primer))
	var start, end int
	var score float64
	err := row.Scan(&start, &end, &score)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: reading match %s/%s: %w", specimenID, primer, err)
	}
	return &model.MatchResult{Score: score, Start: start, End: end, Primer: primer}, nil
}
