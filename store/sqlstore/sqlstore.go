// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sqlstore implements the relational Store back-end of spec §6
// over a pre-existing specimen table, using the pure-Go
// modernc.org/sqlite driver (the same vendor family as the teacher's
// modernc.org/kv).
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/kortschak/primerscope/store"
)

func init() {
	store.RegisterRelationalBackend(Open)
}

// Store is the relational Store back-end: a specimen table supplied by
// the caller (database.input_table_name et al.) plus the two tables
// this package owns, primer_matches and primer_pairs, matching the
// exact schema of spec §6.
type Store struct {
	db  *sql.DB
	cfg store.Config
}

// Open opens (or creates) path as a SQLite database and ensures the
// primer_matches/primer_pairs schema exists. The specimen table named by
// cfg.TableName is assumed to already exist.
func Open(path string, cfg store.Config) (store.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: opening %s: %w", path, err)
	}
	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS primer_matches (
			match_id TEXT PRIMARY KEY,
			specimen_id TEXT NOT NULL,
			primer_sequence TEXT NOT NULL,
			primer_start_index INTEGER NOT NULL,
			primer_end_index INTEGER NOT NULL,
			match_score REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS primer_pairs (
			forward_match_id TEXT NOT NULL,
			reverse_match_id TEXT NOT NULL,
			specimen_id TEXT NOT NULL,
			inter_primer_sequence TEXT,
			orf_candidates INTEGER NOT NULL,
			orf_index INTEGER,
			orf_aa TEXT,
			matching_flag INTEGER NOT NULL,
			length_flag INTEGER NOT NULL,
			PRIMARY KEY (forward_match_id, reverse_match_id),
			CHECK (forward_match_id <> reverse_match_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_primer_pairs_orf_index ON primer_pairs(orf_index)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrating schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CountSequences(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoteIdent(s.cfg.TableName)))
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlstore: counting sequences: %w", err)
	}
	return n, nil
}

// quoteIdent wraps a table/column name configured by the operator in
// double quotes, since database/sql placeholders only parameterise
// values, never identifiers.
func quoteIdent(ident string) string {
	return `"` + ident + `"`
}

