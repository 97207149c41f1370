// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fastastore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/kortschak/primerscope/model"
	"github.com/kortschak/primerscope/store"
)

func (s *Store) CountSequences(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order), nil
}

func (s *Store) IterSequences(ctx context.Context, fwdPrimer, revPrimer string, override bool) (store.Cursor, error) {
	s.mu.RLock()
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	s.mu.RUnlock()
	return &cursor{s: s, ids: ids, fwd: fwdPrimer, rev: revPrimer, override: override}, nil
}

type cursor struct {
	s        *Store
	ids      []string
	i        int
	fwd, rev string
	override bool
}

func (c *cursor) Next(ctx context.Context) (store.SequenceRecord, bool, error) {
	if c.i >= len(c.ids) {
		return store.SequenceRecord{}, false, nil
	}
	id := c.ids[c.i]
	c.i++

	c.s.mu.RLock()
	sp, ok := c.s.specimens[id]
	c.s.mu.RUnlock()
	if !ok {
		return store.SequenceRecord{}, false, fmt.Errorf("fastastore: specimen %q vanished mid-iteration", id)
	}

	rec := store.SequenceRecord{SpecimenID: sp.ID, Sequence: sp.Sequence}
	if !c.override {
		if m, err := c.s.getMatch(id, c.fwd); err != nil {
			return store.SequenceRecord{}, false, err
		} else if m != nil {
			rec.PriorForward = m
		}
		if m, err := c.s.getMatch(id, c.rev); err != nil {
			return store.SequenceRecord{}, false, err
		} else if m != nil {
			rec.PriorReverse = m
		}
	}
	return rec, true, nil
}

func (c *cursor) Close() error { return nil }

// getMatch reads a previously persisted MatchResult for (specimenID,
// primer), returning nil, nil if none is on file.
func (s *Store) getMatch(specimenID, primer string) (*model.MatchResult, error) {
	v, err := s.db.Get(nil, matchKey(specimenID, primer))
	if err != nil {
		return nil, fmt.Errorf("fastastore: reading match for %s/%s: %w", specimenID, primer, err)
	}
	if v == nil {
		return nil, nil
	}
	var m model.MatchResult
	if err := json.Unmarshal(v, &m); err != nil {
		return nil, fmt.Errorf("fastastore: decoding match for %s/%s: %w", specimenID, primer, err)
	}
	return &m, nil
}

// WritePairs upserts batch's matches and pairs inside one kv
// transaction, per the teacher's begin/commit-per-batch idiom in
// runBlastTabular. A transaction already in progress (another writer
// active concurrently) is reported as transient contention rather than
// an error, per spec §4.5.
func (s *Store) WritePairs(ctx context.Context, batch []model.PrimerPair) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.BeginTransaction(); err != nil {
		return false, nil
	}
	for _, p := range batch {
		if err := s.setMatch(p.SpecimenID, p.ForwardMatch); err != nil {
			s.db.Rollback()
			return false, err
		}
		if err := s.setMatch(p.SpecimenID, p.ReverseMatch); err != nil {
			s.db.Rollback()
			return false, err
		}
		v, err := json.Marshal(p)
		if err != nil {
			s.db.Rollback()
			return false, fmt.Errorf("fastastore: encoding pair %s: %w", p.SpecimenID, err)
		}
		if err := s.db.Set(pairKey(p.ForwardMatchID, p.ReverseMatchID), v); err != nil {
			s.db.Rollback()
			return false, fmt.Errorf("fastastore: writing pair %s: %w", p.SpecimenID, err)
		}
	}
	if err := s.db.Commit(); err != nil {
		return false, fmt.Errorf("fastastore: committing %d pairs: %w", len(batch), err)
	}
	return true, nil
}

func (s *Store) setMatch(specimenID string, m model.MatchResult) error {
	v, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("fastastore: encoding match for %s/%s: %w", specimenID, m.Primer, err)
	}
	if err := s.db.Set(matchKey(specimenID, m.Primer), v); err != nil {
		return fmt.Errorf("fastastore: writing match for %s/%s: %w", specimenID, m.Primer, err)
	}
	return nil
}

// allPairs scans every persisted PrimerPair in the canonical table.
func (s *Store) allPairs() ([]model.PrimerPair, error) {
	var pairs []model.PrimerPair
	enum, _, err := s.db.Seek([]byte{pairTag})
	if err != nil {
		return nil, fmt.Errorf("fastastore: seeking pairs: %w", err)
	}
	for {
		k, v, err := enum.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("fastastore: scanning pairs: %w", err)
		}
		if len(k) == 0 || k[0] != pairTag {
			break
		}
		var p model.PrimerPair
		if err := json.Unmarshal(v, &p); err != nil {
			return nil, fmt.Errorf("fastastore: decoding pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
