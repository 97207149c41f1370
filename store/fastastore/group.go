// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fastastore

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"

	"github.com/kortschak/primerscope/model"
)

// taxonomicGroup is the transient, indexed view of spec §4.5: the
// subset of canonical pairs matching one query's primers (and optional
// taxonomic filter), with specimen taxonomy attached so the ORF decider
// can climb ranks without a further Store round trip.
type taxonomicGroup struct {
	mu    sync.Mutex
	pairs []model.PrimerPair
}

func (s *Store) BuildTaxonomicGroup(ctx context.Context, query *model.SearchQuery, override bool) error {
	all, err := s.allPairs()
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	g := &taxonomicGroup{}
	for _, p := range all {
		if p.ForwardMatch.Primer != query.ForwardPrimer || p.ReverseMatch.Primer != query.ReversePrimer {
			continue
		}
		sp, ok := s.specimens[p.SpecimenID]
		if !ok {
			continue
		}
		if query.TaxonomicFilter != nil && sp.TaxonAt(query.TaxonomicFilter.Rank) != query.TaxonomicFilter.Value {
			continue
		}
		p.Taxon = sp
		if override {
			p.OrfIndex = model.OrfUnresolved
			p.OrfAA = ""
		}
		g.pairs = append(g.pairs, p)
	}
	s.group = g
	return nil
}

func (s *Store) requireGroup() (*taxonomicGroup, error) {
	if s.group == nil {
		return nil, fmt.Errorf("fastastore: no taxonomic group built")
	}
	return s.group, nil
}

func (s *Store) CountUnsolvedInGroup(ctx context.Context) (int, error) {
	g, err := s.requireGroup()
	if err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, p := range g.pairs {
		if p.OrfIndex == model.OrfUnresolved {
			n++
		}
	}
	return n, nil
}

func (s *Store) NextUnsolved(ctx context.Context) (*model.PrimerPair, error) {
	g, err := s.requireGroup()
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.pairs {
		if g.pairs[i].OrfIndex == model.OrfUnresolved {
			p := g.pairs[i]
			return &p, nil
		}
	}
	return nil, nil
}

func (s *Store) SampleSolvedRelated(ctx context.Context, rank model.Rank, taxon string, seed int64, upper int) ([]model.PrimerPair, error) {
	g, err := s.requireGroup()
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	var candidates []model.PrimerPair
	for _, p := range g.pairs {
		if p.OrfIndex < model.OrfIndex(0) || p.MatchingFlag != model.MatchBoth {
			continue
		}
		if p.Taxon.TaxonAt(rank) != taxon {
			continue
		}
		candidates = append(candidates, p)
	}
	g.mu.Unlock()

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	if upper >= 0 && len(candidates) > upper {
		candidates = candidates[:upper]
	}
	return candidates, nil
}

func (s *Store) FetchUnsolvedRelated(ctx context.Context, rank model.Rank, taxon string) ([]model.PrimerPair, error) {
	g, err := s.requireGroup()
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var related []model.PrimerPair
	for _, p := range g.pairs {
		if p.OrfIndex != model.OrfUnresolved {
			continue
		}
		if p.Taxon.TaxonAt(rank) != taxon {
			continue
		}
		related = append(related, p)
	}
	return related, nil
}

func (s *Store) WriteDecided(ctx context.Context, batch []model.PrimerPair) error {
	g, err := s.requireGroup()
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	byKey := make(map[string]model.PrimerPair, len(batch))
	for _, p := range batch {
		byKey[p.ForwardMatchID+"\x00"+p.ReverseMatchID] = p
	}
	for i := range g.pairs {
		key := g.pairs[i].ForwardMatchID + "\x00" + g.pairs[i].ReverseMatchID
		if decided, ok := byKey[key]; ok {
			g.pairs[i].OrfIndex = decided.OrfIndex
			g.pairs[i].OrfAA = decided.OrfAA
		}
	}
	return nil
}

func (s *Store) FlushGroupToCanonical(ctx context.Context) error {
	g, err := s.requireGroup()
	if err != nil {
		return err
	}
	g.mu.Lock()
	pairs := make([]model.PrimerPair, len(g.pairs))
	copy(pairs, g.pairs)
	g.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.BeginTransaction(); err != nil {
		return fmt.Errorf("fastastore: beginning flush-to-canonical transaction: %w", err)
	}
	for _, p := range pairs {
		v, err := json.Marshal(p)
		if err != nil {
			s.db.Rollback()
			return err
		}
		if err := s.db.Set(pairKey(p.ForwardMatchID, p.ReverseMatchID), v); err != nil {
			s.db.Rollback()
			return fmt.Errorf("fastastore: writing decided pair: %w", err)
		}
	}
	if err := s.db.Commit(); err != nil {
		return fmt.Errorf("fastastore: committing decided pairs: %w", err)
	}
	return nil
}

func (s *Store) DropGroup(ctx context.Context) error {
	s.group = nil
	return nil
}
