// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package decide implements the ORF decider (spec §4.6, §4.7): trivial
// resolution of unambiguous candidate sets, followed by taxonomy-
// climbing HMM resolution of the remainder.
package decide

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kortschak/primerscope/hmm"
	"github.com/kortschak/primerscope/model"
	"github.com/kortschak/primerscope/msa"
	"github.com/kortschak/primerscope/orf"
	"github.com/kortschak/primerscope/store"
)

// TrivialResolve implements Phase A (spec §4.6) in place over batch: a
// pair with zero candidate frames is marked OrfNone; a pair with
// exactly one candidate frame is resolved to it; a pair with two or
// more candidate frames is left untouched for Phase B.
func TrivialResolve(batch []model.PrimerPair, table int) {
	for i := range batch {
		p := &batch[i]
		switch p.OrfCandidates.Len() {
		case 0:
			p.OrfIndex = model.OrfNone
			p.OrfAA = ""
		case 1:
			if p.InterPrimerRegion == nil {
				continue
			}
			frame := model.Decode(p.OrfCandidates)[0]
			aa, err := orf.TranslateFrame(*p.InterPrimerRegion, frame, table)
			if err != nil {
				continue
			}
			p.OrfIndex = model.OrfIndex(frame)
			p.OrfAA = aa
		}
	}
}

// Decider drives Phase B: climbing model.ClimbOrder to build a
// profile-HMM from resolved siblings, then resolving the unresolved
// siblings at the rank that supplied it.
type Decider struct {
	Store   store.Store
	Aligner msa.Aligner
	Builder hmm.Builder
	Logger  *logrus.Logger

	TranslationTable int
	LowerThreshold   int
	UpperThreshold   int
	EValueThreshold  float64
	Seed             int64
}

func (d *Decider) logger() *logrus.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return logrus.StandardLogger()
}

// Solve runs Phase B to completion against the Store's current
// transient taxonomic group (built beforehand by the caller via
// store.Store.BuildTaxonomicGroup), resolving or giving up on every
// remaining unresolved entry.
func (d *Decider) Solve(ctx context.Context) error {
	log := d.logger()
	var solved, dropped, starved int

	for {
		n, err := d.Store.CountUnsolvedInGroup(ctx)
		if err != nil {
			return fmt.Errorf("decide: counting unsolved: %w", err)
		}
		if n == 0 {
			break
		}

		e, err := d.Store.NextUnsolved(ctx)
		if err != nil {
			return fmt.Errorf("decide: fetching next unsolved: %w", err)
		}
		if e == nil {
			break
		}

		resolvedThisRound, err := d.resolveAt(ctx, *e)
		if err != nil {
			return err
		}
		if resolvedThisRound >= 0 {
			solved += resolvedThisRound
			continue
		}

		// No rank yielded enough siblings: give up on the whole species.
		species := e.Taxon.Species
		members, err := d.Store.FetchUnsolvedRelated(ctx, model.Species, species)
		if err != nil {
			return fmt.Errorf("decide: fetching species %q for give-up: %w", species, err)
		}
		if len(members) == 0 {
			// e itself always counts, even with an empty taxon string.
			members = []model.PrimerPair{*e}
		}
		for i := range members {
			members[i].OrfIndex = model.OrfNone
			members[i].OrfAA = ""
		}
		if err := d.Store.WriteDecided(ctx, members); err != nil {
			return fmt.Errorf("decide: writing give-up decisions for species %q: %w", species, err)
		}
		dropped += len(members)
		starved++
		log.WithFields(logrus.Fields{
			"species": species,
			"members": len(members),
		}).Warn("no rank had enough resolved references; giving up on species")
	}

	log.WithFields(logrus.Fields{
		"hmm_resolved":    solved,
		"given_up":        dropped,
		"starved_species": starved,
	}).Info("ORF decider finished taxonomy-climbing resolution")
	return nil
}

// resolveAt runs steps 2-6 of spec §4.7 for the taxon chain rooted at
// e. It returns the number of entries resolved and written, or -1 if
// no rank in model.ClimbOrder produced enough resolved siblings.
func (d *Decider) resolveAt(ctx context.Context, e model.PrimerPair) (int, error) {
	for _, rank := range model.ClimbOrder {
		taxon := e.Taxon.TaxonAt(rank)

		siblings, err := d.Store.SampleSolvedRelated(ctx, rank, taxon, d.Seed, d.UpperThreshold)
		if err != nil {
			return 0, fmt.Errorf("decide: sampling solved siblings at rank %s: %w", rank, err)
		}
		if len(siblings) < d.LowerThreshold {
			continue
		}

		alignment := make([]msa.Record, len(siblings))
		for i, s := range siblings {
			alignment[i] = msa.Record{Name: s.SpecimenID, Sequence: s.OrfAA}
		}
		aligned, err := d.Aligner.Align(ctx, alignment)
		if err != nil {
			return 0, fmt.Errorf("decide: aligning %d references at rank %s: %w", len(alignment), rank, err)
		}

		built, err := d.Builder.BuildFromMSA(aligned)
		if err != nil {
			return 0, fmt.Errorf("decide: building HMM from %d-sequence alignment at rank %s: %w", len(aligned), rank, err)
		}

		related, err := d.Store.FetchUnsolvedRelated(ctx, rank, taxon)
		if err != nil {
			return 0, fmt.Errorf("decide: fetching unresolved siblings at rank %s: %w", rank, err)
		}
		if len(related) == 0 {
			continue
		}

		var decided []model.PrimerPair
		for _, u := range related {
			candidates := buildCandidates(u, d.TranslationTable)
			if len(candidates) == 0 {
				// All candidate frames failed translation (C6): u is left
				// unresolved and is neither written nor counted.
				continue
			}

			hits, err := built.Search(candidates, d.EValueThreshold, false)
			if err != nil {
				return 0, fmt.Errorf("decide: searching HMM for specimen %q: %w", u.SpecimenID, err)
			}
			if len(hits) == 0 {
				u.OrfIndex = model.OrfNone
				u.OrfAA = ""
				decided = append(decided, u)
				continue
			}

			best := hits[0]
			frame, ok := frameOf(best.Name)
			if !ok {
				continue
			}
			u.OrfIndex = model.OrfIndex(frame)
			u.OrfAA = sequenceOf(candidates, best.Name)
			decided = append(decided, u)
		}

		if len(decided) > 0 {
			if err := d.Store.WriteDecided(ctx, decided); err != nil {
				return 0, fmt.Errorf("decide: writing decisions at rank %s: %w", rank, err)
			}
		}
		return len(decided), nil
	}
	return -1, nil
}

// buildCandidates enumerates the named amino acid translations of
// u.InterPrimerRegion at each of u's candidate frames (spec §4.7 step 5).
func buildCandidates(u model.PrimerPair, table int) []hmm.Candidate {
	if u.InterPrimerRegion == nil {
		return nil
	}
	var out []hmm.Candidate
	for _, frame := range model.Decode(u.OrfCandidates) {
		aa, err := orf.TranslateFrame(*u.InterPrimerRegion, frame, table)
		if err != nil {
			continue
		}
		out = append(out, hmm.Candidate{
			Name:     fmt.Sprintf("%s_%d", u.SpecimenID, frame),
			Sequence: aa,
		})
	}
	return out
}

// frameOf parses the trailing "_<frame>" component of a candidate name
// built by buildCandidates. strings.LastIndex is used rather than
// splitting on every underscore, since specimen IDs may themselves
// contain underscores.
func frameOf(name string) (int, bool) {
	i := strings.LastIndex(name, "_")
	if i < 0 {
		return 0, false
	}
	frame, err := strconv.Atoi(name[i+1:])
	if err != nil {
		return 0, false
	}
	return frame, true
}

func sequenceOf(candidates []hmm.Candidate, name string) string {
	for _, c := range candidates {
		if c.Name == name {
			return c.Sequence
		}
	}
	return ""
}
