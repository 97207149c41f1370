// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store defines the persistence capability consumed by the
// worker pool and the ORF decider, and a factory that selects a
// concrete back-end from an input path's suffix.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/kortschak/primerscope/model"
)

// SequenceRecord is one row produced by IterSequences: a specimen and,
// unless override mode is active, any matches already on file for it.
type SequenceRecord struct {
	SpecimenID    string
	Sequence      string
	PriorForward  *model.MatchResult
	PriorReverse  *model.MatchResult
}

// Cursor is a lazy, paginated sequence of SequenceRecords. Callers must
// call Close when done, whether or not Next ever returned false.
type Cursor interface {
	// Next advances the cursor and reports whether a record was read.
	// It returns false, nil at end of input.
	Next(ctx context.Context) (SequenceRecord, bool, error)
	Close() error
}

// Store is the polymorphic persistence capability of spec §4.5. A Store
// implementation must make WritePairs atomic per batch: readers of one
// batch observe either its pre-state or its post-state, never partial
// state, and forward_match_id/reverse_match_id foreign keys in a
// PrimerPair always resolve to a persisted MatchResult.
type Store interface {
	// CountSequences returns the total number of specimens. Callers
	// are expected to cache the result after the first call.
	CountSequences(ctx context.Context) (int, error)

	// IterSequences opens a cursor over every specimen, carrying any
	// prior matches for fwdPrimer/revPrimer unless override is set, in
	// which case prior matches are always reported absent.
	IterSequences(ctx context.Context, fwdPrimer, revPrimer string, override bool) (Cursor, error)

	// WritePairs idempotently upserts a batch of located pairs, keyed
	// by (specimen_id, primer_sequence) for the two MatchResults and
	// by (forward_match_id, reverse_match_id) for the PrimerPair. It
	// returns false, nil to signal transient contention that the
	// caller should retry; any other error is unrecoverable.
	WritePairs(ctx context.Context, batch []model.PrimerPair) (bool, error)

	// BuildTaxonomicGroup materialises a transient, indexed view
	// restricted to pairs matching query's primers and, if set, its
	// taxonomic filter. In override mode orf_index/orf_aa in the view
	// are reset to unresolved.
	BuildTaxonomicGroup(ctx context.Context, query *model.SearchQuery, override bool) error

	// CountUnsolvedInGroup reports the number of unresolved entries
	// remaining in the transient group.
	CountUnsolvedInGroup(ctx context.Context) (int, error)

	// NextUnsolved returns one unresolved entry from the transient
	// group, or nil if none remain.
	NextUnsolved(ctx context.Context) (*model.PrimerPair, error)

	// SampleSolvedRelated returns a uniform, seeded sub-sample (without
	// replacement, size at most upper) of resolved (orf_index >= 0)
	// siblings of taxon at rank whose matching_flag is 0, or fewer if
	// fewer exist.
	SampleSolvedRelated(ctx context.Context, rank model.Rank, taxon string, seed int64, upper int) ([]model.PrimerPair, error)

	// FetchUnsolvedRelated returns every unresolved entry in the
	// transient group sharing taxon at rank.
	FetchUnsolvedRelated(ctx context.Context, rank model.Rank, taxon string) ([]model.PrimerPair, error)

	// WriteDecided updates orf_index/orf_aa for batch on the transient
	// view.
	WriteDecided(ctx context.Context, batch []model.PrimerPair) error

	// FlushGroupToCanonical writes the transient view back into the
	// canonical pairs table.
	FlushGroupToCanonical(ctx context.Context) error

	// DropGroup discards the transient taxonomic group.
	DropGroup(ctx context.Context) error

	Close() error
}

// Config carries the subset of configuration a Store factory needs,
// independent of which back-end is selected (spec §6 database.*).
type Config struct {
	TableName        string
	IDColumn         string
	SequenceColumn   string
	BatchSize        int
	LowerSampleBound int
}

// Open selects a Store back-end from path's suffix: ".db" dispatches to
// the relational back-end (store/sqlstore), anything else to the flat
// FASTA-plus-index back-end (store/fastastore). This mirrors spec §9
// "Class hierarchies for Store": a small factory selecting on path
// suffix rather than a type hierarchy.
//
// Open is implemented by the two back-end packages registering
// themselves via RegisterRelationalBackend and RegisterFlatBackend in
// their init functions, so that
// store itself has no import-time dependency on either driver.
func Open(path string, cfg Config) (Store, error) {
	suffix := ".db"
	if strings.HasSuffix(path, suffix) {
		if relational == nil {
			return nil, fmt.Errorf("store: no relational backend registered for %q", path)
		}
		return relational(path, cfg)
	}
	if flat == nil {
		return nil, fmt.Errorf("store: no flat-file backend registered for %q", path)
	}
	return flat(path, cfg)
}

// Backend constructs a Store for a given path and configuration.
type Backend func(path string, cfg Config) (Store, error)

var (
	relational Backend
	flat       Backend
)

// RegisterRelationalBackend installs the Backend used for ".db"-suffixed
// paths. Back-end packages call this from an init function.
func RegisterRelationalBackend(b Backend) { relational = b }

// RegisterFlatBackend installs the Backend used for every path not
// handled by the relational backend. Back-end packages call this from
// an init function.
func RegisterFlatBackend(b Backend) { flat = b }
