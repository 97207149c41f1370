// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package model defines the domain entities shared by every component of
// primerscope: specimens, search queries, match results and primer pairs.
package model

import "fmt"

// Rank is a taxonomic rank.
type Rank int

// Taxonomic ranks, from Species to Kingdom; Subfamily and Tribe are
// placed after Family.
const (
	Species Rank = iota
	Genus
	Family
	Subfamily
	Tribe
	Order
	Class
	Phylum
	Kingdom
)

var rankNames = [...]string{
	Species: "species", Genus: "genus", Family: "family",
	Subfamily: "subfamily", Tribe: "tribe", Order: "order",
	Class: "class", Phylum: "phylum", Kingdom: "kingdom",
}

// String returns the rank's column/query name.
func (r Rank) String() string {
	if r < 0 || int(r) >= len(rankNames) {
		return "unknown"
	}
	return rankNames[r]
}

// RankByName returns the Rank named by s, and whether it was found.
func RankByName(s string) (Rank, bool) {
	for r, n := range rankNames {
		if n == s {
			return Rank(r), true
		}
	}
	return 0, false
}

// ClimbOrder is the taxonomic climbing order used by the ORF decider,
// fine to coarse.
var ClimbOrder = []Rank{Species, Genus, Family, Order, Class}

// Specimen is an external, read-only nucleotide record with a taxonomic
// assignment.
type Specimen struct {
	ID       string
	Sequence string

	Kingdom   string
	Phylum    string
	Class     string
	Order     string
	Family    string
	Subfamily string
	Tribe     string
	Genus     string
	Species   string
}

// TaxonAt returns the specimen's value at the given rank.
func (s Specimen) TaxonAt(r Rank) string {
	switch r {
	case Species:
		return s.Species
	case Genus:
		return s.Genus
	case Family:
		return s.Family
	case Subfamily:
		return s.Subfamily
	case Tribe:
		return s.Tribe
	case Order:
		return s.Order
	case Class:
		return s.Class
	case Phylum:
		return s.Phylum
	case Kingdom:
		return s.Kingdom
	default:
		return ""
	}
}

// TaxonomicFilter restricts a SearchQuery to specimens sharing a taxon
// value at a given rank.
type TaxonomicFilter struct {
	Rank  Rank
	Value string
}

// SearchQuery is one configured, immutable primer pair search.
type SearchQuery struct {
	ForwardPrimer string
	ReversePrimer string

	ExpectedDistance int
	ForwardCutoff    float64
	ReverseCutoff    float64

	TranslationTable int

	TaxonomicFilter *TaxonomicFilter
}

// FrameSet is a 3-bit encoding of a subset of {0,1,2} reading frames.
type FrameSet uint8

// Encode returns the FrameSet encoding frames, a subset of {0,1,2}.
func Encode(frames []int) FrameSet {
	var f FrameSet
	for _, i := range frames {
		if i >= 0 && i < 3 {
			f |= 1 << uint(i)
		}
	}
	return f
}

// Decode returns the sorted frames encoded by f.
func Decode(f FrameSet) []int {
	var frames []int
	for i := 0; i < 3; i++ {
		if f&(1<<uint(i)) != 0 {
			frames = append(frames, i)
		}
	}
	return frames
}

// Has reports whether frame i is a member of f.
func (f FrameSet) Has(i int) bool {
	if i < 0 || i > 2 {
		return false
	}
	return f&(1<<uint(i)) != 0
}

// Len returns the number of frames encoded by f.
func (f FrameSet) Len() int {
	n := 0
	for i := 0; i < 3; i++ {
		if f.Has(i) {
			n++
		}
	}
	return n
}

// MatchResult is the outcome of aligning one primer against one sequence.
//
// Start == End == -1 signals a mismatch; otherwise 0 <= Start < End <= len(sequence).
type MatchResult struct {
	Score           float64
	AlignedFragment string
	Start           int
	End             int
	Primer          string
	QualityCutoff   float64
}

// Mismatch is the canonical "no match" MatchResult for primer.
func Mismatch(primer string) MatchResult {
	return MatchResult{Primer: primer, Start: -1, End: -1}
}

// IsMismatch reports whether m represents a failed match.
func (m MatchResult) IsMismatch() bool {
	return m.Start == -1 && m.End == -1
}

// MatchingFlag summarises which side(s) of a PrimerPair exceeded their
// absolute score cutoff.
type MatchingFlag int8

const (
	MatchBoth      MatchingFlag = 0
	MatchNoReverse MatchingFlag = -1
	MatchNoForward MatchingFlag = -2
	MatchNeither   MatchingFlag = -3
)

// LengthFlag classifies the observed inter-primer distance against the
// expected distance, clamped to {-1,0,1}.
type LengthFlag int8

const (
	LengthShort    LengthFlag = -1
	LengthExpected LengthFlag = 0
	LengthLong     LengthFlag = 1
)

// Sign3 implements sign3(x) from spec §3: -1 if x<-3, +1 if x>3, else 0.
func Sign3(x int) LengthFlag {
	switch {
	case x < -3:
		return LengthShort
	case x > 3:
		return LengthLong
	default:
		return LengthExpected
	}
}

// OrfIndex is the decided reading frame of a PrimerPair, or a sentinel.
type OrfIndex int

const (
	// OrfUnresolved marks a pair that has not yet been decided.
	OrfUnresolved OrfIndex = -2
	// OrfNone marks a pair with no valid frame, or one abandoned for lack
	// of taxonomic references (spec §9 Open Question (ii): these two
	// situations share this single sentinel in the original and are not
	// distinguished here either).
	OrfNone OrfIndex = -1
)

// MatchID is the canonical primary key of a persisted MatchResult.
func MatchID(specimenID, primer string) string {
	return fmt.Sprintf("%s_%s", specimenID, primer)
}

// PrimerPair is one located forward/reverse primer pair within a specimen.
type PrimerPair struct {
	ForwardMatchID string
	ReverseMatchID string

	ForwardMatch MatchResult
	ReverseMatch MatchResult

	SpecimenID string

	// InterPrimerRegion is nil when no sensible region exists.
	InterPrimerRegion *string

	OrfCandidates FrameSet
	MatchingFlag  MatchingFlag
	LengthFlag    LengthFlag
	OrfIndex      OrfIndex
	OrfAA         string

	// Taxon is populated by taxonomy-scoped queries (transient grouping);
	// it is not part of the canonical pairs table.
	Taxon Specimen
}

// Resolved reports whether the pair's reading frame has been decided.
func (p PrimerPair) Resolved() bool { return p.OrfIndex != OrfUnresolved }

// TriviallyResolved reports whether the pair has at most one candidate
// frame, i.e. does not require HMM-based resolution.
func (p PrimerPair) TriviallyResolved() bool { return p.OrfCandidates.Len() <= 1 }

// Ambiguous reports whether the pair requires HMM-based resolution.
func (p PrimerPair) Ambiguous() bool {
	return !p.Resolved() && !p.TriviallyResolved()
}

// ComputeMatchingFlag derives the matching flag from the two match
// results and their absolute score cutoffs (spec §3).
func ComputeMatchingFlag(fwd, rev MatchResult, fwdCutoff, revCutoff float64, matchValue float64) MatchingFlag {
	fwdOK := fwd.Score > float64(len(fwd.Primer))*matchValue*fwdCutoff
	revOK := rev.Score > float64(len(rev.Primer))*matchValue*revCutoff
	switch {
	case fwdOK && revOK:
		return MatchBoth
	case fwdOK && !revOK:
		return MatchNoReverse
	case !fwdOK && revOK:
		return MatchNoForward
	default:
		return MatchNeither
	}
}

// ComputeLengthFlag derives the length flag from the two match results
// and the expected distance (spec §3).
func ComputeLengthFlag(fwd, rev MatchResult, expected int) LengthFlag {
	observed := rev.Start - fwd.End
	return Sign3(observed - expected)
}
