// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package align implements a modified Smith-Waterman local aligner with
// triplet-aware gap penalties and end-of-read bonuses, used to locate a
// short degenerate primer within a longer DNA window.
package align

import (
	"github.com/sirupsen/logrus"

	"github.com/kortschak/primerscope/iupac"
	"github.com/kortschak/primerscope/model"
)

// origin identifies which of the six candidate moves produced a cell's
// score during the forward pass, for traceback.
type origin uint8

const (
	stop origin = iota
	diag
	up
	left
	up3
	left3
)

// DefaultSubstitution scores a primer letter against a read letter. It
// implements the primer-driven variant described in spec §9 Open
// Question (i): the returned set of acceptable read letters is keyed on
// the *primer* letter, with N in the primer matching any read letter.
func DefaultSubstitution(primerLetter, readLetter byte) int {
	p := upper(primerLetter)
	r := upper(readLetter)
	if r == '-' {
		return 0
	}
	bases, ok := iupac.Expand(p)
	if !ok {
		logrus.WithField("letter", string(primerLetter)).Warn("align: unknown primer letter, scoring as mismatch")
		return -1
	}
	if p == 'N' {
		return 2
	}
	for i := 0; i < len(bases); i++ {
		if bases[i] == r {
			return 2
		}
	}
	return -1
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}

// Config holds the tunable scoring parameters of an Aligner (spec §4.2,
// configuration keys algorithm.gap_penalty, algorithm.triplet_gap_penalty,
// algorithm.end_of_read_bonus).
type Config struct {
	GapPenalty        int
	TripletGapPenalty int
	EndOfReadBonus    int
	// Substitution scores a primer letter against a read letter. If nil,
	// DefaultSubstitution is used.
	Substitution func(primerLetter, readLetter byte) int
}

// Aligner is a configured Smith-Waterman aligner. Instances are safe for
// concurrent use by multiple goroutines, since Align allocates its own
// working matrices per call.
type Aligner struct {
	gapPenalty        int
	tripletGapPenalty int
	endOfReadBonus    int
	substitution      func(byte, byte) int

	// MatchValue is the score of a perfect single-base match, used by
	// callers to derive score thresholds (spec §4.3 step 3).
	MatchValue int
}

// New returns a configured Aligner.
func New(cfg Config) *Aligner {
	sub := cfg.Substitution
	if sub == nil {
		sub = DefaultSubstitution
	}
	return &Aligner{
		gapPenalty:        cfg.GapPenalty,
		tripletGapPenalty: cfg.TripletGapPenalty,
		endOfReadBonus:    cfg.EndOfReadBonus,
		substitution:      sub,
		MatchValue:        sub('A', 'A'),
	}
}

// Align runs the modified Smith-Waterman algorithm, locating primer
// within window. eligible[0] enables the left-border bonus (window begins
// at the start of the sequence); eligible[1] enables the right-border
// bonus (window ends at the end of the sequence). Start/End in the
// returned MatchResult are relative to window.
func (a *Aligner) Align(primer, window string, eligible [2]bool) model.MatchResult {
	if primer == "" {
		return model.Mismatch(primer)
	}
	if window == "" {
		return model.Mismatch(primer)
	}

	rows := len(primer) + 3
	cols := len(window) + 3

	score := make([][]int, rows)
	trace := make([][]origin, rows)
	for i := range score {
		score[i] = make([]int, cols)
		trace[i] = make([]origin, cols)
	}

	maxScore := 0
	maxI, maxJ := 0, 0

	if eligible[0] {
		for i := 2; i < rows; i++ {
			for j := 0; j < 3; j++ {
				score[i][j] = a.endOfReadBonus * (i - 2)
			}
		}
	}

	for i := 3; i < rows; i++ {
		for j := 3; j < cols; j++ {
			matchScore := score[i-1][j-1] + a.substitution(primer[i-3], window[j-3])
			del := score[i-1][j] + a.gapPenalty
			ins := score[i][j-1] + a.gapPenalty
			del3 := score[i-3][j] + a.tripletGapPenalty
			ins3 := score[i][j-3] + a.tripletGapPenalty

			best := 0
			bestOrigin := stop
			for _, cand := range []struct {
				v int
				o origin
			}{
				{matchScore, diag},
				{del, up},
				{ins, left},
				{del3, up3},
				{ins3, left3},
			} {
				if cand.v > best {
					best = cand.v
					bestOrigin = cand.o
				}
			}

			score[i][j] = best
			trace[i][j] = bestOrigin

			if score[i][j] > maxScore {
				maxScore = score[i][j]
				maxI, maxJ = i, j
			}
		}
	}

	if eligible[1] {
		lastCol := cols - 1
		for i := 3; i < rows; i++ {
			bonus := a.endOfReadBonus * (rows - i - 1)
			if bonus < 0 {
				bonus = 0
			}
			score[i][lastCol] += bonus
			if score[i][lastCol] > maxScore {
				maxScore = score[i][lastCol]
				maxI, maxJ = i, lastCol
			}
		}
	}

	if maxScore <= 0 {
		return model.Mismatch(primer)
	}

	i, j := maxI, maxJ
	var aligned []byte
	for i >= 3 && j >= 3 && score[i][j] > 0 {
		switch trace[i][j] {
		case stop:
			i, j = 0, 0
		case diag:
			aligned = append(aligned, window[j-3])
			i--
			j--
		case up:
			aligned = append(aligned, '-')
			i--
		case left:
			aligned = append(aligned, window[j-3])
			j--
		case up3:
			for k := 0; k < 3; k++ {
				if i-k > 2 {
					aligned = append(aligned, '-')
				}
			}
			i -= 3
		case left3:
			for k := 0; k < 3; k++ {
				if j-k > 2 {
					aligned = append(aligned, window[j-3-k])
				}
			}
			j -= 3
		default:
			i, j = 0, 0
		}
	}
	// A traceback that ends in the left-border bonus margin leaves the
	// leading primer bases unaligned; each is emitted as a gap.
	if j < 3 && i >= 3 && score[i][j] > 0 {
		for ; i >= 3; i-- {
			aligned = append(aligned, '-')
		}
	}
	reverse(aligned)

	start := j - 2
	if start < 0 {
		start = 0
	}
	end := start + len(aligned)
	if end > len(window) {
		end = len(window)
	}

	return model.MatchResult{
		Score:           float64(maxScore),
		AlignedFragment: string(aligned),
		Start:           start,
		End:             end,
		Primer:          primer,
	}
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// AlignPartial runs Align on sequence[lo:hi], shifting the resulting
// Start/End back into sequence's coordinate space. Border eligibility is
// derived from whether [lo,hi) touches the ends of sequence. A degenerate
// interval (empty primer, empty window, lo >= hi) returns a mismatch.
func (a *Aligner) AlignPartial(primer, sequence string, lo, hi int) model.MatchResult {
	if primer == "" || sequence == "" {
		return model.Mismatch(primer)
	}
	if lo < 0 {
		lo = 0
	}
	if hi > len(sequence) {
		hi = len(sequence)
	}
	if lo >= hi {
		return model.Mismatch(primer)
	}

	m := a.Align(primer, sequence[lo:hi], [2]bool{lo == 0, hi == len(sequence)})
	if m.IsMismatch() {
		return m
	}
	m.Start += lo
	m.End += lo
	return m
}
