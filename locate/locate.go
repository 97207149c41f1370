// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package locate implements the per-specimen two-stage primer-pair
// matcher: a degenerate-regex fast path followed by a Smith-Waterman
// fallback, producing the inter-primer region and its reading-frame
// candidates.
package locate

import (
	"math"
	"regexp"
	"strings"

	"github.com/kortschak/primerscope/align"
	"github.com/kortschak/primerscope/model"
	"github.com/kortschak/primerscope/orf"
)

// Request is one input to Locate: a specimen sequence and any prior
// matches carried over from an earlier pass (spec §4.3 step 1).
type Request struct {
	SpecimenID    string
	Sequence      string
	PriorForward  *model.MatchResult
	PriorReverse  *model.MatchResult
}

// Result is the outcome of locating a primer pair within one specimen.
type Result struct {
	SpecimenID        string
	Forward           model.MatchResult
	Reverse           model.MatchResult
	InterPrimerRegion *string
	Candidates        model.FrameSet
	ExpectedDistance  int
}

// Dropped reports whether the result should not be persisted (spec §4.3
// edge policy: both sides missing).
func (r Result) Dropped() bool {
	return r.Forward.IsMismatch() && r.Reverse.IsMismatch()
}

// searchArea computes the window half-width o = floor(d*searchArea).
func searchArea(distance int, area float64) int {
	return int(math.Floor(float64(distance) * area))
}

// Locate runs the two-stage matcher for one specimen against one
// configured SearchQuery.
func Locate(query *model.SearchQuery, forwardRE, reverseRE *regexp.Regexp, aligner *align.Aligner, searchAreaFraction float64, req Request) Result {
	seq := strings.TrimSpace(req.Sequence)

	forward := model.Mismatch(query.ForwardPrimer)
	reverse := model.Mismatch(query.ReversePrimer)
	if req.PriorForward != nil {
		forward = *req.PriorForward
	}
	if req.PriorReverse != nil {
		reverse = *req.PriorReverse
	}

	distance := query.ExpectedDistance
	o := searchArea(distance, searchAreaFraction)

	forwardInterval := [2]int{0, len(seq)}
	reverseInterval := [2]int{0, len(seq)}

	intervalAfter := func(i int) (int, int) {
		return i + distance - o, i + distance + len(query.ReversePrimer) + o
	}
	intervalBefore := func(i int) (int, int) {
		lo := i - distance - len(query.ForwardPrimer) - o
		hi := i - distance + o
		if lo < 0 {
			lo = 0
		}
		if hi < 0 {
			hi = 0
		}
		return lo, hi
	}

	// Regex fast path.
	if forward.IsMismatch() {
		forward = regexMatch(query.ForwardPrimer, forwardRE, aligner.MatchValue, seq)
	}
	if reverse.IsMismatch() {
		if !forward.IsMismatch() {
			reverseInterval[0], reverseInterval[1] = intervalAfter(forward.End)
		}
		lo, hi := clamp(reverseInterval, len(seq))
		reverse = regexMatch(query.ReversePrimer, reverseRE, aligner.MatchValue, windowOf(seq, lo, hi))
		if !reverse.IsMismatch() {
			reverse.Start += lo
			reverse.End += lo
			forwardInterval[0], forwardInterval[1] = intervalBefore(reverse.Start)
		}
	}

	// Smith-Waterman fallback.
	if forward.IsMismatch() {
		lo, hi := clamp(forwardInterval, len(seq))
		forward = aligner.AlignPartial(query.ForwardPrimer, seq, lo, hi)

		threshold := float64(len(query.ForwardPrimer)) * float64(aligner.MatchValue) * query.ForwardCutoff
		if reverse.IsMismatch() && forward.Score > threshold {
			reverseInterval[0], reverseInterval[1] = intervalAfter(forward.End)
		}
	}
	if reverse.IsMismatch() {
		lo, hi := clamp(reverseInterval, len(seq))
		reverse = aligner.AlignPartial(query.ReversePrimer, seq, lo, hi)
	}

	forward.QualityCutoff = query.ForwardCutoff
	reverse.QualityCutoff = query.ReverseCutoff

	var region *string
	var candidates model.FrameSet
	fwdEnd, revStart := clampIndex(forward.End, len(seq)), clampIndex(reverse.Start, len(seq))
	if !forward.IsMismatch() && !reverse.IsMismatch() && fwdEnd <= revStart {
		r := seq[fwdEnd:revStart]
		if strings.TrimSpace(r) != "" {
			region = &r
			candidates = orf.Candidates(r, query.TranslationTable)
		}
	}

	if region == nil {
		invalidateWeakerSide(&forward, &reverse)
	}

	return Result{
		SpecimenID:        req.SpecimenID,
		Forward:           forward,
		Reverse:           reverse,
		InterPrimerRegion: region,
		Candidates:        candidates,
		ExpectedDistance:  distance,
	}
}

// invalidateWeakerSide implements spec §4.3 step 4: when the region is
// empty and at most one side matched, the weaker side (by per-base
// normalised score) is invalidated to signal "found nothing usable".
func invalidateWeakerSide(forward, reverse *model.MatchResult) {
	bothMatched := !forward.IsMismatch() && !reverse.IsMismatch()
	neitherMatched := forward.IsMismatch() && reverse.IsMismatch()
	if bothMatched || neitherMatched {
		return
	}
	if !forward.IsMismatch() {
		if perBase(*forward) <= 0 {
			*forward = model.Mismatch(forward.Primer)
		}
	}
	if !reverse.IsMismatch() {
		if perBase(*reverse) <= 0 {
			*reverse = model.Mismatch(reverse.Primer)
		}
	}
}

func perBase(m model.MatchResult) float64 {
	if len(m.Primer) == 0 {
		return 0
	}
	return m.Score / float64(len(m.Primer))
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

func clamp(interval [2]int, n int) (int, int) {
	lo, hi := clampIndex(interval[0], n), clampIndex(interval[1], n)
	if lo > hi {
		lo = hi
	}
	return lo, hi
}

func windowOf(seq string, lo, hi int) string {
	if lo >= hi {
		return ""
	}
	return seq[lo:hi]
}

// regexMatch runs the compiled regex fast path for one primer over read,
// returning a MatchResult scored as len(primer)*matchValue on a hit.
func regexMatch(primer string, re *regexp.Regexp, matchValue int, read string) model.MatchResult {
	if re == nil || read == "" {
		return model.Mismatch(primer)
	}
	loc := re.FindStringIndex(read)
	if loc == nil {
		return model.Mismatch(primer)
	}
	return model.MatchResult{
		Score:           float64(len(primer) * matchValue),
		AlignedFragment: read[loc[0]:loc[1]],
		Start:           loc[0],
		End:             loc[1],
		Primer:          primer,
	}
}
