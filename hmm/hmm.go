// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hmm provides the profile-HMM build/search capability the ORF
// decider depends on. No profile-HMM library appears anywhere in the
// retrieval pack, so the default implementation is a position-specific
// scoring matrix (PSSM) built on gonum.org/v1/gonum/mat and scored
// through gonum.org/v1/gonum/stat/distuv, a stand-in for the
// build_from_msa/search pipeline the decider calls against.
package hmm

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kortschak/primerscope/msa"
)

// Candidate is one named amino acid translation to score against a
// Model, e.g. "<specimen_id>_<frame>".
type Candidate struct {
	Name     string
	Sequence string
}

// Hit is a reported match of a Candidate against a Model.
type Hit struct {
	Name   string
	EValue float64
}

// Model scores Candidates against a profile built from related,
// already-resolved sequences.
type Model interface {
	// Search reports every candidate scoring at or below
	// eValueThreshold, sorted by ascending E-value. biasFilterOff
	// mirrors the decider's pipeline.bias_filter = False setting; a
	// PSSM has no composition-bias model to disable, so it is accepted
	// for interface parity and otherwise ignored.
	Search(candidates []Candidate, eValueThreshold float64, biasFilterOff bool) ([]Hit, error)
}

// Builder constructs a Model from a multiple sequence alignment.
type Builder interface {
	BuildFromMSA(alignment []msa.Record) (Model, error)
}

// aminoAcids is the column order of the PSSM.
var aminoAcids = []byte("ARNDCQEGHILKMFPSTWYV")

// background is the Robinson & Robinson amino acid composition, used as
// the PSSM's pseudocount prior and null model.
var background = map[byte]float64{
	'A': 0.0826, 'R': 0.0553, 'N': 0.0406, 'D': 0.0546, 'C': 0.0137,
	'Q': 0.0393, 'E': 0.0672, 'G': 0.0707, 'H': 0.0227, 'I': 0.0591,
	'L': 0.0965, 'K': 0.0584, 'M': 0.0241, 'F': 0.0386, 'P': 0.0470,
	'S': 0.0657, 'T': 0.0534, 'W': 0.0108, 'Y': 0.0292, 'V': 0.0687,
}

// pseudocountWeight is the prior-strength term added to every column's
// observed counts before normalising to a frequency.
const pseudocountWeight = 1.0

// PSSMBuilder builds a Model by column-wise amino acid frequency over
// an alignment, log-odds scored against the background composition.
type PSSMBuilder struct{}

func (PSSMBuilder) BuildFromMSA(alignment []msa.Record) (Model, error) {
	if len(alignment) == 0 {
		return nil, errors.New("hmm: empty alignment")
	}
	width := len(alignment[0].Sequence)
	for _, r := range alignment {
		if len(r.Sequence) != width {
			return nil, fmt.Errorf("hmm: unaligned sequence %q: length %d, want %d", r.Name, len(r.Sequence), width)
		}
	}
	if width == 0 {
		return nil, errors.New("hmm: zero-width alignment")
	}

	colIndex := make(map[byte]int, len(aminoAcids))
	for j, aa := range aminoAcids {
		colIndex[aa] = j
	}

	n := float64(len(alignment))
	scores := mat.NewDense(width, len(aminoAcids), nil)
	for i := 0; i < width; i++ {
		var counts [256]int
		for _, r := range alignment {
			counts[r.Sequence[i]]++
		}
		for aa, j := range colIndex {
			bg := background[aa]
			freq := (float64(counts[aa]) + pseudocountWeight*bg) / (n + pseudocountWeight)
			scores.Set(i, j, math.Log2(freq/bg))
		}
	}

	return &pssmModel{width: width, scores: scores, colIndex: colIndex}, nil
}

type pssmModel struct {
	width    int
	scores   *mat.Dense
	colIndex map[byte]int
}

func (m *pssmModel) Search(candidates []Candidate, eValueThreshold float64, biasFilterOff bool) ([]Hit, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	raw := make([]float64, len(candidates))
	for i, c := range candidates {
		raw[i] = m.score(c.Sequence)
	}

	mean, std := stat.MeanStdDev(raw, nil)
	if std == 0 {
		std = 1
	}
	dist := distuv.Normal{Mu: mean, Sigma: std}

	var hits []Hit
	for i, c := range candidates {
		p := 1 - dist.CDF(raw[i])
		evalue := p * float64(len(candidates))
		if evalue <= eValueThreshold {
			hits = append(hits, Hit{Name: c.Name, EValue: evalue})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].EValue < hits[j].EValue })
	return hits, nil
}

// score sums the PSSM's log-odds contribution for each aligned residue
// of seq, clipped to the profile's width.
func (m *pssmModel) score(seq string) float64 {
	n := len(seq)
	if n > m.width {
		n = m.width
	}
	var s float64
	for i := 0; i < n; i++ {
		j, ok := m.colIndex[seq[i]]
		if !ok {
			continue
		}
		s += m.scores.At(i, j)
	}
	return s
}
