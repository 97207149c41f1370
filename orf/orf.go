// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package orf computes open reading frame candidates for a nucleotide
// region under a given genetic code, and translates DNA to amino acids.
package orf

import (
	"fmt"
	"strings"

	"github.com/kortschak/primerscope/model"
)

// geneticCode is an NCBI genetic code table, stored as three parallel
// strings in TCAG-ordered codon enumeration (the representation used by
// the NCBI genetic code tables and by Bio.Data.CodonTable).
type geneticCode struct {
	aas    string
	base1  string
	base2  string
	base3  string
	starts string
}

const (
	ncbiBase1 = "TTTTTTTTTTTTTTTTCCCCCCCCCCCCCCCCAAAAAAAAAAAAAAAAGGGGGGGGGGGGGGGG"
	ncbiBase2 = "TTTTCCCCAAAAGGGGTTTTCCCCAAAAGGGGTTTTCCCCAAAAGGGGTTTTCCCCAAAAGGGG"
	ncbiBase3 = "TCAGTCAGTCAGTCAGTCAGTCAGTCAGTCAGTCAGTCAGTCAGTCAGTCAGTCAGTCAGTCAG"
)

// geneticCodes holds the standard NCBI genetic code tables needed by
// this spec's example translation tables. Additional tables can be added
// the same way: the amino acid string is read off against
// ncbiBase{1,2,3} in TCAG order.
var geneticCodes = map[int]geneticCode{
	// The Standard Code.
	1: {
		aas:   "FFLLSSSSYY**CC*WLLLLPPPPHHQQRRRRIIIMTTTTNNKKSSRRVVVVAAAADDEEGGGG",
		base1: ncbiBase1, base2: ncbiBase2, base3: ncbiBase3,
	},
	// The Invertebrate Mitochondrial Code.
	5: {
		aas:   "FFLLSSSSYY**CCWWLLLLPPPPHHQQRRRRIIMMTTTTNNKKSSSSVVVVAAAADDEEGGGG",
		base1: ncbiBase1, base2: ncbiBase2, base3: ncbiBase3,
	},
}

func tableFor(id int) (map[string]byte, bool) {
	gc, ok := geneticCodes[id]
	if !ok {
		return nil, false
	}
	codons := make(map[string]byte, len(gc.aas))
	for i := 0; i < len(gc.aas); i++ {
		codon := string([]byte{gc.base1[i], gc.base2[i], gc.base3[i]})
		codons[codon] = gc.aas[i]
	}
	return codons, true
}

// stopSymbol and unknownSymbol are the amino acid symbols that exclude a
// frame from the candidate set (spec §4.6).
const (
	stopSymbol    = '*'
	unknownSymbol = 'X'
)

// Translate translates a DNA sequence under translation table id,
// returning the amino acid string. Codons containing letters outside
// {A,C,G,T,U} or not present in the table translate to the unknown
// symbol 'X'.
func Translate(sequence string, table int) (string, error) {
	codons, ok := tableFor(table)
	if !ok {
		return "", fmt.Errorf("orf: unknown translation table %d", table)
	}
	var b strings.Builder
	for i := 0; i+3 <= len(sequence); i += 3 {
		codon := normalizeCodon(sequence[i : i+3])
		aa, ok := codons[codon]
		if !ok {
			b.WriteByte(unknownSymbol)
			continue
		}
		b.WriteByte(aa)
	}
	return b.String(), nil
}

func normalizeCodon(codon string) string {
	b := make([]byte, len(codon))
	for i := 0; i < len(codon); i++ {
		c := codon[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c == 'U' {
			c = 'T'
		}
		b[i] = c
	}
	return string(b)
}

// trimToTriplet truncates s to the largest prefix whose length is a
// multiple of three.
func trimToTriplet(s string) string {
	if r := len(s) % 3; r != 0 {
		return s[:len(s)-r]
	}
	return s
}

// TranslateFrame translates region starting at frame, truncated to a
// multiple of three, under table. Used both for trivial resolution
// (spec §4.6 Phase A) and for building per-candidate HMM query strings
// (Phase B).
func TranslateFrame(region string, frame int, table int) (string, error) {
	if frame < 0 || frame >= len(region) {
		return "", fmt.Errorf("orf: frame %d out of range for region of length %d", frame, len(region))
	}
	return Translate(trimToTriplet(region[frame:]), table)
}

// Candidates returns the set of frames in {0,1,2} whose translation
// under table has neither a stop nor an unknown codon. Empty or invalid
// input returns the empty set; a translation error for one frame
// excludes only that frame.
func Candidates(region string, table int) model.FrameSet {
	if region == "" {
		return 0
	}
	var frames []int
	for f := 0; f < 3; f++ {
		if f >= len(region) {
			continue
		}
		framed := trimToTriplet(region[f:])
		protein, err := Translate(framed, table)
		if err != nil {
			continue
		}
		if strings.IndexByte(protein, stopSymbol) >= 0 {
			continue
		}
		if strings.IndexByte(protein, unknownSymbol) >= 0 {
			continue
		}
		frames = append(frames, f)
	}
	return model.Encode(frames)
}
