// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package orf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/primerscope/model"
)

func TestTranslateStandardTable(t *testing.T) {
	aa, err := Translate("ATGGCC", 1)
	require.NoError(t, err)
	assert.Equal(t, "MA", aa)
}

func TestTranslateUAliasesT(t *testing.T) {
	aa1, err := Translate("AUG", 1)
	require.NoError(t, err)
	aa2, err := Translate("ATG", 1)
	require.NoError(t, err)
	assert.Equal(t, aa2, aa1)
}

func TestTranslateUnknownTable(t *testing.T) {
	_, err := Translate("ATG", 999)
	assert.Error(t, err)
}

func TestCandidatesEmptyInput(t *testing.T) {
	assert.Equal(t, model.FrameSet(0), Candidates("", 1))
}

// Invariant 7: every candidate frame's translation has neither a stop
// nor an unknown symbol.
func TestCandidatesInvariant(t *testing.T) {
	regions := []string{"ATGGCCATGGCC", "TTTAAATTT", "ATGNNNATG", "GATTACAGATTACA"}
	for _, r := range regions {
		cands := Candidates(r, 1)
		for _, f := range model.Decode(cands) {
			framed := trimToTriplet(r[f:])
			protein, err := Translate(framed, 1)
			require.NoError(t, err)
			assert.NotContains(t, protein, "*")
			assert.NotContains(t, protein, "X")
		}
	}
}

// The candidate set feeding the decider excludes a frame whose
// translation contains a stop codon.
func TestCandidatesExcludesStopCodonFrame(t *testing.T) {
	// Frame 0 of "ATGTAG" reads ATG TAG (Met, stop) and is excluded;
	// frames 1 (TGT) and 2 (GTA) translate without a stop.
	cands := Candidates("ATGTAG", 1)
	assert.False(t, cands.Has(0))
}

func TestTrimToTriplet(t *testing.T) {
	assert.Equal(t, "ATG", trimToTriplet("ATGC"))
	assert.Equal(t, "ATG", trimToTriplet("ATG"))
	assert.Equal(t, "", trimToTriplet("AT"))
}

func TestTranslateUnknownCodonIsX(t *testing.T) {
	aa, err := Translate("NNN", 1)
	require.NoError(t, err)
	assert.True(t, strings.Contains(aa, "X"))
}

func TestTranslateFrameMatchesManualTrim(t *testing.T) {
	region := "TATGGCCATG"
	aa, err := TranslateFrame(region, 1, 1)
	require.NoError(t, err)
	want, err := Translate(trimToTriplet(region[1:]), 1)
	require.NoError(t, err)
	assert.Equal(t, want, aa)
}

func TestTranslateFrameRejectsOutOfRangeFrame(t *testing.T) {
	_, err := TranslateFrame("ATG", 5, 1)
	assert.Error(t, err)
}
