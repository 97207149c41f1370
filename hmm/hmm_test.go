// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hmm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/primerscope/msa"
)

func TestBuildFromMSARejectsEmpty(t *testing.T) {
	_, err := PSSMBuilder{}.BuildFromMSA(nil)
	assert.Error(t, err)
}

func TestBuildFromMSARejectsRaggedAlignment(t *testing.T) {
	_, err := PSSMBuilder{}.BuildFromMSA([]msa.Record{
		{Name: "a", Sequence: "MKTAYIAK"},
		{Name: "b", Sequence: "MKTAYIAKQ"},
	})
	assert.Error(t, err)
}

// TestSearchFavoursConsensusFrame builds a profile from twenty identical
// "MKTAYIAK"-consensus references (frame 0's expected translation) and
// checks that a frame-0 candidate scores a lower E-value than an
// unrelated frame-2 candidate, mirroring S6.
func TestSearchFavoursConsensusFrame(t *testing.T) {
	var alignment []msa.Record
	for i := 0; i < 20; i++ {
		alignment = append(alignment, msa.Record{Name: "ref", Sequence: "MKTAYIAK"})
	}
	model, err := PSSMBuilder{}.BuildFromMSA(alignment)
	require.NoError(t, err)

	candidates := []Candidate{
		{Name: "x_0", Sequence: "MKTAYIAK"},
		{Name: "x_2", Sequence: "WPQRSTGH"},
	}
	hits, err := model.Search(candidates, 0.5, false)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "x_0", hits[0].Name)
}

func TestSearchReportsNoHitsAboveThreshold(t *testing.T) {
	var alignment []msa.Record
	for i := 0; i < 5; i++ {
		alignment = append(alignment, msa.Record{Name: "ref", Sequence: "MKTAYIAK"})
	}
	model, err := PSSMBuilder{}.BuildFromMSA(alignment)
	require.NoError(t, err)

	hits, err := model.Search([]Candidate{{Name: "x_0", Sequence: "MKTAYIAK"}}, -1000, false)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
