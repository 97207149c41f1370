// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package msa

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMuscleArgsBuildCommand(t *testing.T) {
	args := muscleArgs{Cmd: "muscle", Align: "in.fasta", Output: "out.fasta"}
	cmd, err := args.BuildCommand()
	require.NoError(t, err)
	assert.Equal(t, []string{"muscle", "-align", "in.fasta", "-output", "out.fasta"}, cmd.Args)
}

func TestMuscleArgsDefaultCmd(t *testing.T) {
	args := muscleArgs{Align: "in.fasta", Output: "out.fasta"}
	cmd, err := args.BuildCommand()
	require.NoError(t, err)
	assert.Equal(t, "muscle", cmd.Args[0])
}

// fakeAlign substitutes for the muscle binary: it copies the -align
// input straight to -output, verifying Align's file plumbing and FASTA
// round-trip without requiring muscle to be installed.
func fakeAlign(cmd *exec.Cmd) error {
	var in, out string
	for i, a := range cmd.Args {
		switch a {
		case "-align":
			in = cmd.Args[i+1]
		case "-output":
			out = cmd.Args[i+1]
		}
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

func TestMuscleAlignRoundTrip(t *testing.T) {
	m := Muscle{Dir: t.TempDir(), run: fakeAlign}
	seqs := []Record{
		{Name: "a", Sequence: "MKTAL"},
		{Name: "b", Sequence: "MKTVL"},
	}
	got, err := m.Align(context.Background(), seqs)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "MKTAL", got[0].Sequence)
	assert.Equal(t, "b", got[1].Name)
	assert.Equal(t, "MKTVL", got[1].Sequence)
}

func TestMuscleAlignRequiresAtLeastTwoSequences(t *testing.T) {
	m := Muscle{Dir: t.TempDir(), run: fakeAlign}
	_, err := m.Align(context.Background(), []Record{{Name: "a", Sequence: "MKT"}})
	assert.Error(t, err)
}

func TestMuscleAlignSurfacesRunnerError(t *testing.T) {
	wantErr := os.ErrInvalid
	m := Muscle{Dir: t.TempDir(), run: func(*exec.Cmd) error { return wantErr }}
	_, err := m.Align(context.Background(), []Record{
		{Name: "a", Sequence: "MKT"},
		{Name: "b", Sequence: "MKV"},
	})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "running"))
}
