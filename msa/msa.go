// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package msa invokes an external multiple-sequence-alignment tool,
// following the teacher's struct-tag-driven command building for BLAST
// (github.com/biogo/external) retargeted to the "align input output"
// MUSCLE contract the ORF decider depends on.
package msa

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"

	"github.com/biogo/external"
)

// Record is one named sequence, aligned or not.
type Record struct {
	Name     string
	Sequence string
}

// Aligner builds a multiple sequence alignment of seqs.
type Aligner interface {
	Align(ctx context.Context, seqs []Record) ([]Record, error)
}

// muscleArgs mirrors blast.Nucleic's buildarg convention, retargeted to
// MUSCLE's "-align <in> -output <out>" invocation.
type muscleArgs struct {
	Cmd string `buildarg:"{{if .}}{{.}}{{else}}muscle{{end}}"` // muscle

	Align  string `buildarg:"{{if .}}-align{{split}}{{.}}{{end}}"`  // -align <s>
	Output string `buildarg:"{{if .}}-output{{split}}{{.}}{{end}}"` // -output <s>

	// ExtraFlags will be passed through to muscle as flags.
	ExtraFlags string
}

func (a muscleArgs) BuildCommand() (*exec.Cmd, error) {
	cl := external.Must(external.Build(a))
	var extra []string
	if a.ExtraFlags != "" {
		extra = strings.Split(a.ExtraFlags, " ")
	}
	return exec.Command(cl[0], append(cl[1:], extra...)...), nil
}

// Muscle is the default Aligner, shelling out to the muscle binary once
// per Align call with a fresh pair of temporary files, per the spec's
// "temporary files used for MSA (tmp_in.*, tmp_out.*) are overwritten
// per invocation" note.
type Muscle struct {
	// Cmd is the muscle executable name or path; empty defaults to "muscle".
	Cmd string
	// Dir is the directory temporary alignment files are created in;
	// empty uses the default temp directory.
	Dir string
	// ExtraFlags is passed through to muscle without interpretation.
	ExtraFlags string

	// run executes cmd; nil defaults to (*exec.Cmd).Run. Tests
	// substitute a fake here to exercise Align without muscle installed.
	run func(*exec.Cmd) error
}

func (m Muscle) runner() func(*exec.Cmd) error {
	if m.run != nil {
		return m.run
	}
	return (*exec.Cmd).Run
}

// Align writes seqs to a fresh input file, invokes muscle to align them
// into a fresh output file, and reads the alignment back.
func (m Muscle) Align(ctx context.Context, seqs []Record) ([]Record, error) {
	if len(seqs) < 2 {
		return nil, fmt.Errorf("msa: need at least two sequences to align, got %d", len(seqs))
	}

	in, err := os.CreateTemp(m.Dir, "tmp_in.*.fasta")
	if err != nil {
		return nil, fmt.Errorf("msa: creating input file: %w", err)
	}
	inPath := in.Name()
	defer os.Remove(inPath)

	if err := writeFASTA(in, seqs); err != nil {
		in.Close()
		return nil, err
	}
	if err := in.Close(); err != nil {
		return nil, fmt.Errorf("msa: closing input file: %w", err)
	}

	outPath := inPath + ".out"
	defer os.Remove(outPath)

	args := muscleArgs{Cmd: m.Cmd, Align: inPath, Output: outPath, ExtraFlags: m.ExtraFlags}
	cmd, err := args.BuildCommand()
	if err != nil {
		return nil, fmt.Errorf("msa: building muscle command: %w", err)
	}
	cmd = exec.CommandContext(ctx, cmd.Path, cmd.Args[1:]...)

	if err := m.runner()(cmd); err != nil {
		return nil, fmt.Errorf("msa: running %s: %w", cmd.Path, err)
	}

	out, err := os.Open(outPath)
	if err != nil {
		return nil, fmt.Errorf("msa: opening alignment output: %w", err)
	}
	defer out.Close()
	return readFASTA(out)
}

// writeFASTA writes seqs in FASTA format. biogo's FASTA writer is not
// exercised anywhere in the retrieval pack (only its reader side is),
// so this keeps to plain text formatting rather than guessing at an
// unverified biogo Writer API; readFASTA below reads the alignment
// back through the teacher's biogo reader convention.
func writeFASTA(w *os.File, seqs []Record) error {
	bw := bufio.NewWriter(w)
	for _, s := range seqs {
		if _, err := fmt.Fprintf(bw, ">%s\n%s\n", s.Name, s.Sequence); err != nil {
			return fmt.Errorf("msa: writing fasta record %q: %w", s.Name, err)
		}
	}
	return bw.Flush()
}

// readFASTA reads an aligned protein FASTA file, following the
// teacher's seqio.NewScanner(fasta.NewReader(...)) convention.
func readFASTA(r *os.File) ([]Record, error) {
	sc := seqio.NewScanner(fasta.NewReader(r, linear.NewSeq("", nil, alphabet.Protein)))
	var recs []Record
	for sc.Next() {
		seq, ok := sc.Seq().(*linear.Seq)
		if !ok {
			continue
		}
		recs = append(recs, Record{Name: seq.ID, Sequence: seq.Seq.String()})
	}
	if err := sc.Error(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("msa: reading alignment: %w", err)
	}
	return recs, nil
}
