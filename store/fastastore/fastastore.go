// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fastastore implements the flat-file Store back-end: specimen
// sequences and taxonomy are read once from a FASTA file, and located
// matches/pairs are persisted in a sidecar modernc.org/kv database next
// to it, following the teacher's fragment-scanning and
// transaction-batched kv usage.
package fastastore

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"modernc.org/kv"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"

	"github.com/kortschak/primerscope/model"
	"github.com/kortschak/primerscope/store"
)

func init() {
	store.RegisterFlatBackend(Open)
}

// Store is the flat-FASTA-plus-kv Store back-end. Specimen records are
// read once into memory (the teacher's batch tool is not built to
// stream genome-scale FASTA randomly either, see cmd/ins/fragment.go's
// split), since the Store contract here requires random access by
// specimen id and by taxon, not ordered genomic range scans.
type Store struct {
	cfg store.Config

	mu        sync.RWMutex
	specimens map[string]model.Specimen
	order     []string

	db *kv.DB

	group *taxonomicGroup
}

// Open reads path as a FASTA file and opens (creating if absent) a
// sidecar "<path>.kv" database for matches and pairs.
func Open(path string, cfg store.Config) (store.Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fastastore: opening %s: %w", path, err)
	}
	defer f.Close()

	specimens, order, err := readFasta(f)
	if err != nil {
		return nil, fmt.Errorf("fastastore: reading %s: %w", path, err)
	}

	dbPath := path + ".kv"
	opts := &kv.Options{}
	db, err := kv.Open(dbPath, opts)
	if err != nil {
		db, err = kv.Create(dbPath, opts)
		if err != nil {
			return nil, fmt.Errorf("fastastore: opening %s: %w", dbPath, err)
		}
	}

	return &Store{
		cfg:       cfg,
		specimens: specimens,
		order:     order,
		db:        db,
	}, nil
}

// readFasta reads every record of src, extracting taxonomy from the
// description as whitespace-separated "rank=value" fields (e.g.
// "kingdom=Animalia phylum=Arthropoda species=Apis_mellifera").
func readFasta(src io.Reader) (map[string]model.Specimen, []string, error) {
	specimens := make(map[string]model.Specimen)
	var order []string

	sc := seqio.NewScanner(fasta.NewReader(src, linear.NewSeq("", nil, alphabet.DNAredundant)))
	for sc.Next() {
		seq, ok := sc.Seq().(*linear.Seq)
		if !ok {
			continue
		}
		sp := model.Specimen{ID: seq.ID, Sequence: seq.Seq.String()}
		applyTaxonomyDescription(&sp, seq.Desc)
		if _, dup := specimens[sp.ID]; dup {
			return nil, nil, fmt.Errorf("non-unique specimen id: %q", sp.ID)
		}
		specimens[sp.ID] = sp
		order = append(order, sp.ID)
	}
	if err := sc.Error(); err != nil && err != io.EOF {
		return nil, nil, err
	}
	return specimens, order, nil
}

func applyTaxonomyDescription(sp *model.Specimen, desc string) {
	for _, field := range strings.Fields(desc) {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(k) {
		case "kingdom":
			sp.Kingdom = v
		case "phylum":
			sp.Phylum = v
		case "class":
			sp.Class = v
		case "order":
			sp.Order = v
		case "family":
			sp.Family = v
		case "subfamily":
			sp.Subfamily = v
		case "tribe":
			sp.Tribe = v
		case "genus":
			sp.Genus = v
		case "species":
			sp.Species = v
		}
	}
}
