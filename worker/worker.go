// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package worker drives the bounded worker pool that applies the
// primer-pair locator over batches read from a Store and flushes the
// results back, per spec §4.4.
package worker

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kortschak/primerscope/align"
	"github.com/kortschak/primerscope/decide"
	"github.com/kortschak/primerscope/locate"
	"github.com/kortschak/primerscope/model"
	"github.com/kortschak/primerscope/store"
)

// Driver holds the tunables of one primer-pass run: pool width, chunk
// size read from the cursor, and the flush threshold/backoff of §4.4.
type Driver struct {
	NumWorkers int
	ChunkSize  int
	BatchSize  int

	// FlushBackoff and MaxFlushAttempts bound retries of a flush the
	// Store reports as transiently busy (spec: "5s, up to 5 attempts
	// for the final flush"; applied uniformly here so no flush, final
	// or not, can retry unboundedly).
	FlushBackoff     time.Duration
	MaxFlushAttempts int

	Logger *logrus.Logger
}

// defaulted returns a copy of d with zero-valued fields replaced by the
// spec's defaults.
func (d Driver) defaulted() Driver {
	if d.NumWorkers <= 0 {
		d.NumWorkers = 1
	}
	if d.ChunkSize <= 0 {
		d.ChunkSize = 1
	}
	if d.BatchSize <= 0 {
		d.BatchSize = 1
	}
	if d.FlushBackoff <= 0 {
		d.FlushBackoff = 5 * time.Second
	}
	if d.MaxFlushAttempts <= 0 {
		d.MaxFlushAttempts = 5
	}
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	return d
}

// chunk is a contiguous slice of sequence records read from the cursor,
// processed by exactly one worker so that a specimen's read→locate→
// buffer lifecycle is never split across goroutines.
type chunk []store.SequenceRecord

// Run drives one query's primer pass: it reads cur in order, fans chunks
// out to d.NumWorkers workers, accumulates their results, and flushes
// batches of size d.BatchSize to st. It returns the first unrecoverable
// error encountered, after draining in-flight workers.
func (d Driver) Run(ctx context.Context, query *model.SearchQuery, forwardRE, reverseRE *regexp.Regexp, aligner *align.Aligner, searchAreaFraction float64, cur store.Cursor, st store.Store) error {
	d = d.defaulted()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := make(chan chunk)
	results := make(chan []model.PrimerPair)

	var readErr error
	go func() {
		defer close(chunks)
		readErr = d.readChunks(ctx, cur, chunks)
	}()

	done := make(chan struct{})
	for i := 0; i < d.NumWorkers; i++ {
		go func() {
			d.work(query, forwardRE, reverseRE, aligner, searchAreaFraction, chunks, results)
			done <- struct{}{}
		}()
	}

	go func() {
		completed := 0
		for completed < d.NumWorkers {
			<-done
			completed++
		}
		close(results)
	}()

	var buf []model.PrimerPair
	var flushErr error
	for batch := range results {
		buf = append(buf, batch...)
		if len(buf) < d.BatchSize {
			continue
		}
		decide.TrivialResolve(buf, query.TranslationTable)
		if err := d.flush(ctx, st, buf); err != nil {
			flushErr = err
			cancel()
			break
		}
		buf = buf[:0]
	}
	// Drain any results still in flight after a cancellation so worker
	// goroutines do not block forever sending to results.
	for range results {
	}

	if flushErr != nil {
		return flushErr
	}
	if readErr != nil {
		return readErr
	}
	if len(buf) > 0 {
		decide.TrivialResolve(buf, query.TranslationTable)
		if err := d.flush(ctx, st, buf); err != nil {
			return err
		}
	}
	return nil
}

// readChunks pulls records from cur and groups them into chunks of size
// d.ChunkSize, stopping early if ctx is cancelled.
func (d Driver) readChunks(ctx context.Context, cur store.Cursor, out chan<- chunk) error {
	var buf chunk
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		rec, ok, err := cur.Next(ctx)
		if err != nil {
			return fmt.Errorf("worker: reading sequences: %w", err)
		}
		if !ok {
			if len(buf) > 0 {
				select {
				case out <- buf:
				case <-ctx.Done():
				}
			}
			return nil
		}
		buf = append(buf, rec)
		if len(buf) >= d.ChunkSize {
			select {
			case out <- buf:
				buf = nil
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// work applies locate.Locate to every record of every chunk received
// from in, sending each chunk's results as one slice on out.
func (d Driver) work(query *model.SearchQuery, forwardRE, reverseRE *regexp.Regexp, aligner *align.Aligner, searchAreaFraction float64, in <-chan chunk, out chan<- []model.PrimerPair) {
	for c := range in {
		batch := make([]model.PrimerPair, 0, len(c))
		for _, rec := range c {
			pair, ok := d.processOne(query, forwardRE, reverseRE, aligner, searchAreaFraction, rec)
			if ok {
				batch = append(batch, pair)
			}
		}
		out <- batch
	}
}

// processOne locates one specimen's primer pair. A panic while locating
// is recovered and logged, and the specimen is then dropped in the same
// way as a result with both primers missing (spec §7 "per-sequence errors
// are isolated"); no placeholder record is written for it and the drop
// is not counted.
func (d Driver) processOne(query *model.SearchQuery, forwardRE, reverseRE *regexp.Regexp, aligner *align.Aligner, searchAreaFraction float64, rec store.SequenceRecord) (pair model.PrimerPair, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.Logger.WithFields(logrus.Fields{
				"specimen": rec.SpecimenID,
				"panic":    r,
			}).Error("worker: recovered from panic processing specimen")
			ok = false
		}
	}()

	res := locate.Locate(query, forwardRE, reverseRE, aligner, searchAreaFraction, locate.Request{
		SpecimenID:   rec.SpecimenID,
		Sequence:     rec.Sequence,
		PriorForward: rec.PriorForward,
		PriorReverse: rec.PriorReverse,
	})
	if res.Dropped() {
		return model.PrimerPair{}, false
	}

	matching := model.ComputeMatchingFlag(res.Forward, res.Reverse, query.ForwardCutoff, query.ReverseCutoff, float64(aligner.MatchValue))
	length := model.ComputeLengthFlag(res.Forward, res.Reverse, res.ExpectedDistance)

	pair = model.PrimerPair{
		ForwardMatchID:    model.MatchID(rec.SpecimenID, query.ForwardPrimer),
		ReverseMatchID:    model.MatchID(rec.SpecimenID, query.ReversePrimer),
		ForwardMatch:      res.Forward,
		ReverseMatch:      res.Reverse,
		SpecimenID:        rec.SpecimenID,
		InterPrimerRegion: res.InterPrimerRegion,
		OrfCandidates:     res.Candidates,
		MatchingFlag:      matching,
		LengthFlag:        length,
		// orf_index/orf_aa are mutated only by the ORF pass (spec
		// lifecycle); TrivialResolve performs the Phase A decision.
		OrfIndex: model.OrfUnresolved,
	}
	return pair, true
}

// flush writes batch to st, retrying on transient contention with a
// fixed backoff up to d.MaxFlushAttempts times.
func (d Driver) flush(ctx context.Context, st store.Store, batch []model.PrimerPair) error {
	if len(batch) == 0 {
		return nil
	}
	cp := make([]model.PrimerPair, len(batch))
	copy(cp, batch)

	for attempt := 1; ; attempt++ {
		ok, err := st.WritePairs(ctx, cp)
		if err != nil {
			return fmt.Errorf("worker: flushing %d pairs: %w", len(cp), err)
		}
		if ok {
			return nil
		}
		if attempt >= d.MaxFlushAttempts {
			return fmt.Errorf("worker: flush still busy after %d attempts", attempt)
		}
		d.Logger.WithField("attempt", attempt).Warn("worker: store busy, retrying flush")
		select {
		case <-time.After(d.FlushBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
