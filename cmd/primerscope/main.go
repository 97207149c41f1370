// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// primerscope locates a configured set of degenerate primer pairs
// within a specimen store and, optionally, resolves the reading frame
// of the region each pair brackets.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"regexp"

	"github.com/sirupsen/logrus"

	"github.com/kortschak/primerscope/align"
	"github.com/kortschak/primerscope/config"
	"github.com/kortschak/primerscope/decide"
	"github.com/kortschak/primerscope/hmm"
	"github.com/kortschak/primerscope/iupac"
	"github.com/kortschak/primerscope/model"
	"github.com/kortschak/primerscope/msa"
	"github.com/kortschak/primerscope/store"
	_ "github.com/kortschak/primerscope/store/fastastore"
	_ "github.com/kortschak/primerscope/store/sqlstore"
	"github.com/kortschak/primerscope/worker"
)

func main() {
	configPath := flag.String("config", "", "specify configuration file path (required)")
	inputPath := flag.String("input", "", "override configured input store path")
	tableName := flag.String("table-name", "", "override configured specimen table name")
	findPrimers := flag.Bool("find-primers", false, "run the primer pass")
	findOrfs := flag.Bool("find-orfs", false, "run the ORF pass")
	logPath := flag.String("log", "", "override configured log file path")
	logLevel := flag.Int("log-level", -1, "override configured log level")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), `Usage of %[1]s:
  $ %[1]s -config <config.yaml> [-find-primers] [-find-orfs]

Options:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *configPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	if *inputPath != "" {
		cfg.Paths.InputFile = *inputPath
	}
	if *tableName != "" {
		cfg.Database.InputTableName = *tableName
	}
	if *logPath != "" {
		cfg.Paths.LogFile = *logPath
	}
	if *logLevel >= 0 {
		cfg.Logging.Level = *logLevel
	}

	// -find-primers/-find-orfs override cfg.Features.EnablePrimerFinder/
	// EnableOrfFinder when given explicitly; otherwise the configured
	// toggles decide which passes run (spec §6).
	explicit := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	runPrimers, runOrfs := cfg.Features.EnablePrimerFinder, cfg.Features.EnableOrfFinder
	if explicit["find-primers"] {
		runPrimers = *findPrimers
	}
	if explicit["find-orfs"] {
		runOrfs = *findOrfs
	}
	// Neither pass selected by flag or config means run the primer pass.
	if !runPrimers && !runOrfs {
		runPrimers = true
	}

	logger := newLogger(cfg)
	defer closeLogOutput(logger)

	st, err := store.Open(cfg.Paths.InputFile, store.Config{
		TableName:        cfg.Database.InputTableName,
		IDColumn:         cfg.Database.IDColumnName,
		SequenceColumn:   cfg.Database.SequenceColumnName,
		BatchSize:        cfg.Database.BatchSize,
		LowerSampleBound: cfg.Algorithm.OrfMatchingLowerThreshold,
	})
	if err != nil {
		logger.Fatal(err)
	}
	defer st.Close()

	aligner := align.New(align.Config{
		GapPenalty:        cfg.Algorithm.GapPenalty,
		TripletGapPenalty: cfg.Algorithm.TripletGapPenalty,
		EndOfReadBonus:    cfg.Algorithm.EndOfReadBonus,
	})

	ctx := context.Background()
	for i, qp := range cfg.QueryParameters {
		sq, err := qp.ToSearchQuery()
		if err != nil {
			logger.WithError(err).Errorf("query_parameters[%d]: invalid configuration, skipping query", i)
			continue
		}

		qlog := logger.WithFields(logrus.Fields{
			"query":          i,
			"forward_primer": sq.ForwardPrimer,
			"reverse_primer": sq.ReversePrimer,
		})

		if runPrimers {
			if err := runPrimerPass(ctx, cfg, &sq, aligner, st, logger); err != nil {
				qlog.WithError(err).Error("primer pass failed for query, continuing to next query")
				continue
			}
		}

		if runOrfs {
			if err := runOrfPass(ctx, cfg, &sq, st, logger); err != nil {
				qlog.WithError(err).Error("ORF pass failed for query, continuing to next query")
				continue
			}
		}
	}
}

// runPrimerPass drives C4 over C3 for one query (spec §4.8).
func runPrimerPass(ctx context.Context, cfg *config.Config, sq *model.SearchQuery, aligner *align.Aligner, st store.Store, logger *logrus.Logger) error {
	fwdRE := compileRegex(sq.ForwardPrimer, logger)
	revRE := compileRegex(sq.ReversePrimer, logger)

	cur, err := st.IterSequences(ctx, sq.ForwardPrimer, sq.ReversePrimer, cfg.Features.Override)
	if err != nil {
		return fmt.Errorf("primerscope: opening sequence cursor: %w", err)
	}
	defer cur.Close()

	driver := worker.Driver{
		NumWorkers: cfg.Parallelization.NumThreads,
		ChunkSize:  cfg.Parallelization.ChunkSize,
		BatchSize:  cfg.Database.BatchSize,
		Logger:     logger,
	}
	return driver.Run(ctx, sq, fwdRE, revRE, aligner, cfg.Algorithm.SearchArea, cur, st)
}

// runOrfPass drives C7 for one query (spec §4.8): it materialises the
// transient taxonomic group and climbs it to resolution, then merges
// the result back into the canonical table.
func runOrfPass(ctx context.Context, cfg *config.Config, sq *model.SearchQuery, st store.Store, logger *logrus.Logger) error {
	if err := st.BuildTaxonomicGroup(ctx, sq, cfg.Features.Override); err != nil {
		return fmt.Errorf("primerscope: building taxonomic group: %w", err)
	}
	defer func() {
		if err := st.DropGroup(ctx); err != nil {
			logger.WithError(err).Warn("primerscope: dropping transient taxonomic group")
		}
	}()

	decider := &decide.Decider{
		Store:            st,
		Aligner:          msa.Muscle{Cmd: cfg.Paths.Muscle},
		Builder:          hmm.PSSMBuilder{},
		Logger:           logger,
		TranslationTable: sq.TranslationTable,
		LowerThreshold:   cfg.Algorithm.OrfMatchingLowerThreshold,
		UpperThreshold:   cfg.Algorithm.OrfMatchingUpperThreshold,
		EValueThreshold:  cfg.Algorithm.EValue,
		Seed:             1,
	}
	if err := decider.Solve(ctx); err != nil {
		return fmt.Errorf("primerscope: resolving ORFs: %w", err)
	}

	if err := st.FlushGroupToCanonical(ctx); err != nil {
		return fmt.Errorf("primerscope: flushing taxonomic group to canonical table: %w", err)
	}
	return nil
}

// compileRegex compiles primer's IUPAC-expanded pattern, logging and
// falling back to nil (which locate.Locate treats as "regex fast path
// unavailable") on the unexpected case of an invalid expansion.
func compileRegex(primer string, logger *logrus.Logger) *regexp.Regexp {
	pattern := iupac.CompileRegex(primer)
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		logger.WithError(err).WithField("primer", primer).Warn("primerscope: failed to compile primer regex, regex fast path disabled")
		return nil
	}
	return re
}

// newLogger builds a logrus.Logger writing to cfg.Paths.LogFile at
// cfg.Logging.Level, falling back to stderr on an unopenable log file.
func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(levelFor(cfg.Logging.Level))

	if cfg.Paths.LogFile == "" {
		return logger
	}
	f, err := os.OpenFile(cfg.Paths.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.WithError(err).Warn("primerscope: could not open log file, logging to stderr")
		return logger
	}
	logger.SetOutput(f)
	return logger
}

// closeLogOutput closes logger's output file, if it has one.
func closeLogOutput(logger *logrus.Logger) {
	if c, ok := logger.Out.(io.Closer); ok {
		c.Close()
	}
}

// levelFor maps the configured integer log level (spec §6
// "logging.level — integer log level") onto logrus's level scale,
// clamped to its valid range.
func levelFor(level int) logrus.Level {
	switch {
	case level <= int(logrus.PanicLevel):
		return logrus.PanicLevel
	case level >= int(logrus.TraceLevel):
		return logrus.TraceLevel
	default:
		return logrus.Level(level)
	}
}
