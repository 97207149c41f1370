// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads and validates primerscope's YAML configuration
// (spec §6), with environment variable overrides applied before
// validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kortschak/primerscope/model"
)

// envPrefix is stripped from any environment variable considered an
// override; the remainder, lower-cased and split on "__", is the
// section/key path into the configuration (spec §6 "Environment").
const envPrefix = "PRIMER_FINDER_"

// Paths holds the filesystem locations primerscope depends on.
type Paths struct {
	Muscle    string `yaml:"muscle"`
	InputFile string `yaml:"input_file"`
	LogFile   string `yaml:"log_file"`
}

// Database describes the specimen table schema and the Store's
// pagination/flush granularity.
type Database struct {
	InputTableName     string `yaml:"input_table_name"`
	IDColumnName       string `yaml:"id_column_name"`
	SequenceColumnName string `yaml:"sequence_column_name"`
	BatchSize          int    `yaml:"database_batch_size"`
}

// Logging holds the configured log verbosity.
type Logging struct {
	Level int `yaml:"level"`
}

// Features toggles the primer and ORF passes and override mode.
type Features struct {
	Override           bool `yaml:"override"`
	EnablePrimerFinder bool `yaml:"enable_primer_finder"`
	EnableOrfFinder    bool `yaml:"enable_orf_finder"`
}

// Algorithm holds the tunables of the aligner (C2) and the ORF decider
// (C7).
type Algorithm struct {
	SearchArea                float64 `yaml:"search_area"`
	GapPenalty                int     `yaml:"gap_penalty"`
	TripletGapPenalty         int     `yaml:"triplet_gap_penalty"`
	EndOfReadBonus            int     `yaml:"end_of_read_bonus"`
	OrfMatchingLowerThreshold int     `yaml:"orf_matching_lower_threshold"`
	OrfMatchingUpperThreshold int     `yaml:"orf_matching_upper_threshold"`
	EValue                    float64 `yaml:"e_value"`
}

// Parallelization holds the worker pool tunables of C4.
type Parallelization struct {
	NumThreads int `yaml:"num_threads"`
	ChunkSize  int `yaml:"chunk_size"`
}

// QueryParameter is one configured primer search (spec §6
// "query_parameters[]").
type QueryParameter struct {
	ForwardPrimer           string  `yaml:"forward_primer"`
	ReversePrimer           string  `yaml:"reverse_primer"`
	Distance                int     `yaml:"distance"`
	ForwardCutoff           float64 `yaml:"forward_cutoff"`
	ReverseCutoff           float64 `yaml:"reverse_cutoff"`
	ProteinTranslationTable int     `yaml:"protein_translation_table"`
	TaxonomicFilterRank     *string `yaml:"taxonomic_filter_rank"`
	TaxonomicFilterName     *string `yaml:"taxonomic_filter_name"`
}

// ToSearchQuery converts q into the domain model.SearchQuery consumed
// by locate/worker, compiling its taxonomic filter, if any.
func (q QueryParameter) ToSearchQuery() (model.SearchQuery, error) {
	sq := model.SearchQuery{
		ForwardPrimer:    q.ForwardPrimer,
		ReversePrimer:    q.ReversePrimer,
		ExpectedDistance: q.Distance,
		ForwardCutoff:    q.ForwardCutoff,
		ReverseCutoff:    q.ReverseCutoff,
		TranslationTable: q.ProteinTranslationTable,
	}
	if q.TaxonomicFilterRank == nil || q.TaxonomicFilterName == nil {
		return sq, nil
	}
	rank, ok := model.RankByName(strings.ToLower(*q.TaxonomicFilterRank))
	if !ok {
		return model.SearchQuery{}, fmt.Errorf("config: unknown taxonomic_filter_rank %q", *q.TaxonomicFilterRank)
	}
	sq.TaxonomicFilter = &model.TaxonomicFilter{Rank: rank, Value: *q.TaxonomicFilterName}
	return sq, nil
}

// Config is primerscope's complete, validated configuration.
type Config struct {
	Paths           Paths            `yaml:"paths"`
	Database        Database         `yaml:"database"`
	Logging         Logging          `yaml:"logging"`
	Features        Features         `yaml:"features"`
	Algorithm       Algorithm        `yaml:"algorithm"`
	Parallelization Parallelization  `yaml:"parallelization"`
	QueryParameters []QueryParameter `yaml:"query_parameters"`
}

// Load reads the YAML configuration at path, applies any
// PRIMER_FINDER_-prefixed environment overrides, and validates the
// result. Grounded on
// original_source/primer_finder/config/config_loader.py
// (ConfigLoader.__init__: load, override, validate, in that order).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if raw == nil {
		raw = make(map[string]interface{})
	}

	applyEnvOverrides(raw, os.Environ())

	// Re-encode the overridden map and decode it into the typed Config,
	// rather than walking reflect.Value by hand: yaml.v3 already knows
	// how to reconcile a map[string]interface{} (possibly holding
	// freshly-coerced bool/int/float/nil leaves) against tagged struct
	// fields, so there is no need to duplicate that logic.
	merged, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("config: re-encoding overridden configuration: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(merged, &cfg); err != nil {
		return nil, fmt.Errorf("config: decoding overridden configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate checks the required keys of spec §6, mirroring
// config_loader.py's _validate_config.
func (c *Config) validate() error {
	if c.Paths.Muscle == "" {
		return fmt.Errorf("config: missing required path: muscle")
	}
	if c.Paths.InputFile == "" {
		return fmt.Errorf("config: missing required path: input_file")
	}
	if c.Paths.LogFile == "" {
		return fmt.Errorf("config: missing required path: log_file")
	}
	if c.Database.InputTableName == "" {
		return fmt.Errorf("config: missing required database key: input_table_name")
	}
	if c.Database.IDColumnName == "" {
		return fmt.Errorf("config: missing required database key: id_column_name")
	}
	if c.Database.SequenceColumnName == "" {
		return fmt.Errorf("config: missing required database key: sequence_column_name")
	}
	if c.Database.BatchSize <= 0 {
		return fmt.Errorf("config: database.database_batch_size must be positive, got %d", c.Database.BatchSize)
	}
	if c.Parallelization.NumThreads <= 0 {
		return fmt.Errorf("config: parallelization.num_threads must be positive, got %d", c.Parallelization.NumThreads)
	}
	if c.Parallelization.ChunkSize <= 0 {
		return fmt.Errorf("config: parallelization.chunk_size must be positive, got %d", c.Parallelization.ChunkSize)
	}
	if len(c.QueryParameters) == 0 {
		return fmt.Errorf("config: query_parameters must contain at least one entry")
	}
	for i, q := range c.QueryParameters {
		if q.ForwardPrimer == "" {
			return fmt.Errorf("config: query_parameters[%d]: missing forward_primer", i)
		}
		if q.ReversePrimer == "" {
			return fmt.Errorf("config: query_parameters[%d]: missing reverse_primer", i)
		}
		if (q.TaxonomicFilterRank == nil) != (q.TaxonomicFilterName == nil) {
			return fmt.Errorf("config: query_parameters[%d]: taxonomic_filter_rank and taxonomic_filter_name must both be set or both be null", i)
		}
	}
	return nil
}

// applyEnvOverrides mutates raw in place, setting one nested path per
// PRIMER_FINDER_-prefixed environment variable in environ (spec §6
// "Environment"; original_source's _override_from_env).
func applyEnvOverrides(raw map[string]interface{}, environ []string) {
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		path := strings.Split(strings.ToLower(strings.TrimPrefix(key, envPrefix)), "__")
		setNested(raw, path, coerce(value))
	}
}

// setNested walks path into m, creating intermediate maps as needed,
// and sets the final key to value.
func setNested(m map[string]interface{}, path []string, value interface{}) {
	if len(path) == 0 {
		return
	}
	if len(path) == 1 {
		m[path[0]] = value
		return
	}
	child, ok := m[path[0]].(map[string]interface{})
	if !ok {
		child = make(map[string]interface{})
		m[path[0]] = child
	}
	setNested(child, path[1:], value)
}

// coerce converts an environment variable's string value to bool, nil,
// int, or float64 when syntactically unambiguous, else leaves it a
// string (spec §6; original_source's type-coercion cascade).
func coerce(v string) interface{} {
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	case "null", "none":
		return nil
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}
