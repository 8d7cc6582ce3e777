// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/BurntSushi/toml"

	"github.com/verte-zerg/hccdfs/internal/model"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Forest   ForestConfig    `toml:"forest"`
	Cohort   CohortConfig    `toml:"cohort"`
	Serve    ServeConfig     `toml:"serve"`
	Log      LogConfig       `toml:"log"`
	Variants []VariantConfig `toml:"variant"`
}

// ForestConfig maps model hyperparameters.
type ForestConfig struct {
	Trees           *int   `toml:"trees"`
	MaxDepth        *int   `toml:"max-depth"`
	MinSamplesSplit *int   `toml:"min-samples-split"`
	MinSamplesLeaf  *int   `toml:"min-samples-leaf"`
	MaxFeatures     *int   `toml:"max-features"`
	Bootstrap       *bool  `toml:"bootstrap"`
	Seed            *int64 `toml:"seed"`
	Workers         *int   `toml:"workers"`
}

// CohortConfig maps cohort source settings.
type CohortConfig struct {
	Dir    *string `toml:"dir"`
	FromDB *bool   `toml:"from-db"`
	DB     *string `toml:"db"`
}

// ServeConfig maps HTTP server settings.
type ServeConfig struct {
	Addr *string `toml:"addr"`
}

// LogConfig maps logger settings.
type LogConfig struct {
	Debug *bool   `toml:"debug"`
	File  *string `toml:"file"`
}

// VariantConfig declares an extra or replacement variant.
type VariantConfig struct {
	Name       string            `toml:"name"`
	Title      string            `toml:"title"`
	CohortFile string            `toml:"cohort-file"`
	Delimiter  string            `toml:"delimiter"`
	Covariates []CovariateConfig `toml:"covariate"`
}

// CovariateConfig declares one input field of a configured variant.
type CovariateConfig struct {
	Name    string   `toml:"name"`
	Label   string   `toml:"label"`
	Kind    string   `toml:"kind"`
	Min     float64  `toml:"min"`
	Max     *float64 `toml:"max"`
	Default float64  `toml:"default"`
	Integer bool     `toml:"integer"`
	Column  int      `toml:"column"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// ApplyForest overlays the configured hyperparameters onto p.
func (c ForestConfig) ApplyForest(p *model.ForestParams) {
	setIfPresent(&p.Trees, c.Trees)
	setIfPresent(&p.MaxDepth, c.MaxDepth)
	setIfPresent(&p.MinSamplesSplit, c.MinSamplesSplit)
	setIfPresent(&p.MinSamplesLeaf, c.MinSamplesLeaf)
	setIfPresent(&p.MaxFeatures, c.MaxFeatures)
	setIfPresent(&p.Bootstrap, c.Bootstrap)
	setIfPresent(&p.Seed, c.Seed)
	setIfPresent(&p.Workers, c.Workers)
}

func setIfPresent[T any](target *T, value *T) {
	if value != nil {
		*target = *value
	}
}

// ModelVariants converts the configured variant tables.
func (c FileConfig) ModelVariants() ([]model.Variant, error) {
	out := make([]model.Variant, 0, len(c.Variants))
	for i, vc := range c.Variants {
		v, err := vc.Variant()
		if err != nil {
			return nil, fmt.Errorf("invalid variant #%d: %w", i+1, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Variant converts the table into a model variant.
func (vc VariantConfig) Variant() (model.Variant, error) {
	name := strings.TrimSpace(strings.ToLower(vc.Name))
	if name == "" {
		return model.Variant{}, fmt.Errorf("name is required")
	}
	if vc.CohortFile == "" {
		return model.Variant{}, fmt.Errorf("variant %s: cohort-file is required", name)
	}
	if len(vc.Covariates) == 0 {
		return model.Variant{}, fmt.Errorf("variant %s: at least one covariate is required", name)
	}
	delimiter := ','
	if vc.Delimiter != "" {
		if utf8.RuneCountInString(vc.Delimiter) != 1 {
			return model.Variant{}, fmt.Errorf("variant %s: delimiter must be a single character", name)
		}
		delimiter, _ = utf8.DecodeRuneInString(vc.Delimiter)
	}
	title := vc.Title
	if title == "" {
		title = name
	}
	v := model.Variant{Name: name, Title: title, CohortFile: vc.CohortFile, Delimiter: delimiter}
	seen := map[string]struct{}{}
	for _, cc := range vc.Covariates {
		if cc.Name == "" {
			return model.Variant{}, fmt.Errorf("variant %s: covariate name is required", name)
		}
		if _, ok := seen[cc.Name]; ok {
			return model.Variant{}, fmt.Errorf("variant %s: duplicate covariate %q", name, cc.Name)
		}
		seen[cc.Name] = struct{}{}
		cov, err := cc.covariate()
		if err != nil {
			return model.Variant{}, fmt.Errorf("variant %s: %w", name, err)
		}
		v.Covariates = append(v.Covariates, cov)
	}
	return v, nil
}

func (cc CovariateConfig) covariate() (model.Covariate, error) {
	label := cc.Label
	if label == "" {
		label = cc.Name
	}
	cov := model.Covariate{
		Name:    cc.Name,
		Label:   label,
		Min:     cc.Min,
		Default: cc.Default,
		Integer: cc.Integer,
		Column:  cc.Column,
	}
	if cc.Max != nil {
		cov.Max = *cc.Max
		cov.HasMax = true
	}
	switch strings.ToLower(cc.Kind) {
	case "", "continuous":
		cov.Kind = model.Continuous
	case "binary":
		cov.Kind = model.Binary
		cov.Min, cov.Max, cov.HasMax, cov.Integer = 0, 1, true, true
	case "ordinal":
		cov.Kind = model.Ordinal
		cov.Integer = true
		if !cov.HasMax {
			return model.Covariate{}, fmt.Errorf("ordinal covariate %q needs max", cc.Name)
		}
	default:
		return model.Covariate{}, fmt.Errorf("covariate %q has unknown kind %q", cc.Name, cc.Kind)
	}
	if cov.HasMax && cov.Max < cov.Min {
		return model.Covariate{}, fmt.Errorf("covariate %q has max below min", cc.Name)
	}
	if cov.Column != 0 && cov.Column != 1 {
		return model.Covariate{}, fmt.Errorf("covariate %q column must be 0 or 1", cc.Name)
	}
	return cov, nil
}
