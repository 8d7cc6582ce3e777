package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/verte-zerg/hccdfs/internal/model"
)

// Env holds the HCCDFS_* overrides. They sit between the TOML file and flags.
type Env struct {
	Variant   string  `env:"HCCDFS_VARIANT"`
	CohortDir *string `env:"HCCDFS_COHORT_DIR"`
	FromDB    *bool   `env:"HCCDFS_FROM_DB"`
	DB        *string `env:"HCCDFS_DB"`
	Addr      *string `env:"HCCDFS_ADDR"`
	Debug     *bool   `env:"HCCDFS_DEBUG"`
	LogFile   *string `env:"HCCDFS_LOG_FILE"`
	Trees     *int    `env:"HCCDFS_TREES"`
	Seed      *int64  `env:"HCCDFS_SEED"`
	Workers   *int    `env:"HCCDFS_WORKERS"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadEnv reads the HCCDFS_* variables.
func LoadEnv() (Env, error) {
	var e Env
	if err := ParseEnv(&e); err != nil {
		return Env{}, err
	}
	return e, nil
}

// Merge overlays the environment onto the file config, returning the result.
func (e Env) Merge(fc FileConfig) FileConfig {
	out := fc
	override(&out.Cohort.Dir, e.CohortDir)
	override(&out.Cohort.FromDB, e.FromDB)
	override(&out.Cohort.DB, e.DB)
	override(&out.Serve.Addr, e.Addr)
	override(&out.Log.Debug, e.Debug)
	override(&out.Log.File, e.LogFile)
	override(&out.Forest.Trees, e.Trees)
	override(&out.Forest.Seed, e.Seed)
	override(&out.Forest.Workers, e.Workers)
	return out
}

func override[T any](target **T, value *T) {
	if value != nil {
		v := *value
		*target = &v
	}
}

// Load reads the TOML file at path and overlays the environment.
func Load(path string) (FileConfig, Env, error) {
	fc, err := LoadConfig(path)
	if err != nil {
		return FileConfig{}, Env{}, err
	}
	e, err := LoadEnv()
	if err != nil {
		return FileConfig{}, Env{}, fmt.Errorf("failed to load environment: %w", err)
	}
	return e.Merge(fc), e, nil
}

// ForestParams returns the defaults with the configured overrides applied.
func (c FileConfig) ForestParams() model.ForestParams {
	p := model.DefaultForestParams()
	c.Forest.ApplyForest(&p)
	return p
}
