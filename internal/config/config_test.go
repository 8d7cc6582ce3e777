package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/verte-zerg/hccdfs/internal/model"
)

const sampleConfig = `
[forest]
trees = 50
seed = 7

[cohort]
dir = "/srv/cohorts"

[serve]
addr = ":9000"

[[variant]]
name = "Mini"
title = "Minimal panel"
cohort-file = "mini.csv"
delimiter = ";"

  [[variant.covariate]]
  name = "Gender"
  kind = "binary"

  [[variant.covariate]]
  name = "Preop_AFP"
  label = "AFP"
  min = 0.0
  default = 1.0
  column = 1

  [[variant.covariate]]
  name = "Grade"
  kind = "ordinal"
  max = 4.0
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "none.toml"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if cfg.Forest.Trees != nil || len(cfg.Variants) != 0 {
		t.Fatalf("expected empty config, got %+v", cfg)
	}
	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestLoadConfigDecodes(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	params := cfg.ForestParams()
	want := model.DefaultForestParams()
	want.Trees = 50
	want.Seed = 7
	if params != want {
		t.Fatalf("unexpected params: %+v", params)
	}
	if cfg.Cohort.Dir == nil || *cfg.Cohort.Dir != "/srv/cohorts" {
		t.Fatalf("unexpected cohort dir: %v", cfg.Cohort.Dir)
	}
	if cfg.Serve.Addr == nil || *cfg.Serve.Addr != ":9000" {
		t.Fatalf("unexpected addr: %v", cfg.Serve.Addr)
	}

	variants, err := cfg.ModelVariants()
	if err != nil {
		t.Fatalf("variants: %v", err)
	}
	if len(variants) != 1 {
		t.Fatalf("expected 1 variant, got %d", len(variants))
	}
	v := variants[0]
	if v.Name != "mini" || v.Delimiter != ';' || len(v.Covariates) != 3 {
		t.Fatalf("unexpected variant: %+v", v)
	}
	gender := v.Covariates[0]
	if gender.Kind != model.Binary || !gender.HasMax || gender.Max != 1 || !gender.Integer {
		t.Fatalf("unexpected binary covariate: %+v", gender)
	}
	afp := v.Covariates[1]
	if afp.Label != "AFP" || afp.HasMax || afp.Column != 1 || afp.Default != 1 {
		t.Fatalf("unexpected continuous covariate: %+v", afp)
	}
	if grade := v.Covariates[2]; grade.Kind != model.Ordinal || grade.Max != 4 {
		t.Fatalf("unexpected ordinal covariate: %+v", grade)
	}
}

func TestVariantValidation(t *testing.T) {
	cases := map[string]VariantConfig{
		"no name":      {CohortFile: "a.csv", Covariates: []CovariateConfig{{Name: "A"}}},
		"no file":      {Name: "x", Covariates: []CovariateConfig{{Name: "A"}}},
		"no fields":    {Name: "x", CohortFile: "a.csv"},
		"delimiter":    {Name: "x", CohortFile: "a.csv", Delimiter: ";;", Covariates: []CovariateConfig{{Name: "A"}}},
		"duplicate":    {Name: "x", CohortFile: "a.csv", Covariates: []CovariateConfig{{Name: "A"}, {Name: "A"}}},
		"kind":         {Name: "x", CohortFile: "a.csv", Covariates: []CovariateConfig{{Name: "A", Kind: "text"}}},
		"ordinal max":  {Name: "x", CohortFile: "a.csv", Covariates: []CovariateConfig{{Name: "A", Kind: "ordinal"}}},
		"column range": {Name: "x", CohortFile: "a.csv", Covariates: []CovariateConfig{{Name: "A", Column: 2}}},
	}
	for name, vc := range cases {
		if _, err := vc.Variant(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	t.Setenv("HCCDFS_TREES", "12")
	t.Setenv("HCCDFS_ADDR", "127.0.0.1:8600")
	t.Setenv("HCCDFS_VARIANT", "prepostop")

	cfg, e, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.ForestParams().Trees; got != 12 {
		t.Fatalf("expected env trees 12, got %d", got)
	}
	if got := cfg.ForestParams().Seed; got != 7 {
		t.Fatalf("expected file seed 7, got %d", got)
	}
	if *cfg.Serve.Addr != "127.0.0.1:8600" {
		t.Fatalf("unexpected addr: %s", *cfg.Serve.Addr)
	}
	if *cfg.Cohort.Dir != "/srv/cohorts" {
		t.Fatalf("file value lost: %s", *cfg.Cohort.Dir)
	}
	if e.Variant != "prepostop" {
		t.Fatalf("unexpected env variant: %q", e.Variant)
	}
}

func TestEnvParseError(t *testing.T) {
	t.Setenv("HCCDFS_TREES", "many")
	_, err := LoadEnv()
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env error, got %v", err)
	}
}

func TestDefaultPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	t.Setenv("XDG_DATA_HOME", "/data")
	if got := DefaultConfigPath(); got != filepath.Join("/cfg", "hccdfs", "config.toml") {
		t.Fatalf("unexpected config path: %s", got)
	}
	if got := DefaultDBPath(); got != filepath.Join("/data", "hccdfs", "cohorts.db") {
		t.Fatalf("unexpected db path: %s", got)
	}
	if got := DefaultLogPath(); got != filepath.Join("/data", "hccdfs", "hccdfs.log") {
		t.Fatalf("unexpected log path: %s", got)
	}
}
