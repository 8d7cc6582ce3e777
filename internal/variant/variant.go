// Package variant declares the covariate panels and builds input records.
package variant

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/verte-zerg/hccdfs/internal/model"
)

// Built-in variant names.
const (
	PostOp    = "postop"
	PrePostOp = "prepostop"
)

var (
	// ErrUnknownVariant is returned when a variant name is not registered.
	ErrUnknownVariant = errors.New("unknown variant")
	// ErrUnknownCovariate is returned when a value targets a field outside the panel.
	ErrUnknownCovariate = errors.New("unknown covariate")
	// ErrInvalidValue is returned for values that are not numbers.
	ErrInvalidValue = errors.New("invalid covariate value")
)

func binary(name, label string, column int) model.Covariate {
	return model.Covariate{Name: name, Label: label, Kind: model.Binary, Min: 0, Max: 1, HasMax: true, Integer: true, Column: column}
}

func ordinal(name, label string, maxValue float64, column int) model.Covariate {
	return model.Covariate{Name: name, Label: label, Kind: model.Ordinal, Min: 0, Max: maxValue, HasMax: true, Integer: true, Column: column}
}

// Order matches the cohort column selection order of the original panel.
func postOpVariant() model.Variant {
	return model.Variant{
		Name:       PostOp,
		Title:      "Disease-free survival prediction after liver resection for hepatocellular carcinoma",
		CohortFile: "hcc_dataset.csv",
		Delimiter:  ',',
		Covariates: []model.Covariate{
			binary("Satellite_nodules", "Satellite nodules", 0),
			{Name: "Largest_nodule_diameter", Label: "Size of the largest nodule in mm", Kind: model.Continuous, Min: 1, Default: 10, Integer: true, Column: 0},
			binary("VETC_subtype", "VETC subtype", 0),
			binary("Microvascular_invasion", "Microvascular invasion", 1),
			ordinal("BCLC_before_intervention", "BCLC before surgery (0, A=1, B=2, C=3)", 3, 0),
			{Name: "Preop_AFP", Label: "Preoperative AFP level (ng/ml)", Kind: model.Continuous, Min: 0, Default: 1, Column: 1},
			binary("Macrotrabecular_massive_subtype", "Macrotrabecular massive subtype", 1),
			ordinal("Edmondson_Steiner_Grade", "Edmondson steiner grade (0=I, II=1, III=2, IV=3, V=4)", 4, 0),
			ordinal("Number_of_tumors_on_the_specimen", "Number of tumors on the specimen", 4, 1),
			binary("Gender", "Gender (F=0, M=1)", 1),
		},
	}
}

func prePostOpVariant() model.Variant {
	return model.Variant{
		Name:       PrePostOp,
		Title:      "Disease-free survival prediction from pre- and post-operative findings in hepatocellular carcinoma",
		CohortFile: "hcc_pre_postoperative.csv",
		Delimiter:  ';',
		Covariates: []model.Covariate{
			{Name: "Largest_nodule_diameter", Label: "Size of the largest nodule in mm", Kind: model.Continuous, Min: 1, Default: 10, Integer: true, Column: 0},
			{Name: "Preop_AFP", Label: "Preoperative AFP level (ng/ml)", Kind: model.Continuous, Min: 0, Default: 1, Column: 1},
			ordinal("BCLC_before_intervention", "BCLC before surgery (0, A=1, B=2, C=3)", 3, 0),
			binary("Gender", "Gender (F=0, M=1)", 1),
			binary("Cirrhosis", "Cirrhosis", 0),
			{Name: "Preop_albumin", Label: "Preoperative albumin (g/l)", Kind: model.Continuous, Min: 0, Default: 40, Column: 1},
			binary("Microvascular_invasion", "Microvascular invasion", 1),
			binary("Satellite_nodules", "Satellite nodules", 0),
			ordinal("Edmondson_Steiner_Grade", "Edmondson steiner grade (0=I, II=1, III=2, IV=3, V=4)", 4, 0),
		},
	}
}

// Registry holds the variants available to a process.
type Registry struct {
	variants map[string]model.Variant
}

// NewRegistry returns a registry with the built-in variants plus extra ones.
// An extra variant with a built-in name replaces it.
func NewRegistry(extra ...model.Variant) *Registry {
	r := &Registry{variants: map[string]model.Variant{}}
	for _, v := range []model.Variant{postOpVariant(), prePostOpVariant()} {
		r.variants[v.Name] = v
	}
	for _, v := range extra {
		r.variants[v.Name] = v
	}
	return r
}

// Lookup returns the variant registered under name.
func (r *Registry) Lookup(name string) (model.Variant, error) {
	v, ok := r.variants[strings.TrimSpace(strings.ToLower(name))]
	if !ok {
		return model.Variant{}, fmt.Errorf("%w %q (available: %s)", ErrUnknownVariant, name, strings.Join(r.Names(), ", "))
	}
	return v, nil
}

// Names lists registered variant names in sorted order.
func (r *Registry) Names() []string {
	names := lo.Keys(r.variants)
	sort.Strings(names)
	return names
}

// All returns every registered variant sorted by name.
func (r *Registry) All() []model.Variant {
	return lo.Map(r.Names(), func(name string, _ int) model.Variant {
		return r.variants[name]
	})
}

// Clamp applies the widget range of c to value.
func Clamp(c model.Covariate, value float64) float64 {
	if math.IsNaN(value) {
		return c.Default
	}
	if c.Integer {
		value = math.Round(value)
	}
	if value < c.Min {
		value = c.Min
	}
	if c.HasMax && value > c.Max {
		value = c.Max
	}
	return value
}

// Defaults returns the record holding every widget default.
func Defaults(v model.Variant) model.Record {
	values := lo.Map(v.Covariates, func(c model.Covariate, _ int) float64 {
		return Clamp(c, c.Default)
	})
	return model.Record{Names: v.Names(), Values: values}
}

// NewRecord builds a record from defaults overridden by values, clamping each field.
func NewRecord(v model.Variant, values map[string]float64) (model.Record, error) {
	known := lo.SliceToMap(v.Covariates, func(c model.Covariate) (string, struct{}) {
		return c.Name, struct{}{}
	})
	for name := range values {
		if _, ok := known[name]; !ok {
			return model.Record{}, fmt.Errorf("%w %q for variant %s", ErrUnknownCovariate, name, v.Name)
		}
	}
	rec := Defaults(v)
	for i, c := range v.Covariates {
		if value, ok := values[c.Name]; ok {
			rec.Values[i] = Clamp(c, value)
		}
	}
	return rec, nil
}

// ParseValue parses a widget string for c. Empty input yields the default.
func ParseValue(c model.Covariate, raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return c.Default, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w for %s: %q", ErrInvalidValue, c.Name, raw)
	}
	return value, nil
}

// ParseAssignments parses "Name=value" pairs into a value map.
func ParseAssignments(v model.Variant, pairs []string) (map[string]float64, error) {
	byName := lo.KeyBy(v.Covariates, func(c model.Covariate) string { return c.Name })
	out := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%w: expected Name=value, got %q", ErrInvalidValue, pair)
		}
		name = strings.TrimSpace(name)
		c, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w %q for variant %s", ErrUnknownCovariate, name, v.Name)
		}
		value, err := ParseValue(c, raw)
		if err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, nil
}

// FormatValue renders value the way the widget displays it.
func FormatValue(c model.Covariate, value float64) string {
	if c.Integer {
		return strconv.FormatInt(int64(math.Round(value)), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// RangeHint describes the widget range, e.g. "0/1", "0-4" or ">= 1".
func RangeHint(c model.Covariate) string {
	switch {
	case c.Kind == model.Binary:
		return "0/1"
	case c.HasMax:
		return fmt.Sprintf("%s-%s", FormatValue(c, c.Min), FormatValue(c, c.Max))
	default:
		return ">= " + FormatValue(c, c.Min)
	}
}
