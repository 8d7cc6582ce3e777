// Package model defines shared data structures.
package model

// Outcome column names shared by every cohort file.
const (
	EventColumn = "DFS"
	TimeColumn  = "DFS_Delay"
)

// Horizon is the number of monthly points sampled from a survival function.
const Horizon = 60

// Kind describes how a covariate widget behaves.
type Kind int

const (
	// Continuous covariates accept any value at or above Min.
	Continuous Kind = iota
	// Binary covariates are 0/1 indicators.
	Binary
	// Ordinal covariates are small integer codes.
	Ordinal
)

func (k Kind) String() string {
	switch k {
	case Binary:
		return "binary"
	case Ordinal:
		return "ordinal"
	default:
		return "continuous"
	}
}

// Covariate declares one input field and its widget range.
type Covariate struct {
	Name    string
	Label   string
	Kind    Kind
	Min     float64
	Max     float64
	HasMax  bool
	Default float64
	Integer bool
	// Column is the form column (0 left, 1 right).
	Column int
}

// Variant is a deployable configuration: a covariate panel plus its cohort file.
type Variant struct {
	Name       string
	Title      string
	CohortFile string
	Delimiter  rune
	Covariates []Covariate
}

// Names returns the covariate names in record order.
func (v Variant) Names() []string {
	names := make([]string, len(v.Covariates))
	for i, c := range v.Covariates {
		names[i] = c.Name
	}
	return names
}

// Record is a single labeled covariate row.
type Record struct {
	Names  []string
	Values []float64
}

// Value returns the value for name.
func (r Record) Value(name string) (float64, bool) {
	for i, n := range r.Names {
		if n == name {
			return r.Values[i], true
		}
	}
	return 0, false
}

// ForestParams holds the random survival forest hyperparameters.
type ForestParams struct {
	Trees           int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	// MaxFeatures is the number of candidate features per split; 0 means sqrt(n).
	MaxFeatures int
	Bootstrap   bool
	Seed        int64
	// Workers bounds concurrent tree fits; 0 means GOMAXPROCS.
	Workers int
}

// DefaultForestParams mirrors the reference model configuration.
func DefaultForestParams() ForestParams {
	return ForestParams{
		Trees:           250,
		MaxDepth:        6,
		MinSamplesSplit: 6,
		MinSamplesLeaf:  3,
		Bootstrap:       true,
		Seed:            20,
	}
}

// Curve is a survival function sampled at integer months.
type Curve struct {
	Months   []int
	Survival []float64
}

// Len returns the number of sampled points.
func (c Curve) Len() int {
	return len(c.Months)
}
