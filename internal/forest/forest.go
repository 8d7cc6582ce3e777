// Package forest implements a random survival forest.
//
// Trees are grown on bootstrap samples with a log-rank split criterion; each
// leaf stores the Kaplan-Meier estimate of its samples evaluated at the
// forest-wide event times. The ensemble survival function is the mean of the
// leaf functions reached by a record.
package forest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/verte-zerg/hccdfs/internal/model"
)

var (
	// ErrFit is returned when a forest cannot be fitted on the given data.
	ErrFit = errors.New("failed to fit survival forest")
	// ErrFeatureMismatch is returned when a record does not match the fitted features.
	ErrFeatureMismatch = errors.New("record does not match fitted features")
)

// Dataset is the training input: a row-major feature matrix plus outcomes.
type Dataset struct {
	Features []string
	X        [][]float64
	Event    []bool
	Time     []float64
}

type dataset struct {
	features []string
	x        [][]float64
	event    []bool
	time     []float64
	timeRank []int
	grid     []float64
}

// Forest is a fitted random survival forest. It is safe for concurrent use.
type Forest struct {
	features []string
	grid     []float64
	trees    []*tree
	params   model.ForestParams
}

// Fit grows params.Trees survival trees. Per-tree seeds are drawn from
// params.Seed before fitting starts, so the result does not depend on Workers.
func Fit(ctx context.Context, ds Dataset, params model.ForestParams) (*Forest, error) {
	d, err := prepare(ds)
	if err != nil {
		return nil, err
	}
	if params.Trees <= 0 {
		return nil, fmt.Errorf("%w: trees must be > 0", ErrFit)
	}
	if params.MinSamplesLeaf < 1 {
		params.MinSamplesLeaf = 1
	}
	if params.MinSamplesSplit < 2 {
		params.MinSamplesSplit = 2
	}

	master := rand.New(rand.NewSource(params.Seed))
	seeds := make([]int64, params.Trees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	workers := params.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	trees := make([]*tree, params.Trees)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range trees {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			trees[i] = growTree(d, params, seeds[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Forest{features: d.features, grid: d.grid, trees: trees, params: params}, nil
}

func prepare(ds Dataset) (*dataset, error) {
	n := len(ds.Time)
	if n == 0 {
		return nil, fmt.Errorf("%w: empty cohort", ErrFit)
	}
	if len(ds.Event) != n || len(ds.X) != n {
		return nil, fmt.Errorf("%w: %d rows, %d events, %d times", ErrFit, len(ds.X), len(ds.Event), n)
	}
	if len(ds.Features) == 0 {
		return nil, fmt.Errorf("%w: no features", ErrFit)
	}
	for i, row := range ds.X {
		if len(row) != len(ds.Features) {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrFit, i, len(row), len(ds.Features))
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: row %d has non-finite value", ErrFit, i)
			}
		}
	}
	grid := uniqueEventTimes(ds.Time, ds.Event)
	if len(grid) == 0 {
		return nil, fmt.Errorf("%w: cohort has no events", ErrFit)
	}

	all := append([]float64(nil), ds.Time...)
	sort.Float64s(all)
	distinct := all[:0]
	for i, t := range all {
		if i == 0 || t != all[i-1] {
			distinct = append(distinct, t)
		}
	}
	ranks := make([]int, n)
	for i, t := range ds.Time {
		ranks[i] = sort.SearchFloat64s(distinct, t)
	}
	return &dataset{
		features: append([]string(nil), ds.Features...),
		x:        ds.X,
		event:    ds.Event,
		time:     ds.Time,
		timeRank: ranks,
		grid:     grid,
	}, nil
}

func maxFeatures(p model.ForestParams, n int) int {
	k := p.MaxFeatures
	if k <= 0 {
		k = int(math.Sqrt(float64(n)))
	}
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

// Features returns the fitted feature names in matrix order.
func (f *Forest) Features() []string {
	return append([]string(nil), f.features...)
}

// EventTimes returns the unique event times the survival functions are defined on.
func (f *Forest) EventTimes() []float64 {
	return append([]float64(nil), f.grid...)
}

// Trees returns the number of trees.
func (f *Forest) Trees() int {
	return len(f.trees)
}

// Leaves returns the total number of leaves across trees.
func (f *Forest) Leaves() int {
	total := 0
	for _, t := range f.trees {
		total += t.leaves()
	}
	return total
}

// Params returns the hyperparameters the forest was fitted with.
func (f *Forest) Params() model.ForestParams {
	return f.params
}

// PredictSurvival returns the ensemble survival function for x, ordered as Features.
func (f *Forest) PredictSurvival(x []float64) (StepFunction, error) {
	if len(x) != len(f.features) {
		return StepFunction{}, fmt.Errorf("%w: got %d values, want %d", ErrFeatureMismatch, len(x), len(f.features))
	}
	sum := make([]float64, len(f.grid))
	for _, t := range f.trees {
		leaf := t.predict(x)
		for k, v := range leaf {
			sum[k] += v
		}
	}
	n := float64(len(f.trees))
	for k := range sum {
		sum[k] /= n
	}
	return StepFunction{X: append([]float64(nil), f.grid...), Y: sum}, nil
}

// PredictRecord reorders named values into the fitted feature order and predicts.
func (f *Forest) PredictRecord(names []string, values []float64) (StepFunction, error) {
	if len(names) != len(values) {
		return StepFunction{}, fmt.Errorf("%w: %d names, %d values", ErrFeatureMismatch, len(names), len(values))
	}
	byName := make(map[string]float64, len(names))
	for i, name := range names {
		byName[name] = values[i]
	}
	x := make([]float64, len(f.features))
	for i, name := range f.features {
		v, ok := byName[name]
		if !ok {
			return StepFunction{}, fmt.Errorf("%w: missing %q", ErrFeatureMismatch, name)
		}
		x[i] = v
	}
	if len(byName) != len(f.features) {
		return StepFunction{}, fmt.Errorf("%w: record has %d fields, forest has %d", ErrFeatureMismatch, len(byName), len(f.features))
	}
	return f.PredictSurvival(x)
}
