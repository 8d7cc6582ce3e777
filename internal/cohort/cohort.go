// Package cohort loads the historical training cohorts.
package cohort

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/verte-zerg/hccdfs/internal/model"
)

var (
	// ErrCohortUnavailable is returned when the cohort cannot be read at all.
	ErrCohortUnavailable = errors.New("cohort unavailable")
	// ErrCohortSchema is returned when the cohort is readable but malformed.
	ErrCohortSchema = errors.New("cohort schema invalid")
)

// Cohort is a column-major table of covariates plus the two outcome columns.
// A loaded cohort is never mutated.
type Cohort struct {
	Columns  []string
	Features map[string][]float64
	Event    []bool
	Time     []float64
}

// Loader reads the cohort of a variant restricted to the required columns.
// An empty required list keeps every covariate column.
type Loader interface {
	Load(ctx context.Context, v model.Variant, required []string) (Cohort, error)
	Describe() string
}

// Len returns the number of patients.
func (c Cohort) Len() int {
	return len(c.Time)
}

// Events returns the number of observed events.
func (c Cohort) Events() int {
	return lo.CountBy(c.Event, func(e bool) bool { return e })
}

// Select returns a copy restricted to names, in the given order.
func (c Cohort) Select(names []string) (Cohort, error) {
	out := Cohort{
		Columns:  append([]string(nil), names...),
		Features: make(map[string][]float64, len(names)),
		Event:    append([]bool(nil), c.Event...),
		Time:     append([]float64(nil), c.Time...),
	}
	for _, name := range names {
		col, ok := c.Features[name]
		if !ok {
			return Cohort{}, fmt.Errorf("%w: missing column %q", ErrCohortSchema, name)
		}
		out.Features[name] = append([]float64(nil), col...)
	}
	return out, nil
}

// Rows returns the row-major feature matrix for names.
func (c Cohort) Rows(names []string) ([][]float64, error) {
	cols := make([][]float64, len(names))
	for j, name := range names {
		col, ok := c.Features[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrCohortSchema, name)
		}
		cols[j] = col
	}
	rows := make([][]float64, c.Len())
	for i := range rows {
		row := make([]float64, len(names))
		for j := range names {
			row[j] = cols[j][i]
		}
		rows[i] = row
	}
	return rows, nil
}

func checkColumns(names []string) error {
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: column %q requested twice", ErrCohortSchema, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}
