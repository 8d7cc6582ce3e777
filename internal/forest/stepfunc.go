package forest

import "sort"

// StepFunction is a right-continuous step function over sorted X.
// Before X[0] it is 1; after the last point it keeps the last value.
type StepFunction struct {
	X []float64
	Y []float64
}

// At evaluates the function at t.
func (s StepFunction) At(t float64) float64 {
	i := sort.Search(len(s.X), func(i int) bool { return s.X[i] > t })
	if i == 0 {
		return 1
	}
	return s.Y[i-1]
}

// Sample evaluates the function at each point of ts.
func (s StepFunction) Sample(ts []float64) []float64 {
	out := make([]float64, len(ts))
	for i, t := range ts {
		out[i] = s.At(t)
	}
	return out
}

// uniqueEventTimes returns the sorted distinct times at which an event occurred.
func uniqueEventTimes(times []float64, events []bool) []float64 {
	set := make(map[float64]struct{})
	for i, t := range times {
		if events[i] {
			set[t] = struct{}{}
		}
	}
	out := make([]float64, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Float64s(out)
	return out
}

// kaplanMeier evaluates the product-limit estimator of the samples at grid.
func kaplanMeier(grid []float64, times []float64, events []bool, samples []int) []float64 {
	deaths := make([]float64, len(grid))
	// leaving[k] counts samples no longer at risk from grid[k] on.
	leaving := make([]float64, len(grid)+1)
	for _, idx := range samples {
		t := times[idx]
		p := atRiskUntil(grid, t)
		if events[idx] && p > 0 && grid[p-1] == t {
			deaths[p-1]++
		}
		leaving[p]++
	}

	out := make([]float64, len(grid))
	atRisk := float64(len(samples))
	surv := 1.0
	for k := range grid {
		atRisk -= leaving[k]
		if atRisk > 0 && deaths[k] > 0 {
			surv *= 1 - deaths[k]/atRisk
		}
		out[k] = surv
	}
	return out
}

// atRiskUntil returns the number of grid times <= t.
func atRiskUntil(grid []float64, t float64) int {
	return sort.Search(len(grid), func(i int) bool { return grid[i] > t })
}
