package forest

import (
	"math"
	"sort"
)

type split struct {
	feature   int
	threshold float64
	score     float64
}

// nodeTimes holds the per-node risk-set layout shared by every candidate feature.
type nodeTimes struct {
	local  []int // local time index per position in samples
	count  []float64
	deaths []float64
	atRisk []float64
}

func newNodeTimes(d *dataset, samples []int) nodeTimes {
	ranks := make([]int, 0, len(samples))
	seen := make(map[int]struct{}, len(samples))
	for _, idx := range samples {
		r := d.timeRank[idx]
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		ranks = append(ranks, r)
	}
	sort.Ints(ranks)
	pos := make(map[int]int, len(ranks))
	for i, r := range ranks {
		pos[r] = i
	}

	nt := nodeTimes{
		local:  make([]int, len(samples)),
		count:  make([]float64, len(ranks)),
		deaths: make([]float64, len(ranks)),
		atRisk: make([]float64, len(ranks)),
	}
	for i, idx := range samples {
		k := pos[d.timeRank[idx]]
		nt.local[i] = k
		nt.count[k]++
		if d.event[idx] {
			nt.deaths[k]++
		}
	}
	var acc float64
	for k := len(ranks) - 1; k >= 0; k-- {
		acc += nt.count[k]
		nt.atRisk[k] = acc
	}
	return nt
}

// bestSplitOnFeature scans every threshold of feature f and returns the split
// with the largest absolute standardized log-rank statistic.
func bestSplitOnFeature(d *dataset, samples []int, nt nodeTimes, f, minLeaf int) (split, bool) {
	order := make([]int, len(samples))
	for i := range order {
		order[i] = i
	}
	x := func(i int) float64 { return d.x[samples[i]][f] }
	sort.SliceStable(order, func(a, b int) bool { return x(order[a]) < x(order[b]) })

	m := len(nt.count)
	countL := make([]float64, m)
	deathsL := make([]float64, m)

	best := split{feature: f, score: -1}
	found := false
	n := len(samples)
	for i := 0; i < n-1; i++ {
		pos := order[i]
		k := nt.local[pos]
		countL[k]++
		if d.event[samples[pos]] {
			deathsL[k]++
		}
		lo, hi := x(pos), x(order[i+1])
		if lo == hi {
			continue
		}
		nLeft := i + 1
		if nLeft < minLeaf || n-nLeft < minLeaf {
			continue
		}
		score, ok := logRankScore(nt, countL, deathsL)
		if !ok || score <= best.score {
			continue
		}
		threshold := lo + (hi-lo)/2
		if threshold >= hi {
			threshold = lo
		}
		best = split{feature: f, threshold: threshold, score: score}
		found = true
	}
	return best, found
}

func logRankScore(nt nodeTimes, countL, deathsL []float64) (float64, bool) {
	var num, variance, atRiskL float64
	for k := len(nt.count) - 1; k >= 0; k-- {
		atRiskL += countL[k]
		dk := nt.deaths[k]
		nk := nt.atRisk[k]
		if dk == 0 || nk == 0 {
			continue
		}
		frac := atRiskL / nk
		num += deathsL[k] - frac*dk
		if nk > 1 {
			variance += dk * frac * (1 - frac) * (nk - dk) / (nk - 1)
		}
	}
	if variance <= 0 {
		return 0, false
	}
	return math.Abs(num) / math.Sqrt(variance), true
}

func isConstant(d *dataset, samples []int, f int) bool {
	first := d.x[samples[0]][f]
	for _, idx := range samples[1:] {
		if d.x[idx][f] != first {
			return false
		}
	}
	return true
}
