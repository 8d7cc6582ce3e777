package forest

import (
	"math/rand"

	"github.com/verte-zerg/hccdfs/internal/model"
)

type node struct {
	feature   int
	threshold float64
	left      int
	right     int
	// leaf holds the Kaplan-Meier survival at the forest event times; nil for split nodes.
	leaf []float64
}

type tree struct {
	nodes []node
}

type grower struct {
	data   *dataset
	params model.ForestParams
	rnd    *rand.Rand
	t      *tree
}

func growTree(d *dataset, params model.ForestParams, seed int64) *tree {
	g := &grower{
		data:   d,
		params: params,
		rnd:    rand.New(rand.NewSource(seed)),
		t:      &tree{},
	}
	n := len(d.time)
	samples := make([]int, n)
	if params.Bootstrap {
		for i := range samples {
			samples[i] = g.rnd.Intn(n)
		}
	} else {
		for i := range samples {
			samples[i] = i
		}
	}
	g.build(samples, 0)
	return g.t
}

func (g *grower) build(samples []int, depth int) int {
	id := len(g.t.nodes)
	g.t.nodes = append(g.t.nodes, node{})

	best, ok := g.findSplit(samples, depth)
	if !ok {
		g.t.nodes[id].leaf = kaplanMeier(g.data.grid, g.data.time, g.data.event, samples)
		return id
	}
	left := make([]int, 0, len(samples))
	right := make([]int, 0, len(samples))
	for _, idx := range samples {
		if g.data.x[idx][best.feature] <= best.threshold {
			left = append(left, idx)
		} else {
			right = append(right, idx)
		}
	}
	l := g.build(left, depth+1)
	r := g.build(right, depth+1)
	g.t.nodes[id] = node{feature: best.feature, threshold: best.threshold, left: l, right: r}
	return id
}

func (g *grower) findSplit(samples []int, depth int) (split, bool) {
	p := g.params
	if p.MaxDepth > 0 && depth >= p.MaxDepth {
		return split{}, false
	}
	if len(samples) < p.MinSamplesSplit || len(samples) < 2*p.MinSamplesLeaf {
		return split{}, false
	}
	hasEvent := false
	for _, idx := range samples {
		if g.data.event[idx] {
			hasEvent = true
			break
		}
	}
	if !hasEvent {
		return split{}, false
	}

	nt := newNodeTimes(g.data, samples)
	features := len(g.data.features)
	perm := g.rnd.Perm(features)
	best := split{score: -1}
	found := false
	visited := 0
	for _, f := range perm {
		if visited >= maxFeatures(p, features) {
			break
		}
		if isConstant(g.data, samples, f) {
			continue
		}
		visited++
		s, ok := bestSplitOnFeature(g.data, samples, nt, f, p.MinSamplesLeaf)
		if ok && s.score > best.score {
			best = s
			found = true
		}
	}
	return best, found
}

func (t *tree) predict(x []float64) []float64 {
	i := 0
	for {
		n := &t.nodes[i]
		if n.leaf != nil {
			return n.leaf
		}
		if x[n.feature] <= n.threshold {
			i = n.left
		} else {
			i = n.right
		}
	}
}

func (t *tree) leaves() int {
	count := 0
	for _, n := range t.nodes {
		if n.leaf != nil {
			count++
		}
	}
	return count
}
