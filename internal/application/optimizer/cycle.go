package optimizer

import (
	"math"

	"github.com/rs/zerolog/log"

	"arbscan/internal/application/port"
	"arbscan/internal/domain/model"
)

// extractCycle turns the selected edges into an ordered closed walk. The flow
// constraints allow several disjoint cycles in one optimum, so the selection
// is decomposed into connected components and only the most profitable closed
// component is reported. A component that does not close indicates a solver
// or construction bug and is logged at error level and dropped.
func (o *Optimizer) extractCycle(sol *port.Solution) *model.Cycle {
	next := make(map[int]int)
	weight := make(map[int]float64) // keyed by source node; ≤1 out-edge per node
	for v, val := range sol.Values {
		if val < 0.5 {
			continue
		}
		from, to := o.edges[v][0], o.edges[v][1]
		if _, dup := next[from]; dup {
			log.Error().Str("node", o.nodes[from].String()).Msg("duplicate out-edge in solution")
			return nil
		}
		next[from] = to
		weight[from] = o.weights[v]
	}
	if len(next) == 0 {
		return nil
	}

	visited := make(map[int]bool)
	var bestWalk []int
	bestSum := math.Inf(-1)
	for start := range next {
		if visited[start] {
			continue
		}
		walk := []int{start}
		sum := 0.0
		closed := false
		for at := start; ; {
			visited[at] = true
			to, ok := next[at]
			if !ok {
				break
			}
			sum += weight[at]
			if to == start {
				closed = true
				break
			}
			if visited[to] {
				break
			}
			walk = append(walk, to)
			at = to
		}
		if !closed {
			log.Error().Str("start", o.nodes[start].String()).Msg("open chain in solution, dropping component")
			continue
		}
		if sum > bestSum {
			bestSum = sum
			bestWalk = walk
		}
	}
	if bestWalk == nil {
		return nil
	}

	o.rotateToPreferred(bestWalk)

	hops := make([]model.Hop, 0, len(bestWalk))
	for i, from := range bestWalk {
		to := bestWalk[(i+1)%len(bestWalk)]
		hops = append(hops, model.Hop{
			From: o.nodes[from],
			To:   o.nodes[to],
			Rate: o.rate[from][to],
			Fee:  o.commission[from][to],
		})
	}
	return &model.Cycle{
		Hops:         hops,
		ProfitFactor: math.Exp(bestSum) - 1,
	}
}

// rotateToPreferred starts the walk at the highest-balance preferred node on
// it, when one exists; otherwise the walk keeps its arbitrary start.
func (o *Optimizer) rotateToPreferred(walk []int) {
	for _, want := range o.preferred {
		for i, node := range walk {
			if node == want {
				rotate(walk, i)
				return
			}
		}
	}
}

func rotate(walk []int, at int) {
	if at == 0 {
		return
	}
	tmp := append([]int(nil), walk[at:]...)
	tmp = append(tmp, walk[:at]...)
	copy(walk, tmp)
}
