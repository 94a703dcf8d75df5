package cycles

import (
	"sort"

	"gonum.org/v1/gonum/graph"
)

// FindCycles returns the node IDs of every dependency cycle in g, each sorted ascending.
// Self loops are not reported; callers reject them before building g.
func FindCycles(g graph.Directed) [][]int64 {
	sccs := NewTarjanSCC(g).FindSCCs()

	for _, scc := range sccs {
		sort.Slice(scc, func(i, j int) bool { return scc[i] < scc[j] })
	}
	sort.Slice(sccs, func(i, j int) bool { return sccs[i][0] < sccs[j][0] })

	return sccs
}
