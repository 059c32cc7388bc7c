// Package pipeline implements the build-time pipeline graph of
// spec.md 4.C6: given the set of cyclers a scheduler will run, it wires
// the producer/consumer edges implied by each module's declared inputs
// and outputs, detects cycles, and emits a topologically sorted Plan. The
// graph is built once, before any cycler runs; there is no code
// generation — the Plan is an ordinary Go value the runtime walks.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/fieldcycler/runtime/internal/module"
)

// Node is one cycler instance's contribution to the graph: the cycler
// name other modules address it by in accessor paths (its first path
// segment, e.g. "Vision"), the running instance name, and the module
// whose contract declares its inputs/outputs/parameters.
type Node struct {
	CyclerName string
	Instance   string
	Module     module.Module
}

// Build validates every node's contract, derives producer -> consumer
// edges from matching input/output path roots, and returns a Plan with a
// topological execution order. It returns an error if any module's
// contract is invalid or the resulting graph contains a cycle.
func Build(nodes []Node) (*Plan, error) {
	byCycler := make(map[string][]int, len(nodes))
	for i, n := range nodes {
		if err := n.Module.Contract().Validate(); err != nil {
			return nil, fmt.Errorf("pipeline: node %d (%s/%s): %w", i, n.CyclerName, n.Instance, err)
		}
		byCycler[n.CyclerName] = append(byCycler[n.CyclerName], i)
	}

	adjacency := make([][]int, len(nodes)) // adjacency[producer] = consumers
	indegree := make([]int, len(nodes))
	seenEdge := make(map[[2]int]bool)

	for consumer, n := range nodes {
		for _, in := range n.Module.Contract().Inputs {
			root := rootSegment(in)
			if root == "" {
				continue
			}
			producers, ok := byCycler[root]
			if !ok {
				continue // reads from a cycler outside this plan (e.g. external source)
			}
			for _, producer := range producers {
				if producer == consumer {
					continue // a module never depends on its own output
				}
				key := [2]int{producer, consumer}
				if seenEdge[key] {
					continue
				}
				seenEdge[key] = true
				adjacency[producer] = append(adjacency[producer], consumer)
				indegree[consumer]++
			}
		}
	}

	order, err := topologicalSort(adjacency, indegree)
	if err != nil {
		return nil, err
	}
	return &Plan{Nodes: nodes, adjacency: adjacency, Order: order}, nil
}

func rootSegment(f module.FieldSpec) string {
	segs := f.Path.Segments
	if len(segs) == 0 {
		return ""
	}
	return segs[0].Name
}

func topologicalSort(adjacency [][]int, indegree []int) ([]int, error) {
	n := len(adjacency)
	queue := make([]int, 0, n)
	for i, d := range indegree {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	order := make([]int, 0, n)
	remaining := append([]int(nil), indegree...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		for _, next := range adjacency[cur] {
			remaining[next]--
			if remaining[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(order) != n {
		return nil, fmt.Errorf("pipeline: cycle detected among: %s", describeCycleRemainder(remaining))
	}
	return order, nil
}

func describeCycleRemainder(remaining []int) string {
	var stuck []string
	for i, d := range remaining {
		if d > 0 {
			stuck = append(stuck, fmt.Sprintf("node %d", i))
		}
	}
	return strings.Join(stuck, ", ")
}
