package taskparse

import (
	"fmt"

	"github.com/user/memex/internal/enginerr"
	"github.com/user/memex/internal/types"
)

// Rank is one topological layer: tasks sharing a rank have no dependency
// edges between them and are eligible for concurrent execution (spec §4.4,
// §4.8 "Batch DAG").
type Rank []types.TaskID

// BuildRanks validates the dependency graph implied by specs and returns
// its topological ranks, in source order within each rank (spec §4.4: "Tie-
// break within a rank is by source order of the input"). Rejects the batch
// on an unknown dependency or any cycle.
func BuildRanks(specs []types.TaskSpec) ([]Rank, error) {
	index := make(map[types.TaskID]int, len(specs))
	for i, s := range specs {
		index[s.ID] = i
	}

	indeg := make([]int, len(specs))
	dependents := make([][]int, len(specs)) // edges: dependency -> dependent
	for i, s := range specs {
		for _, dep := range s.Dependencies {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("%w: task %q depends on unknown task %q", enginerr.ErrParseInput, s.ID, dep)
			}
			dependents[j] = append(dependents[j], i)
			indeg[i]++
		}
	}

	var ranks []Rank
	remaining := len(specs)
	done := make([]bool, len(specs))

	for remaining > 0 {
		var layer []int
		for i := 0; i < len(specs); i++ {
			if !done[i] && indeg[i] == 0 {
				layer = append(layer, i)
			}
		}
		if len(layer) == 0 {
			for i := 0; i < len(specs); i++ {
				if !done[i] {
					return nil, fmt.Errorf("%w: dependency cycle detected, task %q is part of it", enginerr.ErrParseInput, specs[i].ID)
				}
			}
		}

		rank := make(Rank, 0, len(layer))
		for _, i := range layer {
			rank = append(rank, specs[i].ID)
			done[i] = true
		}
		ranks = append(ranks, rank)
		remaining -= len(layer)

		for _, i := range layer {
			for _, j := range dependents[i] {
				indeg[j]--
			}
		}
	}

	return ranks, nil
}

// TopologicalOrder flattens BuildRanks' result into a single ordering
// (rank order, source order within a rank) — the contract described in
// spec §7 "DAG topological order".
func TopologicalOrder(specs []types.TaskSpec) ([]types.TaskID, error) {
	ranks, err := BuildRanks(specs)
	if err != nil {
		return nil, err
	}
	var order []types.TaskID
	for _, r := range ranks {
		order = append(order, r...)
	}
	return order, nil
}
