// Package depgraph levels the static tier dependency table into ordered
// groups. Every tier's dependencies land in strictly earlier groups; tiers
// sharing a group have no dependency relationship and may run concurrently.
package depgraph

import (
	"fmt"
	"sort"
	"strings"
)

// Groups computes Kahn's-algorithm leveling over the selected tiers.
// Dependencies on tiers outside the selection are ignored: the caller chose
// not to run them, so they cannot gate anything in this run. A cycle among
// selected tiers is a configuration error.
func Groups(tiers []string, deps map[string][]string) ([][]string, error) {
	selected := make(map[string]bool, len(tiers))
	for _, id := range tiers {
		selected[id] = true
	}

	indegree := make(map[string]int, len(tiers))
	dependents := make(map[string][]string)
	for _, id := range tiers {
		indegree[id] = 0
	}
	for _, id := range tiers {
		for _, dep := range deps[id] {
			if dep == id {
				return nil, fmt.Errorf("tier %q depends on itself", id)
			}
			if !selected[dep] {
				continue
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var groups [][]string
	remaining := len(tiers)
	ready := make([]string, 0, len(tiers))
	for _, id := range tiers {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	for len(ready) > 0 {
		sort.Strings(ready)
		group := ready
		groups = append(groups, group)
		remaining -= len(group)

		ready = nil
		for _, id := range group {
			for _, next := range dependents[id] {
				indegree[next]--
				if indegree[next] == 0 {
					ready = append(ready, next)
				}
			}
		}
	}
	if remaining > 0 {
		var stuck []string
		for id, n := range indegree {
			if n > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("tier dependency cycle involving: %s", strings.Join(stuck, ", "))
	}
	return groups, nil
}
