package rtcxml

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/liamcoop/rtc/rules"
)

// gateLayout places every condition of a group in a forest of triggers.
// Sibling triggers activate rules independently, so a rule gated by several
// conditions is referenced once, below the last of a chain of nested
// triggers.
type gateLayout struct {
	parent   map[string]string // "" for top-level triggers
	children map[string][]string
	rules    map[string][]rules.Rule // rule references held directly by a condition
}

// layoutGates orders the gates of each rule outermost first: conditions that
// gate more rules sit further out, ties follow the condition order of g.
// Gate sets that overlap without one containing the other have no nested
// form and are an error.
func layoutGates(g *rules.ControlGroup) (*gateLayout, error) {
	conds := g.Conditions()
	index := make(map[string]int, len(conds))
	for i, c := range conds {
		index[c.ConditionName()] = i
	}
	gated := make(map[string]int)
	for _, r := range g.Rules() {
		for _, c := range r.GatingConditions() {
			gated[c]++
		}
	}

	l := &gateLayout{
		parent:   make(map[string]string),
		children: make(map[string][]string),
		rules:    make(map[string][]rules.Rule),
	}
	placedBy := make(map[string]string)

	for _, r := range g.Rules() {
		chain := r.GatingConditions()
		if len(chain) == 0 {
			continue
		}
		slices.SortFunc(chain, func(a, b string) int {
			if n := cmp.Compare(gated[b], gated[a]); n != 0 {
				return n
			}
			return cmp.Compare(index[a], index[b])
		})
		chain = slices.Compact(chain)

		parent := ""
		for _, c := range chain {
			if by, ok := placedBy[c]; ok {
				if l.parent[c] != parent {
					return nil, fmt.Errorf("rules %s and %s share condition %s but their other gates do not nest", by, r.RuleName(), c)
				}
			} else {
				placedBy[c] = r.RuleName()
				l.parent[c] = parent
				if parent != "" {
					l.children[parent] = append(l.children[parent], c)
				}
			}
			parent = c
		}
		l.rules[parent] = append(l.rules[parent], r)
	}

	// children follow the condition order of g
	for _, kids := range l.children {
		slices.SortFunc(kids, func(a, b string) int { return cmp.Compare(index[a], index[b]) })
	}
	return l, nil
}
