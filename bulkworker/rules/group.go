package rules

import (
	"sort"
)

// RequesterSet is a set of requester account ids.
type RequesterSet map[int64]struct{}

func NewRequesterSet(ids ...int64) RequesterSet {
	s := make(RequesterSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s RequesterSet) Add(id int64) {
	s[id] = struct{}{}
}

func (s RequesterSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in ascending order.
func (s RequesterSet) Sorted() []int64 {
	ids := make([]int64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Contribution is the set of rules one requester produced.
type Contribution struct {
	RequesterID int64
	Rules       []MatchRule
}

// Groups maps every unique rule to the requesters that contributed it.
type Groups map[MatchRule]RequesterSet

// Group merges semantically equal rules across requesters. Requesters with no
// rules land under NoRule. The result does not depend on input order.
func Group(contribs []Contribution) Groups {
	groups := make(Groups)
	for _, c := range contribs {
		if len(c.Rules) == 0 {
			groups.add(NoRule, c.RequesterID)
			continue
		}
		for _, r := range c.Rules {
			groups.add(r, c.RequesterID)
		}
	}
	return groups
}

func (g Groups) add(rule MatchRule, requester int64) {
	set, ok := g[rule]
	if !ok {
		set = make(RequesterSet)
		g[rule] = set
	}
	set.Add(requester)
}

// Merge folds other into g.
func (g Groups) Merge(other Groups) {
	for rule, set := range other {
		for id := range set {
			g.add(rule, id)
		}
	}
}

// SortedRules returns the rules ordered by Key.
func (g Groups) SortedRules() []MatchRule {
	out := make([]MatchRule, 0, len(g))
	for r := range g {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
