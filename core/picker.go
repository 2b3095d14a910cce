package core

import (
	"sort"
	"strings"

	"pkt.systems/snipline/schema"
)

// Picker lists active cached shortcuts for the manual picker. An empty query
// lists everything, most used first; otherwise trigger prefix matches rank
// ahead of title matches, which rank ahead of content matches.
func (r *Runtime) Picker(query string) []schema.Shortcut {
	list := schema.ActiveOnly(r.cache.List())
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].UseCount > list[j].UseCount
		})
		return list
	}
	name := strings.ToLower(r.cfg.Sentinel)
	rank := func(sc schema.Shortcut) int {
		trigger := strings.ToLower(sc.Trigger)
		switch {
		case strings.HasPrefix(trigger, q), strings.HasPrefix(strings.TrimPrefix(trigger, name), q):
			return 0
		case strings.Contains(strings.ToLower(sc.Title), q):
			return 1
		case strings.Contains(trigger, q), strings.Contains(strings.ToLower(sc.Content), q):
			return 2
		default:
			return -1
		}
	}
	type ranked struct {
		sc   schema.Shortcut
		rank int
	}
	matches := make([]ranked, 0, len(list))
	for _, sc := range list {
		if n := rank(sc); n >= 0 {
			matches = append(matches, ranked{sc: sc, rank: n})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].rank != matches[j].rank {
			return matches[i].rank < matches[j].rank
		}
		return matches[i].sc.UseCount > matches[j].sc.UseCount
	})
	out := make([]schema.Shortcut, len(matches))
	for i, m := range matches {
		out[i] = m.sc
	}
	return out
}
