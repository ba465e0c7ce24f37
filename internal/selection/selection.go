// Package selection tracks which job rows a user has selected. Selections
// persist across pages and filters; the bulk toggle only ever touches the ids
// currently visible.
package selection

import (
	"cmp"
	"slices"

	"github.com/MimeLyc/jobdesk/internal/jobs"
)

// Set is not safe for concurrent use; owners serialise access. The zero
// value is an empty set.
type Set struct {
	ids map[jobs.ID]struct{}
}

func New(ids ...jobs.ID) *Set {
	s := &Set{ids: make(map[jobs.ID]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

func (s *Set) Toggle(id jobs.ID, selected bool) {
	if selected {
		if s.ids == nil {
			s.ids = make(map[jobs.ID]struct{})
		}
		s.ids[id] = struct{}{}
		return
	}
	delete(s.ids, id)
}

// SelectAllVisible adds every visible id when selected is true, otherwise
// removes exactly the visible ids. Ids from other pages are left alone.
func (s *Set) SelectAllVisible(selected bool, visible []jobs.ID) {
	for _, id := range visible {
		s.Toggle(id, selected)
	}
}

func (s *Set) Clear() {
	clear(s.ids)
}

func (s *Set) Contains(id jobs.ID) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *Set) Len() int {
	return len(s.ids)
}

// IsAllVisibleSelected is false for an empty page.
func (s *Set) IsAllVisibleSelected(visible []jobs.ID) bool {
	if len(visible) == 0 {
		return false
	}
	return s.countSelected(visible) == len(visible)
}

// IsIndeterminate reports a partially selected page.
func (s *Set) IsIndeterminate(visible []jobs.ID) bool {
	n := s.countSelected(visible)
	return n > 0 && n < len(visible)
}

func (s *Set) countSelected(visible []jobs.ID) int {
	n := 0
	for _, id := range visible {
		if s.Contains(id) {
			n++
		}
	}
	return n
}

// Retain evicts every selected id that is not in known and returns the
// evicted ids.
func (s *Set) Retain(known []jobs.ID) []jobs.ID {
	keep := make(map[jobs.ID]struct{}, len(known))
	for _, id := range known {
		keep[id] = struct{}{}
	}
	var evicted []jobs.ID
	for id := range s.ids {
		if _, ok := keep[id]; !ok {
			evicted = append(evicted, id)
			delete(s.ids, id)
		}
	}
	slices.Sort(evicted)
	return evicted
}

// Remove drops the given ids if selected.
func (s *Set) Remove(ids ...jobs.ID) {
	for _, id := range ids {
		delete(s.ids, id)
	}
}

// IDs returns a sorted copy of the selection.
func (s *Set) IDs() []jobs.ID {
	ret := make([]jobs.ID, 0, len(s.ids))
	for id := range s.ids {
		ret = append(ret, id)
	}
	slices.SortFunc(ret, compareIDs)
	return ret
}

// Clone returns an independent copy.
func (s *Set) Clone() *Set {
	return New(s.IDs()...)
}

func compareIDs(a, b jobs.ID) int {
	an, aok := a.Numeric()
	bn, bok := b.Numeric()
	switch {
	case aok && bok:
		return cmp.Compare(an, bn)
	case aok:
		return -1
	case bok:
		return 1
	default:
		return cmp.Compare(a, b)
	}
}
