package domain

import (
	"encoding/json"
	"sort"
)

// IDSet is a set of identifier strings. It marshals as a sorted JSON array so
// persisted snapshots and alias records are stable across writes.
type IDSet map[string]struct{}

// NewIDSet creates a set containing the given ids
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IDSet) Add(id string)      { s[id] = struct{}{} }
func (s IDSet) Remove(id string)   { delete(s, id) }
func (s IDSet) Has(id string) bool { _, ok := s[id]; return ok }
func (s IDSet) Len() int           { return len(s) }

// Union adds every id from other into s
func (s IDSet) Union(other IDSet) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// Clone returns an independent copy of the set
func (s IDSet) Clone() IDSet {
	c := make(IDSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// Values returns the ids in sorted order
func (s IDSet) Values() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MarshalJSON encodes the set as a sorted string array
func (s IDSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

// UnmarshalJSON decodes a string array into the set
func (s *IDSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewIDSet(ids...)
	return nil
}
