package domain

import (
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/spaolacci/murmur3"
)

// Fragment is the serialized slice of world state owned by one collaborator.
type Fragment = json.RawMessage

// Snapshot is the full world at one instant, one Fragment per collaborator id.
//
// Order records the registry order at capture time. Missing lists collaborators
// whose serialization failed; they have no entry in Fragments.
type Snapshot struct {
	CapturedAt time.Time           `json:"captured_at"`
	Fragments  map[string]Fragment `json:"fragments"`
	Order      []string            `json:"order,omitempty"`
	Missing    []string            `json:"missing,omitempty"`
}

// NewSnapshot returns an empty snapshot stamped with at.
func NewSnapshot(at time.Time) Snapshot {
	return Snapshot{
		CapturedAt: at.UTC(),
		Fragments:  make(map[string]Fragment),
	}
}

// Fragment returns the fragment for id.
func (s Snapshot) Fragment(id string) (Fragment, bool) {
	f, ok := s.Fragments[id]
	if !ok || len(f) == 0 || string(f) == "null" {
		return nil, false
	}
	return f, true
}

// Decode unmarshals the fragment for id into v. It reports false when the
// fragment is absent.
func (s Snapshot) Decode(id string, v any) (bool, error) {
	f, ok := s.Fragment(id)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(f, v); err != nil {
		return true, err
	}
	return true, nil
}

// Partial reports whether any collaborator failed during capture.
func (s Snapshot) Partial() bool {
	return len(s.Missing) > 0
}

// IDs returns fragment ids in capture order, followed by any ids not listed
// in Order (sorted).
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.Fragments))
	seen := make(map[string]bool, len(s.Fragments))
	for _, id := range s.Order {
		if _, ok := s.Fragments[id]; ok && !seen[id] {
			ids = append(ids, id)
			seen[id] = true
		}
	}
	var rest []string
	for id := range s.Fragments {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(ids, rest...)
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	c := Snapshot{
		CapturedAt: s.CapturedAt,
		Fragments:  make(map[string]Fragment, len(s.Fragments)),
	}
	for id, f := range s.Fragments {
		c.Fragments[id] = append(Fragment(nil), f...)
	}
	if s.Order != nil {
		c.Order = append([]string(nil), s.Order...)
	}
	if s.Missing != nil {
		c.Missing = append([]string(nil), s.Missing...)
	}
	return c
}

// Digest returns a 128-bit murmur3 digest of the fragment contents.
// CapturedAt and Order do not contribute, so two captures of an unchanged
// world share a digest.
func (s Snapshot) Digest() string {
	ids := make([]string, 0, len(s.Fragments))
	for id := range s.Fragments {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := murmur3.New128()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
		h.Write(s.Fragments[id])
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
