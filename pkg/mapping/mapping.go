// Package mapping joins Board clients and projects into a project number to
// client name lookup.
package mapping

import (
	"sort"

	"github.com/kernel/boardcol/pkg/board"
	"github.com/samber/lo"
)

// Unregistered is shown for projects whose client cannot be resolved.
const Unregistered = "未登録"

// Mapping maps a project number to its client name.
type Mapping map[string]string

// Join builds a Mapping with exactly one entry per project. Client ids are
// resolved against clients that have both an id and a name; otherwise the
// project's embedded client name is used, and failing that Unregistered.
func Join(clients []board.ClientRecord, projects []board.ProjectRecord) Mapping {
	named := lo.Filter(clients, func(c board.ClientRecord, _ int) bool {
		return c.ID != "" && c.Name != ""
	})
	byID := lo.SliceToMap(named, func(c board.ClientRecord) (string, string) {
		return c.ID, c.Name
	})

	m := make(Mapping, len(projects))
	for _, p := range projects {
		var fromID string
		if p.ClientID != "" {
			fromID = byID[p.ClientID]
		}
		m[p.ProjectNo] = lo.CoalesceOrEmpty(fromID, p.ClientNameFallback, Unregistered)
	}
	return m
}

// Lookup returns the client name for a project number, or Unregistered.
func (m Mapping) Lookup(projectNo string) string {
	if name, ok := m[projectNo]; ok && name != "" {
		return name
	}
	return Unregistered
}

func (m Mapping) Len() int { return len(m) }

func (m Mapping) Empty() bool { return len(m) == 0 }

// Clone returns an independent copy. A nil Mapping clones to nil.
func (m Mapping) Clone() Mapping {
	if m == nil {
		return nil
	}
	out := make(Mapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SortedKeys returns project numbers in a stable order, numeric ones first
// by value.
func (m Mapping) SortedKeys() []string {
	keys := lo.Keys(m)
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if len(a) != len(b) && isDigits(a) && isDigits(b) {
			return len(a) < len(b)
		}
		return a < b
	})
	return keys
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
