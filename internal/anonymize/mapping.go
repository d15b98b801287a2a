package anonymize

import (
	"fmt"
	"sync"
)

// Entry is one audited mapping. Surfaces are the forms seen in the case;
// entries are only handed to restricted audit storage, never to extraction.
type Entry struct {
	Placeholder string   `json:"placeholder"`
	Type        string   `json:"type"`
	Key         string   `json:"key"`
	Surfaces    []string `json:"surfaces"`
}

// Map assigns case-scoped placeholders. One Map per case; it is never shared
// across cases. Entries are write-once and the map only grows.
type Map struct {
	caseID string

	mu       sync.Mutex
	byKey    map[string]int
	counters map[string]int
	entries  []Entry
}

func NewMap(caseID string) *Map {
	return &Map{
		caseID:   caseID,
		byKey:    make(map[string]int),
		counters: make(map[string]int),
	}
}

func (m *Map) CaseID() string { return m.caseID }

// Resolve returns the placeholder for (typ, key), assigning the next ordinal
// of typ on first sight.
func (m *Map) Resolve(typ, key, surface string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := typ + "\x00" + key
	if i, ok := m.byKey[k]; ok {
		e := &m.entries[i]
		if !containsString(e.Surfaces, surface) {
			e.Surfaces = append(e.Surfaces, surface)
		}
		return e.Placeholder
	}
	m.counters[typ]++
	e := Entry{
		Placeholder: fmt.Sprintf("[%s_%d]", typ, m.counters[typ]),
		Type:        typ,
		Key:         key,
		Surfaces:    []string{surface},
	}
	m.byKey[k] = len(m.entries)
	m.entries = append(m.entries, e)
	return e.Placeholder
}

// Len is the number of distinct entities mapped so far.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// AuditEntries returns a copy of the mapping in order of first appearance.
func (m *Map) AuditEntries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	for i, e := range m.entries {
		e.Surfaces = append([]string(nil), e.Surfaces...)
		out[i] = e
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
