package session

import (
	"sort"

	"github.com/srg/blehelper/internal/device"
)

// CharTable maps canonical characteristic UUIDs to backend handles. It is rebuilt from
// scratch on every successful discovery; service grouping is not retained.
type CharTable struct {
	chars map[string]device.CharacteristicHandle
}

func NewCharTable() *CharTable {
	return &CharTable{chars: make(map[string]device.CharacteristicHandle)}
}

// Rebuild replaces the whole table with the characteristics of services. A later duplicate
// UUID overwrites an earlier one. Returns the sorted identifiers.
func (t *CharTable) Rebuild(services []device.Service) []string {
	t.Clear()
	for _, svc := range services {
		for _, c := range svc.Characteristics {
			if id := device.CanonicalUUID(c.UUID()); id != "" {
				t.chars[id] = c
			}
		}
	}
	return t.IDs()
}

// Lookup accepts any UUID form.
func (t *CharTable) Lookup(id string) (device.CharacteristicHandle, bool) {
	c, ok := t.chars[device.CanonicalUUID(id)]
	return c, ok
}

// IDs returns the sorted identifiers.
func (t *CharTable) IDs() []string {
	ids := make([]string, 0, len(t.chars))
	for id := range t.chars {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t *CharTable) Len() int { return len(t.chars) }

func (t *CharTable) Clear() {
	clear(t.chars)
}
