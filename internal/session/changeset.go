package session

import (
	"strconv"
	"sync"

	"reqcore/pkg/domain"
)

// Field names tracked by a ChangeSet. Property edits use propertyField.
const (
	FieldName       = "name"
	FieldParentID   = "parentId"
	FieldOrderIndex = "orderIndex"
)

func propertyField(propertyID int64) string {
	return "property:" + strconv.FormatInt(propertyID, 10)
}

// ChangeSet accumulates field-level edits against the last known server
// state. A later edit to the same field replaces the earlier one; the set is
// empty again after Clear. Presence of any entry is what makes an artifact
// dirty.
type ChangeSet struct {
	mu     sync.Mutex
	order  []string
	values map[string]any
}

func NewChangeSet() *ChangeSet {
	return &ChangeSet{values: make(map[string]any)}
}

func (cs *ChangeSet) Set(field string, value any) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, ok := cs.values[field]; !ok {
		cs.order = append(cs.order, field)
	}
	cs.values[field] = value
}

func (cs *ChangeSet) Get(field string) (any, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	v, ok := cs.values[field]
	return v, ok
}

func (cs *ChangeSet) Len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.values)
}

func (cs *ChangeSet) Clear() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.order = cs.order[:0]
	clear(cs.values)
}

// Fields returns the tracked field names in first-edit order.
func (cs *ChangeSet) Fields() []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]string, len(cs.order))
	copy(out, cs.order)
	return out
}

// Delta folds the tracked edits into a wire-ready delta for artifactID.
func (cs *ChangeSet) Delta(artifactID int64) ArtifactDelta {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delta := ArtifactDelta{ID: artifactID}
	for _, field := range cs.order {
		switch v := cs.values[field].(type) {
		case string:
			if field == FieldName {
				name := v
				delta.Name = &name
			}
		case int64:
			if field == FieldParentID {
				parent := v
				delta.ParentID = &parent
			}
		case float64:
			if field == FieldOrderIndex {
				order := v
				delta.OrderIndex = &order
			}
		case domain.PropertyValue:
			delta.Properties = append(delta.Properties, v)
		}
	}
	return delta
}
