package session

import (
	"sort"
	"sync"

	"reqcore/pkg/domain"
)

// Behavior is a capability strategy attached to an artifact at construction
// time based on its predefined type. It owns type-specific local edits and
// contributes them to the artifact's delta. The zero set of behaviors is a
// plain artifact with only field and property edits.
type Behavior interface {
	// Contribute folds the behavior's pending edits into delta and reports
	// whether they are valid. Invalid edits make the whole change set
	// unsendable.
	Contribute(delta *ArtifactDelta) (valid bool)
	// Dirty reports whether the behavior holds pending edits.
	Dirty() bool
	// Discard drops all pending edits.
	Discard()
}

// behaviorFor picks the strategy for a predefined type. Most types get the
// inert noBehavior.
func behaviorFor(t domain.PredefinedType) Behavior {
	switch {
	case t.IsProcess():
		return newProcessBehavior()
	case t.IsCollection():
		return newCollectionBehavior()
	default:
		return noBehavior{}
	}
}

type noBehavior struct{}

func (noBehavior) Contribute(*ArtifactDelta) bool { return true }
func (noBehavior) Dirty() bool                    { return false }
func (noBehavior) Discard()                       {}

// processBehavior tracks edits to the sub-artifacts (shapes) of a process
// diagram. A sub-artifact edit with an invalid property value keeps the
// whole process unsendable until fixed.
type processBehavior struct {
	mu    sync.Mutex
	edits map[int64]*SubArtifactDelta
	bad   map[int64]bool
}

func newProcessBehavior() *processBehavior {
	return &processBehavior{
		edits: make(map[int64]*SubArtifactDelta),
		bad:   make(map[int64]bool),
	}
}

func (b *processBehavior) SetSubArtifactName(subID int64, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.edit(subID).Name = &name
}

func (b *processBehavior) SetSubArtifactProperty(subID int64, value domain.PropertyValue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	edit := b.edit(subID)
	for i := range edit.Properties {
		if edit.Properties[i].PropertyTypeID == value.PropertyTypeID {
			edit.Properties[i] = value
			b.bad[subID] = b.anyInvalid(edit)
			return
		}
	}
	edit.Properties = append(edit.Properties, value)
	b.bad[subID] = b.anyInvalid(edit)
}

func (b *processBehavior) edit(subID int64) *SubArtifactDelta {
	if e, ok := b.edits[subID]; ok {
		return e
	}
	e := &SubArtifactDelta{ID: subID}
	b.edits[subID] = e
	return e
}

func (b *processBehavior) anyInvalid(edit *SubArtifactDelta) bool {
	for _, p := range edit.Properties {
		if p.Validate() != nil {
			return true
		}
	}
	return false
}

func (b *processBehavior) Contribute(delta *ArtifactDelta) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]int64, 0, len(b.edits))
	for id := range b.edits {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	valid := true
	for _, id := range ids {
		if b.bad[id] {
			valid = false
		}
		delta.SubArtifacts = append(delta.SubArtifacts, *b.edits[id])
	}
	return valid
}

func (b *processBehavior) Dirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.edits) > 0
}

func (b *processBehavior) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.edits)
	clear(b.bad)
}

// collectionBehavior tracks membership edits of a collection artifact.
// Adding an id that was pending removal cancels the removal, and vice
// versa.
type collectionBehavior struct {
	mu      sync.Mutex
	added   map[int64]bool
	removed map[int64]bool
}

func newCollectionBehavior() *collectionBehavior {
	return &collectionBehavior{added: make(map[int64]bool), removed: make(map[int64]bool)}
}

func (b *collectionBehavior) AddItem(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.removed[id] {
		delete(b.removed, id)
		return
	}
	b.added[id] = true
}

func (b *collectionBehavior) RemoveItem(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.added[id] {
		delete(b.added, id)
		return
	}
	b.removed[id] = true
}

func (b *collectionBehavior) Contribute(delta *ArtifactDelta) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	delta.AddedItems = append(delta.AddedItems, sortedIDs(b.added)...)
	delta.RemovedItems = append(delta.RemovedItems, sortedIDs(b.removed)...)
	return true
}

func (b *collectionBehavior) Dirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.added) > 0 || len(b.removed) > 0
}

func (b *collectionBehavior) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.added)
	clear(b.removed)
}

func sortedIDs(set map[int64]bool) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
