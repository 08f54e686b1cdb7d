package session

import "sync"

// EventKind identifies what happened to an artifact.
type EventKind int

const (
	EventLoaded EventKind = iota
	EventSaved
	EventPublished
	EventDiscarded
	EventStateChanged
	EventDeleted
	// EventUnloaded announces that the artifact released its loaded data.
	// It carries no artifact snapshot; subscribers must not read one.
	EventUnloaded
)

func (k EventKind) String() string {
	switch k {
	case EventLoaded:
		return "loaded"
	case EventSaved:
		return "saved"
	case EventPublished:
		return "published"
	case EventDiscarded:
		return "discarded"
	case EventStateChanged:
		return "state_changed"
	case EventDeleted:
		return "deleted"
	case EventUnloaded:
		return "unloaded"
	default:
		return "unknown"
	}
}

// Event is a tagged notification. Artifact is set for every kind except
// EventUnloaded.
type Event struct {
	Kind       EventKind
	ArtifactID int64
	Artifact   *ArtifactSnapshot
}

// ArtifactSnapshot is the immutable view handed to subscribers.
type ArtifactSnapshot struct {
	ID      int64
	Name    string
	Version int64
	State   StateSnapshot
}

const eventBuffer = 16

// broadcaster fans events out to subscribers. Delivery is non-blocking; a
// subscriber that stops draining loses events rather than stalling the
// engine.
type broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

func (b *broadcaster) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, eventBuffer)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub <- ev:
		default:
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub)
	}
}
