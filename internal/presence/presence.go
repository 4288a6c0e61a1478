// internal/presence/presence.go
//
// Package presence tracks the names of users connected to the lobby.
package presence

import (
	"context"
	"slices"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sionline/internal/errs"
	"github.com/jason-s-yu/sionline/internal/observe"
)

// ChangeKind describes one edit of the presence set.
type ChangeKind int

const (
	Joined ChangeKind = iota
	Left
)

// Change is a single insert or removal. Index refers to the set as it was
// right before the change.
type Change struct {
	Kind  ChangeKind
	Index int
	Name  string
}

// Fetcher returns the full list of connected users.
type Fetcher func(ctx context.Context) ([]string, error)

// Tracker is an ordered set of user names with its own lock.
type Tracker struct {
	mu         sync.Mutex
	names      []string
	generation uint64
	logger     log.FieldLogger

	hub observe.Hub[Change]
}

// NewTracker creates an empty tracker.
func NewTracker(logger log.FieldLogger) *Tracker {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Tracker{logger: logger.WithField("component", "presence")}
}

// Subscribe registers fn for set changes.
func (t *Tracker) Subscribe(fn func(Change)) func() {
	return t.hub.Subscribe(fn)
}

// Join inserts name in order. A known name is a no-op.
func (t *Tracker) Join(name string) {
	t.mu.Lock()
	i, found := slices.BinarySearch(t.names, name)
	if found {
		t.mu.Unlock()
		return
	}
	t.names = slices.Insert(t.names, i, name)
	t.commit(Change{Kind: Joined, Index: i, Name: name})
}

// Leave removes name. An unknown name is a no-op.
func (t *Tracker) Leave(name string) {
	t.mu.Lock()
	i, found := slices.BinarySearch(t.names, name)
	if !found {
		t.mu.Unlock()
		return
	}
	t.names = slices.Delete(t.names, i, i+1)
	t.commit(Change{Kind: Left, Index: i, Name: name})
}

// ReplaceAll swaps the set for the snapshot returned by fetch. The snapshot is
// sorted and deduplicated. When another ReplaceAll or Reset starts while fetch
// is running, the snapshot is discarded and errs.ErrSuperseded is returned.
func (t *Tracker) ReplaceAll(ctx context.Context, fetch Fetcher) error {
	t.mu.Lock()
	t.generation++
	gen := t.generation
	t.mu.Unlock()

	names, err := fetch(ctx)
	if err != nil {
		return errs.Network("get users", err)
	}
	names = slices.Compact(slices.Sorted(slices.Values(names)))

	t.mu.Lock()
	if t.generation != gen {
		t.mu.Unlock()
		t.logger.Debug("presence resync superseded, snapshot discarded")
		return errs.ErrSuperseded
	}
	changes := t.replace(names)
	t.commit(changes...)
	t.logger.WithField("users", len(names)).Debug("presence resync complete")
	return nil
}

// Reset empties the set and supersedes any running resync.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.generation++
	changes := t.replace(nil)
	t.commit(changes...)
}

// replace must be called with mu held. It expresses the swap as removals of
// the old names followed by inserts of the new ones.
func (t *Tracker) replace(names []string) []Change {
	changes := make([]Change, 0, len(t.names)+len(names))
	for i := len(t.names) - 1; i >= 0; i-- {
		changes = append(changes, Change{Kind: Left, Index: i, Name: t.names[i]})
	}
	for i, n := range names {
		changes = append(changes, Change{Kind: Joined, Index: i, Name: n})
	}
	t.names = names
	return changes
}

// commit must be called with mu held; it releases mu and then notifies.
func (t *Tracker) commit(changes ...Change) {
	t.hub.Enqueue(changes...)
	t.mu.Unlock()
	t.hub.Flush()
}

// Names returns the connected users in order.
func (t *Tracker) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.names)
}

// Contains reports whether name is connected.
func (t *Tracker) Contains(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, found := slices.BinarySearch(t.names, name)
	return found
}

// Len returns the number of connected users.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.names)
}
