// Package events holds the canonical event collection, partitioned by source.
package events

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlife/planner/internal/core"
	"github.com/quantumlife/planner/internal/logging"
	"github.com/quantumlife/planner/internal/storage"
)

var log = logging.Component("events")

// Store is the EventStore. Every partition is persisted under its own
// record before the in-memory view changes.
type Store struct {
	records storage.Records
	now     func() time.Time

	mu         sync.RWMutex
	partitions map[core.Source][]core.Event
}

// New creates a store over records. Call Load to read persisted partitions.
func New(records storage.Records, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		records:    records,
		now:        now,
		partitions: make(map[core.Source][]core.Event),
	}
}

// Load reads every partition from storage.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, source := range core.Sources {
		var stored []core.Event
		ok, err := storage.GetJSON(ctx, s.records, storage.EventsKey(string(source)), &stored)
		if err != nil {
			return fmt.Errorf("load %s events: %w", source, err)
		}
		if !ok {
			delete(s.partitions, source)
			continue
		}
		for i := range stored {
			stored[i].Source = source
			stored[i].Normalize()
		}
		s.partitions[source] = stored
	}
	return nil
}

// persistLocked writes a partition together with extra and swaps it in.
func (s *Store) persistLocked(ctx context.Context, source core.Source, events []core.Event, extra ...storage.Mutation) error {
	m, err := storage.PutJSON(storage.EventsKey(string(source)), events)
	if err != nil {
		return err
	}
	if err := s.records.Apply(ctx, append([]storage.Mutation{m}, extra...)...); err != nil {
		return fmt.Errorf("persist %s events: %w", source, err)
	}
	s.partitions[source] = events
	return nil
}

// ReplacePartition swaps the whole partition of source for events. External
// events get their read-only flag and stable ID here, so replaying the same
// fetch leaves the partition unchanged.
func (s *Store) ReplacePartition(ctx context.Context, source core.Source, events []core.Event) error {
	if !source.Valid() {
		return fmt.Errorf("%w: unknown source %q", core.ErrInvalidEvent, source)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := make(map[string]core.Event, len(s.partitions[source]))
	for _, e := range s.partitions[source] {
		previous[e.ID] = e
	}

	now := s.now().UTC()
	seen := make(map[string]bool, len(events))
	out := make([]core.Event, 0, len(events))
	for _, e := range events {
		e.Source = source
		e.Normalize()
		if source.IsExternal() {
			e.ID = core.EventID(source, e.ExternalID, e.Date, e.Start)
		} else if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		if e.UpdatedAt.IsZero() {
			if old, ok := previous[e.ID]; ok && sameContent(old, e) {
				e.UpdatedAt = old.UpdatedAt
			} else {
				e.UpdatedAt = now
			}
		}
		out = append(out, e)
	}
	core.SortEvents(out)

	if err := s.persistLocked(ctx, source, out); err != nil {
		return err
	}

	log.WithFields(map[string]interface{}{
		"source": source,
		"count":  len(out),
	}).Debug("replaced partition")
	return nil
}

// DropPartition deletes every event of source, applying extra in the same
// atomic step.
func (s *Store) DropPartition(ctx context.Context, source core.Source, extra ...storage.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mutations := append([]storage.Mutation{storage.Delete(storage.EventsKey(string(source)))}, extra...)
	if err := s.records.Apply(ctx, mutations...); err != nil {
		return fmt.Errorf("drop %s events: %w", source, err)
	}
	delete(s.partitions, source)
	return nil
}

// Create adds an owned event and returns it as stored.
func (s *Store) Create(ctx context.Context, e core.Event) (core.Event, error) {
	e.Source = core.SourceOwned
	e.ExternalID = ""
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.Normalize()
	if err := e.Validate(); err != nil {
		return core.Event{}, err
	}
	e.UpdatedAt = s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, _, ok := s.findLocked(e.ID); ok {
		return core.Event{}, fmt.Errorf("%w: duplicate id %s", core.ErrInvalidEvent, e.ID)
	}
	owned := append(s.copyLocked(core.SourceOwned), e)
	core.SortEvents(owned)
	if err := s.persistLocked(ctx, core.SourceOwned, owned); err != nil {
		return core.Event{}, err
	}
	return e, nil
}

// Update replaces an owned event with the same ID.
func (s *Store) Update(ctx context.Context, e core.Event) (core.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	source, idx, ok := s.findLocked(e.ID)
	if !ok {
		return core.Event{}, fmt.Errorf("%w: %s", core.ErrEventNotFound, e.ID)
	}
	if source != core.SourceOwned {
		return core.Event{}, fmt.Errorf("%w: %s belongs to %s", core.ErrReadOnlyEvent, e.ID, source)
	}

	e.Source = core.SourceOwned
	e.ExternalID = ""
	e.Normalize()
	if err := e.Validate(); err != nil {
		return core.Event{}, err
	}
	e.UpdatedAt = s.now().UTC()

	owned := s.copyLocked(core.SourceOwned)
	owned[idx] = e
	core.SortEvents(owned)
	if err := s.persistLocked(ctx, core.SourceOwned, owned); err != nil {
		return core.Event{}, err
	}
	return e, nil
}

// Delete removes an owned event.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	source, idx, ok := s.findLocked(id)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrEventNotFound, id)
	}
	if source != core.SourceOwned {
		return fmt.Errorf("%w: %s belongs to %s", core.ErrReadOnlyEvent, id, source)
	}

	owned := s.copyLocked(core.SourceOwned)
	owned = append(owned[:idx], owned[idx+1:]...)
	return s.persistLocked(ctx, core.SourceOwned, owned)
}

// Get returns the event with id from any partition.
func (s *Store) Get(id string) (core.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	source, idx, ok := s.findLocked(id)
	if !ok {
		return core.Event{}, fmt.Errorf("%w: %s", core.ErrEventNotFound, id)
	}
	return s.partitions[source][idx], nil
}

func (s *Store) findLocked(id string) (core.Source, int, bool) {
	for _, source := range core.Sources {
		for i, e := range s.partitions[source] {
			if e.ID == id {
				return source, i, true
			}
		}
	}
	return "", 0, false
}

func (s *Store) copyLocked(source core.Source) []core.Event {
	return append([]core.Event(nil), s.partitions[source]...)
}

// All returns the combined view of every partition in display order.
func (s *Store) All() []core.Event {
	return s.filter(func(core.Event) bool { return true })
}

// OnDate returns the events of one calendar day in display order.
func (s *Store) OnDate(date string) []core.Event {
	return s.filter(func(e core.Event) bool { return e.Date == date })
}

// Partition returns a copy of one partition.
func (s *Store) Partition(source core.Source) []core.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked(source)
}

// Counts returns the number of events per source.
func (s *Store) Counts() map[core.Source]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[core.Source]int, len(core.Sources))
	for _, source := range core.Sources {
		out[source] = len(s.partitions[source])
	}
	return out
}

func (s *Store) filter(keep func(core.Event) bool) []core.Event {
	s.mu.RLock()
	var out []core.Event
	for _, source := range core.Sources {
		for _, e := range s.partitions[source] {
			if keep(e) {
				out = append(out, e)
			}
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return core.Less(out[i], out[j]) })
	return out
}

// sameContent reports whether a and b differ at most in UpdatedAt.
func sameContent(a, b core.Event) bool {
	if !slices.Equal(a.Tags, b.Tags) || !slices.Equal(a.Participants, b.Participants) {
		return false
	}
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	a.Tags, b.Tags = nil, nil
	a.Participants, b.Participants = nil, nil
	return reflect.DeepEqual(a, b)
}
