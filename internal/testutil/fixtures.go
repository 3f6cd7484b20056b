package testutil

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/quantumlife/planner/internal/core"
)

// RandomID generates a random ID for testing.
func RandomID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// EventBuilder builds test events.
type EventBuilder struct {
	event core.Event
}

// NewEvent starts an owned one-hour session at 09:00 on date.
func NewEvent(date string) *EventBuilder {
	return &EventBuilder{event: core.Event{
		ID:     "event-" + RandomID(),
		Source: core.SourceOwned,
		Kind:   core.KindSession,
		Title:  "Focus block",
		Date:   date,
		Start:  9 * 60,
		End:    10 * 60,
	}}
}

// At sets the minute range.
func (b *EventBuilder) At(start, end int) *EventBuilder {
	b.event.Start, b.event.End = start, end
	return b
}

// AllDay marks the event as all-day.
func (b *EventBuilder) AllDay() *EventBuilder {
	b.event.AllDay = true
	return b
}

// From makes the event a mirror of source with the given upstream id.
func (b *EventBuilder) From(source core.Source, externalID string) *EventBuilder {
	b.event.Source = source
	b.event.Kind = core.KindExternal
	b.event.ExternalID = externalID
	return b
}

// WithID sets the event ID.
func (b *EventBuilder) WithID(id string) *EventBuilder {
	b.event.ID = id
	return b
}

// WithTitle sets the title.
func (b *EventBuilder) WithTitle(title string) *EventBuilder {
	b.event.Title = title
	return b
}

// Repeating sets the repeat rule.
func (b *EventBuilder) Repeating(r core.Repeat) *EventBuilder {
	b.event.Repeat = r
	return b
}

// Build returns the normalized event.
func (b *EventBuilder) Build() core.Event {
	ev := b.event
	ev.Normalize()
	if ev.Source.IsExternal() {
		ev.ID = core.EventID(ev.Source, ev.ExternalID, ev.Date, ev.Start)
	}
	return ev
}
