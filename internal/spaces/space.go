// Package spaces defines the interface for external calendar connectors
// and the normalization they share.
package spaces

import (
	"context"
	"strings"
	"time"

	"github.com/quantumlife/planner/internal/core"
)

// MaxPages caps how many result pages a single fetch follows.
const MaxPages = 8

// UntitledEvent is the title given to upstream items that have none.
const UntitledEvent = "(No title)"

// Fetcher is the interface all calendar connectors must implement
type Fetcher interface {
	Provider() core.Provider

	// Fetch lists the user's events inside the window. The result replaces
	// the provider's partition wholesale, so a partial result is an error.
	Fetch(ctx context.Context, accessToken string, window Window) ([]core.Event, error)
}

// Window is the time range a sync covers
type Window struct {
	From time.Time
	To   time.Time
}

// DefaultWindow spans pastDays before to futureDays after the day of ref.
func DefaultWindow(ref time.Time, pastDays, futureDays int) Window {
	day := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())
	return Window{
		From: day.AddDate(0, 0, -pastDays),
		To:   day.AddDate(0, 0, futureDays),
	}
}

// Item is an upstream event before normalization
type Item struct {
	ExternalID   string
	Title        string
	Detail       string
	Location     string
	Participants []string

	// AllDay items carry only Date (YYYY-MM-DD).
	AllDay bool
	Date   string

	// Timed items carry Start and, when the provider sent a usable one, End.
	Start time.Time
	End   time.Time
}

// Normalize converts an upstream item into a read-only event of source.
// Timed items are placed on the local day of their start in loc. ok is
// false when the item has no usable start.
func Normalize(source core.Source, item Item, loc *time.Location) (core.Event, bool) {
	if loc == nil {
		loc = time.Local
	}

	ev := core.Event{
		Source:       source,
		Kind:         core.KindExternal,
		ExternalID:   item.ExternalID,
		Title:        strings.TrimSpace(item.Title),
		Detail:       item.Detail,
		Location:     strings.TrimSpace(item.Location),
		Participants: item.Participants,
		AllDay:       item.AllDay,
	}
	if ev.Title == "" {
		ev.Title = UntitledEvent
	}

	if item.AllDay {
		if _, err := core.ParseDate(item.Date); err != nil {
			return core.Event{}, false
		}
		ev.Date = item.Date
	} else {
		if item.Start.IsZero() {
			return core.Event{}, false
		}
		start := item.Start.In(loc)
		ev.Date = core.FormatDate(start)
		ev.Start, ev.End = TimedRange(start, item.End, loc)
	}

	ev.Normalize()
	ev.ID = core.EventID(source, ev.ExternalID, ev.Date, ev.Start)
	return ev, true
}

// TimedRange returns the day-local minute range of an item starting at
// start. A missing end, or one not after start, defaults to an hour. Ends
// past midnight are clamped to the end of the start day.
func TimedRange(start, end time.Time, loc *time.Location) (int, int) {
	startMin := core.MinuteOfDay(start)

	endMin := -1
	if !end.IsZero() && end.After(start) {
		end = end.In(loc)
		if core.FormatDate(end) != core.FormatDate(start) {
			endMin = core.DayMinutes
		} else {
			endMin = core.MinuteOfDay(end)
		}
	}
	if endMin <= startMin {
		endMin = startMin + core.DefaultEventMinutes
	}
	if endMin > core.DayMinutes {
		endMin = core.DayMinutes
	}
	return startMin, endMin
}
