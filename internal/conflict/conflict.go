// Package conflict computes blocked time on a day and fits events into the
// free slots that remain. Everything here works within one calendar day.
package conflict

import (
	"fmt"
	"sort"

	"github.com/quantumlife/planner/internal/core"
)

const (
	// MinDuration is the shortest event Fit will place, in minutes.
	MinDuration = 15
	// MaxIterations bounds the forward search of Fit.
	MaxIterations = 48
)

// Range is a half-open [Start, End) span of minutes within a day
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Overlaps reports whether r and o share at least one minute.
func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

// Placement is the slot Fit accepted
type Placement struct {
	Start int  `json:"start"`
	End   int  `json:"end"`
	Moved bool `json:"moved"`
}

// MergeRanges returns the minimal sorted disjoint cover of ranges. Ranges
// that touch are merged.
func MergeRanges(ranges []Range) []Range {
	if len(ranges) == 0 {
		return nil
	}

	sorted := append([]Range(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	merged := []Range{sorted[0]}
	for _, r := range sorted[1:] {
		cur := &merged[len(merged)-1]
		if r.Start <= cur.End {
			if r.End > cur.End {
				cur.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// Blocked computes the merged blocked ranges of events, skipping excludeID.
// External events are padded by buffer minutes on both sides.
func Blocked(events []core.Event, excludeID string, buffer int) []Range {
	var ranges []Range
	for _, e := range events {
		if excludeID != "" && e.ID == excludeID {
			continue
		}
		if e.AllDay {
			ranges = append(ranges, Range{0, core.DayMinutes})
			continue
		}
		if e.End <= e.Start {
			continue
		}
		r := Range{e.Start, e.End}
		if e.Source.IsExternal() && buffer > 0 {
			r.Start -= buffer
			r.End += buffer
		}
		ranges = append(ranges, clamp(r))
	}
	return MergeRanges(ranges)
}

func clamp(r Range) Range {
	if r.Start < 0 {
		r.Start = 0
	}
	if r.End > core.DayMinutes {
		r.End = core.DayMinutes
	}
	return r
}

// FitRanges places [desiredStart, desiredEnd) against merged blocked
// ranges, moving it forward past each conflict.
func FitRanges(blocked []Range, desiredStart, desiredEnd int) (Placement, error) {
	if desiredStart < 0 || desiredStart >= core.DayMinutes {
		return Placement{}, fmt.Errorf("%w: start %d outside the day", core.ErrInvalidEvent, desiredStart)
	}

	duration := desiredEnd - desiredStart
	if duration < MinDuration {
		duration = MinDuration
	}

	start := desiredStart
	for i := 0; i < MaxIterations; i++ {
		candidate := Range{start, start + duration}
		if candidate.End > core.DayMinutes {
			break
		}

		conflict := -1
		for j, b := range blocked {
			if candidate.Overlaps(b) {
				conflict = j
				break
			}
		}
		if conflict < 0 {
			return Placement{
				Start: candidate.Start,
				End:   candidate.End,
				Moved: candidate.Start != desiredStart || candidate.End != desiredEnd,
			}, nil
		}
		start = blocked[conflict].End
	}

	return Placement{}, fmt.Errorf("%w: %d minutes from %s", core.ErrNoAvailableSlot, duration, core.FormatMinutes(desiredStart))
}

// DayEvents lists the events of one calendar day.
type DayEvents interface {
	OnDate(date string) []core.Event
}

// Resolver is the ConflictResolver
type Resolver struct {
	events DayEvents
	buffer func() int
}

// New creates a resolver over events. buffer returns the current padding
// for external events and may be nil.
func New(events DayEvents, buffer func() int) *Resolver {
	if buffer == nil {
		buffer = func() int { return 0 }
	}
	return &Resolver{events: events, buffer: buffer}
}

// BlockedRanges returns the merged blocked ranges of date, ignoring the
// event being edited.
func (r *Resolver) BlockedRanges(date, excludeID string) []Range {
	return Blocked(r.events.OnDate(date), excludeID, r.buffer())
}

// Fit finds the first free slot on date at or after desiredStart that holds
// the requested duration. It never looks at other days.
func (r *Resolver) Fit(date string, desiredStart, desiredEnd int, excludeID string) (Placement, error) {
	if _, err := core.ParseDate(date); err != nil {
		return Placement{}, fmt.Errorf("%w: %v", core.ErrInvalidEvent, err)
	}
	return FitRanges(r.BlockedRanges(date, excludeID), desiredStart, desiredEnd)
}
