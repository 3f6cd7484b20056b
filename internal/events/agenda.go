package events

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/quantumlife/planner/internal/core"
)

// MaxAgendaDays bounds the range Agenda expands.
const MaxAgendaDays = 366

// Agenda returns the events between from and to (inclusive calendar days),
// with owned daily and weekly repeats expanded into one copy per
// occurrence. Copies keep the series ID and carry the occurrence date.
func (s *Store) Agenda(from, to string) ([]core.Event, error) {
	start, err := core.ParseDate(from)
	if err != nil {
		return nil, fmt.Errorf("%w: from: %v", core.ErrInvalidEvent, err)
	}
	end, err := core.ParseDate(to)
	if err != nil {
		return nil, fmt.Errorf("%w: to: %v", core.ErrInvalidEvent, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: range ends before it starts", core.ErrInvalidEvent)
	}
	if end.Sub(start) > MaxAgendaDays*24*time.Hour {
		return nil, fmt.Errorf("%w: range longer than %d days", core.ErrInvalidEvent, MaxAgendaDays)
	}

	var out []core.Event
	for _, e := range s.All() {
		if e.Source != core.SourceOwned || e.Repeat == core.RepeatNever {
			if e.Date >= from && e.Date <= to {
				out = append(out, e)
			}
			continue
		}

		dates, err := occurrences(e, start, end)
		if err != nil {
			log.WithField("event", e.ID).WithError(err).Warn("skipping unexpandable repeat")
			continue
		}
		for _, d := range dates {
			occ := e
			occ.Date = core.FormatDate(d)
			out = append(out, occ)
		}
	}

	core.SortEvents(out)
	return out, nil
}

func occurrences(e core.Event, from, to time.Time) ([]time.Time, error) {
	first, err := core.ParseDate(e.Date)
	if err != nil {
		return nil, err
	}

	freq := rrule.DAILY
	if e.Repeat == core.RepeatWeekly {
		freq = rrule.WEEKLY
	}
	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:    freq,
		Dtstart: first,
		Until:   to,
	})
	if err != nil {
		return nil, err
	}
	return rule.Between(from, to, true), nil
}
