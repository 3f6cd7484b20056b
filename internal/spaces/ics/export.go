package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/quantumlife/planner/internal/core"
)

// ProductID identifies exported feeds.
const ProductID = "-//QuantumLife//Planner//EN"

// Export serializes owned events as a PUBLISH calendar. Event times are
// interpreted in loc. Read-only mirrors of other calendars are left out.
func Export(events []core.Event, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)

	for _, e := range events {
		if e.Source != core.SourceOwned {
			continue
		}
		day, err := time.ParseInLocation(core.DateLayout, e.Date, loc)
		if err != nil {
			continue
		}

		ve := cal.AddEvent(e.ID)
		stamp := e.UpdatedAt
		if stamp.IsZero() {
			stamp = time.Now()
		}
		ve.SetDtStampTime(stamp)
		ve.SetSummary(e.Title)
		if e.Detail != "" {
			ve.SetDescription(e.Detail)
		}
		if e.Location != "" {
			ve.SetLocation(e.Location)
		}

		if e.AllDay {
			ve.SetAllDayStartAt(day)
			ve.SetAllDayEndAt(day.AddDate(0, 0, 1))
		} else {
			ve.SetStartAt(atMinute(day, e.Start))
			ve.SetEndAt(atMinute(day, e.End))
		}

		switch e.Repeat {
		case core.RepeatDaily:
			ve.SetProperty(ical.ComponentPropertyRrule, "FREQ=DAILY")
		case core.RepeatWeekly:
			ve.SetProperty(ical.ComponentPropertyRrule, "FREQ=WEEKLY")
		}
	}

	return cal.Serialize()
}

func atMinute(day time.Time, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, minute, 0, 0, day.Location())
}
