// Package ics imports and exports iCalendar feeds.
package ics

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"github.com/quantumlife/planner/internal/core"
	"github.com/quantumlife/planner/internal/logging"
	"github.com/quantumlife/planner/internal/spaces"
)

var log = logging.Component("ics")

const (
	dateLayout     = "20060102"
	dateTimeLayout = "20060102T150405"
)

// Parse reads the VEVENTs of an iCalendar document into read-only feed
// events placed on local days in loc. Events without a usable DTSTART are
// skipped; a document that is not a calendar fails with core.ErrFeedParse.
func Parse(text string, loc *time.Location) ([]core.Event, error) {
	if loc == nil {
		loc = time.Local
	}
	if !strings.Contains(strings.ToUpper(text), "BEGIN:VCALENDAR") {
		return nil, fmt.Errorf("%w: no VCALENDAR block", core.ErrFeedParse)
	}

	cal, err := ical.ParseCalendar(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrFeedParse, err)
	}

	seen := make(map[string]bool)
	var events []core.Event
	skipped := 0
	for _, ve := range cal.Events() {
		ev, ok := convert(ve, loc)
		if !ok {
			skipped++
			continue
		}
		// The same UID on the same slot is one event
		if seen[ev.ID] {
			continue
		}
		seen[ev.ID] = true
		events = append(events, ev)
	}

	log.WithFields(map[string]interface{}{
		"events":  len(events),
		"skipped": skipped,
	}).Debug("parsed feed")
	return events, nil
}

func convert(ve *ical.VEvent, loc *time.Location) (core.Event, bool) {
	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return core.Event{}, false
	}

	it := spaces.Item{
		ExternalID: propertyText(ve, ical.ComponentPropertyUniqueId),
		Title:      propertyText(ve, ical.ComponentPropertySummary),
		Detail:     propertyText(ve, ical.ComponentPropertyDescription),
		Location:   propertyText(ve, ical.ComponentPropertyLocation),
	}

	if it.ExternalID == "" {
		it.ExternalID = fallbackUID(it.Title, dtStart.Value)
	}

	start, allDay, ok := parseValue(dtStart, loc)
	if !ok {
		return core.Event{}, false
	}
	if allDay {
		it.AllDay = true
		it.Date = core.FormatDate(start)
	} else {
		it.Start = start
		if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
			if end, endAllDay, ok := parseValue(dtEnd, loc); ok && !endAllDay {
				it.End = end
			}
		}
	}

	return spaces.Normalize(core.SourceFeed, it, loc)
}

func propertyText(ve *ical.VEvent, name ical.ComponentProperty) string {
	p := ve.GetProperty(name)
	if p == nil {
		return ""
	}
	return p.Value
}

// fallbackUID names a VEVENT that carries no UID by its summary and raw
// DTSTART, so distinct UID-less events on one slot stay apart.
func fallbackUID(summary, dtStart string) string {
	return "nouid-" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(summary+"|"+dtStart)).String()
}

// parseValue reads a DATE (8 digits) or DATE-TIME value. A trailing Z means
// UTC; a TZID parameter names the zone; otherwise the value is local time.
// Results are in loc.
func parseValue(p *ical.IANAProperty, loc *time.Location) (time.Time, bool, bool) {
	v := strings.TrimSpace(p.Value)

	if len(v) == len(dateLayout) {
		t, err := time.ParseInLocation(dateLayout, v, loc)
		if err != nil {
			return time.Time{}, false, false
		}
		return t, true, true
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.ParseInLocation(dateTimeLayout, strings.TrimSuffix(v, "Z"), time.UTC)
		if err != nil {
			return time.Time{}, false, false
		}
		return t.In(loc), false, true
	}

	zone := loc
	if tzids, ok := p.ICalParameters[string(ical.ParameterTzid)]; ok && len(tzids) > 0 {
		if z, err := time.LoadLocation(tzids[0]); err == nil {
			zone = z
		}
	}
	t, err := time.ParseInLocation(dateTimeLayout, v, zone)
	if err != nil {
		return time.Time{}, false, false
	}
	return t.In(loc), false, true
}
