// Package core defines the fundamental types for the planner.
// Every calendar format the planner reads is reduced to these types.
package core

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Day geometry, in minutes.
const (
	DayMinutes = 24 * 60 // exclusive end of the day window
	AllDayEnd  = DayMinutes - 1

	// DateLayout is the canonical calendar-day layout.
	DateLayout = "2006-01-02"

	// DefaultEventMinutes is used when an external event has no usable end.
	DefaultEventMinutes = 60
)

// -----------------------------------------------------------------------------
// SOURCE - where an event came from
// -----------------------------------------------------------------------------

// Source identifies the partition an event belongs to.
type Source string

const (
	SourceOwned   Source = "owned"
	SourceGoogle  Source = "google"  // external provider A
	SourceOutlook Source = "outlook" // external provider B
	SourceFeed    Source = "feed"    // static .ics feed
)

// Sources lists every partition in display order.
var Sources = []Source{SourceOwned, SourceGoogle, SourceOutlook, SourceFeed}

// IsExternal reports whether events of this source are read-only mirrors.
func (s Source) IsExternal() bool {
	return s != SourceOwned
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	for _, known := range Sources {
		if s == known {
			return true
		}
	}
	return false
}

// Provider is an OAuth-protected calendar provider.
type Provider string

const (
	ProviderGoogle  Provider = "google"
	ProviderOutlook Provider = "outlook"
)

// Providers lists the OAuth providers in sync order.
var Providers = []Provider{ProviderGoogle, ProviderOutlook}

// ParseProvider validates a provider name.
func ParseProvider(name string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	switch p {
	case ProviderGoogle, ProviderOutlook:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
}

// Source returns the event partition owned by this provider.
func (p Provider) Source() Source {
	switch p {
	case ProviderGoogle:
		return SourceGoogle
	case ProviderOutlook:
		return SourceOutlook
	}
	return Source(p)
}

// DisplayName returns a human-readable provider name.
func (p Provider) DisplayName() string {
	switch p {
	case ProviderGoogle:
		return "Google Calendar"
	case ProviderOutlook:
		return "Outlook Calendar"
	}
	return string(p)
}

// -----------------------------------------------------------------------------
// EVENT - the canonical calendar event
// -----------------------------------------------------------------------------

// Kind classifies an event.
type Kind string

const (
	KindSession  Kind = "session"
	KindTask     Kind = "task"
	KindExternal Kind = "external"
)

// Repeat is the repetition rule of an owned event.
type Repeat string

const (
	RepeatNever  Repeat = "never"
	RepeatDaily  Repeat = "daily"
	RepeatWeekly Repeat = "weekly"
)

// Reminder is the lead time of an event reminder.
type Reminder string

const (
	ReminderNone Reminder = "none"
	Reminder10m  Reminder = "10m"
	Reminder30m  Reminder = "30m"
	Reminder60m  Reminder = "60m"
)

// Event is the canonical event all sources are normalized into.
type Event struct {
	ID           string    `json:"id"`
	Source       Source    `json:"source"`
	Kind         Kind      `json:"kind"`
	ExternalID   string    `json:"external_id,omitempty"`
	Title        string    `json:"title"`
	Detail       string    `json:"detail,omitempty"`
	Date         string    `json:"date"`  // YYYY-MM-DD
	Start        int       `json:"start"` // minute of day
	End          int       `json:"end"`   // minute of day
	AllDay       bool      `json:"all_day"`
	Repeat       Repeat    `json:"repeat"`
	Tags         []string  `json:"tags,omitempty"`
	Participants []string  `json:"participants,omitempty"`
	Location     string    `json:"location,omitempty"`
	Color        string    `json:"color,omitempty"`
	Reminder     Reminder  `json:"reminder"`
	ReadOnly     bool      `json:"read_only"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// eventNamespace scopes the name-based IDs of external events.
var eventNamespace = uuid.MustParse("6f1d3c0e-8a4b-4f7e-9c2d-5b3a1e0f7d42")

// EventID derives the stable ID of an external event. Re-syncing the same
// upstream item always yields the same ID.
func EventID(source Source, externalID, date string, start int) string {
	name := fmt.Sprintf("%s|%s|%s|%d", source, externalID, date, start)
	return uuid.NewSHA1(eventNamespace, []byte(name)).String()
}

// Normalize fills defaults and enforces the read-only invariant.
func (e *Event) Normalize() {
	if e.Repeat == "" {
		e.Repeat = RepeatNever
	}
	if e.Reminder == "" {
		e.Reminder = ReminderNone
	}
	if e.Kind == "" {
		if e.Source.IsExternal() {
			e.Kind = KindExternal
		} else {
			e.Kind = KindSession
		}
	}
	if e.AllDay {
		e.Start, e.End = 0, AllDayEnd
	}
	e.Tags = uniqueTags(e.Tags)
	e.ReadOnly = e.Source.IsExternal()
}

// Validate checks the structural invariants of an event.
func (e *Event) Validate() error {
	if !e.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidEvent, e.Source)
	}
	if _, err := ParseDate(e.Date); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidEvent)
	}
	switch e.Repeat {
	case RepeatNever, RepeatDaily, RepeatWeekly:
	default:
		return fmt.Errorf("%w: unknown repeat %q", ErrInvalidEvent, e.Repeat)
	}
	switch e.Reminder {
	case ReminderNone, Reminder10m, Reminder30m, Reminder60m:
	default:
		return fmt.Errorf("%w: unknown reminder %q", ErrInvalidEvent, e.Reminder)
	}
	if e.AllDay {
		return nil
	}
	if e.Start < 0 || e.End > DayMinutes || e.End <= e.Start {
		return fmt.Errorf("%w: invalid time range %d-%d", ErrInvalidEvent, e.Start, e.End)
	}
	return nil
}

// Less orders events by (date, all-day first, start, title).
func Less(a, b Event) bool {
	if a.Date != b.Date {
		return a.Date < b.Date
	}
	if a.AllDay != b.AllDay {
		return a.AllDay
	}
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	if a.Title != b.Title {
		return a.Title < b.Title
	}
	return a.ID < b.ID
}

// SortEvents sorts events in display order.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return Less(events[i], events[j])
	})
}

func uniqueTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// -----------------------------------------------------------------------------
// TIME HELPERS
// -----------------------------------------------------------------------------

// ParseDate parses a YYYY-MM-DD calendar day.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// FormatDate formats t as a calendar day in its own location.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// MinuteOfDay returns the minute of day of t in its own location.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// FormatMinutes renders a minute of day as HH:MM.
func FormatMinutes(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// -----------------------------------------------------------------------------
// TOKEN SESSION / OAUTH STATE / SETTINGS
// -----------------------------------------------------------------------------

// TokenExpiryMargin guards against clock skew between us and the provider.
const TokenExpiryMargin = 60 * time.Second

// TokenSession is the OAuth session held for one connected provider.
type TokenSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Valid reports whether the access token can still be used at now.
func (t *TokenSession) Valid(now time.Time) bool {
	return t != nil && t.AccessToken != "" && now.Before(t.ExpiresAt.Add(-TokenExpiryMargin))
}

// OAuthPendingRequest is the state carried across the authorization redirect.
type OAuthPendingRequest struct {
	Provider     Provider  `json:"provider"`
	State        string    `json:"state"`
	CodeVerifier string    `json:"code_verifier"`
	RedirectURI  string    `json:"redirect_uri"`
	CreatedAt    time.Time `json:"created_at"`
}

// SyncSettings holds the user's sync preferences and connection flags.
type SyncSettings struct {
	Connected        map[Provider]bool `json:"connected"`
	BufferMinutes    int               `json:"buffer_minutes"`
	AutoSyncInterval time.Duration     `json:"auto_sync_interval"`
	LastSyncedAt     *time.Time        `json:"last_synced_at,omitempty"`
	FeedURL          string            `json:"feed_url,omitempty"`
}

// DefaultSyncSettings returns the settings used before anything is connected.
func DefaultSyncSettings() SyncSettings {
	return SyncSettings{
		Connected:        make(map[Provider]bool),
		BufferMinutes:    10,
		AutoSyncInterval: 15 * time.Minute,
	}
}

// IsConnected reports whether provider p is connected.
func (s SyncSettings) IsConnected(p Provider) bool {
	return s.Connected[p]
}

// AnyConnected reports whether at least one provider is connected.
func (s SyncSettings) AnyConnected() bool {
	for _, p := range Providers {
		if s.Connected[p] {
			return true
		}
	}
	return false
}

// ConnectedProviders returns the connected providers in sync order.
func (s SyncSettings) ConnectedProviders() []Provider {
	var out []Provider
	for _, p := range Providers {
		if s.Connected[p] {
			out = append(out, p)
		}
	}
	return out
}

// Clone returns a deep copy of the settings.
func (s SyncSettings) Clone() SyncSettings {
	out := s
	out.Connected = make(map[Provider]bool, len(s.Connected))
	for k, v := range s.Connected {
		out.Connected[k] = v
	}
	if s.LastSyncedAt != nil {
		t := *s.LastSyncedAt
		out.LastSyncedAt = &t
	}
	return out
}
