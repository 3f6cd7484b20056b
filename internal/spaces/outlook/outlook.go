// Package outlook implements the Outlook calendar connector over
// Microsoft Graph.
package outlook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/quantumlife/planner/internal/core"
	"github.com/quantumlife/planner/internal/logging"
	"github.com/quantumlife/planner/internal/spaces"
)

var log = logging.Component("outlook")

// graphTimeLayout is how Graph renders dateTime values (fraction trimmed)
const graphTimeLayout = "2006-01-02T15:04:05"

// pageSize is the $top requested per calendarView page
const pageSize = 100

// Options configures the fetcher
type Options struct {
	BaseURL    string         // defaults to spaces.GraphAPIBase
	Location   *time.Location // local day placement; defaults to time.Local
	MaxPages   int            // defaults to spaces.MaxPages
	HTTPClient *http.Client   // base client under the bearer transport
}

// Fetcher lists events from the user's default Outlook calendar
type Fetcher struct {
	baseURL    string
	loc        *time.Location
	maxPages   int
	httpClient *http.Client
}

// New creates a new Outlook fetcher
func New(opts Options) *Fetcher {
	f := &Fetcher{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		loc:        opts.Location,
		maxPages:   opts.MaxPages,
		httpClient: opts.HTTPClient,
	}
	if f.baseURL == "" {
		f.baseURL = spaces.GraphAPIBase
	}
	if f.loc == nil {
		f.loc = time.Local
	}
	if f.maxPages <= 0 {
		f.maxPages = spaces.MaxPages
	}
	return f
}

// Provider returns the provider this fetcher serves
func (f *Fetcher) Provider() core.Provider {
	return core.ProviderOutlook
}

type graphEvent struct {
	ID          string `json:"id"`
	Subject     string `json:"subject"`
	BodyPreview string `json:"bodyPreview"`
	IsCancelled bool   `json:"isCancelled"`
	IsAllDay    bool   `json:"isAllDay"`
	Start       struct {
		DateTime string `json:"dateTime"`
		TimeZone string `json:"timeZone"`
	} `json:"start"`
	End struct {
		DateTime string `json:"dateTime"`
		TimeZone string `json:"timeZone"`
	} `json:"end"`
	Location struct {
		DisplayName string `json:"displayName"`
	} `json:"location"`
	Attendees []struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"attendees"`
}

type graphPage struct {
	Value    []graphEvent `json:"value"`
	NextLink string       `json:"@odata.nextLink"`
}

type graphErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// client returns an HTTP client that sends accessToken as a bearer token
func (f *Fetcher) client(ctx context.Context, accessToken string) *http.Client {
	if f.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	}
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
}

// Fetch lists the calendar view inside the window, following
// @odata.nextLink up to the page cap.
func (f *Fetcher) Fetch(ctx context.Context, accessToken string, window spaces.Window) ([]core.Event, error) {
	client := f.client(ctx, accessToken)

	params := url.Values{}
	params.Set("startDateTime", window.From.UTC().Format(time.RFC3339))
	params.Set("endDateTime", window.To.UTC().Format(time.RFC3339))
	params.Set("$top", fmt.Sprintf("%d", pageSize))
	next := f.baseURL + "/me/calendarView?" + params.Encode()

	var events []core.Event
	for page := 0; page < f.maxPages; page++ {
		result, err := f.fetchPage(ctx, client, next)
		if err != nil {
			return nil, err
		}

		for _, item := range result.Value {
			if ev, ok := f.convert(item); ok {
				events = append(events, ev)
			}
		}

		next = result.NextLink
		if next == "" {
			return events, nil
		}
	}

	log.WithField("pages", f.maxPages).Warn("page limit reached, remaining events not loaded")
	return events, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, client *http.Client, endpoint string) (*graphPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &core.ProviderFetchError{
			Provider: core.ProviderOutlook,
			Message:  fmt.Sprintf("request failed: %v", err),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fetchError(resp)
	}

	var result graphPage
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &core.ProviderFetchError{
			Provider: core.ProviderOutlook,
			Status:   resp.StatusCode,
			Message:  fmt.Sprintf("failed to decode response: %v", err),
		}
	}
	return &result, nil
}

// convert maps a Graph event to a planner event
func (f *Fetcher) convert(item graphEvent) (core.Event, bool) {
	if item.IsCancelled {
		return core.Event{}, false
	}

	it := spaces.Item{
		ExternalID: item.ID,
		Title:      item.Subject,
		Detail:     item.BodyPreview,
		Location:   item.Location.DisplayName,
	}
	for _, a := range item.Attendees {
		if a.EmailAddress.Address != "" {
			it.Participants = append(it.Participants, a.EmailAddress.Address)
		}
	}

	if item.IsAllDay {
		// All-day values are midnight of the calendar day itself
		if len(item.Start.DateTime) < len(core.DateLayout) {
			return core.Event{}, false
		}
		it.AllDay = true
		it.Date = item.Start.DateTime[:len(core.DateLayout)]
	} else {
		start, ok := parseGraphTime(item.Start.DateTime)
		if !ok {
			return core.Event{}, false
		}
		it.Start = start
		if end, ok := parseGraphTime(item.End.DateTime); ok {
			it.End = end
		}
	}

	return spaces.Normalize(core.SourceOutlook, it, f.loc)
}

// parseGraphTime reads a UTC dateTime such as 2026-03-02T09:00:00.0000000
func parseGraphTime(s string) (time.Time, bool) {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, "Z")
	t, err := time.ParseInLocation(graphTimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// fetchError extracts the message of Graph's error envelope
func fetchError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	msg := fmt.Sprintf("request failed with status %d", resp.StatusCode)
	var envelope graphErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
	}
	return &core.ProviderFetchError{
		Provider: core.ProviderOutlook,
		Status:   resp.StatusCode,
		Message:  msg,
	}
}
