// Package google implements the Google Calendar connector.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/quantumlife/planner/internal/core"
	"github.com/quantumlife/planner/internal/logging"
	"github.com/quantumlife/planner/internal/spaces"
)

var log = logging.Component("google")

// Options configures the fetcher
type Options struct {
	BaseURL    string         // defaults to spaces.GoogleAPIBase
	Location   *time.Location // local day placement; defaults to time.Local
	MaxPages   int            // defaults to spaces.MaxPages
	HTTPClient *http.Client   // base client under the bearer transport
}

// Fetcher lists events from the user's primary Google calendar
type Fetcher struct {
	baseURL    string
	loc        *time.Location
	maxPages   int
	httpClient *http.Client
}

// New creates a new Google Calendar fetcher
func New(opts Options) *Fetcher {
	f := &Fetcher{
		baseURL:    opts.BaseURL,
		loc:        opts.Location,
		maxPages:   opts.MaxPages,
		httpClient: opts.HTTPClient,
	}
	if f.baseURL == "" {
		f.baseURL = spaces.GoogleAPIBase
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
	return core.ProviderGoogle
}

// service creates a Calendar API service authorized with accessToken
func (f *Fetcher) service(ctx context.Context, accessToken string) (*calendar.Service, error) {
	clientCtx := ctx
	if f.httpClient != nil {
		clientCtx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	}
	client := oauth2.NewClient(clientCtx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	return calendar.NewService(ctx,
		option.WithHTTPClient(client),
		option.WithEndpoint(f.baseURL+"/calendar/v3/"),
	)
}

// Fetch lists single (expanded) events inside the window, following page
// tokens up to the page cap.
func (f *Fetcher) Fetch(ctx context.Context, accessToken string, window spaces.Window) ([]core.Event, error) {
	svc, err := f.service(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	var events []core.Event
	pageToken := ""
	for page := 0; page < f.maxPages; page++ {
		call := svc.Events.List("primary").
			Context(ctx).
			TimeMin(window.From.Format(time.RFC3339)).
			TimeMax(window.To.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime").
			MaxResults(250)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fetchError(err)
		}

		for _, item := range resp.Items {
			if ev, ok := f.convert(item); ok {
				events = append(events, ev)
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			return events, nil
		}
	}

	log.WithField("pages", f.maxPages).Warn("page limit reached, remaining events not loaded")
	return events, nil
}

// convert maps an API event to a planner event
func (f *Fetcher) convert(item *calendar.Event) (core.Event, bool) {
	if item == nil || item.Status == "cancelled" || item.Start == nil {
		return core.Event{}, false
	}

	it := spaces.Item{
		ExternalID: item.Id,
		Title:      item.Summary,
		Detail:     item.Description,
		Location:   item.Location,
	}
	for _, a := range item.Attendees {
		if a == nil || a.Email == "" {
			continue
		}
		it.Participants = append(it.Participants, a.Email)
	}

	if item.Start.Date != "" {
		it.AllDay = true
		it.Date = item.Start.Date
	} else {
		start, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			return core.Event{}, false
		}
		it.Start = start
		if item.End != nil && item.End.DateTime != "" {
			if end, err := time.Parse(time.RFC3339, item.End.DateTime); err == nil {
				it.End = end
			}
		}
	}

	return spaces.Normalize(core.SourceGoogle, it, f.loc)
}

// fetchError extracts the message of Google's error envelope
func fetchError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = fmt.Sprintf("request failed with status %d", apiErr.Code)
		}
		return &core.ProviderFetchError{
			Provider: core.ProviderGoogle,
			Status:   apiErr.Code,
			Message:  msg,
		}
	}
	return &core.ProviderFetchError{
		Provider: core.ProviderGoogle,
		Message:  fmt.Sprintf("request failed: %v", err),
	}
}
