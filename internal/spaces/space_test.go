package spaces

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/quantumlife/planner/internal/config"
	"github.com/quantumlife/planner/internal/core"
)

func TestDefaultWindow(t *testing.T) {
	ref := time.Date(2026, 3, 15, 17, 42, 0, 0, time.UTC)
	w := DefaultWindow(ref, 30, 180)

	if want := time.Date(2026, 2, 13, 0, 0, 0, 0, time.UTC); !w.From.Equal(want) {
		t.Errorf("From = %v, want %v", w.From, want)
	}
	if want := time.Date(2026, 9, 11, 0, 0, 0, 0, time.UTC); !w.To.Equal(want) {
		t.Errorf("To = %v, want %v", w.To, want)
	}
}

func TestTimedRange(t *testing.T) {
	day := func(h, m int) time.Time { return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name      string
		start     time.Time
		end       time.Time
		wantStart int
		wantEnd   int
	}{
		{"regular", day(9, 0), day(10, 30), 540, 630},
		{"missing end", day(9, 0), time.Time{}, 540, 600},
		{"end equals start", day(9, 0), day(9, 0), 540, 600},
		{"end before start", day(9, 0), day(8, 0), 540, 600},
		{"default capped at day end", day(23, 30), time.Time{}, 1410, core.DayMinutes},
		{"ends next day", day(22, 0), day(22, 0).Add(4 * time.Hour), 1320, core.DayMinutes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := TimedRange(tt.start, tt.end, time.UTC)
			if start != tt.wantStart || end != tt.wantEnd {
				t.Errorf("TimedRange() = %d-%d, want %d-%d", start, end, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Run("timed item placed on local day", func(t *testing.T) {
		ny := time.FixedZone("EST", -5*3600)
		ev, ok := Normalize(core.SourceOutlook, Item{
			ExternalID: "x",
			Title:      "  Late call ",
			Start:      time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC), // 21:00 previous day in EST
			End:        time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC),
		}, ny)
		if !ok {
			t.Fatal("Normalize() rejected a valid item")
		}
		if ev.Date != "2026-03-02" || ev.Start != 21*60 || ev.End != 22*60 {
			t.Errorf("event = %s %d-%d", ev.Date, ev.Start, ev.End)
		}
		if ev.Title != "Late call" {
			t.Errorf("Title = %q", ev.Title)
		}
		if !ev.ReadOnly || ev.Kind != core.KindExternal {
			t.Error("external events must be read-only")
		}
		if err := ev.Validate(); err != nil {
			t.Errorf("normalized event should validate: %v", err)
		}
	})

	t.Run("all-day", func(t *testing.T) {
		ev, ok := Normalize(core.SourceFeed, Item{AllDay: true, Date: "2026-03-05"}, time.UTC)
		if !ok {
			t.Fatal("Normalize() rejected a valid all-day item")
		}
		if ev.Start != 0 || ev.End != core.AllDayEnd || ev.Title != UntitledEvent {
			t.Errorf("event = %+v", ev)
		}
	})

	t.Run("unusable start", func(t *testing.T) {
		if _, ok := Normalize(core.SourceGoogle, Item{Title: "no start"}, time.UTC); ok {
			t.Error("item without start should be dropped")
		}
		if _, ok := Normalize(core.SourceGoogle, Item{AllDay: true, Date: "03/05/2026"}, time.UTC); ok {
			t.Error("all-day item with a bad date should be dropped")
		}
	})
}

func TestOAuthConfig(t *testing.T) {
	redirect := "http://localhost:8080/api/v1/oauth/callback"

	t.Run("missing client id", func(t *testing.T) {
		_, err := OAuthConfig(core.ProviderGoogle, config.ProviderConfig{}, redirect)
		if !errors.Is(err, core.ErrMissingClientConfiguration) {
			t.Errorf("error = %v, want ErrMissingClientConfiguration", err)
		}
	})

	t.Run("google defaults", func(t *testing.T) {
		cfg, err := OAuthConfig(core.ProviderGoogle, config.ProviderConfig{ClientID: "gid"}, redirect)
		if err != nil {
			t.Fatalf("OAuthConfig() error = %v", err)
		}
		if !strings.Contains(cfg.Endpoint.AuthURL, "accounts.google.com") {
			t.Errorf("AuthURL = %q", cfg.Endpoint.AuthURL)
		}
		if cfg.Endpoint.AuthStyle != oauth2.AuthStyleInParams {
			t.Error("public clients send client_id in the body")
		}
		if cfg.ClientSecret != "" {
			t.Error("no client secret should be configured")
		}

		u, _ := url.Parse(cfg.AuthCodeURL("st", AuthCodeOptions(core.ProviderGoogle)...))
		q := u.Query()
		if q.Get("access_type") != "offline" || q.Get("prompt") != "consent" {
			t.Errorf("google extras missing: %s", u.RawQuery)
		}
	})

	t.Run("outlook tenant and overrides", func(t *testing.T) {
		cfg, err := OAuthConfig(core.ProviderOutlook, config.ProviderConfig{
			ClientID: "oid",
			Tenant:   "consumers",
			TokenURL: "http://127.0.0.1:9/token",
		}, redirect)
		if err != nil {
			t.Fatalf("OAuthConfig() error = %v", err)
		}
		if !strings.Contains(cfg.Endpoint.AuthURL, "/consumers/") {
			t.Errorf("AuthURL = %q, want tenant in path", cfg.Endpoint.AuthURL)
		}
		if cfg.Endpoint.TokenURL != "http://127.0.0.1:9/token" {
			t.Errorf("TokenURL = %q", cfg.Endpoint.TokenURL)
		}
		if strings.Join(cfg.Scopes, " ") != "offline_access Calendars.Read" {
			t.Errorf("Scopes = %v", cfg.Scopes)
		}

		u, _ := url.Parse(cfg.AuthCodeURL("st", AuthCodeOptions(core.ProviderOutlook)...))
		if u.Query().Get("response_mode") != "query" {
			t.Errorf("outlook extras missing: %s", u.RawQuery)
		}
	})
}

func TestAPIBase(t *testing.T) {
	if got := APIBase(core.ProviderOutlook, config.ProviderConfig{}); got != GraphAPIBase {
		t.Errorf("APIBase(outlook) = %q", got)
	}
	if got := APIBase(core.ProviderGoogle, config.ProviderConfig{APIBaseURL: "http://fake/"}); got != "http://fake" {
		t.Errorf("APIBase(override) = %q", got)
	}
}
