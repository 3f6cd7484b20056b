package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quantumlife/planner/internal/core"
	"github.com/quantumlife/planner/internal/syncer"
)

// maxFeedBytes bounds an uploaded .ics body
const maxFeedBytes = 10 << 20

// Settings is the API view of the sync settings
type Settings struct {
	Connected        []core.Provider `json:"connected"`
	BufferMinutes    int             `json:"buffer_minutes"`
	AutoSyncInterval string          `json:"auto_sync_interval"`
	FeedURL          string          `json:"feed_url,omitempty"`
	LastSyncedAt     *time.Time      `json:"last_synced_at,omitempty"`
}

func settingsView(st core.SyncSettings) Settings {
	connected := st.ConnectedProviders()
	if connected == nil {
		connected = []core.Provider{}
	}
	return Settings{
		Connected:        connected,
		BufferMinutes:    st.BufferMinutes,
		AutoSyncInterval: st.AutoSyncInterval.String(),
		FeedURL:          st.FeedURL,
		LastSyncedAt:     st.LastSyncedAt,
	}
}

// handleGetSettings returns the sync settings
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, settingsView(s.syncer.Settings()))
}

// handleUpdateSettings applies the fields present in the body
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var input struct {
		BufferMinutes    *int    `json:"buffer_minutes"`
		AutoSyncInterval *string `json:"auto_sync_interval"`
		FeedURL          *string `json:"feed_url"`
	}
	if err := decodeJSON(w, r, &input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	prefs := syncer.Preferences{
		BufferMinutes: input.BufferMinutes,
		FeedURL:       input.FeedURL,
	}
	if input.AutoSyncInterval != nil {
		d, err := time.ParseDuration(*input.AutoSyncInterval)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "auto_sync_interval must be a duration such as 15m")
			return
		}
		prefs.AutoSyncInterval = &d
	}

	settings, err := s.syncer.UpdatePreferences(r.Context(), prefs)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, settingsView(settings))
}

// handleSync runs a manual sync cycle. Provider failures are part of the
// report, so the request itself succeeds whenever a cycle ran.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	report, err := s.syncer.SyncNow(r.Context())
	if errors.Is(err, core.ErrNotConnected) {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

// handleImportFeed imports an .ics body sent as text/calendar, or else the
// feed at the URL given in a JSON body or in the settings.
func (s *Server) handleImportFeed(w http.ResponseWriter, r *http.Request) {
	var (
		n   int
		err error
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "text/calendar", "text/plain":
		body, readErr := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFeedBytes))
		if readErr != nil {
			s.respondError(w, http.StatusRequestEntityTooLarge, "feed is too large")
			return
		}
		n, err = s.syncer.ImportFeed(r.Context(), string(body))
	default:
		var input struct {
			URL string `json:"url"`
		}
		if r.ContentLength != 0 {
			if decodeErr := decodeJSON(w, r, &input); decodeErr != nil && !errors.Is(decodeErr, io.EOF) {
				s.respondError(w, http.StatusBadRequest, "Invalid JSON")
				return
			}
		}
		n, err = s.syncer.ImportFeedURL(r.Context(), input.URL)
	}

	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"imported": n})
}

// handleStatus returns connections, partition sizes and recent runs
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.syncer.Status(r.Context()))
}

// handleGetNotices returns recent notices, newest first
func (s *Server) handleGetNotices(w http.ResponseWriter, r *http.Request) {
	if s.notices == nil {
		s.respondJSON(w, http.StatusOK, []struct{}{})
		return
	}

	limit := 20
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a non-negative number")
			return
		}
		limit = parsed
	}
	s.respondJSON(w, http.StatusOK, s.notices.Recent(limit))
}
