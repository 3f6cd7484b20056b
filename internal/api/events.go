package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quantumlife/planner/internal/core"
	"github.com/quantumlife/planner/internal/spaces/ics"
)

// EventResponse is a saved event and whether it was moved to fit
type EventResponse struct {
	Event core.Event `json:"event"`
	Moved bool       `json:"moved"`
}

// FitRequest asks for the first free slot on a day
type FitRequest struct {
	Date      string `json:"date"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
	ExcludeID string `json:"exclude_id,omitempty"`
}

// handleListEvents returns every event, or one day's events with ?date=
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		s.respondJSON(w, http.StatusOK, nonNil(s.events.All()))
		return
	}
	if _, err := core.ParseDate(date); err != nil {
		s.respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	s.respondJSON(w, http.StatusOK, nonNil(s.events.OnDate(date)))
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	e, err := s.events.Get(chi.URLParam(r, "eventID"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, e)
}

// handleAgenda returns the events of a date range with repeats expanded
func (s *Server) handleAgenda(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	agenda, err := s.events.Agenda(q.Get("from"), q.Get("to"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, nonNil(agenda))
}

// handleCreateEvent fits a new owned event into its day and saves it
func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var e core.Event
	if err := decodeJSON(w, r, &e); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	e.ID = ""
	e.Source = core.SourceOwned

	moved, err := s.place(&e, "")
	if err != nil {
		s.respondErr(w, err)
		return
	}

	created, err := s.events.Create(r.Context(), e)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, EventResponse{Event: created, Moved: moved})
}

// handleUpdateEvent refits an edited event, ignoring its own old slot
func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "eventID")
	existing, err := s.events.Get(id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if existing.Source != core.SourceOwned {
		s.respondErr(w, fmt.Errorf("%w: %s", core.ErrReadOnlyEvent, id))
		return
	}

	var e core.Event
	if err := decodeJSON(w, r, &e); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	e.ID = id
	e.Source = core.SourceOwned

	moved, err := s.place(&e, id)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	updated, err := s.events.Update(r.Context(), e)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, EventResponse{Event: updated, Moved: moved})
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.events.Delete(r.Context(), chi.URLParam(r, "eventID")); err != nil {
		s.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// place moves a timed event to the first free slot of its day. All-day
// events are saved where they are.
func (s *Server) place(e *core.Event, excludeID string) (bool, error) {
	if e.AllDay {
		return false, nil
	}
	placement, err := s.resolver.Fit(e.Date, e.Start, e.End, excludeID)
	if err != nil {
		return false, err
	}
	e.Start, e.End = placement.Start, placement.End
	return placement.Moved, nil
}

// handleFit previews where an event would land without saving it
func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	var req FitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	placement, err := s.resolver.Fit(req.Date, req.Start, req.End, req.ExcludeID)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, placement)
}

// handleBlocked returns the merged blocked ranges of a day
func (s *Server) handleBlocked(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date := q.Get("date")
	if _, err := core.ParseDate(date); err != nil {
		s.respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	ranges := s.resolver.BlockedRanges(date, q.Get("exclude"))
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"date":   date,
		"ranges": nonNil(ranges),
	})
}

// handleExportICS serves the owned events as an .ics feed
func (s *Server) handleExportICS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="planner.ics"`)
	w.Write([]byte(ics.Export(s.events.All(), s.loc)))
}

// nonNil keeps empty lists as [] in JSON
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
