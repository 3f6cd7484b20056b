package mockservers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// CalendarServer mocks the Google Calendar events.list endpoint and the
// Microsoft Graph calendarView endpoint on one server.
type CalendarServer struct {
	Server *httptest.Server

	mu          sync.Mutex
	googleItems []map[string]interface{}
	graphItems  []map[string]interface{}
	failures    map[string]int // path prefix -> status
	tokens      []string
}

// NewCalendarServer creates a new mock calendar API server.
func NewCalendarServer(t *testing.T) *CalendarServer {
	t.Helper()

	mock := &CalendarServer{failures: make(map[string]int)}
	mock.Server = httptest.NewServer(http.HandlerFunc(mock.handle))

	t.Cleanup(func() {
		mock.Server.Close()
	})

	return mock
}

// URL is the API base for both providers.
func (m *CalendarServer) URL() string {
	return m.Server.URL
}

// SetGoogleItems replaces the events returned to Google clients.
func (m *CalendarServer) SetGoogleItems(items ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.googleItems = items
}

// SetGraphItems replaces the events returned to Graph clients.
func (m *CalendarServer) SetGraphItems(items ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graphItems = items
}

// FailGoogle makes Google requests fail with status (0 clears).
func (m *CalendarServer) FailGoogle(status int) {
	m.setFailure("/calendar/", status)
}

// FailGraph makes Graph requests fail with status (0 clears).
func (m *CalendarServer) FailGraph(status int) {
	m.setFailure("/me/", status)
}

// Tokens returns the bearer tokens seen, in order.
func (m *CalendarServer) Tokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tokens...)
}

func (m *CalendarServer) setFailure(prefix string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status == 0 {
		delete(m.failures, prefix)
		return
	}
	m.failures[prefix] = status
}

func (m *CalendarServer) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.tokens = append(m.tokens, r.Header.Get("Authorization"))
	google := append([]map[string]interface{}(nil), m.googleItems...)
	graph := append([]map[string]interface{}(nil), m.graphItems...)
	failures := make(map[string]int, len(m.failures))
	for k, v := range m.failures {
		failures[k] = v
	}
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/calendar/v3/calendars/primary/events":
		if status := failures["/calendar/"]; status != 0 {
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{"code": status, "message": "Request had invalid authentication credentials."},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"items": google})

	case "/me/calendarView":
		if status := failures["/me/"]; status != 0 {
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{"code": "InvalidAuthenticationToken", "message": "Access token has expired."},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"value": graph})

	default:
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"code": 404, "message": "Not Found"},
		})
	}
}
