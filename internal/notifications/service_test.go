package notifications

import (
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantumlife/planner/internal/core"
)

// mockSubscriber implements Subscriber interface for testing
type mockSubscriber struct {
	id      string
	notices []Notice
	fail    bool
	mu      sync.Mutex
}

func (m *mockSubscriber) Send(n Notice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("connection closed")
	}
	m.notices = append(m.notices, n)
	return nil
}

func (m *mockSubscriber) ID() string {
	return m.id
}

func (m *mockSubscriber) received() []Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notice(nil), m.notices...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestService_NotifyBroadcasts(t *testing.T) {
	svc := NewService()
	sub1 := &mockSubscriber{id: "a"}
	sub2 := &mockSubscriber{id: "b"}
	svc.Subscribe(sub1)
	svc.Subscribe(sub2)

	svc.Notify(Success("Sync complete", "2 calendars updated"))

	waitFor(t, func() bool { return len(sub1.received()) == 1 && len(sub2.received()) == 1 })

	got := sub1.received()[0]
	if got.ID == "" || got.At.IsZero() {
		t.Errorf("notice should get an id and timestamp: %+v", got)
	}
	if got.Level != LevelSuccess {
		t.Errorf("Level = %q", got.Level)
	}
}

func TestService_DropsFailingSubscriber(t *testing.T) {
	svc := NewService()
	svc.Subscribe(&mockSubscriber{id: "gone", fail: true})

	svc.Notify(Info("hello", ""))

	waitFor(t, func() bool { return svc.SubscriberCount() == 0 })
}

func TestService_Recent(t *testing.T) {
	svc := NewService()
	svc.history = 3

	for _, title := range []string{"one", "two", "three", "four"} {
		svc.Notify(Info(title, ""))
	}

	recent := svc.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("kept %d notices, want 3", len(recent))
	}
	if recent[0].Title != "four" || recent[2].Title != "two" {
		t.Errorf("Recent() order = %s, %s, %s", recent[0].Title, recent[1].Title, recent[2].Title)
	}
	if got := svc.Recent(1); len(got) != 1 || got[0].Title != "four" {
		t.Errorf("Recent(1) = %+v", got)
	}
}

func TestWarning(t *testing.T) {
	n := Warning("Sync failed", core.ProviderOutlook, &core.ProviderFetchError{
		Provider: core.ProviderOutlook,
		Status:   403,
		Message:  "Access is denied.",
	})
	if n.Level != LevelWarning || n.Provider != core.ProviderOutlook {
		t.Errorf("notice = %+v", n)
	}
	if !strings.Contains(n.Message, "Access is denied.") {
		t.Errorf("Message = %q", n.Message)
	}
}

func TestMultiAndRecorder(t *testing.T) {
	var a, b Recorder
	var calls int
	m := Multi{&a, nil, &b, Func(func(Notice) { calls++ })}

	m.Notify(Warning("x", core.ProviderGoogle, core.ErrTokenRefreshFailed))

	if a.Count(LevelWarning) != 1 || b.Count(LevelWarning) != 1 || calls != 1 {
		t.Errorf("fan-out incomplete: %d %d %d", a.Count(LevelWarning), b.Count(LevelWarning), calls)
	}
}

func TestHub_StreamsNotices(t *testing.T) {
	svc := NewService()
	svc.Notify(Info("backlog", ""))

	srv := httptest.NewServer(NewHub(svc))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg WebSocketMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read backlog: %v", err)
	}
	if msg.Type != "notice" || msg.Payload.Title != "backlog" {
		t.Errorf("backlog message = %+v", msg)
	}

	waitFor(t, func() bool { return svc.SubscriberCount() == 1 })
	svc.Notify(Success("live", ""))

	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read live: %v", err)
	}
	if msg.Payload.Title != "live" {
		t.Errorf("live message = %+v", msg)
	}
}
