package notifications

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlife/planner/internal/logging"
)

var log = logging.Component("notifications")

// DefaultHistory is how many notices the service keeps for late readers.
const DefaultHistory = 50

// Notifier receives user-visible notices. Notify must not block.
type Notifier interface {
	Notify(n Notice)
}

// Func adapts a function to Notifier.
type Func func(n Notice)

// Notify calls f.
func (f Func) Notify(n Notice) { f(n) }

// Multi fans a notice out to several notifiers.
type Multi []Notifier

// Notify sends n to every notifier.
func (m Multi) Notify(n Notice) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(n)
		}
	}
}

// LogNotifier writes notices to the log.
type LogNotifier struct{}

// Notify logs n at a level matching its severity.
func (LogNotifier) Notify(n Notice) {
	entry := log.WithFields(map[string]interface{}{
		"title":    n.Title,
		"provider": n.Provider,
	})
	if n.Level == LevelWarning {
		entry.Warn(n.Message)
		return
	}
	entry.Info(n.Message)
}

// Subscriber receives notices in real-time
type Subscriber interface {
	Send(n Notice) error
	ID() string
}

// Service keeps recent notices and broadcasts new ones to subscribers
type Service struct {
	now         func() time.Time
	history     int
	recent      []Notice
	subscribers map[string]Subscriber
	mu          sync.RWMutex
}

// NewService creates a new notice service
func NewService() *Service {
	return &Service{
		now:         time.Now,
		history:     DefaultHistory,
		subscribers: make(map[string]Subscriber),
	}
}

// Subscribe adds a subscriber for real-time notices
func (s *Service) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[sub.ID()] = sub
}

// Unsubscribe removes a subscriber
func (s *Service) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, id)
}

// Notify records n and sends it to every subscriber.
func (s *Service) Notify(n Notice) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.At.IsZero() {
		n.At = s.now().UTC()
	}

	s.mu.Lock()
	s.recent = append(s.recent, n)
	if len(s.recent) > s.history {
		s.recent = append([]Notice(nil), s.recent[len(s.recent)-s.history:]...)
	}
	subs := make([]Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		go func(subscriber Subscriber) {
			if err := subscriber.Send(n); err != nil {
				log.WithField("subscriber", subscriber.ID()).WithError(err).Debug("dropping subscriber")
				s.Unsubscribe(subscriber.ID())
			}
		}(sub)
	}
}

// Recent returns up to limit notices, newest first.
func (s *Service) Recent(limit int) []Notice {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.recent) {
		limit = len(s.recent)
	}
	out := make([]Notice, 0, limit)
	for i := len(s.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.recent[i])
	}
	return out
}

// SubscriberCount returns the number of live subscribers.
func (s *Service) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// Recorder collects notices in memory.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify appends n.
func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Notices returns everything recorded so far.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Count returns how many notices of level were recorded.
func (r *Recorder) Count(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, notice := range r.notices {
		if notice.Level == level {
			n++
		}
	}
	return n
}
