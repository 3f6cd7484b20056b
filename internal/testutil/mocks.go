package testutil

import (
	"context"
	"sync"

	"github.com/quantumlife/planner/internal/core"
	"github.com/quantumlife/planner/internal/spaces"
)

// MockFetcher is a scripted spaces.Fetcher.
type MockFetcher struct {
	mu       sync.Mutex
	provider core.Provider
	events   []core.Event
	err      error
	tokens   []string

	// Block, when set, is waited on by every Fetch.
	Block chan struct{}
}

// NewMockFetcher creates a fetcher for provider that returns no events.
func NewMockFetcher(provider core.Provider) *MockFetcher {
	return &MockFetcher{provider: provider}
}

// Provider returns the provider this fetcher serves.
func (m *MockFetcher) Provider() core.Provider {
	return m.provider
}

// Returns scripts a successful result.
func (m *MockFetcher) Returns(events ...core.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events, m.err = events, nil
}

// Fails scripts an error result.
func (m *MockFetcher) Fails(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events, m.err = nil, err
}

// Tokens returns the access tokens Fetch was called with.
func (m *MockFetcher) Tokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tokens...)
}

// Fetch returns the scripted result.
func (m *MockFetcher) Fetch(ctx context.Context, accessToken string, window spaces.Window) ([]core.Event, error) {
	m.mu.Lock()
	m.tokens = append(m.tokens, accessToken)
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]core.Event(nil), m.events...), nil
}
