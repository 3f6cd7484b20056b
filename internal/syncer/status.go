package syncer

import (
	"context"

	"github.com/quantumlife/planner/internal/core"
	"github.com/quantumlife/planner/internal/scheduler"
	"github.com/quantumlife/planner/internal/storage"
)

// ProviderStatus describes one provider's connection
type ProviderStatus struct {
	Provider   core.Provider `json:"provider"`
	Name       string        `json:"name"`
	Connected  bool          `json:"connected"`
	HasSession bool          `json:"has_session"`
	Events     int           `json:"events"`
}

// Status is a snapshot of the sync state
type Status struct {
	Settings  core.SyncSettings   `json:"settings"`
	Providers []ProviderStatus    `json:"providers"`
	Counts    map[core.Source]int `json:"counts"`
	Scheduler *scheduler.Stats    `json:"scheduler,omitempty"`
	NextSync  *scheduler.Task     `json:"next_sync,omitempty"`
	Recent    []storage.SyncRun   `json:"recent,omitempty"`
}

// Status reports connections, partition sizes and recent runs.
func (s *Syncer) Status(ctx context.Context) Status {
	st := Status{
		Settings: s.Settings(),
		Counts:   s.events.Counts(),
	}

	for _, p := range core.Providers {
		st.Providers = append(st.Providers, ProviderStatus{
			Provider:   p,
			Name:       p.DisplayName(),
			Connected:  st.Settings.IsConnected(p),
			HasSession: s.vault.HasSession(p),
			Events:     st.Counts[p.Source()],
		})
	}

	if s.scheduler != nil {
		stats := s.scheduler.GetStats()
		st.Scheduler = &stats
		if task, ok := s.scheduler.GetTask(SyncTaskID); ok {
			st.NextSync = &task
		}
	}

	if s.syncLog != nil {
		recent, err := s.syncLog.Recent(ctx, 10)
		if err != nil {
			log.WithError(err).Warn("failed to read sync history")
		}
		st.Recent = recent
	}
	return st
}
