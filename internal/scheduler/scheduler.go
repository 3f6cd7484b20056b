// Package scheduler runs recurring background tasks on interval, daily and
// cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/quantumlife/planner/internal/logging"
)

var log = logging.Component("scheduler")

// Clock is the tick source of the scheduler. Tests substitute a manual one.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Scheduler manages scheduled tasks
type Scheduler struct {
	tasks    map[string]*Task
	running  map[string]context.CancelFunc
	mu       sync.RWMutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	timezone *time.Location
	clock    Clock
}

// Config configures the scheduler
type Config struct {
	Timezone string // Timezone for daily and cron schedules (default: Local)
	Clock    Clock  // nil uses the wall clock
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Timezone: "Local",
	}
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg Config) *Scheduler {
	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil || cfg.Timezone == "" {
		tz = time.Local
	}
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		tasks:    make(map[string]*Task),
		running:  make(map[string]context.CancelFunc),
		ctx:      ctx,
		cancel:   cancel,
		timezone: tz,
		clock:    clock,
	}
}

// Task represents a scheduled task
type Task struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Schedule   Schedule      `json:"schedule"`
	Handler    TaskHandler   `json:"-"`
	Enabled    bool          `json:"enabled"`
	LastRun    *time.Time    `json:"last_run,omitempty"`
	NextRun    *time.Time    `json:"next_run,omitempty"`
	RunCount   int64         `json:"run_count"`
	ErrorCount int64         `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	Timeout    time.Duration `json:"timeout"`

	cron cron.Schedule
}

// TaskHandler is the function executed for a task
type TaskHandler func(ctx context.Context) error

// Schedule defines when a task runs
type Schedule struct {
	Type     ScheduleType  `json:"type"`
	Interval time.Duration `json:"interval,omitempty"` // For interval schedules
	Cron     string        `json:"cron,omitempty"`     // Standard 5-field expression
	At       string        `json:"at,omitempty"`       // For daily schedules (e.g., "03:30")
}

// ScheduleType represents the type of schedule
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval" // Run every X duration
	ScheduleDaily    ScheduleType = "daily"    // Run at specific time daily
	ScheduleCron     ScheduleType = "cron"     // Cron expression
)

// ParseCron validates a standard cron expression (with optional descriptors
// like @hourly).
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// Register adds a task to the scheduler. A task with the same ID is replaced.
func (s *Scheduler) Register(task *Task) error {
	if task.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	if task.Handler == nil {
		return fmt.Errorf("task handler is required")
	}

	switch task.Schedule.Type {
	case ScheduleInterval:
		if task.Schedule.Interval <= 0 {
			return fmt.Errorf("task %s: interval must be positive", task.ID)
		}
	case ScheduleCron:
		sched, err := ParseCron(task.Schedule.Cron)
		if err != nil {
			return fmt.Errorf("task %s: %w", task.ID, err)
		}
		task.cron = sched
	case ScheduleDaily:
	default:
		return fmt.Errorf("task %s: unknown schedule type %q", task.ID, task.Schedule.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.running[task.ID]; ok {
		cancel()
		delete(s.running, task.ID)
	}

	if task.Timeout == 0 {
		task.Timeout = 5 * time.Minute
	}

	task.CreatedAt = s.clock.Now()
	task.Enabled = true

	// Calculate next run
	nextRun := s.calculateNextRun(task)
	task.NextRun = &nextRun

	s.tasks[task.ID] = task

	// Start task if scheduler is running
	if s.started {
		s.startTask(task)
	}

	log.WithFields(map[string]interface{}{
		"task":     task.ID,
		"schedule": task.Schedule.describe(),
	}).Debug("task registered")
	return nil
}

// Unregister removes a task from the scheduler
func (s *Scheduler) Unregister(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.running[taskID]; ok {
		cancel()
		delete(s.running, taskID)
	}

	if _, ok := s.tasks[taskID]; ok {
		delete(s.tasks, taskID)
		log.WithField("task", taskID).Debug("task unregistered")
	}
}

// Has reports whether a task is registered.
func (s *Scheduler) Has(taskID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tasks[taskID]
	return ok
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}

	s.started = true

	// Start all enabled tasks
	for _, task := range s.tasks {
		if task.Enabled {
			s.startTask(task)
		}
	}

	return nil
}

// Stop stops the scheduler and waits for running handlers to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}

	s.cancel()

	// Cancel all running tasks
	for _, cancel := range s.running {
		cancel()
	}
	s.running = make(map[string]context.CancelFunc)
	s.started = false
	s.mu.Unlock()

	// Loops take the read lock while finishing
	s.wg.Wait()

	s.mu.Lock()
	// Create new context for potential restart
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()
}

// startTask starts a single task's scheduler loop
func (s *Scheduler) startTask(task *Task) {
	taskCtx, cancel := context.WithCancel(s.ctx)
	s.running[task.ID] = cancel

	s.wg.Add(1)
	go s.runTaskLoop(taskCtx, task)
}

// runTaskLoop is the main loop for a task
func (s *Scheduler) runTaskLoop(ctx context.Context, task *Task) {
	defer s.wg.Done()

	for {
		s.mu.RLock()
		next := *task.NextRun
		s.mu.RUnlock()

		// Ensure minimum wait
		waitDuration := next.Sub(s.clock.Now())
		if waitDuration < 0 {
			waitDuration = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(waitDuration):
			s.executeTask(ctx, task)
		}
	}
}

// executeTask executes a single task
func (s *Scheduler) executeTask(ctx context.Context, task *Task) {
	if ctx.Err() != nil {
		return
	}

	// Create timeout context
	execCtx, cancel := context.WithTimeout(ctx, task.Timeout)
	defer cancel()

	// Update last run
	now := s.clock.Now()
	s.mu.Lock()
	task.LastRun = &now
	task.RunCount++
	s.mu.Unlock()

	// Execute handler
	err := task.Handler(execCtx)

	// Update status
	s.mu.Lock()
	if err != nil {
		task.ErrorCount++
		task.LastError = err.Error()
	} else {
		task.LastError = ""
	}

	// Calculate next run
	nextRun := s.calculateNextRun(task)
	task.NextRun = &nextRun
	s.mu.Unlock()

	if err != nil {
		log.WithField("task", task.ID).WithError(err).Warn("task failed")
	}
}

// calculateNextRun calculates the next run time for a task
func (s *Scheduler) calculateNextRun(task *Task) time.Time {
	now := s.clock.Now().In(s.timezone)
	schedule := task.Schedule

	switch schedule.Type {
	case ScheduleInterval:
		return now.Add(schedule.Interval)

	case ScheduleCron:
		return task.cron.Next(now)

	case ScheduleDaily:
		// Parse time
		hour, minute := 3, 0
		fmt.Sscanf(schedule.At, "%d:%d", &hour, &minute)

		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, s.timezone)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next

	default:
		return now.Add(time.Hour)
	}
}

func (sc Schedule) describe() string {
	switch sc.Type {
	case ScheduleInterval:
		return "every " + sc.Interval.String()
	case ScheduleCron:
		return "cron " + sc.Cron
	case ScheduleDaily:
		return "daily at " + sc.At
	}
	return string(sc.Type)
}

// RunNow executes a task immediately, outside its schedule.
func (s *Scheduler) RunNow(taskID string) error {
	s.mu.RLock()
	task, ok := s.tasks[taskID]
	ctx := s.ctx
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("task not found: %s", taskID)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.executeTask(ctx, task)
	}()
	return nil
}

// GetTask returns a snapshot of a task by ID
func (s *Scheduler) GetTask(taskID string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Started:      s.started,
		TotalTasks:   len(s.tasks),
		RunningTasks: len(s.running),
		Timezone:     s.timezone.String(),
	}

	for _, task := range s.tasks {
		if task.Enabled {
			stats.EnabledTasks++
		}
		stats.TotalRuns += task.RunCount
		stats.TotalErrors += task.ErrorCount
	}

	return stats
}

// Stats contains scheduler statistics
type Stats struct {
	Started      bool   `json:"started"`
	TotalTasks   int    `json:"total_tasks"`
	EnabledTasks int    `json:"enabled_tasks"`
	RunningTasks int    `json:"running_tasks"`
	TotalRuns    int64  `json:"total_runs"`
	TotalErrors  int64  `json:"total_errors"`
	Timezone     string `json:"timezone"`
}

// TaskBuilder provides fluent API for building tasks
type TaskBuilder struct {
	task *Task
}

// NewTask creates a new task builder
func NewTask(id string) *TaskBuilder {
	return &TaskBuilder{
		task: &Task{
			ID:      id,
			Enabled: true,
			Timeout: 5 * time.Minute,
		},
	}
}

// Name sets the task name
func (b *TaskBuilder) Name(name string) *TaskBuilder {
	b.task.Name = name
	return b
}

// Every sets an interval schedule
func (b *TaskBuilder) Every(interval time.Duration) *TaskBuilder {
	b.task.Schedule = Schedule{Type: ScheduleInterval, Interval: interval}
	return b
}

// Cron sets a cron schedule
func (b *TaskBuilder) Cron(expr string) *TaskBuilder {
	b.task.Schedule = Schedule{Type: ScheduleCron, Cron: expr}
	return b
}

// Daily sets a daily schedule
func (b *TaskBuilder) Daily(at string) *TaskBuilder {
	b.task.Schedule = Schedule{Type: ScheduleDaily, At: at}
	return b
}

// Timeout sets the task timeout
func (b *TaskBuilder) Timeout(timeout time.Duration) *TaskBuilder {
	b.task.Timeout = timeout
	return b
}

// Handler sets the task handler
func (b *TaskBuilder) Handler(handler TaskHandler) *TaskBuilder {
	b.task.Handler = handler
	return b
}

// Build returns the constructed task
func (b *TaskBuilder) Build() *Task {
	return b.task
}
