package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule represents a recurring background job
type Schedule struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CronExpr  string    `json:"cron_expr"`
	Enabled   bool      `json:"enabled"`
	LastRun   time.Time `json:"last_run"`
	NextRun   time.Time `json:"next_run"`
	RunCount  int       `json:"run_count"`
	FailCount int       `json:"fail_count"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Job is the work behind a schedule
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc adapts a function to Job
type JobFunc func(ctx context.Context) error

// Run calls f(ctx)
func (f JobFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Scheduler manages cron driven jobs
type Scheduler struct {
	mu        sync.RWMutex
	cron      *cron.Cron
	schedules map[string]*Schedule
	jobs      map[string]Job
	entries   map[string]cron.EntryID
	running   bool
	logger    *slog.Logger
	inflight  sync.WaitGroup
}

// NewScheduler creates a new scheduler using standard five-field cron
// expressions
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:      cron.New(),
		schedules: make(map[string]*Schedule),
		jobs:      make(map[string]Job),
		entries:   make(map[string]cron.EntryID),
		logger:    logger,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	s.cron.Start()
	s.running = true
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not running")
	}
	ctx := s.cron.Stop()
	s.running = false
	s.mu.Unlock()

	<-ctx.Done()
	s.inflight.Wait()
	return nil
}

// AddSchedule registers a job under schedule.ID
func (s *Scheduler) AddSchedule(schedule *Schedule, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schedules[schedule.ID]; exists {
		return fmt.Errorf("schedule %s already exists", schedule.ID)
	}

	cronSchedule, err := cron.ParseStandard(schedule.CronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	now := time.Now()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	schedule.NextRun = cronSchedule.Next(now)

	s.schedules[schedule.ID] = schedule
	s.jobs[schedule.ID] = job

	if schedule.Enabled {
		if err := s.activate(schedule.ID); err != nil {
			delete(s.schedules, schedule.ID)
			delete(s.jobs, schedule.ID)
			return err
		}
	}
	return nil
}

// activate must be called with s.mu held
func (s *Scheduler) activate(id string) error {
	entryID, err := s.cron.AddFunc(s.schedules[id].CronExpr, func() {
		s.execute(id)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	s.entries[id] = entryID
	return nil
}

// RemoveSchedule removes a schedule
func (s *Scheduler) RemoveSchedule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schedules[id]; !exists {
		return fmt.Errorf("schedule %s not found", id)
	}
	if entryID, exists := s.entries[id]; exists {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	delete(s.schedules, id)
	delete(s.jobs, id)
	return nil
}

// GetSchedule returns a copy of a schedule
func (s *Scheduler) GetSchedule(id string) (Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedule, exists := s.schedules[id]
	if !exists {
		return Schedule{}, fmt.Errorf("schedule %s not found", id)
	}
	return *schedule, nil
}

// ListSchedules returns copies of all schedules ordered by ID
func (s *Scheduler) ListSchedules() []Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedules := make([]Schedule, 0, len(s.schedules))
	for _, schedule := range s.schedules {
		schedules = append(schedules, *schedule)
	}
	sort.Slice(schedules, func(i, j int) bool { return schedules[i].ID < schedules[j].ID })
	return schedules
}

// EnableSchedule enables a schedule
func (s *Scheduler) EnableSchedule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, exists := s.schedules[id]
	if !exists {
		return fmt.Errorf("schedule %s not found", id)
	}
	if schedule.Enabled {
		return nil
	}
	if err := s.activate(id); err != nil {
		return err
	}
	schedule.Enabled = true
	schedule.UpdatedAt = time.Now()
	return nil
}

// DisableSchedule disables a schedule
func (s *Scheduler) DisableSchedule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, exists := s.schedules[id]
	if !exists {
		return fmt.Errorf("schedule %s not found", id)
	}
	if !schedule.Enabled {
		return nil
	}
	if entryID, exists := s.entries[id]; exists {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	schedule.Enabled = false
	schedule.UpdatedAt = time.Now()
	return nil
}

// RunNow executes a schedule immediately in the background
func (s *Scheduler) RunNow(id string) error {
	s.mu.RLock()
	_, exists := s.schedules[id]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("schedule %s not found", id)
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.execute(id)
	}()
	return nil
}

// Wait blocks until jobs started by RunNow have finished
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

func (s *Scheduler) execute(id string) {
	s.mu.Lock()
	schedule, exists := s.schedules[id]
	if !exists {
		s.mu.Unlock()
		return
	}
	job := s.jobs[id]
	schedule.LastRun = time.Now()
	schedule.RunCount++
	s.mu.Unlock()

	err := job.Run(context.Background())

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		schedule.FailCount++
		schedule.LastError = err.Error()
		s.logger.Error("scheduled job failed", "schedule", id, "error", err)
	} else {
		schedule.LastError = ""
	}

	if cronSchedule, parseErr := cron.ParseStandard(schedule.CronExpr); parseErr == nil {
		schedule.NextRun = cronSchedule.Next(time.Now())
	}
}

// SchedulerStats summarizes registered schedules
type SchedulerStats struct {
	TotalSchedules    int       `json:"total_schedules"`
	ActiveSchedules   int       `json:"active_schedules"`
	DisabledSchedules int       `json:"disabled_schedules"`
	NextRun           time.Time `json:"next_run"`
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() SchedulerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := SchedulerStats{
		TotalSchedules: len(s.schedules),
	}

	var nextRun time.Time
	for _, schedule := range s.schedules {
		if schedule.Enabled {
			stats.ActiveSchedules++
			if nextRun.IsZero() || schedule.NextRun.Before(nextRun) {
				nextRun = schedule.NextRun
			}
		} else {
			stats.DisabledSchedules++
		}
	}

	stats.NextRun = nextRun
	return stats
}
