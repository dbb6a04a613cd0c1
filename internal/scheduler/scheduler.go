// Package scheduler owns the mapping from enabled tasks to recurring
// cron jobs and dispatches immediate out-of-band executions.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"autoai/internal/db"
)

// Runner performs one execution attempt for a task id. Satisfied by
// *executor.Executor.
type Runner interface {
	Execute(ctx context.Context, taskID int64)
}

// Scheduler maps each enabled task to exactly one cron entry. Jobs are
// keyed by task id, so registration is idempotent and survives process
// restarts: Start rebuilds the mapping from the store.
//
// Firings of the same job may overlap; each firing runs in its own
// goroutine and writes its own outcome row, so there is no shared
// execution state to serialize.
type Scheduler struct {
	cron   *cron.Cron
	db     *db.DB
	runner Runner
	log    zerolog.Logger

	mu      sync.Mutex
	jobs    map[int64]cron.EntryID
	running bool

	// in-flight immediate executions, drained best-effort on Stop
	inflight     sync.WaitGroup
	drainTimeout time.Duration
}

// New creates a scheduler. It does not start ticking until Start.
func New(database *db.DB, runner Runner, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:         cron.New(),
		db:           database,
		runner:       runner,
		log:          log.With().Str("component", "scheduler").Logger(),
		jobs:         make(map[int64]cron.EntryID),
		drainTimeout: 5 * time.Second,
	}
}

// Start registers every enabled task from the store and starts the
// clock. A task that fails to register does not abort the batch; the
// task row stays authoritative and registration heals on next startup.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	tasks, err := s.db.ListEnabledTasks()
	if err != nil {
		return fmt.Errorf("loading enabled tasks: %w", err)
	}

	registered := 0
	for _, task := range tasks {
		if err := s.registerLocked(task); err != nil {
			s.log.Error().Int64("task_id", task.ID).Err(err).Msg("failed to register task")
			continue
		}
		registered++
	}

	s.cron.Start()
	s.running = true
	s.log.Info().Int("tasks", registered).Msg("scheduler started")
	return nil
}

// Stop halts the clock without waiting for future fires and drains
// in-flight immediate executions best-effort. It does not guarantee
// their completion.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	cronCtx := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		<-cronCtx.Done()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.drainTimeout):
		s.log.Warn().Msg("shutdown drain timed out, abandoning in-flight executions")
	}
	s.log.Info().Msg("scheduler stopped")
}

// RegisterOrReplace (re)registers the job for task. Any existing job
// for the same id is removed first, so schedule changes never leave a
// stale trigger behind. A disabled task ends up with no job.
func (s *Scheduler) RegisterOrReplace(task *db.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registerLocked(task)
}

func (s *Scheduler) registerLocked(task *db.Task) error {
	if entryID, ok := s.jobs[task.ID]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, task.ID)
	}

	if !task.Enabled {
		s.log.Debug().Int64("task_id", task.ID).Msg("task is disabled, skipping registration")
		return nil
	}

	var spec, desc string
	switch task.ScheduleType {
	case db.ScheduleInterval:
		total := task.IntervalTotalSeconds()
		if total <= 0 {
			return fmt.Errorf("interval task %d has a zero period", task.ID)
		}
		// First natural firing is one full period out; creation-time
		// runs are dispatched separately via TriggerImmediate.
		spec = fmt.Sprintf("@every %ds", total)
		desc = describeInterval(total)
	case db.ScheduleFixedTime:
		hour, minute, err := parseFixedTime(task.FixedTime)
		if err != nil {
			return fmt.Errorf("fixed_time task %d: %w", task.ID, err)
		}
		spec = fmt.Sprintf("%d %d * * *", minute, hour)
		desc = fmt.Sprintf("daily at %s", *task.FixedTime)
	default:
		// Unreachable given upstream validation.
		s.log.Error().Int64("task_id", task.ID).Str("schedule_type", string(task.ScheduleType)).
			Msg("unknown schedule type")
		return nil
	}

	taskID := task.ID
	entryID, err := s.cron.AddFunc(spec, func() {
		s.runner.Execute(context.Background(), taskID)
	})
	if err != nil {
		return fmt.Errorf("adding cron entry: %w", err)
	}

	s.jobs[task.ID] = entryID
	s.log.Info().Int64("task_id", task.ID).Str("name", task.Name).Str("schedule", desc).
		Msg("registered task")
	return nil
}

// Unregister removes the job for taskID. Removing an absent job is not
// an error; the result reports whether a job was found.
func (s *Scheduler) Unregister(taskID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.jobs[taskID]
	if !ok {
		s.log.Debug().Int64("task_id", taskID).Msg("no job to unregister")
		return false
	}
	s.cron.Remove(entryID)
	delete(s.jobs, taskID)
	s.log.Info().Int64("task_id", taskID).Msg("unregistered task")
	return true
}

// TriggerImmediate dispatches one out-of-band execution for a freshly
// created or updated interval task. Fixed-time tasks only ever fire at
// their daily time, and disabled tasks never fire. The execution is not
// awaited; it is tracked only so Stop can attempt a drain. Reports
// whether an execution was dispatched.
func (s *Scheduler) TriggerImmediate(task *db.Task) bool {
	if task.ScheduleType != db.ScheduleInterval || !task.Enabled {
		return false
	}

	if !s.RunNow(task.ID) {
		return false
	}
	s.log.Info().Int64("task_id", task.ID).Str("name", task.Name).
		Msg("dispatched immediate execution")
	return true
}

// RunNow dispatches one out-of-band execution for taskID without the
// interval/enablement gate; the runner re-checks enablement against the
// store. Skipped with a warning when the scheduler is not running.
func (s *Scheduler) RunNow(taskID int64) bool {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		s.log.Warn().Int64("task_id", taskID).
			Msg("scheduler not running, cannot immediately execute task")
		return false
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Int64("task_id", taskID).Any("panic", r).
					Msg("immediate execution panicked")
			}
		}()
		s.runner.Execute(context.Background(), taskID)
	}()
	return true
}

// HasJob reports whether a job is registered for taskID.
func (s *Scheduler) HasJob(taskID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[taskID]
	return ok
}

// JobCount returns the number of registered jobs.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// NextRun returns the next firing time for taskID's job, if one is
// registered and the scheduler is running.
func (s *Scheduler) NextRun(taskID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.jobs[taskID]
	if !ok {
		return time.Time{}, false
	}
	next := s.cron.Entry(entryID).Next
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

func parseFixedTime(v *string) (hour, minute int, err error) {
	if v == nil {
		return 0, 0, fmt.Errorf("missing fixed_time")
	}
	parts := strings.SplitN(*v, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed fixed_time %q", *v)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("malformed fixed_time %q", *v)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("malformed fixed_time %q", *v)
	}
	return hour, minute, nil
}

func describeInterval(totalSeconds int) string {
	mins, secs := totalSeconds/60, totalSeconds%60
	switch {
	case mins > 0 && secs > 0:
		return fmt.Sprintf("every %dm %ds", mins, secs)
	case mins > 0:
		return fmt.Sprintf("every %d minutes", mins)
	default:
		return fmt.Sprintf("every %d seconds", secs)
	}
}
