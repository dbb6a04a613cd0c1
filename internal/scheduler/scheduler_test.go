package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoai/internal/db"
)

type fakeRunner struct {
	mu  sync.Mutex
	ids []int64
}

func (f *fakeRunner) Execute(_ context.Context, taskID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, taskID)
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func intervalTask(id int64, minutes, seconds int) *db.Task {
	return &db.Task{
		ID:              id,
		Name:            "interval task",
		ScheduleType:    db.ScheduleInterval,
		IntervalMinutes: intPtr(minutes),
		IntervalSeconds: intPtr(seconds),
		Enabled:         true,
	}
}

func fixedTimeTask(id int64, at string) *db.Task {
	return &db.Task{
		ID:           id,
		Name:         "fixed time task",
		ScheduleType: db.ScheduleFixedTime,
		FixedTime:    strPtr(at),
		Enabled:      true,
	}
}

func newTestScheduler(t *testing.T) (*Scheduler, *fakeRunner) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "autoai.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	runner := &fakeRunner{}
	sched := New(database, runner, zerolog.Nop())
	sched.drainTimeout = 500 * time.Millisecond
	t.Cleanup(sched.Stop)
	return sched, runner
}

func seedTask(t *testing.T, database *db.DB, task *db.Task) *db.Task {
	t.Helper()
	task.APIEndpoint = "https://api.example.com"
	task.APIKey = "ciphertext"
	task.MessageContent = "ping"
	task.Model = "gpt-4o-mini"
	require.NoError(t, database.CreateTask(task))
	return task
}

func TestStartRegistersAllEnabledTasks(t *testing.T) {
	database, err := db.New(filepath.Join(t.TempDir(), "autoai.db"))
	require.NoError(t, err)
	defer database.Close()

	seedTask(t, database, &db.Task{Name: "a", ScheduleType: db.ScheduleInterval, IntervalMinutes: intPtr(5), Enabled: true})
	seedTask(t, database, &db.Task{Name: "b", ScheduleType: db.ScheduleFixedTime, FixedTime: strPtr("14:00"), Enabled: true})
	seedTask(t, database, &db.Task{Name: "c", ScheduleType: db.ScheduleInterval, IntervalMinutes: intPtr(1), Enabled: false})
	// A bad row must not abort the batch.
	seedTask(t, database, &db.Task{Name: "d", ScheduleType: db.ScheduleInterval, IntervalMinutes: intPtr(0), IntervalSeconds: intPtr(0), Enabled: true})

	sched := New(database, &fakeRunner{}, zerolog.Nop())
	defer sched.Stop()

	require.NoError(t, sched.Start())
	assert.Equal(t, 2, sched.JobCount())
}

func TestRegisterOrReplaceIsIdempotent(t *testing.T) {
	sched, _ := newTestScheduler(t)
	task := intervalTask(1, 5, 0)

	for i := 0; i < 5; i++ {
		require.NoError(t, sched.RegisterOrReplace(task))
	}
	assert.Equal(t, 1, sched.JobCount())
	assert.True(t, sched.HasJob(1))
}

func TestRegisterOrReplaceDisabledTaskRemovesJob(t *testing.T) {
	sched, _ := newTestScheduler(t)
	task := intervalTask(1, 5, 0)
	require.NoError(t, sched.RegisterOrReplace(task))
	require.True(t, sched.HasJob(1))

	task.Enabled = false
	require.NoError(t, sched.RegisterOrReplace(task))
	assert.False(t, sched.HasJob(1))
	assert.Equal(t, 0, sched.JobCount())
}

func TestRegisterOrReplaceScheduleSwitch(t *testing.T) {
	sched, _ := newTestScheduler(t)
	require.NoError(t, sched.Start())

	require.NoError(t, sched.RegisterOrReplace(intervalTask(1, 60, 0)))
	require.NoError(t, sched.RegisterOrReplace(fixedTimeTask(1, "14:00")))

	assert.Equal(t, 1, sched.JobCount())
	next, ok := sched.NextRun(1)
	require.True(t, ok)
	assert.Equal(t, 14, next.Hour())
	assert.Equal(t, 0, next.Minute())
}

func TestRegisterOrReplaceZeroPeriodInterval(t *testing.T) {
	sched, _ := newTestScheduler(t)
	task := intervalTask(1, 0, 0)

	require.Error(t, sched.RegisterOrReplace(task))
	assert.False(t, sched.HasJob(1))
}

func TestRegisterOrReplaceUnknownScheduleType(t *testing.T) {
	sched, _ := newTestScheduler(t)
	task := &db.Task{ID: 99, Name: "odd", ScheduleType: "yearly", Enabled: true}

	// Defensive: logged and skipped, not surfaced as an error.
	require.NoError(t, sched.RegisterOrReplace(task))
	assert.False(t, sched.HasJob(99))
}

func TestUnregister(t *testing.T) {
	sched, _ := newTestScheduler(t)
	require.NoError(t, sched.RegisterOrReplace(intervalTask(1, 5, 0)))

	assert.True(t, sched.Unregister(1))
	assert.False(t, sched.HasJob(1))
	// Removing an absent job is not an error.
	assert.False(t, sched.Unregister(1))
	assert.False(t, sched.Unregister(12345))
}

func TestIntervalNextFireSpacing(t *testing.T) {
	sched, _ := newTestScheduler(t)
	require.NoError(t, sched.Start())

	before := time.Now()
	require.NoError(t, sched.RegisterOrReplace(intervalTask(1, 5, 30)))

	var next time.Time
	require.Eventually(t, func() bool {
		var ok bool
		next, ok = sched.NextRun(1)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	spacing := next.Sub(before)
	assert.InDelta(t, (5*60 + 30), spacing.Seconds(), 2.0,
		"first fire should be one full period after registration")
}

func TestFixedTimeFiresDaily(t *testing.T) {
	sched, _ := newTestScheduler(t)
	require.NoError(t, sched.Start())
	require.NoError(t, sched.RegisterOrReplace(fixedTimeTask(1, "09:45")))

	var next time.Time
	require.Eventually(t, func() bool {
		var ok bool
		next, ok = sched.NextRun(1)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 45, next.Minute())
	assert.True(t, next.After(time.Now().Add(-time.Minute)))
	assert.True(t, next.Before(time.Now().Add(24*time.Hour+time.Minute)))
}

func TestTriggerImmediateDispatchesIntervalTask(t *testing.T) {
	sched, runner := newTestScheduler(t)
	require.NoError(t, sched.Start())

	task := intervalTask(7, 60, 0)
	require.NoError(t, sched.RegisterOrReplace(task))

	assert.True(t, sched.TriggerImmediate(task))
	require.Eventually(t, func() bool { return runner.count() == 1 },
		2*time.Second, 10*time.Millisecond)
	runner.mu.Lock()
	assert.Equal(t, int64(7), runner.ids[0])
	runner.mu.Unlock()
}

func TestTriggerImmediateSkipsFixedTimeTask(t *testing.T) {
	sched, runner := newTestScheduler(t)
	require.NoError(t, sched.Start())

	assert.False(t, sched.TriggerImmediate(fixedTimeTask(1, "14:00")))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, runner.count())
}

func TestTriggerImmediateSkipsDisabledTask(t *testing.T) {
	sched, runner := newTestScheduler(t)
	require.NoError(t, sched.Start())

	task := intervalTask(1, 5, 0)
	task.Enabled = false
	assert.False(t, sched.TriggerImmediate(task))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, runner.count())
}

func TestTriggerImmediateSkipsWhenNotRunning(t *testing.T) {
	sched, runner := newTestScheduler(t)

	// Scheduler never started: the attempt is skipped with a warning,
	// the regular trigger will run the task once Start is called.
	assert.False(t, sched.TriggerImmediate(intervalTask(1, 5, 0)))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, runner.count())
}

func TestStopDrainsInflightExecutions(t *testing.T) {
	sched, runner := newTestScheduler(t)
	require.NoError(t, sched.Start())

	task := intervalTask(3, 60, 0)
	require.True(t, sched.TriggerImmediate(task))

	sched.Stop()
	assert.Equal(t, 1, runner.count())
}

func TestStopIsIdempotent(t *testing.T) {
	sched, _ := newTestScheduler(t)
	require.NoError(t, sched.Start())
	sched.Stop()
	sched.Stop()
}
