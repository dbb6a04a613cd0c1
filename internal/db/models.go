package db

import "time"

// ScheduleType discriminates how a task's trigger is built.
type ScheduleType string

const (
	ScheduleInterval  ScheduleType = "interval"
	ScheduleFixedTime ScheduleType = "fixed_time"
)

// Task is a scheduled AI task definition. APIKey holds ciphertext; the
// plain credential exists only transiently inside the execution runner.
type Task struct {
	ID              int64        `json:"id"`
	Name            string       `json:"name"`
	APIEndpoint     string       `json:"api_endpoint"`
	APIKey          string       `json:"-"`
	ScheduleType    ScheduleType `json:"schedule_type"`
	IntervalMinutes *int         `json:"interval_minutes,omitempty"`
	IntervalSeconds *int         `json:"interval_seconds,omitempty"`
	FixedTime       *string      `json:"fixed_time,omitempty"`
	MessageContent  string       `json:"message_content"`
	Model           string       `json:"model"`
	Enabled         bool         `json:"enabled"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// IntervalTotalSeconds returns the combined interval length. Only
// meaningful for interval tasks.
func (t *Task) IntervalTotalSeconds() int {
	total := 0
	if t.IntervalMinutes != nil {
		total += *t.IntervalMinutes * 60
	}
	if t.IntervalSeconds != nil {
		total += *t.IntervalSeconds
	}
	return total
}

// TaskUpdate is a sparse update intent: nil fields were omitted by the
// caller and keep their current value.
type TaskUpdate struct {
	Name            *string       `json:"name"`
	APIEndpoint     *string       `json:"api_endpoint"`
	APIKey          *string       `json:"api_key"`
	ScheduleType    *ScheduleType `json:"schedule_type"`
	IntervalMinutes *int          `json:"interval_minutes"`
	IntervalSeconds *int          `json:"interval_seconds"`
	FixedTime       *string       `json:"fixed_time"`
	MessageContent  *string       `json:"message_content"`
	Model           *string       `json:"model"`
	Enabled         *bool         `json:"enabled"`
}

// ApplyTo merges the provided fields onto task. When the schedule type
// switches, the fields belonging to the previous type are cleared so a
// task never carries both schedule groups at once.
func (u *TaskUpdate) ApplyTo(task *Task) {
	if u.Name != nil {
		task.Name = *u.Name
	}
	if u.APIEndpoint != nil {
		task.APIEndpoint = *u.APIEndpoint
	}
	if u.APIKey != nil {
		task.APIKey = *u.APIKey
	}
	if u.ScheduleType != nil {
		task.ScheduleType = *u.ScheduleType
	}
	if u.IntervalMinutes != nil {
		task.IntervalMinutes = u.IntervalMinutes
	}
	if u.IntervalSeconds != nil {
		task.IntervalSeconds = u.IntervalSeconds
	}
	if u.FixedTime != nil {
		task.FixedTime = u.FixedTime
	}
	if u.MessageContent != nil {
		task.MessageContent = *u.MessageContent
	}
	if u.Model != nil {
		task.Model = *u.Model
	}
	if u.Enabled != nil {
		task.Enabled = *u.Enabled
	}

	switch task.ScheduleType {
	case ScheduleInterval:
		task.FixedTime = nil
	case ScheduleFixedTime:
		task.IntervalMinutes = nil
		task.IntervalSeconds = nil
	}
}

// ExecutionStatus is the outcome of one execution attempt.
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusFailed  ExecutionStatus = "failed"
)

// ExecutionLog records one execution attempt. Rows are written once by
// the runner and never mutated; they are removed only by cascade when
// the owning task is deleted. ResponseSummary and ErrorMessage are
// mutually exclusive.
type ExecutionLog struct {
	ID              int64           `json:"id"`
	TaskID          int64           `json:"task_id"`
	ExecutedAt      time.Time       `json:"executed_at"`
	Status          ExecutionStatus `json:"status"`
	ResponseSummary *string         `json:"response_summary,omitempty"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
}
