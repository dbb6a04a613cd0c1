package api

import (
	"fmt"
	"regexp"
	"time"

	"autoai/internal/db"
)

// Field length limits, matching the store schema.
const (
	maxNameLength     = 100
	maxEndpointLength = 500
	maxAPIKeyLength   = 500
	maxModelLength    = 100
)

var fixedTimePattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// TaskRequest is the create-task payload. The API key arrives in plain
// form and is encrypted before it reaches the store.
type TaskRequest struct {
	Name            string          `json:"name"`
	APIEndpoint     string          `json:"api_endpoint"`
	APIKey          string          `json:"api_key"`
	ScheduleType    db.ScheduleType `json:"schedule_type"`
	IntervalMinutes *int            `json:"interval_minutes"`
	IntervalSeconds *int            `json:"interval_seconds"`
	FixedTime       *string         `json:"fixed_time"`
	MessageContent  string          `json:"message_content"`
	Model           string          `json:"model"`
	Enabled         *bool           `json:"enabled"`
}

// TaskResponse mirrors a Task with the API key masked.
type TaskResponse struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	APIEndpoint     string          `json:"api_endpoint"`
	APIKey          string          `json:"api_key"`
	ScheduleType    db.ScheduleType `json:"schedule_type"`
	IntervalMinutes *int            `json:"interval_minutes"`
	IntervalSeconds *int            `json:"interval_seconds"`
	FixedTime       *string         `json:"fixed_time"`
	MessageContent  string          `json:"message_content"`
	Model           string          `json:"model"`
	Enabled         bool            `json:"enabled"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	NextRunAt       *time.Time      `json:"next_run_at,omitempty"`
}

// TaskListResponse wraps the task collection.
type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Total int            `json:"total"`
}

// LoginRequest carries the admin password.
type LoginRequest struct {
	Password string `json:"password"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status string `json:"status"`
}

func validateCommonFields(name, endpoint, message, model string) error {
	if name == "" || len(name) > maxNameLength {
		return fmt.Errorf("name must be 1-%d characters", maxNameLength)
	}
	if endpoint == "" || len(endpoint) > maxEndpointLength {
		return fmt.Errorf("api_endpoint must be 1-%d characters", maxEndpointLength)
	}
	if message == "" {
		return fmt.Errorf("message_content must not be empty")
	}
	if model == "" || len(model) > maxModelLength {
		return fmt.Errorf("model must be 1-%d characters", maxModelLength)
	}
	return nil
}

// validateSchedule checks the discriminator-specific field group.
func validateSchedule(scheduleType db.ScheduleType, minutes, seconds *int, fixedTime *string) error {
	switch scheduleType {
	case db.ScheduleInterval:
		if minutes == nil && seconds == nil {
			return fmt.Errorf("interval_minutes or interval_seconds is required when schedule_type is 'interval'")
		}
		total := 0
		if minutes != nil {
			if *minutes < 0 {
				return fmt.Errorf("interval_minutes must not be negative")
			}
			total += *minutes * 60
		}
		if seconds != nil {
			if *seconds < 0 {
				return fmt.Errorf("interval_seconds must not be negative")
			}
			total += *seconds
		}
		if total == 0 {
			return fmt.Errorf("interval must be greater than zero")
		}
	case db.ScheduleFixedTime:
		if fixedTime == nil {
			return fmt.Errorf("fixed_time is required when schedule_type is 'fixed_time'")
		}
		if !fixedTimePattern.MatchString(*fixedTime) {
			return fmt.Errorf("fixed_time must be in HH:MM format (00:00-23:59)")
		}
	default:
		return fmt.Errorf("schedule_type must be 'interval' or 'fixed_time'")
	}
	return nil
}

func (r *TaskRequest) validate() error {
	if err := validateCommonFields(r.Name, r.APIEndpoint, r.MessageContent, r.Model); err != nil {
		return err
	}
	if r.APIKey == "" || len(r.APIKey) > maxAPIKeyLength {
		return fmt.Errorf("api_key must be 1-%d characters", maxAPIKeyLength)
	}
	return validateSchedule(r.ScheduleType, r.IntervalMinutes, r.IntervalSeconds, r.FixedTime)
}

// validateMergedTask checks a task after an update intent was applied.
func validateMergedTask(task *db.Task) error {
	if err := validateCommonFields(task.Name, task.APIEndpoint, task.MessageContent, task.Model); err != nil {
		return err
	}
	return validateSchedule(task.ScheduleType, task.IntervalMinutes, task.IntervalSeconds, task.FixedTime)
}
