// Package executor performs one execution attempt for a task and
// persists exactly one outcome record, or none when the task vanished
// or was disabled between scheduling and firing.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"autoai/internal/db"
	"autoai/internal/openai"
	"autoai/internal/secrets"
)

// ChatClient sends one chat-completion request. Satisfied by
// *openai.Client.
type ChatClient interface {
	SendMessage(ctx context.Context, endpoint, apiKey, message, model string) (*openai.Response, error)
}

// Executor is the execution runner shared by scheduled and immediate
// firings.
type Executor struct {
	db     *db.DB
	client ChatClient
	codec  *secrets.Codec
	log    zerolog.Logger
}

// New creates an executor.
func New(database *db.DB, client ChatClient, codec *secrets.Codec, log zerolog.Logger) *Executor {
	return &Executor{
		db:     database,
		client: client,
		codec:  codec,
		log:    log.With().Str("component", "executor").Logger(),
	}
}

// Execute runs one execution attempt for taskID. The task row is
// re-read so edits or deletion after scheduling take effect; the runner
// is the final enablement gate. Every attempted execution writes one
// log row; errors never propagate to the caller.
func (e *Executor) Execute(ctx context.Context, taskID int64) {
	e.log.Info().Int64("task_id", taskID).Msg("executing task")

	task, err := e.db.GetTask(taskID)
	if errors.Is(err, db.ErrNotFound) {
		e.log.Error().Int64("task_id", taskID).Msg("task not found, skipping execution")
		return
	}
	if err != nil {
		e.log.Error().Int64("task_id", taskID).Err(err).Msg("failed to load task")
		return
	}
	if !task.Enabled {
		e.log.Info().Int64("task_id", taskID).Msg("task is disabled, skipping execution")
		return
	}

	// The timestamp is captured here, not left to storage defaults.
	record := &db.ExecutionLog{
		TaskID:     taskID,
		ExecutedAt: time.Now().UTC(),
	}

	summary, err := e.attempt(ctx, task)

	var apiErr *openai.APIError
	switch {
	case err == nil:
		record.Status = db.StatusSuccess
		record.ResponseSummary = &summary
		e.log.Info().Int64("task_id", taskID).Msg("task executed successfully")
	case errors.As(err, &apiErr):
		record.Status = db.StatusFailed
		msg := apiErr.Message
		record.ErrorMessage = &msg
		e.log.Error().Int64("task_id", taskID).Str("error", apiErr.Message).Msg("task failed")
	default:
		record.Status = db.StatusFailed
		msg := fmt.Sprintf("Unexpected error: %s", err)
		record.ErrorMessage = &msg
		e.log.Error().Int64("task_id", taskID).Err(err).Msg("task failed with unexpected error")
	}

	if err := e.db.CreateExecutionLog(record); err != nil {
		e.log.Error().Int64("task_id", taskID).Err(err).Msg("failed to save execution log")
	}
}

// attempt decrypts the credential and performs the outbound call. A
// panic anywhere below surfaces as an error so the runner still writes
// its outcome record.
func (e *Executor) attempt(ctx context.Context, task *db.Task) (summary string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during execution: %v", r)
		}
	}()

	apiKey, err := e.codec.Decrypt(task.APIKey)
	if err != nil {
		return "", err
	}

	e.log.Info().Int64("task_id", task.ID).Str("api_key", secrets.Mask(apiKey)).
		Msg("calling chat completion API")

	resp, err := e.client.SendMessage(ctx, task.APIEndpoint, apiKey, task.MessageContent, task.Model)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s (耗时: %dms)", resp.Summary, resp.ElapsedMS), nil
}
