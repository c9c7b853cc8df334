package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ndelin/aide/internal/domain"
	"github.com/ndelin/aide/internal/store"
)

var errNoRecoveryOperation = errors.New("recovery options carry no operation")

// operation is the payload staged by a terminal oracle record for later
// confirmation or recovery.
type operation struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params"`
}

// recoveryPlan is the recoveryOptions payload: the failed operation plus
// optional substitute parameters for the use_alternatives path.
type recoveryPlan struct {
	Operation    json.RawMessage `json:"operation"`
	Alternatives json.RawMessage `json:"alternatives"`
}

// Runner executes confirmed operations against the store and summarizes
// the outcome in speakable text.
type Runner struct {
	repo store.Repository
}

// NewRunner creates a runner backed by repo.
func NewRunner(repo store.Repository) *Runner {
	return &Runner{repo: repo}
}

// Execute runs the operation described by data for userID and returns a
// spoken summary.
func (r *Runner) Execute(ctx context.Context, userID string, data []byte) (string, error) {
	return r.execute(ctx, userID, data, false)
}

// ExecuteRecovery reruns the operation embedded in a recovery plan. With
// useAlternatives the plan's substitute parameters replace the originals
// and resulting records are marked as locally sourced.
func (r *Runner) ExecuteRecovery(ctx context.Context, userID string, options []byte, useAlternatives bool) (string, error) {
	var plan recoveryPlan
	if err := json.Unmarshal(options, &plan); err != nil {
		return "", fmt.Errorf("parse recovery options: %w", err)
	}
	if len(plan.Operation) == 0 {
		return "", errNoRecoveryOperation
	}

	opData := plan.Operation
	if useAlternatives && len(plan.Alternatives) > 0 {
		var op operation
		if err := json.Unmarshal(plan.Operation, &op); err != nil {
			return "", fmt.Errorf("parse recovery operation: %w", err)
		}
		op.Params = plan.Alternatives
		merged, err := json.Marshal(op)
		if err != nil {
			return "", fmt.Errorf("merge alternative params: %w", err)
		}
		opData = merged
	}

	return r.execute(ctx, userID, opData, useAlternatives)
}

func (r *Runner) execute(ctx context.Context, userID string, data []byte, localSource bool) (string, error) {
	var op operation
	if err := json.Unmarshal(data, &op); err != nil {
		return "", fmt.Errorf("parse operation: %w", err)
	}

	switch op.Action {
	case "create_task":
		return r.createTask(ctx, userID, op.Params)
	case "complete_task":
		return r.completeTask(ctx, userID, op.Params)
	case "delete_task":
		return r.deleteTask(ctx, userID, op.Params)
	case "create_event":
		return r.createEvent(ctx, userID, op.Params, localSource)
	case "delete_event":
		return r.deleteEvent(ctx, userID, op.Params)
	case "create_journal_entry":
		return r.createJournalEntry(ctx, userID, op.Params)
	default:
		return "", fmt.Errorf("unknown action %q", op.Action)
	}
}

func (r *Runner) createTask(ctx context.Context, userID string, params json.RawMessage) (string, error) {
	var p struct {
		Title string `json:"title"`
		Notes string `json:"notes"`
		DueAt string `json:"dueAt"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", fmt.Errorf("create_task params: %w", err)
	}
	if p.Title == "" {
		return "", fmt.Errorf("create_task: missing title")
	}

	now := time.Now()
	task := &domain.Task{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     p.Title,
		Notes:     p.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if p.DueAt != "" {
		due, err := time.Parse(time.RFC3339, p.DueAt)
		if err != nil {
			return "", fmt.Errorf("create_task: bad dueAt: %w", err)
		}
		task.DueAt = &due
	}

	if err := r.repo.CreateTask(ctx, task); err != nil {
		return "", err
	}
	return fmt.Sprintf("I've added %q to your tasks.", p.Title), nil
}

func (r *Runner) completeTask(ctx context.Context, userID string, params json.RawMessage) (string, error) {
	var p struct {
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", fmt.Errorf("complete_task params: %w", err)
	}
	if p.TaskID == "" {
		return "", fmt.Errorf("complete_task: missing taskId")
	}

	task, err := r.repo.GetTask(ctx, userID, p.TaskID)
	if err != nil {
		return "", err
	}
	if task == nil {
		return "", fmt.Errorf("complete_task: task %s not found", p.TaskID)
	}
	if err := r.repo.SetTaskDone(ctx, userID, p.TaskID, true); err != nil {
		return "", err
	}
	return fmt.Sprintf("Marked %q as done.", task.Title), nil
}

func (r *Runner) deleteTask(ctx context.Context, userID string, params json.RawMessage) (string, error) {
	var p struct {
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", fmt.Errorf("delete_task params: %w", err)
	}
	if p.TaskID == "" {
		return "", fmt.Errorf("delete_task: missing taskId")
	}

	task, err := r.repo.GetTask(ctx, userID, p.TaskID)
	if err != nil {
		return "", err
	}
	if task == nil {
		return "", fmt.Errorf("delete_task: task %s not found", p.TaskID)
	}
	if err := r.repo.DeleteTask(ctx, userID, p.TaskID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Deleted the task %q.", task.Title), nil
}

func (r *Runner) createEvent(ctx context.Context, userID string, params json.RawMessage, localSource bool) (string, error) {
	var p struct {
		Title    string `json:"title"`
		Location string `json:"location"`
		StartsAt string `json:"startsAt"`
		EndsAt   string `json:"endsAt"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", fmt.Errorf("create_event params: %w", err)
	}
	if p.Title == "" {
		return "", fmt.Errorf("create_event: missing title")
	}
	if p.StartsAt == "" {
		return "", fmt.Errorf("create_event: missing startsAt")
	}

	startsAt, err := time.Parse(time.RFC3339, p.StartsAt)
	if err != nil {
		return "", fmt.Errorf("create_event: bad startsAt: %w", err)
	}

	source := domain.EventSourcePrimary
	if localSource {
		source = domain.EventSourceLocal
	}
	event := &domain.Event{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     p.Title,
		Location:  p.Location,
		Source:    source,
		StartsAt:  startsAt,
		CreatedAt: time.Now(),
	}
	if p.EndsAt != "" {
		endsAt, err := time.Parse(time.RFC3339, p.EndsAt)
		if err != nil {
			return "", fmt.Errorf("create_event: bad endsAt: %w", err)
		}
		event.EndsAt = &endsAt
	}

	if err := r.repo.CreateEvent(ctx, event); err != nil {
		return "", err
	}
	return fmt.Sprintf("I've scheduled %q for %s.", p.Title, startsAt.Format("Monday, January 2 at 3:04 PM")), nil
}

func (r *Runner) deleteEvent(ctx context.Context, userID string, params json.RawMessage) (string, error) {
	var p struct {
		EventID string `json:"eventId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", fmt.Errorf("delete_event params: %w", err)
	}
	if p.EventID == "" {
		return "", fmt.Errorf("delete_event: missing eventId")
	}

	if err := r.repo.DeleteEvent(ctx, userID, p.EventID); err != nil {
		return "", err
	}
	return "That event has been removed from your calendar.", nil
}

func (r *Runner) createJournalEntry(ctx context.Context, userID string, params json.RawMessage) (string, error) {
	var p struct {
		Body string `json:"body"`
		Mood string `json:"mood"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", fmt.Errorf("create_journal_entry params: %w", err)
	}
	if p.Body == "" {
		return "", fmt.Errorf("create_journal_entry: missing body")
	}

	entry := &domain.JournalEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Body:      p.Body,
		Mood:      p.Mood,
		CreatedAt: time.Now(),
	}
	if err := r.repo.CreateJournalEntry(ctx, entry); err != nil {
		return "", err
	}
	return "I've saved that to your journal.", nil
}
