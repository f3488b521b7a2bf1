package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lancejames221b/haivemind/internal/domain/task"
)

const taskColumns = `task_id, description, required_capabilities, priority, assigned_to, status,
	result_output, result_error, created_by, created_at, updated_at`

func scanTask(row scannable) (*task.Task, error) {
	var t task.Task
	var resultOutput, resultError *string
	if err := row.Scan(
		&t.TaskID, &t.Description, &t.RequiredCapabilities, &t.Priority, &t.AssignedTo, &t.Status,
		&resultOutput, &resultError, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if resultOutput != nil || resultError != nil {
		t.Result = &task.Result{}
		if resultOutput != nil {
			t.Result.Output = *resultOutput
		}
		if resultError != nil {
			t.Result.Error = *resultError
		}
	}
	return &t, nil
}

// CreateTask delegates a new task in pending status.
func (s *Store) CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	priority := req.Priority
	if priority == "" {
		priority = task.PriorityNormal
	}

	const q = `
		INSERT INTO tasks (description, required_capabilities, priority, status, created_by)
		VALUES ($1,$2,$3,'pending',$4)
		RETURNING ` + taskColumns

	row := s.pool.QueryRow(ctx, q, req.Description, pgTextArray(req.RequiredCapabilities), string(priority), req.CreatedBy)
	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

// GetTask fetches a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, notFoundWrap(err, "get task %s", id)
	}
	return t, nil
}

// ListTasksByAgent returns tasks currently assigned to an agent.
func (s *Store) ListTasksByAgent(ctx context.Context, agentID string) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE assigned_to = $1 ORDER BY created_at DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by agent: %w", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

// ListTasksByStatus returns tasks in a given status, oldest first, so
// delegation ranking can consider pending tasks in arrival order.
func (s *Store) ListTasksByStatus(ctx context.Context, status task.Status) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = $1 ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

func scanTaskRows(rows pgx.Rows) ([]task.Task, error) {
	var result []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		result = append(result, *t)
	}
	return orEmpty(result), rows.Err()
}

// AssignTask moves a task from pending to assigned, binding it to an agent.
func (s *Store) AssignTask(ctx context.Context, id, agentID string) (*task.Task, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET assigned_to=$1, status='assigned', updated_at=now() WHERE task_id=$2 AND status='pending'`,
		agentID, id)
	if err := execExpectOne(tag, err, "assign task %s", id); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, id)
}

// UpdateTaskStatus transitions a task's status and, for terminal
// transitions, records its result.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status task.Status, result *task.Result) (*task.Task, error) {
	var output, errMsg string
	if result != nil {
		output, errMsg = result.Output, result.Error
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status=$1, result_output=$2, result_error=$3, updated_at=now() WHERE task_id=$4`,
		string(status), nullIfEmpty(output), nullIfEmpty(errMsg), id)
	if err := execExpectOne(tag, err, "update task status %s", id); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, id)
}
