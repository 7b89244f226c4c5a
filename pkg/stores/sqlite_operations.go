package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateOperation inserts a new operation row in pending state. Reusing an
// operation ID fails with ErrDuplicateOperation; a retry of a failed
// operation is a new attempt with a new ID.
func (s *SQLiteStore) CreateOperation(ctx context.Context, op *Operation) error {
	if op.OperationID == "" {
		return fmt.Errorf("operation id is required")
	}
	if op.Status == "" {
		op.Status = OperationPending
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO operations (
			operation_id, capability, operation_name, operation_type,
			resource_id, status, started_at, completed_at, duration_ms,
			current_step, total_steps, step_description, error_message,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.execRetry(ctx, query,
		op.OperationID,
		op.Capability,
		op.OperationName,
		op.OperationType,
		op.ResourceID,
		op.Status,
		op.StartedAt,
		op.CompletedAt,
		op.Duration.Milliseconds(),
		op.CurrentStep,
		op.TotalSteps,
		op.StepDescription,
		op.ErrorMessage,
		op.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("operation %s: %w", op.OperationID, ErrDuplicateOperation)
		}
		return fmt.Errorf("failed to create operation: %w", err)
	}

	return nil
}

const operationColumns = `
	operation_id, capability, operation_name, operation_type,
	resource_id, status, started_at, completed_at, duration_ms,
	current_step, total_steps, step_description, error_message,
	created_at
`

func scanOperation(row interface {
	Scan(dest ...interface{}) error
}) (*Operation, error) {
	op := &Operation{}
	var durationMs int64
	err := row.Scan(
		&op.OperationID,
		&op.Capability,
		&op.OperationName,
		&op.OperationType,
		&op.ResourceID,
		&op.Status,
		&op.StartedAt,
		&op.CompletedAt,
		&durationMs,
		&op.CurrentStep,
		&op.TotalSteps,
		&op.StepDescription,
		&op.ErrorMessage,
		&op.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	op.Duration = time.Duration(durationMs) * time.Millisecond
	return op, nil
}

// GetOperation retrieves an operation by ID.
func (s *SQLiteStore) GetOperation(ctx context.Context, id string) (*Operation, error) {
	query := `
		SELECT ` + operationColumns + `
		FROM operations
		WHERE operation_id = ?
	`

	op, err := scanOperation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("operation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}

	return op, nil
}

// UpdateOperationStatus transitions an operation. Moving into running sets
// started_at; moving into a terminal status sets completed_at and computes
// duration from started_at.
func (s *SQLiteStore) UpdateOperationStatus(ctx context.Context, id string, status OperationStatus, errMsg *string) error {
	now := time.Now().UTC()

	var startedAt, completedAt *time.Time
	if status == OperationRunning {
		startedAt = &now
	}
	if status.IsTerminal() {
		completedAt = &now
	}

	query := `
		UPDATE operations
		SET status = ?,
		    error_message = COALESCE(?, error_message),
		    started_at = COALESCE(?, started_at),
		    completed_at = COALESCE(?, completed_at),
		    duration_ms = CASE
		        WHEN ? IS NOT NULL AND started_at IS NOT NULL
		        THEN CAST((julianday(?) - julianday(started_at)) * 86400000 AS INTEGER)
		        ELSE duration_ms
		    END
		WHERE operation_id = ?
	`

	result, err := s.execRetry(ctx, query, status, errMsg, startedAt, completedAt, completedAt, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update operation status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("operation %s: %w", id, ErrNotFound)
	}

	return nil
}

// UpdateOperationProgress records per-step progress for observability.
func (s *SQLiteStore) UpdateOperationProgress(ctx context.Context, id string, current, total int, description string) error {
	query := `
		UPDATE operations
		SET current_step = ?, total_steps = ?, step_description = ?
		WHERE operation_id = ?
	`

	result, err := s.execRetry(ctx, query, current, total, description, id)
	if err != nil {
		return fmt.Errorf("failed to update operation progress: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("operation %s: %w", id, ErrNotFound)
	}

	return nil
}

// ListOperations lists operations, optionally filtered by status, newest
// first.
func (s *SQLiteStore) ListOperations(ctx context.Context, status OperationStatus, limit, offset int) ([]*Operation, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + operationColumns + `
		FROM operations
		WHERE (? = '' OR status = ?)
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, status, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	ops := []*Operation{}
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}

	return ops, nil
}

// AppendOperationLog appends a log line to an operation's child log table.
func (s *SQLiteStore) AppendOperationLog(ctx context.Context, log *OperationLog) error {
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO operation_logs (operation_id, level, message, timestamp)
		VALUES (?, ?, ?, ?)
	`

	result, err := s.execRetry(ctx, query,
		log.OperationID,
		log.Level,
		log.Message,
		log.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append operation log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get log ID: %w", err)
	}

	log.ID = id
	return nil
}

// ListOperationLogs returns an operation's log lines in append order.
func (s *SQLiteStore) ListOperationLogs(ctx context.Context, operationID string) ([]*OperationLog, error) {
	query := `
		SELECT id, operation_id, level, message, timestamp
		FROM operation_logs
		WHERE operation_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, operationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list operation logs: %w", err)
	}
	defer rows.Close()

	logs := []*OperationLog{}
	for rows.Next() {
		l := &OperationLog{}
		if err := rows.Scan(&l.ID, &l.OperationID, &l.Level, &l.Message, &l.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan operation log: %w", err)
		}
		logs = append(logs, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operation logs: %w", err)
	}

	return logs, nil
}
