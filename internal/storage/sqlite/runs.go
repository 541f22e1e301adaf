package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/payday/internal/models"
	"github.com/mmynk/payday/internal/storage"
)

// AcquireRunLock takes the single-row payday lock.
func (s *SQLiteStore) AcquireRunLock(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO run_lock (id, run_id, acquired_at) VALUES (1, ?, ?)",
		runID, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if n == 0 {
		var holder string
		if err := s.db.QueryRowContext(ctx, "SELECT run_id FROM run_lock WHERE id = 1").Scan(&holder); err == nil {
			return fmt.Errorf("%w by run %s", storage.ErrRunLocked, holder)
		}
		return storage.ErrRunLocked
	}
	return nil
}

// ReleaseRunLock releases the lock if runID holds it.
func (s *SQLiteStore) ReleaseRunLock(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM run_lock WHERE id = 1 AND run_id = ?", runID)
	if err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}

// RecordRun upserts the run row and replaces its instructions.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *models.PaydayRun) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM payday_runs WHERE id = ?", run.ID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to get run status: %w", err)
	case current == string(models.RunSettled) || current == string(models.RunAborted):
		return fmt.Errorf("run %s: %w", run.ID, storage.ErrRunFinalized)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO payday_runs (id, snapshot_at, started_at, finished_at, state, status, failure, total_captured, total_paid_out)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     snapshot_at = excluded.snapshot_at,
		     finished_at = excluded.finished_at,
		     state = excluded.state,
		     status = excluded.status,
		     failure = excluded.failure,
		     total_captured = excluded.total_captured,
		     total_paid_out = excluded.total_paid_out`,
		run.ID, toMillis(run.SnapshotAt), toMillis(run.StartedAt), toMillis(run.FinishedAt),
		string(run.State), string(run.Status), run.Failure,
		run.TotalCaptured.String(), run.TotalPaidOut.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM transfer_instructions WHERE run_id = ?", run.ID); err != nil {
		return fmt.Errorf("failed to clear instructions: %w", err)
	}
	for i, ins := range run.Instructions {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO transfer_instructions (run_id, participant_id, seq, amount, status, attempts, last_error)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, ins.ParticipantID, i, ins.Amount.String(), string(ins.Status), ins.Attempts, ins.LastError,
		)
		if err != nil {
			return fmt.Errorf("failed to insert instruction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID, including its instructions in emit order.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*models.PaydayRun, error) {
	run := &models.PaydayRun{}
	var snapshotAt, startedAt, finishedAt int64
	var state, status, captured, paidOut string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, snapshot_at, started_at, finished_at, state, status, failure, total_captured, total_paid_out
		 FROM payday_runs WHERE id = ?`,
		runID,
	).Scan(&run.ID, &snapshotAt, &startedAt, &finishedAt, &state, &status, &run.Failure, &captured, &paidOut)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", runID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.SnapshotAt = fromMillis(snapshotAt)
	run.StartedAt = fromMillis(startedAt)
	run.FinishedAt = fromMillis(finishedAt)
	run.State = models.RunState(state)
	run.Status = models.RunStatus(status)
	if run.TotalCaptured, err = decimal.NewFromString(captured); err != nil {
		return nil, fmt.Errorf("failed to parse total captured: %w", err)
	}
	if run.TotalPaidOut, err = decimal.NewFromString(paidOut); err != nil {
		return nil, fmt.Errorf("failed to parse total paid out: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT participant_id, amount, status, attempts, last_error
		 FROM transfer_instructions WHERE run_id = ? ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get instructions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ins := models.TransferInstruction{RunID: runID}
		var amount, insStatus string
		if err := rows.Scan(&ins.ParticipantID, &amount, &insStatus, &ins.Attempts, &ins.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan instruction: %w", err)
		}
		if ins.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse instruction amount: %w", err)
		}
		ins.Status = models.DispatchStatus(insStatus)
		run.Instructions = append(run.Instructions, ins)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate instructions: %w", err)
	}

	return run, nil
}

// UpdateInstructionStatus records the dispatch outcome of one instruction.
func (s *SQLiteStore) UpdateInstructionStatus(ctx context.Context, runID, participantID string, status models.DispatchStatus, attempts int, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transfer_instructions SET status = ?, attempts = ?, last_error = ?
		 WHERE run_id = ? AND participant_id = ?`,
		string(status), attempts, lastErr, runID, participantID,
	)
	if err != nil {
		return fmt.Errorf("failed to update instruction status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update instruction status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("instruction %s:%s: %w", runID, participantID, storage.ErrNotFound)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
