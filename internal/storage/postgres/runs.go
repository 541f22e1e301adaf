package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmynk/payday/internal/models"
	"github.com/mmynk/payday/internal/storage"
)

// AcquireRunLock takes the single-row payday lock.
func (s *PostgresStore) AcquireRunLock(ctx context.Context, runID string) error {
	tag, err := s.pool.Exec(ctx,
		"INSERT INTO run_lock (id, run_id, acquired_at) VALUES (1, $1, $2) ON CONFLICT (id) DO NOTHING",
		runID, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var holder string
		if err := s.pool.QueryRow(ctx, "SELECT run_id FROM run_lock WHERE id = 1").Scan(&holder); err == nil {
			return fmt.Errorf("%w by run %s", storage.ErrRunLocked, holder)
		}
		return storage.ErrRunLocked
	}
	return nil
}

// ReleaseRunLock releases the lock if runID holds it.
func (s *PostgresStore) ReleaseRunLock(ctx context.Context, runID string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM run_lock WHERE id = 1 AND run_id = $1", runID); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}

// RecordRun upserts the run row and replaces its instructions.
func (s *PostgresStore) RecordRun(ctx context.Context, run *models.PaydayRun) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var current string
		err := tx.QueryRow(ctx, "SELECT status FROM payday_runs WHERE id = $1 FOR UPDATE", run.ID).Scan(&current)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to get run status: %w", err)
		case current == string(models.RunSettled) || current == string(models.RunAborted):
			return fmt.Errorf("run %s: %w", run.ID, storage.ErrRunFinalized)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO payday_runs (id, snapshot_at, started_at, finished_at, state, status, failure, total_captured, total_paid_out)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric)
			 ON CONFLICT (id) DO UPDATE SET
			     snapshot_at = excluded.snapshot_at,
			     finished_at = excluded.finished_at,
			     state = excluded.state,
			     status = excluded.status,
			     failure = excluded.failure,
			     total_captured = excluded.total_captured,
			     total_paid_out = excluded.total_paid_out`,
			run.ID, nullTime(run.SnapshotAt), run.StartedAt, nullTime(run.FinishedAt),
			string(run.State), string(run.Status), run.Failure,
			run.TotalCaptured.String(), run.TotalPaidOut.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert run: %w", err)
		}

		if _, err := tx.Exec(ctx, "DELETE FROM transfer_instructions WHERE run_id = $1", run.ID); err != nil {
			return fmt.Errorf("failed to clear instructions: %w", err)
		}
		if len(run.Instructions) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for i, ins := range run.Instructions {
			batch.Queue(
				`INSERT INTO transfer_instructions (run_id, participant_id, seq, amount, status, attempts, last_error)
				 VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)`,
				run.ID, ins.ParticipantID, i, ins.Amount.String(), string(ins.Status), ins.Attempts, ins.LastError,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert instructions: %w", err)
		}
		return nil
	})
}

// GetRun retrieves a run by ID, including its instructions in emit order.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*models.PaydayRun, error) {
	run := &models.PaydayRun{}
	var snapshotAt, finishedAt *time.Time
	var state, status, captured, paidOut string

	err := s.pool.QueryRow(ctx,
		`SELECT id, snapshot_at, started_at, finished_at, state, status, failure,
		        total_captured::text, total_paid_out::text
		 FROM payday_runs WHERE id = $1`,
		runID,
	).Scan(&run.ID, &snapshotAt, &run.StartedAt, &finishedAt, &state, &status, &run.Failure, &captured, &paidOut)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.StartedAt = run.StartedAt.UTC()
	if snapshotAt != nil {
		run.SnapshotAt = snapshotAt.UTC()
	}
	if finishedAt != nil {
		run.FinishedAt = finishedAt.UTC()
	}
	run.State = models.RunState(state)
	run.Status = models.RunStatus(status)
	if run.TotalCaptured, err = decimal.NewFromString(captured); err != nil {
		return nil, fmt.Errorf("failed to parse total captured: %w", err)
	}
	if run.TotalPaidOut, err = decimal.NewFromString(paidOut); err != nil {
		return nil, fmt.Errorf("failed to parse total paid out: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT participant_id, amount::text, status, attempts, last_error
		 FROM transfer_instructions WHERE run_id = $1 ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get instructions: %w", err)
	}
	run.Instructions, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.TransferInstruction, error) {
		ins := models.TransferInstruction{RunID: runID}
		var amount, insStatus string
		if err := row.Scan(&ins.ParticipantID, &amount, &insStatus, &ins.Attempts, &ins.LastError); err != nil {
			return ins, err
		}
		ins.Status = models.DispatchStatus(insStatus)
		parsed, perr := decimal.NewFromString(amount)
		ins.Amount = parsed
		return ins, perr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read instructions: %w", err)
	}
	if len(run.Instructions) == 0 {
		run.Instructions = nil
	}

	return run, nil
}

// UpdateInstructionStatus records the dispatch outcome of one instruction.
func (s *PostgresStore) UpdateInstructionStatus(ctx context.Context, runID, participantID string, status models.DispatchStatus, attempts int, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transfer_instructions SET status = $1, attempts = $2, last_error = $3
		 WHERE run_id = $4 AND participant_id = $5`,
		string(status), attempts, lastErr, runID, participantID,
	)
	if err != nil {
		return fmt.Errorf("failed to update instruction status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("instruction %s:%s: %w", runID, participantID, storage.ErrNotFound)
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
