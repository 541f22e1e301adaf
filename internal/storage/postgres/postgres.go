// Package postgres provides a PostgreSQL-backed implementation of the storage.Store interface.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mmynk/payday/internal/storage"
)

var _ storage.Store = (*PostgresStore)(nil)

// PostgreSQL error codes the store translates.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// PostgresStore implements storage.Store using a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New connects to dsn, verifies the connection and runs migrations.
func New(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{pool: pool, now: time.Now}, nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ReadSnapshot reads the whole ledger in one REPEATABLE READ, READ ONLY
// transaction so every query sees the same committed state.
func (s *PostgresStore) ReadSnapshot(ctx context.Context) (*storage.Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	snap := &storage.Snapshot{}
	if err := tx.QueryRow(ctx, "SELECT now()").Scan(&snap.TakenAt); err != nil {
		return nil, fmt.Errorf("failed to read snapshot time: %w", err)
	}
	snap.TakenAt = snap.TakenAt.UTC()

	if snap.Participants, err = readParticipants(ctx, tx); err != nil {
		return nil, err
	}
	if snap.Teams, err = readTeams(ctx, tx); err != nil {
		return nil, err
	}
	if snap.Pledges, err = readPledges(ctx, tx); err != nil {
		return nil, err
	}
	if snap.Payouts, err = readPayouts(ctx, tx); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to end snapshot transaction: %w", err)
	}
	return snap, nil
}

func readParticipants(ctx context.Context, tx pgx.Tx) ([]storage.ParticipantRow, error) {
	rows, err := tx.Query(ctx, "SELECT id, username, is_closed FROM participants ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.ParticipantRow, error) {
		var p storage.ParticipantRow
		err := row.Scan(&p.ID, &p.Username, &p.IsClosed)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan participants: %w", err)
	}
	return out, nil
}

func readTeams(ctx context.Context, tx pgx.Tx) ([]storage.TeamRow, error) {
	rows, err := tx.Query(ctx, "SELECT id, name, owner_id, is_approved, is_closed FROM teams ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("failed to get teams: %w", err)
	}
	teams, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.TeamRow, error) {
		var t storage.TeamRow
		var owner *string
		if err := row.Scan(&t.ID, &t.Name, &owner, &t.IsApproved, &t.IsClosed); err != nil {
			return t, err
		}
		if owner != nil {
			t.OwnerID = *owner
		}
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan teams: %w", err)
	}

	memberRows, err := tx.Query(ctx, "SELECT team_id, participant_id FROM team_members ORDER BY team_id, seq")
	if err != nil {
		return nil, fmt.Errorf("failed to get team members: %w", err)
	}
	defer memberRows.Close()

	members := make(map[string][]string)
	for memberRows.Next() {
		var teamID, participantID string
		if err := memberRows.Scan(&teamID, &participantID); err != nil {
			return nil, fmt.Errorf("failed to scan team member: %w", err)
		}
		members[teamID] = append(members[teamID], participantID)
	}
	if err := memberRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate team members: %w", err)
	}

	for i := range teams {
		teams[i].Members = members[teams[i].ID]
	}
	return teams, nil
}

func readPledges(ctx context.Context, tx pgx.Tx) ([]storage.PledgeRow, error) {
	rows, err := tx.Query(ctx, "SELECT participant_id, team_id, amount::text FROM pledges ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("failed to get pledges: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.PledgeRow, error) {
		var p storage.PledgeRow
		err := row.Scan(&p.ParticipantID, &p.TeamID, &p.Amount)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan pledges: %w", err)
	}
	return out, nil
}

func readPayouts(ctx context.Context, tx pgx.Tx) ([]storage.PayoutRow, error) {
	rows, err := tx.Query(ctx, "SELECT team_id, member_id, amount::text FROM payout_instructions ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("failed to get payout instructions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.PayoutRow, error) {
		var p storage.PayoutRow
		err := row.Scan(&p.TeamID, &p.MemberID, &p.Amount)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan payout instructions: %w", err)
	}
	return out, nil
}

// translate maps constraint violations to storage sentinels.
func translate(err error, what string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w", what, storage.ErrConflict)
		case codeForeignKeyViolation:
			return fmt.Errorf("%s references a missing record: %w", what, storage.ErrNotFound)
		}
	}
	return fmt.Errorf("failed to write %s: %w", what, err)
}
