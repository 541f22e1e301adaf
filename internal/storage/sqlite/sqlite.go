// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/mmynk/payday/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*SQLiteStore, error) {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ReadSnapshot reads the whole ledger inside one transaction. SQLite takes
// its read snapshot at the first SELECT and holds it until the transaction
// ends, so concurrent writers are invisible to the rest of the read.
func (s *SQLiteStore) ReadSnapshot(ctx context.Context) (*storage.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	snap := &storage.Snapshot{}

	if snap.Participants, err = readParticipants(ctx, tx); err != nil {
		return nil, err
	}
	// The first SELECT fixed the read snapshot.
	snap.TakenAt = s.now().UTC()
	if snap.Teams, err = readTeams(ctx, tx); err != nil {
		return nil, err
	}
	if snap.Pledges, err = readPledges(ctx, tx); err != nil {
		return nil, err
	}
	if snap.Payouts, err = readPayouts(ctx, tx); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to end snapshot transaction: %w", err)
	}
	return snap, nil
}

func readParticipants(ctx context.Context, tx *sql.Tx) ([]storage.ParticipantRow, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT id, username, is_closed FROM participants ORDER BY created_at, rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var out []storage.ParticipantRow
	for rows.Next() {
		var p storage.ParticipantRow
		if err := rows.Scan(&p.ID, &p.Username, &p.IsClosed); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}
	return out, nil
}

func readTeams(ctx context.Context, tx *sql.Tx) ([]storage.TeamRow, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT id, name, owner_id, is_approved, is_closed FROM teams ORDER BY created_at, rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to get teams: %w", err)
	}
	defer rows.Close()

	var teams []storage.TeamRow
	for rows.Next() {
		var t storage.TeamRow
		var owner sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &owner, &t.IsApproved, &t.IsClosed); err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		if owner.Valid {
			t.OwnerID = owner.String
		}
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate teams: %w", err)
	}
	rows.Close()

	// Get members for all teams in one pass
	memberRows, err := tx.QueryContext(ctx,
		"SELECT team_id, participant_id FROM team_members ORDER BY team_id, rowid")
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

func readPledges(ctx context.Context, tx *sql.Tx) ([]storage.PledgeRow, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT participant_id, team_id, amount FROM pledges ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to get pledges: %w", err)
	}
	defer rows.Close()

	var out []storage.PledgeRow
	for rows.Next() {
		var p storage.PledgeRow
		if err := rows.Scan(&p.ParticipantID, &p.TeamID, &p.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan pledge: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pledges: %w", err)
	}
	return out, nil
}

func readPayouts(ctx context.Context, tx *sql.Tx) ([]storage.PayoutRow, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT team_id, member_id, amount FROM payout_instructions ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to get payout instructions: %w", err)
	}
	defer rows.Close()

	var out []storage.PayoutRow
	for rows.Next() {
		var p storage.PayoutRow
		if err := rows.Scan(&p.TeamID, &p.MemberID, &p.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan payout instruction: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payout instructions: %w", err)
	}
	return out, nil
}
