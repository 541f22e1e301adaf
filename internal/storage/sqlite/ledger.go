package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mmynk/payday/internal/storage"
)

// CreateParticipant inserts a new participant.
func (s *SQLiteStore) CreateParticipant(ctx context.Context, p *storage.ParticipantRow) error {
	// Generate ID if not set
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO participants (id, username, is_closed, created_at) VALUES (?, ?, ?, ?)",
		p.ID, p.Username, p.IsClosed, s.now().UnixMilli(),
	)
	if err != nil {
		return translate(err, "participant "+p.ID)
	}
	return nil
}

// CreateTeam inserts a new team together with its members.
func (s *SQLiteStore) CreateTeam(ctx context.Context, t *storage.TeamRow) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO teams (id, name, owner_id, is_approved, is_closed, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		t.ID, t.Name, nullable(t.OwnerID), t.IsApproved, t.IsClosed, s.now().UnixMilli(),
	)
	if err != nil {
		return translate(err, "team "+t.ID)
	}

	for _, member := range t.Members {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO team_members (team_id, participant_id) VALUES (?, ?)",
			t.ID, member,
		); err != nil {
			return translate(err, "member "+member+" of team "+t.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AddTeamMember adds a participant to a team. Adding an existing member is a no-op.
func (s *SQLiteStore) AddTeamMember(ctx context.Context, teamID, participantID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO team_members (team_id, participant_id) VALUES (?, ?)",
		teamID, participantID,
	)
	if err != nil {
		return fmt.Errorf("failed to add team member: %w", err)
	}
	return nil
}

// SetPledge creates or replaces the pledge from a participant to a team.
func (s *SQLiteStore) SetPledge(ctx context.Context, participantID, teamID, amount string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pledges (participant_id, team_id, amount) VALUES (?, ?, ?)
		 ON CONFLICT (participant_id, team_id) DO UPDATE SET amount = excluded.amount`,
		participantID, teamID, amount,
	)
	if err != nil {
		return fmt.Errorf("failed to set pledge: %w", err)
	}
	return nil
}

// RemovePledge deletes a pledge.
func (s *SQLiteStore) RemovePledge(ctx context.Context, participantID, teamID string) error {
	return s.deleteOne(ctx, "pledge",
		"DELETE FROM pledges WHERE participant_id = ? AND team_id = ?", participantID, teamID)
}

// SetPayout creates or replaces the payout instruction from a team to a member.
func (s *SQLiteStore) SetPayout(ctx context.Context, teamID, memberID, amount string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payout_instructions (team_id, member_id, amount) VALUES (?, ?, ?)
		 ON CONFLICT (team_id, member_id) DO UPDATE SET amount = excluded.amount`,
		teamID, memberID, amount,
	)
	if err != nil {
		return fmt.Errorf("failed to set payout instruction: %w", err)
	}
	return nil
}

// RemovePayout deletes a payout instruction.
func (s *SQLiteStore) RemovePayout(ctx context.Context, teamID, memberID string) error {
	return s.deleteOne(ctx, "payout instruction",
		"DELETE FROM payout_instructions WHERE team_id = ? AND member_id = ?", teamID, memberID)
}

func (s *SQLiteStore) deleteOne(ctx context.Context, what, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	return nil
}

// nullable maps an empty string to SQL NULL.
func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// translate maps constraint violations to storage sentinels.
func translate(err error, what string) error {
	var se *moderncsqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("%s: %w", what, storage.ErrConflict)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%s references a missing record: %w", what, storage.ErrNotFound)
		}
		if se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
			return fmt.Errorf("%s: %w", what, storage.ErrConflict)
		}
	}
	return fmt.Errorf("failed to write %s: %w", what, err)
}
