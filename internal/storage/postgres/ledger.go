package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmynk/payday/internal/storage"
)

// CreateParticipant inserts a new participant.
func (s *PostgresStore) CreateParticipant(ctx context.Context, p *storage.ParticipantRow) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		"INSERT INTO participants (id, username, is_closed) VALUES ($1, $2, $3)",
		p.ID, p.Username, p.IsClosed,
	)
	if err != nil {
		return translate(err, "participant "+p.ID)
	}
	return nil
}

// CreateTeam inserts a new team together with its members.
func (s *PostgresStore) CreateTeam(ctx context.Context, t *storage.TeamRow) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			"INSERT INTO teams (id, name, owner_id, is_approved, is_closed) VALUES ($1, $2, $3, $4, $5)",
			t.ID, t.Name, nullable(t.OwnerID), t.IsApproved, t.IsClosed,
		)
		if err != nil {
			return translate(err, "team "+t.ID)
		}
		for _, member := range t.Members {
			if _, err := tx.Exec(ctx,
				"INSERT INTO team_members (team_id, participant_id) VALUES ($1, $2)",
				t.ID, member,
			); err != nil {
				return translate(err, "member "+member+" of team "+t.ID)
			}
		}
		return nil
	})
}

// AddTeamMember adds a participant to a team. Adding an existing member is a no-op.
func (s *PostgresStore) AddTeamMember(ctx context.Context, teamID, participantID string) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO team_members (team_id, participant_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		teamID, participantID,
	)
	if err != nil {
		return translate(err, "member "+participantID+" of team "+teamID)
	}
	return nil
}

// SetPledge creates or replaces the pledge from a participant to a team.
func (s *PostgresStore) SetPledge(ctx context.Context, participantID, teamID, amount string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pledges (participant_id, team_id, amount) VALUES ($1, $2, $3::numeric)
		 ON CONFLICT (participant_id, team_id) DO UPDATE SET amount = excluded.amount`,
		participantID, teamID, amount,
	)
	if err != nil {
		return fmt.Errorf("failed to set pledge: %w", err)
	}
	return nil
}

// RemovePledge deletes a pledge.
func (s *PostgresStore) RemovePledge(ctx context.Context, participantID, teamID string) error {
	return s.deleteOne(ctx, "pledge",
		"DELETE FROM pledges WHERE participant_id = $1 AND team_id = $2", participantID, teamID)
}

// SetPayout creates or replaces the payout instruction from a team to a member.
func (s *PostgresStore) SetPayout(ctx context.Context, teamID, memberID, amount string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO payout_instructions (team_id, member_id, amount) VALUES ($1, $2, $3::numeric)
		 ON CONFLICT (team_id, member_id) DO UPDATE SET amount = excluded.amount`,
		teamID, memberID, amount,
	)
	if err != nil {
		return fmt.Errorf("failed to set payout instruction: %w", err)
	}
	return nil
}

// RemovePayout deletes a payout instruction.
func (s *PostgresStore) RemovePayout(ctx context.Context, teamID, memberID string) error {
	return s.deleteOne(ctx, "payout instruction",
		"DELETE FROM payout_instructions WHERE team_id = $1 AND member_id = $2", teamID, memberID)
}

func (s *PostgresStore) deleteOne(ctx context.Context, what, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	return nil
}

// nullable maps an empty string to SQL NULL.
func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
