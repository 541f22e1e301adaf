// Package fixture loads a JSON description of a ledger into a store.
package fixture

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/mmynk/payday/internal/storage"
)

// Fixture is the JSON layout accepted by `payday seed`.
type Fixture struct {
	Participants []Participant `json:"participants"`
	Teams        []Team        `json:"teams"`
	Pledges      []Pledge      `json:"pledges"`
	Payouts      []Payout      `json:"payouts"`
}

// Participant is a participant row of the fixture.
type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Closed   bool   `json:"closed,omitempty"`
}

// Team is a team with its owner and members. Owner may be empty.
type Team struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Owner    string   `json:"owner"`
	Approved bool     `json:"approved"`
	Closed   bool     `json:"closed,omitempty"`
	Members  []string `json:"members,omitempty"`
}

// Pledge is a weekly pledge from a participant to a team.
type Pledge struct {
	Participant string          `json:"participant"`
	Team        string          `json:"team"`
	Amount      decimal.Decimal `json:"amount"`
}

// Payout is a weekly payout instruction from a team to one of its members.
type Payout struct {
	Team   string          `json:"team"`
	Member string          `json:"member"`
	Amount decimal.Decimal `json:"amount"`
}

// Decode reads a fixture. Unknown fields are rejected.
func Decode(r io.Reader) (*Fixture, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var f Fixture
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode fixture: %w", err)
	}
	return &f, nil
}

// Apply writes the fixture to w in dependency order: participants, teams,
// pledges, payouts. It stops at the first failing write.
func (f *Fixture) Apply(ctx context.Context, w storage.LedgerWriter) error {
	for _, p := range f.Participants {
		row := &storage.ParticipantRow{ID: p.ID, Username: p.Username, IsClosed: p.Closed}
		if err := w.CreateParticipant(ctx, row); err != nil {
			return fmt.Errorf("participant %s: %w", p.ID, err)
		}
	}
	for _, t := range f.Teams {
		row := &storage.TeamRow{
			ID:         t.ID,
			Name:       t.Name,
			OwnerID:    t.Owner,
			IsApproved: t.Approved,
			IsClosed:   t.Closed,
			Members:    t.Members,
		}
		if err := w.CreateTeam(ctx, row); err != nil {
			return fmt.Errorf("team %s: %w", t.ID, err)
		}
	}
	for _, p := range f.Pledges {
		if err := w.SetPledge(ctx, p.Participant, p.Team, p.Amount.String()); err != nil {
			return fmt.Errorf("pledge %s -> %s: %w", p.Participant, p.Team, err)
		}
	}
	for _, p := range f.Payouts {
		if err := w.SetPayout(ctx, p.Team, p.Member, p.Amount.String()); err != nil {
			return fmt.Errorf("payout %s -> %s: %w", p.Team, p.Member, err)
		}
	}

	slog.Info("Fixture applied",
		"participants", len(f.Participants),
		"teams", len(f.Teams),
		"pledges", len(f.Pledges),
		"payouts", len(f.Payouts),
	)
	return nil
}
