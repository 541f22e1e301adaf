package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is a point-in-time, read-only view of every participant, team,
// pledge and payout that takes part in a payday run.
//
// Participants and teams are kept in the order they were added. That order
// has no settlement meaning; it only makes output deterministic.
type Snapshot struct {
	TakenAt time.Time

	participants   []Participant
	teams          []Team
	participantIdx map[string]int
	teamIdx        map[string]int
}

// Participants returns all participants in snapshot order.
// The returned records share their maps with the snapshot and must not be
// modified.
func (s *Snapshot) Participants() []Participant {
	out := make([]Participant, len(s.participants))
	copy(out, s.participants)
	return out
}

// Teams returns all teams in snapshot order.
// The returned records share their maps with the snapshot and must not be
// modified.
func (s *Snapshot) Teams() []Team {
	out := make([]Team, len(s.teams))
	copy(out, s.teams)
	return out
}

// Participant looks up a participant by ID.
func (s *Snapshot) Participant(id string) (Participant, bool) {
	i, ok := s.participantIdx[id]
	if !ok {
		return Participant{}, false
	}
	return s.participants[i], true
}

// Team looks up a team by ID.
func (s *Snapshot) Team(id string) (Team, bool) {
	i, ok := s.teamIdx[id]
	if !ok {
		return Team{}, false
	}
	return s.teams[i], true
}

// Pledges returns every pledge, grouped by participant in snapshot order.
func (s *Snapshot) Pledges() []Pledge {
	var out []Pledge
	for _, p := range s.participants {
		for _, teamID := range p.pledgeOrder {
			out = append(out, Pledge{ParticipantID: p.ID, TeamID: teamID, Amount: p.Pledges[teamID]})
		}
	}
	return out
}

// Payouts returns every payout instruction, grouped by team in snapshot order.
func (s *Snapshot) Payouts() []Payout {
	var out []Payout
	for _, t := range s.teams {
		for _, memberID := range t.payoutOrder {
			out = append(out, Payout{TeamID: t.ID, MemberID: memberID, Amount: t.Payouts[memberID]})
		}
	}
	return out
}

var errSnapshotBuilt = errors.New("snapshot already built")

// SnapshotBuilder assembles a Snapshot. It enforces referential integrity
// only; business rules such as closed accounts or amount signs are checked by
// the loader before rows reach the builder.
type SnapshotBuilder struct {
	snap  *Snapshot
	built bool
}

// NewSnapshotBuilder starts an empty snapshot taken at the given time.
func NewSnapshotBuilder(takenAt time.Time) *SnapshotBuilder {
	return &SnapshotBuilder{
		snap: &Snapshot{
			TakenAt:        takenAt,
			participantIdx: make(map[string]int),
			teamIdx:        make(map[string]int),
		},
	}
}

// AddParticipant registers a participant.
func (b *SnapshotBuilder) AddParticipant(id, username string, closed bool) error {
	if b.built {
		return errSnapshotBuilt
	}
	if id == "" {
		return fmt.Errorf("participant id cannot be empty")
	}
	if _, exists := b.snap.participantIdx[id]; exists {
		return fmt.Errorf("duplicate participant: %s", id)
	}
	b.snap.participantIdx[id] = len(b.snap.participants)
	b.snap.participants = append(b.snap.participants, Participant{
		ID:       id,
		Username: username,
		IsClosed: closed,
		Pledges:  make(map[string]decimal.Decimal),
	})
	return nil
}

// AddTeam registers a team with its owner and members. The owner must
// already be a registered participant. Members that are not registered
// participants are rejected.
func (b *SnapshotBuilder) AddTeam(id, name, ownerID string, members []string) error {
	if b.built {
		return errSnapshotBuilt
	}
	if id == "" {
		return fmt.Errorf("team id cannot be empty")
	}
	if _, exists := b.snap.teamIdx[id]; exists {
		return fmt.Errorf("duplicate team: %s", id)
	}
	if ownerID == "" {
		return fmt.Errorf("team %s has no owner", id)
	}
	if _, ok := b.snap.participantIdx[ownerID]; !ok {
		return fmt.Errorf("team %s owner %s is not a participant", id, ownerID)
	}
	memberSet := make(map[string]bool, len(members))
	for _, m := range members {
		if _, ok := b.snap.participantIdx[m]; !ok {
			return fmt.Errorf("team %s member %s is not a participant", id, m)
		}
		memberSet[m] = true
	}
	b.snap.teamIdx[id] = len(b.snap.teams)
	b.snap.teams = append(b.snap.teams, Team{
		ID:         id,
		Name:       name,
		OwnerID:    ownerID,
		IsApproved: true,
		Members:    memberSet,
		Payouts:    make(map[string]decimal.Decimal),
	})
	return nil
}

// AddPledge records a pledge from a participant to a team.
func (b *SnapshotBuilder) AddPledge(participantID, teamID string, amount decimal.Decimal) error {
	if b.built {
		return errSnapshotBuilt
	}
	pi, ok := b.snap.participantIdx[participantID]
	if !ok {
		return fmt.Errorf("pledge from unknown participant: %s", participantID)
	}
	if _, ok := b.snap.teamIdx[teamID]; !ok {
		return fmt.Errorf("pledge to unknown team: %s", teamID)
	}
	p := &b.snap.participants[pi]
	if _, exists := p.Pledges[teamID]; exists {
		return fmt.Errorf("duplicate pledge from %s to %s", participantID, teamID)
	}
	p.Pledges[teamID] = amount
	p.pledgeOrder = append(p.pledgeOrder, teamID)
	return nil
}

// AddPayout records a payout instruction from a team to one of its members.
func (b *SnapshotBuilder) AddPayout(teamID, memberID string, amount decimal.Decimal) error {
	if b.built {
		return errSnapshotBuilt
	}
	ti, ok := b.snap.teamIdx[teamID]
	if !ok {
		return fmt.Errorf("payout from unknown team: %s", teamID)
	}
	t := &b.snap.teams[ti]
	if !t.Members[memberID] {
		return fmt.Errorf("payout from %s to non-member %s", teamID, memberID)
	}
	if _, exists := t.Payouts[memberID]; exists {
		return fmt.Errorf("duplicate payout from %s to %s", teamID, memberID)
	}
	t.Payouts[memberID] = amount
	t.payoutOrder = append(t.payoutOrder, memberID)
	return nil
}

// Build returns the finished snapshot. Further Add calls fail.
func (b *SnapshotBuilder) Build() *Snapshot {
	b.built = true
	return b.snap
}
