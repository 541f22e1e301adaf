package models

import "github.com/shopspring/decimal"

// Participant is a platform account as seen by one payday run.
type Participant struct {
	// ID is the opaque identifier of the participant.
	ID string

	// Username is the display handle, used only in diagnostics.
	Username string

	// IsClosed marks an account that can no longer pledge or be paid.
	IsClosed bool

	// Pledges maps team ID to the weekly amount pledged to that team.
	// There is at most one pledge per team.
	Pledges map[string]decimal.Decimal

	// pledgeOrder keeps the order pledges were read in, so iteration over
	// a participant's pledges is deterministic.
	pledgeOrder []string
}

// PledgeTeams returns the IDs of the teams this participant pledges to, in
// snapshot order.
func (p *Participant) PledgeTeams() []string {
	out := make([]string, len(p.pledgeOrder))
	copy(out, p.pledgeOrder)
	return out
}

// Pledge is a participant's recurring commitment to a team.
type Pledge struct {
	ParticipantID string
	TeamID        string
	Amount        decimal.Decimal
}
