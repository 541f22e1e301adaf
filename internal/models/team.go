package models

import "github.com/shopspring/decimal"

// Team is a group of participants that collects pledges and pays its members.
type Team struct {
	// ID is the opaque identifier of the team.
	ID string

	// Name is the display name, used only in diagnostics.
	Name string

	// OwnerID is the participant who receives the team's residual.
	// Every team that enters settlement has an owner.
	OwnerID string

	IsApproved bool
	IsClosed   bool

	// Members is the set of current member participant IDs.
	Members map[string]bool

	// Payouts maps member participant ID to the weekly amount the team pays
	// that member.
	Payouts map[string]decimal.Decimal

	payoutOrder []string
}

// PayoutMembers returns the IDs of the members receiving a payout
// instruction, in snapshot order.
func (t *Team) PayoutMembers() []string {
	out := make([]string, len(t.payoutOrder))
	copy(out, t.payoutOrder)
	return out
}

// IsMember reports whether the participant is a current member of the team.
func (t *Team) IsMember(participantID string) bool {
	return t.Members[participantID]
}

// Payout is a team's recurring commitment to one of its members.
type Payout struct {
	TeamID   string
	MemberID string
	Amount   decimal.Decimal
}
