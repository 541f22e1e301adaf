package calculator

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrConservation is the sentinel wrapped by every ConservationError.
var ErrConservation = errors.New("conservation violated")

// ConservationError reports a settlement in which money appeared or
// vanished. It signals a logic defect; retrying reproduces it.
type ConservationError struct {
	// TeamResidual is the sum of all team balances after distribution.
	TeamResidual decimal.Decimal

	// NetSum is the sum of all participant nets.
	NetSum decimal.Decimal

	// Teams holds the totals of every team left with a non-zero balance.
	Teams map[string]TeamTotals

	// Participants holds the per-role subtotals of every participant with
	// a non-zero net, for diagnosis.
	Participants map[string]ParticipantTotals
}

func (e *ConservationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "conservation violated: team residual %s, participant net sum %s",
		e.TeamResidual.String(), e.NetSum.String())
	if len(e.Teams) > 0 {
		ids := sortedKeys(e.Teams)
		parts := make([]string, len(ids))
		for i, id := range ids {
			t := e.Teams[id]
			parts[i] = fmt.Sprintf("%s(collected=%s paid=%s residual=%s)",
				id, t.Collected.String(), t.PaidOut.String(), t.Residual.String())
		}
		fmt.Fprintf(&b, "; undistributed teams: %s", strings.Join(parts, ", "))
	}
	return b.String()
}

func (e *ConservationError) Unwrap() error { return ErrConservation }

// Validate asserts that every team distributed all it collected and that
// participant nets sum to zero.
func Validate(s *Settlement) error {
	teamSum := decimal.Zero
	offending := make(map[string]TeamTotals)
	for id, bal := range s.TeamBalances {
		teamSum = teamSum.Add(bal)
		if !bal.IsZero() {
			offending[id] = s.Teams[id]
		}
	}
	// a team's totals must also agree with its own residual
	for id, t := range s.Teams {
		if !t.Collected.Sub(t.PaidOut).Equal(t.Residual) {
			offending[id] = t
		}
	}

	netSum := sum(s.Nets)
	if teamSum.IsZero() && netSum.IsZero() && len(offending) == 0 {
		return nil
	}

	return &ConservationError{
		TeamResidual: teamSum,
		NetSum:       netSum,
		Teams:        offending,
		Participants: nonZeroParticipants(s),
	}
}

// ValidateNets asserts the zero-sum invariant over an arbitrary set of
// participant nets.
func ValidateNets(nets map[string]decimal.Decimal) error {
	netSum := sum(nets)
	if netSum.IsZero() {
		return nil
	}
	return &ConservationError{TeamResidual: decimal.Zero, NetSum: netSum}
}

func sum(m map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range m {
		total = total.Add(v)
	}
	return total
}

func nonZeroParticipants(s *Settlement) map[string]ParticipantTotals {
	out := make(map[string]ParticipantTotals)
	for id, net := range s.Nets {
		if !net.IsZero() {
			out[id] = s.Participants[id]
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
