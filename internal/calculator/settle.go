// Package calculator computes the net transfers of a payday run.
//
// Everything here is a pure function over a models.Snapshot: no I/O, no
// package state, and inputs are never modified.
package calculator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mmynk/payday/internal/models"
)

// TeamTotals summarizes one team's money flow in a run.
type TeamTotals struct {
	Collected decimal.Decimal // sum of pledges to the team
	PaidOut   decimal.Decimal // sum of explicit payout instructions
	Residual  decimal.Decimal // Collected - PaidOut, credited to the owner
}

// ParticipantTotals splits a participant's net into the roles that produced it.
type ParticipantTotals struct {
	Pledged  decimal.Decimal // everything pledged out ("holding")
	Received decimal.Decimal // payout instructions received ("earned")
	Residual decimal.Decimal // residuals of owned teams, may be negative
}

// Net is the engine-signed net: Received + Residual - Pledged.
func (t ParticipantTotals) Net() decimal.Decimal {
	return t.Received.Add(t.Residual).Sub(t.Pledged)
}

// Settlement is the result of settling one snapshot.
type Settlement struct {
	// TeamBalances is each team's balance after residual distribution.
	// Every value is zero for a correct settlement.
	TeamBalances map[string]decimal.Decimal

	// Nets is each participant's balance. Negative means the participant
	// owes money, positive means the participant is owed money.
	Nets map[string]decimal.Decimal

	Teams        map[string]TeamTotals
	Participants map[string]ParticipantTotals

	// Order lists participant IDs in snapshot order.
	Order []string
}

// balances is the transient state owned by one Settle call.
type balances struct {
	team        map[string]decimal.Decimal
	participant map[string]decimal.Decimal
	teamTotals  map[string]TeamTotals
	partTotals  map[string]ParticipantTotals
}

func newBalances() *balances {
	return &balances{
		team:        make(map[string]decimal.Decimal),
		participant: make(map[string]decimal.Decimal),
		teamTotals:  make(map[string]TeamTotals),
		partTotals:  make(map[string]ParticipantTotals),
	}
}

// Settle folds every pledge and payout of the snapshot into team and
// participant balances, then credits each team's residual to its owner.
//
// Algorithm:
//   - pledge P -> T of a: team[T] += a, participant[P] -= a
//   - payout T -> M of a: team[T] -= a, participant[M] += a
//   - for each team: participant[owner] += team[T], team[T] = 0
//
// A participant that pledges, is paid, and owns a team accumulates all three
// effects by summation.
func Settle(snap *models.Snapshot) *Settlement {
	b := newBalances()
	participants := snap.Participants()
	teams := snap.Teams()

	for _, p := range participants {
		b.participant[p.ID] = decimal.Zero
	}
	for _, t := range teams {
		b.team[t.ID] = decimal.Zero
	}

	for _, p := range participants {
		applyPledges(b, p)
	}
	for _, t := range teams {
		applyPayouts(b, t)
	}
	for _, t := range teams {
		distributeResidual(b, t)
	}

	return b.settlement(participants)
}

// SettleParallel computes the same result as Settle, splitting the work per
// team across at most workers goroutines and merging by summation.
func SettleParallel(ctx context.Context, snap *models.Snapshot, workers int) (*Settlement, error) {
	if workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", workers)
	}
	participants := snap.Participants()
	teams := snap.Teams()

	// pledges grouped by receiving team so each team is independent
	pledgesByTeam := make(map[string][]models.Pledge, len(teams))
	for _, pl := range snap.Pledges() {
		pledgesByTeam[pl.TeamID] = append(pledgesByTeam[pl.TeamID], pl)
	}

	partials := make([]*balances, len(teams))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, t := range teams {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			pb := newBalances()
			pb.team[t.ID] = decimal.Zero
			for _, pl := range pledgesByTeam[t.ID] {
				pledge(pb, pl.ParticipantID, pl.TeamID, pl.Amount)
			}
			applyPayouts(pb, t)
			distributeResidual(pb, t)
			partials[i] = pb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to settle teams: %w", err)
	}

	merged := newBalances()
	for _, p := range participants {
		merged.participant[p.ID] = decimal.Zero
	}
	for _, pb := range partials {
		merged.merge(pb)
	}
	return merged.settlement(participants), nil
}

func applyPledges(b *balances, p models.Participant) {
	for _, teamID := range p.PledgeTeams() {
		pledge(b, p.ID, teamID, p.Pledges[teamID])
	}
}

func pledge(b *balances, participantID, teamID string, amount decimal.Decimal) {
	b.team[teamID] = b.team[teamID].Add(amount)
	b.participant[participantID] = b.participant[participantID].Sub(amount)

	tt := b.teamTotals[teamID]
	tt.Collected = tt.Collected.Add(amount)
	b.teamTotals[teamID] = tt

	pt := b.partTotals[participantID]
	pt.Pledged = pt.Pledged.Add(amount)
	b.partTotals[participantID] = pt
}

func applyPayouts(b *balances, t models.Team) {
	for _, memberID := range t.PayoutMembers() {
		amount := t.Payouts[memberID]
		b.team[t.ID] = b.team[t.ID].Sub(amount)
		b.participant[memberID] = b.participant[memberID].Add(amount)

		tt := b.teamTotals[t.ID]
		tt.PaidOut = tt.PaidOut.Add(amount)
		b.teamTotals[t.ID] = tt

		pt := b.partTotals[memberID]
		pt.Received = pt.Received.Add(amount)
		b.partTotals[memberID] = pt
	}
}

// distributeResidual credits whatever is left in the team balance to the
// owner and zeroes the team. The residual is negative when payout
// instructions exceed what the team collected; the owner absorbs that too.
func distributeResidual(b *balances, t models.Team) {
	residual := b.team[t.ID]
	b.participant[t.OwnerID] = b.participant[t.OwnerID].Add(residual)
	b.team[t.ID] = decimal.Zero

	tt := b.teamTotals[t.ID]
	tt.Residual = residual
	b.teamTotals[t.ID] = tt

	pt := b.partTotals[t.OwnerID]
	pt.Residual = pt.Residual.Add(residual)
	b.partTotals[t.OwnerID] = pt
}

func (b *balances) merge(o *balances) {
	for id, v := range o.team {
		b.team[id] = b.team[id].Add(v)
	}
	for id, v := range o.participant {
		b.participant[id] = b.participant[id].Add(v)
	}
	for id, v := range o.teamTotals {
		tt := b.teamTotals[id]
		tt.Collected = tt.Collected.Add(v.Collected)
		tt.PaidOut = tt.PaidOut.Add(v.PaidOut)
		tt.Residual = tt.Residual.Add(v.Residual)
		b.teamTotals[id] = tt
	}
	for id, v := range o.partTotals {
		pt := b.partTotals[id]
		pt.Pledged = pt.Pledged.Add(v.Pledged)
		pt.Received = pt.Received.Add(v.Received)
		pt.Residual = pt.Residual.Add(v.Residual)
		b.partTotals[id] = pt
	}
}

func (b *balances) settlement(participants []models.Participant) *Settlement {
	order := make([]string, len(participants))
	for i, p := range participants {
		order[i] = p.ID
	}
	return &Settlement{
		TeamBalances: b.team,
		Nets:         b.participant,
		Teams:        b.teamTotals,
		Participants: b.partTotals,
		Order:        order,
	}
}
