// Package loader turns a raw ledger read into a validated models.Snapshot.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmynk/payday/internal/models"
	"github.com/mmynk/payday/internal/storage"
)

// ErrDataIntegrity is the sentinel wrapped by every DataIntegrityError.
var ErrDataIntegrity = errors.New("ledger data integrity violated")

// DataIntegrityError lists every problem found in a ledger snapshot.
// A snapshot with any violation never reaches the engine.
type DataIntegrityError struct {
	Violations []string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("ledger data integrity violated (%d): %s",
		len(e.Violations), strings.Join(e.Violations, "; "))
}

func (e *DataIntegrityError) Unwrap() error { return ErrDataIntegrity }

// Amount bounds. Trailing zeros past the minor unit are tolerated up to
// maxTrailingZeros places.
const (
	maxTrailingZeros = 18
	maxIntegerDigits = 15
)

// SnapshotReader is the part of the ledger store the loader needs.
type SnapshotReader interface {
	ReadSnapshot(ctx context.Context) (*storage.Snapshot, error)
}

// Loader reads and validates ledger snapshots.
type Loader struct {
	store      SnapshotReader
	minorUnits int32
}

// New creates a Loader. minorUnits is the number of fractional digits of
// the currency; amounts with more precision are rejected.
func New(store SnapshotReader, minorUnits int32) *Loader {
	return &Loader{store: store, minorUnits: minorUnits}
}

// Load takes one isolated read of the ledger and validates it.
func (l *Loader) Load(ctx context.Context) (*models.Snapshot, error) {
	raw, err := l.store.ReadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger snapshot: %w", err)
	}

	snap, err := l.Build(raw)
	if err != nil {
		return nil, err
	}

	slog.Debug("Ledger snapshot loaded",
		"taken_at", snap.TakenAt,
		"participants", len(raw.Participants),
		"teams", len(raw.Teams),
		"pledges", len(raw.Pledges),
		"payouts", len(raw.Payouts),
	)
	return snap, nil
}

// Build validates a raw snapshot and converts it. All violations are
// collected before returning.
func (l *Loader) Build(raw *storage.Snapshot) (*models.Snapshot, error) {
	v := &validator{minorUnits: l.minorUnits}

	participants := make(map[string]storage.ParticipantRow, len(raw.Participants))
	for _, p := range raw.Participants {
		if _, dup := participants[p.ID]; dup {
			v.addf("duplicate participant %s", p.ID)
			continue
		}
		participants[p.ID] = p
	}

	teams := make(map[string]storage.TeamRow, len(raw.Teams))
	for _, t := range raw.Teams {
		if _, dup := teams[t.ID]; dup {
			v.addf("duplicate team %s", t.ID)
			continue
		}
		teams[t.ID] = t
	}

	// Teams that take part in settlement: referenced by a pledge or payout.
	active := make(map[string]bool)

	type pledgeKey struct{ participant, team string }
	seenPledges := make(map[pledgeKey]bool)
	var pledges []models.Pledge
	for _, row := range raw.Pledges {
		amount, ok := v.amount(row.Amount, "pledge %s -> %s", row.ParticipantID, row.TeamID)
		p, pOK := participants[row.ParticipantID]
		switch {
		case !pOK:
			v.addf("pledge from unknown participant %s to %s", row.ParticipantID, row.TeamID)
			ok = false
		case p.IsClosed:
			v.addf("pledge from closed participant %s to %s", row.ParticipantID, row.TeamID)
			ok = false
		}
		t, tOK := teams[row.TeamID]
		switch {
		case !tOK:
			v.addf("pledge from %s to unknown team %s", row.ParticipantID, row.TeamID)
			ok = false
		case !t.IsApproved:
			v.addf("pledge from %s to unapproved team %s", row.ParticipantID, row.TeamID)
			ok = false
		case t.IsClosed:
			v.addf("pledge from %s to closed team %s", row.ParticipantID, row.TeamID)
			ok = false
		}
		key := pledgeKey{row.ParticipantID, row.TeamID}
		if seenPledges[key] {
			v.addf("duplicate pledge from %s to %s", row.ParticipantID, row.TeamID)
			ok = false
		}
		seenPledges[key] = true
		if tOK {
			active[row.TeamID] = true
		}
		if ok {
			pledges = append(pledges, models.Pledge{ParticipantID: row.ParticipantID, TeamID: row.TeamID, Amount: amount})
		}
	}

	type payoutKey struct{ team, member string }
	seenPayouts := make(map[payoutKey]bool)
	var payouts []models.Payout
	for _, row := range raw.Payouts {
		amount, ok := v.amount(row.Amount, "payout %s -> %s", row.TeamID, row.MemberID)
		t, tOK := teams[row.TeamID]
		switch {
		case !tOK:
			v.addf("payout from unknown team %s to %s", row.TeamID, row.MemberID)
			ok = false
		case !t.IsApproved || t.IsClosed:
			v.addf("payout from inactive team %s to %s", row.TeamID, row.MemberID)
			ok = false
		case !contains(t.Members, row.MemberID):
			v.addf("payout from %s to non-member %s", row.TeamID, row.MemberID)
			ok = false
		}
		if m, mOK := participants[row.MemberID]; !mOK {
			v.addf("payout from %s to unknown participant %s", row.TeamID, row.MemberID)
			ok = false
		} else if m.IsClosed {
			v.addf("payout from %s to closed participant %s", row.TeamID, row.MemberID)
			ok = false
		}
		key := payoutKey{row.TeamID, row.MemberID}
		if seenPayouts[key] {
			v.addf("duplicate payout from %s to %s", row.TeamID, row.MemberID)
			ok = false
		}
		seenPayouts[key] = true
		if tOK {
			active[row.TeamID] = true
		}
		if ok {
			payouts = append(payouts, models.Payout{TeamID: row.TeamID, MemberID: row.MemberID, Amount: amount})
		}
	}

	for _, t := range raw.Teams {
		if !active[t.ID] {
			continue
		}
		switch owner, ok := participants[t.OwnerID]; {
		case t.OwnerID == "":
			v.addf("team %s has no owner", t.ID)
		case !ok:
			v.addf("team %s owner %s is not a participant", t.ID, t.OwnerID)
		case owner.IsClosed:
			v.addf("team %s owner %s is closed", t.ID, t.OwnerID)
		}
	}

	if err := v.err(); err != nil {
		return nil, err
	}

	b := models.NewSnapshotBuilder(raw.TakenAt)
	for _, p := range raw.Participants {
		if err := b.AddParticipant(p.ID, p.Username, p.IsClosed); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDataIntegrity, err)
		}
	}
	for _, t := range raw.Teams {
		if !active[t.ID] {
			continue
		}
		if err := b.AddTeam(t.ID, t.Name, t.OwnerID, knownMembers(t.Members, participants)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDataIntegrity, err)
		}
	}
	for _, p := range pledges {
		if err := b.AddPledge(p.ParticipantID, p.TeamID, p.Amount); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDataIntegrity, err)
		}
	}
	for _, p := range payouts {
		if err := b.AddPayout(p.TeamID, p.MemberID, p.Amount); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDataIntegrity, err)
		}
	}
	return b.Build(), nil
}

type validator struct {
	minorUnits int32
	violations []string
}

func (v *validator) addf(format string, args ...interface{}) {
	v.violations = append(v.violations, fmt.Sprintf(format, args...))
}

// amount parses a raw amount, recording a violation if it is not a
// non-negative decimal quantized to the currency minor unit.
func (v *validator) amount(raw, format string, args ...interface{}) (decimal.Decimal, bool) {
	what := fmt.Sprintf(format, args...)
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		v.addf("%s: amount %q is not a number", what, raw)
		return decimal.Zero, false
	}
	if d.IsNegative() {
		v.addf("%s: amount %s is negative", what, raw)
		return decimal.Zero, false
	}
	// Exponent-form input can carry an exponent in the millions. Bound it
	// before any comparison rescales the coefficient.
	if d.Exponent() < -(v.minorUnits + maxTrailingZeros) {
		v.addf("%s: amount %s has more than %d decimal places", what, raw, v.minorUnits)
		return decimal.Zero, false
	}
	if d.NumDigits()+int(d.Exponent()) > maxIntegerDigits {
		v.addf("%s: amount %s exceeds %d integer digits", what, raw, maxIntegerDigits)
		return decimal.Zero, false
	}
	if !d.Equal(d.Truncate(v.minorUnits)) {
		v.addf("%s: amount %s has more than %d decimal places", what, raw, v.minorUnits)
		return decimal.Zero, false
	}
	return d, true
}

func (v *validator) err() error {
	if len(v.violations) == 0 {
		return nil
	}
	return &DataIntegrityError{Violations: v.violations}
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// knownMembers drops members that are not participants of the snapshot.
// Closed members are kept; payouts to them were already rejected.
func knownMembers(members []string, participants map[string]storage.ParticipantRow) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if _, ok := participants[m]; ok {
			out = append(out, m)
		}
	}
	return out
}
