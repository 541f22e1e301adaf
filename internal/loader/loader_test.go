package loader

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/payday/internal/storage"
	"github.com/mmynk/payday/internal/storage/sqlite"
)

type fakeReader struct {
	snap *storage.Snapshot
	err  error
}

func (f *fakeReader) ReadSnapshot(ctx context.Context) (*storage.Snapshot, error) {
	return f.snap, f.err
}

func validRaw() *storage.Snapshot {
	return &storage.Snapshot{
		TakenAt: time.Date(2024, 1, 4, 12, 0, 0, 0, time.UTC),
		Participants: []storage.ParticipantRow{
			{ID: "alice", Username: "alice"},
			{ID: "bob", Username: "bob"},
			{ID: "carol", Username: "carol"},
		},
		Teams: []storage.TeamRow{
			{ID: "gittip", Name: "Gittip", OwnerID: "carol", IsApproved: true, Members: []string{"bob", "carol"}},
			{ID: "dormant", Name: "Dormant", IsApproved: false},
		},
		Pledges: []storage.PledgeRow{{ParticipantID: "alice", TeamID: "gittip", Amount: "10.00"}},
		Payouts: []storage.PayoutRow{{TeamID: "gittip", MemberID: "bob", Amount: "4.25"}},
	}
}

func TestLoader_Load(t *testing.T) {
	l := New(&fakeReader{snap: validRaw()}, 2)

	snap, err := l.Load(context.Background())
	require.NoError(t, err)

	assert.Len(t, snap.Participants(), 3)
	// a team without pledges or payouts does not enter settlement
	require.Len(t, snap.Teams(), 1)

	team, ok := snap.Team("gittip")
	require.True(t, ok)
	assert.Equal(t, "carol", team.OwnerID)
	assert.True(t, team.Payouts["bob"].Equal(decimal.RequireFromString("4.25")))

	alice, ok := snap.Participant("alice")
	require.True(t, ok)
	assert.True(t, alice.Pledges["gittip"].Equal(decimal.NewFromInt(10)))
	assert.Equal(t, time.Date(2024, 1, 4, 12, 0, 0, 0, time.UTC), snap.TakenAt)
}

func TestLoader_RejectsMalformedSnapshots(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(raw *storage.Snapshot)
		want   string
	}{
		{
			name:   "negative pledge",
			mutate: func(raw *storage.Snapshot) { raw.Pledges[0].Amount = "-1.00" },
			want:   "is negative",
		},
		{
			name:   "non-numeric pledge",
			mutate: func(raw *storage.Snapshot) { raw.Pledges[0].Amount = "ten" },
			want:   "is not a number",
		},
		{
			name:   "amount finer than the minor unit",
			mutate: func(raw *storage.Snapshot) { raw.Payouts[0].Amount = "0.001" },
			want:   "more than 2 decimal places",
		},
		{
			name:   "exponent-form amount finer than the minor unit",
			mutate: func(raw *storage.Snapshot) { raw.Pledges[0].Amount = "1e-20000000" },
			want:   "amount 1e-20000000 has more than 2 decimal places",
		},
		{
			name:   "exponent-form amount too large",
			mutate: func(raw *storage.Snapshot) { raw.Payouts[0].Amount = "1e20000000" },
			want:   "amount 1e20000000 exceeds 15 integer digits",
		},
		{
			name:   "amount too large",
			mutate: func(raw *storage.Snapshot) { raw.Payouts[0].Amount = "1000000000000000" },
			want:   "exceeds 15 integer digits",
		},
		{
			name:   "team with no owner",
			mutate: func(raw *storage.Snapshot) { raw.Teams[0].OwnerID = "" },
			want:   "team gittip has no owner",
		},
		{
			name:   "owner that is not a participant",
			mutate: func(raw *storage.Snapshot) { raw.Teams[0].OwnerID = "mallory" },
			want:   "owner mallory is not a participant",
		},
		{
			name: "pledge from unknown participant",
			mutate: func(raw *storage.Snapshot) {
				raw.Pledges = append(raw.Pledges, storage.PledgeRow{ParticipantID: "ghost", TeamID: "gittip", Amount: "1"})
			},
			want: "pledge from unknown participant ghost",
		},
		{
			name:   "pledge from closed participant",
			mutate: func(raw *storage.Snapshot) { raw.Participants[0].IsClosed = true },
			want:   "pledge from closed participant alice",
		},
		{
			name: "pledge to unapproved team",
			mutate: func(raw *storage.Snapshot) {
				raw.Pledges = append(raw.Pledges, storage.PledgeRow{ParticipantID: "bob", TeamID: "dormant", Amount: "1"})
			},
			want: "pledge from bob to unapproved team dormant",
		},
		{
			name:   "pledge to closed team",
			mutate: func(raw *storage.Snapshot) { raw.Teams[0].IsClosed = true },
			want:   "pledge from alice to closed team gittip",
		},
		{
			name: "duplicate pledge",
			mutate: func(raw *storage.Snapshot) {
				raw.Pledges = append(raw.Pledges, storage.PledgeRow{ParticipantID: "alice", TeamID: "gittip", Amount: "2"})
			},
			want: "duplicate pledge from alice to gittip",
		},
		{
			name:   "payout to non-member",
			mutate: func(raw *storage.Snapshot) { raw.Payouts[0].MemberID = "alice" },
			want:   "payout from gittip to non-member alice",
		},
		{
			name: "payout from unknown team",
			mutate: func(raw *storage.Snapshot) {
				raw.Payouts = append(raw.Payouts, storage.PayoutRow{TeamID: "nope", MemberID: "bob", Amount: "1"})
			},
			want: "payout from unknown team nope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			tt.mutate(raw)

			_, err := New(&fakeReader{snap: raw}, 2).Load(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDataIntegrity), "error should wrap ErrDataIntegrity: %v", err)

			var dErr *DataIntegrityError
			require.True(t, errors.As(err, &dErr))
			assert.Contains(t, dErr.Error(), tt.want)
		})
	}
}

func TestLoader_CollectsAllViolations(t *testing.T) {
	raw := validRaw()
	raw.Pledges[0].Amount = "-5"
	raw.Payouts[0].Amount = "abc"
	raw.Teams[0].OwnerID = ""

	_, err := New(&fakeReader{snap: raw}, 2).Build(raw)

	var dErr *DataIntegrityError
	require.True(t, errors.As(err, &dErr))
	assert.Len(t, dErr.Violations, 3)
}

func TestLoader_AcceptsEquivalentAmountForms(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"10.000", "10"},
		{"1e1", "10"},
		{"1000e-2", "10"},
		{"999999999999999.99", "999999999999999.99"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			raw := validRaw()
			raw.Pledges[0].Amount = tt.raw

			snap, err := New(&fakeReader{snap: raw}, 2).Build(raw)
			require.NoError(t, err)
			alice, _ := snap.Participant("alice")
			assert.True(t, alice.Pledges["gittip"].Equal(decimal.RequireFromString(tt.want)),
				"got %s", alice.Pledges["gittip"])
		})
	}
}

func TestLoader_ExponentFormIsRejectedQuickly(t *testing.T) {
	raw := validRaw()
	raw.Pledges[0].Amount = "1e-20000000"
	raw.Payouts[0].Amount = "5e20000000"

	start := time.Now()
	_, err := New(&fakeReader{snap: raw}, 2).Build(raw)
	require.ErrorIs(t, err, ErrDataIntegrity)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLoader_ZeroMinorUnits(t *testing.T) {
	raw := validRaw()
	raw.Pledges[0].Amount = "10"
	raw.Payouts[0].Amount = "4.50"

	_, err := New(&fakeReader{snap: raw}, 0).Build(raw)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "more than 0 decimal places"))
}

func TestLoader_StoreFailure(t *testing.T) {
	_, err := New(&fakeReader{err: errors.New("connection refused")}, 2).Load(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrDataIntegrity))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestLoader_WithSQLiteStore(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer store.Close()

	for _, id := range []string{"alice", "bob"} {
		require.NoError(t, store.CreateParticipant(ctx, &storage.ParticipantRow{ID: id, Username: id}))
	}
	require.NoError(t, store.CreateTeam(ctx, &storage.TeamRow{ID: "t", Name: "T", OwnerID: "bob", IsApproved: true}))
	require.NoError(t, store.SetPledge(ctx, "alice", "t", "1.50"))

	snap, err := New(store, 2).Load(ctx)
	require.NoError(t, err)

	pledges := snap.Pledges()
	require.Len(t, pledges, 1)
	assert.Equal(t, "alice", pledges[0].ParticipantID)
	assert.True(t, pledges[0].Amount.Equal(decimal.RequireFromString("1.5")))
}
