package fixture

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/payday/internal/loader"
	"github.com/mmynk/payday/internal/storage"
	"github.com/mmynk/payday/internal/storage/sqlite"
)

func TestDecode(t *testing.T) {
	f, err := os.Open(filepath.Join("testdata", "reference.json"))
	require.NoError(t, err)
	defer f.Close()

	fx, err := Decode(f)
	require.NoError(t, err)
	assert.Len(t, fx.Participants, 5)
	assert.Len(t, fx.Teams, 5)
	assert.Len(t, fx.Pledges, 9)
	assert.Len(t, fx.Payouts, 3)
	assert.Equal(t, []string{"b", "c"}, fx.Teams[0].Members)
	assert.Equal(t, "1", fx.Pledges[0].Amount.String())
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unknown field", `{"participants": [{"id": "a", "email": "a@example.com"}]}`},
		{"bad amount", `{"pledges": [{"participant": "a", "team": "A", "amount": "lots"}]}`},
		{"not json", `participants: []`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestApply_LoadsIntoStore(t *testing.T) {
	store, err := sqlite.New(filepath.Join(t.TempDir(), "seed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	f, err := os.Open(filepath.Join("testdata", "reference.json"))
	require.NoError(t, err)
	defer f.Close()
	fx, err := Decode(f)
	require.NoError(t, err)

	require.NoError(t, fx.Apply(ctx, store))

	snap, err := loader.New(store, 2).Load(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Participants(), 5)
	assert.Len(t, snap.Pledges(), 9)
	assert.Len(t, snap.Payouts(), 3)

	t.Run("applying twice conflicts", func(t *testing.T) {
		err := fx.Apply(ctx, store)
		assert.ErrorIs(t, err, storage.ErrConflict)
	})
}
