package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var referenceFixture = filepath.Join("..", "..", "internal", "fixture", "testdata", "reference.json")

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LEDGER_DRIVER", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "payday.db"))
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("DISPATCH_INITIAL_BACKOFF", "1ms")
}

func TestCLI_SeedRunShowRedispatch(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "seed", referenceFixture)
	require.NoError(t, err)

	out, err := execute(t, "run")
	require.NoError(t, err, out)
	assert.Contains(t, out, "status:       settled")
	assert.Contains(t, out, "instructions: 3")
	assert.Contains(t, out, "captured:     2")
	assert.Contains(t, out, "dispatched:   3")

	m := regexp.MustCompile(`run:\s+(\S+)`).FindStringSubmatch(out)
	require.Len(t, m, 2)
	runID := m[1]

	out, err = execute(t, "show", runID)
	require.NoError(t, err)
	assert.Contains(t, out, "PARTICIPANT")
	assert.Regexp(t, `a\s+capture\s+2\s+dispatched`, out)
	assert.Regexp(t, `b\s+payout\s+1\s+dispatched`, out)

	out, err = execute(t, "redispatch", runID)
	require.NoError(t, err)
	assert.Contains(t, out, "skipped:      3")
}

func TestCLI_RunReportsIntegrityViolations(t *testing.T) {
	setupEnv(t)

	fx := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(fx, []byte(`{
		"participants": [{"id": "a", "username": "a"}, {"id": "b", "username": "b"}],
		"teams": [{"id": "T", "name": "T", "owner": "b", "approved": true}],
		"pledges": [{"participant": "a", "team": "T", "amount": "1.005"}]
	}`), 0o600))

	_, err := execute(t, "seed", fx)
	require.NoError(t, err)

	// A second seed conflicts on the first participant.
	_, err = execute(t, "seed", fx)
	require.Error(t, err)

	out, err := execute(t, "run", "--dispatch=false")
	require.Error(t, err)
	assert.Contains(t, out, "status:       aborted")
	assert.Contains(t, out, "data integrity violations (1):")
	assert.Contains(t, out, "1.005")
}

func TestCLI_ShowUnknownRun(t *testing.T) {
	setupEnv(t)
	_, err := execute(t, "show", "missing")
	assert.Error(t, err)
}
