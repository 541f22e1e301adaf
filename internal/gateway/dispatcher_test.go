package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/payday/internal/models"
)

type statusUpdate struct {
	status   models.DispatchStatus
	attempts int
	lastErr  string
}

type fakeRecorder struct {
	mu      sync.Mutex
	updates map[string]statusUpdate
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{updates: make(map[string]statusUpdate)}
}

func (r *fakeRecorder) UpdateInstructionStatus(_ context.Context, runID, participantID string, status models.DispatchStatus, attempts int, lastErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates[runID+":"+participantID] = statusUpdate{status, attempts, lastErr}
	return nil
}

func (r *fakeRecorder) get(key string) (statusUpdate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.updates[key]
	return u, ok
}

// flakyGateway fails each participant failures[id] times before succeeding.
// A negative count fails forever; rejected participants fail permanently.
type flakyGateway struct {
	mu       sync.Mutex
	failures map[string]int
	rejected map[string]bool
	calls    map[string]int
}

func newFlakyGateway() *flakyGateway {
	return &flakyGateway{
		failures: make(map[string]int),
		rejected: make(map[string]bool),
		calls:    make(map[string]int),
	}
}

func (g *flakyGateway) Transfer(_ context.Context, ins models.TransferInstruction) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[ins.ParticipantID]++
	if g.rejected[ins.ParticipantID] {
		return fmt.Errorf("card declined: %w", ErrRejected)
	}
	n := g.failures[ins.ParticipantID]
	if n < 0 || g.calls[ins.ParticipantID] <= n {
		return errors.New("gateway timeout")
	}
	return nil
}

func (g *flakyGateway) callCount(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[id]
}

func settledRun(ids ...string) *models.PaydayRun {
	run := &models.PaydayRun{ID: "run-1", Status: models.RunSettled, State: models.StateSettled}
	for i, id := range ids {
		amt := decimal.NewFromInt(int64(i + 1))
		if i%2 == 1 {
			amt = amt.Neg()
		}
		run.Instructions = append(run.Instructions, models.TransferInstruction{
			RunID:         run.ID,
			ParticipantID: id,
			Amount:        amt,
			Status:        models.DispatchPending,
		})
	}
	return run
}

func fastOptions() Options {
	return Options{Workers: 2, MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestDispatch_AllSucceed(t *testing.T) {
	gw := newFlakyGateway()
	rec := newFakeRecorder()
	d := NewDispatcher(gw, rec, fastOptions())

	report, err := d.Dispatch(context.Background(), settledRun("a", "b", "c"))
	require.NoError(t, err)

	assert.Equal(t, 3, report.Dispatched)
	assert.Zero(t, report.Failed)
	assert.Zero(t, report.Skipped)
	for _, id := range []string{"a", "b", "c"} {
		u, ok := rec.get("run-1:" + id)
		require.True(t, ok, "no status recorded for %s", id)
		assert.Equal(t, models.DispatchDispatched, u.status)
		assert.Equal(t, 1, u.attempts)
		assert.Empty(t, u.lastErr)
	}
}

func TestDispatch_RetriesTransientFailures(t *testing.T) {
	gw := newFlakyGateway()
	gw.failures["b"] = 2
	rec := newFakeRecorder()
	d := NewDispatcher(gw, rec, fastOptions())

	report, err := d.Dispatch(context.Background(), settledRun("a", "b"))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Dispatched)
	assert.Equal(t, 3, gw.callCount("b"))
	u, _ := rec.get("run-1:b")
	assert.Equal(t, 3, u.attempts)
}

func TestDispatch_FailureIsIsolated(t *testing.T) {
	gw := newFlakyGateway()
	gw.failures["b"] = -1
	rec := newFakeRecorder()
	d := NewDispatcher(gw, rec, fastOptions())

	report, err := d.Dispatch(context.Background(), settledRun("a", "b", "c"))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Dispatched)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 3, gw.callCount("b"), "retries stop at MaxAttempts")

	res := report.Results[1]
	assert.Equal(t, models.DispatchFailed, res.Status)
	assert.ErrorIs(t, res.Err, ErrGatewayDispatch)
	var de *DispatchError
	require.ErrorAs(t, res.Err, &de)
	assert.Equal(t, "b", de.ParticipantID)
	assert.Equal(t, 3, de.Attempts)

	u, _ := rec.get("run-1:b")
	assert.Equal(t, models.DispatchFailed, u.status)
	assert.Contains(t, u.lastErr, "gateway timeout")

	for _, id := range []string{"a", "c"} {
		u, _ := rec.get("run-1:" + id)
		assert.Equal(t, models.DispatchDispatched, u.status)
	}
}

func TestDispatch_RejectedIsNotRetried(t *testing.T) {
	gw := newFlakyGateway()
	gw.rejected["a"] = true
	d := NewDispatcher(gw, newFakeRecorder(), fastOptions())

	report, err := d.Dispatch(context.Background(), settledRun("a"))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, gw.callCount("a"))
	assert.ErrorIs(t, report.Results[0].Err, ErrRejected)
}

func TestDispatch_SkipsAlreadyDispatched(t *testing.T) {
	gw := newFlakyGateway()
	rec := newFakeRecorder()
	d := NewDispatcher(gw, rec, fastOptions())

	run := settledRun("a", "b")
	run.Instructions[0].Status = models.DispatchDispatched
	run.Instructions[0].Attempts = 1
	run.Instructions[1].Status = models.DispatchFailed
	run.Instructions[1].Attempts = 3

	report, err := d.Dispatch(context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Dispatched)
	assert.Zero(t, gw.callCount("a"))
	u, _ := rec.get("run-1:b")
	assert.Equal(t, 4, u.attempts, "attempts accumulate across passes")
}

func TestDispatch_RefusesUnsettledRun(t *testing.T) {
	d := NewDispatcher(newFlakyGateway(), newFakeRecorder(), fastOptions())

	for _, status := range []models.RunStatus{models.RunAborted, models.RunInProgress} {
		run := settledRun("a")
		run.Status = status
		_, err := d.Dispatch(context.Background(), run)
		assert.ErrorIs(t, err, ErrRunNotSettled, "status %s", status)
	}
}

func TestDispatch_ContextCancelled(t *testing.T) {
	gw := newFlakyGateway()
	gw.failures["a"] = -1
	d := NewDispatcher(gw, newFakeRecorder(), Options{Workers: 1, MaxAttempts: 100, InitialBackoff: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := d.Dispatch(ctx, settledRun("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
}

func TestLogGateway_DeduplicatesByKey(t *testing.T) {
	gw := NewLogGateway()
	ins := models.TransferInstruction{RunID: "r", ParticipantID: "p", Amount: decimal.NewFromInt(5)}

	require.NoError(t, gw.Transfer(context.Background(), ins))
	require.NoError(t, gw.Transfer(context.Background(), ins))

	_, seen := gw.seen.Load("r:p")
	assert.True(t, seen)
}
