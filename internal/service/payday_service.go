package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmynk/payday/internal/calculator"
	"github.com/mmynk/payday/internal/gateway"
	"github.com/mmynk/payday/internal/loader"
	"github.com/mmynk/payday/internal/metrics"
	"github.com/mmynk/payday/internal/models"
	"github.com/mmynk/payday/internal/storage"
)

var (
	// ErrRunInProgress is returned when a payday run is started while
	// another one holds the run lock.
	ErrRunInProgress = errors.New("payday run already in progress")

	// ErrIllegalTransition is returned when the coordinator is asked to
	// move between states the run lifecycle does not allow.
	ErrIllegalTransition = errors.New("illegal run state transition")
)

// transitions lists the forward edges of the run lifecycle. Aborting is
// allowed from every non-terminal state and is handled separately.
var transitions = map[models.RunState]models.RunState{
	models.StateIdle:       models.StateLoading,
	models.StateLoading:    models.StateSettling,
	models.StateSettling:   models.StateValidating,
	models.StateValidating: models.StateEmitting,
	models.StateEmitting:   models.StateCommitting,
	models.StateCommitting: models.StateSettled,
}

// Options tune a PaydayService.
type Options struct {
	// SettleWorkers > 1 settles teams in parallel.
	SettleWorkers int
}

// PaydayService coordinates payday runs: load, settle, validate, emit and
// commit, in that order, at most one at a time.
type PaydayService struct {
	store      storage.LedgerStore
	loader     *loader.Loader
	dispatcher *gateway.Dispatcher
	opts       Options

	mu     sync.Mutex
	now    func() time.Time
	settle func(ctx context.Context, snap *models.Snapshot) (*calculator.Settlement, error)
}

// NewPaydayService creates a PaydayService. dispatcher may be nil when the
// caller only settles.
func NewPaydayService(store storage.LedgerStore, ld *loader.Loader, dispatcher *gateway.Dispatcher, opts Options) *PaydayService {
	s := &PaydayService{
		store:      store,
		loader:     ld,
		dispatcher: dispatcher,
		opts:       opts,
		now:        time.Now,
	}
	s.settle = s.runEngine
	return s
}

// Run executes one payday. On success the returned run is settled and its
// instructions are durably recorded. On failure the run is aborted,
// recorded with its diagnostic and no instructions, and returned together
// with the error. ErrRunInProgress is returned without a run.
func (s *PaydayService) Run(ctx context.Context) (*models.PaydayRun, error) {
	if !s.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.mu.Unlock()

	run := &models.PaydayRun{
		ID:        uuid.New().String(),
		StartedAt: s.now().UTC(),
		State:     models.StateIdle,
		Status:    models.RunInProgress,
	}

	if err := s.store.AcquireRunLock(ctx, run.ID); err != nil {
		if errors.Is(err, storage.ErrRunLocked) {
			return nil, fmt.Errorf("%w: %v", ErrRunInProgress, err)
		}
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	defer func() {
		if err := s.store.ReleaseRunLock(context.WithoutCancel(ctx), run.ID); err != nil {
			slog.Error("Failed to release run lock", "run_id", run.ID, "error", err)
		}
	}()

	if err := s.store.RecordRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record run start: %w", err)
	}
	slog.Info("Payday run started", "run_id", run.ID)

	if err := s.execute(ctx, run); err != nil {
		return s.abort(ctx, run, err)
	}

	metrics.RunsTotal.WithLabelValues(string(models.RunSettled)).Inc()
	metrics.RunDuration.Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())
	for _, ins := range run.Instructions {
		dir := string(ins.Direction())
		metrics.InstructionsEmitted.WithLabelValues(dir).Inc()
		metrics.AmountSettled.WithLabelValues(dir).Add(ins.Amount.Abs().InexactFloat64())
	}

	slog.Info("Payday run settled",
		"run_id", run.ID,
		"instructions", len(run.Instructions),
		"captured", run.TotalCaptured.String(),
		"paid_out", run.TotalPaidOut.String(),
		"duration_ms", run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
	)
	return run, nil
}

func (s *PaydayService) execute(ctx context.Context, run *models.PaydayRun) error {
	if err := advance(run, models.StateLoading); err != nil {
		return err
	}
	snap, err := s.loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}
	run.SnapshotAt = snap.TakenAt

	if err := advance(run, models.StateSettling); err != nil {
		return err
	}
	settlement, err := s.settle(ctx, snap)
	if err != nil {
		return fmt.Errorf("failed to settle: %w", err)
	}

	if err := advance(run, models.StateValidating); err != nil {
		return err
	}
	if err := calculator.Validate(settlement); err != nil {
		return err
	}

	if err := advance(run, models.StateEmitting); err != nil {
		return err
	}
	instructions := calculator.Emit(run.ID, settlement)

	if err := advance(run, models.StateCommitting); err != nil {
		return err
	}
	committed := *run
	committed.Instructions = instructions
	committed.TotalCaptured, committed.TotalPaidOut = totals(instructions)
	committed.FinishedAt = s.now().UTC()
	if err := advance(&committed, models.StateSettled); err != nil {
		return err
	}
	committed.Status = models.RunSettled
	if err := s.store.RecordRun(ctx, &committed); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	*run = committed
	return nil
}

func (s *PaydayService) runEngine(ctx context.Context, snap *models.Snapshot) (*calculator.Settlement, error) {
	if s.opts.SettleWorkers > 1 {
		return calculator.SettleParallel(ctx, snap, s.opts.SettleWorkers)
	}
	return calculator.Settle(snap), nil
}

// abort finalizes run as aborted. The abort record is written even when
// ctx is already cancelled.
func (s *PaydayService) abort(ctx context.Context, run *models.PaydayRun, cause error) (*models.PaydayRun, error) {
	failedIn := run.State
	run.State = models.StateAborted
	run.Status = models.RunAborted
	run.Failure = cause.Error()
	run.Instructions = nil
	run.TotalCaptured = decimal.Zero
	run.TotalPaidOut = decimal.Zero
	run.FinishedAt = s.now().UTC()

	metrics.RunsTotal.WithLabelValues(string(models.RunAborted)).Inc()
	metrics.RunAborts.WithLabelValues(string(failedIn)).Inc()
	metrics.RunDuration.Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())

	slog.Error("Payday run aborted",
		"run_id", run.ID,
		"state", failedIn,
		"error", cause,
	)

	if err := s.store.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		slog.Error("Failed to record aborted run", "run_id", run.ID, "error", err)
		return run, errors.Join(cause, fmt.Errorf("failed to record aborted run: %w", err))
	}
	return run, cause
}

// Dispatch sends the pending and failed instructions of a settled run to
// the gateway. The run is read back from the store; settlement is never
// recomputed.
func (s *PaydayService) Dispatch(ctx context.Context, runID string) (*gateway.Report, error) {
	if s.dispatcher == nil {
		return nil, errors.New("no dispatcher configured")
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return s.dispatcher.Dispatch(ctx, run)
}

// GetRun returns a recorded run.
func (s *PaydayService) GetRun(ctx context.Context, runID string) (*models.PaydayRun, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return run, nil
}

func advance(run *models.PaydayRun, to models.RunState) error {
	if next, ok := transitions[run.State]; !ok || next != to {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, run.State, to)
	}
	run.State = to
	return nil
}

func totals(instructions []models.TransferInstruction) (captured, paidOut decimal.Decimal) {
	for _, ins := range instructions {
		if ins.Direction() == models.DirectionCapture {
			captured = captured.Add(ins.Amount)
		} else {
			paidOut = paidOut.Add(ins.Amount.Neg())
		}
	}
	return captured, paidOut
}
