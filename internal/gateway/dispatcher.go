package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/mmynk/payday/internal/metrics"
	"github.com/mmynk/payday/internal/models"
)

// ErrRunNotSettled is returned when dispatching a run that was not settled.
var ErrRunNotSettled = errors.New("only settled runs can be dispatched")

// StatusRecorder persists per-instruction dispatch outcomes.
type StatusRecorder interface {
	UpdateInstructionStatus(ctx context.Context, runID, participantID string, status models.DispatchStatus, attempts int, lastErr string) error
}

// Options tune retries and concurrency.
type Options struct {
	Workers        int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Result is the outcome of one instruction.
type Result struct {
	ParticipantID string
	Status        models.DispatchStatus
	Attempts      int
	Err           error // *DispatchError when Status is failed
}

// Report summarizes a dispatch pass over one run.
type Report struct {
	RunID      string
	Dispatched int
	Failed     int
	Skipped    int // already dispatched by an earlier pass
	Results    []Result
}

// Dispatcher sends the instructions of a settled run to the gateway. Each
// instruction is retried independently; one failing instruction never
// blocks or cancels the others. Dispatch never re-runs settlement.
type Dispatcher struct {
	gw   Gateway
	rec  StatusRecorder
	opts Options
}

// NewDispatcher creates a Dispatcher. Zero options fall back to defaults.
func NewDispatcher(gw Gateway, rec StatusRecorder, opts Options) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 5
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	return &Dispatcher{gw: gw, rec: rec, opts: opts}
}

// Dispatch delivers every instruction of run that is not yet dispatched.
// The returned error is non-nil only when the run itself cannot be
// dispatched; per-instruction failures are reported in the Report.
func (d *Dispatcher) Dispatch(ctx context.Context, run *models.PaydayRun) (*Report, error) {
	if run.Status != models.RunSettled {
		return nil, fmt.Errorf("run %s is %s: %w", run.ID, run.Status, ErrRunNotSettled)
	}

	report := &Report{RunID: run.ID, Results: make([]Result, len(run.Instructions))}

	var g errgroup.Group
	g.SetLimit(d.opts.Workers)
	for i, ins := range run.Instructions {
		if ins.Status == models.DispatchDispatched {
			report.Results[i] = Result{ParticipantID: ins.ParticipantID, Status: models.DispatchDispatched, Attempts: ins.Attempts}
			continue
		}
		g.Go(func() error {
			report.Results[i] = d.dispatchOne(ctx, ins)
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range report.Results {
		switch {
		case run.Instructions[i].Status == models.DispatchDispatched:
			report.Skipped++
			metrics.DispatchResults.WithLabelValues("skipped").Inc()
		case res.Status == models.DispatchDispatched:
			report.Dispatched++
			metrics.DispatchResults.WithLabelValues(string(models.DispatchDispatched)).Inc()
		default:
			report.Failed++
			metrics.DispatchResults.WithLabelValues(string(models.DispatchFailed)).Inc()
		}
	}

	slog.Info("Dispatch finished",
		"run_id", run.ID,
		"dispatched", report.Dispatched,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)
	return report, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, ins models.TransferInstruction) Result {
	attempts := ins.Attempts
	op := func() error {
		attempts++
		metrics.DispatchAttempts.WithLabelValues(string(ins.Direction())).Inc()
		err := d.gw.Transfer(ctx, ins)
		if errors.Is(err, ErrRejected) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.RetryNotify(op, d.backOff(ctx), func(err error, next time.Duration) {
		slog.Warn("Transfer attempt failed",
			"idempotency_key", ins.IdempotencyKey(),
			"attempt", attempts,
			"retry_in", next,
			"error", err,
		)
	})

	res := Result{ParticipantID: ins.ParticipantID, Attempts: attempts}
	lastErr := ""
	if err != nil {
		res.Status = models.DispatchFailed
		res.Err = &DispatchError{ParticipantID: ins.ParticipantID, Attempts: attempts, Err: err}
		lastErr = err.Error()
		slog.Error("Transfer failed",
			"idempotency_key", ins.IdempotencyKey(),
			"attempts", attempts,
			"error", err,
		)
	} else {
		res.Status = models.DispatchDispatched
	}

	// A lost status update is safe: the idempotency key makes the next
	// dispatch pass a no-op at the gateway.
	if rerr := d.rec.UpdateInstructionStatus(context.WithoutCancel(ctx), ins.RunID, ins.ParticipantID, res.Status, attempts, lastErr); rerr != nil {
		slog.Error("Failed to record dispatch status",
			"idempotency_key", ins.IdempotencyKey(),
			"status", res.Status,
			"error", rerr,
		)
	}
	return res
}

func (d *Dispatcher) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.opts.InitialBackoff
	exp.MaxInterval = d.opts.MaxBackoff
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(d.opts.MaxAttempts-1)), ctx)
}
