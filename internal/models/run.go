package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunStatus is the externally visible outcome of a payday run.
type RunStatus string

const (
	RunInProgress RunStatus = "in-progress"
	RunSettled    RunStatus = "settled"
	RunAborted    RunStatus = "aborted"
)

// RunState is the coordinator step a run is in.
type RunState string

const (
	StateIdle       RunState = "idle"
	StateLoading    RunState = "loading"
	StateSettling   RunState = "settling"
	StateValidating RunState = "validating"
	StateEmitting   RunState = "emitting"
	StateCommitting RunState = "committing"
	StateSettled    RunState = "settled"
	StateAborted    RunState = "aborted"
)

// PaydayRun records exactly one execution of the settlement.
type PaydayRun struct {
	// ID is the unique identifier of the run (UUID format).
	ID string

	// SnapshotAt is when the ledger snapshot was read. Zero if the run
	// aborted before loading completed.
	SnapshotAt time.Time

	StartedAt  time.Time
	FinishedAt time.Time

	State  RunState
	Status RunStatus

	// Instructions is empty for aborted runs.
	Instructions []TransferInstruction

	// Failure holds the diagnostic of an aborted run.
	Failure string

	// TotalCaptured is the sum of positive instruction amounts.
	TotalCaptured decimal.Decimal

	// TotalPaidOut is the sum of the absolute values of negative
	// instruction amounts. Equals TotalCaptured for a settled run.
	TotalPaidOut decimal.Decimal
}

// IsTerminal reports whether the run has reached settled or aborted.
func (r *PaydayRun) IsTerminal() bool {
	return r.Status == RunSettled || r.Status == RunAborted
}
