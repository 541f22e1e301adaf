// Package storage provides abstractions for the ledger store.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/mmynk/payday/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when creating a record whose ID already exists.
	ErrConflict = errors.New("already exists")

	// ErrRunLocked is returned by AcquireRunLock while another run holds the lock.
	ErrRunLocked = errors.New("payday run lock is held")

	// ErrRunFinalized is returned when recording over a run that already
	// reached settled or aborted.
	ErrRunFinalized = errors.New("payday run already finalized")
)

// ParticipantRow is a participant as stored.
type ParticipantRow struct {
	ID       string
	Username string
	IsClosed bool
}

// TeamRow is a team as stored. OwnerID is empty when no owner is set.
type TeamRow struct {
	ID         string
	Name       string
	OwnerID    string
	IsApproved bool
	IsClosed   bool
	Members    []string
}

// PledgeRow is a pledge as stored. Amount is the raw decimal text.
type PledgeRow struct {
	ParticipantID string
	TeamID        string
	Amount        string
}

// PayoutRow is a payout instruction as stored. Amount is the raw decimal text.
type PayoutRow struct {
	TeamID   string
	MemberID string
	Amount   string
}

// Snapshot is the raw result of one point-in-time read of the ledger.
// Rows are in insertion order.
type Snapshot struct {
	TakenAt      time.Time
	Participants []ParticipantRow
	Teams        []TeamRow
	Pledges      []PledgeRow
	Payouts      []PayoutRow
}

// LedgerStore is what a payday run needs from persistent storage.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL)
// without changing the service layer.
type LedgerStore interface {
	// ReadSnapshot reads all participants, teams, pledges and payouts in a
	// single isolated read. Writes committed while the read is in progress
	// are not observed.
	ReadSnapshot(ctx context.Context) (*Snapshot, error)

	// AcquireRunLock takes the system-wide payday lock for runID.
	// Returns ErrRunLocked if another run holds it.
	AcquireRunLock(ctx context.Context, runID string) error

	// ReleaseRunLock releases the lock if it is held by runID.
	ReleaseRunLock(ctx context.Context, runID string) error

	// RecordRun durably stores the run together with its instructions.
	// Recording a run that is already settled or aborted returns
	// ErrRunFinalized.
	RecordRun(ctx context.Context, run *models.PaydayRun) error

	// GetRun retrieves a run and its instructions.
	// Returns ErrNotFound if the run does not exist.
	GetRun(ctx context.Context, runID string) (*models.PaydayRun, error)

	// UpdateInstructionStatus records the dispatch outcome of one instruction.
	UpdateInstructionStatus(ctx context.Context, runID, participantID string, status models.DispatchStatus, attempts int, lastErr string) error

	// Close releases any resources held by the store.
	Close() error
}

// LedgerWriter is the mutation side used by the web collaborator and by
// fixtures. Payday runs never call it.
type LedgerWriter interface {
	CreateParticipant(ctx context.Context, p *ParticipantRow) error
	CreateTeam(ctx context.Context, t *TeamRow) error
	AddTeamMember(ctx context.Context, teamID, participantID string) error
	SetPledge(ctx context.Context, participantID, teamID, amount string) error
	RemovePledge(ctx context.Context, participantID, teamID string) error
	SetPayout(ctx context.Context, teamID, memberID, amount string) error
	RemovePayout(ctx context.Context, teamID, memberID string) error
}

// Store is a full ledger backend.
type Store interface {
	LedgerStore
	LedgerWriter
}
