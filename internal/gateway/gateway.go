// Package gateway delivers transfer instructions to the payment gateway.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mmynk/payday/internal/models"
)

var (
	// ErrGatewayDispatch is wrapped by every DispatchError.
	ErrGatewayDispatch = errors.New("gateway dispatch failed")

	// ErrRejected marks a gateway failure that retrying cannot fix, such
	// as a declined card. Gateways wrap it to stop retries early.
	ErrRejected = errors.New("transfer rejected by gateway")
)

// Gateway moves money for one instruction. Implementations must treat
// IdempotencyKey as the deduplication key: a repeated call with the same
// key never moves money twice.
type Gateway interface {
	Transfer(ctx context.Context, ins models.TransferInstruction) error
}

// DispatchError is the final failure of one instruction after retries.
type DispatchError struct {
	ParticipantID string
	Attempts      int
	Err           error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s failed after %d attempts: %v", e.ParticipantID, e.Attempts, e.Err)
}

func (e *DispatchError) Unwrap() []error { return []error{ErrGatewayDispatch, e.Err} }

// LogGateway is a dry-run gateway that logs each transfer once per
// idempotency key instead of moving money.
type LogGateway struct {
	seen sync.Map // idempotency key -> struct{}
}

// NewLogGateway creates a LogGateway.
func NewLogGateway() *LogGateway {
	return &LogGateway{}
}

// Transfer logs the instruction unless its key was already seen.
func (g *LogGateway) Transfer(ctx context.Context, ins models.TransferInstruction) error {
	if _, dup := g.seen.LoadOrStore(ins.IdempotencyKey(), struct{}{}); dup {
		slog.Debug("Transfer already processed", "idempotency_key", ins.IdempotencyKey())
		return nil
	}
	slog.Info("Transfer",
		"idempotency_key", ins.IdempotencyKey(),
		"participant_id", ins.ParticipantID,
		"direction", ins.Direction(),
		"amount", ins.Amount.Abs().String(),
	)
	return nil
}
