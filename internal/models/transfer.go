package models

import "github.com/shopspring/decimal"

// Direction says which way money moves for a transfer instruction.
type Direction string

const (
	// DirectionCapture takes funds from the participant.
	DirectionCapture Direction = "capture"
	// DirectionPayout sends funds to the participant.
	DirectionPayout Direction = "payout"
)

// DispatchStatus tracks delivery of one instruction to the payment gateway.
type DispatchStatus string

const (
	DispatchPending    DispatchStatus = "pending"
	DispatchDispatched DispatchStatus = "dispatched"
	DispatchFailed     DispatchStatus = "failed"
)

// TransferInstruction is the net amount to move for one participant in one
// payday run.
type TransferInstruction struct {
	// RunID is the payday run that produced this instruction.
	RunID string

	// ParticipantID is the participant to charge or pay.
	ParticipantID string

	// Amount is signed: positive captures funds from the participant,
	// negative pays funds out to the participant. Never zero.
	Amount decimal.Decimal

	// Status is the gateway delivery state. Settlement semantics never
	// depend on it.
	Status    DispatchStatus
	Attempts  int
	LastError string
}

// Direction derives the direction from the sign of Amount.
func (t TransferInstruction) Direction() Direction {
	if t.Amount.IsNegative() {
		return DirectionPayout
	}
	return DirectionCapture
}

// IdempotencyKey identifies this instruction to the payment gateway. A
// retried dispatch with the same key never moves money twice.
func (t TransferInstruction) IdempotencyKey() string {
	return t.RunID + ":" + t.ParticipantID
}
