package calculator

import (
	"github.com/mmynk/payday/internal/models"
)

// Emit converts settlement nets into transfer instructions for a run.
// Participants with a zero net get no instruction. Instructions follow
// snapshot order.
//
// The instruction amount is the negated net: a participant who owes money
// (negative net) gets a positive, capturing instruction.
func Emit(runID string, s *Settlement) []models.TransferInstruction {
	var out []models.TransferInstruction
	for _, id := range s.Order {
		net, ok := s.Nets[id]
		if !ok || net.IsZero() {
			continue
		}
		out = append(out, models.TransferInstruction{
			RunID:         runID,
			ParticipantID: id,
			Amount:        net.Neg(),
			Status:        models.DispatchPending,
		})
	}
	return out
}
