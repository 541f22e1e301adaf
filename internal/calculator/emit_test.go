package calculator

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mmynk/payday/internal/models"
)

func TestEmit_ReferenceScenario(t *testing.T) {
	s := Settle(referenceScenario(t))
	got := Emit("run-1", s)

	want := []struct {
		participant string
		amount      string
		direction   models.Direction
	}{
		{"a", "2", models.DirectionCapture},
		{"b", "-1", models.DirectionPayout},
		{"d", "-1", models.DirectionPayout},
	}

	if len(got) != len(want) {
		t.Fatalf("Emit() returned %d instructions, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		ins := got[i]
		if ins.ParticipantID != w.participant {
			t.Errorf("instruction %d participant = %s, want %s", i, ins.ParticipantID, w.participant)
		}
		if !ins.Amount.Equal(decimal.RequireFromString(w.amount)) {
			t.Errorf("instruction %d amount = %s, want %s", i, ins.Amount, w.amount)
		}
		if ins.Direction() != w.direction {
			t.Errorf("instruction %d direction = %s, want %s", i, ins.Direction(), w.direction)
		}
		if ins.RunID != "run-1" {
			t.Errorf("instruction %d run id = %s, want run-1", i, ins.RunID)
		}
		if ins.Status != models.DispatchPending {
			t.Errorf("instruction %d status = %s, want pending", i, ins.Status)
		}
	}

	total := decimal.Zero
	for _, ins := range got {
		total = total.Add(ins.Amount)
	}
	if !total.IsZero() {
		t.Errorf("instruction amounts sum to %s, want 0", total)
	}
}

func TestEmit_NoInstructionForZeroNets(t *testing.T) {
	snap := buildSnapshot(t,
		[]string{"p", "idle"},
		[]teamRow{{id: "t", owner: "p", members: []string{"p"}}, {id: "quiet", owner: "idle"}},
		[]pledgeRow{{"p", "t", "3"}},
		[]pledgeRow{{"t", "p", "1"}},
	)
	if got := Emit("run-2", Settle(snap)); len(got) != 0 {
		t.Errorf("Emit() = %+v, want no instructions", got)
	}
}

func TestTransferInstruction_IdempotencyKey(t *testing.T) {
	ins := models.TransferInstruction{RunID: "r", ParticipantID: "p"}
	if got := ins.IdempotencyKey(); got != "r:p" {
		t.Errorf("IdempotencyKey() = %q, want %q", got, "r:p")
	}
}
