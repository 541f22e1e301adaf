// Package models defines the domain records of a payday run.
//
// # Snapshot records
//
// A payday operates on an immutable Snapshot of the ledger:
//   - Participant: a person who pledges to teams and may receive payouts
//   - Team: a group with exactly one owner and a set of members
//   - Pledge and Payout: the weekly amounts flowing into and out of a team
//
// Records reference each other by ID strings, never by pointers, so the
// snapshot can be shared between goroutines without synchronization.
//
// # Run records
//
//   - TransferInstruction: the signed net amount to capture from or pay out to
//     one participant
//   - PaydayRun: the append-only record of a single settlement execution
//
// All money amounts are decimal.Decimal values. Floating point is never used
// for money.
package models
