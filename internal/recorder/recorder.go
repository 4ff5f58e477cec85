package recorder

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"TrancheBank/internal/model"
)

// Event types stored in bank_events.event_type.
const (
	EventDeposit       = "DEPOSIT"
	EventWithdrawal    = "WITHDRAWAL"
	EventSweep         = "SWEEP"
	EventTrancheOpened = "TRANCHE_OPENED"
	EventPhaseChange   = "PHASE_CHANGE"
)

// DepositEvent records a participant's single deposit.
type DepositEvent struct {
	Participant string
	Amount      sdkmath.Int
	TotalActive sdkmath.Int // after the deposit
	At          time.Time
}

// WithdrawalEvent records a final payout.
type WithdrawalEvent struct {
	Participant    string
	Principal      sdkmath.Int
	Reward         sdkmath.Int
	Payout         sdkmath.Int
	SettledTranche int
	TotalActive    sdkmath.Int // after the withdrawal
	At             time.Time
}

// SweepEvent records an operator sweep of the pool balance.
type SweepEvent struct {
	Operator        string
	Amount          sdkmath.Int
	ActiveRemaining int
	At              time.Time
}

// TrancheOpenedEvent records the snapshot taken when a tranche is first settled.
type TrancheOpenedEvent struct {
	Tranche     int
	Amount      sdkmath.Int
	Denominator sdkmath.Int
	At          time.Time
}

// PhaseChangeEvent is emitted by the phase watcher.
type PhaseChangeEvent struct {
	From model.Phase
	To   model.Phase
	At   time.Time
}

// Event is one row of the history as read back.
type Event struct {
	ID          string
	Timestamp   time.Time
	Type        string
	Participant string
	Tranche     int
	Amount      string
	Reward      string
	TotalActive string
	Note        string
}

// Recorder persists the bank's event history for later analysis.
type Recorder interface {
	RecordDeposit(evt *DepositEvent) error
	RecordWithdrawal(evt *WithdrawalEvent) error
	RecordSweep(evt *SweepEvent) error
	RecordTrancheOpened(evt *TrancheOpenedEvent) error
	RecordPhaseChange(evt *PhaseChangeEvent) error
	// History returns the most recent events, newest first. limit <= 0 means all.
	History(limit int) ([]Event, error)
	Close() error
}
