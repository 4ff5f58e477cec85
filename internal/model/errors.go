package model

import "errors"

var (
	ErrPhase            = errors.New("operation not allowed in current phase")
	ErrDuplicateDeposit = errors.New("participant already deposited")
	ErrNotFound         = errors.New("participant not found")
	ErrAlreadyWithdrawn = errors.New("participant already withdrawn")
	ErrTransfer         = errors.New("asset transfer failed")
	ErrUnauthorized     = errors.New("caller is not the operator")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrInvalidSchedule  = errors.New("invalid tranche schedule")
	ErrInvalidConfig    = errors.New("invalid pool config")
	ErrOverflow         = errors.New("amount exceeds 256 bits")
	ErrPersist          = errors.New("bank state not saved")
)
