package recorder

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordDeposit(_ *DepositEvent) error             { return nil }
func (n *NoopRecorder) RecordWithdrawal(_ *WithdrawalEvent) error       { return nil }
func (n *NoopRecorder) RecordSweep(_ *SweepEvent) error                 { return nil }
func (n *NoopRecorder) RecordTrancheOpened(_ *TrancheOpenedEvent) error { return nil }
func (n *NoopRecorder) RecordPhaseChange(_ *PhaseChangeEvent) error     { return nil }
func (n *NoopRecorder) History(_ int) ([]Event, error)                  { return nil, nil }
func (n *NoopRecorder) Close() error                                    { return nil }
