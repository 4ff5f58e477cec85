package model

import "fmt"

// PhaseKind names one state of the pool's time-driven state machine.
type PhaseKind string

const (
	PhaseFunding      PhaseKind = "FUNDING"
	PhaseLocked       PhaseKind = "LOCKED"
	PhaseDistribution PhaseKind = "DISTRIBUTION"
)

// Phase is the resolver output. Tranche is 0 outside Distribution.
type Phase struct {
	Kind    PhaseKind
	Tranche int
}

func (p Phase) String() string {
	if p.Kind == PhaseDistribution {
		return fmt.Sprintf("%s(%d)", p.Kind, p.Tranche)
	}
	return string(p.Kind)
}
