package market

type Event string

const (
	EventDecide  Event = "DECIDE"
	EventResolve Event = "RESOLVE"
	EventReset   Event = "RESET"
)

// PhaseMachine moves a market open -> decided -> resolved. Reset is the only
// way back to open. It is guarded by the owning market's lock.
type PhaseMachine struct {
	Phase Phase
}

func NewPhaseMachine() *PhaseMachine {
	return &PhaseMachine{Phase: PhaseOpen}
}

func (s *PhaseMachine) Can(event Event) bool {
	_, ok := nextPhase(s.Phase, event)
	return ok
}

func (s *PhaseMachine) Apply(event Event) (Phase, error) {
	next, ok := nextPhase(s.Phase, event)
	if !ok {
		return s.Phase, ErrInvalidPhaseTransition
	}
	s.Phase = next
	return next, nil
}

func (s *PhaseMachine) SetPhase(phase Phase) {
	s.Phase = phase
}

// Tradable reports whether trades and base-pair operations are accepted.
func (s *PhaseMachine) Tradable() bool {
	return s.Phase == PhaseOpen || s.Phase == PhaseDecided
}

func nextPhase(current Phase, event Event) (Phase, bool) {
	if event == EventReset {
		return PhaseOpen, true
	}
	switch current {
	case PhaseOpen:
		if event == EventDecide {
			return PhaseDecided, true
		}
	case PhaseDecided:
		if event == EventResolve {
			return PhaseResolved, true
		}
	}
	return current, false
}
