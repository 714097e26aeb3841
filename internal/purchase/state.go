package purchase

import "fmt"

type State string

const (
	StateValidating State = "VALIDATING"
	StateReserving  State = "RESERVING"
	StateRecording  State = "RECORDING"
	StateCommitted  State = "COMMITTED"
	StateAborted    State = "ABORTED"
)

var validNext = map[State]map[State]bool{
	StateValidating: {StateReserving: true, StateAborted: true},
	StateReserving:  {StateRecording: true, StateAborted: true},
	StateRecording:  {StateCommitted: true, StateAborted: true},
	StateCommitted:  {},
	StateAborted:    {},
}

func CanTransition(from, to State) bool {
	return validNext[from][to]
}

func (s State) Terminal() bool { return s == StateCommitted || s == StateAborted }

// machine tracks one attempt of a purchase transaction.
type machine struct {
	state State
}

func newMachine() *machine { return &machine{state: StateValidating} }

func (m *machine) advance(to State) error {
	if !CanTransition(m.state, to) {
		return fmt.Errorf("purchase: illegal transition %s -> %s", m.state, to)
	}
	m.state = to
	return nil
}

// abort moves to Aborted from any non-terminal state and reports the state
// the attempt failed in.
func (m *machine) abort() State {
	from := m.state
	if !from.Terminal() {
		m.state = StateAborted
	}
	return from
}
