package presence

// State is a user's liveness as seen by other room members.
type State string

const (
	Offline State = "Offline"
	Away    State = "Away"
	Online  State = "Online"
)

func (s State) Valid() bool {
	return s == Online || s == Away || s == Offline
}

func (s State) rank() int {
	switch s {
	case Online:
		return 2
	case Away:
		return 1
	default:
		return 0
	}
}

// Strongest folds per-session states into the user's state.
func Strongest(states ...State) State {
	best := Offline
	for _, s := range states {
		if s.rank() > best.rank() {
			best = s
		}
	}
	return best
}
