package worker

// State is a step of the collection state machine
type State string

const (
	StateIdle            State = "Idle"
	StateFetchingDay     State = "FetchingDay"
	StateClassifyingDay  State = "ClassifyingDay"
	StateCheckpointing   State = "Checkpointing"
	StateRateLimitPaused State = "RateLimitPaused"
	StateFatalError      State = "FatalError"
	StateDone            State = "Done"
)

// transitions lists the states reachable from each state
var transitions = map[State][]State{
	StateIdle:            {StateFetchingDay},
	StateFetchingDay:     {StateClassifyingDay, StateRateLimitPaused, StateFatalError},
	StateClassifyingDay:  {StateCheckpointing, StateRateLimitPaused, StateFatalError},
	StateCheckpointing:   {StateFetchingDay, StateDone, StateFatalError},
	StateRateLimitPaused: {StateFetchingDay, StateClassifyingDay},
}

// CanTransition reports whether the state machine allows moving from one state to another
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition leaves the state
func (s State) Terminal() bool {
	return s == StateDone || s == StateFatalError
}
