package locus

import (
	"errors"
	"fmt"
)

// State is the stage a locus has reached.
type State int

const (
	Init State = iota
	GraphBuilt
	Mapped
	Counted
	Built
	Solved
	Normalized
	Failed
)

var stateNames = [...]string{
	Init:       "init",
	GraphBuilt: "graph_built",
	Mapped:     "mapped",
	Counted:    "counted",
	Built:      "built",
	Solved:     "solved",
	Normalized: "normalized",
	Failed:     "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Normalized || s == Failed
}

// ErrIllegalTransition is returned when a locus is moved out of order.
var ErrIllegalTransition = errors.New("illegal locus state transition")

// next lists the legal successors of each non-terminal state besides Failed.
// Mapped goes straight to Normalized on the single-transcript and empty
// fast paths, Counted when the program is over the variable ceiling.
var next = map[State][]State{
	Init:       {GraphBuilt},
	GraphBuilt: {Mapped},
	Mapped:     {Counted, Normalized},
	Counted:    {Built, Normalized},
	Built:      {Solved},
	Solved:     {Normalized},
}

// machine enforces the sequential lifecycle of one locus.
type machine struct {
	state State
}

func (m *machine) to(s State) error {
	if m.state.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.state, s)
	}
	if s == Failed {
		m.state = s
		return nil
	}
	for _, ok := range next[m.state] {
		if ok == s {
			m.state = s
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.state, s)
}
