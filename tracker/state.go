package tracker

import (
	"fmt"
	"time"

	"salvagewatch/process"
	"salvagewatch/salvage"
)

// State is the lifecycle state of a tracking session
type State int

const (
	// Stopped: no handle is open and nothing is polled
	Stopped State = iota
	// Attached: a handle is open and the structure is being searched for
	Attached
	// Tracking: the structure address is known and read every interval
	Tracking
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Attached:
		return "Attached"
	case Tracking:
		return "Tracking"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Update is published on every state change and every successful read while tracking
type Update struct {
	Seq     uint64
	Time    time.Time
	State   State
	Address process.ProcessMemoryAddress // zero unless State is Tracking
	// Progress is set when the update carries a fresh reading
	Progress *salvage.Progress
	Err      error
}

func (u Update) String() string {
	switch {
	case u.Err != nil:
		return fmt.Sprintf("#%d %s: %v", u.Seq, u.State, u.Err)
	case u.Progress != nil:
		return fmt.Sprintf("#%d %s @%s salvaged %s destroyed %s (%s)", u.Seq, u.State, u.Address.ToString(),
			u.Progress.SalvageProgress, u.Progress.DestroyProgress, u.Progress.Objective)
	}
	return fmt.Sprintf("#%d %s", u.Seq, u.State)
}
