package wormhole

import "strconv"

// State is where a Session is in the protocol.
type State int

const (
	Idle State = iota
	Connected
	NameplateClaimed
	PakeSent
	KeyConfirmSent
	Ready
	Closed
	Failed
)

var stateNames = [...]string{
	Idle:             "idle",
	Connected:        "connected",
	NameplateClaimed: "nameplate-claimed",
	PakeSent:         "pake-sent",
	KeyConfirmSent:   "key-confirm-sent",
	Ready:            "ready",
	Closed:           "closed",
	Failed:           "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == Closed || s == Failed }
