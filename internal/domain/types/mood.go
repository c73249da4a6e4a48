package types

import "time"

// Mood is the closure reason a client reports when it closes its mailbox.
type Mood string

const (
	// MoodHappy: the key exchange worked and at least one valid message
	// arrived from the peer.
	MoodHappy Mood = "happy"
	// MoodLonely: the client gave up without hearing from its peer.
	MoodLonely Mood = "lonely"
	// MoodScary: an invalid encrypted message arrived, so either the code was
	// mistyped or someone tried to guess it.
	MoodScary Mood = "scary"
	// MoodErrory: a protocol problem or internal error.
	MoodErrory Mood = "errory"
)

// Valid reports whether m is one of the four known moods.
func (m Mood) Valid() bool {
	switch m {
	case MoodHappy, MoodLonely, MoodScary, MoodErrory:
		return true
	}
	return false
}

// String returns the string form of the mood.
func (m Mood) String() string { return string(m) }

// Result summarises how a mailbox ended, as recorded by the server.
type Result string

const (
	ResultHappy   Result = "happy"
	ResultLonely  Result = "lonely"
	ResultScary   Result = "scary"
	ResultErrory  Result = "errory"
	ResultCrowded Result = "crowded"
	ResultPruney  Result = "pruney"
)

// UsageRecord is one finished mailbox as seen by the server.
type UsageRecord struct {
	App       AppID
	Mailbox   MailboxID
	Nameplate Nameplate

	Started time.Time
	// Waiting is the time between the first and second side showing up. Zero
	// when the second side never came.
	Waiting time.Duration
	Total   time.Duration

	Sides  int
	Moods  []Mood
	Result Result
}
