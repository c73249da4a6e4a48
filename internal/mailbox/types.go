package mailbox

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"strings"
	"time"

	"wormhole/internal/domain"
)

var (
	// ErrNameplatesExhausted is returned by Allocate when every id is taken.
	ErrNameplatesExhausted = errors.New("mailbox: no nameplates available")

	// ErrReclaimed is returned when a side claims a nameplate it already
	// released.
	ErrReclaimed = errors.New("reclaimed")

	// ErrNoMailbox is returned for operations on a mailbox that does not
	// exist (never opened, or already deleted).
	ErrNoMailbox = errors.New("mailbox: no such mailbox")

	// ErrNotOpen is returned by Add for a side that has not opened the
	// mailbox.
	ErrNotOpen = errors.New("mailbox: side has not opened the mailbox")

	// ErrAlreadyClosed is returned when a side that closed a mailbox tries
	// to open it again.
	ErrAlreadyClosed = errors.New("mailbox: side already closed the mailbox")

	// ErrDuplicatePhase is returned by Add when the side already added that
	// phase. The repeat is dropped.
	ErrDuplicatePhase = errors.New("mailbox: duplicate phase")
)

// Message is one entry of a mailbox log.
type Message struct {
	// ID is the client's message id, echoed on the relayed copy.
	ID       string
	Side     domain.Side
	Phase    domain.Phase
	Body     []byte
	Received time.Time
}

// Subscriber receives the messages relayed to one open side. Every method
// is called with the registry lock held and must not block.
type Subscriber interface {
	// Replay hands over the log written before the side opened the
	// mailbox. It is called once, before any Deliver, and is not subject to
	// the live queue limit: the backlog is bounded by the log itself.
	Replay(backlog []Message)
	// Deliver queues m for the side's connection.
	Deliver(m Message)
	// Evict drops the side's connection. The registry already forgot it.
	Evict()
}

type nameplate struct {
	id      domain.Nameplate
	mailbox domain.MailboxID
	// claimed is true while a side holds its claim, false once released.
	sides   map[domain.Side]bool
	updated time.Time
}

func (n *nameplate) claimants() int {
	c := 0
	for _, claimed := range n.sides {
		if claimed {
			c++
		}
	}
	return c
}

type member struct {
	side   domain.Side
	joined time.Time
	opened bool
	closed bool
	mood   domain.Mood
	sub    Subscriber
}

type mailbox struct {
	id        domain.MailboxID
	nameplate domain.Nameplate
	created   time.Time
	updated   time.Time
	// members in the order they joined; at most two.
	members []*member
	log     []Message
	crowded bool
}

func (m *mailbox) member(side domain.Side) *member {
	for _, mem := range m.members {
		if mem.side == side {
			return mem
		}
	}
	return nil
}

// join adds side as a member. A third distinct side is refused; the only
// trace it leaves is the crowded flag, which feeds the usage summary.
func (m *mailbox) join(side domain.Side, now time.Time) (*member, error) {
	if mem := m.member(side); mem != nil {
		return mem, nil
	}
	if len(m.members) >= 2 {
		m.crowded = true
		return nil, domain.ErrCrowded
	}
	mem := &member{side: side, joined: now}
	m.members = append(m.members, mem)
	return mem, nil
}

func (m *mailbox) allClosed() bool {
	for _, mem := range m.members {
		if !mem.closed {
			return false
		}
	}
	return true
}

func (m *mailbox) hasPhase(side domain.Side, phase domain.Phase) bool {
	for _, msg := range m.log {
		if msg.Side == side && msg.Phase == phase {
			return true
		}
	}
	return false
}

// summarize builds the usage record for a mailbox that is being retired.
func (m *mailbox) summarize(app domain.AppID, now time.Time, pruned bool) domain.UsageRecord {
	rec := domain.UsageRecord{
		App:       app,
		Mailbox:   m.id,
		Nameplate: m.nameplate,
		Started:   m.created,
		Total:     now.Sub(m.created),
		Sides:     len(m.members),
	}
	for _, mem := range m.members {
		if mem.mood != "" {
			rec.Moods = append(rec.Moods, mem.mood)
		}
	}
	if len(m.members) == 2 {
		rec.Waiting = m.members[1].joined.Sub(m.members[0].joined)
	}
	rec.Result = summaryResult(rec.Moods, len(m.members), m.crowded, pruned)
	return rec
}

func summaryResult(moods []domain.Mood, sides int, crowded, pruned bool) domain.Result {
	has := func(want domain.Mood) bool {
		for _, m := range moods {
			if m == want {
				return true
			}
		}
		return false
	}
	switch {
	case pruned:
		return domain.ResultPruney
	case crowded:
		return domain.ResultCrowded
	case sides < 2:
		return domain.ResultLonely
	case has(domain.MoodErrory):
		return domain.ResultErrory
	case has(domain.MoodScary):
		return domain.ResultScary
	case has(domain.MoodLonely):
		return domain.ResultLonely
	}
	return domain.ResultHappy
}

// NewMailboxID returns 13 lowercase base32 characters drawn from 8 random
// bytes.
func NewMailboxID() (domain.MailboxID, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	s := base32.StdEncoding.EncodeToString(b[:])
	return domain.MailboxID(strings.ToLower(strings.TrimSuffix(s, "==="))), nil
}
