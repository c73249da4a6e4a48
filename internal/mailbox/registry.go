package mailbox

import (
	"math/rand/v2"
	"sort"
	"strconv"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"wormhole/internal/domain"
	wlog "wormhole/internal/log"
)

// Nameplates are handed out from the smallest range that still has a free
// id, so codes stay short while the server is quiet.
var idBuckets = [...]struct{ lo, hi int }{
	{1, 9},
	{10, 99},
	{100, 999},
	{1000, 9999},
}

// allocateTries bounds the random picks in one id bucket before
// Allocate falls back to scanning it.
const allocateTries = 16

type appSpace struct {
	nameplates map[domain.Nameplate]*nameplate
	mailboxes  map[domain.MailboxID]*mailbox
	// taken counts the live nameplates inside each of idBuckets.
	taken [len(idBuckets)]int
}

// bucketOf returns the idBuckets index holding np, or -1 for ids outside
// every bucket or not in canonical form ("07").
func bucketOf(np domain.Nameplate) int {
	n, err := strconv.Atoi(string(np))
	if err != nil || strconv.Itoa(n) != string(np) {
		return -1
	}
	for i, b := range idBuckets {
		if n >= b.lo && n <= b.hi {
			return i
		}
	}
	return -1
}

func (a *appSpace) addNameplate(n *nameplate) {
	a.nameplates[n.id] = n
	if i := bucketOf(n.id); i >= 0 {
		a.taken[i]++
	}
}

func (a *appSpace) removeNameplate(np domain.Nameplate) {
	if _, ok := a.nameplates[np]; !ok {
		return
	}
	delete(a.nameplates, np)
	if i := bucketOf(np); i >= 0 {
		a.taken[i]--
	}
}

func (a *appSpace) empty() bool {
	return len(a.nameplates) == 0 && len(a.mailboxes) == 0
}

// Registry holds every nameplate and mailbox of every application. All
// operations are atomic with respect to each other.
type Registry struct {
	mu   sync.Mutex
	apps map[domain.AppID]*appSpace

	usage domain.UsageRecorder
	log   *logging.Logger
	now   func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithUsage records a summary of every retired mailbox to u.
func WithUsage(u domain.UsageRecorder) Option {
	return func(r *Registry) { r.usage = u }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New returns an empty registry. A nil logger discards.
func New(log *logging.Logger, opts ...Option) *Registry {
	if log == nil {
		log = wlog.Discard("mailbox")
	}
	r := &Registry{
		apps: make(map[domain.AppID]*appSpace),
		log:  log,
		now:  time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) space(app domain.AppID) *appSpace {
	a, ok := r.apps[app]
	if !ok {
		a = &appSpace{
			nameplates: make(map[domain.Nameplate]*nameplate),
			mailboxes:  make(map[domain.MailboxID]*mailbox),
		}
		r.apps[app] = a
	}
	return a
}

func (r *Registry) gc(app domain.AppID) {
	if a, ok := r.apps[app]; ok && a.empty() {
		delete(r.apps, app)
	}
}

// Allocate picks a free nameplate and claims it for side.
func (r *Registry) Allocate(app domain.AppID, side domain.Side) (domain.Nameplate, domain.MailboxID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := r.space(app)
	np, ok := a.freeNameplate()
	if !ok {
		r.gc(app)
		return "", "", ErrNameplatesExhausted
	}
	mb, err := r.claimLocked(a, np, side)
	if err != nil {
		r.gc(app)
		return "", "", err
	}
	r.log.Debugf("%s: allocated nameplate %s for %s", app, np, side)
	return np, mb, nil
}

// freeNameplate picks a random free id from the smallest bucket that has
// one. Buckets are skipped by count; a bucket is only scanned when random
// picks keep hitting taken ids, i.e. when it is nearly full.
func (a *appSpace) freeNameplate() (domain.Nameplate, bool) {
	for i, b := range idBuckets {
		size := b.hi - b.lo + 1
		if a.taken[i] >= size {
			continue
		}
		for try := 0; try < allocateTries; try++ {
			np := domain.Nameplate(strconv.Itoa(b.lo + rand.IntN(size)))
			if _, taken := a.nameplates[np]; !taken {
				return np, true
			}
		}
		start := rand.IntN(size)
		for j := 0; j < size; j++ {
			np := domain.Nameplate(strconv.Itoa(b.lo + (start+j)%size))
			if _, taken := a.nameplates[np]; !taken {
				return np, true
			}
		}
	}
	return "", false
}

// Claim binds side to nameplate np, creating the nameplate and its mailbox
// if needed, and returns the mailbox id. Claiming twice is harmless. A third
// distinct side gets domain.ErrCrowded; claims and members are untouched,
// only the mailbox is flagged crowded for its usage summary.
func (r *Registry) Claim(app domain.AppID, np domain.Nameplate, side domain.Side) (domain.MailboxID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mb, err := r.claimLocked(r.space(app), np, side)
	if err != nil {
		r.gc(app)
		return "", err
	}
	return mb, nil
}

func (r *Registry) claimLocked(a *appSpace, np domain.Nameplate, side domain.Side) (domain.MailboxID, error) {
	now := r.now()
	if n, ok := a.nameplates[np]; ok {
		claimed, known := n.sides[side]
		switch {
		case known && claimed:
			n.updated = now
			return n.mailbox, nil
		case known:
			return "", ErrReclaimed
		case len(n.sides) >= 2:
			if m := a.mailboxes[n.mailbox]; m != nil {
				m.crowded = true
			}
			return "", domain.ErrCrowded
		}
		m := a.mailboxes[n.mailbox]
		if m == nil {
			return "", ErrNoMailbox
		}
		if _, err := m.join(side, now); err != nil {
			return "", err
		}
		m.updated = now
		n.sides[side] = true
		n.updated = now
		return n.mailbox, nil
	}

	id, err := a.newMailboxID()
	if err != nil {
		return "", err
	}
	m := &mailbox{id: id, nameplate: np, created: now, updated: now}
	if _, err := m.join(side, now); err != nil {
		return "", err
	}
	a.mailboxes[id] = m
	a.addNameplate(&nameplate{
		id:      np,
		mailbox: id,
		sides:   map[domain.Side]bool{side: true},
		updated: now,
	})
	return id, nil
}

func (a *appSpace) newMailboxID() (domain.MailboxID, error) {
	for {
		id, err := NewMailboxID()
		if err != nil {
			return "", err
		}
		if _, taken := a.mailboxes[id]; !taken {
			return id, nil
		}
	}
}

// Release drops side's claim on np. The nameplate is freed once nobody
// claims it. Unknown nameplates and sides are ignored.
func (r *Registry) Release(app domain.AppID, np domain.Nameplate, side domain.Side) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.apps[app]
	if !ok {
		return nil
	}
	n, ok := a.nameplates[np]
	if !ok {
		return nil
	}
	if _, known := n.sides[side]; !known {
		return nil
	}
	n.sides[side] = false
	n.updated = r.now()
	if n.claimants() == 0 {
		a.removeNameplate(np)
		r.log.Debugf("%s: nameplate %s freed", app, np)
	}
	r.gc(app)
	return nil
}

// Open marks side present in mailbox id, creating the mailbox if needed, and
// replays the log to sub (minus side's own messages) in one Replay call.
// From then on every message another side adds is delivered to sub.
func (r *Registry) Open(app domain.AppID, id domain.MailboxID, side domain.Side, sub Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	a := r.space(app)
	m, ok := a.mailboxes[id]
	if !ok {
		m = &mailbox{id: id, created: now, updated: now}
	}
	mem, err := m.join(side, now)
	if err != nil {
		return err
	}
	if mem.closed {
		return ErrAlreadyClosed
	}
	a.mailboxes[id] = m
	mem.opened = true
	mem.sub = sub
	m.updated = now
	var backlog []Message
	for _, msg := range m.log {
		if msg.Side != side {
			backlog = append(backlog, msg)
		}
	}
	if len(backlog) > 0 {
		sub.Replay(backlog)
	}
	return nil
}

// Add appends msg to mailbox id and relays it to every other open side.
func (r *Registry) Add(app domain.AppID, id domain.MailboxID, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.apps[app]
	if !ok {
		return ErrNoMailbox
	}
	m, ok := a.mailboxes[id]
	if !ok {
		return ErrNoMailbox
	}
	mem := m.member(msg.Side)
	if mem == nil || !mem.opened || mem.closed {
		return ErrNotOpen
	}
	if m.hasPhase(msg.Side, msg.Phase) {
		return ErrDuplicatePhase
	}
	if msg.Received.IsZero() {
		msg.Received = r.now()
	}
	m.log = append(m.log, msg)
	m.updated = msg.Received
	for _, other := range m.members {
		if other.side != msg.Side && other.opened && !other.closed && other.sub != nil {
			other.sub.Deliver(msg)
		}
	}
	return nil
}

// Close removes side from mailbox id. Once every side that claimed or opened
// the mailbox has closed, the mailbox and its nameplate are deleted and a
// usage summary is recorded.
func (r *Registry) Close(app domain.AppID, id domain.MailboxID, side domain.Side, mood domain.Mood) error {
	var rec *domain.UsageRecord
	err := func() error {
		r.mu.Lock()
		defer r.mu.Unlock()

		a, ok := r.apps[app]
		if !ok {
			return ErrNoMailbox
		}
		m, ok := a.mailboxes[id]
		if !ok {
			return ErrNoMailbox
		}
		mem := m.member(side)
		if mem == nil || mem.closed {
			return nil
		}
		mem.closed = true
		mem.mood = mood
		mem.sub = nil

		if !m.allClosed() {
			return nil
		}
		now := r.now()
		a.deleteMailbox(m)
		r.gc(app)
		s := m.summarize(app, now, false)
		rec = &s
		r.log.Debugf("%s: mailbox %s deleted (%s)", app, id, s.Result)
		return nil
	}()
	if rec != nil {
		r.record(*rec)
	}
	return err
}

// deleteMailbox drops m and the nameplate that still leads to it.
func (a *appSpace) deleteMailbox(m *mailbox) {
	delete(a.mailboxes, m.id)
	if n, ok := a.nameplates[m.nameplate]; ok && n.mailbox == m.id {
		a.removeNameplate(m.nameplate)
	}
}

// List returns the active nameplates of app in numeric order.
func (r *Registry) List(app domain.AppID) []domain.Nameplate {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.apps[app]
	if !ok {
		return nil
	}
	out := make([]domain.Nameplate, 0, len(a.nameplates))
	for np := range a.nameplates {
		out = append(out, np)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) < len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// Stats counts live nameplates and mailboxes across every app.
func (r *Registry) Stats() (nameplates, mailboxes int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.apps {
		nameplates += len(a.nameplates)
		mailboxes += len(a.mailboxes)
	}
	return nameplates, mailboxes
}

func (r *Registry) record(rec domain.UsageRecord) {
	if r.usage == nil {
		return
	}
	if err := r.usage.RecordUsage(rec); err != nil {
		r.log.Warningf("failed to record usage for mailbox %s: %v", rec.Mailbox, err)
	}
}
