package mailbox_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wormhole/internal/domain"
	"wormhole/internal/mailbox"
)

const app = domain.AppID("example.com/wormhole/test")

type fakeSub struct {
	mu      sync.Mutex
	msgs    []mailbox.Message
	replays int
	evicted bool
}

func (s *fakeSub) Replay(backlog []mailbox.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replays++
	s.msgs = append(s.msgs, backlog...)
}

func (s *fakeSub) Deliver(m mailbox.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
}

func (s *fakeSub) Evict() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evicted = true
}

func (s *fakeSub) bodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.msgs {
		out = append(out, string(m.Body))
	}
	return out
}

func (s *fakeSub) wasEvicted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}

type fakeUsage struct {
	mu   sync.Mutex
	recs []domain.UsageRecord
}

func (u *fakeUsage) RecordUsage(rec domain.UsageRecord) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.recs = append(u.recs, rec)
	return nil
}

func (u *fakeUsage) records() []domain.UsageRecord {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]domain.UsageRecord(nil), u.recs...)
}

func msg(side domain.Side, phase domain.Phase, body string) mailbox.Message {
	return mailbox.Message{ID: "0001", Side: side, Phase: phase, Body: []byte(body)}
}

func TestAllocate_SmallestBucketFirst(t *testing.T) {
	r := mailbox.New(nil)
	seen := map[domain.Nameplate]bool{}
	for i := 0; i < 9; i++ {
		np, mb, err := r.Allocate(app, domain.Side("side"+strconv.Itoa(i)))
		require.NoError(t, err)
		require.NotEmpty(t, mb)
		n, err := strconv.Atoi(np.String())
		require.NoError(t, err)
		require.True(t, n >= 1 && n <= 9, "nameplate %s", np)
		require.False(t, seen[np], "nameplate %s handed out twice", np)
		seen[np] = true
	}

	np, _, err := r.Allocate(app, "side-ten")
	require.NoError(t, err)
	n, err := strconv.Atoi(np.String())
	require.NoError(t, err)
	require.True(t, n >= 10 && n <= 99, "nameplate %s", np)
	require.Len(t, r.List(app), 10)
}

func TestAllocate_ReusesFreedSmallID(t *testing.T) {
	r := mailbox.New(nil)
	for i := 1; i <= 9; i++ {
		_, err := r.Claim(app, domain.Nameplate(strconv.Itoa(i)), "A")
		require.NoError(t, err)
	}
	require.NoError(t, r.Release(app, "3", "A"))

	np, _, err := r.Allocate(app, "B")
	require.NoError(t, err)
	require.Equal(t, domain.Nameplate("3"), np)
}

func TestAllocate_NonCanonicalIDsDoNotFillBucket(t *testing.T) {
	r := mailbox.New(nil)
	for _, np := range []domain.Nameplate{"1", "2", "3", "4", "5", "6", "07", "8", "9"} {
		_, err := r.Claim(app, np, "A")
		require.NoError(t, err)
	}

	np, _, err := r.Allocate(app, "B")
	require.NoError(t, err)
	require.Equal(t, domain.Nameplate("7"), np)
}

func TestAllocate_AlsoClaims(t *testing.T) {
	r := mailbox.New(nil)
	np, mb, err := r.Allocate(app, "side1")
	require.NoError(t, err)

	again, err := r.Claim(app, np, "side1")
	require.NoError(t, err)
	require.Equal(t, mb, again)

	peer, err := r.Claim(app, np, "side2")
	require.NoError(t, err)
	require.Equal(t, mb, peer)
}

func TestAllocate_AppsAreSeparate(t *testing.T) {
	r := mailbox.New(nil)
	_, err := r.Claim(app, "4", "side1")
	require.NoError(t, err)
	_, err = r.Claim("other.app", "4", "side1")
	require.NoError(t, err)
	require.Equal(t, []domain.Nameplate{"4"}, r.List(app))
	require.Equal(t, []domain.Nameplate{"4"}, r.List("other.app"))
}

func TestClaim_ThirdSideIsCrowded(t *testing.T) {
	usage := &fakeUsage{}
	r := mailbox.New(nil, mailbox.WithUsage(usage))
	mb, err := r.Claim(app, "4", "side1")
	require.NoError(t, err)
	_, err = r.Claim(app, "4", "side2")
	require.NoError(t, err)

	_, err = r.Claim(app, "4", "side3")
	require.ErrorIs(t, err, domain.ErrCrowded)

	// The two original sides are unaffected.
	got, err := r.Claim(app, "4", "side1")
	require.NoError(t, err)
	require.Equal(t, mb, got)
	got, err = r.Claim(app, "4", "side2")
	require.NoError(t, err)
	require.Equal(t, mb, got)

	require.NoError(t, r.Release(app, "4", "side3"))
	require.Equal(t, []domain.Nameplate{"4"}, r.List(app))

	// The refused side leaves only the crowded mark on the usage record.
	require.NoError(t, r.Close(app, mb, "side1", domain.MoodHappy))
	require.NoError(t, r.Close(app, mb, "side2", domain.MoodHappy))
	recs := usage.records()
	require.Len(t, recs, 1)
	require.Equal(t, domain.ResultCrowded, recs[0].Result)
	require.Equal(t, 2, recs[0].Sides)
}

func TestClaim_AfterReleaseIsReclaimed(t *testing.T) {
	r := mailbox.New(nil)
	_, err := r.Claim(app, "4", "side1")
	require.NoError(t, err)
	_, err = r.Claim(app, "4", "side2")
	require.NoError(t, err)
	require.NoError(t, r.Release(app, "4", "side1"))

	_, err = r.Claim(app, "4", "side1")
	require.ErrorIs(t, err, mailbox.ErrReclaimed)
}

func TestRelease(t *testing.T) {
	r := mailbox.New(nil)
	_, err := r.Claim(app, "4", "side1")
	require.NoError(t, err)
	_, err = r.Claim(app, "4", "side2")
	require.NoError(t, err)

	require.NoError(t, r.Release(app, "5", "side1"))
	require.NoError(t, r.Release(app, "4", "side9"))
	require.NoError(t, r.Release("nope", "4", "side1"))

	require.NoError(t, r.Release(app, "4", "side1"))
	require.NoError(t, r.Release(app, "4", "side1"))
	require.Equal(t, []domain.Nameplate{"4"}, r.List(app))

	require.NoError(t, r.Release(app, "4", "side2"))
	require.Empty(t, r.List(app))

	// The mailbox outlives its nameplate.
	nps, mbs := r.Stats()
	require.Equal(t, 0, nps)
	require.Equal(t, 1, mbs)
}

func TestOpen_ReplaysLogMinusOwnMessages(t *testing.T) {
	r := mailbox.New(nil)
	mb, err := r.Claim(app, "4", "A")
	require.NoError(t, err)
	_, err = r.Claim(app, "4", "B")
	require.NoError(t, err)

	a := &fakeSub{}
	require.NoError(t, r.Open(app, mb, "A", a))
	require.NoError(t, r.Add(app, mb, msg("A", "pake", "a-pake")))
	require.NoError(t, r.Add(app, mb, msg("A", "version", "a-version")))

	b := &fakeSub{}
	require.NoError(t, r.Open(app, mb, "B", b))
	require.Equal(t, []string{"a-pake", "a-version"}, b.bodies())
	require.Equal(t, 1, b.replays, "the backlog arrives in one batch")
	require.Empty(t, a.bodies(), "a side never sees its own messages")
	require.Zero(t, a.replays)

	require.NoError(t, r.Add(app, mb, msg("B", "pake", "b-pake")))
	require.Equal(t, []string{"b-pake"}, a.bodies())
	require.Equal(t, []string{"a-pake", "a-version"}, b.bodies())

	// Reopening (e.g. after a reconnect) replays again without B's own.
	b2 := &fakeSub{}
	require.NoError(t, r.Open(app, mb, "B", b2))
	require.Equal(t, []string{"a-pake", "a-version"}, b2.bodies())
}

func TestOpen_ThirdSideIsCrowded(t *testing.T) {
	r := mailbox.New(nil)
	a, b, c := &fakeSub{}, &fakeSub{}, &fakeSub{}
	require.NoError(t, r.Open(app, "mid", "A", a))
	require.NoError(t, r.Open(app, "mid", "B", b))

	err := r.Open(app, "mid", "C", c)
	require.ErrorIs(t, err, domain.ErrCrowded)

	require.NoError(t, r.Add(app, "mid", msg("A", "0", "hello")))
	require.Equal(t, []string{"hello"}, b.bodies())
	require.Empty(t, c.bodies())

	require.ErrorIs(t, r.Add(app, "mid", msg("C", "0", "intruder")), mailbox.ErrNotOpen)
}

func TestAdd(t *testing.T) {
	r := mailbox.New(nil)
	require.ErrorIs(t, r.Add(app, "mid", msg("A", "0", "x")), mailbox.ErrNoMailbox)

	a := &fakeSub{}
	require.NoError(t, r.Open(app, "mid", "A", a))
	require.ErrorIs(t, r.Add(app, "mid", msg("B", "0", "x")), mailbox.ErrNotOpen)

	require.NoError(t, r.Add(app, "mid", msg("A", "0", "first")))
	require.ErrorIs(t, r.Add(app, "mid", msg("A", "0", "again")), mailbox.ErrDuplicatePhase)

	b := &fakeSub{}
	require.NoError(t, r.Open(app, "mid", "B", b))
	require.Equal(t, []string{"first"}, b.bodies())
	require.False(t, b.msgs[0].Received.IsZero())
}

func TestClose_BeforePeerOpens(t *testing.T) {
	usage := &fakeUsage{}
	r := mailbox.New(nil, mailbox.WithUsage(usage))

	np, mb, err := r.Allocate(app, "A")
	require.NoError(t, err)
	got, err := r.Claim(app, np, "B")
	require.NoError(t, err)
	require.Equal(t, mb, got)

	require.NoError(t, r.Open(app, mb, "A", &fakeSub{}))
	require.NoError(t, r.Add(app, mb, msg("A", "0", "left for you")))
	require.NoError(t, r.Close(app, mb, "A", domain.MoodHappy))
	require.Empty(t, usage.records(), "B has not closed yet")

	b := &fakeSub{}
	require.NoError(t, r.Open(app, mb, "B", b))
	require.Equal(t, []string{"left for you"}, b.bodies())

	require.NoError(t, r.Close(app, mb, "B", domain.MoodHappy))
	nps, mbs := r.Stats()
	require.Zero(t, nps)
	require.Zero(t, mbs)

	recs := usage.records()
	require.Len(t, recs, 1)
	assert.Equal(t, domain.ResultHappy, recs[0].Result)
	assert.Equal(t, 2, recs[0].Sides)
	assert.Equal(t, np, recs[0].Nameplate)
	assert.Equal(t, []domain.Mood{domain.MoodHappy, domain.MoodHappy}, recs[0].Moods)
}

func TestClose_Lonely(t *testing.T) {
	usage := &fakeUsage{}
	r := mailbox.New(nil, mailbox.WithUsage(usage))

	np, mb, err := r.Allocate(app, "A")
	require.NoError(t, err)
	require.NoError(t, r.Open(app, mb, "A", &fakeSub{}))
	require.NoError(t, r.Close(app, mb, "A", domain.MoodLonely))

	require.Empty(t, r.List(app))
	require.ErrorIs(t, r.Close(app, mb, "A", domain.MoodLonely), mailbox.ErrNoMailbox)

	recs := usage.records()
	require.Len(t, recs, 1)
	assert.Equal(t, domain.ResultLonely, recs[0].Result)
	assert.Equal(t, np, recs[0].Nameplate)
	assert.Equal(t, 1, recs[0].Sides)
}

func TestClose_ThenReopenRefused(t *testing.T) {
	r := mailbox.New(nil)
	require.NoError(t, r.Open(app, "mid", "A", &fakeSub{}))
	require.NoError(t, r.Open(app, "mid", "B", &fakeSub{}))
	require.NoError(t, r.Close(app, "mid", "A", domain.MoodHappy))
	require.NoError(t, r.Close(app, "mid", "A", domain.MoodHappy))
	require.ErrorIs(t, r.Open(app, "mid", "A", &fakeSub{}), mailbox.ErrAlreadyClosed)
	require.ErrorIs(t, r.Add(app, "mid", msg("A", "1", "late")), mailbox.ErrNotOpen)
}

func TestPrune(t *testing.T) {
	usage := &fakeUsage{}
	start := time.Unix(1_700_000_000, 0)
	now := start
	r := mailbox.New(nil, mailbox.WithUsage(usage), mailbox.WithClock(func() time.Time { return now }))

	mb, err := r.Claim(app, "4", "A")
	require.NoError(t, err)
	a := &fakeSub{}
	require.NoError(t, r.Open(app, mb, "A", a))

	nps, mbs := r.Prune(start.Add(time.Minute), time.Hour, time.Hour)
	require.Zero(t, nps+mbs)

	nps, mbs = r.Prune(start.Add(2*time.Hour), time.Hour, time.Hour)
	require.Equal(t, 0, nps, "nameplate went with its mailbox")
	require.Equal(t, 1, mbs)
	require.True(t, a.wasEvicted())
	require.Empty(t, r.List(app))

	recs := usage.records()
	require.Len(t, recs, 1)
	require.Equal(t, domain.ResultPruney, recs[0].Result)
}

func TestPrune_NameplateOnly(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	r := mailbox.New(nil, mailbox.WithClock(func() time.Time { return start }))
	_, err := r.Claim(app, "4", "A")
	require.NoError(t, err)

	nps, mbs := r.Prune(start.Add(10*time.Minute), 5*time.Minute, time.Hour)
	require.Equal(t, 1, nps)
	require.Equal(t, 0, mbs)
	require.Empty(t, r.List(app))
}

func TestClose_KeepsReusedNameplate(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	now := start
	r := mailbox.New(nil, mailbox.WithClock(func() time.Time { return now }))

	old, err := r.Claim(app, "4", "A")
	require.NoError(t, err)
	nps, _ := r.Prune(start.Add(10*time.Minute), 5*time.Minute, time.Hour)
	require.Equal(t, 1, nps)

	now = start.Add(11 * time.Minute)
	fresh, err := r.Claim(app, "4", "B")
	require.NoError(t, err)
	require.NotEqual(t, old, fresh)

	require.NoError(t, r.Close(app, old, "A", domain.MoodLonely))
	require.Equal(t, []domain.Nameplate{"4"}, r.List(app), "nameplate 4 now leads to another mailbox")

	require.NoError(t, r.Close(app, fresh, "B", domain.MoodLonely))
	require.Empty(t, r.List(app))
}

func TestRunPruner(t *testing.T) {
	r := mailbox.New(nil)
	a := &fakeSub{}
	require.NoError(t, r.Open(app, "mid", "A", a))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.RunPruner(ctx, 5*time.Millisecond, 0, 0) }()

	require.Eventually(t, a.wasEvicted, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestNewMailboxID(t *testing.T) {
	seen := map[domain.MailboxID]bool{}
	for i := 0; i < 100; i++ {
		id, err := mailbox.NewMailboxID()
		require.NoError(t, err)
		require.Len(t, id.String(), 13)
		for _, c := range id.String() {
			require.True(t, (c >= 'a' && c <= 'z') || (c >= '2' && c <= '7'), "char %q", c)
		}
		require.False(t, seen[id])
		seen[id] = true
	}
}
