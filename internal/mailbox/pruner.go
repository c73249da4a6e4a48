package mailbox

import (
	"context"
	"time"

	"wormhole/internal/domain"
)

// Prune deletes nameplates untouched for longer than nameplateIdle and
// mailboxes untouched for longer than mailboxIdle. Sides still subscribed to
// a pruned mailbox are evicted; they see their connection drop rather than a
// graceful close.
func (r *Registry) Prune(now time.Time, nameplateIdle, mailboxIdle time.Duration) (nameplates, mailboxes int) {
	var recs []domain.UsageRecord

	r.mu.Lock()
	for app, a := range r.apps {
		for id, m := range a.mailboxes {
			if now.Sub(m.updated) <= mailboxIdle {
				continue
			}
			for _, mem := range m.members {
				if mem.sub != nil {
					mem.sub.Evict()
					mem.sub = nil
				}
			}
			a.deleteMailbox(m)
			mailboxes++
			recs = append(recs, m.summarize(app, now, true))
			r.log.Debugf("%s: pruned mailbox %s", app, id)
		}
		for np, n := range a.nameplates {
			if now.Sub(n.updated) <= nameplateIdle {
				continue
			}
			a.removeNameplate(np)
			nameplates++
			r.log.Debugf("%s: pruned nameplate %s", app, np)
		}
		r.gc(app)
	}
	r.mu.Unlock()

	for _, rec := range recs {
		r.record(rec)
	}
	return nameplates, mailboxes
}

// RunPruner calls Prune every interval until ctx is done.
func (r *Registry) RunPruner(ctx context.Context, interval, nameplateIdle, mailboxIdle time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		np, mb := r.Prune(r.now(), nameplateIdle, mailboxIdle)
		if np+mb > 0 {
			r.log.Infof("pruned %d nameplates and %d mailboxes", np, mb)
		}
	}
}
