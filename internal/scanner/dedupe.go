package scanner

import "time"

// deduplicator remembers recently emitted codes so a label left in front of
// the camera is not re-emitted each time the lock clears.
type deduplicator struct {
	window time.Duration
	now    func() time.Time
	seen   map[string]time.Time
}

func newDeduplicator(window time.Duration, now func() time.Time) *deduplicator {
	if now == nil {
		now = time.Now
	}
	return &deduplicator{window: window, now: now, seen: make(map[string]time.Time)}
}

// isDuplicate reports whether code was recorded within the window.
func (d *deduplicator) isDuplicate(code string) bool {
	if d.window <= 0 || code == "" {
		return false
	}
	at, ok := d.seen[code]
	return ok && d.now().Sub(at) < d.window
}

// record stores code as emitted now and evicts stale entries.
func (d *deduplicator) record(code string) {
	if d.window <= 0 {
		return
	}
	now := d.now()
	d.seen[code] = now

	// Cleanup old entries if map gets too big
	if len(d.seen) > 256 {
		for k, v := range d.seen {
			if now.Sub(v) > d.window {
				delete(d.seen, k)
			}
		}
	}
}

func (d *deduplicator) reset() {
	d.seen = make(map[string]time.Time)
}
