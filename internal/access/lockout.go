package access

import (
	"strings"
	"time"
)

// failureWindow keeps at most max recent authentication failures per user. A user is
// locked while max failures fall strictly inside the trailing window. Attempts still
// being validated hold a slot, so concurrent guesses cannot exceed max.
type failureWindow struct {
	max      int
	window   time.Duration
	byUser   map[string][]time.Time
	inflight map[string]int
}

func newFailureWindow(max int, window time.Duration) *failureWindow {
	return &failureWindow{
		max:      max,
		window:   window,
		byUser:   make(map[string][]time.Time),
		inflight: make(map[string]int),
	}
}

func (f *failureWindow) locked(user string, now time.Time) bool {
	return len(f.recent(user, now))+f.inflight[normalizeUser(user)] >= f.max
}

// reserve takes a slot for an attempt about to consult the credential store.
func (f *failureWindow) reserve(user string) {
	f.inflight[normalizeUser(user)]++
}

func (f *failureWindow) release(user string) {
	key := normalizeUser(user)
	if f.inflight[key] <= 1 {
		delete(f.inflight, key)
		return
	}
	f.inflight[key]--
}

func (f *failureWindow) record(user string, now time.Time) int {
	times := append(f.recent(user, now), now)
	if len(times) > f.max {
		times = times[len(times)-f.max:]
	}
	f.byUser[normalizeUser(user)] = times
	return len(times)
}

func (f *failureWindow) recent(user string, now time.Time) []time.Time {
	key := normalizeUser(user)
	times := f.byUser[key]
	cutoff := now.Add(-f.window)
	keep := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	if len(keep) == 0 {
		delete(f.byUser, key)
		return nil
	}
	f.byUser[key] = keep
	return keep
}

func normalizeUser(user string) string {
	return strings.ToLower(strings.TrimSpace(user))
}
