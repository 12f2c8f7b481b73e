package ceremony

import (
	"time"
)

// entry is one participant's place in the lobby.
type entry struct {
	id         string
	enqueuedAt time.Time

	// expiresAt is set only while the entry holds the contribution slot.
	expiresAt time.Time

	lastCheckin  time.Time
	firstCheckin bool
}

// lobby is the FIFO wait queue plus the single active slot. It is not
// self-locking: the coordinator owns it and serializes every access
// through its own mutex.
type lobby struct {
	waiting []*entry
	active  *entry
	index   map[string]*entry
}

func newLobby() *lobby {
	return &lobby{index: make(map[string]*entry)}
}

func (l *lobby) contains(id string) bool {
	_, ok := l.index[id]
	return ok
}

func (l *lobby) activeEntry() *entry {
	return l.active
}

// waitingLen is the lobby size excluding the active contributor.
func (l *lobby) waitingLen() int {
	return len(l.waiting)
}

// enqueue appends id at the tail and returns its 0-based position among
// the waiting entries. Re-enqueueing after a timeout lands at the tail;
// position is never retained.
func (l *lobby) enqueue(id string, now time.Time) (int, error) {
	if l.contains(id) {
		return 0, ErrAlreadyQueued
	}
	e := &entry{
		id:           id,
		enqueuedAt:   now,
		lastCheckin:  now,
		firstCheckin: true,
	}
	l.waiting = append(l.waiting, e)
	l.index[id] = e
	return len(l.waiting) - 1, nil
}

// position returns the 0-based waiting position of id, or -1 if id is
// the active contributor.
func (l *lobby) position(id string) (int, bool) {
	e, ok := l.index[id]
	if !ok {
		return 0, false
	}
	if e == l.active {
		return -1, true
	}
	for i, w := range l.waiting {
		if w == e {
			return i, true
		}
	}
	return 0, false
}

// activateNext promotes the earliest waiting entry if no entry is
// active. Idempotent no-op when a contributor already holds the slot.
func (l *lobby) activateNext(now time.Time, turn time.Duration) *entry {
	if l.active != nil || len(l.waiting) == 0 {
		return nil
	}
	e := l.waiting[0]
	l.waiting = l.waiting[1:]
	e.expiresAt = now.Add(turn)
	l.active = e
	return e
}

// releaseActive drops the active entry if it belongs to id. The
// participant leaves the lobby entirely; re-entry goes through enqueue.
func (l *lobby) releaseActive(id string) {
	if l.active == nil || l.active.id != id {
		return
	}
	delete(l.index, id)
	l.active = nil
}

// expireActive force-releases the active entry if its deadline passed,
// returning it so the coordinator can account the timeout.
func (l *lobby) expireActive(now time.Time) *entry {
	if l.active == nil || !now.After(l.active.expiresAt) {
		return nil
	}
	e := l.active
	delete(l.index, e.id)
	l.active = nil
	return e
}

// remove drops a waiting entry. No-op for the active contributor.
func (l *lobby) remove(id string) {
	e, ok := l.index[id]
	if !ok || e == l.active {
		return
	}
	for i, w := range l.waiting {
		if w == e {
			l.waiting = append(l.waiting[:i], l.waiting[i+1:]...)
			break
		}
	}
	delete(l.index, id)
}

// checkin records a liveness ping, rejecting pings arriving earlier
// than minGap after the previous one. The first ping after enqueue is
// always accepted.
func (l *lobby) checkin(id string, now time.Time, minGap time.Duration) error {
	e, ok := l.index[id]
	if !ok {
		return ErrNotQueued
	}
	if !e.firstCheckin && now.Before(e.lastCheckin.Add(minGap)) {
		return ErrRateLimited
	}
	e.firstCheckin = false
	e.lastCheckin = now
	return nil
}

// staleWaiting returns the waiting entries whose last check-in is older
// than maxAge. The active contributor is governed by the turn deadline
// instead.
func (l *lobby) staleWaiting(now time.Time, maxAge time.Duration) []*entry {
	var stale []*entry
	for _, e := range l.waiting {
		if now.After(e.lastCheckin.Add(maxAge)) {
			stale = append(stale, e)
		}
	}
	return stale
}

// clear empties the lobby, including the active slot.
func (l *lobby) clear() {
	l.waiting = nil
	l.active = nil
	l.index = make(map[string]*entry)
}
