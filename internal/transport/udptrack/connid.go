package udptrack

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"
)

// connIDTable tracks the short-lived connection ids issued during the
// BEP-15 connect handshake. Ids expire after a configurable TTL so a
// half-established handshake cannot pin memory; expired entries are swept
// lazily whenever a new id is issued.
type connIDTable struct {
	mu      sync.Mutex
	ids     map[uint64]time.Time
	ttl     time.Duration
	now     func() time.Time
	sweepAt time.Time
}

func newConnIDTable(ttl time.Duration) *connIDTable {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &connIDTable{
		ids: make(map[uint64]time.Time),
		ttl: ttl,
		now: time.Now,
	}
}

func (t *connIDTable) issue() (uint64, error) {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return 0, err
	}
	id := binary.BigEndian.Uint64(raw[:])

	now := t.now()
	t.mu.Lock()
	if now.After(t.sweepAt) {
		for k, exp := range t.ids {
			if now.After(exp) {
				delete(t.ids, k)
			}
		}
		t.sweepAt = now.Add(t.ttl)
	}
	t.ids[id] = now.Add(t.ttl)
	t.mu.Unlock()
	return id, nil
}

func (t *connIDTable) valid(id uint64) bool {
	now := t.now()
	t.mu.Lock()
	exp, ok := t.ids[id]
	if ok && now.After(exp) {
		delete(t.ids, id)
		ok = false
	}
	t.mu.Unlock()
	return ok
}
