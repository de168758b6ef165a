package notifier

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	kit "feedbot/internal/transport"
)

// suppressor remembers recently sent alert keys. Entries expire after the
// window; when the cache is full the entry closest to expiry is evicted.
type suppressor struct {
	mu    sync.Mutex
	max   int
	until map[string]time.Time
}

func newSuppressor(max int) *suppressor {
	return &suppressor{max: max, until: make(map[string]time.Time)}
}

func (d *suppressor) resize(max int) {
	d.mu.Lock()
	d.max = max
	d.mu.Unlock()
}

// admit reports whether key may be sent at now and, if so, suppresses it
// for window.
func (d *suppressor) admit(key string, now time.Time, window time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, hit := d.until[key]; hit && now.Before(t) {
		return false
	}
	d.until[key] = now.Add(window)
	d.expire(now)
	for len(d.until) > d.max {
		d.evictOldest()
	}
	return true
}

func (d *suppressor) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.until)
}

func (d *suppressor) expire(now time.Time) {
	for k, t := range d.until {
		if !now.Before(t) {
			delete(d.until, k)
		}
	}
}

func (d *suppressor) evictOldest() {
	first := true
	var victim string
	var at time.Time
	for k, t := range d.until {
		if first || t.Before(at) {
			victim, at, first = k, t, false
		}
	}
	delete(d.until, victim)
}

// alertKey falls back to a hash of chat and text when the caller gave no key.
func alertKey(n kit.Notification) string {
	if n.Key != "" {
		return n.Key
	}
	h := fnv.New64a()
	h.Write(strconv.AppendInt(nil, n.Target.ChatID, 10))
	h.Write([]byte{0})
	h.Write([]byte(n.Text))
	return strconv.FormatUint(h.Sum64(), 16)
}
