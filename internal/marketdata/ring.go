package marketdata

// ring is a fixed-capacity, time-ordered bar buffer.
type ring struct {
	buf  []Bar
	head int // index of the oldest bar
	n    int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]Bar, capacity)}
}

func (r *ring) cap() int { return len(r.buf) }

func (r *ring) len() int { return r.n }

func (r *ring) at(i int) Bar {
	return r.buf[(r.head+i)%len(r.buf)]
}

func (r *ring) last() (Bar, bool) {
	if r.n == 0 {
		return Bar{}, false
	}
	return r.at(r.n - 1), true
}

// upsert replaces the last bar when timestamps match, appends newer bars
// (evicting the oldest at capacity) and rejects older ones.
func (r *ring) upsert(b Bar) bool {
	if last, ok := r.last(); ok {
		switch {
		case b.Timestamp == last.Timestamp:
			r.buf[(r.head+r.n-1)%len(r.buf)] = b
			return true
		case b.Timestamp < last.Timestamp:
			return false
		}
	}
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = b
		r.n++
		return true
	}
	r.buf[r.head] = b
	r.head = (r.head + 1) % len(r.buf)
	return true
}

// copyOut returns the bars oldest first in a fresh slice.
func (r *ring) copyOut() []Bar {
	out := make([]Bar, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.at(i)
	}
	return out
}

func (r *ring) reset(bars []Bar) {
	r.head, r.n = 0, 0
	start := 0
	if len(bars) > len(r.buf) {
		start = len(bars) - len(r.buf)
	}
	for _, b := range bars[start:] {
		r.upsert(b)
	}
}
