package pipeline

import (
	"sync"

	"github.com/JakeFAU/siteshot/internal/shot"
)

// Lease is the single job slot. It also keeps the memory reading taken at the last admission.
type Lease struct {
	slot chan struct{}

	mu     sync.Mutex
	holder string
	last   shot.MemoryReading
}

// NewLease returns a free lease.
func NewLease() *Lease {
	return &Lease{slot: make(chan struct{}, 1)}
}

// TryAcquire takes the slot for jobID without waiting. The returned release func is safe to
// call more than once.
func (l *Lease) TryAcquire(jobID string) (release func(), ok bool) {
	select {
	case l.slot <- struct{}{}:
	default:
		return nil, false
	}
	l.mu.Lock()
	l.holder = jobID
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.holder = ""
			l.mu.Unlock()
			<-l.slot
		})
	}, true
}

// Busy reports whether a job holds the slot.
func (l *Lease) Busy() bool {
	return len(l.slot) > 0
}

// Holder returns the job holding the slot, or "".
func (l *Lease) Holder() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}

// Record stores a memory reading.
func (l *Lease) Record(r shot.MemoryReading) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last = r
}

// LastReading returns the most recent memory reading.
func (l *Lease) LastReading() shot.MemoryReading {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}
