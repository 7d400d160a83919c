package transport

import (
	"context"
	"sync"
	"time"

	"go-emrtd-connector/logging"
)

// DefaultDrainTimeout bounds how long Release waits for an exchange that is
// still on the wire after its caller gave up on it.
const DefaultDrainTimeout = 2 * time.Second

// Reader owns one physical channel. Sessions hold a Lease on it for the
// duration of authentication and reading.
type Reader struct {
	name  string
	ch    Channel
	sem   chan struct{}
	drain time.Duration
}

func NewReader(name string, ch Channel) *Reader {
	return &Reader{name: name, ch: ch, sem: make(chan struct{}, 1), drain: DefaultDrainTimeout}
}

func (r *Reader) Name() string { return r.name }

// SetDrainTimeout changes how long Release waits for in-flight exchanges.
func (r *Reader) SetDrainTimeout(d time.Duration) {
	r.drain = d
}

// Busy reports whether a lease is currently held.
func (r *Reader) Busy() bool {
	return len(r.sem) == 1
}

// Acquire blocks until the reader is free or ctx is done.
func (r *Reader) Acquire(ctx context.Context) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case r.sem <- struct{}{}:
		return &Lease{r: r}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire takes the reader only if it is free.
func (r *Reader) TryAcquire() (*Lease, bool) {
	select {
	case r.sem <- struct{}{}:
		return &Lease{r: r}, true
	default:
		return nil, false
	}
}

// Lease is exclusive use of a Reader. Release is idempotent; exchanges on
// the lease's channel fail with ErrReleased afterwards.
type Lease struct {
	r        *Reader
	once     sync.Once
	mu       sync.Mutex
	released bool
	inflight sync.WaitGroup
}

func (l *Lease) Channel() Channel {
	return ChannelFunc(func(ctx context.Context, command []byte) ([]byte, error) {
		l.mu.Lock()
		if l.released {
			l.mu.Unlock()
			return nil, ErrReleased
		}
		l.inflight.Add(1)
		l.mu.Unlock()
		defer l.inflight.Done()
		return l.r.ch.Transmit(ctx, command)
	})
}

// Release hands the reader to the next session once no exchange is left on
// the wire, or after the reader's drain timeout.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.mu.Lock()
		l.released = true
		l.mu.Unlock()

		drained := make(chan struct{})
		go func() {
			l.inflight.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(l.r.drain):
			logging.For("transport").Warn("releasing reader with an exchange still in flight",
				"reader", l.r.Name(), "waited", l.r.drain)
		}
		<-l.r.sem
	})
}

func (l *Lease) Released() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}
