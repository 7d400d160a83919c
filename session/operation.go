package session

import (
	"context"
	"sync"
)

// Operation is a read in flight. It resolves exactly once.
type Operation struct {
	ID string

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	state State
	json  string
	err   error
}

func newOperation(id string, cancel context.CancelFunc) *Operation {
	return &Operation{ID: id, cancel: cancel, done: make(chan struct{})}
}

// Done is closed once the operation resolved.
func (o *Operation) Done() <-chan struct{} {
	return o.done
}

// Wait blocks until the operation resolved. Exactly one of the results is
// set: passport JSON on success, a typed error otherwise.
func (o *Operation) Wait() (string, error) {
	<-o.done
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.json, o.err
}

// Cancel asks the operation to stop. It still resolves, with a cancelled
// error unless it completed first.
func (o *Operation) Cancel() {
	o.cancel()
}

// State is the phase the operation is in.
func (o *Operation) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Operation) setState(s State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Terminal() {
		return false
	}
	o.state = s
	return true
}

// complete resolves the operation. Only the first call has an effect;
// resolved runs before waiters are released.
func (o *Operation) complete(json string, err error, resolved func(State)) bool {
	first := false
	o.once.Do(func() {
		o.mu.Lock()
		if err != nil {
			o.state, o.json, o.err = StateFailed, "", err
		} else {
			o.state, o.json = StateCompleted, json
		}
		state := o.state
		o.mu.Unlock()
		if resolved != nil {
			resolved(state)
		}
		close(o.done)
		first = true
	})
	return first
}
