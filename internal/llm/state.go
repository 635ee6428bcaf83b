package llm

import "sync"

// Snapshot is one consistent view of a backend's state machine.
//
// Cause is non-nil exactly when Status is StatusError; it is the error
// that drove the transition. LastError additionally remembers the most
// recent failure of any public operation, including request-level
// failures that leave Status untouched.
type Snapshot struct {
	Status    Status
	Cause     error
	LastError error
}

// StateTracker publishes the connection state machine. One writer (the
// owning backend), any number of readers. Readers always see Status and
// Cause move together; there is no torn view where IsConnected
// disagrees with Status.
type StateTracker struct {
	mu   sync.RWMutex
	snap Snapshot

	subs []func(Snapshot)
}

func NewStateTracker() *StateTracker {
	return &StateTracker{snap: Snapshot{Status: StatusDisconnected}}
}

func (t *StateTracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

func (t *StateTracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap.Status
}

func (t *StateTracker) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap.Status == StatusConnected
}

func (t *StateTracker) LastError() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap.LastError
}

// Subscribe registers a callback invoked after every transition. The
// callback runs outside the tracker lock and must not block for long.
func (t *StateTracker) Subscribe(fn func(Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, fn)
}

func (t *StateTracker) ToConnecting() {
	t.transition(StatusConnecting, nil)
}

// ToConnected clears the machine's cause. LastError is kept so callers
// can still inspect the failure that preceded a recovery.
func (t *StateTracker) ToConnected() {
	t.transition(StatusConnected, nil)
}

func (t *StateTracker) ToDisconnected() {
	t.transition(StatusDisconnected, nil)
}

// ToError transitions into the error state and records cause as both
// the machine cause and the last operation error.
func (t *StateTracker) ToError(cause error) {
	t.mu.Lock()
	t.snap = Snapshot{Status: StatusError, Cause: cause, LastError: cause}
	snap, subs := t.snap, t.subs
	t.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

// RecordFailure notes a request-level failure without flipping status.
// Used for errors that do not indicate lost connectivity, e.g. an HTTP
// 500 on a single chat call while the server is otherwise reachable.
func (t *StateTracker) RecordFailure(err error) {
	t.mu.Lock()
	t.snap.LastError = err
	t.mu.Unlock()
}

func (t *StateTracker) transition(s Status, cause error) {
	t.mu.Lock()
	t.snap.Status = s
	t.snap.Cause = cause
	snap, subs := t.snap, t.subs
	t.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
