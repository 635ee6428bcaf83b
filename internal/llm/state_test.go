package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateTrackerStartsDisconnected(t *testing.T) {
	tr := NewStateTracker()

	snap := tr.Snapshot()
	assert.Equal(t, StatusDisconnected, snap.Status)
	assert.Nil(t, snap.Cause)
	assert.Nil(t, snap.LastError)
	assert.False(t, tr.IsConnected())
}

func TestStateTrackerHappyPath(t *testing.T) {
	tr := NewStateTracker()

	tr.ToConnecting()
	assert.Equal(t, StatusConnecting, tr.Status())
	assert.False(t, tr.IsConnected())

	tr.ToConnected()
	assert.True(t, tr.IsConnected())
	assert.Nil(t, tr.Snapshot().Cause)
}

func TestToErrorSetsCauseAndLastError(t *testing.T) {
	tr := NewStateTracker()
	cause := errors.New("probe refused")

	tr.ToError(cause)

	snap := tr.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Same(t, cause, snap.Cause)
	assert.Same(t, cause, snap.LastError)
}

func TestRecoveryClearsCauseKeepsLastError(t *testing.T) {
	tr := NewStateTracker()
	cause := errors.New("first probe failed")

	tr.ToError(cause)
	tr.ToConnected()

	snap := tr.Snapshot()
	assert.Equal(t, StatusConnected, snap.Status)
	assert.Nil(t, snap.Cause)
	assert.Same(t, cause, snap.LastError)
}

func TestRecordFailureDoesNotFlipStatus(t *testing.T) {
	tr := NewStateTracker()
	tr.ToConnected()

	opErr := errors.New("chat returned 500")
	tr.RecordFailure(opErr)

	snap := tr.Snapshot()
	assert.Equal(t, StatusConnected, snap.Status)
	assert.True(t, tr.IsConnected())
	assert.Nil(t, snap.Cause)
	assert.Same(t, opErr, snap.LastError)
}

func TestSubscribeSeesEveryTransition(t *testing.T) {
	tr := NewStateTracker()

	var seen []Status
	tr.Subscribe(func(s Snapshot) {
		seen = append(seen, s.Status)
	})

	tr.ToConnecting()
	tr.ToConnected()
	tr.ToError(errors.New("lost it"))
	tr.ToDisconnected()

	assert.Equal(t, []Status{
		StatusConnecting,
		StatusConnected,
		StatusError,
		StatusDisconnected,
	}, seen)
}
