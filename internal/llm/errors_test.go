package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorString(t *testing.T) {
	plain := NewError(ErrorTypeModelNotFound, "no such model")
	assert.Equal(t, "model_not_found: no such model", plain.Error())

	withStatus := StatusError(ErrorTypeRequestFailed, 500, "upstream blew up")
	assert.Equal(t, "request_failed (status 500): upstream blew up", withStatus.Error())
}

func TestTypeOfWalksWrappedChain(t *testing.T) {
	inner := NewError(ErrorTypeRateLimited, "slow down")
	wrapped := fmt.Errorf("calling upstream: %w", inner)

	assert.Equal(t, ErrorTypeRateLimited, TypeOf(wrapped))
	assert.True(t, IsType(wrapped, ErrorTypeRateLimited))
}

func TestTypeOfForeignError(t *testing.T) {
	assert.Equal(t, ErrorTypeUnknown, TypeOf(errors.New("something else")))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(nil))
}

func TestStatusCodeOf(t *testing.T) {
	err := StatusError(ErrorTypeConnectionFailed, 503, "bad gateway")
	assert.Equal(t, 503, StatusCodeOf(fmt.Errorf("probe: %w", err)))
	assert.Equal(t, 0, StatusCodeOf(errors.New("no status here")))
}

func TestTransientKinds(t *testing.T) {
	transient := []ErrorType{
		ErrorTypeTimeout,
		ErrorTypeNetworkUnavailable,
		ErrorTypeServerUnavailable,
		ErrorTypeRateLimited,
	}
	for _, kind := range transient {
		assert.True(t, Transient(NewError(kind, "x")), "kind %s", kind)
	}

	permanent := []ErrorType{
		ErrorTypeConfiguration,
		ErrorTypeModelNotFound,
		ErrorTypeModelNotDownloaded,
		ErrorTypeModelLoadFailed,
		ErrorTypeNotConnected,
		ErrorTypeConnectionFailed,
		ErrorTypeRequestFailed,
		ErrorTypeInvalidResponse,
		ErrorTypeVisionNotSupported,
		ErrorTypeAuthentication,
		ErrorTypeMaxRetries,
	}
	for _, kind := range permanent {
		assert.False(t, Transient(NewError(kind, "x")), "kind %s", kind)
	}
}

func TestTransientForeignTimeouts(t *testing.T) {
	assert.True(t, Transient(fmt.Errorf("op: %w", context.DeadlineExceeded)))
	assert.False(t, Transient(errors.New("not a timeout")))
	assert.False(t, Transient(context.Canceled))
}

func TestClassifyTransport(t *testing.T) {
	deadline := ClassifyTransport(context.DeadlineExceeded)
	assert.Equal(t, ErrorTypeTimeout, deadline.Type)

	dns := ClassifyTransport(&net.DNSError{Err: "no such host", Name: "nowhere.invalid"})
	assert.Equal(t, ErrorTypeNetworkUnavailable, dns.Type)

	op := ClassifyTransport(&net.OpError{Op: "dial", Err: errors.New("connection refused")})
	assert.Equal(t, ErrorTypeNetworkUnavailable, op.Type)

	other := ClassifyTransport(errors.New("mid-body hiccup"))
	assert.Equal(t, ErrorTypeUnknown, other.Type)

	// The original cause stays reachable for errors.Is checks.
	assert.True(t, errors.Is(deadline, context.DeadlineExceeded))
}
