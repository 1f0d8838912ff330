package transport

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrChannelClosed     = errors.New("transport: channel closed")
	ErrChannelBroken     = errors.New("transport: channel broken")
	ErrTypeMismatch      = errors.New("transport: type mismatch")
	ErrSerialization     = errors.New("transport: serialization failed")
	ErrDeserialization   = errors.New("transport: deserialization failed")
	ErrServiceNotFound   = errors.New("transport: service not found")
	ErrListenerClosed    = errors.New("transport: listener closed")
	ErrAlreadyRegistered = errors.New("transport: service already registered")
	ErrHandshake         = errors.New("transport: handshake rejected")
	ErrFrameTooLarge     = errors.New("transport: frame too large")
)

// TypeMismatchError reports which identities disagreed at an attach or a
// down-cast. It matches ErrTypeMismatch under errors.Is.
type TypeMismatchError struct {
	Expected string
	Got      string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("transport: type mismatch: expected %q, got %q", e.Expected, e.Got)
}

func (e *TypeMismatchError) Is(target error) bool { return target == ErrTypeMismatch }

// isDeliveryFailure reports whether err means the peer could not be reached,
// as opposed to a programming or protocol error. The caller's own
// cancellation is never a delivery failure.
func isDeliveryFailure(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrChannelClosed) || errors.Is(err, ErrChannelBroken)
}
