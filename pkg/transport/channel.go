package transport

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// shared is a reference-counted hold on an endpoint. The last release closes
// the endpoint.
type shared struct {
	ep   Endpoint
	refs atomic.Int32
}

func share(ep Endpoint) *shared { return &shared{ep: ep} }

func (s *shared) acquire() { s.refs.Add(1) }

func (s *shared) release() error {
	if s.refs.Add(-1) == 0 {
		return s.ep.Close()
	}
	return nil
}

// Tx is the sending half of a connection, typed by the outbound message.
type Tx[T Message] struct {
	sh     *shared
	drop   bool
	closed atomic.Bool
}

func newTx[T Message](sh *shared) (*Tx[T], error) {
	want, got := IdentityOf[T](), outboundType(sh.ep)
	if want != got {
		lg().Warn("type mismatch", zap.String("half", "tx"), zap.String("expected", want), zap.String("got", got))
		return nil, &TypeMismatchError{Expected: want, Got: got}
	}
	sh.acquire()
	return &Tx[T]{sh: sh}, nil
}

// Send hands msg to the peer. With the Drop error strategy, delivery failures
// are logged and swallowed.
func (t *Tx[T]) Send(ctx context.Context, msg T) error {
	if t.closed.Load() {
		return t.failed(ErrChannelClosed)
	}
	if err := t.sh.ep.Send(ctx, msg); err != nil {
		return t.failed(err)
	}
	return nil
}

func (t *Tx[T]) failed(err error) error {
	if t.drop && isDeliveryFailure(err) {
		lg().Debug("send dropped", zap.String("type", IdentityOf[T]()), zap.Error(err))
		return nil
	}
	return err
}

// Close releases this half. The endpoint is torn down once every half that
// shares it is closed.
func (t *Tx[T]) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.sh.release()
}

// Rx is the receiving half of a connection, typed by the inbound message.
type Rx[T Message] struct {
	sh     *shared
	closed atomic.Bool
}

func newRx[T Message](sh *shared) (*Rx[T], error) {
	want, got := IdentityOf[T](), inboundType(sh.ep)
	if want != got {
		lg().Warn("type mismatch", zap.String("half", "rx"), zap.String("expected", want), zap.String("got", got))
		return nil, &TypeMismatchError{Expected: want, Got: got}
	}
	sh.acquire()
	return &Rx[T]{sh: sh}, nil
}

// Recv blocks until the next message arrives, the peer goes away or ctx is
// done.
func (r *Rx[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	if r.closed.Load() {
		return zero, ErrChannelClosed
	}
	v, err := r.sh.ep.Recv(ctx)
	if err != nil {
		if errors.Is(err, ErrChannelClosed) {
			lg().Debug("channel closed", zap.String("type", IdentityOf[T]()))
		}
		return zero, err
	}
	msg, ok := v.(T)
	if !ok {
		got := fmt.Sprintf("%T", v)
		if m, ok := v.(Message); ok {
			got = m.TypeIdentity()
		}
		lg().Warn("type mismatch", zap.String("half", "rx"), zap.String("expected", IdentityOf[T]()), zap.String("got", got))
		return zero, &TypeMismatchError{Expected: IdentityOf[T](), Got: got}
	}
	return msg, nil
}

func (r *Rx[T]) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return r.sh.release()
}
