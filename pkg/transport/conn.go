package transport

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Connection pairs a sending half for Out with a receiving half for In over
// one endpoint. Clients hold Connection[Req, Res], servers Connection[Res, Req].
type Connection[Out, In Message] struct {
	tx *Tx[Out]
	rx *Rx[In]
}

// Attach wraps ep into a typed connection after checking that Out and In
// match the identities ep was built for. On mismatch ep is closed.
func Attach[Out, In Message](ep Endpoint) (*Connection[Out, In], error) {
	sh := share(ep)
	tx, err := newTx[Out](sh)
	if err != nil {
		_ = ep.Close()
		return nil, err
	}
	rx, err := newRx[In](sh)
	if err != nil {
		_ = tx.Close()
		return nil, err
	}
	return &Connection[Out, In]{tx: tx, rx: rx}, nil
}

func (c *Connection[Out, In]) Send(ctx context.Context, msg Out) error {
	return c.tx.Send(ctx, msg)
}

func (c *Connection[Out, In]) Recv(ctx context.Context) (In, error) {
	return c.rx.Recv(ctx)
}

// Split hands out the two halves for independent use. The connection must
// not be used afterwards; close the halves instead.
func (c *Connection[Out, In]) Split() (*Tx[Out], *Rx[In]) {
	return c.tx, c.rx
}

// Close closes both halves.
func (c *Connection[Out, In]) Close() error {
	return errors.Join(c.tx.Close(), c.rx.Close())
}

// Listener accepts connections for one registered service signature.
type Listener[Req, Res Message] struct {
	key    Key
	accept *queue
	once   sync.Once
}

func (l *Listener[Req, Res]) Key() Key { return l.key }

// Accept blocks until a client connects and returns the server side of the
// connection. It may be called repeatedly, concurrently too.
func (l *Listener[Req, Res]) Accept(ctx context.Context) (*Connection[Res, Req], error) {
	ctx, span := startSpan(ctx, "transport.accept", l.key)
	v, err := l.accept.pop(ctx)
	if err != nil {
		if errors.Is(err, ErrChannelClosed) {
			err = ErrListenerClosed
		}
		endSpan(span, err)
		return nil, err
	}
	ep := v.(Endpoint)
	conn, err := Attach[Res, Req](ep)
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	lg().Debug("connection accepted", keyFields(l.key)...)
	return conn, nil
}

// Close stops accepting. Clients that were queued but not yet accepted see
// their connection closed; later clients get ErrListenerClosed.
func (l *Listener[Req, Res]) Close() error {
	l.once.Do(func() {
		for _, v := range l.accept.closeRecv() {
			_ = v.(Endpoint).Close()
		}
		lg().Info("listener closed", zap.Stringer("key", l.key))
	})
	return nil
}
