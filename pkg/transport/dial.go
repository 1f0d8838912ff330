package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	quic "github.com/quic-go/quic-go"
	"go.uber.org/zap"
)

const retryBackoff = 100 * time.Millisecond

// Dial connects to the service through the QUIC acceptor at addr. Each
// attempt covers the QUIC handshake and the header exchange and is bounded by
// the configured Timeout; up to RetryTries attempts are made. Type mismatches
// are not retried.
func (b *ClientBuilder[Req, Res]) Dial(ctx context.Context, addr string, tlsConf *tls.Config) (*Connection[Req, Res], error) {
	if tlsConf == nil {
		return nil, ErrMissingTLS
	}
	key := KeyOf[Req, Res](b.service)
	ctx, span := startSpan(ctx, "transport.dial", key)
	if b.cfg.Guarantees == Unreliable {
		lg().Debug("unreliable delivery requested, using a reliable stream", keyFields(key)...)
	}

	var err error
	for attempt := 1; attempt <= b.cfg.RetryTries; attempt++ {
		var conn *Connection[Req, Res]
		conn, err = b.dialOnce(ctx, addr, withALPN(tlsConf), key)
		if err == nil {
			endSpan(span, nil)
			lg().Debug("client connected", append(keyFields(key), zap.String("addr", addr), zap.Int("attempt", attempt))...)
			return conn, nil
		}
		if errors.Is(err, ErrTypeMismatch) || ctx.Err() != nil || attempt == b.cfg.RetryTries {
			break
		}
		lg().Debug("dial attempt failed", zap.String("addr", addr), zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	err = fmt.Errorf("dial %s: %w", addr, err)
	endSpan(span, err)
	return nil, err
}

func (b *ClientBuilder[Req, Res]) dialOnce(ctx context.Context, addr string, tlsConf *tls.Config, key Key) (*Connection[Req, Res], error) {
	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}
	qc, err := quic.DialAddr(ctx, addr, tlsConf, defaultQUICConfig())
	if err != nil {
		return nil, err
	}
	st, err := qc.OpenStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(1, "open stream")
		return nil, err
	}
	if err := exchangeHeader(ctx, st, key); err != nil {
		_ = qc.CloseWithError(1, "handshake")
		return nil, err
	}
	conn, err := Attach[Req, Res](newQuicEndpoint[Req, Res](key, RoleClient, st, qc))
	if err != nil {
		return nil, err
	}
	conn.tx.drop = b.cfg.ErrorStrategy == Drop
	return conn, nil
}

func exchangeHeader(ctx context.Context, st quic.Stream, key Key) error {
	raw, err := cbor.Marshal(header{Service: key.Service, Request: key.Request, Response: key.Response})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	done := watch(ctx, st.SetDeadline)
	defer done()
	if err := WriteFrame(st, raw); err != nil {
		return err
	}
	resp, err := ReadFrame(st)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	var ack headerAck
	if err := cbor.Unmarshal(resp, &ack); err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	return ackError(ack, key)
}
