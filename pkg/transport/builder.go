package transport

import (
	"context"
	"fmt"

	quic "github.com/quic-go/quic-go"
	"go.uber.org/zap"
)

// ServerBuilder registers a listener for one service signature.
type ServerBuilder[Req, Res Message] struct {
	service ServiceID
}

func Server[Req, Res Message](service ServiceID) *ServerBuilder[Req, Res] {
	return &ServerBuilder[Req, Res]{service: service}
}

// Build registers the listener. It fails with ErrAlreadyRegistered when
// another listener for the same signature is still open.
func (b *ServerBuilder[Req, Res]) Build() (*Listener[Req, Res], error) {
	key := KeyOf[Req, Res](b.service)
	accept := newQueue()
	h := &listenerHandle{
		key:    key,
		accept: accept,
		wrap: func(st quic.Stream) Endpoint {
			return newQuicEndpoint[Req, Res](key, RoleServer, st, nil)
		},
	}
	if err := defaultRegistry().register(h); err != nil {
		return nil, fmt.Errorf("register %s: %w", key, err)
	}
	lg().Info("listener registered", keyFields(key)...)
	return &Listener[Req, Res]{key: key, accept: accept}, nil
}

// ClientBuilder connects to a registered service, in process or over QUIC.
type ClientBuilder[Req, Res Message] struct {
	service ServiceID
	cfg     ClientConfig
}

func Client[Req, Res Message](service ServiceID, cfg ClientConfig) *ClientBuilder[Req, Res] {
	return &ClientBuilder[Req, Res]{service: service, cfg: cfg.withDefaults()}
}

func (b *ClientBuilder[Req, Res]) Config() ClientConfig { return b.cfg }

// Build connects to a listener in this process. Nothing is created or
// mutated when the service is not registered.
func (b *ClientBuilder[Req, Res]) Build(ctx context.Context) (*Connection[Req, Res], error) {
	key := KeyOf[Req, Res](b.service)
	_, span := startSpan(ctx, "transport.connect", key)
	conn, err := b.connectLocal(key)
	endSpan(span, err)
	return conn, err
}

func (b *ClientBuilder[Req, Res]) connectLocal(key Key) (*Connection[Req, Res], error) {
	h, ok := defaultRegistry().lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, key)
	}
	if !h.accept.receiving() {
		return nil, fmt.Errorf("%w: %s", ErrListenerClosed, key)
	}
	client, server := NewPipe(key.Request, key.Response)
	if err := h.deliver(server); err != nil {
		_ = client.Close()
		_ = server.Close()
		return nil, fmt.Errorf("%w: %s", err, key)
	}
	conn, err := Attach[Req, Res](client)
	if err != nil {
		return nil, err
	}
	conn.tx.drop = b.cfg.ErrorStrategy == Drop
	lg().Debug("client connected", append(keyFields(key), zap.String("path", "inproc"))...)
	return conn, nil
}
