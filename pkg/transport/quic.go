package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	quic "github.com/quic-go/quic-go"
	"go.uber.org/zap"
)

// ALPN is the TLS application protocol negotiated by transport peers.
const ALPN = "multidustry-transport/1"

const (
	handshakeTimeout = 10 * time.Second
	closeGrace       = time.Second
)

var ErrMissingTLS = errors.New("transport: missing TLS configuration")

// header is the first frame on every stream, sent by the dialing side.
type header struct {
	Service  ServiceID `cbor:"service"`
	Request  string    `cbor:"request"`
	Response string    `cbor:"response"`
}

const (
	ackOK             = "ok"
	ackNotFound       = "not_found"
	ackListenerClosed = "listener_closed"
	ackTypeMismatch   = "type_mismatch"
)

// headerAck answers a header before any application frame flows.
type headerAck struct {
	Status string `cbor:"status"`
	Reason string `cbor:"reason,omitempty"`
}

// quicEndpoint carries one connection over a bidirectional QUIC stream. Each
// direction has its own lock so that frames never interleave.
type quicEndpoint struct {
	key    Key
	role   Role
	stream quic.Stream
	conn   quic.Connection // owned by client endpoints only

	sendLock   chan struct{}
	recvLock   chan struct{}
	sendBroken atomic.Bool
	recvBroken atomic.Bool

	encode func(any) ([]byte, error)
	decode func([]byte) (any, error)
	once   sync.Once
}

func newQuicEndpoint[Req, Res Message](key Key, role Role, st quic.Stream, conn quic.Connection) *quicEndpoint {
	ep := &quicEndpoint{
		key:      key,
		role:     role,
		stream:   st,
		conn:     conn,
		sendLock: make(chan struct{}, 1),
		recvLock: make(chan struct{}, 1),
	}
	if role == RoleServer {
		ep.encode, ep.decode = encodeAs[Res], decodeAs[Req]
	} else {
		ep.encode, ep.decode = encodeAs[Req], decodeAs[Res]
	}
	return ep
}

func (e *quicEndpoint) RequestType() string  { return e.key.Request }
func (e *quicEndpoint) ResponseType() string { return e.key.Response }
func (e *quicEndpoint) Role() Role           { return e.role }

func lock(ctx context.Context, l chan struct{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// watch pushes the stream deadline to now when ctx is done. The returned func
// must be called once the I/O finished; it clears the deadline again if it
// was moved.
func watch(ctx context.Context, setDeadline func(time.Time) error) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = setDeadline(time.Now())
		close(fired)
	})
	return func() {
		if !stop() {
			<-fired
			_ = setDeadline(time.Time{})
		}
	}
}

// counted tracks how many bytes of the current frame crossed the stream.
type counted struct {
	rw io.ReadWriter
	n  int
}

func (c *counted) Read(p []byte) (int, error) {
	n, err := c.rw.Read(p)
	c.n += n
	return n, err
}

func (c *counted) Write(p []byte) (int, error) {
	n, err := c.rw.Write(p)
	c.n += n
	return n, err
}

func (e *quicEndpoint) Send(ctx context.Context, v any) error {
	payload, err := e.encode(v)
	if err != nil {
		return err
	}
	if err := lock(ctx, e.sendLock); err != nil {
		return err
	}
	defer func() { <-e.sendLock }()
	if e.sendBroken.Load() {
		return ErrChannelBroken
	}

	cw := &counted{rw: e.stream}
	done := watch(ctx, e.stream.SetWriteDeadline)
	err = WriteFrame(cw, payload)
	done()
	if err == nil {
		return nil
	}
	// Nothing of the frame left, so the stream framing is still intact.
	if cw.n == 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return classify(ctx, err)
	}
	e.sendBroken.Store(true)
	return classify(ctx, err)
}

func (e *quicEndpoint) Recv(ctx context.Context) (any, error) {
	if err := lock(ctx, e.recvLock); err != nil {
		return nil, err
	}
	defer func() { <-e.recvLock }()
	if e.recvBroken.Load() {
		return nil, ErrChannelBroken
	}

	cr := &counted{rw: e.stream}
	done := watch(ctx, e.stream.SetReadDeadline)
	payload, err := ReadFrame(cr)
	done()
	if err != nil {
		if cr.n == 0 && (ctx.Err() != nil || errors.Is(err, io.EOF)) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrChannelClosed
		}
		e.recvBroken.Store(true)
		if errors.Is(err, ErrDeserialization) {
			return nil, err
		}
		return nil, classify(ctx, err)
	}
	// A payload that fails to decode leaves the framing intact.
	return e.decode(payload)
}

// classify maps stream errors onto transport errors. A peer that closed its
// side or the connection cleanly counts as a closed channel.
func classify(ctx context.Context, err error) error {
	var appErr *quic.ApplicationError
	var streamErr *quic.StreamError
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", ErrChannelBroken, ctx.Err())
	case errors.Is(err, io.EOF):
		return ErrChannelClosed
	case errors.As(err, &appErr) && appErr.ErrorCode == 0:
		return ErrChannelClosed
	case errors.As(err, &streamErr) && streamErr.ErrorCode == 0:
		return ErrChannelClosed
	}
	return fmt.Errorf("%w: %w", ErrChannelBroken, err)
}

func (e *quicEndpoint) Close() error {
	e.once.Do(func() {
		e.stream.CancelRead(0)
		_ = e.stream.Close()
		if e.conn != nil {
			// Give the FIN and any queued frames a moment to leave.
			conn := e.conn
			time.AfterFunc(closeGrace, func() { _ = conn.CloseWithError(0, "closed") })
		}
	})
	return nil
}

func withALPN(tlsConf *tls.Config) *tls.Config {
	c := tlsConf.Clone()
	if !slices.Contains(c.NextProtos, ALPN) {
		c.NextProtos = append(c.NextProtos, ALPN)
	}
	return c
}

func defaultQUICConfig() *quic.Config {
	return &quic.Config{KeepAlivePeriod: 15 * time.Second}
}

// QUICServer accepts QUIC connections and routes each stream to the
// registered listener named by its header frame.
type QUICServer struct {
	ln  *quic.Listener
	reg *registry
}

// ListenQUIC binds addr. quicConf may be nil.
func ListenQUIC(addr string, tlsConf *tls.Config, quicConf *quic.Config) (*QUICServer, error) {
	if tlsConf == nil {
		return nil, ErrMissingTLS
	}
	if quicConf == nil {
		quicConf = defaultQUICConfig()
	}
	ln, err := quic.ListenAddr(addr, withALPN(tlsConf), quicConf)
	if err != nil {
		return nil, err
	}
	return &QUICServer{ln: ln, reg: defaultRegistry()}, nil
}

func (s *QUICServer) Addr() net.Addr { return s.ln.Addr() }

func (s *QUICServer) Close() error { return s.ln.Close() }

// Serve accepts connections until ctx is done or the listener fails.
func (s *QUICServer) Serve(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		for {
			conn, err := s.ln.Accept(ctx)
			if err != nil {
				errc <- err
				return
			}
			go s.handleConn(ctx, conn)
		}
	}()

	select {
	case <-ctx.Done():
		_ = s.ln.Close()
		return nil
	case err := <-errc:
		if ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *QUICServer) handleConn(ctx context.Context, conn quic.Connection) {
	for {
		st, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go s.handshake(conn, st)
	}
}

// handshake validates the header frame against the registry and only then
// hands the stream to the listener.
func (s *QUICServer) handshake(conn quic.Connection, st quic.Stream) {
	_ = st.SetReadDeadline(time.Now().Add(handshakeTimeout))
	raw, err := ReadFrame(st)
	_ = st.SetReadDeadline(time.Time{})
	if err != nil {
		lg().Debug("handshake read failed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
		st.CancelRead(1)
		st.CancelWrite(1)
		return
	}
	var h header
	if err := cbor.Unmarshal(raw, &h); err != nil {
		lg().Warn("handshake rejected", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
		st.CancelRead(1)
		st.CancelWrite(1)
		return
	}
	key := Key{Service: h.Service, Request: h.Request, Response: h.Response}

	reject := func(status, reason string) {
		lg().Warn("handshake rejected", append(keyFields(key), zap.String("status", status))...)
		_ = writeAck(st, headerAck{Status: status, Reason: reason})
		_ = st.Close()
		st.CancelRead(0)
	}

	handle, ok := s.reg.lookup(key)
	if !ok {
		if sigs := s.reg.signatures(key.Service); len(sigs) > 0 {
			reject(ackTypeMismatch, fmt.Sprintf("service serves %s -> %s", sigs[0].Request, sigs[0].Response))
			return
		}
		reject(ackNotFound, "")
		return
	}
	if !handle.accept.receiving() {
		reject(ackListenerClosed, "")
		return
	}
	if err := writeAck(st, headerAck{Status: ackOK}); err != nil {
		st.CancelRead(1)
		return
	}
	ep := handle.wrap(st)
	if err := handle.deliver(ep); err != nil {
		_ = ep.Close()
		return
	}
	lg().Debug("stream routed", append(keyFields(key), zap.Stringer("remote", conn.RemoteAddr()))...)
}

func writeAck(w io.Writer, ack headerAck) error {
	b, err := cbor.Marshal(ack)
	if err != nil {
		return err
	}
	return WriteFrame(w, b)
}

func ackError(ack headerAck, key Key) error {
	switch ack.Status {
	case ackOK:
		return nil
	case ackNotFound:
		return fmt.Errorf("%w: %s", ErrServiceNotFound, key)
	case ackListenerClosed:
		return fmt.Errorf("%w: %s", ErrListenerClosed, key)
	case ackTypeMismatch:
		return &TypeMismatchError{Expected: key.Request + " -> " + key.Response, Got: ack.Reason}
	}
	return fmt.Errorf("%w: status %q %s", ErrHandshake, ack.Status, ack.Reason)
}
