package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveQUIC(t *testing.T, ctx context.Context) (addr string, client *tls.Config) {
	t.Helper()
	srvTLS, cliTLS := testTLS(t)
	s, err := ListenQUIC("127.0.0.1:0", srvTLS, nil)
	require.NoError(t, err)
	go func() { _ = s.Serve(ctx) }()
	t.Cleanup(func() { _ = s.Close() })
	return s.Addr().String(), cliTLS
}

func TestQUICRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id := newService(t)
	ln, err := Server[Foo, Bar](id).Build()
	require.NoError(t, err)
	defer ln.Close()
	addr, cliTLS := serveQUIC(t, ctx)

	done := make(chan error, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		if err != nil {
			done <- err
			return
		}
		defer conn.Close()
		for {
			req, err := conn.Recv(ctx)
			if errors.Is(err, ErrChannelClosed) {
				done <- nil
				return
			}
			if err != nil {
				done <- err
				return
			}
			if err := conn.Send(ctx, Bar{Some: req.Some + 3}); err != nil {
				done <- err
				return
			}
		}
	}()

	cfg := ClientConfig{Timeout: 5 * time.Second, RetryTries: 3}
	conn, err := Client[Foo, Bar](id, cfg).Dial(ctx, addr, cliTLS)
	require.NoError(t, err)

	require.NoError(t, conn.Send(ctx, Foo{Some: 15}))
	got, err := conn.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, Bar{Some: 18}, got)

	for i := int32(0); i < 50; i++ {
		require.NoError(t, conn.Send(ctx, Foo{Some: i}))
	}
	for i := int32(0); i < 50; i++ {
		got, err := conn.Recv(ctx)
		require.NoError(t, err)
		require.Equal(t, i+3, got.Some)
	}

	require.NoError(t, conn.Close())
	require.NoError(t, <-done, "server sees a clean close")
}

func TestQUICDialUnknownService(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	addr, cliTLS := serveQUIC(t, ctx)

	_, err := Client[Foo, Bar](newService(t), ClientConfig{RetryTries: 1, Timeout: 5 * time.Second}).Dial(ctx, addr, cliTLS)
	require.ErrorIs(t, err, ErrServiceNotFound)
}

func TestQUICDialTypeMismatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id := newService(t)
	ln, err := Server[Foo, Bar](id).Build()
	require.NoError(t, err)
	defer ln.Close()
	addr, cliTLS := serveQUIC(t, ctx)

	_, err = Client[Foo, Baz](id, ClientConfig{RetryTries: 5, Timeout: 5 * time.Second}).Dial(ctx, addr, cliTLS)
	require.ErrorIs(t, err, ErrTypeMismatch)

	acceptCtx, acceptCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer acceptCancel()
	_, err = ln.Accept(acceptCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "rejected stream never reaches the listener")
}

func TestQUICDialListenerClosed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id := newService(t)
	ln, err := Server[Foo, Bar](id).Build()
	require.NoError(t, err)
	require.NoError(t, ln.Close())
	addr, cliTLS := serveQUIC(t, ctx)

	_, err = Client[Foo, Bar](id, ClientConfig{RetryTries: 1}).Dial(ctx, addr, cliTLS)
	require.ErrorIs(t, err, ErrListenerClosed)
}

func TestQUICRecvCancelKeepsEndpoint(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id := newService(t)
	ln, err := Server[Foo, Bar](id).Build()
	require.NoError(t, err)
	defer ln.Close()
	addr, cliTLS := serveQUIC(t, ctx)

	conn, err := Client[Foo, Bar](id, ClientConfig{}).Dial(ctx, addr, cliTLS)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Send(ctx, Foo{Some: 1}))
	srv, err := ln.Accept(ctx)
	require.NoError(t, err)
	defer srv.Close()

	short, shortCancel := context.WithTimeout(ctx, 30*time.Millisecond)
	_, err = srv.Recv(ctx)
	require.NoError(t, err)
	_, err = srv.Recv(short)
	shortCancel()
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, conn.Send(ctx, Foo{Some: 2}))
	got, err := srv.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), got.Some)
}

func TestQUICDialRequiresTLS(t *testing.T) {
	_, err := Client[Foo, Bar](newService(t), ClientConfig{}).Dial(context.Background(), "127.0.0.1:1", nil)
	assert.ErrorIs(t, err, ErrMissingTLS)
	_, err = ListenQUIC("127.0.0.1:0", nil, nil)
	assert.ErrorIs(t, err, ErrMissingTLS)
}

func TestQUICOversizedSendKeepsStream(t *testing.T) {
	for _, strategy := range []ErrorStrategy{ThrowError, Drop} {
		t.Run(strategy.String(), func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			id := newService(t)
			ln, err := Server[Baz, Baz](id).Build()
			require.NoError(t, err)
			defer ln.Close()
			addr, cliTLS := serveQUIC(t, ctx)

			conn, err := Client[Baz, Baz](id, ClientConfig{Timeout: 5 * time.Second, ErrorStrategy: strategy}).Dial(ctx, addr, cliTLS)
			require.NoError(t, err)
			defer conn.Close()
			srv, err := ln.Accept(ctx)
			require.NoError(t, err)
			defer srv.Close()

			err = conn.Send(ctx, Baz{Name: strings.Repeat("x", MaxFrameSize+10)})
			require.ErrorIs(t, err, ErrSerialization)
			assert.ErrorIs(t, err, ErrFrameTooLarge)
			assert.NotErrorIs(t, err, ErrChannelBroken)

			require.NoError(t, conn.Send(ctx, Baz{Name: "small"}))
			got, err := srv.Recv(ctx)
			require.NoError(t, err)
			assert.Equal(t, "small", got.Name)
		})
	}
}

func TestQUICConcurrentSendersDoNotInterleave(t *testing.T) {
	const senders, perSender, receivers = 8, 50, 4
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	id := newService(t)
	ln, err := Server[Baz, Bar](id).Build()
	require.NoError(t, err)
	defer ln.Close()
	addr, cliTLS := serveQUIC(t, ctx)

	conn, err := Client[Baz, Bar](id, ClientConfig{Timeout: 5 * time.Second}).Dial(ctx, addr, cliTLS)
	require.NoError(t, err)
	defer conn.Close()
	srv, err := ln.Accept(ctx)
	require.NoError(t, err)
	defer srv.Close()

	errs := make(chan error, senders+receivers)
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				// bodies larger than one QUIC packet
				msg := Baz{Name: fmt.Sprintf("%d-%d", i, j), Tags: []string{strings.Repeat("t", 4000+j)}}
				if err := conn.Send(ctx, msg); err != nil {
					errs <- err
					return
				}
			}
		}(i)
	}

	var (
		mu      sync.Mutex
		seen    = make(map[string]bool)
		corrupt []string
		left    atomic.Int32
	)
	left.Store(senders * perSender)
	for r := 0; r < receivers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for left.Add(-1) >= 0 {
				msg, err := srv.Recv(ctx)
				if err != nil {
					errs <- err
					return
				}
				var i, j int
				_, scanErr := fmt.Sscanf(msg.Name, "%d-%d", &i, &j)
				mu.Lock()
				if scanErr != nil || len(msg.Tags) != 1 || len(msg.Tags[0]) != 4000+j {
					corrupt = append(corrupt, msg.Name)
				}
				seen[msg.Name] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Empty(t, corrupt)
	assert.Len(t, seen, senders*perSender)
}

func TestQUICDropAfterServerClose(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id := newService(t)
	ln, err := Server[Foo, Bar](id).Build()
	require.NoError(t, err)
	defer ln.Close()
	addr, cliTLS := serveQUIC(t, ctx)

	dial := func(strategy ErrorStrategy) *Connection[Foo, Bar] {
		conn, err := Client[Foo, Bar](id, ClientConfig{Timeout: 5 * time.Second, ErrorStrategy: strategy}).Dial(ctx, addr, cliTLS)
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })
		srv, err := ln.Accept(ctx)
		require.NoError(t, err)
		require.NoError(t, srv.Close())
		return conn
	}
	dropping := dial(Drop)
	strict := dial(ThrowError)

	_, err = dropping.Recv(ctx)
	require.ErrorIs(t, err, ErrChannelClosed)
	_, err = strict.Recv(ctx)
	require.ErrorIs(t, err, ErrChannelClosed)

	require.Eventually(t, func() bool {
		err := strict.Send(ctx, Foo{Some: 1})
		return errors.Is(err, ErrChannelClosed) || errors.Is(err, ErrChannelBroken)
	}, 5*time.Second, 10*time.Millisecond)

	for i := int32(0); i < 20; i++ {
		assert.NoError(t, dropping.Send(ctx, Foo{Some: i}))
	}
}
