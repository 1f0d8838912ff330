package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInprocRoundTrip(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id := newService(t)

	ln, err := Server[Foo, Bar](id).Build()
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan error, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		if err != nil {
			done <- err
			return
		}
		defer conn.Close()
		req, err := conn.Recv(ctx)
		if err != nil {
			done <- err
			return
		}
		if req != (Foo{Some: 15}) {
			done <- errors.New("unexpected request")
			return
		}
		done <- conn.Send(ctx, Bar{Some: 18})
	}()

	cfg := ClientConfig{Timeout: 5 * time.Second, RetryTries: 3, ErrorStrategy: Drop, Guarantees: Reliable}
	conn, err := Client[Foo, Bar](id, cfg).Build(ctx)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(ctx, Foo{Some: 15}))
	got, err := conn.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, Bar{Some: 18}, got)
	require.NoError(t, <-done)
}

func TestClientServiceNotFoundHasNoSideEffects(t *testing.T) {
	t.Parallel()
	id := newService(t)

	_, err := Client[Foo, Bar](id, ClientConfig{}).Build(context.Background())
	require.ErrorIs(t, err, ErrServiceNotFound)

	_, ok := defaultRegistry().lookup(KeyOf[Foo, Bar](id))
	assert.False(t, ok)
	assert.Empty(t, defaultRegistry().signatures(id))
}

func TestClientWrongSignatureIsNotFound(t *testing.T) {
	t.Parallel()
	id := newService(t)
	ln, err := Server[Foo, Bar](id).Build()
	require.NoError(t, err)
	defer ln.Close()

	_, err = Client[Foo, Baz](id, ClientConfig{}).Build(context.Background())
	require.ErrorIs(t, err, ErrServiceNotFound)
}

func TestAttachTypeMismatch(t *testing.T) {
	client, server := NewPipe("Bar", "Foo")
	defer server.Close()

	_, err := Attach[Foo, Bar](client)
	require.ErrorIs(t, err, ErrTypeMismatch)
	var tm *TypeMismatchError
	require.True(t, errors.As(err, &tm))
	assert.Equal(t, "Foo", tm.Expected)
	assert.Equal(t, "Bar", tm.Got)

	// the rejected endpoint is torn down, so the peer sees it go away
	_, err = server.Recv(context.Background())
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestAttachChecksEveryHalf(t *testing.T) {
	client, _ := NewPipe("Foo", "Bar")
	sh := share(client)

	_, err := newTx[Bar](sh)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	_, err = newRx[Foo](sh)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	tx, err := newTx[Foo](sh)
	require.NoError(t, err)
	rx, err := newRx[Bar](sh)
	require.NoError(t, err)
	require.NoError(t, tx.Close())
	require.NoError(t, rx.Close())
}

func TestRecvDowncastFailure(t *testing.T) {
	client, server := NewPipe("Foo", "Bar")
	conn, err := Attach[Foo, Bar](client)
	require.NoError(t, err)
	defer conn.Close()

	// an unrelated value smuggled through the erased side
	require.NoError(t, server.Send(context.Background(), Baz{Name: "x"}))
	_, err = conn.Recv(context.Background())
	require.ErrorIs(t, err, ErrTypeMismatch)
	var tm *TypeMismatchError
	require.True(t, errors.As(err, &tm))
	assert.Equal(t, "Baz", tm.Got)
}

func TestFIFOOrdering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	id := newService(t)
	ln, err := Server[Foo, Bar](id).Build()
	require.NoError(t, err)
	defer ln.Close()

	conn, err := Client[Foo, Bar](id, DefaultClientConfig()).Build(ctx)
	require.NoError(t, err)
	srv, err := ln.Accept(ctx)
	require.NoError(t, err)

	const n = 1000
	for i := 0; i < n; i++ {
		require.NoError(t, conn.Send(ctx, Foo{Some: int32(i)}))
	}
	for i := 0; i < n; i++ {
		got, err := srv.Recv(ctx)
		require.NoError(t, err)
		require.Equal(t, int32(i), got.Some)
	}
}

func TestClosedPeerDetection(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, server := NewPipe("Foo", "Bar")
	conn, err := Attach[Foo, Bar](client)
	require.NoError(t, err)

	require.NoError(t, server.Send(ctx, Bar{Some: 1}))

	pending := make(chan error, 1)
	go func() {
		if _, err := conn.Recv(ctx); err != nil {
			pending <- err
			return
		}
		_, err := conn.Recv(ctx)
		pending <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, server.Close())
	require.ErrorIs(t, <-pending, ErrChannelClosed)

	_, err = conn.Recv(ctx)
	require.ErrorIs(t, err, ErrChannelClosed)
}

func TestSendToClosedPeer(t *testing.T) {
	ctx := context.Background()
	client, server := NewPipe("Foo", "Bar")
	conn, err := Attach[Foo, Bar](client)
	require.NoError(t, err)
	require.NoError(t, server.Close())

	require.ErrorIs(t, conn.Send(ctx, Foo{Some: 1}), ErrChannelClosed)
}

func TestDropStrategySuppressesDeliveryFailures(t *testing.T) {
	ctx := context.Background()
	id := newService(t)
	ln, err := Server[Foo, Bar](id).Build()
	require.NoError(t, err)
	defer ln.Close()

	conn, err := Client[Foo, Bar](id, ClientConfig{ErrorStrategy: Drop}).Build(ctx)
	require.NoError(t, err)
	srv, err := ln.Accept(ctx)
	require.NoError(t, err)
	require.NoError(t, srv.Close())

	assert.NoError(t, conn.Send(ctx, Foo{Some: 1}))
	_, err = conn.Recv(ctx)
	assert.ErrorIs(t, err, ErrChannelClosed, "drop only applies to sends")

	strict, err := Client[Foo, Bar](id, ClientConfig{}).Build(ctx)
	require.NoError(t, err)
	srv, err = ln.Accept(ctx)
	require.NoError(t, err)
	require.NoError(t, srv.Close())
	assert.ErrorIs(t, strict.Send(ctx, Foo{Some: 1}), ErrChannelClosed)
}

func TestDuplicateRegistration(t *testing.T) {
	t.Parallel()
	id := newService(t)
	ln, err := Server[Foo, Bar](id).Build()
	require.NoError(t, err)

	_, err = Server[Foo, Bar](id).Build()
	require.ErrorIs(t, err, ErrAlreadyRegistered)

	// another signature under the same id is a different key
	other, err := Server[Foo, Baz](id).Build()
	require.NoError(t, err)
	defer other.Close()

	require.NoError(t, ln.Close())
	again, err := Server[Foo, Bar](id).Build()
	require.NoError(t, err)
	defer again.Close()

	conn, err := Client[Foo, Bar](id, ClientConfig{}).Build(context.Background())
	require.NoError(t, err)
	defer conn.Close()
	srv, err := again.Accept(context.Background())
	require.NoError(t, err)
	defer srv.Close()
}

func TestListenerClosed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	id := newService(t)
	ln, err := Server[Foo, Bar](id).Build()
	require.NoError(t, err)

	queued, err := Client[Foo, Bar](id, ClientConfig{}).Build(ctx)
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	_, err = Client[Foo, Bar](id, ClientConfig{}).Build(ctx)
	require.ErrorIs(t, err, ErrListenerClosed)

	_, err = ln.Accept(ctx)
	require.ErrorIs(t, err, ErrListenerClosed)

	// the client that was never accepted learns it
	_, err = queued.Recv(ctx)
	require.ErrorIs(t, err, ErrChannelClosed)
}

func TestAcceptHonoursContext(t *testing.T) {
	t.Parallel()
	id := newService(t)
	ln, err := Server[Foo, Bar](id).Build()
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = ln.Accept(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// the listener keeps working after an abandoned accept
	conn, err := Client[Foo, Bar](id, ClientConfig{}).Build(context.Background())
	require.NoError(t, err)
	defer conn.Close()
	srv, err := ln.Accept(context.Background())
	require.NoError(t, err)
	defer srv.Close()
}

func TestSplitHalvesShareEndpoint(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, server := NewPipe("Foo", "Bar")
	conn, err := Attach[Foo, Bar](client)
	require.NoError(t, err)
	tx, rx := conn.Split()

	require.NoError(t, tx.Close())
	require.NoError(t, tx.Close())
	assert.ErrorIs(t, tx.Send(ctx, Foo{}), ErrChannelClosed)

	// rx still holds the endpoint open
	require.NoError(t, server.Send(ctx, Bar{Some: 7}))
	got, err := rx.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(7), got.Some)

	require.NoError(t, rx.Close())
	_, err = server.Recv(ctx)
	assert.ErrorIs(t, err, ErrChannelClosed)
	assert.ErrorIs(t, server.Send(ctx, Bar{}), ErrChannelClosed)
}

func TestSplitHalvesAcrossGoroutines(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id := newService(t)
	ln, err := Server[Foo, Bar](id).Build()
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		srv, err := ln.Accept(ctx)
		if err != nil {
			return
		}
		defer srv.Close()
		for {
			req, err := srv.Recv(ctx)
			if err != nil {
				return
			}
			if err := srv.Send(ctx, Bar{Some: req.Some * 2}); err != nil {
				return
			}
		}
	}()

	conn, err := Client[Foo, Bar](id, ClientConfig{}).Build(ctx)
	require.NoError(t, err)
	tx, rx := conn.Split()
	defer tx.Close()
	defer rx.Close()

	const n = 200
	go func() {
		for i := 1; i <= n; i++ {
			_ = tx.Send(ctx, Foo{Some: int32(i)})
		}
	}()
	for i := 1; i <= n; i++ {
		got, err := rx.Recv(ctx)
		require.NoError(t, err)
		require.Equal(t, int32(2*i), got.Some)
	}
}

func TestConcurrentClients(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id := newService(t)
	ln, err := Server[Foo, Bar](id).Build()
	require.NoError(t, err)
	defer ln.Close()

	const clients = 32
	go func() {
		for i := 0; i < clients; i++ {
			srv, err := ln.Accept(ctx)
			if err != nil {
				return
			}
			go func() {
				defer srv.Close()
				req, err := srv.Recv(ctx)
				if err != nil {
					return
				}
				_ = srv.Send(ctx, Bar{Some: req.Some + 1})
			}()
		}
	}()

	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int32) {
			defer wg.Done()
			conn, err := Client[Foo, Bar](id, ClientConfig{}).Build(ctx)
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()
			if err := conn.Send(ctx, Foo{Some: i}); err != nil {
				errs <- err
				return
			}
			got, err := conn.Recv(ctx)
			if err != nil {
				errs <- err
				return
			}
			if got.Some != i+1 {
				errs <- errors.New("reply routed to the wrong client")
			}
		}(int32(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestServicesListsOpenListeners(t *testing.T) {
	id := newService(t)
	ln, err := Server[Foo, Bar](id).Build()
	require.NoError(t, err)
	assert.Contains(t, Services(), KeyOf[Foo, Bar](id))
	require.NoError(t, ln.Close())
	assert.NotContains(t, Services(), KeyOf[Foo, Bar](id))
}

func TestServiceIDFromNameIsStable(t *testing.T) {
	a := ServiceIDFromName("kv")
	assert.Equal(t, a, ServiceIDFromName("kv"))
	assert.NotEqual(t, a, ServiceIDFromName("gameserver"))

	key := KeyOf[Foo, Bar](a)
	assert.Equal(t, key.Digest(), KeyOf[Foo, Bar](a).Digest())
	assert.Len(t, key.Digest(), 16)
	assert.NotEqual(t, key.Digest(), KeyOf[Bar, Foo](a).Digest())
}

func TestClientConfigDefaults(t *testing.T) {
	b := Client[Foo, Bar](newService(t), ClientConfig{})
	cfg := b.Config()
	assert.Equal(t, DefaultRetryTries, cfg.RetryTries)
	assert.Equal(t, ThrowError, cfg.ErrorStrategy)
	assert.Equal(t, Reliable, cfg.Guarantees)

	s, err := ParseErrorStrategy("Drop")
	require.NoError(t, err)
	assert.Equal(t, Drop, s)
	_, err = ParseErrorStrategy("explode")
	assert.Error(t, err)
	g, err := ParseGuarantees("unreliable")
	require.NoError(t, err)
	assert.Equal(t, Unreliable, g)
}

func TestDropKeepsCallerCancellation(t *testing.T) {
	tx := &Tx[Foo]{drop: true}
	assert.NoError(t, tx.failed(ErrChannelClosed))
	assert.NoError(t, tx.failed(fmt.Errorf("%w: reset", ErrChannelBroken)))

	err := tx.failed(fmt.Errorf("%w: %w", ErrChannelBroken, context.Canceled))
	assert.ErrorIs(t, err, context.Canceled)
	err = tx.failed(fmt.Errorf("%w: %w", ErrChannelBroken, context.DeadlineExceeded))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, tx.failed(ErrSerialization), ErrSerialization)
}
