package kvsvc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MichaAI/multidustry/internal/kv"
	"github.com/MichaAI/multidustry/pkg/transport"
)

// ErrRemote wraps failures reported by the serving side.
var ErrRemote = errors.New("kvsvc: remote error")

// Client issues one request at a time over a single connection. It satisfies
// kv.Store, so remote state can be used wherever a local store is expected.
type Client struct {
	mu   sync.Mutex
	conn *transport.Connection[Request, Response]
}

// Connect reaches the kv service registered in this process.
func Connect(ctx context.Context, cfg transport.ClientConfig) (*Client, error) {
	conn, err := transport.Client[Request, Response](ServiceID, cfg).Build(ctx)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Dial reaches the kv service through the QUIC acceptor at addr.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config, cfg transport.ClientConfig) (*Client, error) {
	conn, err := transport.Client[Request, Response](ServiceID, cfg).Dial(ctx, addr, tlsConf)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) call(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.Send(ctx, req); err != nil {
		return Response{}, fmt.Errorf("%s: %w", req.Op, err)
	}
	res, err := c.conn.Recv(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("%s: %w", req.Op, err)
	}
	if !res.OK {
		return res, fmt.Errorf("%w: %s", ErrRemote, res.Error)
	}
	return res, nil
}

// Get returns kv.ErrNotFound when key is absent.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	res, err := c.call(ctx, Request{Op: OpGet, Key: key})
	if err != nil {
		return nil, err
	}
	if !res.Found {
		return nil, kv.ErrNotFound
	}
	if res.Value == nil {
		return []byte{}, nil
	}
	return res.Value, nil
}

func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	_, err := c.call(ctx, Request{Op: OpPut, Key: key, Value: value})
	return err
}

func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.call(ctx, Request{Op: OpDelete, Key: key})
	return err
}

func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	res, err := c.call(ctx, Request{Op: OpList, Prefix: prefix})
	if err != nil {
		return nil, err
	}
	if res.Keys == nil {
		return []string{}, nil
	}
	return res.Keys, nil
}

// Ping measures one request round trip.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := c.call(ctx, Request{Op: OpPing}); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

var _ kv.Store = (*Client)(nil)
