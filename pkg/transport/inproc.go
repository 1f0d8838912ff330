package transport

import (
	"context"
	"sync"
)

// pipeEndpoint is one side of an in-process pair.
type pipeEndpoint struct {
	req, res string
	role     Role
	out      *queue
	in       *queue
	once     sync.Once
}

// NewPipe creates a connected client/server endpoint pair for the given
// request and response identities. Values sent on one side arrive on the other
// in order; the queues never apply backpressure.
func NewPipe(req, res string) (client, server Endpoint) {
	toServer := newQueue()
	toClient := newQueue()
	c := &pipeEndpoint{req: req, res: res, role: RoleClient, out: toServer, in: toClient}
	s := &pipeEndpoint{req: req, res: res, role: RoleServer, out: toClient, in: toServer}
	return c, s
}

func (p *pipeEndpoint) RequestType() string  { return p.req }
func (p *pipeEndpoint) ResponseType() string { return p.res }
func (p *pipeEndpoint) Role() Role           { return p.role }

func (p *pipeEndpoint) Send(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.out.push(v)
}

func (p *pipeEndpoint) Recv(ctx context.Context) (any, error) {
	return p.in.pop(ctx)
}

// Close stops both directions for this side. The peer can still drain values
// that were sent before Close.
func (p *pipeEndpoint) Close() error {
	p.once.Do(func() {
		p.out.closeSend()
		p.in.closeRecv()
	})
	return nil
}
