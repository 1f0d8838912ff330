package discovery

import (
	"context"
	"errors"
	"net"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MichaAI/multidustry/internal/kv"
)

const (
	pingByte  = 0xFE
	maxPacket = 1024
)

// Responder answers pings arriving on one UDP socket.
type Responder struct {
	conn  net.PacketConn
	store kv.Store
	port  int16
	log   *zap.Logger
}

// NewResponder serves pings on conn with settings read from store on every
// request. The advertised port is the one conn is bound to.
func NewResponder(conn net.PacketConn, store kv.Store, log *zap.Logger) *Responder {
	if log == nil {
		log = zap.NewNop()
	}
	var port int16
	if a, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		port = int16(a.Port)
	}
	return &Responder{conn: conn, store: store, port: port, log: log.Named("discovery")}
}

// Serve answers pings until ctx is done or the socket is closed. At most one
// answer per CPU is in flight; further reads wait for a free slot.
func (r *Responder) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = r.conn.Close() })
	defer stop()

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	defer func() { _ = g.Wait() }()

	for {
		buf := make([]byte, maxPacket)
		n, addr, err := r.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if n == 0 || buf[0] != pingByte {
			continue
		}
		g.Go(func() error {
			r.answer(ctx, addr)
			return nil
		})
	}
}

func (r *Responder) answer(ctx context.Context, addr net.Addr) {
	b, _ := LoadInfo(ctx, r.store, r.port).MarshalBinary()
	if _, err := r.conn.WriteTo(b, addr); err != nil {
		r.log.Debug("discovery reply failed", zap.Stringer("remote", addr), zap.Error(err))
	}
}
