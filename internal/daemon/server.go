// Package daemon runs the long-lived node: the kv service, the QUIC acceptor
// that exposes registered services to the network, the HTTP facade and the
// LAN discovery responder.
package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MichaAI/multidustry/internal/apiserver"
	"github.com/MichaAI/multidustry/internal/config"
	"github.com/MichaAI/multidustry/internal/discovery"
	"github.com/MichaAI/multidustry/internal/kvsvc"
	"github.com/MichaAI/multidustry/internal/quicnet"
	"github.com/MichaAI/multidustry/internal/wire"
	"github.com/MichaAI/multidustry/pkg/transport"
)

const shutdownTimeout = 5 * time.Second

// Listeners are the sockets a node serves on. Nil fields are skipped. A
// non-nil Challenge handler is served on :80 for ACME HTTP-01.
type Listeners struct {
	QUIC      *transport.QUICServer
	HTTP      net.Listener
	Discovery net.PacketConn
	Challenge http.Handler
}

func (l Listeners) close() {
	if l.QUIC != nil {
		_ = l.QUIC.Close()
	}
	if l.HTTP != nil {
		_ = l.HTTP.Close()
	}
	if l.Discovery != nil {
		_ = l.Discovery.Close()
	}
}

// Run binds the addresses from app.Cfg and serves until ctx is done.
func Run(ctx context.Context, app *wire.App) error {
	var l Listeners
	if addr := strings.TrimSpace(app.Cfg.GetString("transport.addr")); addr != "" {
		tlsConf, challenge, err := quicnet.ServerTLS(ctx, app.Cfg)
		if err != nil {
			return err
		}
		l.Challenge = challenge
		if l.QUIC, err = transport.ListenQUIC(addr, tlsConf, nil); err != nil {
			return err
		}
	}
	if addr := strings.TrimSpace(app.Cfg.GetString("http_addr")); addr != "" {
		var err error
		if l.HTTP, err = net.Listen("tcp", addr); err != nil {
			l.close()
			return err
		}
	}
	if addr := strings.TrimSpace(app.Cfg.GetString("discovery.addr")); addr != "" {
		var err error
		if l.Discovery, err = net.ListenPacket("udp", addr); err != nil {
			l.close()
			return err
		}
	}
	return Serve(ctx, app, l)
}

// Serve runs on already bound listeners and owns them: they are closed when
// Serve returns, early failures included.
func Serve(ctx context.Context, app *wire.App, l Listeners) error {
	defer l.close()
	log := app.Log.Named("daemon")
	ln, err := kvsvc.Listen()
	if err != nil {
		return err
	}
	defer ln.Close()

	// The HTTP facade and discovery share one in-process client.
	var local *kvsvc.Client
	if l.HTTP != nil || l.Discovery != nil {
		local, err = kvsvc.Connect(ctx, config.ClientConfig(app.Cfg))
		if err != nil {
			return err
		}
		defer local.Close()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return kvsvc.Serve(ctx, ln, app.Store, app.Log)
	})
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})

	if l.QUIC != nil {
		log.Info("quic acceptor listening", zap.Stringer("addr", l.QUIC.Addr()))
		g.Go(func() error { return l.QUIC.Serve(ctx) })
	}
	if l.HTTP != nil {
		srv := &http.Server{
			Handler:           apiserver.New(app.Cfg, local, app.Log).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		log.Info("http facade listening", zap.Stringer("addr", l.HTTP.Addr()))
		g.Go(func() error { return serveHTTP(ctx, srv, l.HTTP) })
	}
	if l.Discovery != nil {
		log.Info("discovery listening", zap.Stringer("addr", l.Discovery.LocalAddr()))
		g.Go(func() error { return discovery.NewResponder(l.Discovery, local, app.Log).Serve(ctx) })
	}
	if l.Challenge != nil {
		srv := &http.Server{Addr: ":80", Handler: l.Challenge, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			cl, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			return serveHTTP(ctx, srv, cl)
		})
	}

	for _, k := range transport.Services() {
		log.Info("service registered", zap.Stringer("key", k), zap.String("digest", k.Digest()))
	}
	return g.Wait()
}

func serveHTTP(ctx context.Context, srv *http.Server, l net.Listener) error {
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
