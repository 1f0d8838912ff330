package kvsvc

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MichaAI/multidustry/internal/kv"
	"github.com/MichaAI/multidustry/pkg/transport"
)

// Listen registers the kv service listener in this process.
func Listen() (*transport.Listener[Request, Response], error) {
	return transport.Server[Request, Response](ServiceID).Build()
}

// Serve answers requests on every connection ln accepts until ctx is done or
// ln is closed. Each connection is served by its own goroutine, one request
// at a time and in order.
func Serve(ctx context.Context, ln *transport.Listener[Request, Response], store kv.Store, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("kvsvc")
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrListenerClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		go serveConn(ctx, conn, store, log)
	}
}

func serveConn(ctx context.Context, conn *transport.Connection[Response, Request], store kv.Store, log *zap.Logger) {
	defer conn.Close()
	for {
		req, err := conn.Recv(ctx)
		if err != nil {
			if !errors.Is(err, transport.ErrChannelClosed) && ctx.Err() == nil {
				log.Warn("recv failed", zap.Error(err))
			}
			return
		}
		if err := conn.Send(ctx, Handle(ctx, store, req)); err != nil {
			log.Debug("reply failed", zap.String("op", string(req.Op)), zap.Error(err))
			return
		}
	}
}

// Handle executes one request against store.
func Handle(ctx context.Context, store kv.Store, req Request) Response {
	switch req.Op {
	case OpPing:
		return Response{OK: true}
	case OpGet:
		v, err := store.Get(ctx, req.Key)
		if errors.Is(err, kv.ErrNotFound) {
			return Response{OK: true}
		}
		if err != nil {
			return failure(err)
		}
		return Response{OK: true, Found: true, Value: v}
	case OpPut:
		if err := store.Put(ctx, req.Key, req.Value); err != nil {
			return failure(err)
		}
		return Response{OK: true}
	case OpDelete:
		if err := store.Delete(ctx, req.Key); err != nil {
			return failure(err)
		}
		return Response{OK: true}
	case OpList:
		keys, err := store.List(ctx, req.Prefix)
		if err != nil {
			return failure(err)
		}
		return Response{OK: true, Keys: keys}
	}
	return failure(fmt.Errorf("unknown op %q", req.Op))
}

func failure(err error) Response {
	return Response{Error: err.Error()}
}
