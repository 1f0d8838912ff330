package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// natsMaxHistory is the most revisions JetStream keeps per key.
const natsMaxHistory = 64

// NATSConfig configures the JetStream key-value backend.
type NATSConfig struct {
	URL     string
	Conn    *nats.Conn // used instead of URL when set; not closed by the store
	Bucket  string
	History int
	Log     *zap.Logger
}

// natsStore keeps a read cache of looked-up keys. A watch on the whole bucket
// evicts entries whenever any replica changes them.
type natsStore struct {
	conn    *nats.Conn
	ownConn bool
	kv      jetstream.KeyValue
	watcher jetstream.KeyWatcher
	log     *zap.Logger
	closed  atomic.Bool

	mu    sync.RWMutex
	cache map[string][]byte
	gen   uint64 // bumped on every invalidation
	stop  chan struct{}
}

// OpenNATS connects to the bucket, creating it if needed.
func OpenNATS(ctx context.Context, cfg NATSConfig) (Store, error) {
	if cfg.Bucket == "" {
		cfg.Bucket = "multidustry"
	}
	if cfg.History <= 0 {
		cfg.History = 1
	}
	if cfg.History > natsMaxHistory {
		return nil, fmt.Errorf("nats history %d exceeds the JetStream limit of %d", cfg.History, natsMaxHistory)
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}

	conn, own := cfg.Conn, false
	if conn == nil {
		var err error
		conn, err = nats.Connect(cfg.URL, nats.Name("multidustry-kv"))
		if err != nil {
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		own = true
	}
	fail := func(err error) (Store, error) {
		if own {
			conn.Close()
		}
		return nil, err
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return fail(fmt.Errorf("jetstream: %w", err))
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	kv, err := js.CreateOrUpdateKeyValue(cctx, jetstream.KeyValueConfig{
		Bucket:  cfg.Bucket,
		History: uint8(cfg.History),
	})
	if err != nil {
		return fail(fmt.Errorf("create kv bucket: %w", err))
	}
	w, err := kv.WatchAll(context.Background(), jetstream.UpdatesOnly())
	if err != nil {
		return fail(fmt.Errorf("kv watch: %w", err))
	}

	s := &natsStore{
		conn:    conn,
		ownConn: own,
		kv:      kv,
		watcher: w,
		log:     cfg.Log,
		cache:   make(map[string][]byte),
		stop:    make(chan struct{}),
	}
	go s.invalidate()
	return s, nil
}

func (s *natsStore) invalidate() {
	updates := s.watcher.Updates()
	for {
		select {
		case <-s.stop:
			return
		case entry, ok := <-updates:
			if !ok {
				return
			}
			if entry == nil {
				continue
			}
			s.forget(entry.Key())
			s.log.Debug("cache invalidated", zap.String("key", entry.Key()), zap.String("op", entry.Operation().String()))
		}
	}
}

func (s *natsStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := ValidateKey(key); err != nil {
		// such a key can never have been stored
		return nil, ErrNotFound
	}
	s.mu.RLock()
	v, ok := s.cache[key]
	gen := s.gen
	s.mu.RUnlock()
	if ok {
		return append([]byte(nil), v...), nil
	}

	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get: %w", err)
	}
	v = entry.Value()
	s.mu.Lock()
	// skip caching if the key may have changed while we were fetching it
	if s.gen == gen {
		s.cache[key] = v
	}
	s.mu.Unlock()
	return append([]byte(nil), v...), nil
}

func (s *natsStore) Put(ctx context.Context, key string, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	if _, err := s.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("kv put: %w", err)
	}
	s.forget(key)
	return nil
}

func (s *natsStore) Delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if ValidateKey(key) != nil {
		return nil
	}
	if err := s.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv delete: %w", err)
	}
	s.forget(key)
	return nil
}

func (s *natsStore) List(ctx context.Context, prefix string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	lister, err := s.kv.ListKeys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv list keys: %w", err)
	}
	defer lister.Stop()
	out := []string{}
	for k := range lister.Keys() {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *natsStore) forget(key string) {
	s.mu.Lock()
	delete(s.cache, key)
	s.gen++
	s.mu.Unlock()
}

func (s *natsStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.stop)
	err := s.watcher.Stop()
	if s.ownConn {
		s.conn.Close()
	}
	return err
}
