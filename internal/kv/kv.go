// Package kv is the cluster key-value store: server settings under config/
// and counters under stats/. Values are opaque bytes.
package kv

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MichaAI/multidustry/internal/config"
)

// Store is implemented by every backend. List returns keys sorted.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

var (
	ErrNotFound   = errors.New("kv: key not found")
	ErrClosed     = errors.New("kv: store closed")
	ErrInvalidKey = errors.New("kv: invalid key")
)

const (
	BackendAuto   = "auto"
	BackendSQLite = "sqlite"
	BackendNATS   = "nats"
	BackendMemory = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	Path    string // sqlite file
	NatsURL string
	Bucket  string
	Log     *zap.Logger
}

// OptionsFromConfig reads the kv.* keys.
func OptionsFromConfig(v *viper.Viper, log *zap.Logger) Options {
	return Options{
		Backend: v.GetString("kv.backend"),
		Path:    config.ResolveDBPath(v),
		NatsURL: v.GetString("kv.nats_url"),
		Bucket:  v.GetString("kv.bucket"),
		Log:     log,
	}
}

// Open returns the backend named by opts.Backend. With "auto", a parseable
// NatsURL selects NATS and anything else falls back to sqlite.
func Open(ctx context.Context, opts Options) (Store, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("kv")

	backend := opts.Backend
	if backend == "" || backend == BackendAuto {
		backend = BackendSQLite
		if opts.NatsURL != "" {
			if u, err := url.Parse(opts.NatsURL); err == nil && u.Host != "" {
				backend = BackendNATS
			} else {
				log.Warn("failed to parse nats url, falling back to sqlite", zap.String("url", opts.NatsURL))
			}
		}
	}

	switch backend {
	case BackendMemory:
		log.Info("using memory kv backend")
		return NewMemory(), nil
	case BackendSQLite:
		path := opts.Path
		if path == "" {
			path = filepath.Join(".", "multidustry.db")
		}
		log.Info("using sqlite kv backend", zap.String("path", path))
		return OpenSQLite(ctx, path)
	case BackendNATS:
		log.Info("using nats kv backend", zap.String("url", opts.NatsURL), zap.String("bucket", opts.Bucket))
		return OpenNATS(ctx, NATSConfig{URL: opts.NatsURL, Bucket: opts.Bucket, Log: log})
	}
	return nil, fmt.Errorf("unknown kv backend %q", opts.Backend)
}

// ValidateKey rejects keys every backend cannot hold.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/"):
		return fmt.Errorf("%w: %q has a leading or trailing slash", ErrInvalidKey, key)
	}
	for _, r := range key {
		if !keyRune(r) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidKey, key, r)
		}
	}
	return nil
}

func keyRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("-_/=.", r)
}
