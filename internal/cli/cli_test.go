package cli

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MichaAI/multidustry/internal/daemon"
	"github.com/MichaAI/multidustry/internal/kv"
	"github.com/MichaAI/multidustry/internal/quicnet"
	"github.com/MichaAI/multidustry/internal/wire"
	"github.com/MichaAI/multidustry/pkg/transport"
)

// startTestNode runs a node with a memory store on a loopback QUIC port and
// isolates config lookups from the developer's machine.
func startTestNode(t *testing.T) (addr string, store kv.Store) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("MULTIDUSTRY_TRANSPORT_INSECURE_SKIP_VERIFY", "true")
	t.Setenv("MULTIDUSTRY_LOG_LEVEL", "error")

	store = kv.NewMemory()
	_, err := kv.InitDefaults(context.Background(), store)
	require.NoError(t, err)
	app := &wire.App{Cfg: viper.New(), Log: zap.NewNop(), Store: store}

	srvTLS, err := quicnet.SelfSignedTLS()
	require.NoError(t, err)
	qs, err := transport.ListenQUIC("127.0.0.1:0", srvTLS, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- daemon.Serve(ctx, app, daemon.Listeners{QUIC: qs}) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("node did not stop")
		}
	})
	return qs.Addr().String(), store
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestKVCommands(t *testing.T) {
	addr, store := startTestNode(t)

	out, err := run(t, "", "kv", "get", "config/server_name", "--addr", addr)
	require.NoError(t, err)
	assert.Equal(t, "Multidustry\n", out)

	_, err = run(t, "", "kv", "set", "config/player_limit", "32", "--addr", addr)
	require.NoError(t, err)
	assert.Equal(t, "32", kv.GetString(context.Background(), store, "config/player_limit"))

	_, err = run(t, "piped description", "kv", "set", "config/description", "--addr", addr)
	require.NoError(t, err)
	assert.Equal(t, "piped description", kv.GetString(context.Background(), store, "config/description"))

	out, err = run(t, "", "kv", "list", "stats/", "--addr", addr)
	require.NoError(t, err)
	assert.Equal(t, "stats/total_players\n", out)

	_, err = run(t, "", "kv", "delete", "config/player_limit", "--addr", addr)
	require.NoError(t, err)
	_, err = store.Get(context.Background(), "config/player_limit")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestKVGetSuggestsKeys(t *testing.T) {
	addr, _ := startTestNode(t)
	_, err := run(t, "", "kv", "get", "config/server_nam", "--addr", addr)
	require.ErrorIs(t, err, kv.ErrNotFound)
	assert.Contains(t, err.Error(), "did you mean config/server_name")
}

func TestPing(t *testing.T) {
	addr, _ := startTestNode(t)
	out, err := run(t, "", "ping", addr, "-c", "2")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "pong in "))
}

func TestConfigGenerateAndCheck(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")

	out, err := run(t, "", "config", "generate", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	_, err = run(t, "", "config", "generate", "-o", path)
	assert.ErrorContains(t, err, "already exists")

	out, err = run(t, "", "config", "generate", "-o", path, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "already up to date")

	out, err = run(t, "", "--config", path, "config", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "Config OK ("+path+")")

	require.NoError(t, os.WriteFile(path, []byte("[client]\nretry_tries = 0\n"), 0o600))
	_, err = run(t, "", "--config", path, "config", "check")
	assert.ErrorContains(t, err, "client.retry_tries must be greater than 0")
}

func TestCompletion(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	out, err := run(t, "", "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "multidustry")

	_, err = run(t, "", "completion", "tcsh")
	assert.Error(t, err)
}

func TestNodeAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:4242", nodeAddr("0.0.0.0:4242", ""))
	assert.Equal(t, "127.0.0.1:4242", nodeAddr(":4242", ""))
	assert.Equal(t, "10.0.0.2:9000", nodeAddr("0.0.0.0:4242", "10.0.0.2:9000"))
	assert.Equal(t, net.JoinHostPort("::1", "1"), nodeAddr("[::1]:1", ""))
}
