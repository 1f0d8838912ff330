package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/MichaAI/multidustry/internal/config"
	"github.com/MichaAI/multidustry/internal/kv"
	"github.com/MichaAI/multidustry/internal/kvsvc"
	"github.com/MichaAI/multidustry/internal/quicnet"
)

const maxSuggestions = 3

func newKVCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "kv",
		Short: "Read and change cluster settings on a running node",
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", "", "node QUIC address (defaults to transport.addr)")

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored at key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialKV(cmd, addr)
			if err != nil {
				return err
			}
			defer c.Close()
			v, err := c.Get(cmd.Context(), args[0])
			if errors.Is(err, kv.ErrNotFound) {
				return notFound(cmd.Context(), c, args[0])
			}
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(v))
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <key> [value]",
		Short: "Store a value; without one it is read from piped stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value []byte
			if len(args) == 2 {
				value = []byte(args[1])
			} else {
				b, err := readPiped(cmd.InOrStdin())
				if err != nil {
					return err
				}
				value = b
			}
			c, err := dialKV(cmd, addr)
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.Put(cmd.Context(), args[0], value); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ok %s\n", args[0])
			return nil
		},
	}

	del := &cobra.Command{
		Use:     "delete <key>",
		Aliases: []string{"rm"},
		Short:   "Remove key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialKV(cmd, addr)
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Delete(cmd.Context(), args[0])
		},
	}

	list := &cobra.Command{
		Use:     "list [prefix]",
		Aliases: []string{"ls"},
		Short:   "List keys, optionally under a prefix",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			c, err := dialKV(cmd, addr)
			if err != nil {
				return err
			}
			defer c.Close()
			keys, err := c.List(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			for _, k := range keys {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}

	cmd.AddCommand(get, set, del, list)
	return cmd
}

func dialKV(cmd *cobra.Command, addr string) (*kvsvc.Client, error) {
	e := getEnv(cmd)
	return kvsvc.Dial(cmd.Context(), nodeAddr(e.cfg.GetString("transport.addr"), addr), quicnet.ClientTLS(e.cfg), config.ClientConfig(e.cfg))
}

// nodeAddr prefers the flag and turns a wildcard bind address into loopback.
func nodeAddr(configured, flag string) string {
	addr := configured
	if flag != "" {
		addr = flag
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

// readPiped refuses to block on an interactive terminal.
func readPiped(in io.Reader) ([]byte, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return nil, errors.New("no value given and stdin is a terminal")
	}
	return io.ReadAll(in)
}

func notFound(ctx context.Context, c *kvsvc.Client, key string) error {
	err := fmt.Errorf("%s: %w", key, kv.ErrNotFound)
	keys, lerr := c.List(ctx, "")
	if lerr != nil || len(keys) == 0 {
		return err
	}
	matches := fuzzy.Find(key, keys)
	if len(matches) == 0 {
		return err
	}
	var names []string
	for i, m := range matches {
		if i == maxSuggestions {
			break
		}
		names = append(names, m.Str)
	}
	return fmt.Errorf("%w (did you mean %s?)", err, strings.Join(names, ", "))
}
