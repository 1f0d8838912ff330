package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/MichaAI/multidustry/pkg/transport"
)

// CheckConfigValidity reports every problem found in v at once.
func CheckConfigValidity(v *viper.Viper) error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(v.GetString("data_dir")) == "" {
		add("data_dir is required")
	}
	if _, err := zapcore.ParseLevel(v.GetString("log.level")); err != nil {
		add("log.level %q is not a level", v.GetString("log.level"))
	}
	switch v.GetString("log.format") {
	case "console", "json":
	default:
		add("log.format must be console or json")
	}

	switch v.GetString("kv.backend") {
	case "auto", "memory", "sqlite":
	case "nats":
		if strings.TrimSpace(v.GetString("kv.nats_url")) == "" {
			add("kv.nats_url is required for the nats backend")
		}
	default:
		add("kv.backend must be auto, sqlite, nats or memory")
	}
	if raw := strings.TrimSpace(v.GetString("kv.nats_url")); raw != "" {
		if u, err := url.Parse(raw); err != nil || u.Host == "" {
			add("kv.nats_url has invalid url")
		}
	}
	if strings.TrimSpace(v.GetString("kv.bucket")) == "" {
		add("kv.bucket is required")
	}

	for _, k := range []string{"http_addr", "transport.addr", "discovery.addr"} {
		if addr := v.GetString(k); addr != "" {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				add("%s must be host:port", k)
			}
		}
	}

	switch v.GetString("transport.tls.mode") {
	case "self_signed":
	case "file":
		if v.GetString("transport.tls.cert_file") == "" || v.GetString("transport.tls.key_file") == "" {
			add("transport.tls.cert_file and transport.tls.key_file are required for tls.mode=file")
		}
	case "acme":
		if v.GetString("transport.tls.domain") == "" {
			add("transport.tls.domain is required for tls.mode=acme")
		}
	default:
		add("transport.tls.mode must be self_signed, file or acme")
	}

	if v.GetDuration("client.timeout") < 0 {
		add("client.timeout must not be negative")
	}
	if v.GetInt("client.retry_tries") <= 0 {
		add("client.retry_tries must be greater than 0")
	}
	if _, err := transport.ParseErrorStrategy(v.GetString("client.error_strategy")); err != nil {
		add("client.error_strategy: %v", err)
	}
	if _, err := transport.ParseGuarantees(v.GetString("client.guarantees")); err != nil {
		add("client.guarantees: %v", err)
	}

	if v.GetBool("observ.enabled") && strings.TrimSpace(v.GetString("observ.endpoint")) == "" {
		add("observ.endpoint is required when observ.enabled is set")
	}
	return errors.Join(errs...)
}

// ClientConfig builds the transport client settings from the client.* keys.
// Unparseable values fall back to the transport defaults; CheckConfigValidity
// reports them.
func ClientConfig(v *viper.Viper) transport.ClientConfig {
	cfg := transport.DefaultClientConfig()
	cfg.Timeout = v.GetDuration("client.timeout")
	if n := v.GetInt("client.retry_tries"); n > 0 {
		cfg.RetryTries = n
	}
	if s, err := transport.ParseErrorStrategy(v.GetString("client.error_strategy")); err == nil {
		cfg.ErrorStrategy = s
	}
	if g, err := transport.ParseGuarantees(v.GetString("client.guarantees")); err == nil {
		cfg.Guarantees = g
	}
	return cfg
}
