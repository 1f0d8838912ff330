package config

import "time"

type ConfigOption struct {
	Key     string
	Default any
	Comment string
}

// GetConfigOptions returns every known option with its default and meaning.
// It feeds both Viper defaults and the generated config file.
func GetConfigOptions() []ConfigOption {
	return []ConfigOption{
		{Key: "data_dir", Default: defaultDataDir(), Comment: "Directory for local state; the sqlite kv lives at data_dir/multidustry.db"},
		{Key: "http_addr", Default: "127.0.0.1:8080", Comment: "HTTP facade listen address; empty disables it"},

		{Key: "log.level", Default: "info", Comment: "debug, info, warn or error"},
		{Key: "log.format", Default: "console", Comment: "console or json"},

		{Key: "kv.backend", Default: "auto", Comment: "auto, sqlite, nats or memory; auto picks nats when kv.nats_url is set"},
		{Key: "kv.nats_url", Default: "", Comment: "NATS server URL for the nats backend"},
		{Key: "kv.bucket", Default: "multidustry", Comment: "JetStream key-value bucket name"},

		{Key: "api.token", Default: "", Comment: "Bearer token required by the HTTP facade; empty disables auth"},

		{Key: "transport.addr", Default: "0.0.0.0:4242", Comment: "UDP address the QUIC acceptor binds; empty disables it"},
		{Key: "transport.tls.mode", Default: "self_signed", Comment: "self_signed, file or acme"},
		{Key: "transport.tls.cert_file", Default: "", Comment: "PEM certificate for tls.mode=file"},
		{Key: "transport.tls.key_file", Default: "", Comment: "PEM private key for tls.mode=file"},
		{Key: "transport.tls.domain", Default: "", Comment: "Domain managed by certmagic for tls.mode=acme"},
		{Key: "transport.tls.email", Default: "", Comment: "ACME account email for tls.mode=acme"},
		{Key: "transport.insecure_skip_verify", Default: false, Comment: "Skip server certificate checks when dialing (self-signed peers)"},

		{Key: "discovery.addr", Default: "0.0.0.0:6567", Comment: "UDP address answering LAN server-list pings; empty disables it"},

		{Key: "client.timeout", Default: 5 * time.Second, Comment: "Per-attempt bound on dial plus handshake"},
		{Key: "client.retry_tries", Default: 3, Comment: "Dial attempts before giving up"},
		{Key: "client.error_strategy", Default: "throw", Comment: "throw or drop; drop swallows send failures on closed peers"},
		{Key: "client.guarantees", Default: "reliable", Comment: "reliable or unreliable"},

		{Key: "observ.enabled", Default: false, Comment: "Export traces over OTLP/HTTP"},
		{Key: "observ.endpoint", Default: "localhost:4318", Comment: "OTLP/HTTP collector host:port"},
		{Key: "observ.service_name", Default: "multidustry", Comment: "service.name resource attribute"},
	}
}
