package netcode

import (
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-envparse"
	"github.com/rs/zerolog"
)

// CLIConfig holds the settings for a command-line netcode client host,
// as distinct from ClientConfig: ClientConfig tunes the protocol state
// machine itself and is meant to be built up in code, while CLIConfig is
// the thin, environment-driven layer a command wraps around it, in the
// style of atlas's own Config/UnmarshalEnv split.
type CLIConfig struct {
	// TokenFile is the path to a serialized connect token.
	TokenFile string `env:"NETCODE_TOKEN_FILE"`

	// Listen is the local address to bind the UDP socket to. If the port
	// is 0, a random one is chosen.
	Listen netip.AddrPort `env:"NETCODE_LISTEN=:0"`

	// TickRate is the interval between Client.Tick calls.
	TickRate time.Duration `env:"NETCODE_TICK_RATE=50ms"`

	// LogLevel is the minimum zerolog level to emit.
	LogLevel zerolog.Level `env:"NETCODE_LOG_LEVEL=info"`

	// MetricsAddr, if non-empty, is an address to serve
	// /metrics (Prometheus text exposition format) on.
	MetricsAddr string `env:"NETCODE_METRICS_ADDR"`

	// SessionLog, if non-empty, is a path to a SQLite database to record
	// session events to. See internal/sessionlog.
	SessionLog string `env:"NETCODE_SESSION_LOG"`
}

// DefaultCLIConfig returns a CLIConfig with every env default applied,
// as though no environment variables were set.
func DefaultCLIConfig() (*CLIConfig, error) {
	c := &CLIConfig{}
	if err := c.apply(nil); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadCLIConfigEnv parses env-file syntax (KEY=value per line, # comments)
// from r and layers it over the process environment and the documented
// defaults, mirroring the env-file conventions go-envparse and atlas's own
// config loading share.
func LoadCLIConfigEnv(r io.Reader) (*CLIConfig, error) {
	fileVars, err := envparse.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("netcode: parse env file: %w", err)
	}
	em := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := cut(kv, '='); ok {
			em[k] = v
		}
	}
	for k, v := range fileVars {
		em[k] = v
	}
	c := &CLIConfig{}
	if err := c.apply(em); err != nil {
		return nil, err
	}
	return c, nil
}

func cut(s string, sep byte) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

// apply sets every field from its env default, then overrides from em if
// the corresponding key is present and non-empty. em may be nil, in which
// case only defaults are applied.
func (c *CLIConfig) apply(em map[string]string) error {
	fields := []struct {
		key string
		def string
		set func(string) error
	}{
		{"NETCODE_TOKEN_FILE", "", func(v string) error { c.TokenFile = v; return nil }},
		{"NETCODE_LISTEN", ":0", func(v string) error {
			ap, err := parseListenAddr(v)
			if err != nil {
				return err
			}
			c.Listen = ap
			return nil
		}},
		{"NETCODE_TICK_RATE", "50ms", func(v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			c.TickRate = d
			return nil
		}},
		{"NETCODE_LOG_LEVEL", "info", func(v string) error {
			lvl, err := zerolog.ParseLevel(v)
			if err != nil {
				return err
			}
			c.LogLevel = lvl
			return nil
		}},
		{"NETCODE_METRICS_ADDR", "", func(v string) error { c.MetricsAddr = v; return nil }},
		{"NETCODE_SESSION_LOG", "", func(v string) error { c.SessionLog = v; return nil }},
	}
	for _, f := range fields {
		val := f.def
		if em != nil {
			if v, ok := em[f.key]; ok && v != "" {
				val = v
			}
		}
		if val == "" {
			continue
		}
		if err := f.set(val); err != nil {
			return fmt.Errorf("netcode: env %s: parse %q: %w", f.key, val, err)
		}
	}
	return nil
}

func parseListenAddr(v string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(v); err == nil {
		return ap, nil
	}
	if len(v) > 0 && v[0] == ':' {
		if port, err := strconv.ParseUint(v[1:], 10, 16); err == nil {
			return netip.AddrPortFrom(netip.IPv6Unspecified(), uint16(port)), nil
		}
	}
	return netip.AddrPort{}, fmt.Errorf("invalid listen address %q", v)
}
