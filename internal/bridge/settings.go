package bridge

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/implindex/internal/config"
)

// Bridge defaults. Fragments are small, but a workspace-wide rustdoc
// fragment for a popular trait can run to a few megabytes.
const (
	DefaultHost               = "127.0.0.1"
	DefaultPort               = 8766
	DefaultMaxBodyBytes int64 = 4 << 20
	DefaultCacheTTL           = 5 * time.Minute

	ioTimeout   = 15 * time.Second
	idleTimeout = time.Minute
)

// Settings is the resolved bridge configuration.
type Settings struct {
	Enabled      bool
	Host         string
	Port         int
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// CacheTTL bounds how long a rendered index response is reused. Entries
	// are keyed by revision, so the TTL only limits memory.
	CacheTTL time.Duration
}

// DefaultSettings is a loopback bridge with the package defaults.
func DefaultSettings() Settings {
	return Settings{
		Enabled:      true,
		Host:         DefaultHost,
		Port:         DefaultPort,
		MaxBodyBytes: DefaultMaxBodyBytes,
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
		IdleTimeout:  idleTimeout,
		CacheTTL:     DefaultCacheTTL,
	}
}

// SettingsFromConfig layers the project's bridge block and then the
// IMPLINDEX_BRIDGE_* variables over the defaults.
func SettingsFromConfig(cfg *config.Config) Settings {
	s := DefaultSettings()
	if cfg != nil {
		s.merge(cfg.Project.Bridge)
	}
	s.overrideFrom(os.LookupEnv)
	s.clamp()
	return s
}

func (s *Settings) merge(b config.BridgeConfig) {
	if b.Enabled != nil {
		s.Enabled = *b.Enabled
	}
	if b.Host != "" {
		s.Host = b.Host
	}
	if b.Port != 0 {
		s.Port = b.Port
	}
	if b.MaxBodyKB > 0 {
		s.MaxBodyBytes = int64(b.MaxBodyKB) << 10
	}
	if ttl, err := time.ParseDuration(b.CacheTTL); err == nil {
		s.CacheTTL = ttl
	}
}

// envOverrides maps each variable to the setter that applies it. Values that
// do not parse are ignored.
var envOverrides = []struct {
	name  string
	apply func(*Settings, string)
}{
	{"IMPLINDEX_BRIDGE_ENABLED", func(s *Settings, v string) {
		if b, err := strconv.ParseBool(v); err == nil {
			s.Enabled = b
		}
	}},
	{"IMPLINDEX_BRIDGE_ADDR", func(s *Settings, v string) {
		host, port, err := net.SplitHostPort(v)
		if err != nil {
			return
		}
		if p, err := strconv.Atoi(port); err == nil {
			s.Host, s.Port = host, p
		}
	}},
	{"IMPLINDEX_BRIDGE_HOST", func(s *Settings, v string) { s.Host = v }},
	{"IMPLINDEX_BRIDGE_PORT", func(s *Settings, v string) {
		if p, err := strconv.Atoi(v); err == nil {
			s.Port = p
		}
	}},
	{"IMPLINDEX_BRIDGE_MAX_BODY_KB", func(s *Settings, v string) {
		if kb, err := strconv.ParseInt(v, 10, 64); err == nil && kb > 0 {
			s.MaxBodyBytes = kb << 10
		}
	}},
	{"IMPLINDEX_BRIDGE_CACHE_TTL", func(s *Settings, v string) {
		if ttl, err := time.ParseDuration(v); err == nil {
			s.CacheTTL = ttl
		}
	}},
}

func (s *Settings) overrideFrom(lookup func(string) (string, bool)) {
	for _, o := range envOverrides {
		if v, ok := lookup(o.name); ok {
			if v = strings.TrimSpace(v); v != "" {
				o.apply(s, v)
			}
		}
	}
}

// clamp replaces anything unusable with its default.
func (s *Settings) clamp() {
	def := DefaultSettings()
	if s.Host = strings.TrimSpace(s.Host); s.Host == "" {
		s.Host = def.Host
	}
	if s.Port <= 0 || s.Port > 65535 {
		s.Port = def.Port
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = def.MaxBodyBytes
	}
	for _, d := range []struct{ got, def *time.Duration }{
		{&s.ReadTimeout, &def.ReadTimeout},
		{&s.WriteTimeout, &def.WriteTimeout},
		{&s.IdleTimeout, &def.IdleTimeout},
		{&s.CacheTTL, &def.CacheTTL},
	} {
		if *d.got <= 0 {
			*d.got = *d.def
		}
	}
}

// Address is the host:port the server binds.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL is the base URL clients use.
func (s Settings) URL() string {
	return "http://" + s.Address()
}
