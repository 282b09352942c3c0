// internal/config/config.go
//
// This package handles configuration and the .implindex directory structure.
// Every project indexed by implindex gets a .implindex/ folder in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Dir is the name of the directory we create in each project
	Dir = ".implindex"

	defaultFragmentsRoot = "doc"
	defaultOrder         = "sorted"
	defaultOpen          = "after"
	defaultWorkers       = 4
	defaultDebounceMS    = 200
)

const defaultProjectConfigYAML = `# implindex project configuration
version: 1

# Where fragment files live. rustdoc output keeps them under <root>/trait.impl/.
fragments:
  root: doc
  watch: false

# How fragments are handed to the index.
#   order: sorted | reverse | shuffle
#   open:  before | after | never | at:<n>
load:
  order: sorted
  seed: 0
  workers: 4
  open: after

bridge:
  enabled: true
  host: 127.0.0.1
  port: 8766
`

// FragmentsConfig locates fragment files.
type FragmentsConfig struct {
	Root       string `yaml:"root"`
	Watch      bool   `yaml:"watch"`
	DebounceMS int    `yaml:"debounce_ms,omitempty"`
}

// LoadConfig controls delivery order and when the index opens.
type LoadConfig struct {
	Order   string `yaml:"order"`
	Seed    int64  `yaml:"seed"`
	Workers int    `yaml:"workers"`
	Open    string `yaml:"open"`
}

// BridgeConfig captures HTTP bridge preferences.
type BridgeConfig struct {
	Enabled   *bool  `yaml:"enabled,omitempty"`
	Host      string `yaml:"host,omitempty"`
	Port      int    `yaml:"port,omitempty"`
	MaxBodyKB int    `yaml:"max_body_kb,omitempty"`
	CacheTTL  string `yaml:"cache_ttl,omitempty"`
}

// SnapshotConfig points at the persisted index snapshot.
type SnapshotConfig struct {
	Path string `yaml:"path,omitempty"`
}

// ProjectConfig models .implindex/config.yaml.
type ProjectConfig struct {
	Version   int             `yaml:"version"`
	Fragments FragmentsConfig `yaml:"fragments"`
	Load      LoadConfig      `yaml:"load"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Snapshot  SnapshotConfig  `yaml:"snapshot,omitempty"`
}

// Config holds the runtime configuration.
type Config struct {
	// ProjectDir is the directory implindex was pointed at
	ProjectDir string

	// StateDir is ProjectDir/.implindex
	StateDir string

	Project ProjectConfig
}

// InitDir creates the .implindex directory structure in projectDir.
//
// Structure created:
// .implindex/
// ├── config.yaml
// ├── logs/      <- implindex.log
// └── state/     <- handoff journal and snapshots
func InitDir(projectDir string) error {
	root := filepath.Join(projectDir, Dir)
	for _, dir := range []string{
		filepath.Join(root, "logs"),
		filepath.Join(root, "state"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(root, "config.yaml"))
}

// NewConfig creates a Config populated with project settings and environment
// overrides.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir: projectDir,
		StateDir:   filepath.Join(projectDir, Dir),
		Project:    defaultProjectConfig(),
	}
	cfg.Project.normalize(projectDir)
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.StateDir, "logs")
}

// StatePath returns the path to the state directory
func (c *Config) StatePath() string {
	return filepath.Join(c.StateDir, "state")
}

// JournalPath returns the handoff journal location.
func (c *Config) JournalPath() string {
	return filepath.Join(c.StatePath(), "handoffs.log")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.StateDir, "config.yaml")
}

// FragmentsRoot returns the absolute fragment root.
func (c *Config) FragmentsRoot() string {
	return c.Project.Fragments.Root
}

// SnapshotPath returns where the binary snapshot is written.
func (c *Config) SnapshotPath() string {
	if c.Project.Snapshot.Path != "" {
		return c.Project.Snapshot.Path
	}
	return filepath.Join(c.StatePath(), "index.snap")
}

// SetFragmentsRoot updates the fragment root and persists it to
// .implindex/config.yaml.
func (c *Config) SetFragmentsRoot(root string) error {
	root = strings.TrimSpace(root)
	if root == "" {
		return fmt.Errorf("config: fragments root is required")
	}
	c.Project.Fragments.Root = root
	return c.saveProjectConfig()
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize(c.ProjectDir)
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func (c *Config) applyEnvOverrides() {
	if root := strings.TrimSpace(os.Getenv("IMPLINDEX_FRAGMENTS_ROOT")); root != "" {
		c.Project.Fragments.Root = resolvePath(c.ProjectDir, root)
	}
	if value := strings.TrimSpace(os.Getenv("IMPLINDEX_LOAD_ORDER")); value != "" && validOrder(value) {
		c.Project.Load.Order = strings.ToLower(value)
	}
	if value := strings.TrimSpace(os.Getenv("IMPLINDEX_LOAD_SEED")); value != "" {
		if seed, err := strconv.ParseInt(value, 10, 64); err == nil {
			c.Project.Load.Seed = seed
		}
	}
}

func defaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{Version: 1}
	pc.applyDefaults()
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.Fragments.Root) == "" {
		pc.Fragments.Root = defaultFragmentsRoot
	}
	if pc.Fragments.DebounceMS <= 0 {
		pc.Fragments.DebounceMS = defaultDebounceMS
	}
	if strings.TrimSpace(pc.Load.Order) == "" {
		pc.Load.Order = defaultOrder
	}
	if strings.TrimSpace(pc.Load.Open) == "" {
		pc.Load.Open = defaultOpen
	}
	if pc.Load.Workers <= 0 {
		pc.Load.Workers = defaultWorkers
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.Fragments.Root = resolvePath(base, pc.Fragments.Root)
	pc.Load.Order = strings.ToLower(strings.TrimSpace(pc.Load.Order))
	pc.Load.Open = strings.ToLower(strings.TrimSpace(pc.Load.Open))
	pc.Bridge.Host = strings.TrimSpace(pc.Bridge.Host)
	pc.Bridge.CacheTTL = strings.TrimSpace(pc.Bridge.CacheTTL)
	pc.Snapshot.Path = resolvePath(base, pc.Snapshot.Path)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if !validOrder(pc.Load.Order) {
		return fmt.Errorf("load.order must be 'sorted', 'reverse' or 'shuffle'")
	}
	if !validOpen(pc.Load.Open) {
		return fmt.Errorf("load.open must be 'before', 'after', 'never' or 'at:<n>'")
	}
	if pc.Bridge.Port < 0 || pc.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port %d out of range", pc.Bridge.Port)
	}
	if pc.Bridge.MaxBodyKB < 0 {
		return fmt.Errorf("bridge.max_body_kb must not be negative")
	}
	if pc.Bridge.CacheTTL != "" {
		if ttl, err := time.ParseDuration(pc.Bridge.CacheTTL); err != nil || ttl <= 0 {
			return fmt.Errorf("bridge.cache_ttl %q is not a positive duration", pc.Bridge.CacheTTL)
		}
	}
	return nil
}

func validOrder(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "sorted", "reverse", "shuffle":
		return true
	}
	return false
}

func validOpen(value string) bool {
	switch value {
	case "before", "after", "never":
		return true
	}
	rest, ok := strings.CutPrefix(value, "at:")
	if !ok {
		return false
	}
	n, err := strconv.Atoi(rest)
	return err == nil && n >= 0
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}

func (c *Config) saveProjectConfig() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize(c.ProjectDir)
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.StateDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure state dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}
