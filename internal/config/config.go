package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/modelgate/modelgate/internal/backends"
	"github.com/modelgate/modelgate/internal/balance"
	"github.com/modelgate/modelgate/internal/router"
)

const (
	DefaultPort           = 6970
	DefaultConfigFilename = "config.json"
	DefaultHost           = "127.0.0.1"
)

// BalancerConfig configures the weighted-random policy.
type BalancerConfig struct {
	Candidates  []balance.WeightedCandidate `json:"candidates,omitempty" yaml:"candidates,omitempty"`
	CooldownSec int                         `json:"cooldown_seconds,omitempty" yaml:"cooldown_seconds,omitempty"`
}

// FallbackConfig configures the round-robin-with-fallback policy.
type FallbackConfig struct {
	Main        []string `json:"main,omitempty" yaml:"main,omitempty"`
	Fallback    []string `json:"fallback,omitempty" yaml:"fallback,omitempty"`
	CooldownSec int      `json:"cooldown_seconds,omitempty" yaml:"cooldown_seconds,omitempty"`
}

type Config struct {
	Host     string            `json:"host,omitempty" yaml:"host,omitempty"`
	Port     int               `json:"port,omitempty" yaml:"port,omitempty"`
	APIKey   string            `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Backends []backends.Config `json:"backends" yaml:"backends"`
	Router   router.Config     `json:"router" yaml:"router"`
	Balancer BalancerConfig    `json:"balancer,omitempty" yaml:"balancer,omitempty"`
	Fallback FallbackConfig    `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// Manager loads and holds the active configuration behind an atomic
// snapshot, so handlers read a consistent view without locking.
type Manager struct {
	configPath  string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		configPath: filepath.Join(baseDir, DefaultConfigFilename),
	}
}

// NewManagerWithPath uses an explicit config file path; the extension
// selects the format (.yaml/.yml or .json).
func NewManagerWithPath(path string) *Manager {
	return &Manager{configPath: path}
}

func (m *Manager) Load() (*Config, error) {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if isYAMLPath(m.configPath) {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	// Set defaults
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}

	m.configValue.Store(&cfg)
	return &cfg, nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		// Return a config with defaults if loading fails
		return &Config{
			Host: DefaultHost,
			Port: DefaultPort,
		}
	}
	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var data []byte
	var err error
	if isYAMLPath(m.configPath) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

func (m *Manager) GetPath() string {
	return m.configPath
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}

func isYAMLPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
