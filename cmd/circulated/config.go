package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk daemon configuration.
type FileConfig struct {
	Addr     string `yaml:"addr"`
	LogLevel string `yaml:"log_level"`

	Concurrency     int      `yaml:"concurrency"`
	LoanPeriod      Duration `yaml:"loan_period"`
	LoanLimit       int      `yaml:"loan_limit"`
	SyncSchedule    string   `yaml:"sync_schedule"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	Store struct {
		// Driver picks the backend explicitly; empty means infer from
		// the DSN scheme (memory when the DSN is empty too).
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Database string `yaml:"database"`
	} `yaml:"store"`

	SyncSources []SourceConfig `yaml:"sync_sources"`

	Webhook struct {
		URL    string   `yaml:"url"`
		Secret string   `yaml:"secret"`
		Events []string `yaml:"events"`
	} `yaml:"webhook"`

	APIKeys []APIKeyConfig `yaml:"api_keys"`
}

// SourceConfig describes one remote catalog feed.
type SourceConfig struct {
	Name      string  `yaml:"name"`
	URL       string  `yaml:"url"`
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// APIKeyConfig describes one stream gateway credential. Hash is a bcrypt
// hash of the key secret, as produced by wire.HashKey.
type APIKeyConfig struct {
	Name   string   `yaml:"name"`
	Hash   string   `yaml:"hash"`
	Scopes []string `yaml:"scopes"`
}

// Duration decodes YAML strings like "30s" or "336h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// ConfigManager loads the config file and watches it for changes.
type ConfigManager struct {
	path string

	mu   sync.RWMutex
	cfg  *FileConfig
	subs []chan *FileConfig
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path}
}

// Load reads and parses the config file, replacing the current config.
func (m *ConfigManager) Load() (*FileConfig, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", m.path, err)
	}
	m.mu.Lock()
	m.cfg = &cfg
	m.mu.Unlock()
	return &cfg, nil
}

// Get returns the most recently loaded config.
func (m *ConfigManager) Get() *FileConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Subscribe returns a channel receiving each successfully reloaded
// config. Slow subscribers miss updates rather than blocking the watcher.
func (m *ConfigManager) Subscribe(buffer int) <-chan *FileConfig {
	ch := make(chan *FileConfig, buffer)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

func (m *ConfigManager) publish(cfg *FileConfig) {
	m.mu.RLock()
	subs := append([]chan *FileConfig{}, m.subs...)
	m.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- cfg:
		default:
		}
	}
}

// Watch blocks, reloading and publishing the config whenever the file
// changes, until ctx is done. The watch is on the directory: editors and
// config mounts replace the file rather than writing it in place.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}

	// Debounce so partial writes are not parsed.
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			cfg, err := m.Load()
			if err == nil && cfg != nil {
				m.publish(cfg)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-w.Events:
			if ev.Name == filepath.Join(dir, file) &&
				ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce()
			}
		case <-w.Errors:
			// Keep watching.
		}
	}
}
