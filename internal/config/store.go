package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Store holds the current configuration and replaces it wholesale on
// Reload. Readers always see a complete snapshot.
//
// When env files are given, every load re-reads them into the process
// environment. Variables that were already set when the Store was created
// keep precedence, and a variable removed from the files is unset again.
type Store struct {
	path     string
	envFiles []string
	external map[string]bool
	applied  map[string]bool

	mu      sync.Mutex
	current atomic.Pointer[Config]
}

// NewStore loads the initial configuration from path (YAML plus env) or from
// the environment alone when path is empty, after applying envFiles.
func NewStore(path string, envFiles ...string) (*Store, error) {
	s := &Store{path: path, envFiles: envFiles}
	if len(envFiles) > 0 {
		s.external = make(map[string]bool)
		for _, kv := range os.Environ() {
			k, _, _ := strings.Cut(kv, "=")
			s.external[k] = true
		}
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStaticStore returns a Store holding cfg that reloads from the
// environment only.
func NewStaticStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Reload re-applies the env files and reads the configuration again. On
// error the previous snapshot is kept.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.applyEnvFiles(); err != nil {
		return err
	}

	var (
		cfg *Config
		err error
	)
	if s.path != "" {
		cfg, err = LoadFromFile(s.path)
	} else {
		cfg, err = Load()
	}
	if err != nil {
		return err
	}
	s.current.Store(cfg)
	return nil
}

// applyEnvFiles must be called with s.mu held.
func (s *Store) applyEnvFiles() error {
	if len(s.envFiles) == 0 {
		return nil
	}
	vars, err := readDotEnv(s.envFiles)
	if err != nil {
		return err
	}

	for k := range s.applied {
		if _, ok := vars[k]; !ok {
			os.Unsetenv(k)
		}
	}
	applied := make(map[string]bool, len(vars))
	for k, v := range vars {
		if s.external[k] {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("failed to set %s: %w", k, err)
		}
		applied[k] = true
	}
	s.applied = applied
	return nil
}

// Current returns the active configuration snapshot.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// DefaultFromEmail returns the configured default sender.
func (s *Store) DefaultFromEmail() string {
	if cfg := s.Current(); cfg != nil {
		return cfg.Mail.DefaultFromEmail
	}
	return ""
}

// ManagerAddresses returns the configured managers' addresses in order.
func (s *Store) ManagerAddresses() []string {
	if cfg := s.Current(); cfg != nil {
		return cfg.ManagerAddresses()
	}
	return nil
}

// FailSilently reports whether contact email dispatch errors are suppressed.
func (s *Store) FailSilently() bool {
	if cfg := s.Current(); cfg != nil {
		return cfg.Mail.FailSilently
	}
	return false
}
