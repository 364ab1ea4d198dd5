// Package config provides configuration loading for flowd.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/flowd/internal/contextwindow"
	"github.com/fyrsmithlabs/flowd/internal/logging"
	"github.com/fyrsmithlabs/flowd/internal/orchestrator"
)

// Config is the full flowd configuration tree.
type Config struct {
	Server        ServerConfig         `koanf:"server"`
	Logging       logging.Config       `koanf:"logging"`
	Workflow      orchestrator.Config  `koanf:"workflow"`
	Locks         LocksConfig          `koanf:"locks"`
	Session       SessionConfig        `koanf:"session"`
	ContextWindow contextwindow.Config `koanf:"context_window"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
}

// LocksConfig controls advisory session locks.
type LocksConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// SessionConfig controls session retention.
type SessionConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// Default returns the configuration tree with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
		},
		Logging:       *logging.NewDefaultConfig(),
		Workflow:      orchestrator.DefaultConfig(),
		Locks:         LocksConfig{TTL: 30 * time.Second},
		Session:       SessionConfig{TTL: 24 * time.Hour},
		ContextWindow: contextwindow.DefaultConfig(),
	}
}

// Validate checks the whole tree.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Workflow.Validate(); err != nil {
		return fmt.Errorf("workflow: %w", err)
	}
	if c.Locks.TTL <= 0 {
		return fmt.Errorf("locks.ttl must be > 0")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be > 0")
	}
	if err := c.ContextWindow.Validate(); err != nil {
		return fmt.Errorf("context_window: %w", err)
	}
	return nil
}
