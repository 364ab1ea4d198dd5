package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// maxConfigFileSize caps config reads at 1MB.
const maxConfigFileSize = 1 << 20

// envPrefix namespaces flowd's environment variables.
const envPrefix = "FLOWD_"

// Load builds configuration with the usual precedence, highest first:
//
//  1. Environment variables (FLOWD_SERVER_ADDR, FLOWD_WORKFLOW_AUTO_ADVANCE, ...)
//  2. YAML config file, when configPath is non-empty and the file exists
//  3. Defaults
//
// Environment variables map to config keys by stripping the FLOWD_ prefix,
// lowercasing, and splitting on the first underscore:
//
//	FLOWD_SERVER_ADDR                      -> server.addr
//	FLOWD_WORKFLOW_MAX_WORKFLOW_DURATION   -> workflow.max_workflow_duration
//	FLOWD_CONTEXT_WINDOW_RESERVED_TOKENS   -> context_window.reserved_tokens
//
// The context_window section contains an underscore, so its variables split
// after CONTEXT_WINDOW instead.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if err := loadFile(k, configPath); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile reads the YAML file through an already-open descriptor so size
// validation and parsing see the same file.
func loadFile(k *koanf.Koanf, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// envTransform maps FLOWD_SECTION_FIELD_NAME to section.field_name.
func envTransform(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))

	// context_window is the one section with an embedded underscore.
	if rest, ok := strings.CutPrefix(lower, "context_window_"); ok {
		return "context_window." + rest
	}

	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}
