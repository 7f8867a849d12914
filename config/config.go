// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package config loads the configuration file of the esl command-line tool.
//
// The file is YAML, decoded strictly: unknown keys and trailing documents are
// errors. Selected settings may be overridden by environment variables, which
// take precedence over the file; see Environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/creachadair/esl/balance"
	"github.com/creachadair/esl/ring"
	"github.com/creachadair/esl/session"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	ESL      ESL      `yaml:"esl"`
	Server   Server   `yaml:"server"`
	Ring     Ring     `yaml:"ring"`
	Balancer Balancer `yaml:"balancer"`
	Log      Log      `yaml:"log"`
	Metrics  Metrics  `yaml:"metrics"`
	Tracing  Tracing  `yaml:"tracing"`
}

// ESL configures the initiator connection to the switch.
type ESL struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// Server configures the acceptor.
type Server struct {
	Listen        string        `yaml:"listen"`
	Linger        *bool         `yaml:"linger"`
	LingerTimeout time.Duration `yaml:"linger_timeout"`
	Events        string        `yaml:"events"` // "all" or "myevents"
}

// Lingering reports whether the acceptor requests linger. The default is true.
func (s Server) Lingering() bool { return s.Linger == nil || *s.Linger }

// Ring configures ring groups.
type Ring struct {
	Mode         string         `yaml:"mode"`
	Timeout      time.Duration  `yaml:"timeout"`
	Destinations []string       `yaml:"destinations"`
	Variables    map[string]any `yaml:"variables"`
}

// Balancer configures the load balancer used by balancing ring groups.
type Balancer struct {
	Backend   string `yaml:"backend"` // "memory" or "redis"
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	Prefix    string `yaml:"prefix"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Metrics configures the metrics HTTP server. It is disabled if Listen is
// empty.
type Metrics struct {
	Listen string `yaml:"listen"`
}

// Tracing configures trace export. It is disabled if Endpoint is empty.
type Tracing struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Default returns a configuration populated with default values.
func Default() *Config {
	return &Config{
		ESL: ESL{
			Addr:        "127.0.0.1:8021",
			Password:    session.DefaultPassword,
			DialTimeout: session.DefaultHandshakeTimeout,
		},
		Server: Server{
			Listen:        "127.0.0.1:9696",
			LingerTimeout: 5 * time.Second,
			Events:        "all",
		},
		Ring: Ring{
			Mode:    ring.Parallel.String(),
			Timeout: ring.DefaultTimeout,
		},
		Balancer: Balancer{
			Backend: "memory",
			Prefix:  balance.DefaultPrefix,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads the configuration file at path over the defaults, applies
// environment overrides, and validates the result. If path == "", only the
// defaults and environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if ext := strings.ToLower(filepath.Ext(path)); ext != ".yaml" && ext != ".yml" {
			return nil, fmt.Errorf("unsupported config format %q (only YAML is supported)", ext)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.Decode(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode decodes YAML data into c. Keys not present in data keep their
// current values.
func (c *Config) Decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil // empty file
		}
		return fmt.Errorf("parse config: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("config contains multiple documents or trailing content")
	}
	return nil
}

// Environment lists the environment variables consulted by ApplyEnv.
var Environment = []string{"ESL_ADDR", "ESL_PASSWORD", "ESL_LISTEN", "ESL_REDIS_ADDR", "ESL_REDIS_DB", "ESL_LOG_LEVEL"}

// ApplyEnv overrides settings of c from environment variables, looked up by
// lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("ESL_ADDR", &c.ESL.Addr)
	set("ESL_PASSWORD", &c.ESL.Password)
	set("ESL_LISTEN", &c.Server.Listen)
	set("ESL_LOG_LEVEL", &c.Log.Level)
	if v, ok := lookup("ESL_REDIS_ADDR"); ok && v != "" {
		c.Balancer.RedisAddr = v
		c.Balancer.Backend = "redis"
	}
	if v, ok := lookup("ESL_REDIS_DB"); ok && v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ESL_REDIS_DB %q: %w", v, err)
		}
		c.Balancer.RedisDB = db
	}
	return nil
}

// Validate reports an error if c is not usable.
func (c *Config) Validate() error {
	var errs []error
	if c.ESL.Addr == "" {
		errs = append(errs, errors.New("esl.addr is required"))
	}
	if c.ESL.DialTimeout <= 0 {
		errs = append(errs, fmt.Errorf("esl.dial_timeout must be positive, got %v", c.ESL.DialTimeout))
	}
	if c.Server.LingerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.linger_timeout must be positive, got %v", c.Server.LingerTimeout))
	}
	switch c.Server.Events {
	case "all", "myevents":
	default:
		errs = append(errs, fmt.Errorf("server.events must be all or myevents, got %q", c.Server.Events))
	}
	if _, err := ring.ParseMode(c.Ring.Mode); err != nil {
		errs = append(errs, fmt.Errorf("ring.mode: %w", err))
	}
	if c.Ring.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("ring.timeout must be positive, got %v", c.Ring.Timeout))
	}
	switch c.Balancer.Backend {
	case "memory":
	case "redis":
		if c.Balancer.RedisAddr == "" {
			errs = append(errs, errors.New("balancer.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown balancer.backend %q", c.Balancer.Backend))
	}
	return errors.Join(errs...)
}

// RingOptions returns ring options populated from c. The balancer and
// observability hooks are left for the caller to fill in.
func (c *Config) RingOptions() (*ring.Options, error) {
	mode, err := ring.ParseMode(c.Ring.Mode)
	if err != nil {
		return nil, err
	}
	return &ring.Options{
		Mode:      mode,
		Timeout:   c.Ring.Timeout,
		Variables: c.Ring.Variables,
	}, nil
}
