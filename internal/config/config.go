// Package config holds the runtime configuration of devtools-mcp. Values come from defaults,
// then an optional YAML file, then DEVTOOLS_* environment variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// FileName is the configuration file looked up in the working directory when no path is given.
const FileName = "devtools-mcp.yaml"

// Transport names.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// Config is the complete runtime configuration.
type Config struct {
	// Transport is "stdio" or "sse". ENV: DEVTOOLS_TRANSPORT
	Transport string `yaml:"transport" env:"DEVTOOLS_TRANSPORT"`
	// Host the SSE listener binds to. ENV: DEVTOOLS_HOST
	Host string `yaml:"host" env:"DEVTOOLS_HOST"`
	// Port the SSE listener binds to. ENV: DEVTOOLS_PORT
	Port int `yaml:"port" env:"DEVTOOLS_PORT"`
	// SSEPath serves the event stream. ENV: DEVTOOLS_SSE_PATH
	SSEPath string `yaml:"sse_path" env:"DEVTOOLS_SSE_PATH"`
	// MessagePath receives POSTed messages. ENV: DEVTOOLS_MESSAGE_PATH
	MessagePath string `yaml:"message_path" env:"DEVTOOLS_MESSAGE_PATH"`
	// Root is the workspace root; empty means the working directory. ENV: DEVTOOLS_ROOT
	Root string `yaml:"root" env:"DEVTOOLS_ROOT"`

	Log    LogConfig    `yaml:"log"`
	Search SearchConfig `yaml:"search"`
	Docs   DocsConfig   `yaml:"docs"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error. ENV: DEVTOOLS_LOG_LEVEL
	Level string `yaml:"level" env:"DEVTOOLS_LOG_LEVEL"`
	// Format is text or json. ENV: DEVTOOLS_LOG_FORMAT
	Format string `yaml:"format" env:"DEVTOOLS_LOG_FORMAT"`
}

// SearchConfig configures file scanning.
type SearchConfig struct {
	Extensions []string `yaml:"extensions"`
	Exclude    []string `yaml:"exclude"`
	// ENV: DEVTOOLS_SEARCH_CONTEXT_LINES
	ContextLines int `yaml:"context_lines" env:"DEVTOOLS_SEARCH_CONTEXT_LINES"`
	// ENV: DEVTOOLS_SEARCH_MAX_FILE_SIZE
	MaxFileSize int64 `yaml:"max_file_size" env:"DEVTOOLS_SEARCH_MAX_FILE_SIZE"`
	// ENV: DEVTOOLS_SEARCH_CONCURRENCY
	Concurrency int `yaml:"concurrency" env:"DEVTOOLS_SEARCH_CONCURRENCY"`
}

// DocsConfig configures documentation lookups.
type DocsConfig struct {
	// ENV: DEVTOOLS_PYPI_URL
	PyPIURL string `yaml:"pypi_url" env:"DEVTOOLS_PYPI_URL"`
	// ENV: DEVTOOLS_NPM_URL
	NpmURL string `yaml:"npm_url" env:"DEVTOOLS_NPM_URL"`
	// Timeout bounds each registry request. ENV: DEVTOOLS_DOCS_TIMEOUT
	Timeout time.Duration `yaml:"timeout" env:"DEVTOOLS_DOCS_TIMEOUT"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Transport:   TransportStdio,
		Host:        "127.0.0.1",
		Port:        8000,
		SSEPath:     "/sse",
		MessagePath: "/messages/",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Search: SearchConfig{
			ContextLines: 3,
			MaxFileSize:  1 << 20,
			Concurrency:  8,
		},
		Docs: DocsConfig{
			PyPIURL: "https://pypi.org/pypi",
			NpmURL:  "https://registry.npmjs.org",
			Timeout: 10 * time.Second,
		},
	}
}

// Addr returns the host:port the SSE listener binds to.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks the configuration for values the server cannot run with.
func (c Config) Validate() error {
	var errs []error

	switch c.Transport {
	case TransportStdio, TransportSSE:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q (want %s or %s)", c.Transport, TransportStdio, TransportSSE))
	}
	if c.Transport == TransportSSE {
		if c.Port < 1 || c.Port > 65535 {
			errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
		}
		if !strings.HasPrefix(c.SSEPath, "/") || !strings.HasPrefix(c.MessagePath, "/") {
			errs = append(errs, errors.New("sse_path and message_path must start with /"))
		}
		if c.SSEPath == c.MessagePath {
			errs = append(errs, errors.New("sse_path and message_path must differ"))
		}
	}
	if c.Search.ContextLines < 1 {
		errs = append(errs, errors.New("search.context_lines must be at least 1"))
	}
	if c.Search.MaxFileSize < 0 {
		errs = append(errs, errors.New("search.max_file_size must not be negative"))
	}
	if c.Search.Concurrency < 0 {
		errs = append(errs, errors.New("search.concurrency must not be negative"))
	}
	if c.Docs.Timeout < 0 {
		errs = append(errs, errors.New("docs.timeout must not be negative"))
	}
	for _, ext := range c.Search.Extensions {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Errorf("search extension %q must start with a dot", ext))
		}
	}

	return errors.Join(errs...)
}
