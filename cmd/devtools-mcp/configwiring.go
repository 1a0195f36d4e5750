package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MegaGrindStone/devtools-mcp/internal/config"
	dlog "github.com/MegaGrindStone/devtools-mcp/internal/log"
	"github.com/MegaGrindStone/devtools-mcp/servers/devtools"
)

// loadConfig resolves the configuration in precedence order: defaults, config file,
// environment, then the flags set on cmd. Errors are usage errors.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return config.Config{}, usageError(err)
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		return config.Config{}, usageError(err)
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if flags.Changed("root") {
		cfg.Root = rootDir
	}
	return cfg, nil
}

// setupLogger installs the process logger on stderr; stdout carries the stdio protocol.
func setupLogger(cfg config.Config) (*slog.Logger, error) {
	logger, err := dlog.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, usageError(err)
	}
	return logger, nil
}

func toolboxOptions(cfg config.Config, logger *slog.Logger) devtools.Options {
	return devtools.Options{
		Root: cfg.Root,
		Search: devtools.SearchOptions{
			Extensions:   cfg.Search.Extensions,
			Exclude:      cfg.Search.Exclude,
			ContextLines: cfg.Search.ContextLines,
			MaxFileSize:  cfg.Search.MaxFileSize,
			Concurrency:  cfg.Search.Concurrency,
		},
		Docs: devtools.DocsOptions{
			PyPIURL: cfg.Docs.PyPIURL,
			NpmURL:  cfg.Docs.NpmURL,
			Timeout: cfg.Docs.Timeout,
		},
		Logger: logger,
	}
}
