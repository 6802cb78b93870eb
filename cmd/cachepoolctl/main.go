// cachepoolctl inspects cachepool configuration.
//
// It loads the configuration file, applies CACHEPOOL_* environment overrides
// and command-line overrides, and prints the resolved configuration as TOML.
// It never contacts a cache server.
//
// Usage:
//
//	cachepoolctl [flags]
//
// Flags:
//
//	-config string
//	    Path to configuration file (default "~/.cachepool/cachepool.toml")
//	-properties string
//	    Flat pool property file merged over the [pool] table
//	-endpoints string
//	    Comma separated cache endpoints (overrides config)
//	-init
//	    Write a default configuration file and exit
//	-force
//	    Overwrite an existing file with -init
//	-version
//	    Print version and exit
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"

	"github.com/go-i2p/cachepool/lib/client"
	"github.com/go-i2p/cachepool/lib/config"
	"github.com/go-i2p/cachepool/lib/core"
	"github.com/go-i2p/cachepool/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func defaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".cachepool", core.DefaultConfigFile)
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("cachepoolctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", defaultConfigPath(), "Path to configuration file")
	propsPath := fs.String("properties", "", "Flat pool property file merged over the [pool] table")
	endpoints := fs.String("endpoints", "", "Comma separated cache endpoints (overrides config)")
	initConfig := fs.Bool("init", false, "Write a default configuration file and exit")
	force := fs.Bool("force", false, "Overwrite an existing file with -init")
	showVersion := fs.Bool("version", false, "Print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "cachepoolctl - inspect cachepool configuration\n\n")
		fmt.Fprintf(stderr, "Usage:\n")
		fmt.Fprintf(stderr, "  cachepoolctl [flags]\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stdout, "cachepoolctl version %s\n", version.Get())
		return 0
	}

	if *initConfig {
		return writeDefault(*configPath, *force, stdout, stderr)
	}

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *propsPath != "" {
		props, err := config.LoadProperties(*propsPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if cfg.Pool == nil {
			cfg.Pool = config.Properties{}
		}
		maps.Copy(cfg.Pool, props)
	}

	if *endpoints != "" {
		eps, err := client.ParseEndpoints(*endpoints)
		if err != nil {
			fmt.Fprintf(stderr, "Error: -endpoints: %v\n", err)
			return 1
		}
		cfg.Client.Endpoints = eps
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// print the pool table with defaults filled in
	poolCfg, err := cfg.PoolConfig()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	cfg.Pool = poolCfg.ToProperties()

	data, err := cfg.Marshal()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	stdout.Write(data)
	return 0
}

func writeDefault(path string, force bool, stdout, stderr io.Writer) int {
	if _, err := os.Stat(path); err == nil && !force {
		fmt.Fprintf(stderr, "Error: %s already exists (use -force to overwrite)\n", path)
		return 1
	}
	if err := core.SaveConfig(core.DefaultConfig(), path); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Wrote default configuration to %s\n", path)
	return 0
}
