package main

import (
	"flag"
	"os"
	"path/filepath"
)

// Flags holds command-line options. Everything else lives in the settings file.
type Flags struct {
	ConfigPath  string
	Debug       bool
	MetricsAddr string
	Init        bool
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigPath, "config", defaultConfigPath(), "path to the YAML settings file")
	flag.BoolVar(&flags.Debug, "debug", false, "enable debug logs (overrides log.debug)")
	flag.StringVar(&flags.MetricsAddr, "metrics", "", "metrics, health and dashboard listen address (overrides metrics.address)")
	flag.BoolVar(&flags.Init, "init", false, "write a default settings file and a self-signed identity if missing")
}

// defaultConfigPath is <user config dir>/tlsrelay/config.yaml, or
// ./config.yaml when the platform has no config dir.
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "tlsrelay", "config.yaml")
}
