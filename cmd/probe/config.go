package main

import (
	"flag"
	"time"
)

// Config holds probe runtime configuration.
type Config struct {
	Addr       string
	ConfigPath string
	Message    string
	Timeout    time.Duration
	Count      int
	Interval   time.Duration
}

var cfg Config

// init registers all probe flags into the default flag set.
func init() {
	flag.StringVar(&cfg.Addr, "addr", "127.0.0.1:8841", "relay listen address")
	flag.StringVar(&cfg.ConfigPath, "config", "", "relay settings file; when set, the listen address is taken from it unless --addr is given")
	flag.StringVar(&cfg.Message, "message", "checkService\n", "request payload")
	flag.DurationVar(&cfg.Timeout, "timeout", 20*time.Second, "overall timeout per exchange")
	flag.IntVar(&cfg.Count, "count", 1, "number of exchanges (0 = until interrupted)")
	flag.DurationVar(&cfg.Interval, "interval", 2*time.Second, "pause between exchanges")
}
