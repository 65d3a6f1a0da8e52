// Package config gathers salvagewatch settings from flags and the environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"time"

	"salvagewatch/process"
	"salvagewatch/salvage"
	"salvagewatch/tracker"
)

// Environment variables consulted before flags are parsed
const (
	EnvProcess = "SALVAGEWATCH_PROCESS"
	EnvTarget  = "SALVAGEWATCH_TARGET"
	EnvDebug   = "SALVAGEWATCH_DEBUG"
)

type Config struct {
	ProcessName   string
	TargetPercent float64
	Interval      time.Duration
	SearchBackoff time.Duration
	Signature     string
	MaxDOP        uint
	Debug         bool

	// Modes; at most one of Replay, Snapshot and Scan is set
	Replay   string
	Snapshot string
	Scan     bool
}

func Default() Config {
	return Config{
		ProcessName:   "Shipbreaker",
		TargetPercent: salvage.DefaultTargetPercent,
		Interval:      200 * time.Millisecond,
		SearchBackoff: 5 * time.Second,
		Signature:     salvage.DefaultSignature,
		MaxDOP:        1,
	}
}

// Load builds a Config from defaults, then getenv, then args. Flags win over
// the environment.
func Load(name string, args []string, getenv func(string) string, output io.Writer) (Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(getenv); err != nil {
		return cfg, err
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	fs.StringVar(&cfg.ProcessName, "process", cfg.ProcessName, "Name of the game process (env "+EnvProcess+")")
	fs.Float64Var(&cfg.TargetPercent, "target", cfg.TargetPercent, "Salvage objective in percent (env "+EnvTarget+")")
	fs.DurationVar(&cfg.Interval, "interval", cfg.Interval, "Polling interval")
	fs.DurationVar(&cfg.SearchBackoff, "backoff", cfg.SearchBackoff, "Delay between unsuccessful structure searches")
	fs.StringVar(&cfg.Signature, "aob", cfg.Signature, "Signature to scan for (e.g. '01 00 ?? 02')")
	fs.UintVar(&cfg.MaxDOP, "maxdop", cfg.MaxDOP, "Maximum number of regions scanned in parallel")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Dump rejected candidates (env "+EnvDebug+")")
	fs.StringVar(&cfg.Replay, "replay", "", "Track against a saved dump directory instead of a live process")
	fs.StringVar(&cfg.Snapshot, "snapshot", "", "Save the writable regions of the process to this directory and exit")
	fs.BoolVar(&cfg.Scan, "scan", false, "Scan once, print every candidate and exit")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		return cfg, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if getenv == nil {
		return nil
	}
	if v := getenv(EnvProcess); v != "" {
		c.ProcessName = v
	}
	if v := getenv(EnvTarget); v != "" {
		target, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvTarget, v, err)
		}
		c.TargetPercent = target
	}
	if v := getenv(EnvDebug); v != "" {
		c.Debug = v != "0" && v != "false"
	}
	return nil
}

// Validate reports the first setting that cannot be used
func (c Config) Validate() error {
	var errs []error
	if c.ProcessName == "" && c.Replay == "" {
		errs = append(errs, errors.New("process name is empty"))
	}
	if c.TargetPercent <= 0 || c.TargetPercent > 100 {
		errs = append(errs, fmt.Errorf("target %v must be in (0, 100]", c.TargetPercent))
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval %v must be positive", c.Interval))
	}
	if c.SearchBackoff <= 0 {
		errs = append(errs, fmt.Errorf("backoff %v must be positive", c.SearchBackoff))
	}
	if _, err := process.ParseAOB(c.Signature); err != nil {
		errs = append(errs, fmt.Errorf("signature: %w", err))
	}
	if c.MaxDOP == 0 {
		errs = append(errs, errors.New("maxdop must be at least 1"))
	}

	modes := 0
	for _, set := range []bool{c.Replay != "", c.Snapshot != "", c.Scan} {
		if set {
			modes++
		}
	}
	if modes > 1 {
		errs = append(errs, errors.New("-replay, -snapshot and -scan are mutually exclusive"))
	}
	return errors.Join(errs...)
}

// TrackerConfig converts c for the tracker
func (c Config) TrackerConfig() (tracker.Config, error) {
	aob, err := process.ParseAOB(c.Signature)
	if err != nil {
		return tracker.Config{}, err
	}

	tc := tracker.DefaultConfig()
	tc.ProcessName = c.ProcessName
	tc.TargetPercent = float32(c.TargetPercent)
	tc.Interval = c.Interval
	tc.SearchBackoff = c.SearchBackoff
	tc.Signature = aob
	tc.DumpCandidates = c.Debug
	return tc, nil
}
