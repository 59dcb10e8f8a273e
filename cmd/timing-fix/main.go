// Command timing-fix corrects the systematic early-trigger offset in a scene
// index, dropping scenes whose duration collapses under the shift.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/framewright/match-cutter/matching"
)

type Config struct {
	IndexPath string
	OutPath   string
	Offset    float64
	Backup    bool
}

func (c Config) Validate() error {
	if c.IndexPath == "" {
		return errors.New("missing -in")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Offset: matching.DefaultTimingOffset,
		Backup: true,
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.IndexPath, "in", cfg.IndexPath, "Path to scene_index.json")
	fs.StringVar(&cfg.OutPath, "out", "", "Output path (default: rewrite -in in place)")
	fs.Float64Var(&cfg.Offset, "offset", cfg.Offset, "Seconds to shift each scene start forward")
	fs.BoolVar(&cfg.Backup, "backup", cfg.Backup, "Write a backup copy before an in-place rewrite")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.IndexPath = filepath.Clean(cfg.IndexPath)
	if cfg.OutPath != "" {
		cfg.OutPath = filepath.Clean(cfg.OutPath)
	}
	return cfg, nil
}

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	stats, err := matching.FixTimingsFile(cfg.IndexPath, cfg.OutPath, cfg.Offset, cfg.Backup)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	out := cfg.OutPath
	if out == "" {
		out = cfg.IndexPath
	}
	fmt.Fprintf(os.Stdout, "scenes=%d fixed=%d dropped=%d offset=%.3f out=%s\n",
		stats.Total, stats.Kept, stats.Dropped, stats.Offset, out)
}
