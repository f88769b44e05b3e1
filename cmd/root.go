// Package cmd implements preheatd's command-line entrypoint: flag
// parsing, startup-failure-vs-clean-shutdown exit codes, PID-file
// locking, and wiring the loaded configuration and state into an
// engine.Daemon.
package cmd

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/ftahirops/preheatd/config"
	"github.com/ftahirops/preheatd/engine"
	"github.com/ftahirops/preheatd/model"
	"github.com/ftahirops/preheatd/persist"
	"github.com/ftahirops/preheatd/scanner"
)

// Version is set at build time via ldflags.
var Version = "0.1.0"

const (
	defaultConfFile  = "/etc/preheatd.conf"
	defaultStateFile = "/var/lib/preheatd/preheatd.state"
	defaultLogFile   = "/var/log/preheatd.log"
	defaultPIDFile   = "/var/run/preheatd.pid"
	defaultPauseFile = "/var/run/preheatd.pause"
	defaultStatsFile = "/var/run/preheatd.stats"
)

// ExitCodeError carries a specific process exit code through Run's
// error return.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e ExitCodeError) Error() string { return e.Err.Error() }
func (e ExitCodeError) Unwrap() error { return e.Err }

func printUsage() {
	fmt.Fprintf(os.Stderr, `preheatd v%s — adaptive readahead daemon for Linux desktops

Usage:
  preheatd [OPTIONS]

Options:
  -config FILE      Configuration file (default: %s)
  -statefile FILE   Learned-state persistence file (default: %s)
  -pidfile FILE     PID/lock file (default: %s)
  -pausefile FILE   Pause-gate file (default: %s)
  -statsfile FILE   Statistics file (default: %s)
  -logfile FILE     Log file (default: %s)
  -foreground       Log to stderr instead of -logfile
  -version          Print version and exit

Signals (sent to the running daemon, not this flag set):
  HUP    reload config + reopen log
  USR1   dump stats + state summary
  USR2   save state immediately
  TERM, INT   graceful shutdown
`, Version, defaultConfFile, defaultStateFile, defaultPIDFile, defaultPauseFile, defaultStatsFile, defaultLogFile)
}

// Run parses flags and runs the daemon to completion. A non-nil error
// wrapped in ExitCodeError carries the process exit code the caller
// specifies for startup failures; any other error or nil map to exit
// codes 1 and 0 in main.go.
func Run() error {
	var configPath, stateFile, pidFile, pauseFile, statsFile, logFile string
	var foreground, showVersion bool

	flag.StringVar(&configPath, "config", defaultConfFile, "Configuration file")
	flag.StringVar(&stateFile, "statefile", defaultStateFile, "Learned-state persistence file")
	flag.StringVar(&pidFile, "pidfile", defaultPIDFile, "PID/lock file")
	flag.StringVar(&pauseFile, "pausefile", defaultPauseFile, "Pause-gate file")
	flag.StringVar(&statsFile, "statsfile", defaultStatsFile, "Statistics file")
	flag.StringVar(&logFile, "logfile", defaultLogFile, "Log file")
	flag.BoolVar(&foreground, "foreground", false, "Log to stderr instead of -logfile")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Usage = printUsage
	flag.Parse()

	if showVersion {
		fmt.Printf("preheatd v%s\n", Version)
		return nil
	}

	if foreground {
		logFile = ""
	} else if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return ExitCodeError{Code: 1, Err: fmt.Errorf("open log file: %w", err)}
		}
		log.SetOutput(f)
	}

	if _, err := config.Load(configPath); err != nil {
		return ExitCodeError{Code: 1, Err: fmt.Errorf("load config: %w", err)}
	}
	config.Reload(configPath)

	lock, err := engine.AcquireLock(pidFile)
	if err != nil {
		return ExitCodeError{Code: 1, Err: err}
	}
	defer lock.Close()

	if err := os.MkdirAll(filepath.Dir(stateFile), 0755); err != nil {
		log.Printf("preheatd: mkdir %s: %v", filepath.Dir(stateFile), err)
	}

	scn := scanner.NewProcScanner()
	validate := func(pid int, exePath string) bool {
		actual, err := scanner.ResolveExe(pid)
		return err == nil && actual == exePath
	}

	state, preloadTimes, err := persist.Load(stateFile, validate, time.Now())
	if err != nil {
		log.Printf("preheatd: load state: %v", err)
		state = model.New()
	}
	if len(state.Exes()) == 0 {
		state.Seed(nil)
	}

	d := engine.NewDaemon(scn, state, preloadTimes, configPath, stateFile, pauseFile, statsFile, logFile)
	return d.Run(context.Background())
}
