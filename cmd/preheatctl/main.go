// Command preheatctl is preheatd's control CLI, kept deliberately
// outside the daemon's core. It never touches the daemon's in-memory
// state directly — only the documented PID file, UNIX signals, the
// pause-gate file, and the statistics file.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ftahirops/preheatd/engine"
)

const (
	defaultPIDFile   = "/var/run/preheatd.pid"
	defaultPauseFile = "/var/run/preheatd.pause"
	defaultStatsFile = "/var/run/preheatd.stats"
)

var (
	pidFile   string
	pauseFile string
	statsFile string
)

func main() {
	root := &cobra.Command{
		Use:   "preheatctl",
		Short: "Control and inspect the preheatd adaptive readahead daemon",
	}
	root.PersistentFlags().StringVar(&pidFile, "pidfile", defaultPIDFile, "daemon PID/lock file")
	root.PersistentFlags().StringVar(&pauseFile, "pausefile", defaultPauseFile, "pause-gate file")
	root.PersistentFlags().StringVar(&statsFile, "statsfile", defaultStatsFile, "statistics file")

	root.AddCommand(statusCmd(), pauseCmd(), resumeCmd(), reloadCmd(), statsCmd(), appsCmd(), watchCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, fmt.Errorf("read pid file %s: %w", pidFile, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", pidFile, err)
	}
	return pid, nil
}

func signalDaemon(sig syscall.Signal) error {
	pid, err := readPID()
	if err != nil {
		return err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := readPID()
			if err != nil {
				fmt.Println("preheatd is not running")
				return nil
			}
			if err := syscall.Kill(pid, 0); err != nil {
				fmt.Printf("preheatd is not running (stale pid file, pid=%d)\n", pid)
				return nil
			}
			fmt.Printf("preheatd is running (pid=%d)\n", pid)
			return nil
		},
	}
}

// pauseCmd writes the pause-gate file the daemon reads each cycle: "0"
// pauses until reboot, a positive duration pauses until now+duration.
// The daemon only ever reads this file; preheatctl is its sole writer.
func pauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause [seconds|forever]",
		Short: "Pause prediction and readahead (scan/accounting continue)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var content string
			if len(args) == 0 || args[0] == "forever" {
				content = "0"
			} else {
				secs, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid duration %q: %w", args[0], err)
				}
				content = strconv.FormatInt(time.Now().Add(time.Duration(secs)*time.Second).Unix(), 10)
			}
			return os.WriteFile(pauseFile, []byte(content+"\n"), 0644)
		},
	}
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Clear the pause gate",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.Remove(pauseFile); err != nil && !os.IsNotExist(err) {
				return err
			}
			return nil
		},
	}
}

func reloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload configuration and reopen the log (SIGHUP)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return signalDaemon(syscall.SIGHUP)
		},
	}
}

var lipglossLabel = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the daemon's current statistics summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := engine.ReadStatsFile(statsFile)
			if err != nil {
				return err
			}
			fmt.Println(renderSummary(sum))
			return nil
		},
	}
}

func appsCmd() *cobra.Command {
	var sortByRaw bool
	c := &cobra.Command{
		Use:   "apps",
		Short: "List tracked applications from the last dumped summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := engine.ReadStatsFile(statsFile)
			if err != nil {
				return err
			}
			fmt.Println(renderApps(sum, sortByRaw))
			return nil
		},
	}
	c.Flags().BoolVar(&sortByRaw, "sort-raw", false, "sort by raw launch count instead of weighted")
	return c
}

func renderSummary(sum engine.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %ds\n", lipglossLabel.Render("uptime:"), sum.UptimeSeconds)
	fmt.Fprintf(&b, "%s %d (hits=%d misses=%d rate=%.1f%%)\n",
		lipglossLabel.Render("preloads:"), sum.PreloadsTotal, sum.Hits, sum.Misses, sum.HitRate)
	fmt.Fprintf(&b, "%s %d tracked (priority=%d observation=%d)\n",
		lipglossLabel.Render("apps:"), sum.AppsTracked, sum.PriorityPool, sum.ObservationPool)
	fmt.Fprintf(&b, "%s %.1f MB\n", lipglossLabel.Render("preloaded:"), float64(sum.TotalBytes)/(1024*1024))
	fmt.Fprintf(&b, "%s %d\n", lipglossLabel.Render("memory pressure events:"), sum.MemoryPressureEvents)
	return b.String()
}

func renderApps(sum engine.Summary, sortByRaw bool) string {
	apps := make([]engine.TopApp, len(sum.TopApps))
	copy(apps, sum.TopApps)
	if sortByRaw {
		for i := 0; i < len(apps); i++ {
			for j := i + 1; j < len(apps); j++ {
				if apps[j].Raw > apps[i].Raw {
					apps[i], apps[j] = apps[j], apps[i]
				}
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-40s %-10s %8s %5s %s\n", "NAME", "POOL", "WEIGHTED", "RAW", "PRELOADED")
	for _, a := range apps {
		preloaded := ""
		if a.Preloaded {
			preloaded = "yes"
		}
		fmt.Fprintf(&b, "%-40s %-10s %8.2f %5d %s\n", a.Name, a.Pool, a.Weighted, a.Raw, preloaded)
	}
	return b.String()
}

// watchModel is a bubbletea program that re-reads the stats file on a
// one-second tick, giving preheatctl watch a live-refreshing view
// without the daemon needing to know a watcher exists.
type watchModel struct {
	sum engine.Summary
	err error
}

type tickMsg time.Time

func watchTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Init() tea.Cmd { return watchTick() }

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tickMsg:
		sum, err := engine.ReadStatsFile(statsFile)
		m.sum, m.err = sum, err
		return m, watchTick()
	}
	return m, nil
}

func (m watchModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("preheatctl watch: %v\n(q to quit)\n", m.err)
	}
	return renderSummary(m.sum) + "\n" + renderApps(m.sum, false) + "\n(q to quit)\n"
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Live-refreshing view of daemon statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := tea.NewProgram(watchModel{})
			_, err := p.Run()
			return err
		},
	}
}
