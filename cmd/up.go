package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wgsession/internal/consent"
	"wgsession/internal/engine"
	"wgsession/internal/notify"
	"wgsession/internal/session"
	"wgsession/internal/state"
	"wgsession/internal/tun"
	"wgsession/pkg/jsonhelper"

	"github.com/shirou/gopsutil/host"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	upProfile        string
	upYes            bool
	upMetricsAddr    string
	upStatusInterval time.Duration

	upCmd = &cobra.Command{
		Use:   "up",
		Short: "bring the tunnel up and keep it up until interrupted",
		Long: "up starts the tunnel from the profile and prints one JSON line per running-state change " +
			"and per status interval. SIGINT or SIGTERM tears the tunnel down.",
		RunE: up,
	}
)

type statusLine struct {
	Time  time.Time `json:"time"`
	Event string    `json:"event"`
	session.Snapshot
	LastHandshake *time.Time    `json:"last_handshake,omitempty"`
	Counters      *tun.Counters `json:"counters,omitempty"`
}

// sessionView is the read side of the coordinator the status output needs.
type sessionView interface {
	Snapshot() session.Snapshot
	LastError() error
}

func snapshotLine(event string, c sessionView) statusLine {
	return statusLine{Time: time.Now(), Event: event, Snapshot: c.Snapshot()}
}

func statsLine(c *session.Coordinator, wg *engine.WireGuard) statusLine {
	line := snapshotLine("status", c)
	if hs, err := wg.LastHandshake(); err == nil && !hs.IsZero() {
		line.LastHandshake = &hs
	}
	if line.Interface != "" {
		if counters, err := tun.InterfaceCounters(line.Interface); err == nil {
			line.Counters = &counters
		}
	}
	return line
}

func logHost() {
	info, err := host.Info()
	if err != nil {
		zap.S().Debugw("host info unavailable", "error", err)
		return
	}
	zap.S().Infow("host",
		"os", info.OS,
		"platform", info.Platform,
		"platform_version", info.PlatformVersion,
		"kernel", info.KernelVersion,
	)
}

func up(cmd *cobra.Command, _ []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer zap.S().Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logHost()

	var prompter consent.Prompter = &consent.Terminal{In: os.Stdin, Out: os.Stderr}
	if upYes {
		prompter = consent.PrompterFunc(approveAll)
	}

	running := state.New(false)
	c, wg, err := e.coordinator(e.builder(upProfile), e.gate(scopeVPN, prompter), nil, notify.Log{}, running)
	if err != nil {
		return err
	}
	defer c.Close()

	addr := upMetricsAddr
	if addr == "" {
		addr = e.cfg.Metrics.Addr
	}
	if addr != "" {
		go serveMetrics(ctx, addr)
	}

	out := jsonhelper.NewLines(cmd.OutOrStdout())
	events := running.Subscribe(ctx)

	if err := c.Start(ctx); err != nil {
		if ctx.Err() != nil {
			// Interrupted while waiting: the attempt itself is still queued.
			err = shutdown(e, c)
		}
		_ = out.Write(snapshotLine("failed", c))
		return err
	}
	zap.S().Infow("tunnel up", "interface", c.Snapshot().Interface)

	if upStatusInterval <= 0 {
		upStatusInterval = 30 * time.Second
	}
	ticker := time.NewTicker(upStatusInterval)
	defer ticker.Stop()

	if err := follow(ctx, c, events, ticker.C, out, func() statusLine { return statsLine(c, wg) }); err != nil {
		return err
	}
	err = shutdown(e, c)
	_ = out.Write(snapshotLine("stopped", c))
	return err
}

// follow prints the session until ctx ends (nil) or the tunnel drops after
// having been up (error).
func follow(ctx context.Context, c sessionView, events <-chan bool, ticks <-chan time.Time, out *jsonhelper.Lines, stats func() statusLine) error {
	wasUp := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			_ = out.Write(snapshotLine(fmt.Sprintf("running=%t", v), c))
			if v {
				wasUp = true
				continue
			}
			if wasUp {
				if cause := c.LastError(); cause != nil {
					return fmt.Errorf("tunnel went down: %w", cause)
				}
				return errors.New("tunnel went down")
			}
		case <-ticks:
			_ = out.Write(stats())
		}
	}
}

func shutdown(e *env, c *session.Coordinator) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.stopTimeout())
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		zap.S().Errorw("stop failed", "error", err)
		return err
	}
	zap.S().Info("tunnel down")
	return nil
}

func init() {
	upCmd.Flags().StringVarP(&upProfile, "profile", "p", "", "tunnel profile (.toml or wg-quick .conf)")
	upCmd.Flags().BoolVarP(&upYes, "yes", "y", false, "grant the VPN permission without asking")
	upCmd.Flags().StringVar(&upMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	upCmd.Flags().DurationVar(&upStatusInterval, "status-interval", 30*time.Second, "how often to print handshake and traffic counters")
	rootCmd.AddCommand(upCmd)
}
