package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/rwatch/internal/coordinator"
	"github.com/srg/rwatch/internal/router"
	"github.com/srg/rwatch/internal/routerapi"
	"github.com/srg/rwatch/internal/snmppoll"
	"github.com/srg/rwatch/internal/stats"
	"github.com/srg/rwatch/pkg/config"
)

// monitorCmd connects to one configured router and keeps its data fresh.
var monitorCmd = &cobra.Command{
	Use:   "monitor [target-name]",
	Short: "Connect to a router and monitor it",
	Long: `Connect to a configured router and periodically refresh its system
info, interfaces, DHCP leases and recent log entries. With SNMP polling
enabled for the target, live throughput rates are shown as well.

Press Ctrl+C to disconnect and exit.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMonitor,
}

var (
	monitorVerbose bool
	monitorOnce    bool
)

func init() {
	monitorCmd.Flags().BoolVar(&monitorVerbose, "verbose", false, "Enable debug logging")
	monitorCmd.Flags().BoolVar(&monitorOnce, "once", false, "Fetch once and exit instead of watching")
}

var (
	statusColor = map[router.ConnState]*color.Color{
		router.StateDisconnected: color.New(color.FgYellow),
		router.StateConnecting:   color.New(color.FgCyan),
		router.StateConnected:    color.New(color.FgGreen),
		router.StateFailed:       color.New(color.FgRed),
	}
)

func runMonitor(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg.LogLevel)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	targets := cfg.BuildTargets()
	if len(targets) == 0 {
		return fmt.Errorf("no targets configured in %s", configPath)
	}

	collector := stats.NewCollector(logger)
	client := routerapi.NewClient(logger)
	poller := snmppoll.New(collector, logger)

	coord, err := coordinator.New(client, poller, collector, targets, logger)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		if !selectByName(coord, args[0]) {
			return fmt.Errorf("unknown target %q", args[0])
		}
	}

	// Print every status line change as the coordinator reports it.
	subID := coord.Subscribe(func(ev coordinator.Event) {
		if ev.Field == coordinator.FieldStatus {
			fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05"), ev.Snapshot.Status)
		}
	})
	defer coord.Unsubscribe(subID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, disconnecting...")
		cancel()
	}()

	if err := coord.Connect(ctx); err != nil {
		return err
	}
	t := coord.Selected()
	if t.Status().State != router.StateConnected {
		return fmt.Errorf("could not connect to %s: %s", t.Name, t.Status().Text())
	}

	printSummary(coord, collector)
	if monitorOnce {
		coord.Disconnect()
		return nil
	}

	ticker := time.NewTicker(time.Duration(cfg.RefreshInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			coord.Disconnect()
			return nil
		case <-ticker.C:
			if err := coord.Refresh(ctx); err != nil {
				logger.WithError(err).Warn("refresh failed")
				continue
			}
			printSummary(coord, collector)
		}
	}
}

// selectByName moves the coordinator selection to the named target.
func selectByName(coord *coordinator.Coordinator, name string) bool {
	for _, t := range coord.Targets() {
		if t.Name == name {
			return coord.Select(t.ID)
		}
	}
	return false
}

func printSummary(coord *coordinator.Coordinator, collector *stats.Collector) {
	t := coord.Selected()
	if t == nil {
		return
	}

	status := t.Status()
	c, ok := statusColor[status.State]
	if !ok {
		c = color.New(color.Reset)
	}
	fmt.Printf("\n%s (%s) - %s\n", t.Name, t.Address, c.Sprint(status.Text()))

	info := t.SystemInfo()
	if info.BoardName != "" {
		fmt.Printf("  %s, RouterOS %s, up %s, CPU %d%%\n",
			info.BoardName, info.Version, info.Uptime, info.CPULoad)
	}

	ifaces := t.Interfaces()
	if len(ifaces) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  INTERFACE\tTYPE\tSTATE\tRX\tTX")
		for _, iface := range ifaces {
			state := "down"
			if iface.Running {
				state = "up"
			}
			if iface.Disabled {
				state = "disabled"
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
				iface.Name, iface.Type, state,
				formatBytes(iface.RxBytes), formatBytes(iface.TxBytes))
		}
		_ = w.Flush()
	}

	fmt.Printf("  %d DHCP leases, %d recent log entries\n",
		len(t.Leases()), len(t.LogEntries()))

	if rate, ok := collector.Latest(t.ID); ok {
		fmt.Printf("  Throughput: %s down / %s up\n",
			formatBits(rate.RxBitsPerSec), formatBits(rate.TxBitsPerSec))
	}
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatBits(bps float64) string {
	units := []string{"bps", "kbps", "Mbps", "Gbps"}
	i := 0
	for bps >= 1000 && i < len(units)-1 {
		bps /= 1000
		i++
	}
	return fmt.Sprintf("%.1f %s", bps, units[i])
}
