package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/rwatch/pkg/config"
)

// targetsCmd lists the routers defined in the config file.
var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List configured router targets",
	Long: `List the router targets defined in the config file, with their
addresses and SNMP polling settings.`,
	RunE: runTargets,
}

func runTargets(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	if len(cfg.Targets) == 0 {
		fmt.Println("No targets configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tPORT\tUSER\tTLS\tSNMP")
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for _, t := range cfg.Targets {
		snmp := "off"
		if t.SNMP.Enabled {
			snmp = fmt.Sprintf("every %s", time.Duration(t.SNMP.Interval))
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%v\t%s\n",
			t.Name, t.Address, t.Port, t.Username, t.TLS, snmp)
	}
	return w.Flush()
}
