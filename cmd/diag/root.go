package diag

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/thanos/couchbase-ex/cmd/util"
	"github.com/thanos/couchbase-ex/lib/cluster"
)

var (
	// The shared cluster connection, created per subcommand by setupCluster.
	// The config subcommand never connects, so no worker is spawned for it.
	clus cluster.ICluster

	// DiagCommands groups the health and configuration inspection commands.
	DiagCommands = &cobra.Command{
		Use:   "diag",
		Short: "Inspect the health of the bridge and its cluster connection",
	}

	pingCmd = &cobra.Command{
		Use:      "ping",
		Short:    "Actively probes every cluster service and reports latencies",
		Args:     cobra.NoArgs,
		PreRunE:  setupCluster,
		PostRunE: teardownCluster,
		RunE:     runPing,
	}

	healthCmd = &cobra.Command{
		Use:      "health",
		Short:    "Shows the connection state the worker currently holds",
		Args:     cobra.NoArgs,
		PreRunE:  setupCluster,
		PostRunE: teardownCluster,
		RunE:     runHealth,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Prints the effective bridge configuration without connecting",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return util.BindCommandFlags(cmd)
		},
		RunE: runConfig,
	}

	metricsCmd = &cobra.Command{
		Use:      "metrics",
		Short:    "Dumps bridge metrics in Prometheus text format",
		Long:     util.WrapString("Connects to the cluster, runs a single ping so the counters carry traffic, and writes every bridge metric to stdout in Prometheus text format."),
		Args:     cobra.NoArgs,
		PreRunE:  setupCluster,
		PostRunE: teardownCluster,
		RunE:     runMetrics,
	}
)

func init() {
	// This method ensures that the config for the client is loaded every time
	// a command is executed
	cobra.OnInitialize(util.InitClientConfig)

	// add default flags
	util.SetupBridgeFlags(DiagCommands)
	util.SetupCallFlags(DiagCommands)

	// add subcommands
	DiagCommands.AddCommand(pingCmd)
	DiagCommands.AddCommand(healthCmd)
	DiagCommands.AddCommand(configCmd)
	DiagCommands.AddCommand(metricsCmd)
}

// setupCluster binds the flags and connects to the cluster (this spawns the
// worker process)
func setupCluster(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	var err error
	clus, err = util.ConnectCluster()
	return err
}

// teardownCluster closes the connection and terminates the worker
func teardownCluster(_ *cobra.Command, _ []string) error {
	if clus == nil {
		return nil
	}
	return clus.Close()
}

// --------------------------------------------------------------------------
// Subcommand Implementations
// --------------------------------------------------------------------------

func runPing(_ *cobra.Command, _ []string) error {
	ov, err := util.GetCallOverride()
	if err != nil {
		return err
	}

	report, err := clus.Ping(ov)
	if err != nil {
		return err
	}

	title := pterm.NewStyle(pterm.FgCyan, pterm.Bold).Sprint("Ping " + report.ReportID)
	box := pterm.DefaultBox.WithTitle(title).WithTopPadding(1).WithBottomPadding(1).WithLeftPadding(1).WithRightPadding(1).Sprint(formatServices(report.Services))
	pterm.Println(box)
	return nil
}

func runHealth(_ *cobra.Command, _ []string) error {
	ov, err := util.GetCallOverride()
	if err != nil {
		return err
	}

	report, err := clus.Diagnostics(ov)
	if err != nil {
		return err
	}

	details := formatServices(report.Services)
	if report.SDK != "" {
		details = fmt.Sprintf("SDK: %s\n\n%s", report.SDK, details)
	}

	title := pterm.NewStyle(pterm.FgCyan, pterm.Bold).Sprint("Diagnostics " + report.ReportID)
	box := pterm.DefaultBox.WithTitle(title).WithTopPadding(1).WithBottomPadding(1).WithLeftPadding(1).WithRightPadding(1).Sprint(details)
	pterm.Println(box)
	return nil
}

func runConfig(_ *cobra.Command, _ []string) error {
	cfg := util.GetBridgeConfig()
	fmt.Println(cfg.String())
	return nil
}

func runMetrics(_ *cobra.Command, _ []string) error {
	// One real round trip so the command and latency counters are not empty.
	if _, err := clus.Ping(nil); err != nil {
		pterm.Warning.Printf("ping failed, metrics may be empty: %v\n", err)
	}
	metrics.WritePrometheus(os.Stdout, true)
	return nil
}

// formatServices renders one aligned row per endpoint for the report boxes.
func formatServices(services []cluster.EndpointReport) string {
	if len(services) == 0 {
		return "(no services reported)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %-12s %-24s %s", "SERVICE", "STATE", "REMOTE", "LATENCY")
	for _, s := range services {
		remote := s.Remote
		if remote == "" {
			remote = "-"
		}
		latency := "-"
		if s.LatencyUS > 0 {
			latency = (time.Duration(s.LatencyUS) * time.Microsecond).String()
		}
		fmt.Fprintf(&b, "\n%-10s %-12s %-24s %s", s.Service, s.State, remote, latency)
	}
	return b.String()
}
