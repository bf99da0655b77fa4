package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/thanos/couchbase-ex/cmd/diag"
	"github.com/thanos/couchbase-ex/cmd/kv"
	"github.com/thanos/couchbase-ex/cmd/mockworker"
	"github.com/thanos/couchbase-ex/cmd/query"
	"github.com/thanos/couchbase-ex/cmd/util"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "cbx",
		Short: "Couchbase worker bridge",
		Long: fmt.Sprintf(`cbx (v%s)

A bridge to Couchbase clusters that relays every operation to a
supervised worker process over a line-delimited JSON protocol,
matching responses back to their callers by request id.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of cbx",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cbx v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(query.QueryCmd)
	RootCmd.AddCommand(diag.DiagCommands)
	RootCmd.AddCommand(mockworker.MockWorkerCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("Log level for all bridge subsystems (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
