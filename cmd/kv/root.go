package kv

import (
	"github.com/spf13/cobra"
	"github.com/thanos/couchbase-ex/cmd/util"
	"github.com/thanos/couchbase-ex/lib/cluster"
)

var (
	clus cluster.ICluster

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Perform document operations",
		PersistentPreRunE:  setupCluster,
		PersistentPostRunE: teardownCluster,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common bridge flags to the KV command
	util.SetupBridgeFlags(KeyValueCommands)
	util.SetupCallFlags(KeyValueCommands)

	// Add subcommands
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(insertCmd)
	KeyValueCommands.AddCommand(replaceCmd)
	KeyValueCommands.AddCommand(upsertCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(existsCmd)
	KeyValueCommands.AddCommand(lookupCmd)
	KeyValueCommands.AddCommand(mutateCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// setupCluster connects to the cluster through the worker bridge
func setupCluster(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	clus, err = util.ConnectCluster()
	return err
}

// teardownCluster closes the connection and the worker process behind it
func teardownCluster(_ *cobra.Command, _ []string) error {
	if clus != nil {
		return clus.Close()
	}
	return nil
}
