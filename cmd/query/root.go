package query

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/thanos/couchbase-ex/cmd/util"
	"github.com/thanos/couchbase-ex/lib/cluster"
	"github.com/thanos/couchbase-ex/lib/options"
)

var (
	// The shared cluster connection, created by the pre-run hook below
	clus cluster.ICluster

	// QueryCmd runs a single N1QL statement against the cluster.
	QueryCmd = &cobra.Command{
		Use:   "query [statement]",
		Short: "Runs a N1QL statement",
		Long: util.WrapString(
			"Runs a N1QL statement against the connected cluster and prints every " +
				"result row as one JSON document per line. Positional parameters " +
				"($1, $2, ...) are supplied with repeated --param flags.",
		),
		Args:               cobra.ExactArgs(1),
		PersistentPreRunE:  setupCluster,
		PersistentPostRunE: teardownCluster,
		RunE:               runQuery,
	}
)

func init() {
	// This method ensures that the config for the client is loaded every time
	// a command is executed
	cobra.OnInitialize(util.InitClientConfig)

	// add default flags
	util.SetupBridgeFlags(QueryCmd)
	util.SetupCallFlags(QueryCmd)

	// add flags
	key := "param"
	QueryCmd.Flags().StringArray(key, nil, util.WrapString("Positional statement parameter (repeatable). Values are parsed as JSON, bare words count as strings"))
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

func runQuery(cmd *cobra.Command, args []string) error {
	ov, err := util.GetCallOverride()
	if err != nil {
		return err
	}

	if params, _ := cmd.Flags().GetStringArray("param"); len(params) > 0 {
		typed := make([]any, len(params))
		for i, p := range params {
			typed[i] = parseParam(p)
		}
		ov = options.Merge(ov, &options.Override{QueryParams: typed})
	}

	result, err := clus.Query(args[0], ov)
	if err != nil {
		return err
	}

	for _, row := range result.Rows {
		fmt.Println(string(row))
	}
	return nil
}

// parseParam interprets a flag value as JSON if possible so numbers and
// booleans keep their type on the wire; anything else travels as a string.
func parseParam(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
