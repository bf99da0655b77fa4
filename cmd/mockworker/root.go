package mockworker

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/thanos/couchbase-ex/bridge/mock"
	"github.com/thanos/couchbase-ex/cmd/util"
)

// MockWorkerCmd runs the in-memory worker that the bridge spawns by default
// when no --worker-path is configured. It is not meant to be invoked by hand:
// the supervisor starts it, feeds commands on stdin and reads responses from
// stdout.
var MockWorkerCmd = &cobra.Command{
	Use:   "mock-worker",
	Short: "Runs the built-in in-memory worker process",
	Long: util.WrapString(
		"Speaks the line-delimited JSON worker protocol on stdin/stdout against " +
			"an in-memory bucket instead of a real cluster. The supervisor spawns " +
			"this command automatically when no worker executable is configured, " +
			"which makes the CLI fully usable without a running Couchbase. " +
			"Fault injection for tests is controlled through CBX_MOCK_* " +
			"environment variables.",
	),
	Hidden: true,
	// The worker owns its own flag parsing (it implements the exact launch
	// contract the supervisor uses), so cobra must pass the args through
	// untouched.
	DisableFlagParsing: true,
	Run: func(_ *cobra.Command, args []string) {
		os.Exit(mock.Main(args))
	},
}
