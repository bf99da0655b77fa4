package util

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/thanos/couchbase-ex/bridge/client"
	"github.com/thanos/couchbase-ex/bridge/common"
	"github.com/thanos/couchbase-ex/lib/cluster"
	"github.com/thanos/couchbase-ex/lib/options"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupBridgeFlags adds the shared cluster connection flags to a command
func SetupBridgeFlags(cmd *cobra.Command) {
	key := "connection-string"
	cmd.PersistentFlags().String(key, "couchbase://localhost", WrapString("Connection string of the cluster (couchbase:// or couchbases://)"))

	key = "username"
	cmd.PersistentFlags().String(key, "", WrapString("Username for cluster authentication"))

	key = "password"
	cmd.PersistentFlags().String(key, "", WrapString("Password for cluster authentication"))

	key = "bucket"
	cmd.PersistentFlags().String(key, "default", WrapString("Bucket every operation targets unless overridden per call"))

	key = "worker-path"
	cmd.PersistentFlags().String(key, "", WrapString("Worker executable to spawn. Multi-word values are split into executable and leading arguments. Empty selects the built-in mock worker"))

	key = "pool-size"
	cmd.PersistentFlags().Int(key, common.DefaultPoolSize, WrapString("Connection pool size handed to the worker"))

	key = "connection-timeout-ms"
	cmd.PersistentFlags().Int64(key, common.DefaultConnectionTimeoutMS, WrapString("How long to wait for the worker readiness handshake (in milliseconds)"))

	key = "operation-timeout-ms"
	cmd.PersistentFlags().Int64(key, common.DefaultOperationTimeoutMS, WrapString("Default deadline for key-value operations (in milliseconds)"))

	key = "query-timeout-ms"
	cmd.PersistentFlags().Int64(key, common.DefaultQueryTimeoutMS, WrapString("Default deadline for query operations (in milliseconds)"))

	key = "shutdown-grace-ms"
	cmd.PersistentFlags().Int64(key, common.DefaultShutdownGraceMS, WrapString("How long to wait for the worker to exit on close before killing it (in milliseconds)"))
}

// SetupCallFlags adds the per-call option flags to a command
func SetupCallFlags(cmd *cobra.Command) {
	key := "timeout-ms"
	cmd.PersistentFlags().Int64(key, 0, WrapString("Per-call timeout override in milliseconds (0 uses the category default)"))

	key = "expiry-s"
	cmd.PersistentFlags().Int64(key, 0, WrapString("Document expiry in seconds for write operations (0 means no expiry)"))

	key = "durability"
	cmd.PersistentFlags().String(key, "", WrapString("Durability level for writes: none, majority, majority_and_persist, persist_to_majority"))
}

// InitClientConfig initializes configuration from environment variables
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("cbx")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetBridgeConfig reads the bridge configuration from viper. An unset
// worker path falls back to this binary's own mock-worker subcommand so
// the CLI works out of the box without a provider worker.
func GetBridgeConfig() common.Config {
	cfg := common.Config{
		ConnectionString:    viper.GetString("connection-string"),
		Username:            viper.GetString("username"),
		Password:            viper.GetString("password"),
		Bucket:              viper.GetString("bucket"),
		PoolSize:            viper.GetInt("pool-size"),
		WorkerPath:          viper.GetString("worker-path"),
		ConnectionTimeoutMS: viper.GetInt64("connection-timeout-ms"),
		OperationTimeoutMS:  viper.GetInt64("operation-timeout-ms"),
		QueryTimeoutMS:      viper.GetInt64("query-timeout-ms"),
		ShutdownGraceMS:     viper.GetInt64("shutdown-grace-ms"),
		LogLevel:            viper.GetString("log-level"),
	}

	if cfg.WorkerPath == "" {
		if exe, err := os.Executable(); err == nil {
			cfg.WorkerPath = exe + " mock-worker"
		}
	}

	return cfg.WithDefaults()
}

// GetCallOverride builds the per-call option override from viper. Only
// explicitly set flags end up in the override; nil means "defaults only".
func GetCallOverride() (*options.Override, error) {
	m := map[string]any{}
	if v := viper.GetInt64("timeout-ms"); v > 0 {
		m["timeout_ms"] = v
	}
	if v := viper.GetInt64("expiry-s"); v > 0 {
		m["expiry_s"] = v
	}
	if v := viper.GetString("durability"); v != "" {
		m["durability"] = v
	}
	if len(m) == 0 {
		return nil, nil
	}
	return options.FromMap(m)
}

// ConnectCluster initializes logging, builds the bridge configuration and
// opens the connection (spawning the worker process).
func ConnectCluster() (cluster.ICluster, error) {
	cfg := GetBridgeConfig()
	common.InitLoggers(cfg.LogLevel)
	return client.Connect(cfg)
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
