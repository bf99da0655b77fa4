package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/thanos/couchbase-ex/lib/cberr"
)

// --------------------------------------------------------------------------
// Bridge configuration struct
// --------------------------------------------------------------------------

// Default values applied by WithDefaults for fields left at their zero
// value. Timeouts follow the usual server defaults: key-value operations
// are expected to be fast, queries are not.
const (
	DefaultConnectionTimeoutMS = 10000
	DefaultOperationTimeoutMS  = 2500
	DefaultQueryTimeoutMS      = 75000
	DefaultShutdownGraceMS     = 3000
	DefaultPoolSize            = 4
	DefaultLogLevel            = "info"
)

// allowedSchemes is the connection string scheme allow-list. The worker
// rejects anything else anyway; checking here fails fast without spawning.
var allowedSchemes = []string{"couchbase", "couchbases"}

// Config holds all parameters for one bridge connection: how to reach the
// cluster, where the worker executable lives, and the process-wide timeout
// defaults that seed the per-call options.
//
// A Config is treated as immutable once passed to the bridge.
type Config struct {
	// Cluster connection parameters (handed to the worker as process args)
	ConnectionString string
	Username         string
	Password         string
	Bucket           string
	PoolSize         int

	// Worker process parameters
	WorkerPath      string
	ShutdownGraceMS int64

	// Timeout defaults in milliseconds
	ConnectionTimeoutMS int64
	OperationTimeoutMS  int64
	QueryTimeoutMS      int64

	// Logging configuration
	LogLevel string
}

// WithDefaults returns a copy of the config with every zero-valued optional
// field replaced by its default. Connection string, bucket and worker path
// have no defaults and are checked by Validate.
func (c Config) WithDefaults() Config {
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.ConnectionTimeoutMS == 0 {
		c.ConnectionTimeoutMS = DefaultConnectionTimeoutMS
	}
	if c.OperationTimeoutMS == 0 {
		c.OperationTimeoutMS = DefaultOperationTimeoutMS
	}
	if c.QueryTimeoutMS == 0 {
		c.QueryTimeoutMS = DefaultQueryTimeoutMS
	}
	if c.ShutdownGraceMS == 0 {
		c.ShutdownGraceMS = DefaultShutdownGraceMS
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	return c
}

// Validate checks the config for use by the bridge. All returned errors are
// *cberr.Error values: connection string problems carry
// ReasonInvalidConnectionParams, everything else ReasonInvalidOptions.
func (c *Config) Validate() error {
	if err := ValidateConnectionString(c.ConnectionString); err != nil {
		return err
	}
	if c.Bucket == "" {
		return cberr.New(cberr.ReasonInvalidOptions, "config: bucket must not be empty")
	}
	if c.WorkerPath == "" {
		return cberr.New(cberr.ReasonInvalidOptions, "config: worker path must not be empty")
	}
	if c.PoolSize <= 0 {
		return cberr.New(cberr.ReasonInvalidOptions, fmt.Sprintf("config: pool size must be > 0, got %d", c.PoolSize))
	}
	if c.ConnectionTimeoutMS <= 0 {
		return cberr.New(cberr.ReasonInvalidOptions, fmt.Sprintf("config: connection timeout must be > 0 ms, got %d", c.ConnectionTimeoutMS))
	}
	if c.OperationTimeoutMS <= 0 {
		return cberr.New(cberr.ReasonInvalidOptions, fmt.Sprintf("config: operation timeout must be > 0 ms, got %d", c.OperationTimeoutMS))
	}
	if c.QueryTimeoutMS <= 0 {
		return cberr.New(cberr.ReasonInvalidOptions, fmt.Sprintf("config: query timeout must be > 0 ms, got %d", c.QueryTimeoutMS))
	}
	if c.ShutdownGraceMS <= 0 {
		return cberr.New(cberr.ReasonInvalidOptions, fmt.Sprintf("config: shutdown grace must be > 0 ms, got %d", c.ShutdownGraceMS))
	}
	return nil
}

// ValidateConnectionString checks the scheme against the allow-list and
// requires a non-empty host part.
func ValidateConnectionString(cs string) error {
	if cs == "" {
		return cberr.New(cberr.ReasonInvalidConnectionParams, "connection string must not be empty")
	}
	scheme, rest, found := strings.Cut(cs, "://")
	if !found {
		return cberr.New(cberr.ReasonInvalidConnectionParams, fmt.Sprintf(
			"connection string %q has no scheme, expected one of: %s://", cs, strings.Join(allowedSchemes, "://, ")))
	}
	valid := false
	for _, s := range allowedSchemes {
		if scheme == s {
			valid = true
			break
		}
	}
	if !valid {
		return cberr.New(cberr.ReasonInvalidConnectionParams, fmt.Sprintf(
			"connection string scheme %q is not allowed, expected one of: %s", scheme, strings.Join(allowedSchemes, ", ")))
	}
	if rest == "" {
		return cberr.New(cberr.ReasonInvalidConnectionParams, fmt.Sprintf("connection string %q has no host", cs))
	}
	return nil
}

// ConnectTimeout returns the readiness handshake deadline as a duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutMS) * time.Millisecond
}

// OperationTimeout returns the default per-call deadline as a duration.
func (c *Config) OperationTimeout() time.Duration {
	return time.Duration(c.OperationTimeoutMS) * time.Millisecond
}

// ShutdownGrace returns how long Close waits for the worker to exit on its
// own before force-killing it.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceMS) * time.Millisecond
}

// --------------------------------------------------------------------------
// helper functions to interface with the worker process
// --------------------------------------------------------------------------

// WorkerArgs builds the launch argument list for the worker executable. All
// flags are string-valued per the worker contract; --timeout carries the
// operation timeout in milliseconds.
func (c *Config) WorkerArgs() []string {
	return []string{
		"--connection-string", c.ConnectionString,
		"--username", c.Username,
		"--password", c.Password,
		"--bucket", c.Bucket,
		"--timeout", strconv.FormatInt(c.OperationTimeoutMS, 10),
		"--pool-size", strconv.Itoa(c.PoolSize),
	}
}

// String returns a formatted string representation of the configuration.
// The password is never printed.
func (c *Config) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	password := "(not set)"
	if c.Password != "" {
		password = "********"
	}

	// Cluster connection
	addSection("Cluster Connection")
	addField("Connection String", c.ConnectionString)
	addField("Bucket", c.Bucket)
	addField("Username", c.Username)
	addField("Password", password)
	addField("Pool Size", strconv.Itoa(c.PoolSize))

	// Worker process
	addSection("Worker Process")
	addField("Executable", c.WorkerPath)
	addField("Shutdown Grace", fmt.Sprintf("%d ms", c.ShutdownGraceMS))

	// Timeouts
	addSection("Timeouts")
	addField("Connection Timeout", fmt.Sprintf("%d ms", c.ConnectionTimeoutMS))
	addField("Operation Timeout", fmt.Sprintf("%d ms", c.OperationTimeoutMS))
	addField("Query Timeout", fmt.Sprintf("%d ms", c.QueryTimeoutMS))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
