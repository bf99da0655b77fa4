// Package cmd implements the command-line interface for the cbx Couchbase
// bridge. It provides a hierarchical command structure for talking to a
// cluster through a supervised worker process.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for document operations (get, set, delete, sub-document, etc.)
//   - query: Commands for running N1QL statements
//   - diag: Commands for health probes, configuration and metrics
//   - mockworker: The built-in mock worker process
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See cbx -help for a list of all commands.
package cmd
