// Package cluster defines the operation surface of the bridge.
//
// ICluster is the contract the rest of the program codes against: the CLI
// commands, the benchmarks and the tests all speak to a cluster through this
// interface and never to the worker process directly. The canonical
// implementation lives in bridge/client and proxies every call over the wire
// protocol; tests are free to substitute their own.
package cluster

import (
	"github.com/thanos/couchbase-ex/lib/options"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// ICluster is the generic interface for interacting with a Couchbase cluster
// through the bridge. All operations accept an optional per-call override
// (nil means "use the connection defaults") and return a typed result along
// with an error that is always a *cberr.Error under the hood.
type ICluster interface {
	// Get fetches a document by key.
	Get(key string, opts *options.Override) (*Document, error)
	// Set stores a document regardless of whether the key already exists.
	Set(key string, value any, opts *options.Override) (*MutationResult, error)
	// Insert stores a document only if the key does not exist yet.
	Insert(key string, value any, opts *options.Override) (*MutationResult, error)
	// Replace stores a document only if the key already exists.
	Replace(key string, value any, opts *options.Override) (*MutationResult, error)
	// Upsert is an alias family member of Set kept separate because the two
	// verbs are distinct on the wire.
	Upsert(key string, value any, opts *options.Override) (*MutationResult, error)
	// Delete removes a document by key.
	Delete(key string, opts *options.Override) (*MutationResult, error)
	// Exists reports whether a document with the given key exists.
	Exists(key string, opts *options.Override) (bool, error)
	// Query runs a N1QL statement. Positional parameters travel in the
	// override's query_params field.
	Query(statement string, opts *options.Override) (*QueryResult, error)
	// LookupIn reads one or more paths inside a document without fetching
	// the whole document.
	LookupIn(key string, specs []LookupSpec, opts *options.Override) (*LookupInResult, error)
	// MutateIn applies one or more path-level mutations to a document
	// atomically.
	MutateIn(key string, specs []MutateSpec, opts *options.Override) (*MutateInResult, error)
	// Ping actively probes the cluster services and reports per-endpoint
	// latency.
	Ping(opts *options.Override) (*PingReport, error)
	// Diagnostics returns the current connection state as seen by the
	// worker, without generating new traffic.
	Diagnostics(opts *options.Override) (*DiagnosticsReport, error)
	// Close terminates the connection and the worker process behind it.
	// Closing an already closed cluster is a no-op.
	Close() error
}
