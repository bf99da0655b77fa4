// Package client provides the canonical cluster.ICluster implementation:
// a thin, synchronous facade over a supervised worker process.
//
// The package focuses on:
//
//   - Lifecycle: Connect validates the configuration, spawns the worker
//     through bridge/worker and waits for the readiness handshake before
//     returning a usable handle.
//   - Call plumbing: every operation resolves its per-call options against
//     the connection defaults, normalizes them into wire params, dispatches
//     the command and blocks until the response arrives or the caller-side
//     timeout fires.
//   - Result shaping: raw response payloads are decoded into the typed
//     results of lib/cluster; worker error payloads are classified into
//     *cberr.Error values via their provider codes.
//
// Key Components:
//
//   - Client: implements cluster.ICluster; one instance per connection
//   - Connect: the only constructor, wires supervisor, codec and defaults
//
// Thread Safety:
//
// A Client is safe for concurrent use. Calls from different goroutines are
// multiplexed over the single worker pipe and matched back to their callers
// by request id, so no external locking is required.
package client
