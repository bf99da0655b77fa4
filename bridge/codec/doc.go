// Package codec provides the line framing for the bridge wire protocol. It
// defines a common interface and the JSON-line implementation used to encode
// commands for the worker's stdin and to decode the responses arriving on
// its stdout.
//
// The package focuses on:
//   - Framing exactly one message per newline-terminated line
//   - Translating encode and decode failures into the bridge error taxonomy
//   - Keeping the wire representation independent of the supervisor and
//     correlator layers that sit on top of it
//
// Key Components:
//
//   - ICodec: Core interface that all codec implementations must satisfy.
//
//   - jsonLineCodec: Implementation using JSON encoding with newline
//     framing. This is the format the worker speaks; alternative codecs
//     exist only so tests can substitute failing or recording codecs.
//
// Thread Safety:
//
//	All codec implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
package codec
