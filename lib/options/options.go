// Package options implements the per-call configuration model of the
// bridge: a fully resolved Options value attached to every command, an
// Override overlay for per-call adjustments, and the merge/validate rules
// between them. Defaults are built once from the bridge configuration at
// connect time and passed in explicitly; this package keeps no global
// state.
package options

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/thanos/couchbase-ex/lib/cberr"
)

// --------------------------------------------------------------------------
// Durability Definition
// --------------------------------------------------------------------------

// Durability selects how many cluster nodes must acknowledge a write
// before it counts as successful.
type Durability uint8

const (
	DurabilityNone               Durability = iota // Write is acknowledged by the active node only
	DurabilityMajority                             // A majority of replicas has the write in memory
	DurabilityMajorityAndPersist                   // Majority in memory, persisted on the active node
	DurabilityPersistToMajority                    // A majority of replicas has persisted the write
)

// String returns the wire representation of a Durability level.
func (d Durability) String() string {
	switch d {
	case DurabilityNone:
		return "none"
	case DurabilityMajority:
		return "majority"
	case DurabilityMajorityAndPersist:
		return "majority_and_persist"
	case DurabilityPersistToMajority:
		return "persist_to_majority"
	default:
		return "invalid"
	}
}

// valid reports whether d is inside the closed enum.
func (d Durability) valid() bool {
	return d <= DurabilityPersistToMajority
}

// ParseDurability converts the wire representation back to a Durability.
func ParseDurability(s string) (Durability, error) {
	switch s {
	case "none":
		return DurabilityNone, nil
	case "majority":
		return DurabilityMajority, nil
	case "majority_and_persist":
		return DurabilityMajorityAndPersist, nil
	case "persist_to_majority":
		return DurabilityPersistToMajority, nil
	default:
		return DurabilityNone, fmt.Errorf("unknown durability level: %q", s)
	}
}

// MarshalJSON implements the json.Marshaller interface for Durability.
func (d Durability) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Durability.
func (d *Durability) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDurability(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// --------------------------------------------------------------------------
// Options Structure
// --------------------------------------------------------------------------

// Options is the resolved per-call configuration attached to outgoing
// commands. Values are filled from the process-wide defaults and per-call
// overrides via Resolve; a resolved Options is immutable and safe to share.
//
// TimeoutMS is the explicit per-call timeout; zero means "not set", in
// which case the category timeout (operation or query) applies.
// ExpirySeconds is nil when the caller requested no expiry.
type Options struct {
	Bucket              string
	TimeoutMS           int64
	ExpirySeconds       *int64
	Durability          Durability
	QueryParams         []any
	PoolSize            int
	ConnectionTimeoutMS int64
	QueryTimeoutMS      int64
	OperationTimeoutMS  int64
}

// Validate checks the resolved invariants. Every failure is a
// *cberr.Error with ReasonInvalidOptions naming the offending field.
func (o *Options) Validate() error {
	if o.Bucket == "" {
		return cberr.New(cberr.ReasonInvalidOptions, "options: bucket must not be empty")
	}
	if o.TimeoutMS < 0 {
		return cberr.Newf(cberr.ReasonInvalidOptions, "options: timeout_ms must be > 0, got %d", o.TimeoutMS)
	}
	if o.ExpirySeconds != nil && *o.ExpirySeconds < 0 {
		return cberr.Newf(cberr.ReasonInvalidOptions, "options: expiry_s must be >= 0, got %d", *o.ExpirySeconds)
	}
	if !o.Durability.valid() {
		return cberr.Newf(cberr.ReasonInvalidOptions, "options: durability must be one of none, majority, majority_and_persist, persist_to_majority, got %d", o.Durability)
	}
	if o.PoolSize <= 0 {
		return cberr.Newf(cberr.ReasonInvalidOptions, "options: pool_size must be > 0, got %d", o.PoolSize)
	}
	if o.ConnectionTimeoutMS <= 0 {
		return cberr.Newf(cberr.ReasonInvalidOptions, "options: connection_timeout_ms must be > 0, got %d", o.ConnectionTimeoutMS)
	}
	if o.QueryTimeoutMS <= 0 {
		return cberr.Newf(cberr.ReasonInvalidOptions, "options: query_timeout_ms must be > 0, got %d", o.QueryTimeoutMS)
	}
	if o.OperationTimeoutMS <= 0 {
		return cberr.Newf(cberr.ReasonInvalidOptions, "options: operation_timeout_ms must be > 0, got %d", o.OperationTimeoutMS)
	}
	return nil
}

// --------------------------------------------------------------------------
// Timeout helpers
// --------------------------------------------------------------------------

// KVTimeout returns the caller-side wait budget for key-value commands:
// the explicit per-call timeout if set, the operation timeout otherwise.
func (o *Options) KVTimeout() time.Duration {
	ms := o.OperationTimeoutMS
	if o.TimeoutMS > 0 {
		ms = o.TimeoutMS
	}
	return time.Duration(ms) * time.Millisecond
}

// QueryTimeout returns the caller-side wait budget for query commands.
func (o *Options) QueryTimeout() time.Duration {
	ms := o.QueryTimeoutMS
	if o.TimeoutMS > 0 {
		ms = o.TimeoutMS
	}
	return time.Duration(ms) * time.Millisecond
}

// ConnectTimeout returns the readiness-handshake budget.
func (o *Options) ConnectTimeout() time.Duration {
	return time.Duration(o.ConnectionTimeoutMS) * time.Millisecond
}

// --------------------------------------------------------------------------
// Wire normalization
// --------------------------------------------------------------------------

// WireParams normalizes the options into the params every command carries
// on the wire. query selects the query timeout instead of the key-value
// timeout. Durability and expiry are omitted when not requested so the
// wire stays minimal.
func (o *Options) WireParams(query bool) map[string]any {
	timeout := o.KVTimeout()
	if query {
		timeout = o.QueryTimeout()
	}

	params := map[string]any{
		"bucket":  o.Bucket,
		"timeout": timeout.Milliseconds(),
	}
	if o.Durability != DurabilityNone {
		params["durability"] = o.Durability.String()
	}
	if o.ExpirySeconds != nil && *o.ExpirySeconds > 0 {
		params["expiry"] = *o.ExpirySeconds
	}
	return params
}
