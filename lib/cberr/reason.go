package cberr

import (
	"encoding/json"
	"time"
)

// --------------------------------------------------------------------------
// Reason Definition
// --------------------------------------------------------------------------

// Reason identifies one failure class out of the closed taxonomy. The zero
// value is ReasonUnknownError so an uninitialized Reason never masquerades
// as a specific failure.
type Reason uint16

const (
	ReasonUnknownError Reason = iota // Fallback for unrecognized provider codes

	// Bridge lifecycle and transport failures (raised locally, never by the worker)

	ReasonNotConnected            // Operation on a handle that is not connected / already closed
	ReasonInvalidOptions          // Per-call or process options failed validation
	ReasonInvalidConnectionParams // Connection string / credentials rejected before spawning
	ReasonConnectionFailed        // Worker could not reach the cluster (incl. readiness timeout)
	ReasonCommunicationFailed     // Writing a command to the worker failed
	ReasonMalformedResponse       // Worker emitted a line that is not a valid response
	ReasonServerExited            // Worker process exited unexpectedly
	ReasonPortDied                // Pipe to the worker broke while the process was still alive
	ReasonServerTerminated        // Bridge shut the worker down while the call was in flight

	// Document failures

	ReasonDocumentNotFound
	ReasonDocumentExists
	ReasonDocumentLocked
	ReasonDocumentNotJSON
	ReasonValueTooLarge
	ReasonCasMismatch

	// Connection failures reported by the cluster

	ReasonConnectionTimeout
	ReasonNetworkError
	ReasonBucketNotFound
	ReasonScopeNotFound
	ReasonCollectionNotFound
	ReasonServiceNotAvailable

	// Authentication failures

	ReasonAuthenticationFailure

	// Operation timeouts

	ReasonTimeout
	ReasonAmbiguousTimeout
	ReasonUnambiguousTimeout

	// Server-side failures

	ReasonTemporaryFailure
	ReasonOutOfMemory
	ReasonInternalError

	// Query failures

	ReasonPlanningFailure
	ReasonIndexNotFound
	ReasonIndexExists
	ReasonQueryCancelled
	ReasonQueryFailure
	ReasonParsingFailure

	// Durability failures

	ReasonDurabilityImpossible
	ReasonDurabilityAmbiguous
	ReasonSyncWriteInProgress
	ReasonSyncWriteReCommitInProgress

	// Sub-document path failures

	ReasonPathNotFound
	ReasonPathExists
	ReasonPathMismatch
	ReasonPathInvalid
	ReasonPathTooDeep
	ReasonValueTooDeep
	ReasonDeltaInvalid

	// Encoding and argument failures

	ReasonEncodingFailure
	ReasonDecodingFailure
	ReasonInvalidArgument

	// Transaction failures

	ReasonTransactionFailed
	ReasonTransactionExpired
	ReasonTransactionCommitAmbiguous
)

// --------------------------------------------------------------------------
// Reason properties
// --------------------------------------------------------------------------

// reasonInfo bundles everything the bridge knows about one reason: its
// display name, canonical message, and retry policy. baseDelay is the
// first-attempt backoff; zero for reasons that must not be retried.
type reasonInfo struct {
	name      string
	message   string
	retryable bool
	baseDelay time.Duration
}

var reasonTable = map[Reason]reasonInfo{
	ReasonUnknownError: {"unknown_error", "unknown error", false, 0},

	ReasonNotConnected:            {"not_connected", "not connected to the cluster", false, 0},
	ReasonInvalidOptions:          {"invalid_options", "invalid options", false, 0},
	ReasonInvalidConnectionParams: {"invalid_connection_params", "invalid connection parameters", false, 0},
	ReasonConnectionFailed:        {"connection_failed", "failed to connect to the cluster", true, 2000 * time.Millisecond},
	ReasonCommunicationFailed:     {"communication_failed", "failed to communicate with the worker process", true, 1000 * time.Millisecond},
	ReasonMalformedResponse:       {"malformed_response", "worker sent a malformed response", false, 0},
	ReasonServerExited:            {"server_exited", "worker process exited unexpectedly", false, 0},
	ReasonPortDied:                {"port_died", "lost the pipe to the worker process", false, 0},
	ReasonServerTerminated:        {"server_terminated", "worker process was terminated", false, 0},

	ReasonDocumentNotFound: {"document_not_found", "document not found", false, 0},
	ReasonDocumentExists:   {"document_exists", "document already exists", false, 0},
	ReasonDocumentLocked:   {"document_locked", "document is locked", true, 300 * time.Millisecond},
	ReasonDocumentNotJSON:  {"document_not_json", "document is not JSON", false, 0},
	ReasonValueTooLarge:    {"value_too_large", "value exceeds the maximum document size", false, 0},
	ReasonCasMismatch:      {"cas_mismatch", "document changed since it was read (CAS mismatch)", false, 0},

	ReasonConnectionTimeout:   {"connection_timeout", "timed out connecting to the cluster", true, 1500 * time.Millisecond},
	ReasonNetworkError:        {"network_error", "network error talking to the cluster", true, 1500 * time.Millisecond},
	ReasonBucketNotFound:      {"bucket_not_found", "bucket not found", false, 0},
	ReasonScopeNotFound:       {"scope_not_found", "scope not found", false, 0},
	ReasonCollectionNotFound:  {"collection_not_found", "collection not found", false, 0},
	ReasonServiceNotAvailable: {"service_not_available", "requested service is not available", true, 1000 * time.Millisecond},

	ReasonAuthenticationFailure: {"authentication_failure", "authentication failed", false, 0},

	ReasonTimeout:            {"timeout", "operation timed out", true, 1000 * time.Millisecond},
	ReasonAmbiguousTimeout:   {"ambiguous_timeout", "operation timed out, outcome unknown", true, 1000 * time.Millisecond},
	ReasonUnambiguousTimeout: {"unambiguous_timeout", "operation timed out before reaching the server", true, 1000 * time.Millisecond},

	ReasonTemporaryFailure: {"temporary_failure", "server reported a temporary failure", true, 500 * time.Millisecond},
	ReasonOutOfMemory:      {"out_of_memory", "server is out of memory", true, 1000 * time.Millisecond},
	ReasonInternalError:    {"internal_error", "server reported an internal error", false, 0},

	ReasonPlanningFailure: {"planning_failure", "query could not be planned", false, 0},
	ReasonIndexNotFound:   {"index_not_found", "index not found", false, 0},
	ReasonIndexExists:     {"index_exists", "index already exists", false, 0},
	ReasonQueryCancelled:  {"query_cancelled", "query was cancelled", false, 0},
	ReasonQueryFailure:    {"query_failure", "query failed", false, 0},
	ReasonParsingFailure:  {"parsing_failure", "query statement could not be parsed", false, 0},

	ReasonDurabilityImpossible:        {"durability_impossible", "requested durability level cannot be satisfied", false, 0},
	ReasonDurabilityAmbiguous:         {"durability_ambiguous", "durable write outcome is ambiguous", true, 1000 * time.Millisecond},
	ReasonSyncWriteInProgress:         {"sync_write_in_progress", "another durable write is in progress", true, 500 * time.Millisecond},
	ReasonSyncWriteReCommitInProgress: {"sync_write_re_commit_in_progress", "a durable write re-commit is in progress", true, 500 * time.Millisecond},

	ReasonPathNotFound: {"path_not_found", "sub-document path not found", false, 0},
	ReasonPathExists:   {"path_exists", "sub-document path already exists", false, 0},
	ReasonPathMismatch: {"path_mismatch", "sub-document path does not match the document structure", false, 0},
	ReasonPathInvalid:  {"path_invalid", "sub-document path is invalid", false, 0},
	ReasonPathTooDeep:  {"path_too_deep", "sub-document path is too deep", false, 0},
	ReasonValueTooDeep: {"value_too_deep", "sub-document value nests too deep", false, 0},
	ReasonDeltaInvalid: {"delta_invalid", "counter delta is invalid", false, 0},

	ReasonEncodingFailure: {"encoding_failure", "value could not be encoded", false, 0},
	ReasonDecodingFailure: {"decoding_failure", "value could not be decoded", false, 0},
	ReasonInvalidArgument: {"invalid_argument", "invalid argument", false, 0},

	ReasonTransactionFailed:          {"transaction_failed", "transaction failed", false, 0},
	ReasonTransactionExpired:         {"transaction_expired", "transaction expired", false, 0},
	ReasonTransactionCommitAmbiguous: {"transaction_commit_ambiguous", "transaction commit outcome is ambiguous", false, 0},
}

// reasonByName maps the snake_case display name back to its Reason.
var reasonByName = func() map[string]Reason {
	m := make(map[string]Reason, len(reasonTable))
	for reason, info := range reasonTable {
		m[info.name] = reason
	}
	return m
}()

// info returns the table entry for r, falling back to the unknown_error
// entry for out-of-range values.
func (r Reason) info() reasonInfo {
	if info, ok := reasonTable[r]; ok {
		return info
	}
	return reasonTable[ReasonUnknownError]
}

// String returns the snake_case name of the reason.
func (r Reason) String() string {
	return r.info().name
}

// DefaultMessage returns the canonical human message for the reason.
func (r Reason) DefaultMessage() string {
	return r.info().message
}

// Retryable reports whether an operation failing with this reason may be
// retried by the caller. The bridge never applies this policy itself.
func (r Reason) Retryable() bool {
	return r.info().retryable
}

// MarshalJSON implements the json.Marshaller interface for Reason.
// This allows Reason to be serialized as its snake_case name.
func (r Reason) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Reason.
// Unrecognized names deserialize to ReasonUnknownError, mirroring Classify.
func (r *Reason) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if reason, ok := reasonByName[s]; ok {
		*r = reason
	} else {
		*r = ReasonUnknownError
	}
	return nil
}
