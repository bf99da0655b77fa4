package common

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ReadySentinel is the single line the worker prints on stdout once it is
// prepared to accept commands. It is the only non-JSON line of the protocol.
const ReadySentinel = "ready"

// --------------------------------------------------------------------------
// Command Structure
// --------------------------------------------------------------------------

// Command represents a single request sent to the worker process. One
// command is encoded as exactly one JSON line on the worker's stdin.
//
// The request id is assigned by the correlator immediately before the
// command is written to the wire (see Stamp), never by the caller.
type Command struct {
	// Verb selects the operation the worker should execute
	Verb Verb `json:"command"`

	// Params carries the verb-specific arguments (key, value, specs, ...)
	// together with the normalized per-call options (bucket, timeout,
	// durability, expiry)
	Params map[string]any `json:"params"`

	// RequestID correlates the response to this command
	RequestID uint64 `json:"request_id"`

	// Timestamp is the issue time in epoch milliseconds
	Timestamp int64 `json:"timestamp"`
}

// Stamp assigns the request id and issue time. Must be called exactly once,
// after the command is fully built and before it is encoded.
func (c *Command) Stamp(id uint64) {
	c.RequestID = id
	c.Timestamp = time.Now().UnixMilli()
}

// SetParam attaches a single named argument to the command.
func (c *Command) SetParam(key string, value any) *Command {
	if c.Params == nil {
		c.Params = map[string]any{}
	}
	c.Params[key] = value
	return c
}

// --------------------------------------------------------------------------
// Command Factory Functions
// --------------------------------------------------------------------------

// NewCommand creates a bare command for the given verb.
func NewCommand(verb Verb) *Command {
	return &Command{
		Verb:   verb,
		Params: map[string]any{},
	}
}

// NewGetCommand creates a new get request
func NewGetCommand(key string) *Command {
	return NewCommand(VerbGet).SetParam("key", key)
}

// NewStoreCommand creates a new full-document write request. The verb must
// be one of set, insert, replace or upsert.
func NewStoreCommand(verb Verb, key string, value any) *Command {
	return NewCommand(verb).SetParam("key", key).SetParam("value", value)
}

// NewDeleteCommand creates a new delete request
func NewDeleteCommand(key string) *Command {
	return NewCommand(VerbDelete).SetParam("key", key)
}

// NewExistsCommand creates a new exists request
func NewExistsCommand(key string) *Command {
	return NewCommand(VerbExists).SetParam("key", key)
}

// NewQueryCommand creates a new N1QL query request
func NewQueryCommand(statement string, args []any) *Command {
	cmd := NewCommand(VerbQuery).SetParam("statement", statement)
	if len(args) > 0 {
		cmd.SetParam("args", args)
	}
	return cmd
}

// NewLookupInCommand creates a new sub-document read request
func NewLookupInCommand(key string, specs []map[string]any) *Command {
	return NewCommand(VerbLookupIn).SetParam("key", key).SetParam("specs", specs)
}

// NewMutateInCommand creates a new sub-document mutation request
func NewMutateInCommand(key string, specs []map[string]any) *Command {
	return NewCommand(VerbMutateIn).SetParam("key", key).SetParam("specs", specs)
}

// NewPingCommand creates a new ping request
func NewPingCommand(reportID string) *Command {
	return NewCommand(VerbPing).SetParam("report_id", reportID)
}

// NewDiagnosticsCommand creates a new diagnostics request
func NewDiagnosticsCommand(reportID string) *Command {
	return NewCommand(VerbDiagnostics).SetParam("report_id", reportID)
}

// NewCloseCommand creates the close request sent to the worker during
// graceful shutdown
func NewCloseCommand() *Command {
	return NewCommand(VerbClose)
}

// NewConnectCommand creates a connect request. Connection parameters travel
// as process arguments, not on the wire, so this carries no params; it
// exists for workers that support re-handshaking.
func NewConnectCommand() *Command {
	return NewCommand(VerbConnect)
}

// --------------------------------------------------------------------------
// Response Structure
// --------------------------------------------------------------------------

// Response represents a single reply read from the worker's stdout. The
// worker answers every well-formed command exactly once; data and error are
// mutually exclusive.
type Response struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ErrorPayload   `json:"error,omitempty"`
	RequestID uint64          `json:"request_id"`
}

// UnmarshalJSON decodes a response and rejects lines missing the two
// mandatory fields (success, request_id). Presence is checked via pointer
// fields since both have meaningful zero values.
func (r *Response) UnmarshalJSON(data []byte) error {
	var aux struct {
		Success   *bool           `json:"success"`
		Data      json.RawMessage `json:"data"`
		Error     *ErrorPayload   `json:"error"`
		RequestID *uint64         `json:"request_id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Success == nil {
		return fmt.Errorf("response is missing the %q field", "success")
	}
	if aux.RequestID == nil {
		return fmt.Errorf("response is missing the %q field", "request_id")
	}
	r.Success = *aux.Success
	r.Data = aux.Data
	r.Error = aux.Error
	r.RequestID = *aux.RequestID
	return nil
}

// NewDataResponse creates a successful response carrying the given payload.
// Used by the worker side (see bridge/mock).
func NewDataResponse(requestID uint64, data any) (*Response, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Response{
		Success:   true,
		Data:      raw,
		RequestID: requestID,
	}, nil
}

// NewErrorResponse creates a failed response carrying the given error payload.
func NewErrorResponse(requestID uint64, code, message string) *Response {
	return &Response{
		Success:   false,
		Error:     &ErrorPayload{Code: code, Message: message},
		RequestID: requestID,
	}
}

// --------------------------------------------------------------------------
// Error Payload
// --------------------------------------------------------------------------

// ErrorPayload is the normalized error shape of the wire protocol. Code is
// the provider's native vocabulary (e.g. "DocumentNotFound", legacy
// "DOCUMENT_NOT_FOUND" forms included).
type ErrorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// UnmarshalJSON accepts the two shapes workers are known to emit: a bare
// string (treated as the code) or a {code, message, details} object.
// Anything else is rejected so the codec can flag the line as malformed.
func (p *ErrorPayload) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("error field is empty")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		p.Code = s
		return nil
	case '{':
		type payload ErrorPayload // drop methods to avoid recursion
		var aux payload
		if err := json.Unmarshal(trimmed, &aux); err != nil {
			return err
		}
		*p = ErrorPayload(aux)
		return nil
	default:
		return fmt.Errorf("error field must be a string or an object, got: %s", trimmed)
	}
}

// --------------------------------------------------------------------------
// Verb Definition
// --------------------------------------------------------------------------

// Verb defines the operation requested from the worker process.
type Verb uint8

// String returns the wire representation of a Verb.
func (v Verb) String() string {
	switch v {
	case VerbConnect:
		return "connect"
	case VerbClose:
		return "close"
	case VerbGet:
		return "get"
	case VerbSet:
		return "set"
	case VerbInsert:
		return "insert"
	case VerbReplace:
		return "replace"
	case VerbUpsert:
		return "upsert"
	case VerbDelete:
		return "delete"
	case VerbExists:
		return "exists"
	case VerbQuery:
		return "query"
	case VerbLookupIn:
		return "lookup_in"
	case VerbMutateIn:
		return "mutate_in"
	case VerbPing:
		return "ping"
	case VerbDiagnostics:
		return "diagnostics"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for Verb.
// This allows Verb to be serialized as a string in JSON.
func (v Verb) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Verb.
// This allows Verb to be deserialized from a string in JSON.
func (v *Verb) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	// Convert string back to Verb
	switch s {
	case "connect":
		*v = VerbConnect
	case "close":
		*v = VerbClose
	case "get":
		*v = VerbGet
	case "set":
		*v = VerbSet
	case "insert":
		*v = VerbInsert
	case "replace":
		*v = VerbReplace
	case "upsert":
		*v = VerbUpsert
	case "delete":
		*v = VerbDelete
	case "exists":
		*v = VerbExists
	case "query":
		*v = VerbQuery
	case "lookup_in":
		*v = VerbLookupIn
	case "mutate_in":
		*v = VerbMutateIn
	case "ping":
		*v = VerbPing
	case "diagnostics":
		*v = VerbDiagnostics
	default:
		return fmt.Errorf("unknown verb: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Verb Constants
// --------------------------------------------------------------------------

const (
	VerbUnknown Verb = iota

	// Lifecycle verbs

	VerbConnect // Handshake / (re)connect
	VerbClose   // Graceful worker shutdown

	// Key-value verbs

	VerbGet     // Read a document by key
	VerbSet     // Write a document unconditionally
	VerbInsert  // Write a document, fail if the key exists
	VerbReplace // Write a document, fail if the key is missing
	VerbUpsert  // Write a document, insert or replace
	VerbDelete  // Remove a document
	VerbExists  // Check whether a key exists

	// Query verbs

	VerbQuery // Run a N1QL statement

	// Sub-document verbs

	VerbLookupIn // Read paths inside a document
	VerbMutateIn // Mutate paths inside a document

	// Health verbs

	VerbPing        // Active service round-trip probe
	VerbDiagnostics // Passive connection state report
)
