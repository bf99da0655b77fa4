package cluster

import (
	"encoding/json"

	"github.com/thanos/couchbase-ex/lib/cberr"
)

// --------------------------------------------------------------------------
// Sub-Document Lookup Specs
// --------------------------------------------------------------------------

// LookupOp enumerates the read operations lookup_in supports.
type LookupOp uint8

const (
	LookupGet    LookupOp = iota // read the value at a path
	LookupExists                 // check whether a path exists
	LookupCount                  // count the elements of an array or object
)

// String returns the wire name of the lookup operation.
func (op LookupOp) String() string {
	switch op {
	case LookupGet:
		return "get"
	case LookupExists:
		return "exists"
	case LookupCount:
		return "count"
	default:
		return "invalid"
	}
}

// ParseLookupOp converts a wire name into a LookupOp.
func ParseLookupOp(s string) (LookupOp, error) {
	switch s {
	case "get":
		return LookupGet, nil
	case "exists":
		return LookupExists, nil
	case "count":
		return LookupCount, nil
	default:
		return 0, cberr.Newf(cberr.ReasonInvalidArgument, "unknown lookup operation %q", s)
	}
}

// LookupSpec addresses one path inside a document for lookup_in.
type LookupSpec struct {
	Op   LookupOp
	Path string
}

// Validate checks that the spec addresses a real operation and a path.
func (s LookupSpec) Validate() error {
	if s.Op > LookupCount {
		return cberr.Newf(cberr.ReasonInvalidArgument, "lookup spec: invalid operation %d", s.Op)
	}
	if s.Path == "" {
		return cberr.New(cberr.ReasonInvalidArgument, "lookup spec: path must not be empty")
	}
	return nil
}

// WireSpec returns the spec in the shape the worker expects inside the
// lookup_in params.
func (s LookupSpec) WireSpec() map[string]any {
	return map[string]any{
		"op":   s.Op.String(),
		"path": s.Path,
	}
}

// --------------------------------------------------------------------------
// Sub-Document Mutation Specs
// --------------------------------------------------------------------------

// MutateOp enumerates the write operations mutate_in supports.
type MutateOp uint8

const (
	MutateUpsert       MutateOp = iota // create or replace the value at a path
	MutateInsert                       // create the value, fail if the path exists
	MutateReplace                      // replace the value, fail if the path is missing
	MutateRemove                       // remove the path
	MutateArrayAppend                  // append to the array at a path
	MutateArrayPrepend                 // prepend to the array at a path
	MutateIncrement                    // add a signed delta to the counter at a path
)

// String returns the wire name of the mutation operation.
func (op MutateOp) String() string {
	switch op {
	case MutateUpsert:
		return "upsert"
	case MutateInsert:
		return "insert"
	case MutateReplace:
		return "replace"
	case MutateRemove:
		return "remove"
	case MutateArrayAppend:
		return "array_append"
	case MutateArrayPrepend:
		return "array_prepend"
	case MutateIncrement:
		return "increment"
	default:
		return "invalid"
	}
}

// ParseMutateOp converts a wire name into a MutateOp.
func ParseMutateOp(s string) (MutateOp, error) {
	switch s {
	case "upsert":
		return MutateUpsert, nil
	case "insert":
		return MutateInsert, nil
	case "replace":
		return MutateReplace, nil
	case "remove":
		return MutateRemove, nil
	case "array_append":
		return MutateArrayAppend, nil
	case "array_prepend":
		return MutateArrayPrepend, nil
	case "increment":
		return MutateIncrement, nil
	default:
		return 0, cberr.Newf(cberr.ReasonInvalidArgument, "unknown mutate operation %q", s)
	}
}

// MutateSpec addresses one path-level mutation for mutate_in. Value is
// ignored for remove and must be a number for increment.
type MutateSpec struct {
	Op    MutateOp
	Path  string
	Value any
}

// Validate checks that the spec addresses a real operation and a path.
func (s MutateSpec) Validate() error {
	if s.Op > MutateIncrement {
		return cberr.Newf(cberr.ReasonInvalidArgument, "mutate spec: invalid operation %d", s.Op)
	}
	if s.Path == "" {
		return cberr.New(cberr.ReasonInvalidArgument, "mutate spec: path must not be empty")
	}
	return nil
}

// WireSpec returns the spec in the shape the worker expects inside the
// mutate_in params. Remove carries no value on the wire.
func (s MutateSpec) WireSpec() map[string]any {
	m := map[string]any{
		"op":   s.Op.String(),
		"path": s.Path,
	}
	if s.Op != MutateRemove {
		m["value"] = s.Value
	}
	return m
}

// --------------------------------------------------------------------------
// Sub-Document Results
// --------------------------------------------------------------------------

// LookupField is the per-spec outcome of a lookup_in. Fields arrive in the
// same order as the specs that requested them.
type LookupField struct {
	Path   string          `json:"path"`
	Exists bool            `json:"exists"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// LookupInResult holds the outcome of a lookup_in operation.
type LookupInResult struct {
	Fields []LookupField
}

// DecodeField unmarshals the value of the i-th field into out.
func (r *LookupInResult) DecodeField(i int, out any) error {
	if i < 0 || i >= len(r.Fields) {
		return cberr.Newf(cberr.ReasonInvalidArgument, "lookup result: field %d out of range (have %d)", i, len(r.Fields))
	}
	f := r.Fields[i]
	if !f.Exists {
		return cberr.Newf(cberr.ReasonPathNotFound, "lookup result: path %q does not exist", f.Path)
	}
	if err := json.Unmarshal(f.Value, out); err != nil {
		return cberr.Newf(cberr.ReasonDecodingFailure, "lookup result: field %d: %v", i, err)
	}
	return nil
}

// MutateField is the per-spec outcome of a mutate_in. Only counter
// operations carry a value (the counter after the delta).
type MutateField struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MutateInResult holds the outcome of a mutate_in operation.
type MutateInResult struct {
	Cas    uint64        `json:"cas"`
	Fields []MutateField `json:"entries"`
}
