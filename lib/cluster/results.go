package cluster

import (
	"encoding/json"

	"github.com/thanos/couchbase-ex/lib/cberr"
)

// --------------------------------------------------------------------------
// Key/Value Results
// --------------------------------------------------------------------------

// Document is the result of a Get. Content holds the raw document bytes as
// returned by the worker, so callers decide how (and whether) to decode.
type Document struct {
	Key     string
	Content json.RawMessage
}

// Decode unmarshals the document content into out.
func (d *Document) Decode(out any) error {
	if err := json.Unmarshal(d.Content, out); err != nil {
		return cberr.Newf(cberr.ReasonDecodingFailure, "document %q: %v", d.Key, err)
	}
	return nil
}

// MutationResult is the result of any write operation (set, insert, replace,
// upsert, delete). Cas is the compare-and-swap value of the document after
// the mutation.
type MutationResult struct {
	Cas uint64 `json:"cas"`
}

// --------------------------------------------------------------------------
// Query Results
// --------------------------------------------------------------------------

// QueryResult holds the rows of a N1QL query, each row kept as raw JSON.
type QueryResult struct {
	Rows []json.RawMessage
}

// DecodeRow unmarshals the i-th row into out.
func (r *QueryResult) DecodeRow(i int, out any) error {
	if i < 0 || i >= len(r.Rows) {
		return cberr.Newf(cberr.ReasonInvalidArgument, "query result: row %d out of range (have %d)", i, len(r.Rows))
	}
	if err := json.Unmarshal(r.Rows[i], out); err != nil {
		return cberr.Newf(cberr.ReasonDecodingFailure, "query result: row %d: %v", i, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Health Reports
// --------------------------------------------------------------------------

// EndpointReport describes the state of a single service endpoint as
// reported by ping or diagnostics.
type EndpointReport struct {
	Service   string `json:"service"`
	State     string `json:"state"`
	Remote    string `json:"remote,omitempty"`
	LatencyUS int64  `json:"latency_us,omitempty"`
}

// PingReport is the result of actively probing the cluster services.
type PingReport struct {
	ReportID string           `json:"report_id"`
	Services []EndpointReport `json:"services"`
}

// DiagnosticsReport is a passive snapshot of the connections the worker
// currently holds.
type DiagnosticsReport struct {
	ReportID string           `json:"report_id"`
	SDK      string           `json:"sdk,omitempty"`
	Services []EndpointReport `json:"services"`
}
