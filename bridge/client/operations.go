package client

import (
	"github.com/google/uuid"
	"github.com/thanos/couchbase-ex/bridge/common"
	"github.com/thanos/couchbase-ex/lib/cberr"
	"github.com/thanos/couchbase-ex/lib/cluster"
	"github.com/thanos/couchbase-ex/lib/options"
)

// --------------------------------------------------------------------------
// Key/Value Operations
// --------------------------------------------------------------------------

// Get fetches a document by key.
func (c *Client) Get(key string, ov *options.Override) (*cluster.Document, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	opts, err := c.resolve(ov)
	if err != nil {
		return nil, err
	}

	raw, err := c.invoke(common.NewGetCommand(key), opts, false)
	if err != nil {
		return nil, err
	}
	return &cluster.Document{Key: key, Content: raw}, nil
}

// store is the shared implementation of the four full-document writes.
func (c *Client) store(verb common.Verb, key string, value any, ov *options.Override) (*cluster.MutationResult, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	opts, err := c.resolve(ov)
	if err != nil {
		return nil, err
	}

	raw, err := c.invoke(common.NewStoreCommand(verb, key, value), opts, false)
	if err != nil {
		return nil, err
	}
	var result cluster.MutationResult
	if err := decode(verb, raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Set stores a document regardless of whether the key already exists.
func (c *Client) Set(key string, value any, ov *options.Override) (*cluster.MutationResult, error) {
	return c.store(common.VerbSet, key, value, ov)
}

// Insert stores a document only if the key does not exist yet.
func (c *Client) Insert(key string, value any, ov *options.Override) (*cluster.MutationResult, error) {
	return c.store(common.VerbInsert, key, value, ov)
}

// Replace stores a document only if the key already exists.
func (c *Client) Replace(key string, value any, ov *options.Override) (*cluster.MutationResult, error) {
	return c.store(common.VerbReplace, key, value, ov)
}

// Upsert stores a document, inserting or replacing as needed.
func (c *Client) Upsert(key string, value any, ov *options.Override) (*cluster.MutationResult, error) {
	return c.store(common.VerbUpsert, key, value, ov)
}

// Delete removes a document by key.
func (c *Client) Delete(key string, ov *options.Override) (*cluster.MutationResult, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	opts, err := c.resolve(ov)
	if err != nil {
		return nil, err
	}

	raw, err := c.invoke(common.NewDeleteCommand(key), opts, false)
	if err != nil {
		return nil, err
	}
	var result cluster.MutationResult
	if err := decode(common.VerbDelete, raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Exists reports whether a document with the given key exists.
func (c *Client) Exists(key string, ov *options.Override) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	opts, err := c.resolve(ov)
	if err != nil {
		return false, err
	}

	raw, err := c.invoke(common.NewExistsCommand(key), opts, false)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := decode(common.VerbExists, raw, &exists); err != nil {
		return false, err
	}
	return exists, nil
}

// --------------------------------------------------------------------------
// Query
// --------------------------------------------------------------------------

// Query runs a N1QL statement. Positional parameters travel in the
// override's query_params field.
func (c *Client) Query(statement string, ov *options.Override) (*cluster.QueryResult, error) {
	if statement == "" {
		return nil, cberr.New(cberr.ReasonInvalidArgument, "query statement must not be empty")
	}
	opts, err := c.resolve(ov)
	if err != nil {
		return nil, err
	}

	raw, err := c.invoke(common.NewQueryCommand(statement, opts.QueryParams), opts, true)
	if err != nil {
		return nil, err
	}
	var result cluster.QueryResult
	if err := decode(common.VerbQuery, raw, &result.Rows); err != nil {
		return nil, err
	}
	return &result, nil
}

// --------------------------------------------------------------------------
// Sub-Document Operations
// --------------------------------------------------------------------------

// wireLookupSpecs validates the specs and converts them to wire shape.
func wireLookupSpecs(specs []cluster.LookupSpec) ([]map[string]any, error) {
	if len(specs) == 0 {
		return nil, cberr.New(cberr.ReasonInvalidArgument, "lookup_in requires at least one spec")
	}
	wire := make([]map[string]any, 0, len(specs))
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		wire = append(wire, spec.WireSpec())
	}
	return wire, nil
}

// wireMutateSpecs validates the specs and converts them to wire shape.
func wireMutateSpecs(specs []cluster.MutateSpec) ([]map[string]any, error) {
	if len(specs) == 0 {
		return nil, cberr.New(cberr.ReasonInvalidArgument, "mutate_in requires at least one spec")
	}
	wire := make([]map[string]any, 0, len(specs))
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		wire = append(wire, spec.WireSpec())
	}
	return wire, nil
}

// LookupIn reads one or more paths inside a document.
func (c *Client) LookupIn(key string, specs []cluster.LookupSpec, ov *options.Override) (*cluster.LookupInResult, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	wire, err := wireLookupSpecs(specs)
	if err != nil {
		return nil, err
	}
	opts, err := c.resolve(ov)
	if err != nil {
		return nil, err
	}

	raw, err := c.invoke(common.NewLookupInCommand(key, wire), opts, false)
	if err != nil {
		return nil, err
	}
	var result cluster.LookupInResult
	if err := decode(common.VerbLookupIn, raw, &result.Fields); err != nil {
		return nil, err
	}
	return &result, nil
}

// MutateIn applies one or more path-level mutations to a document
// atomically.
func (c *Client) MutateIn(key string, specs []cluster.MutateSpec, ov *options.Override) (*cluster.MutateInResult, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	wire, err := wireMutateSpecs(specs)
	if err != nil {
		return nil, err
	}
	opts, err := c.resolve(ov)
	if err != nil {
		return nil, err
	}

	raw, err := c.invoke(common.NewMutateInCommand(key, wire), opts, false)
	if err != nil {
		return nil, err
	}
	var result cluster.MutateInResult
	if err := decode(common.VerbMutateIn, raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// --------------------------------------------------------------------------
// Health Operations
// --------------------------------------------------------------------------

// Ping actively probes the cluster services.
func (c *Client) Ping(ov *options.Override) (*cluster.PingReport, error) {
	opts, err := c.resolve(ov)
	if err != nil {
		return nil, err
	}

	raw, err := c.invoke(common.NewPingCommand(uuid.NewString()), opts, false)
	if err != nil {
		return nil, err
	}
	var report cluster.PingReport
	if err := decode(common.VerbPing, raw, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Diagnostics returns the connection state as seen by the worker.
func (c *Client) Diagnostics(ov *options.Override) (*cluster.DiagnosticsReport, error) {
	opts, err := c.resolve(ov)
	if err != nil {
		return nil, err
	}

	raw, err := c.invoke(common.NewDiagnosticsCommand(uuid.NewString()), opts, false)
	if err != nil {
		return nil, err
	}
	var report cluster.DiagnosticsReport
	if err := decode(common.VerbDiagnostics, raw, &report); err != nil {
		return nil, err
	}
	return &report, nil
}
