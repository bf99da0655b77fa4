package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/thanos/couchbase-ex/bridge/codec"
	"github.com/thanos/couchbase-ex/bridge/common"
	"github.com/thanos/couchbase-ex/bridge/worker"
	"github.com/thanos/couchbase-ex/lib/cberr"
	"github.com/thanos/couchbase-ex/lib/cluster"
	"github.com/thanos/couchbase-ex/lib/options"
)

// Logger is the logger instance used by the client
var Logger = logger.GetLogger("client")

// maxKeyBytes is the server-side document key limit. Longer keys are
// rejected locally so they never reach the wire.
const maxKeyBytes = 250

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

func commandCounter(verb common.Verb) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf("cbx_client_commands_total{verb=%q}", verb.String()))
}

func errorCounter(reason cberr.Reason) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf("cbx_client_errors_total{reason=%q}", reason.String()))
}

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

// Client is the canonical ICluster implementation. It owns exactly one
// supervised worker process and multiplexes all calls over its pipe.
type Client struct {
	defaults     options.Options
	sup          *worker.Supervisor
	writeTimeout time.Duration
}

// interface guard
var _ cluster.ICluster = (*Client)(nil)

// Connect validates the configuration, launches the worker process and
// blocks until it reports readiness. On any failure the worker is already
// torn down when Connect returns.
func Connect(cfg common.Config) (cluster.ICluster, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sup := worker.NewSupervisor(cfg, worker.NewExecLauncher(), codec.NewJSONLineCodec())
	if err := sup.Start(); err != nil {
		return nil, err
	}
	Logger.Infof("Connected to %s (bucket %q)", cfg.ConnectionString, cfg.Bucket)

	return &Client{
		defaults:     defaultOptions(cfg),
		sup:          sup,
		writeTimeout: cfg.OperationTimeout(),
	}, nil
}

// defaultOptions builds the per-connection option defaults from the
// process configuration. Every call resolves its override against these.
func defaultOptions(cfg common.Config) options.Options {
	return options.Options{
		Bucket:              cfg.Bucket,
		PoolSize:            cfg.PoolSize,
		ConnectionTimeoutMS: cfg.ConnectionTimeoutMS,
		OperationTimeoutMS:  cfg.OperationTimeoutMS,
		QueryTimeoutMS:      cfg.QueryTimeoutMS,
	}
}

// Close shuts the worker process down. Closing twice is a no-op.
func (c *Client) Close() error {
	return c.sup.Close()
}

// --------------------------------------------------------------------------
// Call Plumbing
// --------------------------------------------------------------------------

// resolve merges a per-call override into the connection defaults.
func (c *Client) resolve(ov *options.Override) (options.Options, error) {
	return options.Resolve(c.defaults, ov)
}

// invoke attaches the normalized params to cmd, dispatches it and waits for
// the matching response. The caller-side timeout comes from the resolved
// options; on expiry the pending entry is abandoned so a late response is
// dropped silently instead of leaking.
func (c *Client) invoke(cmd *common.Command, opts options.Options, query bool) (json.RawMessage, error) {
	for k, v := range opts.WireParams(query) {
		cmd.SetParam(k, v)
	}
	timeout := opts.KVTimeout()
	if query {
		timeout = opts.QueryTimeout()
	}

	commandCounter(cmd.Verb).Inc()
	id, ch, err := c.sup.Dispatch(cmd, c.writeTimeout)
	if err != nil {
		return nil, c.countError(err)
	}

	select {
	case result := <-ch:
		if result.Err != nil {
			return nil, c.countError(result.Err)
		}
		return c.payload(result.Response)
	case <-time.After(timeout):
		c.sup.Abandon(id)
		Logger.Warningf("%s (id %d) timed out after %v", cmd.Verb, id, timeout)
		return nil, c.countError(cberr.Newf(cberr.ReasonTimeout, "%s timed out after %v", cmd.Verb, timeout))
	}
}

// payload splits a response into its data or its classified error.
func (c *Client) payload(resp *common.Response) (json.RawMessage, error) {
	if resp.Success {
		return resp.Data, nil
	}
	if resp.Error == nil {
		return nil, c.countError(cberr.New(cberr.ReasonMalformedResponse,
			"worker reported a failure without an error payload"))
	}
	return nil, c.countError(cberr.FromCode(resp.Error.Code, resp.Error.Message, resp.Error.Details))
}

// countError bumps the per-reason error counter and passes err through.
func (c *Client) countError(err error) error {
	errorCounter(cberr.ReasonOf(err)).Inc()
	return err
}

// decode unmarshals a response payload into out.
func decode(verb common.Verb, raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return cberr.Newf(cberr.ReasonDecodingFailure, "%s response: %v", verb, err)
	}
	return nil
}

// validateKey rejects keys the server would refuse, before they travel.
func validateKey(key string) error {
	if key == "" {
		return cberr.New(cberr.ReasonInvalidArgument, "document key must not be empty")
	}
	if len(key) > maxKeyBytes {
		return cberr.Newf(cberr.ReasonInvalidArgument, "document key exceeds %d bytes", maxKeyBytes)
	}
	return nil
}
