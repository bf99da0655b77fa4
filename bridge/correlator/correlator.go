// Package correlator matches asynchronous worker responses to the commands
// that caused them. Callers register before writing to the wire and receive
// a channel that yields exactly one result: the matched response, or the
// error the connection died with.
package correlator

import (
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/thanos/couchbase-ex/bridge/common"
)

var Logger = logger.GetLogger("correlator")

// droppedResponses counts responses whose request id matched no pending
// call (already timed out, already drained, or invented by the worker).
var droppedResponses = metrics.NewCounter("cbx_correlator_dropped_responses_total")

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// Result contains the outcome of a single registered call. Exactly one of
// Response and Err is set.
type Result struct {
	Response *common.Response
	Err      error
}

// --------------------------------------------------------------------------
// Correlator
// --------------------------------------------------------------------------

// Correlator is the pending-call table of one worker connection. It is safe
// for concurrent use. Request ids are unique for the lifetime of the
// correlator and never reused.
type Correlator struct {
	nextRequestID uint64 // Atomic counter for unique request IDs
	pending       *xsync.MapOf[uint64, chan Result]
}

// New creates an empty correlator.
func New() *Correlator {
	return &Correlator{
		pending: xsync.NewMapOf[uint64, chan Result](),
	}
}

// Register allocates a fresh request id and a channel on which the result
// for that id will be delivered. The entry must be registered before the
// command is written to the wire, otherwise a fast worker could answer an
// id nobody is waiting for.
func (c *Correlator) Register() (uint64, <-chan Result) {
	// Generate a unique request ID
	requestID := atomic.AddUint64(&c.nextRequestID, 1)

	// Buffered so the reader goroutine never blocks on delivery
	respCh := make(chan Result, 1)
	c.pending.Store(requestID, respCh)

	return requestID, respCh
}

// Resolve delivers a response to the call that is waiting for its request
// id. It reports whether a waiter was found; an unmatched response is
// counted and must be dropped by the caller.
func (c *Correlator) Resolve(resp *common.Response) bool {
	respCh, found := c.pending.LoadAndDelete(resp.RequestID)
	if !found {
		droppedResponses.Inc()
		Logger.Warningf("Received response for unknown request ID %d", resp.RequestID)
		return false
	}

	respCh <- Result{Response: resp}
	return true
}

// Fail delivers an error to the single call waiting for the given request
// id. It reports whether a waiter was found.
func (c *Correlator) Fail(requestID uint64, err error) bool {
	respCh, found := c.pending.LoadAndDelete(requestID)
	if !found {
		return false
	}

	respCh <- Result{Err: err}
	return true
}

// Forget removes a pending entry without delivering anything. Callers use
// this when they stop waiting (timeout); a response arriving later is then
// treated as unknown and dropped.
func (c *Correlator) Forget(requestID uint64) {
	c.pending.Delete(requestID)
}

// DrainWithError fails every pending call with the same error and empties
// the table. It returns the number of calls drained. Used when the worker
// exits, crashes or is terminated: no response can ever arrive for these
// ids, so every waiter must be released.
func (c *Correlator) DrainWithError(err error) int {
	drained := 0
	c.pending.Range(func(requestID uint64, _ chan Result) bool {
		// LoadAndDelete arbitrates against concurrent Resolve calls: only
		// one side obtains the channel.
		if respCh, found := c.pending.LoadAndDelete(requestID); found {
			respCh <- Result{Err: err}
			drained++
		}
		return true
	})

	if drained > 0 {
		Logger.Warningf("Drained %d pending calls: %v", drained, err)
	}
	return drained
}

// Len returns the number of calls currently waiting for a response.
func (c *Correlator) Len() int {
	return c.pending.Size()
}
