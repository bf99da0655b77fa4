package client

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/thanos/couchbase-ex/bridge/common"
	"github.com/thanos/couchbase-ex/bridge/mock"
	"github.com/thanos/couchbase-ex/lib/cberr"
	"github.com/thanos/couchbase-ex/lib/cluster"
	"github.com/thanos/couchbase-ex/lib/options"
)

// TestMain doubles as the worker executable, exactly like in bridge/worker:
// with CBX_MOCK_WORKER=1 the test binary becomes the mock worker process.
func TestMain(m *testing.M) {
	if os.Getenv("CBX_MOCK_WORKER") == "1" {
		os.Exit(mock.Main(os.Args[1:]))
	}
	os.Exit(m.Run())
}

func ptr[T any](v T) *T { return &v }

// --------------------------------------------------------------------------
// Suite Setup
// --------------------------------------------------------------------------

type ClientSuite struct {
	suite.Suite
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) config() common.Config {
	return common.Config{
		ConnectionString: "couchbase://localhost",
		Username:         "tester",
		Password:         "secret",
		Bucket:           "test",
		WorkerPath:       os.Args[0],
	}
}

// connect spawns a mock-backed client with the given fault environment and
// tears it down when the test ends.
func (s *ClientSuite) connect(env map[string]string) *Client {
	t := s.T()
	t.Setenv("CBX_MOCK_WORKER", "1")
	for k, v := range env {
		t.Setenv(k, v)
	}

	cl, err := Connect(s.config())
	s.Require().NoError(err, "Connect failed")
	t.Cleanup(func() { _ = cl.Close() })
	return cl.(*Client)
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func (s *ClientSuite) TestKVLifecycle() {
	cl := s.connect(nil)

	type profile struct {
		Name   string `json:"name"`
		Visits int    `json:"visits"`
	}

	written, err := cl.Set("user:1", profile{Name: "alice", Visits: 7}, nil)
	s.Require().NoError(err)
	s.NotZero(written.Cas)

	doc, err := cl.Get("user:1", nil)
	s.Require().NoError(err)
	s.Equal("user:1", doc.Key)

	var read profile
	s.Require().NoError(doc.Decode(&read))
	s.Equal(profile{Name: "alice", Visits: 7}, read)

	exists, err := cl.Exists("user:1", nil)
	s.Require().NoError(err)
	s.True(exists)

	deleted, err := cl.Delete("user:1", nil)
	s.Require().NoError(err)
	s.NotZero(deleted.Cas)

	_, err = cl.Get("user:1", nil)
	s.True(cberr.IsReason(err, cberr.ReasonDocumentNotFound),
		"Get after Delete: got %v, want document_not_found", err)

	exists, err = cl.Exists("user:1", nil)
	s.Require().NoError(err)
	s.False(exists)
}

func (s *ClientSuite) TestConditionalWrites() {
	cl := s.connect(nil)

	_, err := cl.Insert("cond:1", map[string]any{"v": 1}, nil)
	s.Require().NoError(err)

	_, err = cl.Insert("cond:1", map[string]any{"v": 2}, nil)
	s.True(cberr.IsReason(err, cberr.ReasonDocumentExists),
		"second Insert: got %v, want document_exists", err)

	_, err = cl.Replace("cond:missing", map[string]any{"v": 1}, nil)
	s.True(cberr.IsReason(err, cberr.ReasonDocumentNotFound),
		"Replace on missing key: got %v, want document_not_found", err)

	_, err = cl.Replace("cond:1", map[string]any{"v": 3}, nil)
	s.Require().NoError(err)

	_, err = cl.Upsert("cond:2", map[string]any{"v": 1}, nil)
	s.Require().NoError(err)
	_, err = cl.Upsert("cond:2", map[string]any{"v": 2}, nil)
	s.Require().NoError(err)
}

func (s *ClientSuite) TestCloseIsIdempotent() {
	cl := s.connect(nil)

	s.Require().NoError(cl.Close())
	s.Require().NoError(cl.Close())

	_, err := cl.Get("k", nil)
	s.True(cberr.IsReason(err, cberr.ReasonNotConnected),
		"Get after Close: got %v, want not_connected", err)
}

func (s *ClientSuite) TestConnectFailures() {
	cfg := s.config()
	cfg.ConnectionString = "ftp://somewhere"
	_, err := Connect(cfg)
	s.True(cberr.IsReason(err, cberr.ReasonInvalidConnectionParams),
		"bad scheme: got %v, want invalid_connection_params", err)

	t := s.T()
	t.Setenv("CBX_MOCK_WORKER", "1")
	t.Setenv("CBX_MOCK_BEHAVIOR", mock.BehaviorCrashStart)
	_, err = Connect(s.config())
	s.True(cberr.IsReason(err, cberr.ReasonConnectionFailed),
		"crashing worker: got %v, want connection_failed", err)
}

// --------------------------------------------------------------------------
// Query and Sub-Document
// --------------------------------------------------------------------------

func (s *ClientSuite) TestQueryRows() {
	cl := s.connect(nil)

	result, err := cl.Query("SELECT * FROM test WHERE a = $1 AND b = $2",
		&options.Override{QueryParams: []any{"x", float64(2)}})
	s.Require().NoError(err)
	s.Require().Len(result.Rows, 2)

	var row struct {
		Row int `json:"row"`
		Arg any `json:"arg"`
	}
	s.Require().NoError(result.DecodeRow(1, &row))
	s.Equal(1, row.Row)
	s.Equal(float64(2), row.Arg)
}

func (s *ClientSuite) TestSubdocRoundTrip() {
	cl := s.connect(nil)

	_, err := cl.Set("sub:1", map[string]any{
		"name":   "alice",
		"visits": float64(2),
		"tags":   []any{"a"},
	}, nil)
	s.Require().NoError(err)

	lookup, err := cl.LookupIn("sub:1", []cluster.LookupSpec{
		{Op: cluster.LookupGet, Path: "name"},
		{Op: cluster.LookupExists, Path: "missing"},
		{Op: cluster.LookupCount, Path: "tags"},
	}, nil)
	s.Require().NoError(err)
	s.Require().Len(lookup.Fields, 3)

	var name string
	s.Require().NoError(lookup.DecodeField(0, &name))
	s.Equal("alice", name)
	s.False(lookup.Fields[1].Exists)

	var count int
	s.Require().NoError(lookup.DecodeField(2, &count))
	s.Equal(1, count)

	mutated, err := cl.MutateIn("sub:1", []cluster.MutateSpec{
		{Op: cluster.MutateIncrement, Path: "visits", Value: 3},
		{Op: cluster.MutateArrayAppend, Path: "tags", Value: "b"},
		{Op: cluster.MutateRemove, Path: "name"},
	}, nil)
	s.Require().NoError(err)
	s.NotZero(mutated.Cas)
	s.Require().Len(mutated.Fields, 3)

	var visits float64
	doc, err := cl.Get("sub:1", nil)
	s.Require().NoError(err)
	var after map[string]any
	s.Require().NoError(doc.Decode(&after))
	visits = after["visits"].(float64)
	s.Equal(float64(5), visits)
	s.Len(after["tags"], 2)
	s.NotContains(after, "name")
}

// --------------------------------------------------------------------------
// Health
// --------------------------------------------------------------------------

func (s *ClientSuite) TestHealthReports() {
	cl := s.connect(nil)

	ping, err := cl.Ping(nil)
	s.Require().NoError(err)
	_, err = uuid.Parse(ping.ReportID)
	s.NoError(err, "report id should be the uuid the client generated")
	s.NotEmpty(ping.Services)
	for _, svc := range ping.Services {
		s.NotEmpty(svc.Service)
		s.NotEmpty(svc.State)
	}

	diag, err := cl.Diagnostics(nil)
	s.Require().NoError(err)
	s.Equal("mock-worker", diag.SDK)
	s.NotEmpty(diag.Services)
}

// --------------------------------------------------------------------------
// Error Paths
// --------------------------------------------------------------------------

func (s *ClientSuite) TestWorkerErrorClassification() {
	cl := s.connect(map[string]string{"CBX_MOCK_FAIL_CODE": "Timeout"})

	_, err := cl.Get("k", nil)
	s.Require().Error(err)

	var cbErr *cberr.Error
	s.Require().True(errors.As(err, &cbErr), "error is not a *cberr.Error: %v", err)
	s.Equal(cberr.ReasonTimeout, cbErr.Reason)
	s.True(cbErr.Retryable())
}

func (s *ClientSuite) TestUnknownWorkerCodeFallsBack() {
	cl := s.connect(map[string]string{"CBX_MOCK_FAIL_CODE": "EWHATEVER"})

	_, err := cl.Get("k", nil)
	s.True(cberr.IsReason(err, cberr.ReasonUnknownError),
		"got %v, want unknown_error", err)
}

func (s *ClientSuite) TestCallTimeout() {
	cl := s.connect(map[string]string{"CBX_MOCK_BEHAVIOR": mock.BehaviorNoReply})

	started := time.Now()
	_, err := cl.Get("k", &options.Override{TimeoutMS: ptr(int64(50))})
	elapsed := time.Since(started)

	s.True(cberr.IsReason(err, cberr.ReasonTimeout), "got %v, want timeout", err)
	s.GreaterOrEqual(elapsed, 40*time.Millisecond, "timed out before the deadline")
	s.Less(elapsed, time.Second, "timeout fired far too late")
	s.Zero(cl.sup.Pending(), "abandoned call left a pending entry behind")
}

func (s *ClientSuite) TestLateResponseIsDropped() {
	cl := s.connect(map[string]string{"CBX_MOCK_DELAY_MS": "150"})

	_, err := cl.Set("slow:1", map[string]any{"v": "first"}, nil)
	s.Require().NoError(err)

	// This call gives up long before the delayed answer arrives
	_, err = cl.Get("slow:1", &options.Override{TimeoutMS: ptr(int64(40))})
	s.Require().True(cberr.IsReason(err, cberr.ReasonTimeout), "got %v, want timeout", err)

	// The stale answer must not leak into the next call
	doc, err := cl.Get("slow:1", nil)
	s.Require().NoError(err)
	var read map[string]any
	s.Require().NoError(doc.Decode(&read))
	s.Equal("first", read["v"])
	s.Zero(cl.sup.Pending())
}

func (s *ClientSuite) TestLocalValidation() {
	cl := s.connect(nil)

	_, err := cl.Get("", nil)
	s.True(cberr.IsReason(err, cberr.ReasonInvalidArgument), "empty key: got %v", err)

	long := make([]byte, maxKeyBytes+1)
	for i := range long {
		long[i] = 'k'
	}
	_, err = cl.Get(string(long), nil)
	s.True(cberr.IsReason(err, cberr.ReasonInvalidArgument), "oversized key: got %v", err)

	_, err = cl.Query("", nil)
	s.True(cberr.IsReason(err, cberr.ReasonInvalidArgument), "empty statement: got %v", err)

	_, err = cl.LookupIn("k", nil, nil)
	s.True(cberr.IsReason(err, cberr.ReasonInvalidArgument), "no lookup specs: got %v", err)

	_, err = cl.MutateIn("k", []cluster.MutateSpec{{Op: cluster.MutateUpsert, Path: ""}}, nil)
	s.True(cberr.IsReason(err, cberr.ReasonInvalidArgument), "empty spec path: got %v", err)

	_, err = cl.Get("k", &options.Override{TimeoutMS: ptr(int64(0))})
	s.True(cberr.IsReason(err, cberr.ReasonInvalidOptions), "zero timeout: got %v", err)
}

// --------------------------------------------------------------------------
// Concurrency
// --------------------------------------------------------------------------

// TestConcurrentCalls runs interleaved writes and reads against a worker
// that shuffles its response order, so correlation by request id is the
// only thing keeping results attached to their callers.
func (s *ClientSuite) TestConcurrentCalls() {
	cl := s.connect(map[string]string{"CBX_MOCK_SCRAMBLE": "1"})

	const numCallers = 24
	errCh := make(chan error, numCallers)
	var wg sync.WaitGroup

	for i := 0; i < numCallers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("conc:%d", i)

			if _, err := cl.Set(key, map[string]any{"n": i}, nil); err != nil {
				errCh <- fmt.Errorf("set %s: %w", key, err)
				return
			}
			doc, err := cl.Get(key, nil)
			if err != nil {
				errCh <- fmt.Errorf("get %s: %w", key, err)
				return
			}
			var read struct {
				N int `json:"n"`
			}
			if err := doc.Decode(&read); err != nil {
				errCh <- fmt.Errorf("decode %s: %w", key, err)
				return
			}
			if read.N != i {
				errCh <- fmt.Errorf("caller %d read %d: responses crossed wires", i, read.N)
			}
		}(i)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		s.Fail(err.Error())
	}
	s.Zero(cl.sup.Pending())
}
