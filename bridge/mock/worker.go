// Package mock implements a stand-in worker process that speaks the full
// wire protocol against an in-memory document store. The supervisor and
// client tests run it instead of a real provider worker, and the
// mock-worker CLI command exposes it as a standalone binary.
//
// Fault injection is controlled through environment variables so a parent
// process can configure misbehavior without touching the launch flags:
//
//	CBX_MOCK_BEHAVIOR     "" | silent | crash-start | crash-after | no-reply | garbage
//	CBX_MOCK_CRASH_AFTER  answer this many commands, then exit without replying
//	CBX_MOCK_DELAY_MS     delay every response by this many milliseconds
//	CBX_MOCK_SCRAMBLE     "1" answers from concurrent goroutines (shuffled order)
//	CBX_MOCK_FAIL_CODE    answer every operation with this provider error code
package mock

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lni/dragonboat/v4/logger"

	"github.com/thanos/couchbase-ex/bridge/common"
)

var Logger = logger.GetLogger("mock")

// maxLineSize bounds a single wire line read from stdin.
const maxLineSize = 16 * 1024 * 1024

// errCrash signals a fault-injected abrupt exit to Main.
var errCrash = errors.New("mock: crash requested")

// --------------------------------------------------------------------------
// Launch Configuration
// --------------------------------------------------------------------------

// Config carries the six launch flags every worker process receives. All
// values arrive as strings, exactly as they appear on the command line.
type Config struct {
	ConnectionString string
	Username         string
	Password         string
	Bucket           string
	Timeout          string
	PoolSize         string
}

// Behavior names accepted in CBX_MOCK_BEHAVIOR.
const (
	BehaviorNormal     = ""            // answer everything
	BehaviorSilent     = "silent"      // start but never print ready
	BehaviorCrashStart = "crash-start" // exit before printing ready
	BehaviorCrashAfter = "crash-after" // exit after CBX_MOCK_CRASH_AFTER answers
	BehaviorNoReply    = "no-reply"    // print ready, then swallow every command
	BehaviorGarbage    = "garbage"     // print one non-JSON line after ready
)

// Faults selects the misbehavior of the mock worker.
type Faults struct {
	Behavior   string
	CrashAfter int
	DelayMS    int
	Scramble   bool
	FailCode   string
}

// FaultsFromEnv reads the fault configuration from the environment.
func FaultsFromEnv() Faults {
	crashAfter, _ := strconv.Atoi(os.Getenv("CBX_MOCK_CRASH_AFTER"))
	delayMS, _ := strconv.Atoi(os.Getenv("CBX_MOCK_DELAY_MS"))
	return Faults{
		Behavior:   os.Getenv("CBX_MOCK_BEHAVIOR"),
		CrashAfter: crashAfter,
		DelayMS:    delayMS,
		Scramble:   os.Getenv("CBX_MOCK_SCRAMBLE") == "1",
		FailCode:   os.Getenv("CBX_MOCK_FAIL_CODE"),
	}
}

// parseArgs parses the worker launch flags. The flag set mirrors the exact
// contract of the launch surface, so unknown flags are an error.
func parseArgs(args []string) (Config, error) {
	var cfg Config
	fs := flag.NewFlagSet("mock-worker", flag.ContinueOnError)
	fs.StringVar(&cfg.ConnectionString, "connection-string", "", "cluster connection string")
	fs.StringVar(&cfg.Username, "username", "", "cluster username")
	fs.StringVar(&cfg.Password, "password", "", "cluster password")
	fs.StringVar(&cfg.Bucket, "bucket", "", "bucket name")
	fs.StringVar(&cfg.Timeout, "timeout", "", "operation timeout in milliseconds")
	fs.StringVar(&cfg.PoolSize, "pool-size", "", "connection pool size")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Main is the process entry point: parse flags, read faults from the
// environment, run until stdin closes. The return value is the exit code.
func Main(args []string) int {
	cfg, err := parseArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mock worker: %v\n", err)
		return 2
	}
	if err := Run(cfg, FaultsFromEnv(), os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, errCrash) {
			// Abrupt exit, nothing flushed on purpose
			return 3
		}
		fmt.Fprintf(os.Stderr, "mock worker: %v\n", err)
		return 1
	}
	return 0
}

// --------------------------------------------------------------------------
// Worker Loop
// --------------------------------------------------------------------------

// worker holds the state of one mock worker run.
type worker struct {
	cfg     Config
	faults  Faults
	store   *docStore
	out     *bufio.Writer
	outMu   sync.Mutex // Serializes writes: scrambled responses come from goroutines
	handled uint64     // Atomic counter of commands taken off stdin
}

// Run speaks the wire protocol on the given streams until stdin closes, a
// close command arrives or a fault triggers. It is safe to call with
// in-process pipes; only Main touches the real process environment.
func Run(cfg Config, faults Faults, stdin io.Reader, stdout io.Writer) error {
	w := &worker{
		cfg:    cfg,
		faults: faults,
		store:  newDocStore(),
		out:    bufio.NewWriter(stdout),
	}

	switch faults.Behavior {
	case BehaviorCrashStart:
		return errCrash
	case BehaviorSilent:
		// Stay alive but never become ready
		_, err := io.Copy(io.Discard, stdin)
		return err
	}

	if err := w.writeLine([]byte(common.ReadySentinel)); err != nil {
		return err
	}
	if faults.Behavior == BehaviorGarbage {
		if err := w.writeLine([]byte("%%% mock garbage line %%%")); err != nil {
			return err
		}
	}

	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if faults.Behavior == BehaviorNoReply {
			continue
		}

		n := atomic.AddUint64(&w.handled, 1)
		if faults.Behavior == BehaviorCrashAfter && n > uint64(faults.CrashAfter) {
			return errCrash
		}

		// The scanner reuses its buffer, so scrambled goroutines need a copy
		closing, err := w.handleLine(append([]byte(nil), line...))
		if err != nil {
			return err
		}
		if closing {
			return nil
		}
	}
	return scanner.Err()
}

// handleLine decodes one command line and answers it. The boolean return
// reports whether the command was a close and the loop should stop.
func (w *worker) handleLine(line []byte) (bool, error) {
	var cmd common.Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		// Salvage the request id if possible so the caller is not left waiting
		var aux struct {
			RequestID *uint64 `json:"request_id"`
		}
		if json.Unmarshal(line, &aux) == nil && aux.RequestID != nil {
			return false, w.respond(common.NewErrorResponse(*aux.RequestID, "InvalidArguments", err.Error()))
		}
		Logger.Warningf("Dropping undecodable command line: %v", err)
		return false, nil
	}

	if cmd.Verb == common.VerbClose {
		if err := w.respond(dataResponse(cmd.RequestID, map[string]any{"closed": true})); err != nil {
			return false, err
		}
		return true, nil
	}

	if w.faults.Scramble {
		go func() {
			time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
			_ = w.respond(w.dispatch(&cmd))
		}()
		return false, nil
	}
	return false, w.respond(w.dispatch(&cmd))
}

// dispatch routes a decoded command to its verb handler.
func (w *worker) dispatch(cmd *common.Command) *common.Response {
	if w.faults.FailCode != "" {
		return common.NewErrorResponse(cmd.RequestID, w.faults.FailCode, "injected failure")
	}
	switch cmd.Verb {
	case common.VerbConnect:
		return dataResponse(cmd.RequestID, map[string]any{"bucket": w.cfg.Bucket})
	case common.VerbGet:
		return w.store.handleGet(cmd)
	case common.VerbSet, common.VerbInsert, common.VerbReplace, common.VerbUpsert:
		return w.store.handleStore(cmd)
	case common.VerbDelete:
		return w.store.handleDelete(cmd)
	case common.VerbExists:
		return w.store.handleExists(cmd)
	case common.VerbQuery:
		return w.handleQuery(cmd)
	case common.VerbLookupIn:
		return w.store.handleLookupIn(cmd)
	case common.VerbMutateIn:
		return w.store.handleMutateIn(cmd)
	case common.VerbPing:
		return w.handlePing(cmd)
	case common.VerbDiagnostics:
		return w.handleDiagnostics(cmd)
	default:
		return common.NewErrorResponse(cmd.RequestID, "InvalidArguments", fmt.Sprintf("unsupported verb %q", cmd.Verb))
	}
}

// --------------------------------------------------------------------------
// Query and Health Handlers
// --------------------------------------------------------------------------

// handleQuery fakes a N1QL roundtrip: one row per positional argument, or a
// single row echoing the statement when no arguments were given.
func (w *worker) handleQuery(cmd *common.Command) *common.Response {
	statement, ok := stringParam(cmd, "statement")
	if !ok || statement == "" {
		return common.NewErrorResponse(cmd.RequestID, "ParsingFailure", "query statement is empty")
	}

	rows := []map[string]any{}
	if args, ok := cmd.Params["args"].([]any); ok && len(args) > 0 {
		for i, arg := range args {
			rows = append(rows, map[string]any{"row": i, "arg": arg})
		}
	} else {
		rows = append(rows, map[string]any{"statement": statement})
	}
	return dataResponse(cmd.RequestID, rows)
}

func (w *worker) handlePing(cmd *common.Command) *common.Response {
	reportID, _ := stringParam(cmd, "report_id")
	return dataResponse(cmd.RequestID, map[string]any{
		"report_id": reportID,
		"services": []map[string]any{
			{"service": "kv", "state": "ok", "remote": w.cfg.ConnectionString, "latency_us": 150 + rand.Int63n(500)},
			{"service": "query", "state": "ok", "remote": w.cfg.ConnectionString, "latency_us": 400 + rand.Int63n(900)},
		},
	})
}

func (w *worker) handleDiagnostics(cmd *common.Command) *common.Response {
	reportID, _ := stringParam(cmd, "report_id")
	return dataResponse(cmd.RequestID, map[string]any{
		"report_id": reportID,
		"sdk":       "mock-worker",
		"services": []map[string]any{
			{"service": "kv", "state": "connected", "remote": w.cfg.ConnectionString},
			{"service": "query", "state": "connected", "remote": w.cfg.ConnectionString},
		},
	})
}

// --------------------------------------------------------------------------
// Output Helpers
// --------------------------------------------------------------------------

// respond encodes a response as one wire line. An optional fault delay is
// applied before writing.
func (w *worker) respond(resp *common.Response) error {
	if w.faults.DelayMS > 0 {
		time.Sleep(time.Duration(w.faults.DelayMS) * time.Millisecond)
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return w.writeLine(data)
}

// writeLine writes one line and flushes, serialized across goroutines.
func (w *worker) writeLine(line []byte) error {
	w.outMu.Lock()
	defer w.outMu.Unlock()
	if _, err := w.out.Write(line); err != nil {
		return err
	}
	if err := w.out.WriteByte('\n'); err != nil {
		return err
	}
	return w.out.Flush()
}

// stringParam extracts a string-typed parameter from a command.
func stringParam(cmd *common.Command, name string) (string, bool) {
	v, ok := cmd.Params[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// dataResponse builds a success response, degrading to an internal error
// response if the payload cannot be marshaled.
func dataResponse(requestID uint64, data any) *common.Response {
	resp, err := common.NewDataResponse(requestID, data)
	if err != nil {
		return common.NewErrorResponse(requestID, "InternalServerError", err.Error())
	}
	return resp
}
