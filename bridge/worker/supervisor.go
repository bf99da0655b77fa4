// Package worker owns the lifecycle of the external worker process: spawn
// with connection arguments, wait for the readiness handshake, pump stdout
// lines into the correlator, detect crashes, and terminate cleanly.
//
// The supervisor is a state machine (see State). Commands are only accepted
// in the Running state; every other state answers immediately with a
// lifecycle error and never touches the process. When the worker dies, all
// pending calls are drained with a crash error so no caller blocks past
// process death.
package worker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/dolmen-go/contextio"
	"github.com/lni/dragonboat/v4/logger"

	"github.com/thanos/couchbase-ex/bridge/codec"
	"github.com/thanos/couchbase-ex/bridge/common"
	"github.com/thanos/couchbase-ex/bridge/correlator"
	"github.com/thanos/couchbase-ex/lib/cberr"
)

var Logger = logger.GetLogger("worker")

const (
	// maxResponseLine bounds a single response line read from the worker.
	maxResponseLine = 16 * 1024 * 1024

	// exitProbeDelay is how long a dead stdout stream may precede the exit
	// notification before the process is considered wedged rather than
	// exited.
	exitProbeDelay = 100 * time.Millisecond

	// closeWriteTimeout bounds the best-effort close command write so a
	// stuck worker cannot stall Close.
	closeWriteTimeout = 500 * time.Millisecond

	// killGrace is the wait after a force-kill before giving up on the
	// exit notification.
	killGrace = 2 * time.Second
)

var (
	workerLaunches = metrics.NewCounter("cbx_worker_launches_total")
	malformedLines = metrics.NewCounter("cbx_worker_malformed_lines_total")
)

// crashCounter counts worker deaths by crash reason.
func crashCounter(reason cberr.Reason) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`cbx_worker_crashes_total{reason=%q}`, reason))
}

// --------------------------------------------------------------------------
// Supervisor
// --------------------------------------------------------------------------

// Supervisor runs exactly one worker process and routes wire traffic
// between it and the correlator. Safe for concurrent use; Close may be
// called concurrently with in-flight dispatches.
type Supervisor struct {
	cfg      common.Config
	launcher ILauncher
	codec    codec.ICodec
	corr     *correlator.Correlator

	mu       sync.Mutex // Guards state, proc and crashErr
	state    State
	proc     IWorkerProcess
	crashErr *cberr.Error

	writeMu sync.Mutex // Serializes stdin writes across callers
}

// NewSupervisor creates a supervisor for the given, already validated
// config. Nothing is launched until Start.
func NewSupervisor(cfg common.Config, launcher ILauncher, c codec.ICodec) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		launcher: launcher,
		codec:    c,
		corr:     correlator.New(),
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the number of calls waiting for a response.
func (s *Supervisor) Pending() int {
	return s.corr.Len()
}

// --------------------------------------------------------------------------
// Startup
// --------------------------------------------------------------------------

// Start launches the worker process and blocks until it prints the ready
// line or the connection timeout elapses. On failure the supervisor ends
// up in the Crashed state and the returned error carries the cause.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.state != StateNotStarted {
		current := s.state
		s.mu.Unlock()
		return cberr.Newf(cberr.ReasonInvalidArgument, "supervisor cannot start while %s", current)
	}
	s.state = StateStarting
	s.mu.Unlock()

	proc, err := s.launcher.Launch(s.cfg)
	if err != nil {
		return s.crash(err)
	}
	workerLaunches.Inc()

	s.mu.Lock()
	s.proc = proc
	s.mu.Unlock()

	readyCh := make(chan error, 1)
	go s.readLoop(proc, readyCh)

	select {
	case err := <-readyCh:
		if err != nil {
			_ = proc.Kill()
			return s.crash(err)
		}
	case <-proc.Done():
		return s.crash(cberr.Newf(cberr.ReasonConnectionFailed,
			"worker exited before becoming ready (%s)", exitDetail(proc.ExitErr())))
	case <-time.After(s.cfg.ConnectTimeout()):
		_ = proc.Kill()
		return s.crash(cberr.Newf(cberr.ReasonConnectionFailed,
			"worker not ready within %v", s.cfg.ConnectTimeout()))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		// The worker died between the handshake and here
		if s.crashErr != nil {
			return s.crashErr
		}
		return cberr.Newf(cberr.ReasonConnectionFailed, "worker left state %s during startup", s.state)
	}
	s.state = StateRunning
	Logger.Infof("Worker ready, accepting commands")
	return nil
}

// crash records a startup or runtime failure, moving the supervisor into
// the Crashed state unless it is already terminal.
func (s *Supervisor) crash(err error) error {
	var cerr *cberr.Error
	if c, ok := err.(*cberr.Error); ok {
		cerr = c
	} else {
		cerr = cberr.Newf(cberr.ReasonConnectionFailed, "%v", err)
	}

	s.mu.Lock()
	if !s.state.terminal() {
		s.state = StateCrashed
		s.crashErr = cerr
	}
	s.mu.Unlock()

	crashCounter(cerr.Reason).Inc()
	s.corr.DrainWithError(cerr)
	return cerr
}

// --------------------------------------------------------------------------
// Reader Loop
// --------------------------------------------------------------------------

// readLoop consumes worker stdout for the whole process lifetime. The first
// line is the readiness handshake reported through readyCh; every later
// line is decoded and resolved against the correlator.
func (s *Supervisor) readLoop(proc IWorkerProcess, readyCh chan<- error) {
	scanner := bufio.NewScanner(proc.Stdout())
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponseLine)

	if !scanner.Scan() {
		readyCh <- cberr.Newf(cberr.ReasonConnectionFailed,
			"worker closed its output before becoming ready (%v)", scanner.Err())
		return
	}
	if line := strings.TrimSpace(scanner.Text()); line != common.ReadySentinel {
		readyCh <- cberr.Newf(cberr.ReasonConnectionFailed,
			"worker sent %q instead of the ready line", line)
		return
	}

	s.mu.Lock()
	if s.state == StateStarting {
		s.state = StateReady
	}
	s.mu.Unlock()
	readyCh <- nil

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var resp common.Response
		if err := s.codec.DecodeResponse(line, &resp); err != nil {
			// No id means no waiter to fail; the caller's own timeout covers it
			malformedLines.Inc()
			Logger.Errorf("Dropping malformed response line: %v", err)
			continue
		}
		s.corr.Resolve(&resp)
	}

	s.onStreamEnd(proc, scanner.Err())
}

// onStreamEnd handles the end of the worker's stdout stream. During a
// deliberate close the Close path owns the aftermath; otherwise this is a
// crash, distinguished by whether the process actually exited.
func (s *Supervisor) onStreamEnd(proc IWorkerProcess, readErr error) {
	s.mu.Lock()
	if s.state != StateReady && s.state != StateRunning {
		s.mu.Unlock()
		return
	}

	var reason cberr.Reason
	var detail string
	select {
	case <-proc.Done():
		reason = cberr.ReasonServerExited
		detail = fmt.Sprintf("worker exited (%s)", exitDetail(proc.ExitErr()))
	case <-time.After(exitProbeDelay):
		reason = cberr.ReasonPortDied
		detail = "worker stdout closed but the process is still alive"
		_ = proc.Kill()
	}
	if readErr != nil {
		detail = fmt.Sprintf("%s, read error: %v", detail, readErr)
	}

	crashErr := cberr.New(reason, detail)
	s.state = StateCrashed
	s.crashErr = crashErr
	s.mu.Unlock()

	crashCounter(reason).Inc()
	drained := s.corr.DrainWithError(crashErr)
	Logger.Errorf("Worker connection lost (%v), drained %d pending calls", crashErr, drained)
}

// exitDetail renders a process exit status for error messages.
func exitDetail(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}

// --------------------------------------------------------------------------
// Dispatch
// --------------------------------------------------------------------------

// Dispatch registers the command, stamps it with a fresh request id, writes
// it to the worker and returns the channel its result will arrive on. The
// caller owns the await and its timeout; on timeout it must call Abandon.
func (s *Supervisor) Dispatch(cmd *common.Command, writeTimeout time.Duration) (uint64, <-chan correlator.Result, error) {
	s.mu.Lock()
	if s.state != StateRunning {
		err := s.stateError()
		s.mu.Unlock()
		return 0, nil, err
	}
	s.mu.Unlock()

	// Register before writing: a fast worker must never answer an id
	// nobody is waiting for
	requestID, respCh := s.corr.Register()
	cmd.Stamp(requestID)

	line, err := s.codec.EncodeCommand(cmd)
	if err != nil {
		s.corr.Forget(requestID)
		return 0, nil, err
	}
	if err := s.writeLine(line, writeTimeout); err != nil {
		s.corr.Forget(requestID)
		return 0, nil, err
	}
	return requestID, respCh, nil
}

// Abandon removes the pending entry of a call whose caller stopped
// waiting. A response arriving later is dropped as unknown.
func (s *Supervisor) Abandon(requestID uint64) {
	s.corr.Forget(requestID)
}

// stateError translates a non-running state into the error dispatch must
// return. Callers hold s.mu.
func (s *Supervisor) stateError() error {
	switch s.state {
	case StateCrashed:
		return s.crashErr
	case StateTerminating, StateTerminated:
		return cberr.New(cberr.ReasonNotConnected, "connection is closed")
	default:
		return cberr.Newf(cberr.ReasonNotConnected, "worker is %s", s.state)
	}
}

// writeLine writes one encoded command line to worker stdin, serialized
// across callers and bounded by the given timeout.
func (s *Supervisor) writeLine(line []byte, timeout time.Duration) error {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc == nil {
		return cberr.New(cberr.ReasonNotConnected, "worker is not running")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if _, err := contextio.NewWriter(ctx, proc.Stdin()).Write(line); err != nil {
		return cberr.Newf(cberr.ReasonCommunicationFailed, "write to worker: %v", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// Close terminates the worker: best-effort close command, then a polite
// stop signal, then a force-kill after the shutdown grace period. Whatever
// is still pending afterwards is drained with server_terminated. Closing
// an already closed or crashed supervisor is a no-op.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	switch {
	case s.state == StateNotStarted:
		s.state = StateTerminated
		s.mu.Unlock()
		return nil
	case s.state.terminal() || s.state == StateTerminating:
		s.mu.Unlock()
		return nil
	}
	proc := s.proc
	s.state = StateTerminating
	s.mu.Unlock()

	Logger.Infof("Closing worker connection")

	// The close command is fire-and-forget: workers flush and exit on it,
	// but a wedged worker must not delay termination. Registering the id
	// keeps a late answer from being logged as unknown.
	if proc != nil {
		closeID, _ := s.corr.Register()
		closeCmd := common.NewCloseCommand()
		closeCmd.Stamp(closeID)
		if line, err := s.codec.EncodeCommand(closeCmd); err == nil {
			_ = s.writeLine(line, closeWriteTimeout)
		}

		_ = proc.Terminate()
		select {
		case <-proc.Done():
		case <-time.After(s.cfg.ShutdownGrace()):
			Logger.Warningf("Worker did not exit within %v, killing it", s.cfg.ShutdownGrace())
			_ = proc.Kill()
			select {
			case <-proc.Done():
			case <-time.After(killGrace):
				Logger.Errorf("Worker ignored the kill, giving up on it")
			}
		}
	}

	termErr := cberr.New(cberr.ReasonServerTerminated, "connection closed")
	if drained := s.corr.DrainWithError(termErr); drained > 0 {
		Logger.Infof("Drained %d in-flight calls during close", drained)
	}

	s.mu.Lock()
	s.state = StateTerminated
	s.mu.Unlock()
	return nil
}
