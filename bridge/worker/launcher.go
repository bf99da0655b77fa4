package worker

import (
	"bufio"
	"io"
	"os/exec"
	"strings"
	"syscall"

	"github.com/thanos/couchbase-ex/bridge/common"
	"github.com/thanos/couchbase-ex/lib/cberr"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// ILauncher abstracts worker process creation so tests can substitute
// in-process fakes for the real executable.
type ILauncher interface {
	// Launch starts one worker process with the connection arguments
	// derived from the config.
	Launch(cfg common.Config) (IWorkerProcess, error)
}

// IWorkerProcess is the supervisor's handle on a running worker.
type IWorkerProcess interface {
	// Stdin returns the command stream of the worker.
	Stdin() io.Writer
	// Stdout returns the response stream of the worker.
	Stdout() io.Reader
	// Terminate asks the worker politely to exit.
	Terminate() error
	// Kill stops the worker immediately.
	Kill() error
	// Done returns a channel that is closed once the process has exited.
	Done() <-chan struct{}
	// ExitErr returns the exit status. Only valid after Done is closed.
	ExitErr() error
}

// -----------------------------------------------------------
// Exec Launcher
// -----------------------------------------------------------

// NewExecLauncher creates the production launcher which starts the worker
// executable configured in Config.WorkerPath. The path may carry extra
// leading arguments separated by spaces ("/usr/bin/cbx mock-worker"), so a
// multi-command binary can host the worker as a subcommand.
func NewExecLauncher() ILauncher {
	return &execLauncher{}
}

type execLauncher struct{}

func (l *execLauncher) Launch(cfg common.Config) (IWorkerProcess, error) {
	parts := strings.Fields(cfg.WorkerPath)
	if len(parts) == 0 {
		return nil, cberr.New(cberr.ReasonInvalidConnectionParams, "worker path is empty")
	}
	args := append(parts[1:], cfg.WorkerArgs()...)

	cmd := exec.Command(parts[0], args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, cberr.Newf(cberr.ReasonConnectionFailed, "worker stdin pipe: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, cberr.Newf(cberr.ReasonConnectionFailed, "worker stdout pipe: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, cberr.Newf(cberr.ReasonConnectionFailed, "worker stderr pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, cberr.Newf(cberr.ReasonConnectionFailed, "launch worker %q: %v", parts[0], err)
	}
	Logger.Infof("Launched worker process %q (pid %d)", cfg.WorkerPath, cmd.Process.Pid)

	p := &execProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		done:   make(chan struct{}),
	}
	go p.wait()
	go forwardStderr(stderr)

	return p, nil
}

// execProcess wraps an os/exec worker process.
type execProcess struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.Reader
	done    chan struct{}
	exitErr error
}

// wait collects the exit status and publishes it through the done channel.
func (p *execProcess) wait() {
	p.exitErr = p.cmd.Wait()
	close(p.done)
}

func (p *execProcess) Stdin() io.Writer  { return p.stdin }
func (p *execProcess) Stdout() io.Reader { return p.stdout }

func (p *execProcess) Terminate() error {
	// Closing stdin is the primary stop signal: workers exit when their
	// command stream ends. SIGTERM covers workers stuck elsewhere.
	_ = p.stdin.Close()
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) ExitErr() error {
	select {
	case <-p.done:
		return p.exitErr
	default:
		return nil
	}
}

// forwardStderr relays worker stderr lines into the bridge log so worker
// diagnostics end up in one place.
func forwardStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		Logger.Infof("worker: %s", scanner.Text())
	}
}
