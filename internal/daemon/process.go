package daemon

import (
	"io"
	"os/exec"
	"sync"

	pkgerrors "gephgui/pkg/errors"
)

// Process is a launched daemon as seen by the supervisor.
type Process interface {
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// ExitErr is the exit status; only meaningful after Done is closed.
	ExitErr() error
	// Stderr returns the captured tail of the process's standard error.
	Stderr() string
	// Kill terminates the process without waiting for a graceful stop.
	Kill() error
}

// execProcess is a child process started with os/exec.
type execProcess struct {
	cmd     *exec.Cmd
	stderr  *tailBuffer
	done    chan struct{}
	exitErr error
}

// spawn starts name with args, detached from the controlling terminal.
// Output is copied into logs when non-nil.
func spawn(name string, args []string, logs io.Writer) (*execProcess, error) {
	// exec.Command (not CommandContext) so the daemon outlives the caller's context.
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = sysProcAttr()

	if logs == nil {
		logs = io.Discard
	}
	tail := newTailBuffer(stderrTailSize)
	cmd.Stdout = logs
	cmd.Stderr = io.MultiWriter(tail, logs)

	if err := cmd.Start(); err != nil {
		return nil, &pkgerrors.SpawnError{Binary: name, Err: err}
	}

	p := &execProcess{
		cmd:    cmd,
		stderr: tail,
		done:   make(chan struct{}),
	}
	go func() {
		p.exitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
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

func (p *execProcess) Stderr() string { return p.stderr.String() }

func (p *execProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return p.cmd.Process.Kill()
}

// detachedProcess stands for a daemon the supervisor has no OS handle for,
// such as one launched through an elevation prompt. Its liveness is only
// observable through the control endpoint; Done closes when it is released.
type detachedProcess struct {
	once sync.Once
	done chan struct{}
}

func newDetachedProcess() *detachedProcess {
	return &detachedProcess{done: make(chan struct{})}
}

func (p *detachedProcess) Done() <-chan struct{} { return p.done }
func (p *detachedProcess) ExitErr() error        { return nil }
func (p *detachedProcess) Stderr() string        { return "" }

func (p *detachedProcess) Kill() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
