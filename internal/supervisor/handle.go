package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/AlexandrePrevot/OrderParserProcessor/internal/models"
)

// pipeDrainDelay bounds how long Wait keeps reading stdout/stderr after the
// process itself has exited, in case a grandchild still holds the pipes.
const pipeDrainDelay = 2 * time.Second

// Handle is one running script process. A reaper goroutine calls Wait on the
// underlying command exactly once and closes done.
type Handle struct {
	Key       models.ScriptIdentity
	Path      string
	StartedAt time.Time

	cmd    *exec.Cmd
	done   chan struct{}
	err    error
	stdout *tailBuffer
	stderr *tailBuffer
}

func startHandle(key models.ScriptIdentity, path string, outputLimit int) (*Handle, error) {
	h := &Handle{
		Key:    key,
		Path:   path,
		done:   make(chan struct{}),
		stdout: newTailBuffer(outputLimit),
		stderr: newTailBuffer(outputLimit),
	}

	cmd := exec.Command(path)
	cmd.Dir = filepath.Dir(path)
	cmd.Stdout = h.stdout
	cmd.Stderr = h.stderr
	cmd.WaitDelay = pipeDrainDelay
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	h.cmd = cmd
	h.StartedAt = time.Now()

	go func() {
		h.err = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

// PID returns the process id.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// Poll reports whether the process has exited, and its exit error if so.
func (h *Handle) Poll() (exited bool, err error) {
	select {
	case <-h.done:
		return true, h.err
	default:
		return false, nil
	}
}

// Running reports whether the process has not exited yet.
func (h *Handle) Running() bool {
	exited, _ := h.Poll()
	return !exited
}

// Wait blocks until the process exits or timeout elapses. A negative
// timeout waits forever. It reports whether the process exited.
func (h *Handle) Wait(timeout time.Duration) bool {
	if timeout < 0 {
		<-h.done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return true
	case <-timer.C:
		return false
	}
}

// Done is closed once the process has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Terminate asks the process to exit.
func (h *Handle) Terminate() error {
	return ignoreDone(h.cmd.Process.Signal(syscall.SIGTERM))
}

// Kill forcefully stops the process.
func (h *Handle) Kill() error {
	return ignoreDone(h.cmd.Process.Kill())
}

// ExitCode returns the exit code once exited, or -1.
func (h *Handle) ExitCode() int {
	if h.Running() || h.cmd.ProcessState == nil {
		return -1
	}
	return h.cmd.ProcessState.ExitCode()
}

// Output returns the retained tail of stdout and stderr.
func (h *Handle) Output() (stdout, stderr string) {
	return h.stdout.String(), h.stderr.String()
}

func ignoreDone(err error) error {
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	if limit <= 0 {
		limit = defaultOutputLimit
	}
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
