package runner

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/testwire-labs/testwire/internal/cancel"
)

const killGrace = 2 * time.Second

// process wraps one spawned test command. The command runs in its own
// process group so cancellation reaches grandchildren too.
type process struct {
	cmd      *exec.Cmd
	logger   *slog.Logger
	exited   chan struct{}
	pumpDone chan struct{}

	waitOnce sync.Once
	waitErr  error
}

// startProcess launches commandLine through the shell with the given
// extra environment appended to the parent's. Combined stdout and stderr
// are streamed to sink in arrival order.
func startProcess(scope *cancel.Scope, commandLine, dir string, env []string, sink func([]byte), logger *slog.Logger) (*process, error) {
	cmd := exec.Command("/bin/sh", "-c", commandLine)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	p := &process{
		cmd:      cmd,
		logger:   logger,
		exited:   make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
	go p.pump(stdout, sink)
	go p.reap(scope)
	return p, nil
}

func (p *process) pump(r io.Reader, sink func([]byte)) {
	defer close(p.pumpDone)
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 && sink != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			sink(chunk)
		}
		if err != nil {
			return
		}
	}
}

// reap terminates the process group when the scope is cancelled. The
// group gets SIGTERM first and SIGKILL if it lingers past the grace
// period.
func (p *process) reap(scope *cancel.Scope) {
	select {
	case <-scope.Done():
	case <-p.exited:
		return
	}
	pgid := p.cmd.Process.Pid
	p.logger.Debug("terminating test process group", "pgid", pgid)
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	select {
	case <-p.exited:
	case <-time.After(killGrace):
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	}
}

// Wait blocks until the process exits and returns its exit error, if any.
func (p *process) Wait() error {
	p.waitOnce.Do(func() {
		<-p.pumpDone
		p.waitErr = p.cmd.Wait()
		close(p.exited)
	})
	return p.waitErr
}
