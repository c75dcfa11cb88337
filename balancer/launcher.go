package balancer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// PortPlaceholder is replaced by the chosen port in launch templates.
const PortPlaceholder = "{port}"

var ErrNoPortPlaceholder = errors.New("launch command has no " + PortPlaceholder + " placeholder")

// Process is a running backend launched by this balancer.
type Process interface {
	PID() int
	Done() <-chan struct{} // Closed when the process exits
	Err() error            // Exit status, valid once Done is closed
	Stop(grace time.Duration) error
}

// Launcher starts backend processes.
type Launcher interface {
	Launch(ctx context.Context, port int) (Process, error)
}

// ExecLauncher runs a shell command template, replacing {port}.
type ExecLauncher struct {
	Template string
	logger   *slog.Logger
}

// NewExecLauncher validates the template.
func NewExecLauncher(template string, logger *slog.Logger) (*ExecLauncher, error) {
	if !strings.Contains(template, PortPlaceholder) {
		return nil, ErrNoPortPlaceholder
	}
	return &ExecLauncher{Template: template, logger: logger}, nil
}

// Command returns the shell command for port.
func (l *ExecLauncher) Command(port int) string {
	return strings.ReplaceAll(l.Template, PortPlaceholder, strconv.Itoa(port))
}

func (l *ExecLauncher) Launch(_ context.Context, port int) (Process, error) {
	command := l.Command(port)
	// The process outlives the launching request, so it is not bound to ctx.
	cmd := exec.Command("sh", "-c", command)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q: %w", command, err)
	}

	proc := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		proc.err = cmd.Wait()
		close(proc.done)
	}()
	l.logger.Info("backend process started", "command", command, "pid", cmd.Process.Pid)
	return proc, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error // Valid after done is closed
}

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Err() error { return p.err }

// Stop sends SIGTERM to the process group and kills it if it outlives grace.
func (p *execProcess) Stop(grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	pgid := -p.cmd.Process.Pid
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("terminate pid %d: %w", p.PID(), err)
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}
	if err := syscall.Kill(pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill pid %d: %w", p.PID(), err)
	}
	<-p.done
	return nil
}
