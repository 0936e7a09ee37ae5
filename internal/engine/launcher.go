package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Process is a running engine.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	// Interrupt asks the engine to stop.
	Interrupt() error
	Kill() error
	// Wait must be called once both streams have been drained.
	Wait() error
}

// Launcher starts engine processes.
type Launcher interface {
	Launch(ctx context.Context, command string, args []string) (Process, error)
}

// ExecLauncher launches engines as host subprocesses.
type ExecLauncher struct {
	Dir string
	Env []string
}

func (l ExecLauncher) Launch(ctx context.Context, command string, args []string) (Process, error) {
	cmd := exec.Command(command, args...)
	cmd.Dir = l.Dir
	if len(l.Env) > 0 {
		cmd.Env = append(os.Environ(), l.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", command, err)
	}
	return &execProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }

func (p *execProcess) Interrupt() error {
	return p.cmd.Process.Signal(os.Interrupt)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}
