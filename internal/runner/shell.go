package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
)

// ShellPayload is the Payload shape ShellRunner expects: a command and
// its arguments, run with Dir as cwd (the engine's own cwd when empty).
type ShellPayload struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Dir     string   `json:"dir,omitempty"`
}

// ShellRunner is an example Runner adapter that executes a task's
// payload as a subprocess, reporting the command's stdout/stderr as
// declared outputs. It isolates each subprocess in its own process
// group so a cancelled context can't leave orphaned children.
type ShellRunner struct {
	procs *ProcessManager
}

// NewShellRunner creates a ShellRunner tracked by procs (pass nil to
// skip tracking).
func NewShellRunner(procs *ProcessManager) *ShellRunner {
	if procs == nil {
		procs = NewProcessManager()
	}
	return &ShellRunner{procs: procs}
}

func (s *ShellRunner) Run(ctx Context) (Result, error) {
	var payload ShellPayload
	if len(ctx.Payload) > 0 {
		if err := json.Unmarshal(ctx.Payload, &payload); err != nil {
			return Result{}, fmt.Errorf("shell runner: invalid payload: %w", err)
		}
	}
	if payload.Command == "" {
		return Result{}, fmt.Errorf("shell runner: payload.command is required")
	}

	cmd := exec.CommandContext(ctx.Context, payload.Command, payload.Args...)
	cmd.Dir = payload.Dir
	cmd.SysProcAttr = processGroupAttr()

	if ctx.Progress != nil {
		ctx.Progress(0, "starting "+payload.Command)
	}

	stdout, stderr, err := s.execute(ctx.Context, cmd)

	if ctx.Progress != nil {
		ctx.Progress(100, "finished "+payload.Command)
	}

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	outputs := map[string]string{
		"stdout":   string(stdout),
		"stderr":   string(stderr),
		"exitCode": strconv.Itoa(exitCode),
	}
	if err != nil {
		return Result{Outputs: outputs}, fmt.Errorf("shell runner: %w", err)
	}
	return Result{Outputs: outputs}, nil
}

// execute runs cmd, draining stdout/stderr concurrently before Wait so
// subprocess output can't deadlock the pipe buffers (teacher's
// executeCommand pattern), and kills the whole process group the moment
// ctx is cancelled rather than relying on exec.CommandContext's
// single-process kill (spec §5 "forcibly abandoned when the
// maxExecutionTime deadline passes").
func (s *ShellRunner) execute(ctx context.Context, cmd *exec.Cmd) (stdout, stderr []byte, err error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start command: %w", err)
	}
	s.procs.Track(cmd)
	defer s.procs.Untrack(cmd)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = killProcessGroup(cmd)
		case <-done:
		}
	}()

	var wg sync.WaitGroup
	var stdoutBuf, stderrBuf bytes.Buffer
	wg.Add(2)
	go func() { defer wg.Done(); io.Copy(&stdoutBuf, stdoutPipe) }()
	go func() { defer wg.Done(); io.Copy(&stderrBuf, stderrPipe) }()
	wg.Wait()

	waitErr := cmd.Wait()
	return stdoutBuf.Bytes(), stderrBuf.Bytes(), waitErr
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

func processGroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
