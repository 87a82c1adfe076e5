package bridge

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// killWait bounds how long terminate waits for the process to be reaped
// after SIGKILL.
const killWait = 2 * time.Second

var (
	execCommandFn = exec.Command
	lookPathFn    = exec.LookPath
)

// Spec describes the worker executable.
type Spec struct {
	Command string
	Args    []string
	Dir     string
	// Env entries (KEY=value) are appended to the host environment.
	Env []string
}

// supervisor owns the worker process. Only it may signal or reap the
// process; readers get the output streams and nothing else.
type supervisor struct {
	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
	stderr *os.File

	exited  chan struct{}
	mu      sync.Mutex
	waitErr error
}

func spawn(spec Spec) (*supervisor, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return nil, &SpawnError{Command: spec.Command, Err: errors.New("no command configured")}
	}

	if spec.Dir != "" {
		info, err := os.Stat(spec.Dir)
		if err != nil {
			return nil, &SpawnError{Command: spec.Command, Err: fmt.Errorf("working directory: %w", err)}
		}
		if !info.IsDir() {
			return nil, &SpawnError{Command: spec.Command, Err: fmt.Errorf("working directory %s is not a directory", spec.Dir)}
		}
	}

	command := spec.Command
	if spec.Dir != "" && !filepath.IsAbs(command) && strings.ContainsRune(command, filepath.Separator) {
		command = filepath.Join(spec.Dir, command)
	}
	path, err := lookPathFn(command)
	if err != nil {
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}

	cmd := execCommandFn(path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.SysProcAttr = workerSysProcAttr()

	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Command: spec.Command, Err: fmt.Errorf("stdin pipe: %w", err)}
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		closeFiles(inR, inW)
		return nil, &SpawnError{Command: spec.Command, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeFiles(inR, inW, outR, outW)
		return nil, &SpawnError{Command: spec.Command, Err: fmt.Errorf("stderr pipe: %w", err)}
	}
	// os.Pipe rather than StdoutPipe: Wait closes StdoutPipe readers as soon
	// as the process exits, which can cut off its last lines. The stdin end
	// is kept as an *os.File so Close can interrupt a blocked write.
	cmd.Stdin = inR
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		closeFiles(inR, inW, outR, outW, errR, errW)
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}
	closeFiles(inR, outW, errW)

	s := &supervisor{
		cmd:    cmd,
		stdin:  inW,
		stdout: outR,
		stderr: errR,
		exited: make(chan struct{}),
	}
	go s.wait()
	return s, nil
}

func (s *supervisor) wait() {
	err := s.cmd.Wait()
	s.mu.Lock()
	s.waitErr = err
	s.mu.Unlock()
	close(s.exited)
}

func (s *supervisor) pid() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

func (s *supervisor) running() bool {
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

// exitErr returns the process's exit status once it has exited.
func (s *supervisor) exitErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitErr
}

// kill sends SIGKILL to the worker's process group, falling back to the
// process alone.
func (s *supervisor) kill() {
	if !s.running() {
		return
	}
	if err := killProcessGroup(s.pid()); err != nil {
		_ = s.cmd.Process.Kill()
	}
}

// terminate gives the worker up to grace to exit on its own, then kills it
// and waits (bounded) for it to be reaped.
func (s *supervisor) terminate(grace time.Duration) {
	if grace > 0 {
		timer := time.NewTimer(grace)
		select {
		case <-s.exited:
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	s.kill()
	timer := time.NewTimer(killWait)
	defer timer.Stop()
	select {
	case <-s.exited:
	case <-timer.C:
	}
}

// closeInput closes the worker's stdin, failing any write still blocked on
// it.
func (s *supervisor) closeInput() {
	_ = s.stdin.Close()
}

// closeOutputs forces EOF on both readers. Used when the worker is gone but
// a leftover descendant still holds its stdout open. Closing a reader that
// already finished is harmless.
func (s *supervisor) closeOutputs() {
	_ = s.stdout.Close()
	_ = s.stderr.Close()
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
