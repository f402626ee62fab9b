// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package supervisor launches and watches the external design binary
// that performs the actual GPU work. It is stateless per call: the
// queue core owns the map of in-flight *Process values keyed by job id.
package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/sony/gobreaker"

	"github.com/boltzgen/queued/internal/store"
	qerrors "github.com/boltzgen/queued/pkg/errors"
	"github.com/boltzgen/queued/pkg/logging"
)

// Supervisor spawns child processes from a fixed scripts directory,
// wrapping spawn attempts in a circuit breaker so a broken install
// (missing interpreter, bad permissions) fails fast instead of
// hammering exec() once per dispatch tick.
type Supervisor struct {
	scriptsDir string
	breaker    *gobreaker.CircuitBreaker
	log        logging.Logger
}

// Process is a single launched child process: the supervisor's only
// further operations against it are Poll and Terminate.
type Process struct {
	cmd     *exec.Cmd
	logFile *os.File
	PID     int

	done     chan struct{}
	exitCode int
	waitErr  error
}

// New constructs a Supervisor. scriptsDir is the fixed working
// directory new child processes are launched from.
func New(scriptsDir string, log logging.Logger) *Supervisor {
	if log == nil {
		log = logging.NewLogger(nil)
	}
	settings := gobreaker.Settings{
		Name:        "process-spawn",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("process spawn breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &Supervisor{
		scriptsDir: scriptsDir,
		breaker:    gobreaker.NewCircuitBreaker(settings),
		log:        log,
	}
}

// BuildArgv constructs the child's argv: the script path followed by
// one --name value pair per argument, in submission order:
// scriptPath followed by, for each arg in insertion order, "--name"
// (plus a stringified value unless the value is a boolean). A
// boolean true emits the flag alone; a boolean false or a nil value is
// omitted entirely.
func BuildArgv(scriptPath string, args store.Args) []string {
	argv := make([]string, 0, 1+2*len(args))
	argv = append(argv, scriptPath)
	for _, kv := range args {
		if kv.Value == nil {
			continue
		}
		if b, ok := kv.Value.(bool); ok {
			if b {
				argv = append(argv, "--"+kv.Name)
			}
			continue
		}
		argv = append(argv, "--"+kv.Name, stringifyArg(kv.Value))
	}
	return argv
}

func stringifyArg(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// buildEnv returns the parent environment plus the overrides
// requires: CUDA_VISIBLE_DEVICES pinned to deviceID, PYTHONUNBUFFERED=1,
// and TRITON_HOME defaulted to /tmp if the parent hasn't already set it.
func buildEnv(deviceID string) []string {
	env := os.Environ()
	env = append(env, "CUDA_VISIBLE_DEVICES="+deviceID, "PYTHONUNBUFFERED=1")
	if os.Getenv("TRITON_HOME") == "" {
		env = append(env, "TRITON_HOME=/tmp")
	}
	return env
}

// Launch starts the external process for a job on the given device,
// merging its stdout+stderr into logPath and detaching it into a new
// OS session so a later Terminate can target the process group without
// racing the supervisor's own signal handling.
//
// Spawn failures (missing executable, permission denied) are routed
// through a circuit breaker: after three consecutive failures, further
// Launch calls fail fast with CodeBreakerOpen for a cool-down window
// instead of repeatedly shelling out to a binary known to be broken.
func (s *Supervisor) Launch(scriptPath string, args store.Args, deviceID, logPath string) (*Process, error) {
	result, err := s.breaker.Execute(func() (any, error) {
		return s.launch(scriptPath, args, deviceID, logPath)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, qerrors.Wrap(qerrors.CodeBreakerOpen, "process spawn circuit breaker open", err)
		}
		return nil, qerrors.Wrap(qerrors.CodeSpawnFailed, "failed to spawn process", err)
	}
	return result.(*Process), nil
}

func (s *Supervisor) launch(scriptPath string, args store.Args, deviceID, logPath string) (*Process, error) {
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	argv := BuildArgv(scriptPath, args)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = s.scriptsDir
	cmd.Env = buildEnv(deviceID)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, err
	}

	p := &Process{cmd: cmd, logFile: logFile, PID: cmd.Process.Pid, done: make(chan struct{})}
	go p.wait()
	return p, nil
}

// wait calls cmd.Wait exactly once, in the background, the instant the
// process is launched, and records its outcome for Poll to observe
// non-blockingly. exec.Cmd.Wait may only be called once per process,
// so this must not run concurrently with, or be re-triggered by, Poll.
func (p *Process) wait() {
	err := p.cmd.Wait()
	p.logFile.Close()
	if err == nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	} else if exitErr, ok := err.(*exec.ExitError); ok {
		p.exitCode = exitErr.ExitCode()
	} else {
		p.exitCode = -1
		p.waitErr = err
	}
	close(p.done)
}

// Poll reports whether the process has exited and, if so, its exit
// code. It never blocks.
func (p *Process) Poll() (exited bool, exitCode int, err error) {
	select {
	case <-p.done:
		return true, p.exitCode, p.waitErr
	default:
		return false, 0, nil
	}
}

// Terminate sends a polite termination signal (SIGTERM) to the
// process's entire session, so the worker loop's next reap tick
// observes the exit without the supervisor escalating to SIGKILL.
func (p *Process) Terminate() error {
	pgid, err := syscall.Getpgid(p.cmd.Process.Pid)
	if err != nil {
		return p.cmd.Process.Signal(syscall.SIGTERM)
	}
	return syscall.Kill(-pgid, syscall.SIGTERM)
}
