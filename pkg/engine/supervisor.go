// Package engine supervises the local inference engine process and talks to
// its OpenAI-compatible API.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/image-sorter/pkg/config"
	"github.com/docker/image-sorter/pkg/logging"
	"github.com/docker/image-sorter/pkg/sandbox"
	"github.com/docker/image-sorter/pkg/tailbuffer"
)

const (
	// probeTimeout bounds a single readiness probe.
	probeTimeout = time.Second
	// exitWaitTimeout bounds how long Stop waits for a killed process to be
	// reaped.
	exitWaitTimeout = 10 * time.Second
	// outputTailSize is how much engine output is kept for crash reports.
	outputTailSize = 4096
)

// State is the supervisor's view of the engine.
type State uint8

const (
	// StateStopped indicates that no engine process is running.
	StateStopped State = iota
	// StateStarting indicates that a process was spawned and is being probed.
	StateStarting
	// StateReady indicates that the engine answered its model listing.
	StateReady
	// StateFailed indicates that the last start attempt failed.
	StateFailed
)

// String implements Stringer.String for State.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Observer receives lifecycle notifications. Methods are called with the
// supervisor's lock held and must not call back into the supervisor. The
// failure reason is one of "spawn", "crashed", "timeout" or "canceled".
type Observer interface {
	EngineStarted(d time.Duration)
	EngineFailed(reason string)
}

// process tracks one spawned engine.
type process struct {
	// sandbox owns the OS process.
	sandbox sandbox.Sandbox
	// models is the pair the process was launched with.
	models config.Models
	// tail holds the last bytes of engine output.
	tail *tailbuffer.TailBuffer
	// done is closed once the process has been reaped.
	done chan struct{}
	// err is the wait result, only valid after done is closed.
	err error
}

// exited reports whether the process has terminated.
func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// crashError describes an exit before readiness.
func (p *process) crashError() error {
	if out := p.tail.String(); out != "" {
		return fmt.Errorf("%w: %v\nwith output: %s", ErrEngineCrashed, p.err, out)
	}
	return fmt.Errorf("%w: %v", ErrEngineCrashed, p.err)
}

// Supervisor owns the engine process. All lifecycle operations are serialized,
// so at most one engine is alive per Supervisor at any time.
type Supervisor struct {
	// log is the component logger.
	log logging.Logger
	// serverLog receives the engine's own output.
	serverLog logging.Logger
	// config is the launch configuration.
	config *Config
	// client talks to the engine.
	client *Client
	// observer is notified of lifecycle events, may be nil.
	observer Observer

	mu sync.Mutex
	// state is the current engine state.
	state State
	// proc is the running process, nil when stopped.
	proc *process
	// modelID is the identifier reported by the engine once ready.
	modelID string
	// starts counts spawned processes.
	starts int
}

// NewSupervisor creates a Supervisor for conf. serverLog receives engine
// output line by line.
func NewSupervisor(log, serverLog logging.Logger, conf *Config, observer Observer) *Supervisor {
	return &Supervisor{
		log:       log,
		serverLog: serverLog,
		config:    conf,
		client:    NewClient(conf.BaseURL(), &http.Client{Timeout: RequestTimeout, Transport: conf.Transport}),
		observer:  observer,
	}
}

// Client returns the API client bound to the supervised engine.
func (s *Supervisor) Client() *Client {
	return s.client
}

// State returns the current engine state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReady && s.proc != nil && s.proc.exited() {
		return StateFailed
	}
	return s.state
}

// ModelID returns the model identifier reported by the engine, or "" when
// not ready.
func (s *Supervisor) ModelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelID
}

// PID returns the engine's process id, or 0 when stopped.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil || s.proc.sandbox.Command().Process == nil {
		return 0
	}
	return s.proc.sandbox.Command().Process.Pid
}

// Starts returns how many engine processes have been spawned.
func (s *Supervisor) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

// EnsureReady makes sure an engine is serving models. It returns immediately
// if an engine launched with the same pair is still running, stops a running
// engine that was launched with a different pair, and otherwise spawns the
// engine and waits for it to answer its model listing endpoint.
func (s *Supervisor) EnsureReady(ctx context.Context, models config.Models) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := config.Models{Main: absPath(models.Main), Projector: absPath(models.Projector)}
	if !isFile(want.Main) || !isFile(want.Projector) {
		return fmt.Errorf("%w: %s, %s", ErrModelFilesMissing, want.Main, want.Projector)
	}

	if s.proc != nil {
		if s.state == StateReady && !s.proc.exited() && s.proc.models == want {
			return nil
		}
		s.log.Infof("Restarting inference engine for %s", filepath.Base(want.Main))
		s.stopLocked()
	}

	return s.startLocked(ctx, want)
}

// startLocked spawns the engine and waits for readiness. s.mu must be held.
func (s *Supervisor) startLocked(ctx context.Context, models config.Models) error {
	args := s.config.GetArgs(models)
	s.log.Infof("Starting inference engine: %s %v", s.config.ServerPath, args)

	tail := tailbuffer.New(outputTailSize)
	serverLogStream := s.serverLog.Writer()
	out := io.MultiWriter(serverLogStream, tail)
	engineSandbox, err := sandbox.Create(
		context.Background(),
		sandbox.ConfigurationEngine,
		func(command *exec.Cmd) {
			command.Stdout = out
			command.Stderr = out
		},
		s.config.ServerPath,
		args...,
	)
	if err != nil {
		serverLogStream.Close()
		err = fmt.Errorf("unable to start inference engine: %w", err)
		s.fail(err)
		return err
	}

	p := &process{
		sandbox: engineSandbox,
		models:  models,
		tail:    tail,
		done:    make(chan struct{}),
	}
	go func() {
		p.err = engineSandbox.Command().Wait()
		serverLogStream.Close()
		close(p.done)
	}()

	s.proc = p
	s.state = StateStarting
	s.starts++
	started := time.Now()

	modelID, err := s.wait(ctx, p)
	if err != nil {
		s.stopLocked()
		s.fail(err)
		return err
	}

	s.modelID = modelID
	s.client.SetModel(modelID)
	s.state = StateReady
	s.log.Infof("Inference engine ready with model %s after %s", modelID, time.Since(started).Round(time.Millisecond))
	if s.observer != nil {
		s.observer.EngineStarted(time.Since(started))
	}
	return nil
}

// wait polls the model listing endpoint until the engine answers, exits, or
// the start timeout elapses.
func (s *Supervisor) wait(ctx context.Context, p *process) (string, error) {
	timeout := s.config.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	interval := s.config.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if p.exited() {
			return "", p.crashError()
		}

		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		modelID, err := s.client.ListModels(probeCtx)
		cancel()
		if err == nil {
			return modelID, nil
		}

		select {
		case <-p.done:
			return "", p.crashError()
		case <-deadline.C:
			return "", fmt.Errorf("%w after %s", ErrEngineStartTimeout, timeout)
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Stop terminates the engine if it is running. It is idempotent and returns
// immediately when no engine is running.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

// stopLocked kills the process and waits briefly for it to be reaped. s.mu
// must be held.
func (s *Supervisor) stopLocked() error {
	p := s.proc
	s.proc = nil
	s.modelID = ""
	s.state = StateStopped
	if p == nil {
		return nil
	}

	err := p.sandbox.Close()
	select {
	case <-p.done:
	case <-time.After(exitWaitTimeout):
		s.log.Warnf("Inference engine did not exit within %s of being killed", exitWaitTimeout)
	}
	if err != nil {
		s.log.Warnf("Unable to close engine sandbox: %v", err)
	} else {
		s.log.Infoln("Inference engine stopped")
	}
	return err
}

// fail records a failed start. s.mu must be held.
func (s *Supervisor) fail(err error) {
	s.state = StateFailed
	s.log.Warnf("Inference engine failed to start: %v", err)
	if s.observer == nil {
		return
	}
	reason := "spawn"
	switch {
	case errors.Is(err, ErrEngineCrashed):
		reason = "crashed"
	case errors.Is(err, ErrEngineStartTimeout):
		reason = "timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		reason = "canceled"
	}
	s.observer.EngineFailed(reason)
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
