// Package process spawns, monitors and terminates a tool server child process
// and exposes its stdio as a transport.StreamChannel.
package process

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/mcpagent/pkg/mcperr"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent/mcp", "process")

// DefaultGracefulTimeout is how long Stop waits for the child to exit
// after its stdin is closed, before killing it.
const DefaultGracefulTimeout = 5 * time.Second

// Descriptor describes how to launch a tool server.
// It is immutable once a session is created from it.
type Descriptor struct {
	// Name is used in logs and metrics, defaults to the command
	Name    string `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Command string `json:"command" yaml:"command" toml:"command" validate:"required"`
	// Args are passed to the command
	Args []string `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`
	// Env overrides are appended to the current process environment
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
	// Dir is the working directory, defaults to the current one
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty" toml:"dir,omitempty"`
}

// DisplayName returns the name for logs
func (d *Descriptor) DisplayName() string {
	return values.StringsCoalesce(d.Name, d.Command)
}

// Environ returns the child environment:
// the current environment followed by the overrides in key order.
func (d *Descriptor) Environ() []string {
	env := os.Environ()
	keys := make([]string, 0, len(d.Env))
	for k := range d.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+d.Env[k])
	}
	return env
}

// Options for Start
type Options struct {
	ParsePolicy transport.ParsePolicy
	// Stderr receives the child stderr in addition to the debug log
	Stderr io.Writer
}

// Option configures Start
type Option func(*Options)

// WithParsePolicy sets the malformed frame policy of the channel
func WithParsePolicy(p transport.ParsePolicy) Option {
	return func(o *Options) {
		o.ParsePolicy = p
	}
}

// WithStderr copies the child stderr to w
func WithStderr(w io.Writer) Option {
	return func(o *Options) {
		o.Stderr = w
	}
}

// Process is a running tool server
type Process struct {
	desc    *Descriptor
	cmd     *exec.Cmd
	channel *transport.StreamChannel
	done    chan struct{}
	waitErr error

	stopping atomic.Bool
	stopOnce sync.Once
}

// Start spawns the process described by desc with its stdio wired to a channel.
// Failures are marked with mcperr.ErrSpawn.
func Start(ctx context.Context, desc *Descriptor, opts ...Option) (*Process, error) {
	if desc == nil || desc.Command == "" {
		return nil, mcperr.Mark(errors.New("command is required"), mcperr.ErrSpawn)
	}
	if err := ctx.Err(); err != nil {
		return nil, mcperr.Mark(mcperr.Mark(err, mcperr.ErrCancelled), mcperr.ErrSpawn)
	}

	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}

	// the process outlives the call context, it is stopped only by Stop
	cmd := exec.Command(desc.Command, desc.Args...)
	cmd.Env = desc.Environ()
	cmd.Dir = desc.Dir

	// os pipes, so Wait does not close the parent ends while the reading loop uses them
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, mcperr.Mark(errors.Wrap(err, "failed to create stdin pipe"), mcperr.ErrSpawn)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW)
		return nil, mcperr.Mark(errors.Wrap(err, "failed to create stdout pipe"), mcperr.ErrSpawn)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW)
		return nil, mcperr.Mark(errors.Wrap(err, "failed to create stderr pipe"), mcperr.ErrSpawn)
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW)
		return nil, mcperr.Mark(errors.Wrapf(err, "failed to start %s", desc.DisplayName()), mcperr.ErrSpawn)
	}
	// the child owns these ends now
	closeAll(stdinR, stdoutW, stderrW)

	p := &Process{
		desc: desc,
		cmd:  cmd,
		channel: transport.NewStreamChannel(stdoutR, stdinW,
			transport.WithParsePolicy(o.ParsePolicy),
			transport.WithName(desc.DisplayName()),
		),
		done: make(chan struct{}),
	}

	go p.drainStderr(stderrR, o.Stderr)
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
		logger.KV(xlog.DEBUG,
			"server", desc.DisplayName(),
			"status", "exited",
			"pid", cmd.Process.Pid,
			"stopping", p.stopping.Load(),
			"err", p.waitErr,
		)
	}()

	logger.KV(xlog.DEBUG,
		"server", desc.DisplayName(),
		"status", "started",
		"command", desc.Command,
		"args", desc.Args,
		"pid", cmd.Process.Pid,
	)
	return p, nil
}

// Descriptor returns the descriptor the process was started from
func (p *Process) Descriptor() *Descriptor {
	return p.desc
}

// Pid returns the child process id
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Channel returns the stdio channel
func (p *Process) Channel() *transport.StreamChannel {
	return p.channel
}

// Done is closed when the process exits
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitErr returns the wait status, valid after Done is closed
func (p *Process) ExitErr() error {
	select {
	case <-p.done:
		return p.waitErr
	default:
		return nil
	}
}

// Exited returns true if the process has exited
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Stopping returns true once Stop was called
func (p *Process) Stopping() bool {
	return p.stopping.Load()
}

// Stop closes the channel, which closes the child stdin, waits up to
// gracefulTimeout for the child to exit and then kills it.
// Only the first call has an effect, later calls return nil.
func (p *Process) Stop(gracefulTimeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		p.stopping.Store(true)
		if gracefulTimeout <= 0 {
			gracefulTimeout = DefaultGracefulTimeout
		}

		_ = p.channel.Close()

		select {
		case <-p.done:
			return
		case <-time.After(gracefulTimeout):
		}

		logger.KV(xlog.WARNING,
			"server", p.desc.DisplayName(),
			"status", "kill_after_graceful_timeout",
			"pid", p.Pid(),
			"timeout", gracefulTimeout,
		)
		if kerr := p.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			err = errors.Wrap(kerr, "failed to kill process")
		}
		<-p.done
	})
	return err
}

// Kill terminates the process immediately, without marking it as stopping.
// The session monitor treats it as a crash.
func (p *Process) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return errors.WithStack(err)
	}
	return nil
}

func (p *Process) drainStderr(r io.ReadCloser, copyTo io.Writer) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		logger.KV(xlog.DEBUG, "server", p.desc.DisplayName(), "stderr", line)
		if copyTo != nil {
			_, _ = io.WriteString(copyTo, line+"\n")
		}
	}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
