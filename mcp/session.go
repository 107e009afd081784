package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp/internal/protocol"
	"github.com/effective-security/mcpagent/mcp/process"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/mcpagent/pkg/mcperr"
	"github.com/effective-security/mcpagent/pkg/metricskey"
	"github.com/effective-security/mcpagent/tools"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent", "mcp")

type release struct {
	name string
	fn   func(ctx context.Context) error
}

// Session is a connection to a tool server.
// It owns the server process when started by a Supervisor.
type Session struct {
	name    string
	opts    *options
	channel transport.Channel
	proc    *process.Process
	proto   *protocol.Protocol
	client  *Client
	state   stateMachine

	lock     sync.Mutex
	releases []release
	released bool
	err      error

	doneOnce sync.Once
	done     chan struct{}
}

func newSession(name string, ch transport.Channel, proc *process.Process, opts *options) *Session {
	s := &Session{
		name:    name,
		opts:    opts,
		channel: ch,
		proc:    proc,
		done:    make(chan struct{}),
	}
	s.proto = protocol.New(ch,
		protocol.WithName(name),
		protocol.WithCloseCause(s.closeCause),
	)
	s.client = newClient(name, s.proto, &s.state, opts)
	s.pushRelease("channel", func(context.Context) error {
		return ch.Close()
	})
	return s
}

// start launches the reading loop and the monitor
func (s *Session) start() {
	s.state.advance(StateInitializing)
	s.proto.Start()
	go s.monitor()
}

// Name returns the server name
func (s *Session) Name() string {
	return s.name
}

// State returns the lifecycle state
func (s *Session) State() State {
	return s.state.Load()
}

// Client returns the protocol client
func (s *Session) Client() *Client {
	return s.client
}

// Process returns the server process, nil for a session over an existing channel
func (s *Session) Process() *process.Process {
	return s.proc
}

// Registry returns the tools registry
func (s *Session) Registry() *tools.Registry {
	return s.client.Registry()
}

// Tools returns the tools advertised by the server, in discovery order
func (s *Session) Tools() []*tools.Descriptor {
	return s.client.Registry().List()
}

// ServerInfo returns the initialize result, nil before the handshake
func (s *Session) ServerInfo() *InitializeResult {
	return s.client.InitializeResult()
}

// CallTool invokes the tool, see Client.CallTool
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (*tools.CallResult, error) {
	return s.client.CallTool(ctx, name, args, timeout)
}

// Ping checks that the server is responsive
func (s *Session) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// Done is closed when the session is closed or the server crashed
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the session ended, or nil while it is open
func (s *Session) Err() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.err
}

// PendingCount returns the number of outstanding requests
func (s *Session) PendingCount() int {
	return s.proto.PendingCount()
}

// SentCount returns the number of messages sent to the server
func (s *Session) SentCount() uint64 {
	return s.channel.SentCount()
}

// LastRequestID returns the last issued request id
func (s *Session) LastRequestID() int64 {
	return s.proto.LastID()
}

// CancelPending fails the outstanding requests with mcperr.ErrCancelled
// and keeps the session open. It returns the number of failed requests.
func (s *Session) CancelPending(cause error) int {
	err := mcperr.Mark(errors.New("request cancelled"), mcperr.ErrCancelled)
	if cause != nil {
		err = mcperr.Mark(cause, mcperr.ErrCancelled)
	}
	return s.proto.FailPending(err)
}

func (s *Session) pushRelease(name string, fn func(ctx context.Context) error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.releases = append(s.releases, release{name: name, fn: fn})
}

// runReleases releases the acquired resources in reverse order, only once
func (s *Session) runReleases(ctx context.Context) error {
	s.lock.Lock()
	if s.released {
		s.lock.Unlock()
		return nil
	}
	s.released = true
	list := s.releases
	s.lock.Unlock()

	var errs error
	for i := len(list) - 1; i >= 0; i-- {
		r := list[i]
		if err := r.fn(ctx); err != nil {
			logger.KV(xlog.WARNING,
				"server", s.name,
				"status", "release_failed",
				"resource", r.name,
				"err", err.Error(),
			)
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

func (s *Session) closeCause(readErr error) error {
	if readErr != nil {
		return mcperr.Mark(readErr, mcperr.ErrSessionClosed)
	}
	if s.state.Load() >= StateClosing {
		return mcperr.Mark(errors.Newf("session %s is closed", s.name), mcperr.ErrSessionClosed)
	}
	return mcperr.Mark(errors.Newf("server %s closed the connection", s.name), mcperr.ErrProcessCrashed)
}

func (s *Session) monitor() {
	var procDone <-chan struct{}
	if s.proc != nil {
		procDone = s.proc.Done()
	}

	var cause error
	select {
	case <-s.done:
		return
	case <-procDone:
		cause = mcperr.Mark(
			errors.Newf("server %s exited unexpectedly: %v", s.name, exitStatus(s.proc.ExitErr())),
			mcperr.ErrProcessCrashed)
	case <-s.proto.Done():
		cause = s.proto.Err()
	}
	s.terminate(cause)
}

// terminate ends the session after the server went away or the stream failed
func (s *Session) terminate(cause error) {
	if !s.state.advance(StateClosing) {
		// closed by the caller
		return
	}
	if !s.proto.Shutdown(cause) {
		cause = s.proto.Err()
	}
	crashed := errors.Is(cause, mcperr.ErrProcessCrashed)
	if crashed {
		metricskey.StatsMCPSessionsCrashed.IncrCounter(1, s.name)
		logger.KV(xlog.ERROR,
			"server", s.name,
			"status", "crashed",
			"pending", s.proto.PendingCount(),
			"err", cause.Error(),
		)
	} else {
		logger.KV(xlog.WARNING,
			"server", s.name,
			"status", "terminated",
			"err", cause.Error(),
		)
	}

	_ = s.runReleases(context.Background())
	s.finish(cause)

	if crashed {
		for _, fn := range s.opts.onCrash {
			fn(s, cause)
		}
	}
}

// abort ends a session that failed to open
func (s *Session) abort(ctx context.Context, cause error) {
	if !s.state.advance(StateClosing) {
		<-s.done
		return
	}
	s.proto.Shutdown(cause)
	_ = s.runReleases(context.WithoutCancel(ctx))
	s.finish(cause)
}

func (s *Session) finish(cause error) {
	s.state.advance(StateClosed)
	s.lock.Lock()
	if s.err == nil {
		s.err = cause
	}
	s.lock.Unlock()
	s.doneOnce.Do(func() {
		close(s.done)
	})
}

// Close fails the outstanding requests with mcperr.ErrSessionClosed,
// stops the server and releases the session resources.
// It is safe to call more than once, later calls wait for the first one.
func (s *Session) Close(ctx context.Context) error {
	if !s.state.advance(StateClosing) {
		select {
		case <-s.done:
		case <-ctx.Done():
		}
		return nil
	}

	cause := mcperr.Mark(errors.Newf("session %s is closed", s.name), mcperr.ErrSessionClosed)
	s.proto.Shutdown(cause)
	err := s.runReleases(ctx)
	s.finish(cause)

	logger.KV(xlog.DEBUG, "server", s.name, "status", "closed")
	return err
}

func (s *Session) gracefulTimeout(ctx context.Context) time.Duration {
	timeout := s.opts.gracefulTimeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left > 0 && left < timeout {
			timeout = left
		}
	}
	return timeout
}

func exitStatus(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}
