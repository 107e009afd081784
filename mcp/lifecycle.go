package mcp

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp/process"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/mcpagent/pkg/metricskey"
	"github.com/effective-security/xlog"
)

// Open starts the server, performs the handshake and loads the tools.
// On failure every acquired resource is released before the error is returned.
func Open(ctx context.Context, desc *process.Descriptor, opts ...Option) (*Session, error) {
	started := time.Now()
	s, err := NewSupervisor().Start(ctx, desc, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.establish(ctx, started); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenChannel performs the handshake over an existing channel and loads the tools.
// The channel is closed with the session.
func OpenChannel(ctx context.Context, name string, ch transport.Channel, opts ...Option) (*Session, error) {
	started := time.Now()
	s := newSession(name, ch, nil, newOptions(opts))
	s.start()
	if err := s.establish(ctx, started); err != nil {
		return nil, err
	}
	return s, nil
}

// WithSession opens a session, runs fn and closes the session
// whether fn succeeds, fails or panics.
func WithSession(ctx context.Context, desc *process.Descriptor, fn func(ctx context.Context, s *Session) error, opts ...Option) (err error) {
	s, err := Open(ctx, desc, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, s)
}

func (s *Session) establish(ctx context.Context, started time.Time) error {
	err := s.initialize(ctx)
	if err != nil {
		metricskey.StatsMCPSessionsFailed.IncrCounter(1, s.name)
		logger.KV(xlog.ERROR,
			"server", s.name,
			"status", "open_failed",
			"err", err.Error(),
		)
		s.abort(ctx, err)
		return err
	}

	metricskey.StatsMCPSessionsOpened.IncrCounter(1, s.name)
	metricskey.PerfMCPSessionOpen.MeasureSince(started, s.name)
	logger.KV(xlog.DEBUG,
		"server", s.name,
		"status", "opened",
		"tools", s.Registry().Len(),
		"elapsed", time.Since(started).String(),
	)
	return nil
}

func (s *Session) initialize(ctx context.Context) error {
	if _, err := s.client.Initialize(ctx); err != nil {
		return err
	}
	if _, err := s.client.ListTools(ctx); err != nil {
		return errors.WithMessage(err, "failed to list tools")
	}
	return nil
}
