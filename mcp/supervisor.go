package mcp

import (
	"context"
	"time"

	"github.com/effective-security/mcpagent/mcp/process"
	"github.com/effective-security/mcpagent/pkg/metricskey"
	"github.com/effective-security/xlog"
)

// Supervisor starts tool server processes and watches them for crashes
type Supervisor struct {
	opts []Option
}

// NewSupervisor returns a Supervisor, the options apply to every session it starts
func NewSupervisor(opts ...Option) *Supervisor {
	return &Supervisor{opts: opts}
}

// Start spawns the server and returns its session in StateInitializing.
// The handshake is left to the caller, see Open.
func (sv *Supervisor) Start(ctx context.Context, desc *process.Descriptor, opts ...Option) (*Session, error) {
	o := newOptions(append(append([]Option{}, sv.opts...), opts...))

	proc, err := process.Start(ctx, desc,
		process.WithParsePolicy(o.parsePolicy),
		process.WithStderr(o.stderr),
	)
	if err != nil {
		name := "unknown"
		if desc != nil {
			name = desc.DisplayName()
		}
		metricskey.StatsMCPSessionsFailed.IncrCounter(1, name)
		logger.KV(xlog.ERROR, "server", name, "status", "spawn_failed", "err", err.Error())
		return nil, err
	}

	s := newSession(desc.DisplayName(), proc.Channel(), proc, o)
	s.pushRelease("process", func(ctx context.Context) error {
		return proc.Stop(s.gracefulTimeout(ctx))
	})
	s.start()
	return s, nil
}

// Stop closes the session and stops its process.
// It is a no-op on a closed session.
func (sv *Supervisor) Stop(s *Session, gracefulTimeout time.Duration) error {
	ctx := context.Background()
	if gracefulTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, gracefulTimeout)
		defer cancel()
	}
	return s.Close(ctx)
}
