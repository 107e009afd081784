// Package transport frames JSON-RPC messages over a byte stream pair.
//
// A frame is one JSON document terminated by '\n'. Encoded JSON never contains
// a raw newline, so frame boundaries are unambiguous for any payload size.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/mcperr"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent/mcp", "transport")

// Channel sends and receives framed messages.
type Channel interface {
	// Send writes one complete frame, or fails with mcperr.ErrChannelClosed.
	Send(ctx context.Context, msg *Message) error
	// Receive returns a lazy, finite sequence of parsed messages,
	// terminating when the underlying stream closes.
	// It must be consumed by a single reader.
	Receive() iter.Seq2[*Message, error]
	// Close closes the channel, subsequent Send calls fail.
	Close() error
	// SentCount returns the number of frames written.
	SentCount() uint64
}

// ParsePolicy controls what Receive does with a malformed frame.
type ParsePolicy int

const (
	// ParseFailFast yields the parse error and ends the sequence.
	ParseFailFast ParsePolicy = iota
	// ParseSkipAndLog logs the malformed frame and continues reading.
	ParseSkipAndLog
)

func (p ParsePolicy) String() string {
	if p == ParseSkipAndLog {
		return "skip"
	}
	return "fail"
}

// ParsePolicyFromString returns the policy by name, fail-fast by default.
func ParsePolicyFromString(s string) ParsePolicy {
	if s == "skip" {
		return ParseSkipAndLog
	}
	return ParseFailFast
}

// Option configures a StreamChannel
type Option func(*StreamChannel)

// WithParsePolicy sets the malformed frame policy
func WithParsePolicy(p ParsePolicy) Option {
	return func(c *StreamChannel) {
		c.policy = p
	}
}

// WithName sets the name used in logs
func WithName(name string) Option {
	return func(c *StreamChannel) {
		c.name = name
	}
}

// StreamChannel is a Channel over a reader and a writer,
// typically the stdout and stdin of a child process.
type StreamChannel struct {
	name   string
	policy ParsePolicy
	r      *bufio.Reader
	rc     io.Closer
	w      io.Writer
	wc     io.Closer

	wmu    sync.Mutex
	closed atomic.Bool
	sent   atomic.Uint64
	once   sync.Once
}

// NewStreamChannel returns a channel reading frames from r and writing frames to w.
// If r or w implement io.Closer, they are closed by Close.
func NewStreamChannel(r io.Reader, w io.Writer, opts ...Option) *StreamChannel {
	c := &StreamChannel{
		name: "stdio",
		r:    bufio.NewReader(r),
		w:    w,
	}
	if rc, ok := r.(io.Closer); ok {
		c.rc = rc
	}
	if wc, ok := w.(io.Closer); ok {
		c.wc = wc
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send implements Channel
func (c *StreamChannel) Send(ctx context.Context, msg *Message) error {
	if c.closed.Load() {
		return errors.WithStack(mcperr.ErrChannelClosed)
	}
	if err := ctx.Err(); err != nil {
		return mcperr.Mark(err, mcperr.ErrCancelled)
	}

	frame, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}
	frame = append(frame, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.closed.Load() {
		return errors.WithStack(mcperr.ErrChannelClosed)
	}
	if _, err = c.w.Write(frame); err != nil {
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) {
			return mcperr.Mark(err, mcperr.ErrChannelClosed)
		}
		return errors.Wrap(err, "failed to write frame")
	}
	c.sent.Add(1)
	return nil
}

// Receive implements Channel
func (c *StreamChannel) Receive() iter.Seq2[*Message, error] {
	return func(yield func(*Message, error) bool) {
		for {
			line, err := c.r.ReadBytes('\n')
			if len(line) > 0 {
				frame := trimFrame(line)
				if len(frame) > 0 {
					msg, perr := Decode(frame)
					if perr != nil {
						perr = &mcperr.ParseError{Frame: frame, Cause: perr}
						if c.policy == ParseSkipAndLog {
							logger.KV(xlog.WARNING,
								"channel", c.name,
								"status", "skipped_malformed_frame",
								"frame", slices.StringUpto(string(frame), 64),
								"err", perr.Error(),
							)
						} else {
							yield(nil, perr)
							return
						}
					} else if !yield(msg, nil) {
						return
					}
				}
			}
			if err != nil {
				if err != io.EOF && !c.closed.Load() {
					yield(nil, errors.Wrap(err, "failed to read frame"))
				}
				return
			}
		}
	}
}

// Close implements Channel
func (c *StreamChannel) Close() error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		// closing the writer unblocks a pending Send
		if c.wc != nil {
			err = c.wc.Close()
		}
		if c.rc != nil {
			if rerr := c.rc.Close(); rerr != nil && err == nil {
				err = rerr
			}
		}
	})
	return err
}

// SentCount implements Channel
func (c *StreamChannel) SentCount() uint64 {
	return c.sent.Load()
}

// IsClosed returns true after Close
func (c *StreamChannel) IsClosed() bool {
	return c.closed.Load()
}

func trimFrame(line []byte) []byte {
	end := len(line)
	for end > 0 && (line[end-1] == '\n' || line[end-1] == '\r' || line[end-1] == ' ' || line[end-1] == '\t') {
		end--
	}
	start := 0
	for start < end && (line[start] == ' ' || line[start] == '\t') {
		start++
	}
	return line[start:end]
}
