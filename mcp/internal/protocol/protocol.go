// Package protocol implements JSON-RPC request/response correlation on top of a transport.Channel.
//
// Key Components:
//
//  1. Protocol:
//     - One reading loop per channel, the only consumer of Channel.Receive
//     - Pending table keyed by request id, each entry resolved at most once
//     - Supports:
//     - Request/Response with timeouts
//     - Notifications (one-way messages)
//     - Progress updates during long operations
//     - Request cancellation
//
//  2. Request Handling:
//     - Monotonic request ids, never reused within the Protocol lifetime
//     - Context-based cancellation
//     - Configurable timeouts
//     - Progress callback support
//
//  3. Shutdown:
//     - Shutdown fails every outstanding request with the given error
//     - The first shutdown cause wins, later requests fail with it
//
// Usage:
//
//	p := protocol.New(channel, protocol.WithName("payments"))
//	p.Start()
//	defer p.Shutdown(mcperr.ErrSessionClosed)
//
//	raw, err := p.Request(ctx, "tools/list", nil, protocol.RequestOptions{
//	    Timeout: 5 * time.Second,
//	})
package protocol

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/mcpagent/pkg/mcperr"
	"github.com/effective-security/mcpagent/pkg/metricskey"
	"github.com/effective-security/xlog"
	"github.com/tidwall/sjson"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent/mcp/internal", "protocol")

// DefaultRequestTimeout is used when RequestOptions.Timeout is not set
const DefaultRequestTimeout = 60 * time.Second

// Method names handled by the protocol layer
const (
	MethodPing            = "ping"
	NotificationCancelled = "notifications/cancelled"
	NotificationProgress  = "notifications/progress"
	progressTokenPath     = "_meta.progressToken"
	cancelReasonTimeout   = "request timeout"
)

// Progress represents a progress update
type Progress struct {
	Progress float64 `json:"progress"`
	Total    float64 `json:"total,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// ProgressCallback is a callback for progress notifications
type ProgressCallback func(progress Progress)

// RequestOptions contains options that can be given per request
type RequestOptions struct {
	// Timeout specifies a timeout for this request.
	// If not specified, DefaultRequestTimeout is used.
	Timeout time.Duration
	// OnProgress is called when progress notifications are received for this request
	OnProgress ProgressCallback
}

// NotificationHandler handles a notification from the peer
type NotificationHandler func(ctx context.Context, msg *transport.Message)

// RequestHandler handles a request from the peer and returns its result
type RequestHandler func(ctx context.Context, msg *transport.Message) (any, error)

// Option configures the Protocol
type Option func(*Protocol)

// WithName sets the name used in logs and metrics
func WithName(name string) Option {
	return func(p *Protocol) {
		p.name = name
	}
}

// WithCloseCause sets the function that maps the reading loop termination
// to the error outstanding requests fail with.
// readErr is nil when the stream ended cleanly.
func WithCloseCause(fn func(readErr error) error) Option {
	return func(p *Protocol) {
		p.closeCause = fn
	}
}

// WithAnomalyHandler sets a callback for messages without an owner,
// such as a response for an unknown or already resolved id.
func WithAnomalyHandler(fn func(msg *transport.Message)) Option {
	return func(p *Protocol) {
		p.onAnomaly = fn
	}
}

type result struct {
	raw json.RawMessage
	err error
}

type pending struct {
	id         int64
	method     string
	submitted  time.Time
	deadline   time.Time
	ch         chan *result
	onProgress ProgressCallback
}

// Protocol correlates requests and responses over a channel
type Protocol struct {
	name       string
	ch         transport.Channel
	closeCause func(error) error
	onAnomaly  func(*transport.Message)

	lastID atomic.Int64

	mu       sync.Mutex
	pending  map[int64]*pending
	closed   bool
	closeErr error

	hmu                  sync.RWMutex
	notificationHandlers map[string]NotificationHandler
	requestHandlers      map[string]RequestHandler

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	done      chan struct{}
	handlers  sync.WaitGroup
}

// New creates a new Protocol over the channel
func New(ch transport.Channel, opts ...Option) *Protocol {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Protocol{
		name:                 "mcp",
		ch:                   ch,
		pending:              make(map[int64]*pending),
		notificationHandlers: make(map[string]NotificationHandler),
		requestHandlers:      make(map[string]RequestHandler),
		ctx:                  ctx,
		cancel:               cancel,
		done:                 make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.SetNotificationHandler(NotificationProgress, p.handleProgressNotification)
	p.SetNotificationHandler(NotificationCancelled, p.handleCancelledNotification)
	p.SetRequestHandler(MethodPing, func(context.Context, *transport.Message) (any, error) {
		return struct{}{}, nil
	})
	return p
}

// Name returns the protocol name
func (p *Protocol) Name() string {
	return p.name
}

// Start starts the reading loop. Only the first call has an effect.
func (p *Protocol) Start() {
	p.startOnce.Do(func() {
		go p.readLoop()
	})
}

// Done is closed when the reading loop ends
func (p *Protocol) Done() <-chan struct{} {
	return p.done
}

// Err returns the shutdown cause, or nil while running
func (p *Protocol) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeErr
}

// PendingCount returns the number of outstanding requests
func (p *Protocol) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// LastID returns the last issued request id
func (p *Protocol) LastID() int64 {
	return p.lastID.Load()
}

func (p *Protocol) readLoop() {
	defer close(p.done)

	var readErr error
	for msg, err := range p.ch.Receive() {
		if err != nil {
			readErr = err
			logger.KV(xlog.ERROR,
				"name", p.name,
				"status", "read_failed",
				"err", err.Error(),
			)
			break
		}
		p.dispatch(msg)
	}

	cause := errors.WithStack(mcperr.ErrSessionClosed)
	if p.closeCause != nil {
		cause = p.closeCause(readErr)
	} else if readErr != nil {
		cause = mcperr.Mark(readErr, mcperr.ErrSessionClosed)
	}
	p.Shutdown(cause)
}

func (p *Protocol) dispatch(msg *transport.Message) {
	switch msg.Kind() {
	case transport.KindResponse, transport.KindError:
		p.handleResponse(msg)
	case transport.KindNotification:
		p.handleNotification(msg)
	case transport.KindRequest:
		p.handleRequest(msg)
	default:
		p.anomaly(msg, "invalid_message")
	}
}

func (p *Protocol) anomaly(msg *transport.Message, reason string) {
	id := ""
	if msg.ID != nil {
		id = msg.ID.String()
	}
	logger.KV(xlog.WARNING,
		"name", p.name,
		"status", "protocol_anomaly",
		"reason", reason,
		"id", id,
		"method", msg.Method,
	)
	metricskey.StatsMCPProtocolAnomalies.IncrCounter(1, p.name)
	if p.onAnomaly != nil {
		p.onAnomaly(msg)
	}
}

func (p *Protocol) handleResponse(msg *transport.Message) {
	id, ok := msg.ID.Int64()
	if !ok {
		p.anomaly(msg, "unknown_id")
		return
	}

	// remove under the lock, so a response resolves at most one request
	p.mu.Lock()
	pr := p.pending[id]
	delete(p.pending, id)
	p.mu.Unlock()

	if pr == nil {
		p.anomaly(msg, "unknown_or_resolved_id")
		return
	}

	if msg.Error != nil {
		pr.ch <- &result{err: errors.WithStack(msg.Error)}
		return
	}
	pr.ch <- &result{raw: msg.Result}
}

func (p *Protocol) handleNotification(msg *transport.Message) {
	p.hmu.RLock()
	handler := p.notificationHandlers[msg.Method]
	p.hmu.RUnlock()

	if handler == nil {
		logger.KV(xlog.DEBUG, "name", p.name, "status", "unhandled_notification", "method", msg.Method)
		return
	}
	if msg.Method == NotificationProgress {
		// keep progress updates in order
		handler(p.ctx, msg)
		return
	}

	p.handlers.Add(1)
	go func() {
		defer p.handlers.Done()
		handler(p.ctx, msg)
	}()
}

func (p *Protocol) handleRequest(msg *transport.Message) {
	logger.KV(xlog.DEBUG, "name", p.name, "method", msg.Method, "id", msg.ID.String())

	p.hmu.RLock()
	handler := p.requestHandlers[msg.Method]
	p.hmu.RUnlock()

	id := *msg.ID
	p.handlers.Add(1)
	go func() {
		defer p.handlers.Done()

		var reply *transport.Message
		if handler == nil {
			reply = transport.NewErrorResponse(id, transport.CodeMethodNotFound, "method not found: "+msg.Method)
		} else {
			res, err := handler(p.ctx, msg)
			if err == nil {
				reply, err = transport.NewResponse(id, res)
			}
			if err != nil {
				reply = transport.NewErrorResponse(id, transport.CodeInternalError, err.Error())
			}
		}
		if err := p.ch.Send(p.ctx, reply); err != nil {
			logger.KV(xlog.DEBUG, "name", p.name, "status", "reply_failed", "method", msg.Method, "err", err.Error())
		}
	}()
}

func (p *Protocol) handleProgressNotification(_ context.Context, msg *transport.Message) {
	var params struct {
		ProgressToken json.RawMessage `json:"progressToken"`
		Progress
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		p.anomaly(msg, "invalid_progress")
		return
	}
	var token transport.RequestID
	if err := json.Unmarshal(params.ProgressToken, &token); err != nil {
		p.anomaly(msg, "invalid_progress_token")
		return
	}
	id, ok := token.Int64()
	if !ok {
		return
	}

	p.mu.Lock()
	pr := p.pending[id]
	p.mu.Unlock()

	if pr != nil && pr.onProgress != nil {
		pr.onProgress(params.Progress)
	}
}

func (p *Protocol) handleCancelledNotification(_ context.Context, msg *transport.Message) {
	logger.KV(xlog.DEBUG, "name", p.name, "status", "peer_cancelled", "params", string(msg.Params))
}

// Request sends a request and waits for its response.
//
// It fails with mcperr.ErrTimeout when the timeout elapses,
// with mcperr.ErrCancelled when ctx is done,
// or with the shutdown cause when the protocol shuts down.
// An error response from the peer is returned as *transport.RPCError.
// In every case the pending entry is removed before Request returns.
func (p *Protocol) Request(ctx context.Context, method string, params any, opts RequestOptions) (json.RawMessage, error) {
	if ctx.Err() != nil {
		return nil, mcperr.Mark(errors.WithMessagef(context.Cause(ctx), "%s request cancelled", method), mcperr.ErrCancelled)
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal params")
	}
	if string(raw) == "null" {
		raw = nil
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	p.mu.Lock()
	if p.closed {
		err := p.closeErr
		p.mu.Unlock()
		return nil, err
	}
	id := p.lastID.Add(1)
	now := time.Now()
	pr := &pending{
		id:         id,
		method:     method,
		submitted:  now,
		deadline:   now.Add(timeout),
		ch:         make(chan *result, 1),
		onProgress: opts.OnProgress,
	}
	p.pending[id] = pr
	p.mu.Unlock()

	if opts.OnProgress != nil {
		if raw == nil {
			raw = []byte("{}")
		}
		raw, err = sjson.SetBytes(raw, progressTokenPath, id)
		if err != nil {
			p.remove(id)
			return nil, errors.Wrap(err, "failed to set progress token")
		}
	}
	rid := transport.NewRequestID(id)
	msg := &transport.Message{
		JSONRPC: transport.Version,
		ID:      &rid,
		Method:  method,
		Params:  raw,
	}

	defer metricskey.PerfMCPRequest.MeasureSince(now, method)

	if err := p.ch.Send(ctx, msg); err != nil {
		p.remove(id)
		metricskey.StatsMCPRequestsFailed.IncrCounter(1, method)
		if errors.Is(err, mcperr.ErrChannelClosed) {
			if cerr := p.Err(); cerr != nil {
				return nil, cerr
			}
		}
		return nil, errors.WithMessagef(err, "failed to send %s request", method)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-pr.ch:
		if res.err != nil {
			metricskey.StatsMCPRequestsFailed.IncrCounter(1, method)
			return nil, res.err
		}
		metricskey.StatsMCPRequestsSucceeded.IncrCounter(1, method)
		return res.raw, nil
	case <-ctx.Done():
		if res := p.abandon(id, pr); res != nil {
			return res.raw, res.err
		}
		p.cancelRemote(id, "request cancelled")
		metricskey.StatsMCPRequestsFailed.IncrCounter(1, method)
		return nil, mcperr.Mark(errors.WithMessagef(context.Cause(ctx), "%s request %d cancelled", method, id), mcperr.ErrCancelled)
	case <-timer.C:
		if res := p.abandon(id, pr); res != nil {
			return res.raw, res.err
		}
		p.cancelRemote(id, cancelReasonTimeout)
		metricskey.StatsMCPRequestsTimedOut.IncrCounter(1, method)
		logger.KV(xlog.WARNING,
			"name", p.name,
			"status", "request_timeout",
			"method", method,
			"id", id,
			"timeout", timeout,
		)
		return nil, mcperr.Mark(errors.Newf("%s request %d timed out after %v", method, id, timeout), mcperr.ErrTimeout)
	}
}

// abandon removes the pending entry. If the entry was already resolved
// concurrently, it returns the delivered result.
func (p *Protocol) abandon(id int64, pr *pending) *result {
	p.mu.Lock()
	_, ok := p.pending[id]
	delete(p.pending, id)
	p.mu.Unlock()
	if ok {
		return nil
	}
	// resolved in between, the result is in flight or already buffered
	return <-pr.ch
}

func (p *Protocol) remove(id int64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func (p *Protocol) cancelRemote(id int64, reason string) {
	err := p.Notify(context.Background(), NotificationCancelled, map[string]any{
		"requestId": id,
		"reason":    reason,
	})
	if err != nil {
		logger.KV(xlog.DEBUG, "name", p.name, "status", "cancel_notification_failed", "id", id, "err", err.Error())
	}
}

// Notify sends a notification, a one-way message that does not expect a response
func (p *Protocol) Notify(ctx context.Context, method string, params any) error {
	msg, err := transport.NewNotification(method, params)
	if err != nil {
		return err
	}
	return p.ch.Send(ctx, msg)
}

// Shutdown fails every outstanding request with err and rejects new ones.
// Only the first call sets the cause; it returns false if already shut down.
func (p *Protocol) Shutdown(err error) bool {
	if err == nil {
		err = errors.WithStack(mcperr.ErrSessionClosed)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.closed = true
	p.closeErr = err
	outstanding := p.pending
	p.pending = make(map[int64]*pending)
	p.mu.Unlock()

	for _, pr := range outstanding {
		pr.ch <- &result{err: err}
	}
	p.cancel()

	logger.KV(xlog.DEBUG,
		"name", p.name,
		"status", "shutdown",
		"failed_requests", len(outstanding),
		"err", err.Error(),
	)
	return true
}

// FailPending fails every outstanding request with err,
// without shutting down. New requests are accepted.
func (p *Protocol) FailPending(err error) int {
	p.mu.Lock()
	outstanding := p.pending
	p.pending = make(map[int64]*pending)
	p.mu.Unlock()

	for _, pr := range outstanding {
		pr.ch <- &result{err: err}
	}
	return len(outstanding)
}

// Wait blocks until the reading loop and all handlers return
func (p *Protocol) Wait() {
	<-p.done
	p.handlers.Wait()
}

// SetRequestHandler registers a handler for requests from the peer
func (p *Protocol) SetRequestHandler(method string, handler RequestHandler) {
	p.hmu.Lock()
	p.requestHandlers[method] = handler
	p.hmu.Unlock()
}

// SetNotificationHandler registers a handler for notifications from the peer.
// Handlers run on their own goroutine and may issue requests.
func (p *Protocol) SetNotificationHandler(method string, handler NotificationHandler) {
	p.hmu.Lock()
	p.notificationHandlers[method] = handler
	p.hmu.Unlock()
}

// RemoveNotificationHandler removes the notification handler for the method
func (p *Protocol) RemoveNotificationHandler(method string) {
	p.hmu.Lock()
	delete(p.notificationHandlers, method)
	p.hmu.Unlock()
}
