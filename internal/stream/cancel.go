package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// Reason explains why a token stopped.
type Reason int32

const (
	ReasonNone Reason = iota
	ReasonAborted
	ReasonSuperseded
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonAborted:
		return "aborted"
	case ReasonSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Token is the cancellation handle for one in-flight request. Its context
// is handed to the transport so aborting also stops the network read.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	reason atomic.Int32
}

// NewToken creates a token whose context derives from parent.
func NewToken(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Abort stops the request. Only the first call has an effect.
func (t *Token) Abort() { t.stop(ReasonAborted) }

func (t *Token) supersede() { t.stop(ReasonSuperseded) }

func (t *Token) stop(r Reason) {
	t.once.Do(func() {
		t.reason.Store(int32(r))
		t.cancel()
	})
}

// Context returns the context bound to this token.
func (t *Token) Context() context.Context { return t.ctx }

// Done is closed once the token has stopped.
func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

// Aborted reports whether the token has stopped for any reason, including
// cancellation of its parent context.
func (t *Token) Aborted() bool { return t.ctx.Err() != nil }

// Reason reports why the token stopped. A cancelled parent counts as an abort.
func (t *Token) Reason() Reason {
	if r := Reason(t.reason.Load()); r != ReasonNone {
		return r
	}
	if t.ctx.Err() != nil {
		return ReasonAborted
	}
	return ReasonNone
}

// Err returns a CancelledError once the token has stopped.
func (t *Token) Err() error {
	if !t.Aborted() {
		return nil
	}
	return &CancelledError{Reason: t.Reason()}
}

// release frees the context resources without recording a reason.
func (t *Token) release() { t.cancel() }

// Controller hands out one token per send. Issuing a fresh token
// supersedes the previous one, so a stale stream can never write into a
// newer message.
type Controller struct {
	mu      sync.Mutex
	current *Token
}

// Fresh supersedes any current token and returns a new one.
func (c *Controller) Fresh(parent context.Context) *Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.supersede()
	}
	c.current = NewToken(parent)
	return c.current
}

// Current returns the live token, or nil.
func (c *Controller) Current() *Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Abort aborts the live token. It reports whether a token was live.
func (c *Controller) Abort() bool {
	c.mu.Lock()
	t := c.current
	c.mu.Unlock()
	if t == nil || t.Aborted() {
		return false
	}
	t.Abort()
	return true
}

// Release drops t if it is still current and frees its context. Releasing
// does not mark the token as aborted.
func (c *Controller) Release(t *Token) {
	c.mu.Lock()
	if c.current == t {
		c.current = nil
	}
	c.mu.Unlock()
	t.once.Do(t.release)
}
