// Package consent coordinates permission prompts on the caller side.
//
// Any number of requests may be waiting for the user's decision but only
// one prompt is open at a time. The first waiter opens it and every waiter
// queued while it is open receives the same decision.
package consent

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Decision int

const (
	Rejected Decision = iota
	Accepted
)

func (d Decision) String() string {
	if d == Accepted {
		return "accepted"
	}
	return "rejected"
}

type State int

const (
	Idle State = iota
	Prompting
)

func (s State) String() string {
	if s == Prompting {
		return "prompting"
	}
	return "idle"
}

// Dispatcher opens a prompt elsewhere, typically by sending requestHosts to
// the broker. The decision arrives later through Accept or Reject.
type Dispatcher interface {
	Dispatch(ctx context.Context, hosts []string) error
}

// Confirmer asks the user directly and blocks until they answer.
type Confirmer interface {
	Confirm(ctx context.Context, hosts []string) (bool, error)
}

// Acceptor records a confirmed grant with the broker.
type Acceptor interface {
	Accept(ctx context.Context, hosts []string) error
}

type Options struct {
	Dispatcher Dispatcher
	// Confirmer, when set, takes precedence over Dispatcher.
	Confirmer Confirmer
	Acceptor  Acceptor
	// PromptTimeout rejects an open prompt after this long. Zero waits
	// indefinitely.
	PromptTimeout time.Duration
	Logger        *zap.Logger
}

// Coordinator is the Idle/Prompting state machine.
type Coordinator struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	waiters []chan Decision
	timer   *time.Timer
	// round distinguishes prompts so a stale timer cannot resolve a newer one.
	round uint64
}

func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{opts: opts, logger: logger}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Waiting returns the number of queued waiters.
func (c *Coordinator) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Request waits for the user's decision on hosts. Only the first request
// of a round opens a prompt; later ones join it without changing its hosts.
// If ctx ends first, Request returns ctx.Err() and the queued entry is
// still resolved with the others.
func (c *Coordinator) Request(ctx context.Context, hosts []string) (Decision, error) {
	ch := make(chan Decision, 1)

	c.mu.Lock()
	c.waiters = append(c.waiters, ch)
	first := c.state == Idle
	var round uint64
	if first {
		c.state = Prompting
		c.round++
		round = c.round
		if c.opts.PromptTimeout > 0 {
			c.timer = time.AfterFunc(c.opts.PromptTimeout, func() { c.expire(round) })
		}
	}
	waiting := len(c.waiters)
	c.mu.Unlock()

	if first {
		c.logger.Debug("opening consent prompt", zap.Strings("hosts", hosts))
		go c.prompt(context.WithoutCancel(ctx), round, hosts)
	} else {
		c.logger.Debug("joined open consent prompt", zap.Int("waiting", waiting))
	}

	select {
	case d := <-ch:
		return d, nil
	case <-ctx.Done():
		return Rejected, ctx.Err()
	}
}

// Accept resolves every waiter as accepted.
func (c *Coordinator) Accept() { c.resolve(Accepted, "accept") }

// Reject resolves every waiter as rejected.
func (c *Coordinator) Reject() { c.resolve(Rejected, "reject") }

// Closed handles loss of the prompt channel; waiters are rejected.
func (c *Coordinator) Closed() { c.resolve(Rejected, "closed") }

func (c *Coordinator) prompt(ctx context.Context, round uint64, hosts []string) {
	if c.opts.Confirmer != nil {
		c.confirm(ctx, round, hosts)
		return
	}
	if c.opts.Dispatcher == nil {
		c.logger.Warn("no way to prompt for consent")
		c.resolveRound(round, Rejected, "closed")
		return
	}
	if err := c.opts.Dispatcher.Dispatch(ctx, hosts); err != nil {
		c.logger.Warn("failed to open consent prompt", zap.Error(err))
		c.resolveRound(round, Rejected, "closed")
	}
}

func (c *Coordinator) confirm(ctx context.Context, round uint64, hosts []string) {
	if c.opts.PromptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.PromptTimeout)
		defer cancel()
	}
	ok, err := c.opts.Confirmer.Confirm(ctx, hosts)
	if err != nil {
		c.logger.Warn("consent confirmation failed", zap.Error(err))
		c.resolveRound(round, Rejected, "closed")
		return
	}
	if !ok {
		c.resolveRound(round, Rejected, "reject")
		return
	}
	if c.opts.Acceptor != nil {
		if err := c.opts.Acceptor.Accept(ctx, hosts); err != nil {
			c.logger.Warn("failed to record accepted hosts", zap.Error(err))
			c.resolveRound(round, Rejected, "reject")
			return
		}
	}
	c.resolveRound(round, Accepted, "accept")
}

func (c *Coordinator) expire(round uint64) {
	if n := c.resolveRound(round, Rejected, "timeout"); n > 0 {
		c.logger.Info("consent prompt timed out", zap.Int("waiters", n))
	}
}

// resolveRound resolves the queue only while round is still the open prompt.
// It returns the number of waiters resolved.
func (c *Coordinator) resolveRound(round uint64, d Decision, cause string) int {
	c.mu.Lock()
	if c.round != round || c.state != Prompting {
		c.mu.Unlock()
		return 0
	}
	waiters := c.takeLocked()
	c.mu.Unlock()
	c.deliver(waiters, d, cause)
	return len(waiters)
}

func (c *Coordinator) resolve(d Decision, cause string) {
	c.mu.Lock()
	waiters := c.takeLocked()
	c.mu.Unlock()
	c.deliver(waiters, d, cause)
}

// takeLocked empties the queue and returns to Idle. c.mu must be held.
func (c *Coordinator) takeLocked() []chan Decision {
	waiters := c.waiters
	c.waiters = nil
	c.state = Idle
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return waiters
}

func (c *Coordinator) deliver(waiters []chan Decision, d Decision, cause string) {
	if len(waiters) == 0 {
		return
	}
	c.logger.Debug("consent resolved",
		zap.String("decision", d.String()),
		zap.String("cause", cause),
		zap.Int("waiters", len(waiters)))
	for _, ch := range waiters {
		ch <- d
	}
}
