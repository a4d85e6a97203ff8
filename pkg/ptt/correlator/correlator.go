// Package correlator matches control replies to the commands that caused
// them. Each issued command gets the next sequence number and a deadline;
// a reply carrying that seq fulfils the waiter exactly once.
//
// Sequence numbers are uint32, matching the wire. They are never reused
// within 2^32-1 commands; after that the counter wraps past zero and skips
// any seq still outstanding, so only long retired seqs come back.
//
// A Correlator is not safe for concurrent use. It is owned by the session's
// state loop, which is the only goroutine that issues, resolves, expires and
// closes. Waiters block in [Pending.Await] from any goroutine.
package correlator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/pushtalk/pkg/ptt/wire"
)

// ErrTimeout is delivered to a waiter whose reply did not arrive in time.
var ErrTimeout = errors.New("correlator: command timed out")

// Option configures a Correlator.
type Option func(*Correlator)

// WithClock replaces time.Now, for deterministic deadline tests.
func WithClock(now func() time.Time) Option {
	return func(c *Correlator) { c.now = now }
}

// WithFirstSeq sets the first sequence number handed out. Zero is never
// issued; the default first seq is 1.
func WithFirstSeq(seq uint32) Option {
	return func(c *Correlator) { c.next = seq }
}

// Correlator tracks outstanding commands by seq.
type Correlator struct {
	timeout time.Duration
	now     func() time.Time
	next    uint32
	pending map[uint32]*Pending
}

// New returns a Correlator whose commands expire after timeout.
func New(timeout time.Duration, opts ...Option) *Correlator {
	c := &Correlator{
		timeout: timeout,
		now:     time.Now,
		next:    1,
		pending: make(map[uint32]*Pending),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Issue registers a new outstanding command with the default timeout.
func (c *Correlator) Issue(name string) (uint32, *Pending) {
	return c.IssueWithTimeout(name, c.timeout)
}

// IssueWithTimeout registers a new outstanding command that expires after d.
func (c *Correlator) IssueWithTimeout(name string, d time.Duration) (uint32, *Pending) {
	seq := c.nextSeq()
	p := &Pending{
		Seq:      seq,
		Name:     name,
		Deadline: c.now().Add(d),
		done:     make(chan struct{}),
	}
	c.pending[seq] = p
	return seq, p
}

// nextSeq returns the next free seq. Zero and outstanding seqs are skipped.
func (c *Correlator) nextSeq() uint32 {
	for {
		seq := c.next
		c.next++
		if seq == 0 {
			continue
		}
		if _, taken := c.pending[seq]; taken {
			continue
		}
		return seq
	}
}

// Resolve fulfils the waiter for r.Seq and reports whether one existed.
// Unmatched and late replies are logged and dropped.
func (c *Correlator) Resolve(r wire.Reply) bool {
	p, ok := c.pending[r.Seq]
	if !ok {
		slog.Debug("correlator: discarding unmatched reply", "seq", r.Seq, "success", r.Success)
		return false
	}
	delete(c.pending, r.Seq)
	p.deliver(r, nil)
	return true
}

// Cancel removes seq without delivering a reply; err goes to the waiter.
// Used when the command could not be sent at all.
func (c *Correlator) Cancel(seq uint32, err error) bool {
	p, ok := c.pending[seq]
	if !ok {
		return false
	}
	delete(c.pending, seq)
	p.deliver(wire.Reply{}, err)
	return true
}

// Expire times out every command whose deadline is not after now and
// returns their seqs. A reply arriving later for one of them is unmatched.
func (c *Correlator) Expire(now time.Time) []uint32 {
	var expired []uint32
	for seq, p := range c.pending {
		if now.Before(p.Deadline) {
			continue
		}
		delete(c.pending, seq)
		p.deliver(wire.Reply{}, ErrTimeout)
		expired = append(expired, seq)
	}
	return expired
}

// CloseAll resolves every outstanding waiter with err and returns how many
// there were.
func (c *Correlator) CloseAll(err error) int {
	n := len(c.pending)
	for seq, p := range c.pending {
		delete(c.pending, seq)
		p.deliver(wire.Reply{}, err)
	}
	return n
}

// Outstanding returns the number of unresolved commands.
func (c *Correlator) Outstanding() int { return len(c.pending) }

// NextDeadline returns the earliest outstanding deadline.
func (c *Correlator) NextDeadline() (time.Time, bool) {
	var (
		first time.Time
		found bool
	)
	for _, p := range c.pending {
		if !found || p.Deadline.Before(first) {
			first, found = p.Deadline, true
		}
	}
	return first, found
}

// Pending is one outstanding command.
type Pending struct {
	Seq      uint32
	Name     string
	Deadline time.Time

	done  chan struct{}
	reply wire.Reply
	err   error
}

func (p *Pending) deliver(r wire.Reply, err error) {
	p.reply, p.err = r, err
	close(p.done)
}

// Done is closed once the command is resolved, expired or cancelled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Await blocks until the command completes or ctx is done. A reply with
// success=false is still returned without error; interpreting it is up to
// the caller.
func (p *Pending) Await(ctx context.Context) (wire.Reply, error) {
	select {
	case <-p.done:
		return p.reply, p.err
	case <-ctx.Done():
		return wire.Reply{}, ctx.Err()
	}
}
