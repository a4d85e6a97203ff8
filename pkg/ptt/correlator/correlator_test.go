package correlator_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/pushtalk/pkg/ptt/correlator"
	"github.com/MrWong99/pushtalk/pkg/ptt/wire"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func newClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func TestIssue_StrictlyIncreasing(t *testing.T) {
	t.Parallel()
	c := correlator.New(time.Second)
	var last uint32
	seen := make(map[uint32]bool)
	for i := range 1000 {
		seq, p := c.Issue("x")
		if seq <= last {
			t.Fatalf("issue %d: seq %d not greater than %d", i, seq, last)
		}
		if seen[seq] {
			t.Fatalf("seq %d reused", seq)
		}
		seen[seq] = true
		last = seq
		if i%2 == 0 {
			c.Resolve(wire.Reply{Seq: p.Seq, Success: true})
		}
	}
	if last != 1000 {
		t.Errorf("last seq = %d, want 1000", last)
	}
}

func TestIssue_SkipsZeroOnWrap(t *testing.T) {
	t.Parallel()
	c := correlator.New(time.Second, correlator.WithFirstSeq(math.MaxUint32))
	a, _ := c.Issue("a")
	b, _ := c.Issue("b")
	if a != math.MaxUint32 || b != 1 {
		t.Errorf("seqs = %d, %d; want %d, 1", a, b, uint32(math.MaxUint32))
	}
}

func TestResolve_DeliversOnce(t *testing.T) {
	t.Parallel()
	c := correlator.New(time.Second)
	seq, p := c.Issue("logon")

	if !c.Resolve(wire.Reply{Seq: seq, Success: true, RefreshToken: "r"}) {
		t.Fatal("Resolve returned false for outstanding seq")
	}
	if c.Resolve(wire.Reply{Seq: seq, Success: false}) {
		t.Error("second Resolve for the same seq matched")
	}

	r, err := p.Await(context.Background())
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if !r.Success || r.RefreshToken != "r" {
		t.Errorf("reply = %+v", r)
	}
	if c.Outstanding() != 0 {
		t.Errorf("Outstanding = %d, want 0", c.Outstanding())
	}
}

func TestResolve_UnmatchedLeavesOthersAlone(t *testing.T) {
	t.Parallel()
	clk := newClock()
	c := correlator.New(5*time.Second, correlator.WithClock(clk.Now))
	_, p := c.Issue("send_text_message")
	deadline := p.Deadline

	if c.Resolve(wire.Reply{Seq: 999, Success: true}) {
		t.Fatal("unmatched reply resolved something")
	}
	if c.Outstanding() != 1 {
		t.Fatalf("Outstanding = %d, want 1", c.Outstanding())
	}
	if p.Deadline != deadline {
		t.Error("deadline changed")
	}
	select {
	case <-p.Done():
		t.Fatal("waiter completed by an unmatched reply")
	default:
	}

	clk.Advance(4 * time.Second)
	if got := c.Expire(clk.Now()); len(got) != 0 {
		t.Errorf("expired early: %v", got)
	}
	clk.Advance(time.Second)
	if got := c.Expire(clk.Now()); len(got) != 1 {
		t.Errorf("Expire = %v, want one seq", got)
	}
}

func TestExpire_TimesOutAndIgnoresLateReply(t *testing.T) {
	t.Parallel()
	clk := newClock()
	c := correlator.New(time.Second, correlator.WithClock(clk.Now))
	seq, p := c.Issue("start_stream")

	clk.Advance(time.Second)
	expired := c.Expire(clk.Now())
	if len(expired) != 1 || expired[0] != seq {
		t.Fatalf("Expire = %v, want [%d]", expired, seq)
	}
	if _, err := p.Await(context.Background()); !errors.Is(err, correlator.ErrTimeout) {
		t.Errorf("Await err = %v, want ErrTimeout", err)
	}
	if c.Resolve(wire.Reply{Seq: seq, Success: true}) {
		t.Error("late reply resurrected an expired command")
	}
}

func TestIssueWithTimeout(t *testing.T) {
	t.Parallel()
	clk := newClock()
	c := correlator.New(time.Second, correlator.WithClock(clk.Now))
	_, short := c.Issue("a")
	_, long := c.IssueWithTimeout("logon", 10*time.Second)

	next, ok := c.NextDeadline()
	if !ok || !next.Equal(short.Deadline) {
		t.Errorf("NextDeadline = %v, %v; want %v", next, ok, short.Deadline)
	}

	clk.Advance(2 * time.Second)
	c.Expire(clk.Now())
	select {
	case <-long.Done():
		t.Fatal("long command expired with the short one")
	default:
	}
	if c.Outstanding() != 1 {
		t.Errorf("Outstanding = %d, want 1", c.Outstanding())
	}
}

func TestCloseAll(t *testing.T) {
	t.Parallel()
	c := correlator.New(time.Minute)
	errClosed := errors.New("closed")

	const n = 5
	waiters := make([]*correlator.Pending, n)
	for i := range n {
		_, waiters[i] = c.Issue("x")
	}
	if got := c.CloseAll(errClosed); got != n {
		t.Fatalf("CloseAll = %d, want %d", got, n)
	}
	for i, p := range waiters {
		select {
		case <-p.Done():
		default:
			t.Fatalf("waiter %d not released", i)
		}
		if _, err := p.Await(context.Background()); !errors.Is(err, errClosed) {
			t.Errorf("waiter %d err = %v", i, err)
		}
	}
	if _, ok := c.NextDeadline(); ok {
		t.Error("NextDeadline reported a deadline after CloseAll")
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()
	c := correlator.New(time.Second)
	seq, p := c.Issue("x")
	sendErr := errors.New("write failed")
	if !c.Cancel(seq, sendErr) {
		t.Fatal("Cancel returned false")
	}
	if c.Cancel(seq, sendErr) {
		t.Error("second Cancel returned true")
	}
	if _, err := p.Await(context.Background()); !errors.Is(err, sendErr) {
		t.Errorf("Await err = %v", err)
	}
}

func TestAwait_ContextCancelled(t *testing.T) {
	t.Parallel()
	c := correlator.New(time.Minute)
	_, p := c.Issue("x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Await(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Await err = %v, want context.Canceled", err)
	}
	if c.Outstanding() != 1 {
		t.Error("cancelled Await removed the entry")
	}
}
