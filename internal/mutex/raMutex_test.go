package mutex

import (
	"context"
	"distbank/internal/lamport"
	"distbank/internal/logging"
	"distbank/internal/resource"
	"distbank/internal/utils/option"
	"errors"
	"testing"
	"time"
)

type mockMutexNetwork struct {
	sentMessages     chan OutgoingMessage
	receivedMessages chan Message
}

func newMockMutexNetwork() *mockMutexNetwork {
	return &mockMutexNetwork{
		sentMessages:     make(chan OutgoingMessage, 100),
		receivedMessages: make(chan Message, 100),
	}
}

func (n *mockMutexNetwork) asNetWrapper() NetWrapper {
	return NetWrapper{
		IntoNet: n.sentMessages,
		FromNet: n.receivedMessages,
	}
}

func (n *mockMutexNetwork) SimulateReception(m Message) {
	n.receivedMessages <- m
}

// Waits for the next sent message and checks its destination and type.
func expectSent(t *testing.T, n *mockMutexNetwork, dest option.Option[Pid], typ messageType) Message {
	t.Helper()
	select {
	case out := <-n.sentMessages:
		if out.Destination != dest {
			t.Fatalf("Expected %v to %v, got %v to %v", typ, dest, out.Message, out.Destination)
		}
		if out.Message.Type != typ {
			t.Fatalf("Expected %v to %v, got %v", typ, dest, out.Message)
		}
		return out.Message
	case <-time.After(time.Second):
		t.Fatalf("Expected %v to %v to be sent", typ, dest)
	}
	return Message{}
}

func expectNothing(t *testing.T, n *mockMutexNetwork, timeout time.Duration) {
	t.Helper()
	select {
	case out := <-n.sentMessages:
		t.Fatal("Expected no messages to be sent; yet received", out.Message, "to", out.Destination)
	case <-time.After(timeout):
	}
}

func newLogger() *logging.Logger {
	return logging.NewStdLogger("test").WithLogLevel(logging.WARN)
}

func newTestMutex(t *testing.T, self Pid, peers []Pid, retransmit time.Duration) (Mutex, *mockMutexNetwork, *resource.Replica) {
	network := newMockMutexNetwork()
	replica := resource.NewReplica(1000)
	m := NewRicartAgrawalaMutex(newLogger(), network.asNetWrapper(), lamport.NewClock(), replica, Config{
		Self:               self,
		TieBreak:           10,
		Peers:              peers,
		RetransmitInterval: retransmit,
	})
	t.Cleanup(m.Close)
	return m, network, replica
}

// Runs Acquire in the background; the returned channel yields its result.
func acquireAsync(m Mutex, ctx context.Context) <-chan error {
	res := make(chan error, 1)
	go func() {
		res <- m.Acquire(ctx)
	}()
	return res
}

func expectAcquired(t *testing.T, res <-chan error) {
	t.Helper()
	select {
	case err := <-res:
		if err != nil {
			t.Fatal("Unexpected error acquiring mutex:", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected mutex to be acquired")
	}
}

func expectNotAcquired(t *testing.T, res <-chan error) {
	t.Helper()
	select {
	case err := <-res:
		t.Fatal("Expected mutex not to be acquired yet; Acquire returned", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func ts(at lamport.Time, tieBreak uint32, pid Pid) timestamp {
	return timestamp{Time: at, TieBreak: tieBreak, Pid: pid}
}

func TestSingleProcess(t *testing.T) {
	m, network, _ := newTestMutex(t, 0, []Pid{}, 0)

	if err := m.Acquire(context.Background()); err != nil {
		t.Fatal("Error acquiring mutex:", err)
	}
	if m.State() != Held {
		t.Errorf("Expected state %v, got %v", Held, m.State())
	}

	m.Release()
	if m.State() != Idle {
		t.Errorf("Expected state %v, got %v", Idle, m.State())
	}

	expectNothing(t, network, 100*time.Millisecond)
}

func TestWaitsAllReplies(t *testing.T) {
	m, network, _ := newTestMutex(t, 0, []Pid{1, 2}, 0)

	res := acquireAsync(m, context.Background())

	req := expectSent(t, network, option.None[Pid](), reqMsg)
	if req.TS != ts(1, 10, 0) {
		t.Errorf("Expected request record %v, got %v", ts(1, 10, 0), req.TS)
	}

	network.SimulateReception(NewReply(ts(2, 20, 1), 1))
	expectNotAcquired(t, res)

	// Duplicate reply from the same peer does not count twice.
	network.SimulateReception(NewReply(ts(3, 20, 1), 1))
	expectNotAcquired(t, res)

	// Reply to an earlier request round is stale.
	network.SimulateReception(NewReply(ts(2, 30, 2), 0))
	expectNotAcquired(t, res)
	if m.State() != Requesting {
		t.Errorf("Expected state %v, got %v", Requesting, m.State())
	}

	network.SimulateReception(NewReply(ts(3, 30, 2), 1))
	expectAcquired(t, res)
	if m.State() != Held {
		t.Errorf("Expected state %v, got %v", Held, m.State())
	}
	expectNothing(t, network, 100*time.Millisecond)
}

func TestRepliesImmediatelyWhenIdle(t *testing.T) {
	_, network, _ := newTestMutex(t, 0, []Pid{1, 2}, 0)

	network.SimulateReception(NewRequest(ts(5, 20, 1), 0))

	rep := expectSent(t, network, option.Some[Pid](1), repMsg)
	if rep.Answers != 5 {
		t.Errorf("Expected reply to answer 5, got %v", rep.Answers)
	}
	// Observe brings the clock to 6, the send ticks it to 7.
	if rep.TS != ts(7, 10, 0) {
		t.Errorf("Expected reply stamped %v, got %v", ts(7, 10, 0), rep.TS)
	}
}

func TestIgnoresUnknownProcesses(t *testing.T) {
	_, network, _ := newTestMutex(t, 0, []Pid{1, 2}, 0)

	network.SimulateReception(NewRequest(ts(5, 20, 7), 0))
	network.SimulateReception(NewRequest(ts(5, 10, 0), 0))

	expectNothing(t, network, 100*time.Millisecond)
}

func TestPriority(t *testing.T) {
	m, network, _ := newTestMutex(t, 0, []Pid{1, 2}, 0)

	res := acquireAsync(m, context.Background())
	expectSent(t, network, option.None[Pid](), reqMsg)

	// Same time, larger tie-break: lower priority, deferred.
	network.SimulateReception(NewRequest(ts(1, 20, 1), 0))
	expectNothing(t, network, 100*time.Millisecond)

	// Same time, smaller tie-break: higher priority, answered now.
	network.SimulateReception(NewRequest(ts(1, 5, 2), 0))
	rep := expectSent(t, network, option.Some[Pid](2), repMsg)
	if rep.Answers != 1 {
		t.Errorf("Expected reply to answer 1, got %v", rep.Answers)
	}

	network.SimulateReception(NewReply(ts(4, 20, 1), 1))
	network.SimulateReception(NewReply(ts(4, 5, 2), 1))
	expectAcquired(t, res)

	// Requests received while holding are deferred too.
	network.SimulateReception(NewRequest(ts(9, 5, 2), 0))
	expectNothing(t, network, 100*time.Millisecond)

	m.Release()

	upd := expectSent(t, network, option.None[Pid](), updMsg)
	// Both requesters asked with the initial value; they get the new one before any reply.
	for i := 0; i < 2; i++ {
		select {
		case out := <-network.sentMessages:
			if _, ok := out.Destination.Get(); out.Message.Type != updMsg || !ok || out.Message.Value != upd.Value {
				t.Fatal("Expected the value to be sent to a deferred requester, got", out.Message, "to", out.Destination)
			}
		case <-time.After(time.Second):
			t.Fatal("Expected deferred requests to be flushed")
		}
	}
	expectNothing(t, network, 100*time.Millisecond)

	network.SimulateReception(NewRequest(ts(1, 20, 1), upd.TS.Time))
	if rep := expectSent(t, network, option.Some[Pid](1), repMsg); rep.Answers != 1 {
		t.Errorf("Expected reply to answer 1, got %v", rep.Answers)
	}
	network.SimulateReception(NewRequest(ts(9, 5, 2), upd.TS.Time))
	if rep := expectSent(t, network, option.Some[Pid](2), repMsg); rep.Answers != 9 {
		t.Errorf("Expected reply to answer 9, got %v", rep.Answers)
	}
	expectNothing(t, network, 100*time.Millisecond)
}

func TestDeferredRequestsAreASet(t *testing.T) {
	m, network, _ := newTestMutex(t, 0, []Pid{1}, 0)

	res := acquireAsync(m, context.Background())
	expectSent(t, network, option.None[Pid](), reqMsg)

	network.SimulateReception(NewRequest(ts(1, 20, 1), 0))
	network.SimulateReception(NewRequest(ts(1, 20, 1), 0))
	network.SimulateReception(NewReply(ts(2, 20, 1), 1))
	expectAcquired(t, res)

	m.Release()
	upd := expectSent(t, network, option.None[Pid](), updMsg)
	expectSent(t, network, option.Some[Pid](1), updMsg)
	expectNothing(t, network, 100*time.Millisecond)

	network.SimulateReception(NewRequest(ts(1, 20, 1), upd.TS.Time))
	expectSent(t, network, option.Some[Pid](1), repMsg)
	expectNothing(t, network, 100*time.Millisecond)
}

func TestReleaseWhenNotHeld(t *testing.T) {
	m, network, _ := newTestMutex(t, 0, []Pid{1}, 0)

	m.Release()

	if m.State() != Idle {
		t.Errorf("Expected state %v, got %v", Idle, m.State())
	}
	expectNothing(t, network, 100*time.Millisecond)
}

func TestSetValue(t *testing.T) {
	m, network, replica := newTestMutex(t, 0, []Pid{1}, 0)

	if err := m.SetValue(5); !errors.Is(err, ErrNotHeld) {
		t.Errorf("Expected %v, got %v", ErrNotHeld, err)
	}

	res := acquireAsync(m, context.Background())
	expectSent(t, network, option.None[Pid](), reqMsg)
	network.SimulateReception(NewReply(ts(2, 20, 1), 1))
	expectAcquired(t, res)

	if err := m.SetValue(1100); err != nil {
		t.Fatal("Unexpected error setting value:", err)
	}
	if m.Value() != 1100 {
		t.Errorf("Expected value 1100, got %v", m.Value())
	}

	m.Release()

	upd := expectSent(t, network, option.None[Pid](), updMsg)
	if upd.Value != 1100 {
		t.Errorf("Expected update with value 1100, got %v", upd)
	}
	if upd.TS != replica.Stamp() {
		t.Errorf("Expected update stamped %v, got %v", replica.Stamp(), upd.TS)
	}
	if err := m.SetValue(5); !errors.Is(err, ErrNotHeld) {
		t.Errorf("Expected %v after release, got %v", ErrNotHeld, err)
	}
}

func TestApplyUpdates(t *testing.T) {
	m, network, _ := newTestMutex(t, 0, []Pid{1, 2}, 0)

	network.SimulateReception(NewUpdate(ts(5, 20, 1), 42))
	network.SimulateReception(NewUpdate(ts(3, 30, 2), 7))
	// Messages are handled in order; once the reply is out, both updates were processed.
	network.SimulateReception(NewRequest(ts(6, 20, 1), 5))
	expectSent(t, network, option.Some[Pid](1), repMsg)

	if m.Value() != 42 {
		t.Errorf("Expected value 42, got %v", m.Value())
	}
}

func TestSendsValueToStaleRequester(t *testing.T) {
	m, network, _ := newTestMutex(t, 0, []Pid{1, 2}, 0)

	network.SimulateReception(NewUpdate(ts(5, 20, 1), 1100))
	// Process 2 asks with the initial value, which process 1 has since replaced.
	network.SimulateReception(NewRequest(ts(3, 30, 2), 0))

	upd := expectSent(t, network, option.Some[Pid](2), updMsg)
	if upd.Value != 1100 || upd.TS.Time != 5 {
		t.Errorf("Expected value 1100 stamped at 5, got %v", upd)
	}
	expectNothing(t, network, 100*time.Millisecond)

	network.SimulateReception(NewRequest(ts(3, 30, 2), 5))
	if rep := expectSent(t, network, option.Some[Pid](2), repMsg); rep.Answers != 3 {
		t.Errorf("Expected reply to answer 3, got %v", rep.Answers)
	}
	if m.Value() != 1100 {
		t.Errorf("Expected value 1100, got %v", m.Value())
	}
}

func TestRequestsAgainAfterCatchingUp(t *testing.T) {
	m, network, _ := newTestMutex(t, 0, []Pid{1, 2}, 0)

	res := acquireAsync(m, context.Background())
	req := expectSent(t, network, option.None[Pid](), reqMsg)
	if req.Known != 0 {
		t.Errorf("Expected request to carry the initial stamp, got %v", req.Known)
	}
	network.SimulateReception(NewReply(ts(2, 30, 2), req.TS.Time))

	// Process 1 held the lock and answers with its value instead of a reply.
	network.SimulateReception(NewUpdate(ts(8, 20, 1), 1100))
	again := expectSent(t, network, option.Some[Pid](1), reqMsg)
	if again.TS != req.TS || again.Known != 8 {
		t.Errorf("Expected %v to be sent again with stamp 8, got %v", req.TS, again)
	}
	expectNothing(t, network, 100*time.Millisecond)

	// An older or equal update does not trigger another round.
	network.SimulateReception(NewUpdate(ts(8, 20, 1), 1100))
	network.SimulateReception(NewUpdate(ts(6, 30, 2), 1050))
	expectNothing(t, network, 100*time.Millisecond)

	network.SimulateReception(NewReply(ts(10, 20, 1), req.TS.Time))
	expectAcquired(t, res)
	if m.Value() != 1100 {
		t.Errorf("Expected to enter with value 1100, got %v", m.Value())
	}
}

func TestIgnoresUpdatesWhileHeld(t *testing.T) {
	m, network, _ := newTestMutex(t, 0, []Pid{1}, 0)

	res := acquireAsync(m, context.Background())
	expectSent(t, network, option.None[Pid](), reqMsg)
	network.SimulateReception(NewReply(ts(2, 20, 1), 1))
	expectAcquired(t, res)

	// The holder entered with the latest published value; a late update cannot be newer.
	network.SimulateReception(NewUpdate(ts(50, 20, 1), 42))
	network.SimulateReception(NewRequest(ts(60, 20, 1), 0))
	// The request is deferred; wait for the state goroutine to catch up.
	expectNothing(t, network, 100*time.Millisecond)

	if m.Value() != 1000 {
		t.Errorf("Expected value 1000, got %v", m.Value())
	}
}

func TestAcquireAborted(t *testing.T) {
	m, network, _ := newTestMutex(t, 0, []Pid{1, 2}, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	res := acquireAsync(m, ctx)
	expectSent(t, network, option.None[Pid](), reqMsg)

	network.SimulateReception(NewRequest(ts(1, 20, 1), 0))
	network.SimulateReception(NewReply(ts(3, 30, 2), 1))

	select {
	case err := <-res:
		if !errors.Is(err, ErrAcquireAborted) || !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Expected aborted acquisition, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected Acquire to give up")
	}

	// The deferred request is answered on abandon.
	rep := expectSent(t, network, option.Some[Pid](1), repMsg)
	if rep.Answers != 1 {
		t.Errorf("Expected reply to answer 1, got %v", rep.Answers)
	}
	if m.State() != Idle {
		t.Errorf("Expected state %v, got %v", Idle, m.State())
	}

	// A late reply to the abandoned request changes nothing.
	network.SimulateReception(NewReply(ts(4, 20, 1), 1))
	expectNothing(t, network, 100*time.Millisecond)
	if m.State() != Idle {
		t.Errorf("Expected state %v, got %v", Idle, m.State())
	}
}

func TestRetransmitsToSilentPeers(t *testing.T) {
	m, network, _ := newTestMutex(t, 0, []Pid{1, 2}, 50*time.Millisecond)

	res := acquireAsync(m, context.Background())
	req := expectSent(t, network, option.None[Pid](), reqMsg)
	network.SimulateReception(NewReply(ts(2, 20, 1), req.TS.Time))

	again := expectSent(t, network, option.Some[Pid](2), reqMsg)
	if again.TS != req.TS {
		t.Errorf("Expected retransmission of %v, got %v", req.TS, again.TS)
	}

	network.SimulateReception(NewReply(ts(3, 30, 2), req.TS.Time))
	expectAcquired(t, res)
	expectNothing(t, network, 200*time.Millisecond)
}

func TestLocalCallersAreServedInTurn(t *testing.T) {
	m, network, _ := newTestMutex(t, 0, []Pid{1}, 0)

	first := acquireAsync(m, context.Background())
	req1 := expectSent(t, network, option.None[Pid](), reqMsg)
	second := acquireAsync(m, context.Background())

	network.SimulateReception(NewReply(ts(2, 20, 1), req1.TS.Time))
	expectAcquired(t, first)
	expectNotAcquired(t, second)

	m.Release()
	expectSent(t, network, option.None[Pid](), updMsg)
	req2 := expectSent(t, network, option.None[Pid](), reqMsg)
	if !req1.TS.LessThan(req2.TS) {
		t.Errorf("Expected %v to follow %v", req2.TS, req1.TS)
	}

	network.SimulateReception(NewReply(ts(6, 20, 1), req2.TS.Time))
	expectAcquired(t, second)
}

func TestCloseFailsPendingAcquire(t *testing.T) {
	m, network, _ := newTestMutex(t, 0, []Pid{1}, 0)

	res := acquireAsync(m, context.Background())
	expectSent(t, network, option.None[Pid](), reqMsg)

	m.Close()

	select {
	case err := <-res:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Expected %v, got %v", ErrClosed, err)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected Acquire to return after Close")
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Idle, "IDLE"},
		{Requesting, "REQUESTING"},
		{Held, "HELD"},
		{State(9), "INVALID"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
