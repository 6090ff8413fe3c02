package mutex

import (
	"context"
	"distbank/internal/lamport"
	"distbank/internal/logging"
	"distbank/internal/resource"
	"distbank/internal/utils/option"
	"fmt"
	"sync"
	"time"
)

// Config parameterizes a Ricart-Agrawala mutex instance.
type Config struct {
	// Self is the pid of the local process.
	Self Pid
	// TieBreak is the per-instance value stamped into every request record.
	TieBreak uint32
	// Peers lists every other process of the deployment.
	Peers []Pid
	// RetransmitInterval is the delay before a pending request is resent to the peers that did not reply yet. Zero disables retransmission.
	RetransmitInterval time.Duration
	// MaxRetransmitInterval caps the exponential backoff of retransmissions. Defaults to 16 times RetransmitInterval.
	MaxRetransmitInterval time.Duration
}

// A caller waiting inside Acquire.
type acquireRequest struct {
	granted chan struct{}
}

// Asks the state goroutine to give up on an acquisition; answers whether the lock was granted in the meantime.
type abandonRequest struct {
	req    *acquireRequest
	answer chan bool
}

// A request whose answer is withheld until release.
type deferredRequest struct {
	at    lamport.Time
	known lamport.Time
}

type setValueRequest struct {
	value  uint32
	answer chan error
}

// An implementation of the Ricart-Agrawala mutex algorithm, aligning to the Mutex interface.
type raMutex struct {
	logger *logging.Logger

	net     NetWrapper
	cfg     Config
	clock   lamport.Clock
	replica *resource.Replica

	acquireRequests  chan *acquireRequest
	abandonRequests  chan abandonRequest
	releaseRequests  chan chan struct{}
	setValueRequests chan setValueRequest
	stateRequests    chan chan State

	closeOnce sync.Once
	closeChan chan struct{}
	done      chan struct{}
}

/*
Everything that may change over the course of the execution, and thus must be handled by a single goroutine to avoid concurrent access.
*/
type raMutexState struct {
	state State
	// Record of the current request, valid while requesting or holding.
	own timestamp
	// Caller served by the current request.
	current *acquireRequest
	// Peers that replied to the current request.
	replied map[Pid]struct{}
	// Peers whose request was deferred. Each peer appears at most once.
	deferred map[Pid]deferredRequest
	// Callers queued behind the current one.
	waiting []*acquireRequest

	retransmitTimer *time.Timer
	retransmitDelay time.Duration
}

/*
NewRicartAgrawalaMutex constructs and returns a new Ricart-Agrawala mutex.

Parameters:
  - logger: The logger to use for logging messages.
  - networkWrapper: The channels through which the mutex talks to its peers.
  - clock: The Lamport clock of the process.
  - replica: The local copy of the shared value the mutex guards.
  - cfg: The identity of the process and its peers.
*/
func NewRicartAgrawalaMutex(logger *logging.Logger, networkWrapper NetWrapper, clock lamport.Clock, replica *resource.Replica, cfg Config) Mutex {
	if cfg.RetransmitInterval > 0 && cfg.MaxRetransmitInterval < cfg.RetransmitInterval {
		cfg.MaxRetransmitInterval = 16 * cfg.RetransmitInterval
	}

	m := &raMutex{
		logger:  logger,
		net:     networkWrapper,
		cfg:     cfg,
		clock:   clock,
		replica: replica,

		acquireRequests:  make(chan *acquireRequest),
		abandonRequests:  make(chan abandonRequest),
		releaseRequests:  make(chan chan struct{}),
		setValueRequests: make(chan setValueRequest),
		stateRequests:    make(chan chan State),

		closeChan: make(chan struct{}),
		done:      make(chan struct{}),
	}

	logger.Infof("Starting Ricart-Agrawala mutex with self %v and peers %v", cfg.Self, cfg.Peers)

	go m.handleState()

	return m
}

// The main goroutine that handles the state of the mutex, represented by a local [raMutexState] instance.
func (m *raMutex) handleState() {
	defer close(m.done)

	state := raMutexState{
		state:    Idle,
		replied:  make(map[Pid]struct{}),
		deferred: make(map[Pid]deferredRequest),
	}
	defer m.stopRetransmit(&state)

	for {
		var retransmitC <-chan time.Time
		if state.retransmitTimer != nil {
			retransmitC = state.retransmitTimer.C
		}

		select {
		case msg, ok := <-m.net.FromNet:
			if !ok {
				m.logger.Warn("Network wrapper closed; stopping mutex")
				return
			}
			m.handleMessage(&state, msg)
		case req := <-m.acquireRequests:
			state.waiting = append(state.waiting, req)
			m.tryStartRequest(&state)
		case req := <-m.abandonRequests:
			req.answer <- m.abandon(&state, req.req)
		case doneCh := <-m.releaseRequests:
			m.release(&state)
			doneCh <- struct{}{}
		case req := <-m.setValueRequests:
			if state.state != Held {
				req.answer <- ErrNotHeld
			} else {
				m.replica.Set(req.value)
				req.answer <- nil
			}
		case ch := <-m.stateRequests:
			ch <- state.state
		case <-retransmitC:
			m.retransmit(&state)
		case <-m.closeChan:
			return
		}
	}
}

// Handles a single message received from the network.
func (m *raMutex) handleMessage(state *raMutexState, msg Message) {
	src := msg.GetSource()
	if src == m.cfg.Self || !m.isPeer(src) {
		m.logger.Warn("Ignoring message from unknown process ", src, ": ", msg)
		return
	}

	now := m.clock.Observe(msg.TS.Time)
	m.logger.Info("Mutex receives ", msg, " at ", now)

	switch msg.Type {
	case reqMsg:
		m.handleRequest(state, msg.TS, msg.Known)
	case repMsg:
		m.handleReply(state, src, msg.Answers)
	case updMsg:
		m.handleUpdate(state, resourceUpdate(msg))
	default:
		m.logger.Warn("Ignoring message of unknown type ", msg)
	}
}

// Answers a request immediately unless the local process has a request of higher priority, in which case the answer is deferred until release.
func (m *raMutex) handleRequest(state *raMutexState, record timestamp, known lamport.Time) {
	if state.state == Idle || record.LessThan(state.own) {
		m.answer(state, record.Pid, deferredRequest{at: record.Time, known: known})
		return
	}

	if prev, ok := state.deferred[record.Pid]; ok && prev.at >= record.Time {
		if known > prev.known {
			prev.known = known
			state.deferred[record.Pid] = prev
		}
		m.logger.Info("Request ", record, " already deferred")
		return
	}
	m.logger.Infof("Deferring reply to %v while %v with %v", record, state.state, state.own)
	state.deferred[record.Pid] = deferredRequest{at: record.Time, known: known}
}

/*
Replies to a request, provided the requester already has the latest value this process knows of. Otherwise the value is
sent instead, and the requester asks again once it has caught up. A reply thus never lets a process in with a value older
than the one its predecessor published, whatever order the reply and the update travel in.
*/
func (m *raMutex) answer(state *raMutexState, to Pid, req deferredRequest) {
	if state.state != Held {
		if cur := m.replica.Current(); req.known < cur.Stamp.Time {
			upd := NewUpdate(timestamp{Time: cur.Stamp.Time, TieBreak: m.cfg.TieBreak, Pid: m.cfg.Self}, cur.Value)
			m.logger.Infof("Process %v only has the value of %d; sending %v before replying", to, req.known, upd)
			m.net.IntoNet <- OutgoingMessage{Destination: option.Some(to), Message: upd}
			return
		}
	}
	m.sendReply(to, req.at)
}

// Counts a reply towards the current request. Replies to older requests and duplicate replies are ignored.
func (m *raMutex) handleReply(state *raMutexState, from Pid, answers lamport.Time) {
	if state.state != Requesting {
		m.logger.Info("Ignoring reply from ", from, " while ", state.state)
		return
	}
	if answers != state.own.Time {
		m.logger.Infof("Ignoring stale reply from %v answering %d; current request is %v", from, answers, state.own)
		return
	}
	if _, ok := state.replied[from]; ok {
		m.logger.Info("Ignoring duplicate reply from ", from)
		return
	}

	state.replied[from] = struct{}{}
	m.logger.Infof("Got %d/%d replies", len(state.replied), len(m.cfg.Peers))
	m.tryEnterCS(state)
}

/*
Refreshes the local copy of the shared value, unless the local process is the holder. A holder entered with the latest
published value, so anything arriving during the critical section is older.

While requesting, a newer value means the peers that did not reply yet may have withheld their reply for it: the request
is sent to them again, now carrying the fresher stamp.
*/
func (m *raMutex) handleUpdate(state *raMutexState, u resource.Update) {
	if state.state == Held {
		m.logger.Warn("Ignoring update ", u.Stamp, " while holding the mutex")
		return
	}

	before := m.replica.Stamp().Time
	if !m.replica.Apply(u) {
		m.logger.Info("Ignoring outdated update ", u.Stamp)
		return
	}
	if state.state == Requesting && u.Stamp.Time > before {
		m.sendToSilentPeers(state, "Asking again")
	}
}

// Starts the next queued acquisition, if the process is idle.
func (m *raMutex) tryStartRequest(state *raMutexState) {
	if state.state != Idle || len(state.waiting) == 0 {
		return
	}

	state.current = state.waiting[0]
	state.waiting = state.waiting[1:]

	state.own = timestamp{Time: m.clock.Tick(), TieBreak: m.cfg.TieBreak, Pid: m.cfg.Self}
	state.state = Requesting
	state.replied = make(map[Pid]struct{})

	m.logger.Info("Requesting mutex with ", state.own)
	m.broadcast(NewRequest(state.own, m.replica.Stamp().Time))
	m.startRetransmit(state)

	m.tryEnterCS(state)
}

// Enters the critical section once every peer replied to the current request.
func (m *raMutex) tryEnterCS(state *raMutexState) {
	if state.state != Requesting || len(state.replied) < len(m.cfg.Peers) {
		return
	}

	m.stopRetransmit(state)
	state.state = Held
	m.logger.Info("Entering critical section with ", state.own)
	close(state.current.granted)
}

// Leaves the critical section: publishes the value, then answers every deferred request.
func (m *raMutex) release(state *raMutexState) {
	if state.state != Held {
		m.logger.Warn("Release called while ", state.state, "; ignoring")
		return
	}

	stamp := timestamp{Time: m.clock.Tick(), TieBreak: m.cfg.TieBreak, Pid: m.cfg.Self}
	u := m.replica.Commit(stamp)
	m.logger.Infof("Releasing mutex; publishing value %d with %v", u.Value, stamp)
	m.broadcast(NewUpdate(u.Stamp, u.Value))

	m.backToIdle(state)
}

// Gives up on an acquisition. Returns true if the lock had already been granted to that caller.
func (m *raMutex) abandon(state *raMutexState, req *acquireRequest) bool {
	for i, w := range state.waiting {
		if w == req {
			state.waiting = append(state.waiting[:i], state.waiting[i+1:]...)
			return false
		}
	}

	if state.current != req {
		return false
	}
	if state.state == Held {
		return true
	}

	m.logger.Warn("Abandoning request ", state.own, " after ", len(state.replied), " replies")
	m.stopRetransmit(state)
	m.backToIdle(state)
	return false
}

// Flushes deferred replies, clears the request and serves the next waiting caller.
func (m *raMutex) backToIdle(state *raMutexState) {
	deferred := state.deferred
	state.deferred = make(map[Pid]deferredRequest)
	state.replied = make(map[Pid]struct{})
	state.current = nil
	state.state = Idle

	for pid, req := range deferred {
		m.answer(state, pid, req)
	}

	m.tryStartRequest(state)
}

func (m *raMutex) startRetransmit(state *raMutexState) {
	if m.cfg.RetransmitInterval <= 0 || len(m.cfg.Peers) == 0 {
		return
	}
	state.retransmitDelay = m.cfg.RetransmitInterval
	state.retransmitTimer = time.NewTimer(state.retransmitDelay)
}

func (m *raMutex) stopRetransmit(state *raMutexState) {
	if state.retransmitTimer != nil {
		state.retransmitTimer.Stop()
		state.retransmitTimer = nil
	}
}

// Resends the current request record to the peers that did not reply yet, then doubles the delay.
func (m *raMutex) retransmit(state *raMutexState) {
	if state.state != Requesting {
		m.stopRetransmit(state)
		return
	}

	m.clock.Tick()
	m.sendToSilentPeers(state, "Retransmitting")

	state.retransmitDelay *= 2
	if state.retransmitDelay > m.cfg.MaxRetransmitInterval {
		state.retransmitDelay = m.cfg.MaxRetransmitInterval
	}
	state.retransmitTimer.Reset(state.retransmitDelay)
}

// Sends the current request record again to the peers that did not reply to it yet.
func (m *raMutex) sendToSilentPeers(state *raMutexState, why string) {
	req := NewRequest(state.own, m.replica.Stamp().Time)
	for _, pid := range m.cfg.Peers {
		if _, ok := state.replied[pid]; !ok {
			m.logger.Info(why, " ", req, " to ", pid)
			m.net.IntoNet <- OutgoingMessage{Destination: option.Some(pid), Message: req}
		}
	}
}

func (m *raMutex) sendReply(to Pid, answers lamport.Time) {
	msg := NewReply(timestamp{Time: m.clock.Tick(), TieBreak: m.cfg.TieBreak, Pid: m.cfg.Self}, answers)
	m.logger.Info("Replying to ", to, " with ", msg)
	m.net.IntoNet <- OutgoingMessage{Destination: option.Some(to), Message: msg}
}

func (m *raMutex) broadcast(msg Message) {
	if len(m.cfg.Peers) == 0 {
		return
	}
	m.net.IntoNet <- OutgoingMessage{Destination: option.None[Pid](), Message: msg}
}

func (m *raMutex) isPeer(pid Pid) bool {
	for _, p := range m.cfg.Peers {
		if p == pid {
			return true
		}
	}
	return false
}

func resourceUpdate(msg Message) resource.Update {
	return resource.Update{Value: msg.Value, Stamp: msg.TS}
}

// Acquire implements [Mutex.Acquire].
func (m *raMutex) Acquire(ctx context.Context) error {
	m.logger.Info("Acquiring mutex")

	req := &acquireRequest{granted: make(chan struct{})}
	select {
	case m.acquireRequests <- req:
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrAcquireAborted, ctx.Err())
	case <-m.closeChan:
		return ErrClosed
	}

	select {
	case <-req.granted:
		m.logger.Info("Got mutex")
		return nil
	case <-ctx.Done():
	case <-m.closeChan:
		return ErrClosed
	}

	answer := make(chan bool, 1)
	select {
	case m.abandonRequests <- abandonRequest{req: req, answer: answer}:
	case <-m.closeChan:
		return ErrClosed
	}
	if <-answer {
		// Granted concurrently with the cancellation; the caller holds the lock.
		m.logger.Info("Got mutex")
		return nil
	}
	return fmt.Errorf("%w: %w", ErrAcquireAborted, ctx.Err())
}

// Release implements [Mutex.Release].
func (m *raMutex) Release() {
	ch := make(chan struct{})
	select {
	case m.releaseRequests <- ch:
		<-ch
	case <-m.closeChan:
	}
}

// Value implements [Mutex.Value].
func (m *raMutex) Value() uint32 {
	return m.replica.Value()
}

// SetValue implements [Mutex.SetValue].
func (m *raMutex) SetValue(v uint32) error {
	req := setValueRequest{value: v, answer: make(chan error, 1)}
	select {
	case m.setValueRequests <- req:
		return <-req.answer
	case <-m.closeChan:
		return ErrClosed
	}
}

// State implements [Mutex.State].
func (m *raMutex) State() State {
	ch := make(chan State, 1)
	select {
	case m.stateRequests <- ch:
		return <-ch
	case <-m.closeChan:
		return Idle
	}
}

// Close implements [Mutex.Close].
func (m *raMutex) Close() {
	m.closeOnce.Do(func() {
		close(m.closeChan)
	})
	<-m.done
}
