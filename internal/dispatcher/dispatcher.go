package dispatcher

import (
	"distbank/internal/logging"
	"distbank/internal/trace"
	"distbank/internal/transport"
	"distbank/internal/utils"
	"distbank/internal/wire"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrUnknownPeer is returned when sending to an id that has no address.
var ErrUnknownPeer = errors.New("unknown peer")

// Handler handles a decoded message. Handlers run on the dispatcher's goroutine and must not block.
type Handler func(msg wire.Message)

type registration struct {
	cmd     wire.Command
	handler Handler
}

// Dispatcher turns datagrams into protocol messages and back.
//
// On the way in, it drops anything undersized, of unknown command, from an unknown sender, or already seen (same sender, tie-break and sequence number), then routes what is left by command. On the way out, it stamps the sender id, tie-break and a fresh sequence number, and resolves the destination address.
type Dispatcher interface {
	// Register the handler for a given command, replacing any previous one.
	Register(cmd wire.Command, handler Handler)
	// Send a message to a single process. The returned error only reports local failures; delivery is never guaranteed.
	Send(msg wire.Message, to uint16) error
	// Broadcast sends the message to every other process. It returns the ids for which the local send succeeded.
	Broadcast(msg wire.Message) (sent []uint16)
	// Self returns the id of this process.
	Self() uint16
	// Peers returns the ids of every other process.
	Peers() []uint16
	// Close stops dispatching; messages still queued are dropped.
	Close()
}

// Local implementation of the Dispatcher interface. Hiding the implementation behind an interface allows for easier testing of modules using the dispatcher.
type dispatcherImpl struct {
	logger   *logging.Logger
	recorder trace.Recorder

	self     uint16
	tieBreak uint32
	addrs    []transport.Address
	peers    []uint16
	sequence atomic.Uint32

	network   transport.NetworkInterface
	handlerID transport.HandlerID

	// Guards received against being closed while HandleNetworkMessage writes to it.
	receivedMu    sync.RWMutex
	received      *utils.BufferedChan[wire.Message]
	registrations chan registration

	closeChan chan struct{}
	closeOnce sync.Once
}

/*
New constructs a dispatcher and registers it on the network interface.
  - logger: The logger to use for logging messages
  - recorder: Receives every sent, received and dropped message
  - self: The id of this process, an index into addrs
  - tieBreak: The tie-break of this process instance, stamped on every message
  - addrs: The address of every process of the deployment, indexed by id
  - network: The network interface carrying the datagrams
*/
func New(logger *logging.Logger, recorder trace.Recorder, self uint16, tieBreak uint32, addrs []transport.Address, network transport.NetworkInterface) Dispatcher {
	if int(self) >= len(addrs) {
		panic(fmt.Sprintf("dispatcher: self id %d out of range for %d processes", self, len(addrs)))
	}

	peers := make([]uint16, 0, len(addrs)-1)
	for id := range addrs {
		if uint16(id) != self {
			peers = append(peers, uint16(id))
		}
	}

	d := &dispatcherImpl{
		logger:        logger,
		recorder:      recorder,
		self:          self,
		tieBreak:      tieBreak,
		addrs:         addrs,
		peers:         peers,
		network:       network,
		received:      utils.NewBufferedChan[wire.Message](),
		registrations: make(chan registration),
		closeChan:     make(chan struct{}),
	}

	go d.dispatch()
	d.handlerID = network.RegisterHandler(d)

	return d
}

// HandleNetworkMessage decodes an incoming datagram and queues it for dispatching. It never blocks on protocol handlers.
func (d *dispatcherImpl) HandleNetworkMessage(msg *transport.Message) (wasHandled bool) {
	decoded, err := wire.Decode(msg.Payload)
	if err != nil {
		d.logger.Info("Dropping datagram from ", msg.Source, ": ", err)
		d.recorder.Record(trace.EvtDrop, wire.Message{}, d.self, err.Error())
		return true
	}

	d.receivedMu.RLock()
	defer d.receivedMu.RUnlock()
	if d.isClosed() {
		return true
	}
	d.received.Inlet() <- decoded
	return true
}

// Reports whether the dispatcher is closed
func (d *dispatcherImpl) isClosed() bool {
	select {
	case <-d.closeChan:
		return true
	default:
		return false
	}
}

/*
Main goroutine that owns the handlers and the duplicate-detection windows.

Handlers can be registered at any time, so they represent dynamic state; along with the windows, they are only touched by this goroutine.
*/
func (d *dispatcherImpl) dispatch() {
	handlers := make(map[wire.Command]Handler)
	seen := make(deduplicator)

	for {
		select {
		case reg := <-d.registrations:
			if _, ok := handlers[reg.cmd]; ok {
				d.logger.Warn("Handler already registered for ", reg.cmd, ". Overwriting it...")
			}
			handlers[reg.cmd] = reg.handler
		case msg, ok := <-d.received.Outlet():
			if !ok {
				return
			}
			d.handleReceived(handlers, seen, msg)
		case <-d.closeChan:
			return
		}
	}
}

func (d *dispatcherImpl) handleReceived(handlers map[wire.Command]Handler, seen deduplicator, msg wire.Message) {
	if int(msg.Sender) >= len(d.addrs) || msg.Sender == d.self {
		d.logger.Warn("Dropping ", msg, ": unknown sender")
		d.recorder.Record(trace.EvtDrop, msg, d.self, "unknown sender")
		return
	}

	if seen.isDuplicate(msg.Sender, msg.TieBreak, msg.Sequence) {
		d.logger.Info("Dropping duplicate ", msg)
		d.recorder.Record(trace.EvtDrop, msg, d.self, "duplicate")
		return
	}

	handler, ok := handlers[msg.Command]
	if !ok {
		d.logger.Warn("No handler for ", msg.Command, ", dropping ", msg)
		d.recorder.Record(trace.EvtDrop, msg, d.self, "no handler")
		return
	}

	d.logger.Info("Dispatching ", msg)
	d.recorder.Record(trace.EvtRecv, msg, d.self, "")
	handler(msg)
}

func (d *dispatcherImpl) Register(cmd wire.Command, handler Handler) {
	select {
	case d.registrations <- registration{cmd: cmd, handler: handler}:
	case <-d.closeChan:
		d.logger.Warn("Dispatcher is closed, not registering handler for ", cmd)
	}
}

func (d *dispatcherImpl) Send(msg wire.Message, to uint16) error {
	if int(to) >= len(d.addrs) {
		return fmt.Errorf("%w: %d", ErrUnknownPeer, to)
	}

	msg.Sender = d.self
	msg.TieBreak = d.tieBreak
	msg.Sequence = uint16(d.sequence.Add(1))

	d.logger.Infof("Sending %v to %d", msg, to)
	d.recorder.Record(trace.EvtSend, msg, to, "")

	if err := d.network.Send(d.addrs[to], wire.Encode(msg)); err != nil {
		d.logger.Warnf("Send of %v to %d skipped: %v", msg.Command, to, err)
		return err
	}
	return nil
}

func (d *dispatcherImpl) Broadcast(msg wire.Message) (sent []uint16) {
	sent = make([]uint16, 0, len(d.peers))
	for _, peer := range d.peers {
		if err := d.Send(msg, peer); err == nil {
			sent = append(sent, peer)
		}
	}
	return sent
}

func (d *dispatcherImpl) Self() uint16 {
	return d.self
}

func (d *dispatcherImpl) Peers() []uint16 {
	return append([]uint16(nil), d.peers...)
}

func (d *dispatcherImpl) Close() {
	d.closeOnce.Do(func() {
		d.receivedMu.Lock()
		close(d.closeChan)
		d.received.Close()
		d.receivedMu.Unlock()

		d.network.UnregisterHandler(d.handlerID)
	})
}
