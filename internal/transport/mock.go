package transport

import (
	"distbank/internal/utils"
	"sync"
	"time"
)

// MockNetworkInterface is a mock network interface that records sent datagrams and lets tests inject received ones.
type MockNetworkInterface struct {
	uidGenerator utils.UIDGenerator

	mu       sync.Mutex
	handlers map[HandlerID]MessageHandler

	// Every datagram passed to Send, in order.
	SentMessages chan *DestinedMessage
	// If set, Send returns it instead of recording the datagram.
	SendErr error
}

// NewMockNetworkInterface creates a new [MockNetworkInterface].
func NewMockNetworkInterface() *MockNetworkInterface {
	return &MockNetworkInterface{
		uidGenerator: utils.NewUIDGenerator(),
		handlers:     make(map[HandlerID]MessageHandler),
		SentMessages: make(chan *DestinedMessage, 100),
	}
}

// DestinedMessage is a transport message together with its destination.
type DestinedMessage struct {
	Message
	To Address
}

// Send records the datagram.
func (m *MockNetworkInterface) Send(dest Address, payload []byte) error {
	if m.SendErr != nil {
		return m.SendErr
	}
	m.SentMessages <- &DestinedMessage{Message: Message{Payload: payload}, To: dest}
	return nil
}

// RegisterHandler registers a handler for incoming datagrams.
func (m *MockNetworkInterface) RegisterHandler(handler MessageHandler) HandlerID {
	id := HandlerID(<-m.uidGenerator)
	m.mu.Lock()
	m.handlers[id] = handler
	m.mu.Unlock()
	return id
}

// UnregisterHandler unregisters a handler.
func (m *MockNetworkInterface) UnregisterHandler(id HandlerID) {
	m.mu.Lock()
	delete(m.handlers, id)
	m.mu.Unlock()
}

// SimulateReception synchronously hands msg to every registered handler.
func (m *MockNetworkInterface) SimulateReception(msg *Message) {
	m.mu.Lock()
	handlers := make([]MessageHandler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, handler := range handlers {
		if handler.HandleNetworkMessage(msg) {
			return
		}
	}
}

// InterceptSentMessage waits for the next sent datagram.
func (m *MockNetworkInterface) InterceptSentMessage() *DestinedMessage {
	return <-m.SentMessages
}

// Close is a no-op; the mock keeps no resources.
func (m *MockNetworkInterface) Close() {}

// Delivery tells a [MemNetwork] what to do with one datagram.
type Delivery struct {
	// Number of copies delivered: 0 drops the datagram, 2 duplicates it.
	Copies int
	// Delay applied to each copy. Differing delays reorder datagrams.
	Delay time.Duration
}

// Filter decides the fate of a datagram in flight. It is called from the sender's goroutine.
type Filter func(from, to Address, payload []byte) Delivery

// Deliver is the filter of a perfect network.
func Deliver(_, _ Address, _ []byte) Delivery {
	return Delivery{Copies: 1}
}

// MemNetwork is an in-memory datagram fabric connecting [MemEndpoint]s. Delivery is asynchronous, and its filter can drop, duplicate and delay datagrams.
type MemNetwork struct {
	mu        sync.Mutex
	endpoints map[Address]*MemEndpoint
	filter    Filter
}

// NewMemNetwork creates an empty fabric with a perfect delivery filter.
func NewMemNetwork() *MemNetwork {
	return &MemNetwork{
		endpoints: make(map[Address]*MemEndpoint),
		filter:    Deliver,
	}
}

// SetFilter replaces the delivery filter for datagrams sent from now on.
func (n *MemNetwork) SetFilter(f Filter) {
	n.mu.Lock()
	n.filter = f
	n.mu.Unlock()
}

// Endpoint attaches a new endpoint at addr.
func (n *MemNetwork) Endpoint(addr Address) *MemEndpoint {
	e := &MemEndpoint{
		network:  n,
		addr:     addr,
		uid:      utils.NewUIDGenerator(),
		inbox:    utils.NewBufferedChan[Message](),
		handlers: make(map[HandlerID]MessageHandler),
		done:     make(chan struct{}),
	}

	n.mu.Lock()
	n.endpoints[addr] = e
	n.mu.Unlock()

	go e.deliverLoop()
	return e
}

func (n *MemNetwork) route(from, to Address, payload []byte) {
	n.mu.Lock()
	dest, ok := n.endpoints[to]
	filter := n.filter
	n.mu.Unlock()

	if !ok {
		// Like UDP: nobody listening, nobody told.
		return
	}

	delivery := filter(from, to, payload)
	for i := 0; i < delivery.Copies; i++ {
		msg := Message{Source: from, Payload: append([]byte(nil), payload...)}
		if delivery.Delay > 0 {
			time.AfterFunc(delivery.Delay, func() { dest.enqueue(msg) })
		} else {
			dest.enqueue(msg)
		}
	}
}

// MemEndpoint is one process's attachment to a [MemNetwork]. It implements [NetworkInterface].
type MemEndpoint struct {
	network *MemNetwork
	addr    Address
	uid     utils.UIDGenerator
	inbox   *utils.BufferedChan[Message]

	mu       sync.Mutex
	handlers map[HandlerID]MessageHandler
	closed   bool
	done     chan struct{}
}

// Address returns the address the endpoint is attached at.
func (e *MemEndpoint) Address() Address {
	return e.addr
}

func (e *MemEndpoint) enqueue(msg Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.inbox.Inlet() <- msg
	}
}

func (e *MemEndpoint) deliverLoop() {
	defer close(e.done)
	for msg := range e.inbox.Outlet() {
		e.mu.Lock()
		handlers := make([]MessageHandler, 0, len(e.handlers))
		for _, h := range e.handlers {
			handlers = append(handlers, h)
		}
		e.mu.Unlock()

		for _, h := range handlers {
			m := msg
			if h.HandleNetworkMessage(&m) {
				break
			}
		}
	}
}

// Send hands the datagram to the fabric. Sending from a closed endpoint is silently ignored.
func (e *MemEndpoint) Send(dest Address, payload []byte) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil
	}
	e.network.route(e.addr, dest, payload)
	return nil
}

// RegisterHandler registers a handler for incoming datagrams.
func (e *MemEndpoint) RegisterHandler(handler MessageHandler) HandlerID {
	id := HandlerID(<-e.uid)
	e.mu.Lock()
	e.handlers[id] = handler
	e.mu.Unlock()
	return id
}

// UnregisterHandler unregisters a handler.
func (e *MemEndpoint) UnregisterHandler(id HandlerID) {
	e.mu.Lock()
	delete(e.handlers, id)
	e.mu.Unlock()
}

// Close detaches the endpoint; datagrams still in flight towards it are dropped.
func (e *MemEndpoint) Close() {
	e.network.mu.Lock()
	delete(e.network.endpoints, e.addr)
	e.network.mu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.inbox.Close()
	e.mu.Unlock()

	<-e.done
}
