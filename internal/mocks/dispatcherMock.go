package mocks

import (
	"distbank/internal/dispatcher"
	"distbank/internal/wire"
	"sync"
	"testing"
	"time"
)

// DestinedMessage is a message passed to the dispatcher along with its destination.
type DestinedMessage struct {
	Message wire.Message
	To      uint16
}

// MockDispatcher is a mock implementation of the dispatcher interface.
type MockDispatcher struct {
	t *testing.T

	self  uint16
	peers []uint16

	mu       sync.Mutex
	handlers map[wire.Command]dispatcher.Handler

	sentMessages chan DestinedMessage
}

// NewMockDispatcher creates a new mock dispatcher for process self among peers.
func NewMockDispatcher(t *testing.T, self uint16, peers []uint16) *MockDispatcher {
	return &MockDispatcher{
		t:     t,
		self:  self,
		peers: peers,

		handlers: make(map[wire.Command]dispatcher.Handler),

		sentMessages: make(chan DestinedMessage, 100),
	}
}

// GetTesting returns the testing.T instance associated with the dispatcher.
func (d *MockDispatcher) GetTesting() *testing.T {
	return d.t
}

// Register registers a handler for a specific command.
func (d *MockDispatcher) Register(cmd wire.Command, handler dispatcher.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[cmd] = handler
}

// Send records a message sent to a specific process, stamping the sender like the real dispatcher does.
func (d *MockDispatcher) Send(msg wire.Message, to uint16) error {
	msg.Sender = d.self
	d.sentMessages <- DestinedMessage{Message: msg, To: to}
	return nil
}

// Broadcast sends a message to all peers.
func (d *MockDispatcher) Broadcast(msg wire.Message) (sent []uint16) {
	for _, peer := range d.peers {
		_ = d.Send(msg, peer)
	}
	return append([]uint16(nil), d.peers...)
}

// Self returns the id of the mocked process.
func (d *MockDispatcher) Self() uint16 {
	return d.self
}

// Peers returns the ids of the other processes.
func (d *MockDispatcher) Peers() []uint16 {
	return append([]uint16(nil), d.peers...)
}

// Close closes the dispatcher.
func (d *MockDispatcher) Close() {
}

// InterceptNextSend returns the next message passed to Send, along with its destination. Fails the test after a second.
func (d *MockDispatcher) InterceptNextSend() (wire.Message, uint16) {
	select {
	case sent := <-d.sentMessages:
		return sent.Message, sent.To
	case <-time.After(time.Second):
		d.t.Fatal("Expected a message to be sent")
		return wire.Message{}, 0
	}
}

// ExpectSentMessage waits for a message to be sent and checks its command, payload and destination.
func (d *MockDispatcher) ExpectSentMessage(cmd wire.Command, payload uint32, to uint16) wire.Message {
	d.t.Helper()
	msg, dest := d.InterceptNextSend()
	if msg.Command != cmd || msg.Payload != payload || dest != to {
		d.t.Errorf("Expected %v(%d) to %d, got %v to %d", cmd, payload, to, msg, dest)
	}
	return msg
}

// ExpectNothingFor waits for a duration and then fails the test if a message is sent during that time.
func (d *MockDispatcher) ExpectNothingFor(duration time.Duration) {
	d.t.Helper()
	select {
	case msg := <-d.sentMessages:
		d.t.Error("Expected no message to be sent; received", msg.Message, "to", msg.To)
	case <-time.After(duration):
	}
}

// SimulateReception simulates the reception of a message by the dispatcher.
func (d *MockDispatcher) SimulateReception(msg wire.Message) {
	d.mu.Lock()
	handler, ok := d.handlers[msg.Command]
	d.mu.Unlock()
	if !ok {
		d.t.Errorf("No handler found for message %v", msg)
		return
	}
	handler(msg)
}
