package transport

import (
	"distbank/internal/logging"
	"distbank/internal/utils"
	"errors"
	"fmt"
	"net"
	"sync"
)

// Largest datagram the receive loop accepts; protocol messages are far smaller.
const maxDatagramSize = 1500

// Internal representation of a handler registration.
type registration struct {
	id      HandlerID
	handler MessageHandler
}

// UDP implements the [NetworkInterface] interface on top of a single bound UDP socket.
type UDP struct {
	logger       *logging.Logger
	uidGenerator utils.UIDGenerator

	local Address
	conn  *net.UDPConn

	resolvedMu sync.Mutex
	resolved   map[Address]*net.UDPAddr

	receivedMessages chan Message
	registrations    chan registration
	unregistrations  chan HandlerID

	closeChan chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewUDP binds a socket on the given local address and starts the receive loop. A bind failure is returned to the caller, which must not go on serving.
func NewUDP(local Address, log *logging.Logger) (*UDP, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", local.String())
	if err != nil {
		return nil, fmt.Errorf("resolving local address %v: %w", local, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("binding %v: %w", local, err)
	}

	bound := conn.LocalAddr().(*net.UDPAddr)
	udp := &UDP{
		logger:       log,
		uidGenerator: utils.NewUIDGenerator(),
		local:        Address{Host: local.Host, Port: uint16(bound.Port)},
		conn:         conn,
		resolved:     make(map[Address]*net.UDPAddr),

		receivedMessages: make(chan Message),
		registrations:    make(chan registration),
		unregistrations:  make(chan HandlerID),

		closeChan: make(chan struct{}),
	}

	udp.wg.Add(2)
	go udp.listenIncomingMessages()
	go udp.handleState()

	log.Info("Listening for datagrams on ", udp.local)

	return udp, nil
}

// LocalAddress returns the address the socket is bound to. The port is the actual one, even if 0 was requested.
func (udp *UDP) LocalAddress() Address {
	return udp.local
}

/*
Main goroutine for handling the state of the UDP endpoint.

The set of registered handlers may change at any time; it is therefore only touched by this goroutine, and all other goroutines pass their instructions through channels.

It handles the following events:
  - On datagrams received from the network, hands them to the registered handlers until one reports it handled it.
  - On handler (un)registration, updates the set of registered handlers.
  - On close, returns.
*/
func (udp *UDP) handleState() {
	defer udp.wg.Done()

	registeredHandlers := make(map[HandlerID]MessageHandler)

	for {
		select {
		case msg := <-udp.receivedMessages:
			for _, handler := range registeredHandlers {
				if handler.HandleNetworkMessage(&msg) {
					break
				}
			}
		case registration := <-udp.registrations:
			udp.logger.Info("UDP registering handler ", registration.id)
			registeredHandlers[registration.id] = registration.handler
		case id := <-udp.unregistrations:
			udp.logger.Info("UDP unregistering handler ", id)
			delete(registeredHandlers, id)
		case <-udp.closeChan:
			udp.logger.Info("UDP's state-handler is closing.")
			return
		}
	}
}

// Resolves dest, caching successful resolutions. Host names are looked up once per process lifetime.
func (udp *UDP) resolve(dest Address) (*net.UDPAddr, error) {
	udp.resolvedMu.Lock()
	defer udp.resolvedMu.Unlock()

	if addr, ok := udp.resolved[dest]; ok {
		return addr, nil
	}
	addr, err := net.ResolveUDPAddr("udp", dest.String())
	if err != nil {
		return nil, err
	}
	udp.resolved[dest] = addr
	return addr, nil
}

// Send writes payload as a single datagram to dest. Resolution and write failures are logged and returned; nothing is retried.
func (udp *UDP) Send(dest Address, payload []byte) error {
	addr, err := udp.resolve(dest)
	if err != nil {
		udp.logger.Errorf("Cannot resolve %v, dropping datagram: %v", dest, err)
		return fmt.Errorf("resolving %v: %w", dest, err)
	}

	if _, err := udp.conn.WriteToUDP(payload, addr); err != nil {
		udp.logger.Warnf("Failed to send datagram to %v: %v", dest, err)
		return fmt.Errorf("sending to %v: %w", dest, err)
	}
	return nil
}

// RegisterHandler registers a handler for incoming datagrams.
func (udp *UDP) RegisterHandler(handler MessageHandler) HandlerID {
	nextUID := HandlerID(<-udp.uidGenerator)

	select {
	case udp.registrations <- registration{id: nextUID, handler: handler}:
	case <-udp.closeChan:
		udp.logger.Warn("UDP is closed, not registering handler")
	}

	return nextUID
}

// UnregisterHandler unregisters a handler.
func (udp *UDP) UnregisterHandler(id HandlerID) {
	select {
	case udp.unregistrations <- id:
	case <-udp.closeChan:
	}
}

// Main goroutine reading the socket. Every datagram is copied out of the read buffer and forwarded to the state goroutine.
func (udp *UDP) listenIncomingMessages() {
	defer udp.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := udp.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				udp.logger.Info("UDP's receive-handler closed with the socket")
				return
			}
			udp.logger.Warn("Error reading datagram: ", err)
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		msg := Message{
			Source:  Address{Host: from.IP.String(), Port: uint16(from.Port)},
			Payload: payload,
		}

		select {
		case udp.receivedMessages <- msg:
		case <-udp.closeChan:
			return
		}
	}
}

// Close stops both goroutines and releases the socket. It is safe to call more than once.
func (udp *UDP) Close() {
	udp.closeOnce.Do(func() {
		close(udp.closeChan)
		udp.conn.Close()
		udp.wg.Wait()
	})
}
