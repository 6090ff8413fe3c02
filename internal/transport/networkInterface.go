package transport

// MessageHandler represents any structure capable of handling a datagram received from the network.
type MessageHandler interface {
	HandleNetworkMessage(*Message) (wasHandled bool)
}

// HandlerID is a unique identifier for a handler.
type HandlerID uint32

// NetworkInterface is an unreliable, connectionless endpoint: datagrams may be lost, duplicated or reordered.
type NetworkInterface interface {
	// Send a single datagram to the given address. An error means the datagram was certainly not sent.
	Send(addr Address, payload []byte) error
	// Register a handler for incoming datagrams.
	RegisterHandler(MessageHandler) HandlerID
	// Unregister a handler.
	UnregisterHandler(id HandlerID)
	// Close the network interface.
	Close()
}

// Message is a datagram as received by a network interface.
type Message struct {
	// Source is the address the datagram came from, as seen by the socket.
	Source  Address
	Payload []byte
}
