package wire

import "fmt"

// Command identifies the kind of a protocol message. Values are part of the wire format and must not be renumbered.
type Command uint16

const (
	// Hello probes whether a peer is up.
	Hello Command = iota
	// HelloAck answers a Hello, echoing its payload.
	HelloAck
	// Request asks for permission to enter the critical section.
	Request
	// Reply grants permission for the request whose timestamp is in the payload.
	Reply
	// ResourceUpdate carries the shared value written by the last lock holder.
	ResourceUpdate
)

func (c Command) String() string {
	switch c {
	case Hello:
		return "HELLO"
	case HelloAck:
		return "HELLO_ACK"
	case Request:
		return "REQUEST"
	case Reply:
		return "REPLY"
	case ResourceUpdate:
		return "RESOURCE_UPDATE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint16(c))
	}
}

// Valid reports whether c is one of the known commands.
func (c Command) Valid() bool {
	return c <= ResourceUpdate
}

// Message is the single datagram exchanged between processes.
type Message struct {
	Command Command
	// Per-sender counter, used by receivers to drop duplicated datagrams.
	Sequence uint16
	// Per-process-instance value breaking ties between equal timestamps.
	TieBreak uint32
	Sender   uint16
	// Sender's Lamport time when the message was emitted.
	Timestamp uint32
	// Command-specific: answered request timestamp for REPLY, balance for RESOURCE_UPDATE, nonce for HELLO/HELLO_ACK.
	Payload uint32
}

func (m Message) String() string {
	return fmt.Sprintf("%s{seq=%d from=%d ts=%d tb=%d payload=%d}", m.Command, m.Sequence, m.Sender, m.Timestamp, m.TieBreak, m.Payload)
}
