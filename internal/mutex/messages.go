package mutex

import (
	"distbank/internal/lamport"
	"distbank/internal/utils/option"
	"fmt"
)

// Enum for REQ, REP and UPD messages
type messageType int

func (m messageType) String() string {
	switch m {
	case reqMsg:
		return "REQ"
	case repMsg:
		return "REP"
	case updMsg:
		return "UPD"
	default:
		return "INVALID"
	}
}

const (
	reqMsg messageType = iota
	repMsg
	updMsg
)

/*
Message is exchanged between mutex instances.

TS is the sender's timestamp; for a request it is the request record itself, for an update the stamp of the carried value.
Known is only meaningful for requests and holds the stamp time of the value the requester has. Answers is only meaningful
for replies and holds the time of the request being answered. Value is only meaningful for updates.
*/
type Message struct {
	Type    messageType
	TS      timestamp
	Known   lamport.Time
	Answers lamport.Time
	Value   uint32
}

// NewRequest builds a request message carrying the given record, from a process whose value is stamped at known.
func NewRequest(ts timestamp, known lamport.Time) Message {
	return Message{Type: reqMsg, TS: ts, Known: known}
}

// NewReply builds a reply to the request issued at time answers.
func NewReply(ts timestamp, answers lamport.Time) Message {
	return Message{Type: repMsg, TS: ts, Answers: answers}
}

// NewUpdate builds an update publishing value.
func NewUpdate(ts timestamp, value uint32) Message {
	return Message{Type: updMsg, TS: ts, Value: value}
}

// IsRequest reports whether m is a request.
func (m Message) IsRequest() bool { return m.Type == reqMsg }

// IsReply reports whether m is a reply.
func (m Message) IsReply() bool { return m.Type == repMsg }

// IsUpdate reports whether m is an update.
func (m Message) IsUpdate() bool { return m.Type == updMsg }

// GetSource returns the source of the message
func (m Message) GetSource() Pid {
	return m.TS.Pid
}

func (m Message) String() string {
	switch m.Type {
	case repMsg:
		return fmt.Sprintf("%v%v->%d", m.Type, m.TS, m.Answers)
	case updMsg:
		return fmt.Sprintf("%v%v=%d", m.Type, m.TS, m.Value)
	case reqMsg:
		return fmt.Sprintf("%v%v@%d", m.Type, m.TS, m.Known)
	default:
		return fmt.Sprintf("%v%v", m.Type, m.TS)
	}
}

// OutgoingMessage is a message the mutex hands to the network.
type OutgoingMessage struct {
	// The destination of the message. None means every peer.
	Destination option.Option[Pid]
	// The message to send.
	Message Message
}

// NetWrapper connects a mutex instance to the network.
type NetWrapper struct {
	// The channel on which the mutex instance will send messages to the network.
	IntoNet chan<- OutgoingMessage
	// The channel on which the mutex instance will receive messages from the network.
	FromNet <-chan Message
}
