package node

import (
	"distbank/internal/dispatcher"
	"distbank/internal/lamport"
	"distbank/internal/logging"
	"distbank/internal/mutex"
	"distbank/internal/utils"
	"distbank/internal/wire"
	"sync"
)

// Constructs the channels connecting a mutex instance to the dispatcher, translating between mutex messages and datagrams.
func newMutexNetworkWrapper(log *logging.Logger, d dispatcher.Dispatcher) (wrapper mutex.NetWrapper, closeWrapper func()) {
	netToMutex := utils.NewBufferedChan[mutex.Message]()
	mutexToNet := utils.NewBufferedChan[mutex.OutgoingMessage]()

	wrapper = mutex.NetWrapper{
		IntoNet: mutexToNet.Inlet(),
		FromNet: netToMutex.Outlet(),
	}

	// Guards netToMutex against being closed while a handler writes to it.
	var inboxMu sync.RWMutex
	inboxClosed := false
	push := func(m mutex.Message) {
		inboxMu.RLock()
		defer inboxMu.RUnlock()
		if !inboxClosed {
			netToMutex.Inlet() <- m
		}
	}

	fromWire := func(msg wire.Message) {
		ts := lamport.Timestamp{Time: lamport.Time(msg.Timestamp), TieBreak: msg.TieBreak, Pid: lamport.Pid(msg.Sender)}
		switch msg.Command {
		case wire.Request:
			push(mutex.NewRequest(ts, lamport.Time(msg.Payload)))
		case wire.Reply:
			push(mutex.NewReply(ts, lamport.Time(msg.Payload)))
		case wire.ResourceUpdate:
			push(mutex.NewUpdate(ts, msg.Payload))
		default:
			log.Error("Received a message that is not for the mutex: ", msg)
		}
	}
	d.Register(wire.Request, fromWire)
	d.Register(wire.Reply, fromWire)
	d.Register(wire.ResourceUpdate, fromWire)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for out := range mutexToNet.Outlet() {
			msg := toWire(out.Message)
			if to, ok := out.Destination.Get(); ok {
				// Send failures are already logged by the dispatcher; the protocol tolerates loss.
				_ = d.Send(msg, uint16(to))
			} else {
				// Broadcast message
				sent := d.Broadcast(msg)
				if len(sent) < len(d.Peers()) {
					log.Warnf("%v only sent to %v", msg.Command, sent)
				}
			}
		}
	}()

	// Must only be called once the mutex stopped writing to IntoNet.
	closeWrapper = func() {
		mutexToNet.Close()
		<-done

		inboxMu.Lock()
		inboxClosed = true
		netToMutex.Close()
		inboxMu.Unlock()
	}
	return wrapper, closeWrapper
}

// Converts a mutex message to its datagram form. Sender, tie-break and sequence are stamped by the dispatcher.
func toWire(m mutex.Message) wire.Message {
	msg := wire.Message{Timestamp: uint32(m.TS.Time)}
	switch {
	case m.IsRequest():
		msg.Command = wire.Request
		msg.Payload = uint32(m.Known)
	case m.IsReply():
		msg.Command = wire.Reply
		msg.Payload = uint32(m.Answers)
	case m.IsUpdate():
		msg.Command = wire.ResourceUpdate
		msg.Payload = m.Value
	}
	return msg
}
