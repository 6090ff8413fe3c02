// Package trace records every protocol datagram a process sends or receives as one JSON object per line, so that runs of several processes can be merged and replayed offline.
package trace

import (
	"distbank/internal/wire"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType tells whether an event is a send, a receive, or a datagram dropped on receipt.
type EventType string

const (
	EvtSend EventType = "send"
	EvtRecv EventType = "recv"
	EvtDrop EventType = "drop"
)

// Event is one line of the trace.
type Event struct {
	ID        string    `json:"id"`
	Instance  string    `json:"instance"`
	Timestamp int64     `json:"timestamp"`
	EvtType   EventType `json:"evt_type"`
	Command   string    `json:"command"`
	From      uint16    `json:"from"`
	To        uint16    `json:"to"`
	Sequence  uint16    `json:"seq"`
	Lamport   uint32    `json:"lamport"`
	TieBreak  uint32    `json:"tie_break"`
	Payload   uint32    `json:"payload"`
	Reason    string    `json:"reason,omitempty"`
}

// Recorder receives protocol events. Implementations must be safe for concurrent use.
type Recorder interface {
	Record(evt EventType, msg wire.Message, to uint16, reason string)
}

type nopRecorder struct{}

func (nopRecorder) Record(EventType, wire.Message, uint16, string) {}

// Nop returns a Recorder that discards everything.
func Nop() Recorder {
	return nopRecorder{}
}

// JSONRecorder writes events as JSON lines.
type JSONRecorder struct {
	instance string

	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

// NewRecorder writes to w. The instance string identifies this process run in merged traces.
func NewRecorder(w io.Writer, instance string) *JSONRecorder {
	return &JSONRecorder{instance: instance, enc: json.NewEncoder(w)}
}

// NewFileRecorder appends to the file at path, creating it if needed.
func NewFileRecorder(path, instance string) (*JSONRecorder, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	r := NewRecorder(f, instance)
	r.closer = f
	return r, nil
}

// Record appends one event. Encoding errors are ignored: tracing must never disturb the protocol.
func (r *JSONRecorder) Record(evt EventType, msg wire.Message, to uint16, reason string) {
	entry := Event{
		ID:        uuid.NewString(),
		Instance:  r.instance,
		Timestamp: time.Now().UnixNano(),
		EvtType:   evt,
		Command:   msg.Command.String(),
		From:      msg.Sender,
		To:        to,
		Sequence:  msg.Sequence,
		Lamport:   msg.Timestamp,
		TieBreak:  msg.TieBreak,
		Payload:   msg.Payload,
		Reason:    reason,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.enc.Encode(entry)
}

// Close closes the underlying file, if the recorder owns one.
func (r *JSONRecorder) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
