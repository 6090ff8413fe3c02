package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Size is the exact encoded length of a [Message].
const Size = 18

var (
	// ErrShortMessage is returned when decoding fewer than [Size] bytes.
	ErrShortMessage = errors.New("wire: message shorter than 18 bytes")
	// ErrUnknownCommand is returned when decoding a command value outside the protocol.
	ErrUnknownCommand = errors.New("wire: unknown command")
)

// Field offsets, all big-endian.
const (
	offCommand   = 0
	offSequence  = 2
	offTieBreak  = 4
	offSender    = 8
	offTimestamp = 10
	offPayload   = 14
)

// Encode serializes m into a freshly allocated [Size]-byte slice.
func Encode(m Message) []byte {
	return AppendEncode(make([]byte, 0, Size), m)
}

// AppendEncode appends the encoding of m to buf.
func AppendEncode(buf []byte, m Message) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(m.Command))
	buf = binary.BigEndian.AppendUint16(buf, m.Sequence)
	buf = binary.BigEndian.AppendUint32(buf, m.TieBreak)
	buf = binary.BigEndian.AppendUint16(buf, m.Sender)
	buf = binary.BigEndian.AppendUint32(buf, m.Timestamp)
	buf = binary.BigEndian.AppendUint32(buf, m.Payload)
	return buf
}

// Decode parses the first [Size] bytes of buf. Trailing bytes are ignored.
func Decode(buf []byte) (Message, error) {
	if len(buf) < Size {
		return Message{}, fmt.Errorf("%w: got %d", ErrShortMessage, len(buf))
	}

	m := Message{
		Command:   Command(binary.BigEndian.Uint16(buf[offCommand:])),
		Sequence:  binary.BigEndian.Uint16(buf[offSequence:]),
		TieBreak:  binary.BigEndian.Uint32(buf[offTieBreak:]),
		Sender:    binary.BigEndian.Uint16(buf[offSender:]),
		Timestamp: binary.BigEndian.Uint32(buf[offTimestamp:]),
		Payload:   binary.BigEndian.Uint32(buf[offPayload:]),
	}
	if !m.Command.Valid() {
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownCommand, uint16(m.Command))
	}

	return m, nil
}
