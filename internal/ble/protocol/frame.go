// Package protocol implements the framed message codec shared by the
// alcohol meter device and its client.
//
// Wire layout (little-endian):
//
//	header(1) | length(1) | direction(1) | command(1) | payload(length-2) | checksum(2)
//
// length counts the payload plus the two checksum bytes. The checksum is the
// 16-bit wraparound sum of every byte from header through the end of payload.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// DefaultHeader is the frame sentinel both peers put on the wire.
	DefaultHeader byte = 0xA0

	// MaxPayload is the largest payload a single frame can carry.
	MaxPayload = 255

	preambleSize = 4 // header, length, direction, command
	checksumSize = 2
)

var (
	ErrInvalidHeader    = errors.New("protocol: invalid header")
	ErrTruncated        = errors.New("protocol: truncated frame")
	ErrPayloadTooLarge  = errors.New("protocol: payload exceeds 255 bytes")
	ErrChecksumMismatch = errors.New("protocol: checksum mismatch")
)

// Direction tells the receiver whether a frame carries a value (Write) or
// asks for one (Read).
type Direction byte

const (
	Write Direction = 0x01
	Read  Direction = 0x02
)

func (d Direction) String() string {
	switch d {
	case Write:
		return "write"
	case Read:
		return "read"
	default:
		return fmt.Sprintf("direction(0x%02x)", byte(d))
	}
}

// Message is a decoded application-layer frame.
type Message struct {
	Command   Command
	Direction Direction
	Payload   []byte
}

// Float interprets the payload as a little-endian IEEE-754 float32.
// Payloads shorter than 4 bytes yield 0.
func (m Message) Float() float32 {
	return BytesToFloat(m.Payload)
}

// Text returns the payload as a string.
func (m Message) Text() string {
	return string(m.Payload)
}

func (m Message) String() string {
	return fmt.Sprintf("%s %s [% x]", m.Command, m.Direction, m.Payload)
}

// Codec encodes and decodes frames for one deployment's sentinel.
//
// A non-strict codec mirrors the device firmware parser: it accepts frames
// whose declared length runs past the buffer and never checks the checksum.
// Strict mode rejects both.
type Codec struct {
	Header byte
	Strict bool
}

// DefaultCodec is the lenient codec using DefaultHeader.
var DefaultCodec = Codec{Header: DefaultHeader}

// Encode builds a frame using DefaultCodec.
func Encode(cmd Command, dir Direction, payload []byte) ([]byte, error) {
	return DefaultCodec.Encode(cmd, dir, payload)
}

// Decode parses a frame using DefaultCodec.
func Decode(data []byte) (Message, error) {
	return DefaultCodec.Decode(data)
}

// Encode builds a complete frame with its trailing checksum.
func (c Codec) Encode(cmd Command, dir Direction, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: got %d", ErrPayloadTooLarge, len(payload))
	}
	buf := make([]byte, 0, preambleSize+len(payload)+checksumSize)
	// length is a single byte, so 254 and 255 byte payloads wrap to 0 and 1.
	buf = append(buf, c.Header, byte(len(payload)+checksumSize), byte(dir), byte(cmd))
	buf = append(buf, payload...)
	return binary.LittleEndian.AppendUint16(buf, Checksum(buf)), nil
}

// Decode parses a frame. The returned payload is a copy.
func (c Codec) Decode(data []byte) (Message, error) {
	if len(data) == 0 || data[0] != c.Header {
		return Message{}, ErrInvalidHeader
	}
	if len(data) < preambleSize {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}

	declared := int(data[1])
	payloadLen := declared - checksumSize
	if payloadLen < 0 {
		// A length byte of 0 or 1 is either a wrapped 254/255 byte payload
		// or a frame too short to carry one. Only a buffer that holds the
		// whole wrapped payload is read as the former.
		payloadLen = 0
		if wrapped := int(byte(declared - checksumSize)); len(data) >= preambleSize+wrapped {
			payloadLen = wrapped
		}
	}

	if c.Strict {
		if len(data) < preambleSize+payloadLen+checksumSize {
			return Message{}, fmt.Errorf("%w: declared %d, have %d", ErrTruncated, declared, len(data)-preambleSize)
		}
		end := preambleSize + payloadLen
		want := binary.LittleEndian.Uint16(data[end : end+checksumSize])
		if got := Checksum(data[:end]); got != want {
			return Message{}, fmt.Errorf("%w: got 0x%04x, want 0x%04x", ErrChecksumMismatch, got, want)
		}
	}

	// Copy what is present, never past the buffer.
	avail := len(data) - preambleSize
	if payloadLen > avail {
		payloadLen = avail
	}
	payload := make([]byte, payloadLen)
	copy(payload, data[preambleSize:preambleSize+payloadLen])

	return Message{
		Command:   Command(data[3]),
		Direction: Direction(data[2]),
		Payload:   payload,
	}, nil
}

// Checksum returns the 16-bit wraparound sum of data.
func Checksum(data []byte) uint16 {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
	}
	return sum
}

// FloatToBytes encodes v as 4 little-endian IEEE-754 bytes.
func FloatToBytes(v float32) []byte {
	return binary.LittleEndian.AppendUint32(nil, math.Float32bits(v))
}

// BytesToFloat decodes the first 4 bytes of b. Shorter input yields 0.
func BytesToFloat(b []byte) float32 {
	if len(b) < 4 {
		return 0
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b[:4]))
}
