// Package protocol implements the V5 brain's binary packet protocol: the
// direction-headed frame format, the variable-width length field, and the
// CDC2 command/reply envelope carried inside frames.
//
// Frame layout, both directions:
//
//	[2B direction header][1B command id][VarU16 length][length payload bytes]
//
// Multi-byte integers inside payloads are little-endian.
package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Direction headers. Host-bound frames come from the device; device-bound
// frames go to it.
var (
	HostBoundHeader   = [2]byte{0xAA, 0x55}
	DeviceBoundHeader = [2]byte{0xC9, 0x36}
)

// Command classes.
const (
	// DeviceCdc is the command class for extended (CDC2) commands understood
	// by the brain itself.
	DeviceCdc byte = 0x56
	// DaemonCdc is the command class reserved for the daemon's own
	// connection-sharing sub-protocol. Frames with this class never reach
	// the brain.
	DaemonCdc byte = 0xF0
)

// Sig identifies a CDC2 packet kind on the wire: the command class byte plus
// the extended command id. Incoming frames are matched against pending
// receives by Sig.
type Sig struct {
	Command    byte
	ExtCommand byte
}

func (s Sig) String() string {
	return fmt.Sprintf("0x%02x/0x%02x", s.Command, s.ExtCommand)
}

// Encoder is anything that can serialize itself into a complete wire frame.
type Encoder interface {
	Encode() ([]byte, error)
}

// Cdc2Command is a device-bound CDC2 command frame.
type Cdc2Command struct {
	Command    byte
	ExtCommand byte
	Payload    []byte
}

// Sig returns the reply signature this command expects: replies echo the
// command class and extended id of the request.
func (c *Cdc2Command) Sig() Sig {
	return Sig{Command: c.Command, ExtCommand: c.ExtCommand}
}

// Encode serializes the command as a device-bound frame.
func (c *Cdc2Command) Encode() ([]byte, error) {
	body := make([]byte, 0, 1+len(c.Payload))
	body = append(body, c.ExtCommand)
	body = append(body, c.Payload...)
	return encodeFrame(DeviceBoundHeader, c.Command, body)
}

// Cdc2Reply is a host-bound CDC2 reply frame. The Ack code carries the
// device's semantic verdict; a non-ACK code still decodes successfully.
type Cdc2Reply struct {
	Command    byte
	ExtCommand byte
	Ack        AckCode
	Payload    []byte
}

// Sig returns the reply's wire signature.
func (r *Cdc2Reply) Sig() Sig {
	return Sig{Command: r.Command, ExtCommand: r.ExtCommand}
}

// Encode serializes the reply as a host-bound frame. The daemon uses this to
// answer its own sub-protocol commands; tests use it to fabricate device
// traffic.
func (r *Cdc2Reply) Encode() ([]byte, error) {
	body := make([]byte, 0, 2+len(r.Payload))
	body = append(body, r.ExtCommand, byte(r.Ack))
	body = append(body, r.Payload...)
	return encodeFrame(HostBoundHeader, r.Command, body)
}

func encodeFrame(header [2]byte, command byte, body []byte) ([]byte, error) {
	frame := make([]byte, 0, 2+1+2+len(body))
	frame = append(frame, header[0], header[1], command)
	frame, err := EncodeVarU16(frame, uint16(len(body)))
	if err != nil {
		return nil, err
	}
	return append(frame, body...), nil
}

// FrameSig extracts the Sig of a complete raw frame without fully decoding
// it. ok is false if the frame is too short to carry a CDC2 envelope.
func FrameSig(frame []byte) (Sig, bool) {
	if len(frame) < 4 {
		return Sig{}, false
	}
	body, err := frameBody(frame)
	if err != nil || len(body) < 1 {
		return Sig{}, false
	}
	return Sig{Command: frame[2], ExtCommand: body[0]}, true
}

// frameBody validates the length field of a raw frame (header already
// checked by the reader) and returns the payload bytes.
func frameBody(frame []byte) ([]byte, error) {
	if len(frame) < 4 {
		return nil, ErrPacketTooShort
	}
	size, n, err := DecodeVarU16(frame[3:])
	if err != nil {
		return nil, err
	}
	body := frame[3+n:]
	if len(body) != int(size) {
		return nil, ErrPacketTooShort
	}
	return body, nil
}

// DecodeReply decodes a complete host-bound frame into a Cdc2Reply.
// The declared length must exactly match the payload present.
func DecodeReply(frame []byte) (*Cdc2Reply, error) {
	if len(frame) < 2 || frame[0] != HostBoundHeader[0] || frame[1] != HostBoundHeader[1] {
		return nil, ErrInvalidHeader
	}
	body, err := frameBody(frame)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 {
		return nil, ErrPacketTooShort
	}
	return &Cdc2Reply{
		Command:    frame[2],
		ExtCommand: body[0],
		Ack:        AckCode(body[1]),
		Payload:    body[2:],
	}, nil
}

// DecodeCommand decodes a complete device-bound frame into a Cdc2Command.
// The daemon uses this to parse packets arriving from bridge clients.
func DecodeCommand(frame []byte) (*Cdc2Command, error) {
	if len(frame) < 2 || frame[0] != DeviceBoundHeader[0] || frame[1] != DeviceBoundHeader[1] {
		return nil, ErrInvalidHeader
	}
	body, err := frameBody(frame)
	if err != nil {
		return nil, err
	}
	if len(body) < 1 {
		return nil, ErrPacketTooShort
	}
	return &Cdc2Command{
		Command:    frame[2],
		ExtCommand: body[0],
		Payload:    body[1:],
	}, nil
}

// ReadFrame reads exactly one framed packet off r: header, command id,
// length, payload. The expected header selects the direction being read.
//
// A header mismatch consumes the two offending bytes and returns
// ErrInvalidHeader so the caller can skip the noise and resync; any other
// error is an I/O failure on the stream.
func ReadFrame(r *bufio.Reader, header [2]byte) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if hdr != header {
		return nil, fmt.Errorf("%w: % x", ErrInvalidHeader, hdr[:])
	}

	frame := make([]byte, 0, 16)
	frame = append(frame, hdr[0], hdr[1])

	command, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	frame = append(frame, command)

	first, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	frame = append(frame, first)
	sizeBytes := []byte{first}
	if VarU16Wide(first) {
		second, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		frame = append(frame, second)
		sizeBytes = append(sizeBytes, second)
	}
	size, _, err := DecodeVarU16(sizeBytes)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return append(frame, payload...), nil
}

// U32 helpers for little-endian payload fields.

func PutU32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func U32(data []byte) (uint32, error) {
	if len(data) < 4 {
		return 0, ErrPacketTooShort
	}
	return binary.LittleEndian.Uint32(data), nil
}

func PutU16(dst []byte, v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(dst, b[:]...)
}
