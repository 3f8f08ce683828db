package protocol

import "fmt"

// AckCode is the device's per-command acknowledgment byte. Anything other
// than Ack is a semantic rejection (NACK), carried back to callers as data.
type AckCode byte

const (
	Ack AckCode = 0x76

	NackGeneral        AckCode = 0xFF
	NackPacketCrc      AckCode = 0xCE
	NackPacketLength   AckCode = 0xD0
	NackTransferSize   AckCode = 0xD1
	NackProgramCrc     AckCode = 0xD2
	NackProgramFile    AckCode = 0xD3
	NackUninitTransfer AckCode = 0xD4
	NackInvalidInit    AckCode = 0xD5
	NackAlignment      AckCode = 0xD6
	NackAddress        AckCode = 0xD7
	NackIncomplete     AckCode = 0xD8
	NackTimeout        AckCode = 0x01
)

func (a AckCode) String() string {
	switch a {
	case Ack:
		return "ACK"
	case NackGeneral:
		return "NACK"
	case NackPacketCrc:
		return "bad packet CRC"
	case NackPacketLength:
		return "bad packet length"
	case NackTransferSize:
		return "bad transfer size"
	case NackProgramCrc:
		return "bad program CRC"
	case NackProgramFile:
		return "bad program file"
	case NackUninitTransfer:
		return "transfer not initialized"
	case NackInvalidInit:
		return "invalid transfer initialization"
	case NackAlignment:
		return "bad alignment"
	case NackAddress:
		return "bad address"
	case NackIncomplete:
		return "transfer incomplete"
	case NackTimeout:
		return "device timeout"
	default:
		return fmt.Sprintf("unknown ack 0x%02x", byte(a))
	}
}

// Check returns a NackError if the reply's ack code is anything but Ack.
func (r *Cdc2Reply) Check() error {
	if r.Ack != Ack {
		return &NackError{Ack: r.Ack}
	}
	return nil
}
