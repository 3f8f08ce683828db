package protocol

// The daemon's connection-sharing sub-protocol rides in the DaemonCdc
// command class. These packets negotiate how the physical link was (or
// should be) established and arbitrate exclusive-use leases on it.

// Extended command ids within DaemonCdc.
const (
	ExtConnectRequest byte = 0x01
	ExtBluetoothPin   byte = 0x02
	ExtConnectionType byte = 0x10
	ExtConnectionLock byte = 0x30
)

// Reply signatures for the sharing sub-protocol.
var (
	SigConnectRequest = Sig{Command: DaemonCdc, ExtCommand: ExtConnectRequest}
	SigBluetoothPin   = Sig{Command: DaemonCdc, ExtCommand: ExtBluetoothPin}
	SigConnectionType = Sig{Command: DaemonCdc, ExtCommand: ExtConnectionType}
	SigConnectionLock = Sig{Command: DaemonCdc, ExtCommand: ExtConnectionLock}
)

// ConnectionTypes is the bitflag set of physical link types a client will
// accept in a ConnectRequest.
type ConnectionTypes uint8

const (
	ConnectionSerial    ConnectionTypes = 0b01
	ConnectionBluetooth ConnectionTypes = 0b10
)

// Has reports whether all flags in t are set.
func (c ConnectionTypes) Has(t ConnectionTypes) bool { return c&t == t }

// Allows reports whether a negotiated link of type t satisfies the flag set.
func (c ConnectionTypes) Allows(t ConnectedType) bool {
	switch t {
	case ConnectedSerial:
		return c.Has(ConnectionSerial)
	case ConnectedBluetooth:
		return c.Has(ConnectionBluetooth)
	default:
		return false
	}
}

// ConnectedType is the negotiated (or current) physical link type.
type ConnectedType uint8

const (
	ConnectedSerial    ConnectedType = 0
	ConnectedBluetooth ConnectedType = 1
	NoConnection       ConnectedType = 255
)

func (t ConnectedType) String() string {
	switch t {
	case ConnectedSerial:
		return "serial"
	case ConnectedBluetooth:
		return "bluetooth"
	case NoConnection:
		return "none"
	default:
		return "unknown"
	}
}

// DecodeConnectedType decodes a ConnectedType reply payload.
func DecodeConnectedType(payload []byte) (ConnectedType, error) {
	if len(payload) < 1 {
		return NoConnection, ErrPacketTooShort
	}
	switch b := payload[0]; b {
	case 0, 1, 255:
		return ConnectedType(b), nil
	default:
		return NoConnection, &UnexpectedValueError{Value: b, Expected: "0, 1 or 255"}
	}
}

// NewConnectionTypeRequest asks the daemon what kind of physical connection
// it currently holds, if any.
func NewConnectionTypeRequest() *Cdc2Command {
	return &Cdc2Command{Command: DaemonCdc, ExtCommand: ExtConnectionType}
}

// NewConnectRequest asks the daemon to establish a physical connection of
// one of the allowed types.
func NewConnectRequest(allowed ConnectionTypes) *Cdc2Command {
	return &Cdc2Command{
		Command:    DaemonCdc,
		ExtCommand: ExtConnectRequest,
		Payload:    []byte{byte(allowed)},
	}
}

// DecodeConnectRequest decodes the client-side payload of a ConnectRequest.
func DecodeConnectRequest(payload []byte) (ConnectionTypes, error) {
	if len(payload) < 1 {
		return 0, ErrPacketTooShort
	}
	b := payload[0]
	if b == 0 || b > byte(ConnectionSerial|ConnectionBluetooth) {
		return 0, &UnexpectedValueError{Value: b, Expected: "1, 2 or 3"}
	}
	return ConnectionTypes(b), nil
}

// NewConnectedTypeReply builds the daemon's answer to a ConnectionType or
// ConnectRequest command.
func NewConnectedTypeReply(ext byte, t ConnectedType) *Cdc2Reply {
	return &Cdc2Reply{
		Command:    DaemonCdc,
		ExtCommand: ext,
		Ack:        Ack,
		Payload:    []byte{byte(t)},
	}
}

// PinResult is the outcome of a Bluetooth PIN exchange.
type PinResult uint8

const (
	PinSuccess   PinResult = 0
	IncorrectPin PinResult = 1
)

// NewBluetoothPin submits a 4-digit pairing PIN.
func NewBluetoothPin(pin [4]byte) *Cdc2Command {
	return &Cdc2Command{
		Command:    DaemonCdc,
		ExtCommand: ExtBluetoothPin,
		Payload:    pin[:],
	}
}

// DecodeBluetoothPin decodes the client-side payload of a BluetoothPin
// command.
func DecodeBluetoothPin(payload []byte) ([4]byte, error) {
	var pin [4]byte
	if len(payload) < 4 {
		return pin, ErrPacketTooShort
	}
	copy(pin[:], payload[:4])
	return pin, nil
}

// DecodePinResult decodes a BluetoothPin reply payload.
func DecodePinResult(payload []byte) (PinResult, error) {
	if len(payload) < 1 {
		return IncorrectPin, ErrPacketTooShort
	}
	switch b := payload[0]; b {
	case 0, 1:
		return PinResult(b), nil
	default:
		return IncorrectPin, &UnexpectedValueError{Value: b, Expected: "0 or 1"}
	}
}

// NewPinResultReply builds the daemon's answer to a BluetoothPin command.
func NewPinResultReply(r PinResult) *Cdc2Reply {
	return &Cdc2Reply{
		Command:    DaemonCdc,
		ExtCommand: ExtBluetoothPin,
		Ack:        Ack,
		Payload:    []byte{byte(r)},
	}
}

// LockAction is the decoded payload of a ConnectionLock command: either a
// lock request with a timeout, or an unlock.
type LockAction struct {
	Unlock bool
	// TimeoutMS is the lease timeout in milliseconds; 0 means unbounded.
	// Only meaningful when Unlock is false.
	TimeoutMS uint32
}

// NewLock requests an exclusive lease on the shared connection.
func NewLock(timeoutMS uint32) *Cdc2Command {
	payload := PutU32([]byte{0}, timeoutMS)
	return &Cdc2Command{Command: DaemonCdc, ExtCommand: ExtConnectionLock, Payload: payload}
}

// NewUnlock releases a previously acquired lease.
func NewUnlock() *Cdc2Command {
	return &Cdc2Command{Command: DaemonCdc, ExtCommand: ExtConnectionLock, Payload: []byte{1}}
}

// DecodeLockAction decodes the client-side payload of a ConnectionLock
// command.
func DecodeLockAction(payload []byte) (LockAction, error) {
	if len(payload) < 1 {
		return LockAction{}, ErrPacketTooShort
	}
	switch payload[0] {
	case 0:
		timeout, err := U32(payload[1:])
		if err != nil {
			return LockAction{}, err
		}
		return LockAction{TimeoutMS: timeout}, nil
	case 1:
		return LockAction{Unlock: true}, nil
	default:
		return LockAction{}, &UnexpectedValueError{Value: payload[0], Expected: "0 or 1"}
	}
}

// LockResult is the outcome of a lock request.
type LockResult uint8

const (
	LockSuccess LockResult = 0
	LockTimeout LockResult = 1
)

// DecodeLockResult decodes a ConnectionLock reply payload.
func DecodeLockResult(payload []byte) (LockResult, error) {
	if len(payload) < 1 {
		return LockTimeout, ErrPacketTooShort
	}
	switch b := payload[0]; b {
	case 0, 1:
		return LockResult(b), nil
	default:
		return LockTimeout, &UnexpectedValueError{Value: b, Expected: "0 or 1"}
	}
}

// NewLockReply builds the daemon's answer to a ConnectionLock command.
func NewLockReply(r LockResult) *Cdc2Reply {
	return &Cdc2Reply{
		Command:    DaemonCdc,
		ExtCommand: ExtConnectionLock,
		Ack:        Ack,
		Payload:    []byte{byte(r)},
	}
}
