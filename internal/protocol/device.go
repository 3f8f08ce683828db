package protocol

// Device-bound CDC2 commands understood by the brain itself. The daemon
// forwards these verbatim; only enough payload structure is modeled here to
// drive the commands, not the full field layout the firmware documents.

// Extended command ids within DeviceCdc.
const (
	ExtFileInit    byte = 0x11
	ExtFileExit    byte = 0x12
	ExtFileWrite   byte = 0x13
	ExtFileLink    byte = 0x15
	ExtUserFifo    byte = 0x27
	ExtScreenTouch byte = 0x2A
)

var (
	SigFileInit    = Sig{Command: DeviceCdc, ExtCommand: ExtFileInit}
	SigFileExit    = Sig{Command: DeviceCdc, ExtCommand: ExtFileExit}
	SigFileWrite   = Sig{Command: DeviceCdc, ExtCommand: ExtFileWrite}
	SigFileLink    = Sig{Command: DeviceCdc, ExtCommand: ExtFileLink}
	SigUserFifo    = Sig{Command: DeviceCdc, ExtCommand: ExtUserFifo}
	SigScreenTouch = Sig{Command: DeviceCdc, ExtCommand: ExtScreenTouch}
)

// NewScreenTouch simulates a touch event on the brain's screen.
func NewScreenTouch(x, y uint16, pressed bool) *Cdc2Command {
	payload := PutU16(nil, x)
	payload = PutU16(payload, y)
	if pressed {
		payload = append(payload, 1)
	} else {
		payload = append(payload, 0)
	}
	return &Cdc2Command{Command: DeviceCdc, ExtCommand: ExtScreenTouch, Payload: payload}
}

// FileInit describes a file transfer about to start.
type FileInit struct {
	// Function: 1 = upload to the brain, 2 = download from it.
	Function byte
	Addr     uint32
	Size     uint32
	// Name is the on-brain file name, truncated to 23 bytes.
	Name string
}

const fileNameLen = 24

// NewFileInit opens a file transfer on the device.
func NewFileInit(init FileInit) *Cdc2Command {
	payload := []byte{init.Function}
	payload = PutU32(payload, init.Addr)
	payload = PutU32(payload, init.Size)
	name := make([]byte, fileNameLen)
	copy(name, init.Name)
	name[fileNameLen-1] = 0
	payload = append(payload, name...)
	return &Cdc2Command{Command: DeviceCdc, ExtCommand: ExtFileInit, Payload: payload}
}

// NewFileWrite writes one chunk of an open transfer at the given address.
func NewFileWrite(addr uint32, chunk []byte) *Cdc2Command {
	payload := PutU32(nil, addr)
	payload = append(payload, chunk...)
	return &Cdc2Command{Command: DeviceCdc, ExtCommand: ExtFileWrite, Payload: payload}
}

// ExitAction tells the brain what to do once a transfer completes.
type ExitAction byte

const (
	ExitNothing    ExitAction = 0
	ExitRun        ExitAction = 1
	ExitShowScreen ExitAction = 2
)

// NewFileExit closes an open transfer.
func NewFileExit(action ExitAction) *Cdc2Command {
	return &Cdc2Command{Command: DeviceCdc, ExtCommand: ExtFileExit, Payload: []byte{byte(action)}}
}

// NewFileLink links an uploaded file against a library file already on the
// brain (hot binaries link against their cold library).
func NewFileLink(name string) *Cdc2Command {
	payload := make([]byte, fileNameLen)
	copy(payload, name)
	payload[fileNameLen-1] = 0
	return &Cdc2Command{Command: DeviceCdc, ExtCommand: ExtFileLink, Payload: payload}
}

// NewUserWrite sends bytes to the user program's serial channel.
func NewUserWrite(data []byte) *Cdc2Command {
	// Discriminant 1 = write, followed by the bytes.
	payload := append([]byte{1}, data...)
	return &Cdc2Command{Command: DeviceCdc, ExtCommand: ExtUserFifo, Payload: payload}
}

// NewUserRead requests up to n bytes from the user program's serial channel.
func NewUserRead(n byte) *Cdc2Command {
	return &Cdc2Command{Command: DeviceCdc, ExtCommand: ExtUserFifo, Payload: []byte{0, n}}
}
