// Package api defines the JSON protocol spoken between v5ctl clients and
// the v5d daemon over its unix socket: one newline-delimited command object
// per request, zero or more progress responses, and exactly one terminal
// response.
package api

// CommandName selects the operation a request performs.
type CommandName string

const (
	CmdMockTap       CommandName = "mock_tap"
	CmdUploadProgram CommandName = "upload_program"
	CmdShutdown      CommandName = "shutdown"
	CmdRequestPair   CommandName = "request_pair"
	CmdPairingPin    CommandName = "pairing_pin"
	CmdReconnect     CommandName = "reconnect"
)

// Request is one command frame from a client.
type Request struct {
	Command CommandName `json:"command"`

	MockTap    *MockTapRequest `json:"mock_tap,omitempty"`
	Upload     *UploadRequest  `json:"upload,omitempty"`
	PairingPin *[4]uint8       `json:"pairing_pin,omitempty"`
}

// MockTapRequest taps the brain's screen at a point.
type MockTapRequest struct {
	X uint16 `json:"x"`
	Y uint16 `json:"y"`
}

// AfterUpload selects what the brain does once an upload completes.
type AfterUpload string

const (
	AfterNothing    AfterUpload = "none"
	AfterRun        AfterUpload = "run"
	AfterShowScreen AfterUpload = "show-screen"
)

// UploadStep is one phase of a program upload, reported in progress frames.
type UploadStep string

const (
	StepIni      UploadStep = "ini"
	StepMonolith UploadStep = "monolith"
	StepCold     UploadStep = "cold"
	StepHot      UploadStep = "hot"
)

// ProgramData carries the program binaries, base64-encoded on the wire.
// Either Monolith alone, or any combination of Hot and Cold.
type ProgramData struct {
	Monolith []byte `json:"monolith,omitempty"`
	Hot      []byte `json:"hot,omitempty"`
	Cold     []byte `json:"cold,omitempty"`
}

// UploadRequest uploads a user program. Slot is 1-indexed, as shown on the
// brain's screen.
type UploadRequest struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Icon        string      `json:"icon"`
	ProgramType string      `json:"program_type"`
	Slot        int         `json:"slot"`
	Compression bool        `json:"compression"`
	AfterUpload AfterUpload `json:"after_upload"`
	Data        ProgramData `json:"data"`
}

// ResponseType tags a response frame.
type ResponseType string

const (
	// RespAck terminates a simple command.
	RespAck ResponseType = "basic_ack"
	// RespProgress is an intermediate frame during a streaming transfer.
	RespProgress ResponseType = "transfer_progress"
	// RespComplete terminates a streaming transfer.
	RespComplete ResponseType = "transfer_complete"
)

// Response is one frame from the daemon.
type Response struct {
	Type ResponseType `json:"type"`

	// RespAck
	Successful bool `json:"successful,omitempty"`

	// RespProgress
	Percent float64    `json:"percent,omitempty"`
	Step    UploadStep `json:"step,omitempty"`

	// RespAck / RespComplete; empty means success for RespComplete.
	Error string `json:"error,omitempty"`
}
