package commands

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vexide/v5ctl/internal/protocol"
	"github.com/vexide/v5ctl/internal/transport"
)

// UploadStep is one phase of a program upload.
type UploadStep string

const (
	StepIni      UploadStep = "ini"
	StepMonolith UploadStep = "monolith"
	StepCold     UploadStep = "cold"
	StepHot      UploadStep = "hot"
)

// ProgressFunc observes upload progress. percent is 0-100 and non-decreasing
// within a step.
type ProgressFunc func(step UploadStep, percent float64)

// ProgramData is the binary content of a program: either a single monolith
// image, or a hot (user code) / cold (library) pair where either half may be
// absent.
type ProgramData struct {
	Monolith []byte
	Hot      []byte
	Cold     []byte
}

// ErrNoProgramData means an upload was requested with no binaries at all.
var ErrNoProgramData = errors.New("upload has no program data")

// UploadOpts describes a program upload. Slot is 1-indexed, matching what
// users see on the brain's screen.
type UploadOpts struct {
	Name        string
	Description string
	// Icon is the on-brain icon file name, e.g. "USER902x.bmp".
	Icon        string
	ProgramType string
	Slot        int
	Compress    bool
	After       protocol.ExitAction
	Data        ProgramData
}

// Load addresses for the program segments.
const (
	monolithLoadAddr = 0x03800000
	coldLoadAddr     = 0x03800000
	hotLoadAddr      = 0x07800000
)

const writeChunkSize = 1024

// UploadProgram uploads a program to the brain: the INI metadata file first,
// then the binaries. Each file is its own init / write / exit exchange; the
// final exit carries the caller's after-upload action.
func UploadProgram(ctx context.Context, conn transport.Connection, opts UploadOpts, progress ProgressFunc) error {
	if opts.Data.Monolith == nil && opts.Data.Hot == nil && opts.Data.Cold == nil {
		return ErrNoProgramData
	}
	if progress == nil {
		progress = func(UploadStep, float64) {}
	}

	// The IPC surface and CLI are 1-indexed like the brain's screen; the
	// device protocol wants 0-indexed slots. This is the only place the
	// conversion happens.
	deviceSlot := opts.Slot - 1
	if deviceSlot < 0 || deviceSlot > 7 {
		return fmt.Errorf("slot %d out of range 1-8", opts.Slot)
	}
	base := fmt.Sprintf("slot_%d", opts.Slot)

	logrus.WithFields(logrus.Fields{
		"name": opts.Name,
		"slot": opts.Slot,
	}).Info("uploading program")

	ini := programIni(opts, deviceSlot)
	if err := uploadFile(ctx, conn, base+".ini", monolithLoadAddr, []byte(ini), StepIni, protocol.ExitNothing, progress); err != nil {
		return fmt.Errorf("upload ini: %w", err)
	}

	if opts.Data.Monolith != nil {
		data, err := maybeCompress(opts.Data.Monolith, opts.Compress)
		if err != nil {
			return err
		}
		if err := uploadFile(ctx, conn, base+".bin", monolithLoadAddr, data, StepMonolith, opts.After, progress); err != nil {
			return fmt.Errorf("upload monolith: %w", err)
		}
		return nil
	}

	// Hot/cold: the cold library goes first, then the hot binary linked
	// against it. Whichever file is uploaded last carries the after action.
	libName := base + "_lib.bin"
	if opts.Data.Cold != nil {
		data, err := maybeCompress(opts.Data.Cold, opts.Compress)
		if err != nil {
			return err
		}
		after := opts.After
		if opts.Data.Hot != nil {
			after = protocol.ExitNothing
		}
		if err := uploadFile(ctx, conn, libName, coldLoadAddr, data, StepCold, after, progress); err != nil {
			return fmt.Errorf("upload cold: %w", err)
		}
	}
	if opts.Data.Hot != nil {
		data, err := maybeCompress(opts.Data.Hot, opts.Compress)
		if err != nil {
			return err
		}
		if err := linkFile(ctx, conn, libName); err != nil {
			return fmt.Errorf("link hot against %s: %w", libName, err)
		}
		if err := uploadFile(ctx, conn, base+".bin", hotLoadAddr, data, StepHot, opts.After, progress); err != nil {
			return fmt.Errorf("upload hot: %w", err)
		}
	}
	return nil
}

// uploadFile runs one init / write... / exit transfer.
func uploadFile(ctx context.Context, conn transport.Connection, name string, addr uint32, data []byte, step UploadStep, after protocol.ExitAction, progress ProgressFunc) error {
	init := protocol.NewFileInit(protocol.FileInit{
		Function: 1,
		Addr:     addr,
		Size:     uint32(len(data)),
		Name:     name,
	})
	reply, err := transport.Handshake(ctx, conn, 5*time.Second, 3, init, protocol.SigFileInit)
	if err != nil {
		return fmt.Errorf("init transfer: %w", err)
	}
	if err := reply.Check(); err != nil {
		return fmt.Errorf("init transfer: %w", err)
	}

	total := len(data)
	sent := 0
	for sent < total {
		chunk := data[sent:]
		if len(chunk) > writeChunkSize {
			chunk = chunk[:writeChunkSize]
		}
		reply, err := transport.Handshake(ctx, conn, time.Second, 3,
			protocol.NewFileWrite(addr+uint32(sent), chunk), protocol.SigFileWrite)
		if err != nil {
			return fmt.Errorf("write at offset %d: %w", sent, err)
		}
		if err := reply.Check(); err != nil {
			return fmt.Errorf("write at offset %d: %w", sent, err)
		}
		sent += len(chunk)
		progress(step, float64(sent)*100/float64(total))
	}
	if total == 0 {
		progress(step, 100)
	}

	reply, err = transport.Handshake(ctx, conn, 5*time.Second, 3,
		protocol.NewFileExit(after), protocol.SigFileExit)
	if err != nil {
		return fmt.Errorf("exit transfer: %w", err)
	}
	return reply.Check()
}

func linkFile(ctx context.Context, conn transport.Connection, lib string) error {
	reply, err := transport.Handshake(ctx, conn, time.Second, 3,
		protocol.NewFileLink(lib), protocol.SigFileLink)
	if err != nil {
		return err
	}
	return reply.Check()
}

func maybeCompress(data []byte, compress bool) ([]byte, error) {
	if !compress {
		return data, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("compress program: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress program: %w", err)
	}
	return buf.Bytes(), nil
}

// programIni renders the program metadata file uploaded alongside the
// binaries. slot here is the device's 0-indexed slot number.
func programIni(opts UploadOpts, slot int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[program]\n")
	fmt.Fprintf(&b, "name = %q\n", opts.Name)
	fmt.Fprintf(&b, "slot = %d\n", slot)
	fmt.Fprintf(&b, "icon = %q\n", opts.Icon)
	fmt.Fprintf(&b, "description = %q\n", opts.Description)
	fmt.Fprintf(&b, "type = %q\n", opts.ProgramType)
	return b.String()
}
