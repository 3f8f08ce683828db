// v5ctl is the command-line client for v5d: it sends commands to the daemon
// over its unix socket and renders the responses.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pterm/pterm"

	"github.com/vexide/v5ctl/internal/api"
	"github.com/vexide/v5ctl/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd, rest := os.Args[1], os.Args[2:]
	switch cmd {
	case "mock-tap":
		runMockTap(rest)
	case "upload", "u":
		runUpload(rest)
	case "pair":
		runPair()
	case "stop-daemon":
		runSimple(&api.Request{Command: api.CmdShutdown}, "daemon stopped")
	case "reconnect":
		runSimple(&api.Request{Command: api.CmdReconnect}, "reconnected to brain")
	case "version", "--version":
		fmt.Printf("v5ctl %s (%s)\n", version.VERSION, version.Commit)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: v5ctl <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  mock-tap <x> <y>   tap the brain's touchscreen at a point")
	fmt.Fprintln(os.Stderr, "  upload             upload a user program (see upload -h)")
	fmt.Fprintln(os.Stderr, "  pair               pair with a brain over bluetooth")
	fmt.Fprintln(os.Stderr, "  stop-daemon        shut down the running v5d")
	fmt.Fprintln(os.Stderr, "  reconnect          make v5d renegotiate its brain connection")
	fmt.Fprintln(os.Stderr, "  version            print version and exit")
}

// dial connects to the daemon or exits with a hint to start it.
func dial() *api.Client {
	client, err := api.Dial()
	if err != nil {
		pterm.Error.Printfln("%v", err)
		os.Exit(1)
	}
	return client
}

// runSimple performs a single ack-only command.
func runSimple(req *api.Request, success string) {
	client := dial()
	defer client.Close()

	resp, err := client.Do(req)
	if err != nil {
		pterm.Error.Printfln("%v", err)
		os.Exit(1)
	}
	if !resp.Successful {
		pterm.Error.Printfln("daemon refused: %s", resp.Error)
		os.Exit(1)
	}
	pterm.Success.Println(success)
}

func runMockTap(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: v5ctl mock-tap <x> <y>")
		os.Exit(1)
	}
	x, errX := strconv.ParseUint(args[0], 10, 16)
	y, errY := strconv.ParseUint(args[1], 10, 16)
	if errX != nil || errY != nil {
		fmt.Fprintln(os.Stderr, "error: coordinates must be 16-bit unsigned integers")
		os.Exit(1)
	}
	runSimple(&api.Request{
		Command: api.CmdMockTap,
		MockTap: &api.MockTapRequest{X: uint16(x), Y: uint16(y)},
	}, fmt.Sprintf("tapped screen at (%d, %d)", x, y))
}

func runPair() {
	client := dial()
	defer client.Close()

	resp, err := client.Do(&api.Request{Command: api.CmdRequestPair})
	if err != nil {
		pterm.Error.Printfln("%v", err)
		os.Exit(1)
	}
	if !resp.Successful {
		pterm.Error.Printfln("pairing request failed: %s", resp.Error)
		os.Exit(1)
	}

	raw, _ := pterm.DefaultInteractiveTextInput.
		Show("Enter the 4-digit PIN shown on the brain")
	pin, err := parsePin(raw)
	if err != nil {
		pterm.Error.Printfln("%v", err)
		os.Exit(1)
	}

	resp, err = client.Do(&api.Request{Command: api.CmdPairingPin, PairingPin: &pin})
	if err != nil {
		pterm.Error.Printfln("%v", err)
		os.Exit(1)
	}
	if !resp.Successful {
		pterm.Error.Printfln("pairing failed: %s", resp.Error)
		os.Exit(1)
	}
	pterm.Success.Println("paired with brain")
}

func parsePin(s string) ([4]uint8, error) {
	var pin [4]uint8
	if len(s) != 4 {
		return pin, fmt.Errorf("PIN must be exactly 4 digits, got %q", s)
	}
	for i, c := range s {
		if c < '0' || c > '9' {
			return pin, fmt.Errorf("PIN must be exactly 4 digits, got %q", s)
		}
		pin[i] = uint8(c - '0')
	}
	return pin, nil
}
