package daemon

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vexide/v5ctl/internal/api"
	"github.com/vexide/v5ctl/internal/commands"
	"github.com/vexide/v5ctl/internal/protocol"
	"github.com/vexide/v5ctl/internal/transport"
)

func init() {
	logrus.SetLevel(logrus.PanicLevel)
}

// fakeBrain is a Connection whose replies come from a handler func. Unlike
// the single-threaded fakes in the commands package it is safe under the
// daemon's concurrent sessions.
type fakeBrain struct {
	mu      sync.Mutex
	kind    transport.Kind
	sent    []*protocol.Cdc2Command
	pending []*protocol.Cdc2Reply
	handler func(cmd *protocol.Cdc2Command) *protocol.Cdc2Reply
}

func (f *fakeBrain) Kind() transport.Kind { return f.kind }

func (f *fakeBrain) SendPacket(ctx context.Context, pkt protocol.Encoder) error {
	frame, err := pkt.Encode()
	if err != nil {
		return err
	}
	cmd, err := protocol.DecodeCommand(frame)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	if reply := f.handler(cmd); reply != nil {
		f.pending = append(f.pending, reply)
	}
	return nil
}

func (f *fakeBrain) ReceivePacket(ctx context.Context, sig protocol.Sig, timeout time.Duration) (*protocol.Cdc2Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, reply := range f.pending {
		if reply.Sig() == sig {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			return reply, nil
		}
	}
	return nil, transport.ErrTimeout
}

func (f *fakeBrain) ReadUser(ctx context.Context, p []byte) (int, error)  { return 0, nil }
func (f *fakeBrain) WriteUser(ctx context.Context, p []byte) (int, error) { return len(p), nil }
func (f *fakeBrain) Close() error                                         { return nil }

func (f *fakeBrain) commands() []*protocol.Cdc2Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*protocol.Cdc2Command(nil), f.sent...)
}

func ackEverything(cmd *protocol.Cdc2Command) *protocol.Cdc2Reply {
	return &protocol.Cdc2Reply{
		Command:    cmd.Command,
		ExtCommand: cmd.ExtCommand,
		Ack:        protocol.Ack,
	}
}

// startDaemon runs a daemon over the given fake brain on a throwaway socket
// and tears it down with the test.
func startDaemon(t *testing.T, brain *fakeBrain) (*Daemon, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "v5d.sock")
	d, err := New(Config{SocketPath: path}, brain)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return d, path
}

func TestMockTapOverSocket(t *testing.T) {
	brain := &fakeBrain{handler: ackEverything}
	_, path := startDaemon(t, brain)

	client, err := api.DialPath(path)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	resp, err := client.Do(&api.Request{
		Command: api.CmdMockTap,
		MockTap: &api.MockTapRequest{X: 120, Y: 80},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Type != api.RespAck || !resp.Successful {
		t.Fatalf("response %+v, want successful ack", resp)
	}

	sent := brain.commands()
	if len(sent) != 2 {
		t.Fatalf("device saw %d commands, want press and release", len(sent))
	}
	for i, pressed := range []byte{1, 0} {
		if sent[i].ExtCommand != protocol.ExtScreenTouch {
			t.Fatalf("command %d is ext 0x%02x, want screen touch", i, sent[i].ExtCommand)
		}
		if got := sent[i].Payload[4]; got != pressed {
			t.Fatalf("command %d pressed byte = %d, want %d", i, got, pressed)
		}
	}
}

func TestDeviceNackReportedToClient(t *testing.T) {
	brain := &fakeBrain{handler: func(cmd *protocol.Cdc2Command) *protocol.Cdc2Reply {
		return &protocol.Cdc2Reply{
			Command:    cmd.Command,
			ExtCommand: cmd.ExtCommand,
			Ack:        protocol.NackGeneral,
		}
	}}
	_, path := startDaemon(t, brain)

	client, err := api.DialPath(path)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	resp, err := client.Do(&api.Request{
		Command: api.CmdMockTap,
		MockTap: &api.MockTapRequest{X: 1, Y: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Successful {
		t.Fatal("device NACK acknowledged as success")
	}
	if resp.Error == "" {
		t.Fatal("failed ack carries no error message")
	}
}

func TestUnknownCommandRejected(t *testing.T) {
	brain := &fakeBrain{handler: ackEverything}
	_, path := startDaemon(t, brain)

	client, err := api.DialPath(path)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	resp, err := client.Do(&api.Request{Command: "frobnicate"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Successful {
		t.Fatal("unknown command was acknowledged as success")
	}
}

func TestMalformedJSONClosesSessionOnly(t *testing.T) {
	brain := &fakeBrain{handler: ackEverything}
	_, path := startDaemon(t, brain)

	bad, err := net.Dial("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	defer bad.Close()
	if _, err := bad.Write([]byte("{not json\n")); err != nil {
		t.Fatal(err)
	}
	if _, err := bad.Read(make([]byte, 1)); err == nil {
		t.Fatal("session stayed open after malformed command")
	}

	// The daemon itself keeps serving new sessions.
	client, err := api.DialPath(path)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	resp, err := client.Do(&api.Request{
		Command: api.CmdMockTap,
		MockTap: &api.MockTapRequest{X: 1, Y: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Successful {
		t.Fatalf("follow-up command failed: %s", resp.Error)
	}
}

func TestUploadStreamsProgress(t *testing.T) {
	brain := &fakeBrain{handler: ackEverything}
	_, path := startDaemon(t, brain)

	client, err := api.DialPath(path)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	err = client.Send(&api.Request{
		Command: api.CmdUploadProgram,
		Upload: &api.UploadRequest{
			Name:        "example",
			Slot:        1,
			AfterUpload: api.AfterRun,
			Data:        api.ProgramData{Hot: make([]byte, 4096)},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	var (
		hotSeen   bool
		last      = -1.0
		completes int
	)
	for {
		resp, err := client.ReadResponse()
		if err != nil {
			t.Fatal(err)
		}
		switch resp.Type {
		case api.RespProgress:
			if resp.Step == api.StepHot {
				hotSeen = true
				if resp.Percent < last {
					t.Fatalf("hot progress went backwards: %v after %v", resp.Percent, last)
				}
				last = resp.Percent
			}
		case api.RespComplete:
			completes++
			if resp.Error != "" {
				t.Fatalf("upload failed: %s", resp.Error)
			}
		default:
			t.Fatalf("unexpected frame type %q", resp.Type)
		}
		if completes > 0 {
			break
		}
	}
	if !hotSeen {
		t.Fatal("no hot-step progress frames observed")
	}
	if last < 99.5 {
		t.Fatalf("hot step ended at %v%%, want ~100", last)
	}
}

func TestConcurrentCommandsSerialized(t *testing.T) {
	brain := &fakeBrain{handler: func(cmd *protocol.Cdc2Command) *protocol.Cdc2Reply {
		// Stretch every exchange a little so overlapping sessions would
		// interleave if anything let them.
		time.Sleep(10 * time.Millisecond)
		return ackEverything(cmd)
	}}
	_, path := startDaemon(t, brain)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client, err := api.DialPath(path)
			if err != nil {
				t.Error(err)
				return
			}
			defer client.Close()
			resp, err := client.Do(&api.Request{
				Command: api.CmdMockTap,
				MockTap: &api.MockTapRequest{X: 10, Y: 10},
			})
			if err != nil {
				t.Error(err)
				return
			}
			if !resp.Successful {
				t.Errorf("tap failed: %s", resp.Error)
			}
		}()
	}
	wg.Wait()

	sent := brain.commands()
	if len(sent) != 4 {
		t.Fatalf("device saw %d commands, want 4", len(sent))
	}
	// Each tap is press-then-release and must not interleave with the other.
	for i := 0; i < 4; i += 2 {
		if sent[i].Payload[4] != 1 || sent[i+1].Payload[4] != 0 {
			t.Fatalf("taps interleaved: pressed bytes %d %d %d %d",
				sent[0].Payload[4], sent[1].Payload[4], sent[2].Payload[4], sent[3].Payload[4])
		}
	}
}

func TestShutdownCommandStopsDaemonAndRemovesSocket(t *testing.T) {
	brain := &fakeBrain{handler: ackEverything}
	path := filepath.Join(t.TempDir(), "v5d.sock")
	d, err := New(Config{SocketPath: path}, brain)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	client, err := api.DialPath(path)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	resp, err := client.Do(&api.Request{Command: api.CmdShutdown})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Successful {
		t.Fatal("shutdown not acknowledged")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop after shutdown command")
	}
	if _, err := net.Dial("unix", path); err == nil {
		t.Fatal("socket still accepting after shutdown")
	}
}

func TestSecondDaemonRefusesLiveSocket(t *testing.T) {
	brain := &fakeBrain{handler: ackEverything}
	_, path := startDaemon(t, brain)

	if _, err := New(Config{SocketPath: path}, brain); !errors.Is(err, ErrDaemonRunning) {
		t.Fatalf("second daemon on live socket: %v, want ErrDaemonRunning", err)
	}
}

func TestBridgeAnswersConnectionProbe(t *testing.T) {
	brain := &fakeBrain{handler: ackEverything, kind: transport.KindSerial}
	_, path := startDaemon(t, brain)

	conn, err := transport.DialDaemon(path)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	reply, err := transport.Handshake(testContext(t), conn, time.Second, 1,
		protocol.NewConnectionTypeRequest(), protocol.SigConnectionType)
	if err != nil {
		t.Fatal(err)
	}
	got, err := protocol.DecodeConnectedType(reply.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if got != protocol.ConnectedSerial {
		t.Fatalf("connected type %v, want serial", got)
	}
	// The probe is daemon business; the brain never sees it.
	if n := len(brain.commands()); n != 0 {
		t.Fatalf("brain saw %d commands, want 0", n)
	}
}

// startDaemonWithSetup is startDaemon with a stubbed transport setup for
// connect-request renegotiation.
func startDaemonWithSetup(t *testing.T, brain *fakeBrain, setup func(context.Context, transport.Mode) (transport.Connection, error)) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "v5d.sock")
	d, err := New(Config{SocketPath: path}, brain)
	if err != nil {
		t.Fatal(err)
	}
	d.setup = setup
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return path
}

func TestBridgeConnectRequestHonorsTypeFlags(t *testing.T) {
	brain := &fakeBrain{handler: ackEverything, kind: transport.KindSerial}
	modes := make(chan transport.Mode, 1)
	path := startDaemonWithSetup(t, brain, func(ctx context.Context, mode transport.Mode) (transport.Connection, error) {
		modes <- mode
		return &fakeBrain{handler: ackEverything, kind: transport.KindBluetooth}, nil
	})

	conn, err := transport.DialDaemon(path)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// The current serial link does not satisfy a bluetooth-only request:
	// the daemon must renegotiate in bluetooth mode, not hand serial back.
	reply, err := transport.Handshake(testContext(t), conn, time.Second, 1,
		protocol.NewConnectRequest(protocol.ConnectionBluetooth), protocol.SigConnectRequest)
	if err != nil {
		t.Fatal(err)
	}
	got, err := protocol.DecodeConnectedType(reply.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if got != protocol.ConnectedBluetooth {
		t.Fatalf("negotiated %v, want bluetooth", got)
	}
	if mode := <-modes; mode != transport.ModeBluetooth {
		t.Fatalf("renegotiated in mode %v, want bluetooth", mode)
	}
}

func TestBridgeConnectRequestRefusesDisallowedResult(t *testing.T) {
	brain := &fakeBrain{handler: ackEverything, kind: transport.KindBluetooth}
	path := startDaemonWithSetup(t, brain, func(ctx context.Context, mode transport.Mode) (transport.Connection, error) {
		// Setup misbehaves and produces a link type the request excluded.
		return &fakeBrain{handler: ackEverything, kind: transport.KindBluetooth}, nil
	})

	conn, err := transport.DialDaemon(path)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	reply, err := transport.Handshake(testContext(t), conn, time.Second, 1,
		protocol.NewConnectRequest(protocol.ConnectionSerial), protocol.SigConnectRequest)
	if err != nil {
		t.Fatal(err)
	}
	got, err := protocol.DecodeConnectedType(reply.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if got != protocol.NoConnection {
		t.Fatalf("negotiated %v, want no connection", got)
	}
}

func TestBridgeForwardsDeviceCommands(t *testing.T) {
	brain := &fakeBrain{handler: ackEverything}
	_, path := startDaemon(t, brain)

	conn, err := transport.DialDaemon(path)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := commands.MockTap(testContext(t), conn, 50, 60); err != nil {
		t.Fatal(err)
	}
	sent := brain.commands()
	if len(sent) != 2 || sent[0].ExtCommand != protocol.ExtScreenTouch {
		t.Fatalf("brain saw %v, want forwarded touch pair", sent)
	}
}

func TestBridgeLockArbitration(t *testing.T) {
	brain := &fakeBrain{handler: ackEverything}
	_, path := startDaemon(t, brain)

	first, err := transport.DialDaemon(path)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	second, err := transport.DialDaemon(path)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	if err := commands.LockConnection(testContext(t), first, 0); err != nil {
		t.Fatal(err)
	}
	if err := commands.LockConnection(testContext(t), second, 50); !errors.Is(err, commands.ErrLockTimeout) {
		t.Fatalf("contested lock: %v, want ErrLockTimeout", err)
	}
	if err := commands.ReleaseConnection(testContext(t), first); err != nil {
		t.Fatal(err)
	}
	if err := commands.LockConnection(testContext(t), second, 0); err != nil {
		t.Fatalf("lock after release: %v", err)
	}
}

func TestLeaseBlocksOtherSessionsCommands(t *testing.T) {
	brain := &fakeBrain{handler: ackEverything}
	_, path := startDaemon(t, brain)

	bridge, err := transport.DialDaemon(path)
	if err != nil {
		t.Fatal(err)
	}
	defer bridge.Close()
	if err := commands.LockConnection(testContext(t), bridge, 0); err != nil {
		t.Fatal(err)
	}

	client, err := api.DialPath(path)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	if err := client.Send(&api.Request{
		Command: api.CmdMockTap,
		MockTap: &api.MockTapRequest{X: 1, Y: 1},
	}); err != nil {
		t.Fatal(err)
	}

	// The tap must not reach the brain while the bridge session holds the
	// lease.
	time.Sleep(100 * time.Millisecond)
	if n := len(brain.commands()); n != 0 {
		t.Fatalf("brain saw %d commands while leased", n)
	}

	if err := commands.ReleaseConnection(testContext(t), bridge); err != nil {
		t.Fatal(err)
	}
	resp, err := client.ReadResponse()
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Successful {
		t.Fatalf("tap after release failed: %s", resp.Error)
	}
}

func TestBrainSwapWaitsForInFlightCommand(t *testing.T) {
	brain := NewBrain(&fakeBrain{handler: ackEverything})
	_, release := brain.Acquire()

	swapped := make(chan struct{})
	go func() {
		brain.Swap(context.Background(), func(context.Context) (transport.Connection, error) {
			return &fakeBrain{handler: ackEverything, kind: transport.KindBluetooth}, nil
		})
		close(swapped)
	}()

	select {
	case <-swapped:
		t.Fatal("swap completed while the device lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-swapped:
	case <-time.After(time.Second):
		t.Fatal("swap never completed after release")
	}
	if brain.Kind() != transport.KindBluetooth {
		t.Fatal("swap did not install the new connection")
	}
}
