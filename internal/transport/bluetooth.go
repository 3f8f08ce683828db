package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

// GATT identifiers advertised by a V5 brain's radio.
var (
	v5ServiceUUID = mustUUID("08590f7e-db05-467e-8757-72f6faeb13d5")
	systemTxUUID  = mustUUID("08590f7e-db05-467e-8757-72f6faeb1306")
	systemRxUUID  = mustUUID("08590f7e-db05-467e-8757-72f6faeb1316")
	userTxUUID    = mustUUID("08590f7e-db05-467e-8757-72f6faeb1326")
	userRxUUID    = mustUUID("08590f7e-db05-467e-8757-72f6faeb1336")
	pairingUUID   = mustUUID("08590f7e-db05-467e-8757-72f6faeb13e5")
)

// pairingRequestMagic asks the brain to display its pairing PIN.
var pairingRequestMagic = []byte{0xFF, 0xFF, 0xFF, 0xFF}

func mustUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// ErrNoPeer means no advertising V5 brain was found during the scan window.
var ErrNoPeer = errors.New("no V5 bluetooth peer found")

// BluetoothConnection talks to a brain over BLE. System-channel packets are
// framed over the system RX/TX characteristics; the user channel has its own
// characteristic pair, so ReadUser/WriteUser bypass the packet layer.
type BluetoothConnection struct {
	*streamConn

	device  bluetooth.Device
	system  bluetooth.DeviceCharacteristic
	user    bluetooth.DeviceCharacteristic
	pairing bluetooth.DeviceCharacteristic

	userMu  sync.Mutex
	userBuf []byte
	userCh  chan struct{}
}

// bleStream adapts the system characteristic pair to the io.ReadWriteCloser
// shape streamConn expects: notifications feed a pipe, writes go out in
// MTU-sized chunks.
type bleStream struct {
	pr    *io.PipeReader
	pw    *io.PipeWriter
	tx    *bluetooth.DeviceCharacteristic
	close func() error
}

const bleWriteChunk = 244

func (s *bleStream) Read(p []byte) (int, error) { return s.pr.Read(p) }

func (s *bleStream) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > bleWriteChunk {
			chunk = chunk[:bleWriteChunk]
		}
		n, err := s.tx.WriteWithoutResponse(chunk)
		written += n
		if err != nil {
			return written, err
		}
		p = p[len(chunk):]
	}
	return written, nil
}

func (s *bleStream) Close() error {
	s.pw.Close()
	s.pr.Close()
	return s.close()
}

// ScanBluetooth scans for an advertising V5 brain for at most the given
// window and returns its address.
func ScanBluetooth(ctx context.Context, window time.Duration) (bluetooth.Address, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return bluetooth.Address{}, fmt.Errorf("enable bluetooth adapter: %w", err)
	}

	found := make(chan bluetooth.Address, 1)
	scanErr := make(chan error, 1)
	go func() {
		err := adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !result.HasServiceUUID(v5ServiceUUID) {
				return
			}
			logrus.WithFields(logrus.Fields{
				"name":    result.LocalName(),
				"address": result.Address.String(),
			}).Info("found V5 brain over bluetooth")
			select {
			case found <- result.Address:
			default:
			}
			a.StopScan()
		})
		if err != nil {
			scanErr <- err
		}
	}()

	select {
	case addr := <-found:
		return addr, nil
	case err := <-scanErr:
		return bluetooth.Address{}, fmt.Errorf("bluetooth scan: %w", err)
	case <-time.After(window):
		adapter.StopScan()
		return bluetooth.Address{}, ErrNoPeer
	case <-ctx.Done():
		adapter.StopScan()
		return bluetooth.Address{}, ctx.Err()
	}
}

// ConnectBluetooth scans for and connects to the first advertising brain.
func ConnectBluetooth(ctx context.Context, scanWindow time.Duration) (*BluetoothConnection, error) {
	addr, err := ScanBluetooth(ctx, scanWindow)
	if err != nil {
		return nil, err
	}

	adapter := bluetooth.DefaultAdapter
	device, err := adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr.String(), err)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{v5ServiceUUID})
	if err != nil || len(services) == 0 {
		device.Disconnect()
		return nil, fmt.Errorf("discover V5 service: %w", err)
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{
		systemTxUUID, systemRxUUID, userTxUUID, userRxUUID, pairingUUID,
	})
	if err != nil || len(chars) < 5 {
		device.Disconnect()
		return nil, fmt.Errorf("discover V5 characteristics: %w", err)
	}

	conn := &BluetoothConnection{
		device: device,
		userCh: make(chan struct{}, 1),
	}
	var userRx bluetooth.DeviceCharacteristic
	var systemRx bluetooth.DeviceCharacteristic
	for _, ch := range chars {
		switch ch.UUID() {
		case systemTxUUID:
			conn.system = ch
		case systemRxUUID:
			systemRx = ch
		case userTxUUID:
			conn.user = ch
		case userRxUUID:
			userRx = ch
		case pairingUUID:
			conn.pairing = ch
		}
	}

	pr, pw := io.Pipe()
	stream := &bleStream{pr: pr, pw: pw, tx: &conn.system, close: device.Disconnect}
	if err := systemRx.EnableNotifications(func(buf []byte) {
		b := make([]byte, len(buf))
		copy(b, buf)
		pw.Write(b)
	}); err != nil {
		device.Disconnect()
		return nil, fmt.Errorf("subscribe system channel: %w", err)
	}
	if err := userRx.EnableNotifications(func(buf []byte) {
		conn.userMu.Lock()
		conn.userBuf = append(conn.userBuf, buf...)
		conn.userMu.Unlock()
		select {
		case conn.userCh <- struct{}{}:
		default:
		}
	}); err != nil {
		device.Disconnect()
		return nil, fmt.Errorf("subscribe user channel: %w", err)
	}

	conn.streamConn = newStreamConn(KindBluetooth, stream)
	logrus.WithField("address", addr.String()).Info("opened bluetooth connection")
	return conn, nil
}

// ReadUser drains bytes delivered on the user RX characteristic.
func (c *BluetoothConnection) ReadUser(ctx context.Context, p []byte) (int, error) {
	for {
		c.userMu.Lock()
		if len(c.userBuf) > 0 {
			n := copy(p, c.userBuf)
			c.userBuf = c.userBuf[n:]
			c.userMu.Unlock()
			return n, nil
		}
		c.userMu.Unlock()
		select {
		case <-c.userCh:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// WriteUser writes to the user TX characteristic in MTU-sized chunks.
func (c *BluetoothConnection) WriteUser(ctx context.Context, p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		chunk := p
		if len(chunk) > bleWriteChunk {
			chunk = chunk[:bleWriteChunk]
		}
		n, err := c.user.WriteWithoutResponse(chunk)
		written += n
		if err != nil {
			return written, err
		}
		p = p[len(chunk):]
	}
	return written, nil
}

// RequestPairing makes the brain display its 4-digit PIN.
func (c *BluetoothConnection) RequestPairing(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.pairing.WriteWithoutResponse(pairingRequestMagic); err != nil {
		return fmt.Errorf("request pairing: %w", err)
	}
	return nil
}

// SubmitPin authenticates with the digits shown on the brain's screen.
func (c *BluetoothConnection) SubmitPin(ctx context.Context, pin [4]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.pairing.WriteWithoutResponse(pin[:]); err != nil {
		return fmt.Errorf("submit pin: %w", err)
	}
	return nil
}
