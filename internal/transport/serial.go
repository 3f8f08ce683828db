package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// vexUsbVid is the USB vendor id shared by all VEX devices.
const vexUsbVid = "2888"

// SerialConnection talks to a brain over a USB serial port.
type SerialConnection struct {
	*streamConn
	port serial.Port
	path string
}

// ErrNoDevices means no V5 brain was found on any serial port.
var ErrNoDevices = errors.New("no V5 serial devices found")

// FindSerialPorts lists serial port paths that belong to VEX devices,
// filtered by USB vendor id.
func FindSerialPorts() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	var found []string
	for _, p := range ports {
		if p.IsUSB && strings.EqualFold(p.VID, vexUsbVid) {
			found = append(found, p.Name)
		}
	}
	return found, nil
}

// OpenSerial opens a packet connection on the given serial port.
func OpenSerial(path string) (*SerialConnection, error) {
	port, err := serial.Open(path, &serial.Mode{BaudRate: 115200})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	logrus.WithField("port", path).Info("opened serial connection")
	return &SerialConnection{
		streamConn: newStreamConn(KindSerial, port),
		port:       port,
		path:       path,
	}, nil
}

// ConnectSerial finds and opens the first available V5 serial device.
func ConnectSerial(ctx context.Context) (*SerialConnection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	paths, err := FindSerialPorts()
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, ErrNoDevices
	}
	var lastErr error
	for _, path := range paths {
		conn, err := OpenSerial(path)
		if err == nil {
			return conn, nil
		}
		logrus.WithError(err).WithField("port", path).Warn("could not open serial port")
		lastErr = err
	}
	return nil, lastErr
}

// Path returns the serial port path in use.
func (c *SerialConnection) Path() string { return c.path }

// Close stops the reader and releases the port.
func (c *SerialConnection) Close() error {
	return c.streamConn.Close()
}

// retrySerial keeps trying to establish a serial connection with a fixed
// delay between attempts until the context is cancelled.
func retrySerial(ctx context.Context, delay time.Duration) (*SerialConnection, error) {
	for {
		conn, err := ConnectSerial(ctx)
		if err == nil {
			return conn, nil
		}
		logrus.WithError(err).Warn("serial setup failed, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
