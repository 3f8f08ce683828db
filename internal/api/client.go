package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// socketName is the daemon socket's file name under the runtime directory.
const socketName = "v5d.sock"

// SocketPath returns the fixed, process-discoverable path of the daemon's
// unix socket: $XDG_RUNTIME_DIR/v5d.sock, or a /tmp fallback when the
// runtime directory is unset.
func SocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, socketName)
	}
	return filepath.Join(os.TempDir(), socketName)
}

// Client is one IPC session with the daemon.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to the daemon at the default socket path.
func Dial() (*Client, error) {
	return DialPath(SocketPath())
}

// DialPath connects to a daemon listening at path.
func DialPath(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("connect to v5d at %s (is it running?): %w", path, err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

// Send writes one command frame.
func (c *Client) Send(req *Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("serialize command: %w", err)
	}
	data = append(data, '\n')
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("send command: %w", err)
	}
	return nil
}

// ReadResponse reads the next response frame.
func (c *Client) ReadResponse() (*Response, error) {
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("deserialize response: %w", err)
	}
	return &resp, nil
}

// Do sends a simple command and returns its single acknowledgment.
func (c *Client) Do(req *Request) (*Response, error) {
	if err := c.Send(req); err != nil {
		return nil, err
	}
	return c.ReadResponse()
}

func (c *Client) Close() error {
	return c.conn.Close()
}
