package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

// Client calls a running Server over its Unix domain socket.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient builds a Client; timeout defaults to 10s when zero.
func NewClient(socketPath string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{socketPath: socketPath, timeout: timeout}
}

// Call sends method with params (marshaled to JSON; may be nil) and decodes
// the response's Result into out (may be nil to discard it).
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return fmt.Errorf("connect to %q (is the daemon running?): %w", c.socketPath, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	var raw json.RawMessage
	if params != nil {
		raw, err = json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
	}

	req := Request{Method: method, Params: raw, ID: fmt.Sprintf("req-%d", time.Now().UnixNano())}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		return errors.New("connection closed without response")
	}
	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !resp.OK {
		return errors.New(resp.Error)
	}
	if out != nil && len(resp.Result) > 0 {
		return json.Unmarshal(resp.Result, out)
	}
	return nil
}

// StreamLogs opens a dedicated connection for the "logs" method and calls
// onLine for every log line until ctx is canceled or the server closes the
// connection. Unlike Call, this blocks for the lifetime of the stream.
func (c *Client) StreamLogs(ctx context.Context, params LogsParams, onLine func(string)) error {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return fmt.Errorf("connect to %q (is the daemon running?): %w", c.socketPath, err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	req := Request{Method: "logs", Params: raw, ID: fmt.Sprintf("req-%d", time.Now().UnixNano())}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return fmt.Errorf("subscribe: %w", scanner.Err())
	}
	var ack Response
	if err := json.Unmarshal(scanner.Bytes(), &ack); err != nil {
		return fmt.Errorf("decode subscribe ack: %w", err)
	}
	if !ack.OK {
		return errors.New(ack.Error)
	}
	for scanner.Scan() {
		onLine(scanner.Text())
	}
	return nil
}
