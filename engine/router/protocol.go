package router

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/net/websocket"
)

// Protocol names the wire transport a consumer connects over.
type Protocol string

const (
	TCP      Protocol = "tcp"
	UDP      Protocol = "udp"
	WebSocket Protocol = "websocket"
	// LSLLike names a Lab Streaming Layer-style outlet. It uses exactly the
	// TCP framing; no channel-count, sample-rate or other LSL metadata is
	// advertised.
	LSLLike Protocol = "lsl_like"
)

// egressWriter is the write half every protocol adapter implements; the
// consumer writer goroutine calls WritePacket in a loop and treats any
// error as the consumer going unreachable.
type egressWriter interface {
	WritePacket(p Packet) error
	Close() error
}

// dialEgress connects to a consumer's address using protocol, returning a
// writer the router's per-consumer goroutine can push frames through.
// timeout bounds the dial itself; a consumer that doesn't accept within
// timeout is reported unreachable rather than left to hang.
func dialEgress(protocol Protocol, address string, timeout time.Duration) (egressWriter, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	switch protocol {
	case TCP, LSLLike:
		conn, err := net.DialTimeout("tcp", address, timeout)
		if err != nil {
			return nil, fmt.Errorf("%w: dial tcp %s: %v", ErrConsumerUnreachable, address, err)
		}
		return &streamEgress{conn: conn}, nil
	case UDP:
		conn, err := net.DialTimeout("udp", address, timeout)
		if err != nil {
			return nil, fmt.Errorf("%w: dial udp %s: %v", ErrConsumerUnreachable, address, err)
		}
		return &streamEgress{conn: conn}, nil
	case WebSocket:
		origin := "http://localhost/"
		url := "ws://" + address + "/stream"
		wsCfg, err := websocket.NewConfig(url, origin)
		if err != nil {
			return nil, fmt.Errorf("%w: websocket config %s: %v", ErrConsumerUnreachable, address, err)
		}
		wsCfg.Dialer = &net.Dialer{Timeout: timeout}
		ws, err := websocket.DialConfig(wsCfg)
		if err != nil {
			return nil, fmt.Errorf("%w: dial websocket %s: %v", ErrConsumerUnreachable, address, err)
		}
		return &websocketEgress{ws: ws}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, protocol)
	}
}

// streamEgress backs TCP, UDP, and LSL-like consumers, all of which are
// plain byte streams carrying the same length-delimited frame.
type streamEgress struct{ conn net.Conn }

func (s *streamEgress) WritePacket(p Packet) error {
	if err := p.Encode(s.conn); err != nil {
		return fmt.Errorf("%w: %v", ErrConsumerUnreachable, err)
	}
	return nil
}

func (s *streamEgress) Close() error { return s.conn.Close() }

type websocketEgress struct{ ws *websocket.Conn }

// WritePacket writes the packet's raw payload as a single WebSocket
// message, with no length-delimited or sequence-number framing: the
// browser/JS consumers this transport targets read one message per frame
// and have no use for the TCP/UDP wire header.
func (w *websocketEgress) WritePacket(p Packet) error {
	if _, err := w.ws.Write(p.Payload); err != nil {
		return fmt.Errorf("%w: %v", ErrConsumerUnreachable, err)
	}
	return nil
}

func (w *websocketEgress) Close() error { return w.ws.Close() }
