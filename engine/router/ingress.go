package router

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"golang.org/x/net/websocket"

	"hyperpipe/engine/telemetry/events"
)

// ListenIngress binds the router's single producer-facing port using
// protocol's framing and starts accepting producer connections in the
// background. Exactly one producer session is live at a time per
// SPEC_FULL.md's topology invariant (one producer per stream); a session
// that ends from a frame error or disconnect is logged and the listener
// keeps running, awaiting the next connection, rather than tearing the
// router down.
func (r *Router) ListenIngress(protocol Protocol, port int) error {
	switch protocol {
	case TCP, LSLLike:
		return r.listenStreamIngress(port)
	case UDP:
		return r.listenUDPIngress(port)
	case WebSocket:
		return r.listenWebSocketIngress(port)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedProtocol, protocol)
	}
}

func (r *Router) listenStreamIngress(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen ingress tcp :%d: %w", port, err)
	}
	r.wg.Go(func() {
		<-r.ingressCtx.Done()
		_ = ln.Close()
	})
	r.wg.Go(func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			r.serveStreamIngress(conn)
		}
	})
	return nil
}

func (r *Router) serveStreamIngress(conn net.Conn) {
	defer conn.Close()
	for {
		select {
		case <-r.ingressCtx.Done():
			return
		default:
		}
		p, err := Decode(conn)
		if err != nil {
			r.logFrameDecodeError(err)
			return
		}
		r.Publish(p)
	}
}

func (r *Router) listenUDPIngress(port int) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("resolve ingress udp :%d: %w", port, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen ingress udp :%d: %w", port, err)
	}
	r.wg.Go(func() {
		<-r.ingressCtx.Done()
		_ = conn.Close()
	})
	r.wg.Go(func() {
		buf := make([]byte, 65536)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			p, err := Decode(bytes.NewReader(buf[:n]))
			if err != nil {
				r.logFrameDecodeError(err)
				continue
			}
			r.Publish(p)
		}
	})
	return nil
}

func (r *Router) listenWebSocketIngress(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen ingress websocket :%d: %w", port, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/stream", websocket.Handler(func(ws *websocket.Conn) {
		r.serveWebSocketIngress(ws)
	}))
	srv := &http.Server{Handler: mux}
	r.wg.Go(func() {
		<-r.ingressCtx.Done()
		_ = srv.Close()
	})
	r.wg.Go(func() {
		_ = srv.Serve(ln)
	})
	return nil
}

// serveWebSocketIngress treats each inbound message as one packet's raw
// payload, mirroring websocketEgress.WritePacket on the way out: no
// length-delimited header, timestamp/sequence assigned by Publish.
// net/http serves each accepted connection on its own goroutine, unlike the
// TCP/LSL-like listener's serialized Accept loop, so the single-producer
// invariant has to be enforced explicitly here: a second concurrent dial is
// refused (connection closed) rather than allowed to publish alongside the
// first.
func (r *Router) serveWebSocketIngress(ws *websocket.Conn) {
	if !r.wsIngressBusy.CompareAndSwap(false, true) {
		ws.Close()
		return
	}
	defer r.wsIngressBusy.Store(false)
	defer ws.Close()
	for {
		select {
		case <-r.ingressCtx.Done():
			return
		default:
		}
		var msg []byte
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			return
		}
		r.Publish(Packet{Payload: msg})
	}
}

func (r *Router) logFrameDecodeError(err error) {
	if r.log != nil {
		r.log.WarnCtx(r.ingressCtx, "ingress frame decode error, closing session", "stream", r.stream, "err", err)
	}
	if r.bus != nil {
		r.bus.Publish(events.Event{Category: "router", Type: "frame_decode_error", Stream: r.stream, Err: err})
	}
}
