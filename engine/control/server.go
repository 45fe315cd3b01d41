package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	"hyperpipe/engine"
	"hyperpipe/engine/telemetry/logging"
)

// Server is a JSON-line control-plane server over a Unix domain socket,
// grounded on the same accept-loop-per-connection shape as every other
// daemon-plus-CLI pair in the corpus.
type Server struct {
	socketPath string
	eng        *engine.Engine
	log        logging.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	stopped  bool
}

// NewServer builds a Server that dispatches control-plane calls to eng.
func NewServer(socketPath string, eng *engine.Engine, log logging.Logger) *Server {
	return &Server{socketPath: socketPath, eng: eng, log: log, conns: make(map[net.Conn]struct{})}
}

// Start listens on socketPath and serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	_ = os.RemoveAll(s.socketPath)
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on control socket %q: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod control socket: %w", err)
	}
	s.listener = ln
	if s.log != nil {
		s.log.InfoCtx(ctx, "control socket listening", "path", s.socketPath)
	}

	go s.acceptLoop(ctx)
	<-ctx.Done()
	return s.Close()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			continue
		}
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)
	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			_ = enc.Encode(Response{Error: fmt.Sprintf("bad request: %v", err)})
			continue
		}
		if req.Method == "logs" {
			// logs switches the connection to a raw line stream for the
			// rest of its lifetime instead of one JSON response per call.
			s.streamLogs(ctx, req, conn)
			return
		}
		resp := s.dispatch(ctx, req)
		_ = enc.Encode(resp)
	}
}

// Close stops accepting connections and removes the socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	for c := range s.conns {
		c.Close()
	}
	ln := s.listener
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	_ = os.RemoveAll(s.socketPath)
	return err
}
