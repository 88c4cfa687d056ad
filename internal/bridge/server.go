package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ppiankov/invigil/internal/protocol"
)

// DefaultSocketPath is where the daemon binds its control socket.
const DefaultSocketPath = "/run/invigil/invigil.sock"

// writeTimeout bounds how long a response write may stall on a peer
// that stopped reading.
const writeTimeout = 10 * time.Second

// Server owns the control socket. Connections are served concurrently;
// requests on one connection are answered in order. The caller identity
// for every request on a connection is the peer PID captured at accept
// time via SO_PEERCRED.
type Server struct {
	bridge *Bridge
	path   string

	listener net.Listener
	conns    sync.WaitGroup
}

// NewServer wires a Server to a dispatcher. An empty path selects
// DefaultSocketPath.
func NewServer(path string, b *Bridge) *Server {
	if path == "" {
		path = DefaultSocketPath
	}
	return &Server{bridge: b, path: path}
}

// Path returns the socket path the server binds.
func (s *Server) Path() string {
	return s.path
}

// Serve binds the control socket and accepts connections until ctx is
// cancelled, then waits for in-flight connections to drain. A bind
// failure is returned immediately; the daemon treats it as fatal.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("bridge: socket dir: %w", err)
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("bridge: stale socket %s: %w", s.path, err)
	}

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("bridge: bind %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("bridge: socket mode: %w", err)
	}
	s.listener = listener
	defer func() {
		listener.Close()
		os.Remove(s.path)
	}()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	fmt.Fprintf(os.Stderr, "bridge: listening on %s\n", s.path)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			fmt.Fprintf(os.Stderr, "bridge: accept: %v\n", err)
			continue
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConn(conn)
		}()
	}

	s.conns.Wait()
	return nil
}

// handleConn answers requests on one connection until the peer closes
// it. The connection model mirrors an open device handle: one peer, many
// commands, identity fixed for the connection's lifetime.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	callerPid, err := peerPid(conn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bridge: peer credentials: %v\n", err)
		return
	}

	for {
		op, payload, err := protocol.ReadRequest(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				fmt.Fprintf(os.Stderr, "bridge: read from pid %d: %v\n", callerPid, err)
			}
			return
		}

		status, out := s.bridge.Dispatch(op, payload, callerPid)

		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := protocol.WriteResponse(conn, status, out); err != nil {
			fmt.Fprintf(os.Stderr, "bridge: write to pid %d: %v\n", callerPid, err)
			return
		}
	}
}

// peerPid resolves the connecting process through SO_PEERCRED.
func peerPid(conn net.Conn) (uint32, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return 0, fmt.Errorf("bridge: %T is not a unix connection", conn)
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var (
		cred    *unix.Ucred
		credErr error
	)
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return 0, err
	}
	if credErr != nil {
		return 0, fmt.Errorf("bridge: SO_PEERCRED: %w", credErr)
	}
	return uint32(cred.Pid), nil
}
