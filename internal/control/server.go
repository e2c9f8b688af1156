package control

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// Handler answers one request. Implementations hand the request over to the
// goroutine that owns the process table and wait for its answer.
type Handler interface {
	Handle(ctx context.Context, req Request) Response
}

type HandlerFunc func(ctx context.Context, req Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response { return f(ctx, req) }

// DefaultIOTimeout bounds reading a request and writing its response.
const DefaultIOTimeout = 5 * time.Second

// Server accepts control connections: one request, one response, close.
// It never touches daemon state itself.
type Server struct {
	Path      string
	Handler   Handler
	Logger    *slog.Logger
	IOTimeout time.Duration

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

func NewServer(path string, h Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Path: path, Handler: h, Logger: logger, IOTimeout: DefaultIOTimeout}
}

// Listen binds the socket. A stale socket file is replaced; a socket that
// still answers belongs to a running daemon and is left alone.
func (s *Server) Listen() error {
	if conn, err := net.DialTimeout("unix", s.Path, 200*time.Millisecond); err == nil {
		_ = conn.Close()
		return &OpError{Op: "listen", Path: s.Path, Err: ErrDaemonRunning}
	}
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &OpError{Op: "remove", Path: s.Path, Err: err}
	}
	ln, err := net.Listen("unix", s.Path)
	if err != nil {
		return &OpError{Op: "listen", Path: s.Path, Err: err}
	}
	if err := os.Chmod(s.Path, 0o660); err != nil {
		_ = ln.Close()
		return &OpError{Op: "chmod", Path: s.Path, Err: err}
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Serve accepts until ctx is done or Close is called. Listen must have succeeded.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return &OpError{Op: "serve", Path: s.Path, Err: net.ErrClosed}
	}
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			s.Logger.Warn("control accept failed", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	if s.IOTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.IOTimeout))
	}
	req, err := ReadRequest(conn)
	if err != nil {
		// partial or malformed request: drop the connection, no effect on the table
		if !errors.Is(err, io.EOF) {
			s.Logger.Debug("control request dropped", "error", err)
		}
		return
	}
	resp := s.Handler.Handle(ctx, req)
	// The handler may have waited on the loop; give the write its own window.
	if s.IOTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.IOTimeout))
	}
	if err := WriteResponse(conn, resp); err != nil {
		s.Logger.Debug("control response not delivered", "command", req.Command.String(), "error", err)
	}
}

// Close stops accepting and removes the socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := ln.Close()
	if rmErr := os.Remove(s.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
		err = rmErr
	}
	return err
}
