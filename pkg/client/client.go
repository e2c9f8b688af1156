// Package client talks to a running taskmaster daemon over its control
// socket, and optionally over the HTTP API.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/loykin/taskmaster/internal/control"
)

// ErrQuit is returned by Exec for the exit and quit words.
var ErrQuit = errors.New("quit")

// Client sends control requests. Every request uses its own connection.
type Client struct {
	socket  string
	timeout time.Duration
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	Socket  string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		Socket:  control.DefaultSocketPath,
		Timeout: 10 * time.Second,
	}
}

func New(config Config) *Client {
	if config.Socket == "" {
		config.Socket = control.DefaultSocketPath
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{socket: config.Socket, timeout: config.Timeout, logger: config.Logger}
}

// IsReachable checks if the daemon is running and answers on its socket.
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.Do(ctx, control.CmdStatus, "")
	if err != nil {
		c.logger.Debug("daemon unreachable", "socket", c.socket, "error", err)
		return false
	}
	return true
}

// Do sends one request and waits for its response.
func (c *Client) Do(ctx context.Context, cmd control.Command, name string) (control.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socket)
	if err != nil {
		return control.Response{}, &control.OpError{Op: "dial", Path: c.socket, Err: err}
	}
	defer func() { _ = conn.Close() }()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	c.logger.Debug("sending request", "command", cmd.String(), "name", name)
	if err := control.WriteRequest(conn, control.Request{Command: cmd, Name: name}); err != nil {
		return control.Response{}, &control.OpError{Op: "write", Path: c.socket, Err: err}
	}
	resp, err := control.ReadResponse(conn)
	if err != nil {
		return control.Response{}, &control.OpError{Op: "read", Path: c.socket, Err: err}
	}
	return resp, nil
}

func (c *Client) Status(ctx context.Context) (control.Response, error) {
	return c.Do(ctx, control.CmdStatus, "")
}

func (c *Client) Start(ctx context.Context, name string) (control.Response, error) {
	return c.Do(ctx, control.CmdStart, name)
}

func (c *Client) Stop(ctx context.Context, name string) (control.Response, error) {
	return c.Do(ctx, control.CmdStop, name)
}

func (c *Client) Restart(ctx context.Context, name string) (control.Response, error) {
	return c.Do(ctx, control.CmdRestart, name)
}

func (c *Client) Reload(ctx context.Context) (control.Response, error) {
	return c.Do(ctx, control.CmdReload, "")
}

func (c *Client) Shutdown(ctx context.Context) (control.Response, error) {
	return c.Do(ctx, control.CmdShutdown, "")
}

// ParseLine maps a line of whitespace separated words to a request: the
// first word is the command and the second, when the command takes one, the
// program name. exit and quit yield ErrQuit.
func ParseLine(line string) (control.Request, error) {
	words := strings.Fields(line)
	if len(words) == 0 {
		return control.Request{}, fmt.Errorf("empty command")
	}
	switch strings.ToLower(words[0]) {
	case "exit", "quit":
		return control.Request{}, ErrQuit
	}
	cmd, err := control.ParseCommand(words[0])
	if err != nil {
		return control.Request{}, err
	}
	req := control.Request{Command: cmd}
	if cmd.NeedsName() {
		if len(words) < 2 {
			return control.Request{}, fmt.Errorf("%s requires a program name", cmd)
		}
		req.Name = words[1]
	}
	return req, nil
}

// Exec parses line and sends it. exit and quit return ErrQuit without
// contacting the daemon.
func (c *Client) Exec(ctx context.Context, line string) (control.Response, error) {
	req, err := ParseLine(line)
	if err != nil {
		return control.Response{}, err
	}
	return c.Do(ctx, req.Command, req.Name)
}
