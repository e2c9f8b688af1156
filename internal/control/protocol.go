// Package control implements the fixed-layout request/response protocol
// spoken over the daemon's unix socket.
package control

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// DefaultSocketPath is the well-known control socket.
const DefaultSocketPath = "/tmp/taskmaster.sock"

// Wire layout, little-endian:
//
//	request:  uint32 command | [64]byte name (NUL padded)   = 68 bytes
//	response: [8192]byte text (NUL padded) | uint8 success  = 8193 bytes
//
// The response struct has byte alignment, so there is no tail padding.
const (
	NameSize      = 64
	MaxNameLen    = NameSize - 1
	MessageSize   = 8192
	MaxMessageLen = MessageSize - 1

	RequestSize  = 4 + NameSize
	ResponseSize = MessageSize + 1

	offsetCommand = 0
	offsetName    = 4
	offsetSuccess = MessageSize
)

// Command identifies a control request.
type Command uint32

const (
	CmdStatus Command = iota
	CmdStart
	CmdStop
	CmdRestart
	CmdReload
	CmdShutdown
)

var commandNames = [...]string{"status", "start", "stop", "restart", "reload", "shutdown"}

func (c Command) String() string {
	if int(c) < len(commandNames) {
		return commandNames[c]
	}
	return fmt.Sprintf("command(%d)", uint32(c))
}

// Valid reports whether c is a known command.
func (c Command) Valid() bool { return int(c) < len(commandNames) }

// NeedsName reports whether the command takes a program name.
func (c Command) NeedsName() bool {
	return c == CmdStart || c == CmdStop || c == CmdRestart
}

// ParseCommand maps a client word to a Command.
func ParseCommand(word string) (Command, error) {
	w := strings.ToLower(strings.TrimSpace(word))
	for i, n := range commandNames {
		if n == w {
			return Command(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, word)
}

// Request is one client request. Name is ignored by commands without an argument.
type Request struct {
	Command Command
	Name    string
}

// Response carries a human-readable message and a success flag.
type Response struct {
	Message string
	Success bool
}

func OK(format string, args ...any) Response {
	return Response{Message: fmt.Sprintf(format, args...), Success: true}
}

func Fail(format string, args ...any) Response {
	return Response{Message: fmt.Sprintf(format, args...)}
}

// MarshalBinary encodes r, truncating Name to MaxNameLen bytes.
func (r Request) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RequestSize)
	binary.LittleEndian.PutUint32(buf[offsetCommand:], uint32(r.Command))
	copy(buf[offsetName:], Truncate(r.Name, MaxNameLen))
	return buf, nil
}

// UnmarshalBinary decodes exactly RequestSize bytes. The command value is
// not validated here so that unknown commands can be answered.
func (r *Request) UnmarshalBinary(data []byte) error {
	if len(data) != RequestSize {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrDecode, RequestSize, len(data))
	}
	r.Command = Command(binary.LittleEndian.Uint32(data[offsetCommand:]))
	r.Name = cstring(data[offsetName : offsetName+NameSize])
	return nil
}

// MarshalBinary encodes r, truncating Message to MaxMessageLen bytes.
func (r Response) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ResponseSize)
	copy(buf, Truncate(r.Message, MaxMessageLen))
	if r.Success {
		buf[offsetSuccess] = 1
	}
	return buf, nil
}

func (r *Response) UnmarshalBinary(data []byte) error {
	if len(data) != ResponseSize {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrDecode, ResponseSize, len(data))
	}
	r.Message = cstring(data[:MessageSize])
	r.Success = data[offsetSuccess] != 0
	return nil
}

// ReadRequest reads exactly one request. A short read is an error.
func ReadRequest(rd io.Reader) (Request, error) {
	var req Request
	buf := make([]byte, RequestSize)
	if _, err := io.ReadFull(rd, buf); err != nil {
		return req, err
	}
	return req, req.UnmarshalBinary(buf)
}

func WriteRequest(w io.Writer, req Request) error {
	b, _ := req.MarshalBinary()
	_, err := w.Write(b)
	return err
}

func ReadResponse(rd io.Reader) (Response, error) {
	var resp Response
	buf := make([]byte, ResponseSize)
	if _, err := io.ReadFull(rd, buf); err != nil {
		return resp, err
	}
	return resp, resp.UnmarshalBinary(buf)
}

func WriteResponse(w io.Writer, resp Response) error {
	b, _ := resp.MarshalBinary()
	_, err := w.Write(b)
	return err
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
