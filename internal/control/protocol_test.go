package control

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLayout(t *testing.T) {
	b, err := Request{Command: CmdStop, Name: "web"}.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, 68)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(b[0:4]))
	assert.Equal(t, []byte("web"), b[4:7])
	assert.Equal(t, make([]byte, 61), b[7:])
}

func TestResponseLayout(t *testing.T) {
	b, err := Response{Message: "ok", Success: true}.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, 8193)
	assert.Equal(t, byte('o'), b[0])
	assert.Equal(t, byte(0), b[2])
	assert.Equal(t, byte(1), b[8192])
}

func TestReadResponseFromPackedPeer(t *testing.T) {
	// char response[8192]; bool success; as written by a C peer
	raw := make([]byte, 8193)
	copy(raw, "Stopped web\n")
	raw[8192] = 1
	resp, err := ReadResponse(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "Stopped web\n", resp.Message)

	_, err = ReadResponse(bytes.NewReader(raw[:8192]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestNameAndMessageTruncated(t *testing.T) {
	long := strings.Repeat("n", 100)
	b, _ := Request{Command: CmdStart, Name: long}.MarshalBinary()
	var req Request
	require.NoError(t, req.UnmarshalBinary(b))
	assert.Len(t, req.Name, MaxNameLen)

	msg := strings.Repeat("m", MessageSize+10)
	b, _ = Response{Message: msg}.MarshalBinary()
	var resp Response
	require.NoError(t, resp.UnmarshalBinary(b))
	assert.Len(t, resp.Message, MaxMessageLen)
	assert.False(t, resp.Success)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "ab", Truncate("ab", 5))
	assert.Equal(t, "a", Truncate("aé", 2))
	assert.Equal(t, "aé", Truncate("aéb", 3))
}

func TestUnmarshalRejectsWrongSize(t *testing.T) {
	var req Request
	assert.ErrorIs(t, req.UnmarshalBinary(make([]byte, 10)), ErrDecode)
	var resp Response
	assert.ErrorIs(t, resp.UnmarshalBinary(make([]byte, 10)), ErrDecode)
}

func TestUnknownCommandDecodes(t *testing.T) {
	b := make([]byte, RequestSize)
	binary.LittleEndian.PutUint32(b, 42)
	req, err := ReadRequest(bytes.NewReader(b))
	require.NoError(t, err)
	assert.False(t, req.Command.Valid())
	assert.Equal(t, "command(42)", req.Command.String())
}

func TestReadRequestShort(t *testing.T) {
	_, err := ReadRequest(bytes.NewReader(make([]byte, RequestSize-1)))
	assert.Error(t, err)
}

func TestParseCommand(t *testing.T) {
	for i, w := range []string{"status", "START", "stop", "restart", "reload", " shutdown "} {
		c, err := ParseCommand(w)
		require.NoError(t, err)
		assert.Equal(t, Command(i), c)
	}
	_, err := ParseCommand("exit")
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.True(t, CmdRestart.NeedsName())
	assert.False(t, CmdReload.NeedsName())
}
