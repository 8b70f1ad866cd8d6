package ipc

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := Request{ID: "r1", Method: "workflow.list", Params: json.RawMessage(`{"a":1}`)}
	require.NoError(t, WriteFrame(&buf, &req))

	var decoded Request
	require.NoError(t, ReadFrame(&buf, &decoded))
	assert.Equal(t, req.ID, decoded.ID)
	assert.Equal(t, req.Method, decoded.Method)
	assert.JSONEq(t, string(req.Params), string(decoded.Params))
}

func TestFrameLengthPrefixIsLittleEndian(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, map[string]string{"k": "v"}))

	header := buf.Bytes()[:4]
	size := binary.LittleEndian.Uint32(header)
	assert.Equal(t, int(size), buf.Len()-4)
}

func TestReadFrameRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], MaxMessageSize+1)
	buf.Write(header[:])

	var out map[string]any
	err := ReadFrame(&buf, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestResponseErrorShape(t *testing.T) {
	var buf bytes.Buffer
	resp := Response{ID: "r1", Err: &Error{Code: 404, Message: "workflow w1 not found"}}
	require.NoError(t, WriteFrame(&buf, &resp))

	var decoded Response
	require.NoError(t, ReadFrame(&buf, &decoded))
	require.NotNil(t, decoded.Err)
	assert.Equal(t, 404, decoded.Err.Code)
	assert.Contains(t, decoded.Err.Message, "not found")
}
