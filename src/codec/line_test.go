package codec

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/orchestra-mcp/wearlink/src/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeAppendsSingleNewline(t *testing.T) {
	data, err := Encode(types.NewHandshake("watch-1"))
	require.NoError(t, err)

	assert.Equal(t, `{"type":"handshake","deviceId":"watch-1"}`+"\n", string(data))
	assert.Equal(t, 1, bytes.Count(data, []byte("\n")))
}

func TestEncodeEscapesEmbeddedNewlines(t *testing.T) {
	data, err := Encode(types.NewHandshake("line\nbreak"))
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(data, []byte("\n")))
	assert.True(t, bytes.HasSuffix(data, []byte("\n")))
}

func TestEncodeTelemetry(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)

	hr, err := Encode(types.NewTelemetry("w", types.SignalHeartRate, types.Sample{Value: 72.9, Timestamp: ts}))
	require.NoError(t, err)
	assert.Equal(t, `{"type":"heartrate","deviceId":"w","heartRate":72,"timestamp":"2026-03-01T12:00:00.0000005Z"}`+"\n", string(hr))

	hrv, err := Encode(types.NewTelemetry("w", types.SignalHRV, types.Sample{Value: 41.25, Timestamp: ts}))
	require.NoError(t, err)
	assert.Contains(t, string(hrv), `"hrv":41.25`)
	assert.NotContains(t, string(hrv), "heartRate")
}

func TestParse(t *testing.T) {
	msg, err := Parse([]byte(`  {"type":"Handshake_Success"}  `))
	require.NoError(t, err)
	assert.Equal(t, types.TypeHandshakeSuccess, msg.Kind())

	msg, err = Parse([]byte(`{"type":"discovery","ip":"10.0.0.5","port":9000}`))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", msg.IP)
	assert.Equal(t, 9000, msg.Port)
}

func TestParseMalformed(t *testing.T) {
	for _, line := range []string{"", "not json", `{"type":`, `[1,2]`, `"start"`, `{"port":"x"}`} {
		_, err := Parse([]byte(line))
		assert.True(t, errors.Is(err, ErrMalformed), "line %q", line)
	}
}

func TestLineBufferSplitsMultipleMessages(t *testing.T) {
	var b LineBuffer
	lines := b.Feed([]byte("{\"type\":\"start\"}\n{\"type\":\"stop\"}\n"))
	require.Len(t, lines, 2)
	assert.Equal(t, `{"type":"start"}`, string(lines[0]))
	assert.Equal(t, `{"type":"stop"}`, string(lines[1]))
	assert.Zero(t, b.Pending())
}

func TestLineBufferCarriesPartialLine(t *testing.T) {
	var b LineBuffer

	assert.Empty(t, b.Feed([]byte(`{"type":"st`)))
	assert.Equal(t, len(`{"type":"st`), b.Pending())

	lines := b.Feed([]byte("art\"}\n{\"ty"))
	require.Len(t, lines, 1)
	msg, err := Parse(lines[0])
	require.NoError(t, err)
	assert.Equal(t, types.TypeStart, msg.Kind())

	lines = b.Feed([]byte("pe\":\"stop\"}\n"))
	require.Len(t, lines, 1)
	msg, err = Parse(lines[0])
	require.NoError(t, err)
	assert.Equal(t, types.TypeStop, msg.Kind())
}

func TestLineBufferByteAtATime(t *testing.T) {
	stream := "{\"type\":\"start\"}\r\n\n{\"type\":\"stop\"}\n"
	var b LineBuffer
	var got []string
	for i := 0; i < len(stream); i++ {
		for _, l := range b.Feed([]byte{stream[i]}) {
			got = append(got, string(l))
		}
	}
	assert.Equal(t, []string{`{"type":"start"}`, `{"type":"stop"}`}, got)
}

func TestLineBufferDoesNotAlias(t *testing.T) {
	var b LineBuffer
	lines := b.Feed([]byte("{\"type\":\"a\"}\n{\"type\""))
	require.Len(t, lines, 1)
	b.Feed([]byte(":\"b\"}\n"))
	assert.Equal(t, `{"type":"a"}`, string(lines[0]))
}

func TestLineBufferOverflow(t *testing.T) {
	var b LineBuffer
	b.Feed([]byte(strings.Repeat("x", MaxLineLength+1)))
	assert.Equal(t, 1, b.Overflowed())
	assert.Zero(t, b.Pending())

	lines := b.Feed([]byte("\n{\"type\":\"start\"}\n"))
	require.Len(t, lines, 1)
	assert.Equal(t, `{"type":"start"}`, string(lines[0]))

	b.Reset()
	assert.Zero(t, b.Overflowed())
}

func TestLineBufferDiscardsOversizedTail(t *testing.T) {
	var b LineBuffer
	b.Feed([]byte(strings.Repeat("x", MaxLineLength+1)))
	require.Equal(t, 1, b.Overflowed())

	// The rest of the oversized line, split over chunks, never surfaces.
	assert.Empty(t, b.Feed([]byte("yyyy")))
	assert.Zero(t, b.Pending())
	lines := b.Feed([]byte("zz\"}\n{\"type\":\"stop\"}\n"))
	require.Len(t, lines, 1)
	assert.Equal(t, `{"type":"stop"}`, string(lines[0]))
	assert.Equal(t, 1, b.Overflowed())
}

func TestLineBufferResetEndsDiscard(t *testing.T) {
	var b LineBuffer
	b.Feed([]byte(strings.Repeat("x", MaxLineLength+1)))
	b.Reset()

	lines := b.Feed([]byte("{\"type\":\"start\"}\n"))
	require.Len(t, lines, 1)
}
