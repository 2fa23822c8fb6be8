package netsigil

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2/hpack"
)

// Preface, then SETTINGS [(1,65536), (2,0), (4,6291456), (0x4a93,42)],
// WINDOW_UPDATE 15663105, PRIORITY (stream 3, exclusive, dep 0, wire weight
// 200), PING, and a frame of unknown type 22.
const h2FixtureHex = "505249202a20485454502f322e300d0a0d0a534d0d0a0d0a" +
	"0000180400000000000001000100000002000000000004006000004a930000002a" +
	"00000408000000000000ef0001" +
	"00000502000000000380000000c8" +
	"0000080600000000000000000000000000" +
	"000000160000000000"

const h2FixtureCanonical = `{"frames": [{"frame_type": "SETTINGS", ` +
	`"settings": [{"id": 1, "value": 65536}, {"id": 2, "value": 0}, ` +
	`{"id": 4, "value": 6291456}, {"id": "GREASE", "value": 42}], "stream_id": 0}, ` +
	`{"frame_type": "WINDOW_UPDATE", "stream_id": 0, "window_size_increment": 15663105}, ` +
	`{"frame_type": "PRIORITY", "priority": {"dep_stream_id": 0, "exclusive": true, "weight": 201}, "stream_id": 3}, ` +
	`{"frame_type": "PING", "stream_id": 0}, {"frame_type": 22, "stream_id": 0}]}`

const h2FixtureDigest = "5f499f97e95e6279d069a9e5fc9ed96a80494bc3"

func TestDecodeHTTP2Frames(t *testing.T) {
	sig, err := DecodeHTTP2Frames(mustHex(t, h2FixtureHex))
	require.NoError(t, err)
	require.Len(t, sig.Frames, 5)

	settings, ok := sig.Frames[0].(SettingsFrame)
	require.True(t, ok)
	assert.Equal(t, []Setting{
		{SettingHeaderTableSize, 65536},
		{SettingEnablePush, 0},
		{SettingInitialWindowSize, 6291456},
		{GreasePlaceholder, 42},
	}, settings.Settings)

	window, ok := sig.Frames[1].(WindowUpdateFrame)
	require.True(t, ok)
	assert.Equal(t, uint32(15663105), window.Increment)

	priority, ok := sig.Frames[2].(PriorityFrame)
	require.True(t, ok)
	assert.Equal(t, PriorityFrame{StreamID: 3, DepStreamID: 0, Weight: 201, Exclusive: true}, priority)

	assert.Equal(t, GenericFrame{Type: FramePing, StreamID: 0}, sig.Frames[3])
	assert.Equal(t, GenericFrame{Type: FrameType(22), StreamID: 0}, sig.Frames[4])

	assert.Equal(t, h2FixtureCanonical, sig.Canonicalize())
	assert.Equal(t, h2FixtureDigest, sig.Hash())
}

func TestDecodeHTTP2FramesWithoutPreface(t *testing.T) {
	raw := mustHex(t, h2FixtureHex)
	sig, err := DecodeHTTP2Frames(raw[24:])
	require.NoError(t, err)
	assert.Equal(t, h2FixtureDigest, sig.Hash())
}

// buildHeadersFrame encodes a HEADERS frame whose block carries the given
// fields, in order.
func buildHeadersFrame(t *testing.T, streamID uint32, fields []hpack.HeaderField) []byte {
	t.Helper()

	var block bytes.Buffer
	encoder := hpack.NewEncoder(&block)
	for _, f := range fields {
		require.NoError(t, encoder.WriteField(f))
	}

	frame := make([]byte, 9, 9+block.Len())
	frame[0] = byte(block.Len() >> 16)
	frame[1] = byte(block.Len() >> 8)
	frame[2] = byte(block.Len())
	frame[3] = byte(FrameHeaders)
	frame[4] = 0x4 // END_HEADERS
	binary.BigEndian.PutUint32(frame[5:9], streamID)
	return append(frame, block.Bytes()...)
}

func TestHeadersPseudoHeaderOrder(t *testing.T) {
	raw := buildHeadersFrame(t, 1, []hpack.HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: "user-agent", Value: "test-client/1.0"},
		{Name: ":authority", Value: "example.com"},
		{Name: "accept", Value: "*/*"},
		{Name: ":path", Value: "/"},
	})

	sig, err := DecodeHTTP2Frames(raw)
	require.NoError(t, err)
	require.Len(t, sig.Frames, 1)

	headers, ok := sig.Frames[0].(HeadersFrame)
	require.True(t, ok)
	// Wire order preserved, regular headers dropped.
	assert.Equal(t, []string{":method", ":scheme", ":authority", ":path"}, headers.PseudoHeaders)

	assert.Equal(t, `{"frames": [{"frame_type": "HEADERS", `+
		`"pseudo_headers": [":method", ":scheme", ":authority", ":path"], "stream_id": 1}]}`,
		sig.Canonicalize())
	assert.Equal(t, "695ab64dc4a2294a99b699d1f0cac17b82b570d2", sig.Hash())
}

func TestHeadersFrameWithoutPseudoHeaders(t *testing.T) {
	raw := buildHeadersFrame(t, 3, []hpack.HeaderField{
		{Name: "user-agent", Value: "test-client/1.0"},
	})

	sig, err := DecodeHTTP2Frames(raw)
	require.NoError(t, err)

	headers, ok := sig.Frames[0].(HeadersFrame)
	require.True(t, ok)
	assert.Equal(t, []string{}, headers.PseudoHeaders, "a HEADERS frame with no pseudo-headers still appears, with an empty list")
}

func TestStructuredFramesMatchRawDecode(t *testing.T) {
	// A collaborator handing over pre-structured frame records must produce
	// the same signature as decoding the equivalent raw bytes.
	decoded, err := DecodeHTTP2Frames(mustHex(t, h2FixtureHex))
	require.NoError(t, err)

	built := NewHTTP2Signature([]FrameSignature{
		SettingsFrame{StreamID: 0, Settings: []Setting{
			{SettingHeaderTableSize, 65536},
			{SettingEnablePush, 0},
			{SettingInitialWindowSize, 6291456},
			{GreasePlaceholder, 42},
		}},
		WindowUpdateFrame{StreamID: 0, Increment: 15663105},
		PriorityFrame{StreamID: 3, DepStreamID: 0, Weight: 201, Exclusive: true},
		GenericFrame{Type: FramePing, StreamID: 0},
		GenericFrame{Type: FrameType(22), StreamID: 0},
	})

	assert.Equal(t, decoded.Canonicalize(), built.Canonicalize())
	assert.Equal(t, decoded.Hash(), built.Hash())
}

func TestWindowUpdateReservedBitMasked(t *testing.T) {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, 0x80000001)
	raw := append([]byte{0, 0, 4, byte(FrameWindowUpdate), 0, 0, 0, 0, 0}, payload...)

	sig, err := DecodeHTTP2Frames(raw)
	require.NoError(t, err)
	window := sig.Frames[0].(WindowUpdateFrame)
	assert.Equal(t, uint32(1), window.Increment)
}

func TestDecodeHTTP2FramesErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{
			name:    "Partial frame header",
			input:   []byte{0, 0, 4, 8},
			wantErr: ErrTruncated,
		},
		{
			name:    "Payload shorter than declared",
			input:   []byte{0, 0, 8, byte(FrameSettings), 0, 0, 0, 0, 0, 1, 2},
			wantErr: ErrTruncated,
		},
		{
			name:    "Settings payload not a multiple of six",
			input:   []byte{0, 0, 5, byte(FrameSettings), 0, 0, 0, 0, 0, 0, 1, 0, 0, 1},
			wantErr: ErrMalformedLength,
		},
		{
			name:    "Window update with wrong payload size",
			input:   []byte{0, 0, 2, byte(FrameWindowUpdate), 0, 0, 0, 0, 0, 0, 1},
			wantErr: ErrMalformedLength,
		},
		{
			name:    "Priority with wrong payload size",
			input:   []byte{0, 0, 4, byte(FramePriority), 0, 0, 0, 0, 3, 0, 0, 0, 0},
			wantErr: ErrMalformedLength,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := DecodeHTTP2Frames(tt.input)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, sig, "a failed decode must never return a partial record")
		})
	}
}

func FuzzDecodeHTTP2Frames(f *testing.F) {
	seed, err := hex.DecodeString(h2FixtureHex)
	if err != nil {
		f.Fatal(err)
	}
	f.Add(seed)
	f.Add([]byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"))

	f.Fuzz(func(t *testing.T, data []byte) {
		// We only care that this doesn't panic, in this context errors are graceful handling
		sig, err := DecodeHTTP2Frames(data)
		if err == nil && sig != nil {
			_ = sig.Canonicalize()
		}
	})
}
