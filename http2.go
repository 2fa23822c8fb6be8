package netsigil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/net/http2/hpack"
)

// HTTP2Signature is the decoded form of the control frames a client sent when
// opening an HTTP/2 connection, in the order they were received.
type HTTP2Signature struct {
	Frames []FrameSignature
}

// NewHTTP2Signature builds a signature from pre-structured frame records, for
// collaborators that have already demultiplexed a connection (e.g. a server
// log parser) rather than captured raw bytes.
func NewHTTP2Signature(frames []FrameSignature) *HTTP2Signature {
	return &HTTP2Signature{Frames: frames}
}

// FrameSignature is the closed set of per-frame signature records.
type FrameSignature interface {
	frameTree() Value
}

// Setting is one SETTINGS entry in wire order. ID is GREASE-normalized: any
// identifier outside the RFC 7540 range collapses to the placeholder. Values
// are recorded literally, never normalized.
type Setting struct {
	ID    uint16
	Value uint32
}

// NewSetting builds a SETTINGS entry from wire values, applying identifier
// normalization. Collaborators constructing frames from pre-structured
// records should use it so their signatures match raw-byte decoding.
func NewSetting(id uint16, value uint32) Setting {
	return Setting{ID: normalizeSettingID(id), Value: value}
}

// SettingsFrame records a SETTINGS frame's entries in wire order.
type SettingsFrame struct {
	StreamID uint32
	Settings []Setting
}

// WindowUpdateFrame records a WINDOW_UPDATE frame's 31-bit increment.
type WindowUpdateFrame struct {
	StreamID  uint32
	Increment uint32
}

// PriorityFrame records a PRIORITY frame. Weight is the effective value in
// the 1..256 range, i.e. the wire byte plus one, matching what servers log.
type PriorityFrame struct {
	StreamID    uint32
	DepStreamID uint32
	Weight      int
	Exclusive   bool
}

// HeadersFrame records only the pseudo-header names of a HEADERS frame, in
// the order they appear in the header block. Regular header fields carry
// user data and are never retained; clients differ in which pseudo-headers
// they send and in what order, which is the signal kept here.
type HeadersFrame struct {
	StreamID      uint32
	PseudoHeaders []string
}

// GenericFrame records a frame the engine has no payload model for: type code
// and stream id only. Unknown frame types are a success path, not an error.
type GenericFrame struct {
	Type     FrameType
	StreamID uint32
}

// HTTP/2 frame header flags the decoder needs, RFC 7540 section 6.
const (
	flagHeadersPadded   uint8 = 0x8
	flagHeadersPriority uint8 = 0x20
)

// DecodeHTTP2Frames decodes a raw, already-delimited sequence of HTTP/2
// frames (9-byte header plus payload each), optionally preceded by the client
// connection preface. Frames are recorded in the order received. HEADERS
// block fragments are decoded with a persistent HPACK state, as the client's
// dynamic table spans frames within one connection.
func DecodeHTTP2Frames(buf []byte) (*HTTP2Signature, error) {
	buf = bytes.TrimPrefix(buf, http2ClientPreface)

	sig := &HTTP2Signature{Frames: []FrameSignature{}}
	decoder := hpack.NewDecoder(initialHeaderTableSize, nil)

	for len(buf) > 0 {
		if len(buf) < 9 {
			return nil, fmt.Errorf("frame header of %d bytes: %w", len(buf), ErrTruncated)
		}
		length := int(buf[0])<<16 | int(buf[1])<<8 | int(buf[2])
		frameType := FrameType(buf[3])
		flags := buf[4]
		streamID := binary.BigEndian.Uint32(buf[5:9]) & 0x7fffffff
		if len(buf) < 9+length {
			return nil, fmt.Errorf("%s frame payload of %d bytes with %d remaining: %w",
				frameType, length, len(buf)-9, ErrTruncated)
		}
		payload := buf[9 : 9+length]
		buf = buf[9+length:]

		frame, err := decodeFrame(frameType, flags, streamID, payload, decoder)
		if err != nil {
			return nil, err
		}
		sig.Frames = append(sig.Frames, frame)
	}

	return sig, nil
}

func decodeFrame(frameType FrameType, flags uint8, streamID uint32, payload []byte, decoder *hpack.Decoder) (FrameSignature, error) {
	switch frameType {
	case FrameSettings:
		return decodeSettingsFrame(streamID, payload)
	case FrameWindowUpdate:
		return decodeWindowUpdateFrame(streamID, payload)
	case FramePriority:
		return decodePriorityFrame(streamID, payload)
	case FrameHeaders:
		return decodeHeadersFrame(streamID, flags, payload, decoder)
	default:
		return GenericFrame{Type: frameType, StreamID: streamID}, nil
	}
}

func decodeSettingsFrame(streamID uint32, payload []byte) (FrameSignature, error) {
	if len(payload)%6 != 0 {
		return nil, fmt.Errorf("settings payload of %d bytes: %w", len(payload), ErrMalformedLength)
	}
	frame := SettingsFrame{StreamID: streamID, Settings: []Setting{}}
	for len(payload) > 0 {
		frame.Settings = append(frame.Settings, NewSetting(
			binary.BigEndian.Uint16(payload[0:2]),
			binary.BigEndian.Uint32(payload[2:6]),
		))
		payload = payload[6:]
	}
	return frame, nil
}

func decodeWindowUpdateFrame(streamID uint32, payload []byte) (FrameSignature, error) {
	if len(payload) != 4 {
		return nil, fmt.Errorf("window update payload of %d bytes: %w", len(payload), ErrMalformedLength)
	}
	// High bit is reserved and masked off.
	return WindowUpdateFrame{
		StreamID:  streamID,
		Increment: binary.BigEndian.Uint32(payload) & 0x7fffffff,
	}, nil
}

func decodePriorityFrame(streamID uint32, payload []byte) (FrameSignature, error) {
	if len(payload) != 5 {
		return nil, fmt.Errorf("priority payload of %d bytes: %w", len(payload), ErrMalformedLength)
	}
	dependency := binary.BigEndian.Uint32(payload[0:4])
	return PriorityFrame{
		StreamID:    streamID,
		DepStreamID: dependency & 0x7fffffff,
		Weight:      int(payload[4]) + 1,
		Exclusive:   dependency>>31 == 1,
	}, nil
}

func decodeHeadersFrame(streamID uint32, flags uint8, payload []byte, decoder *hpack.Decoder) (FrameSignature, error) {
	fragment := payload
	if flags&flagHeadersPadded != 0 {
		if len(fragment) < 1 {
			return nil, fmt.Errorf("headers pad length: %w", ErrTruncated)
		}
		padding := int(fragment[0])
		fragment = fragment[1:]
		if padding > len(fragment) {
			return nil, fmt.Errorf("headers padding of %d bytes exceeds payload: %w", padding, ErrMalformedLength)
		}
		fragment = fragment[:len(fragment)-padding]
	}
	if flags&flagHeadersPriority != 0 {
		if len(fragment) < 5 {
			return nil, fmt.Errorf("headers priority fields: %w", ErrTruncated)
		}
		fragment = fragment[5:]
	}

	frame := HeadersFrame{StreamID: streamID, PseudoHeaders: []string{}}
	decoder.SetEmitFunc(func(f hpack.HeaderField) {
		if strings.HasPrefix(f.Name, ":") {
			frame.PseudoHeaders = append(frame.PseudoHeaders, f.Name)
		}
	})
	defer decoder.SetEmitFunc(nil)
	if _, err := decoder.Write(fragment); err != nil {
		return nil, fmt.Errorf("headers block: %v: %w", err, ErrMalformedLength)
	}

	return frame, nil
}

// Tree returns the signature as the abstract field tree consumed by the
// canonical encoder.
func (s *HTTP2Signature) Tree() Value {
	frames := make(List, 0, len(s.Frames))
	for _, frame := range s.Frames {
		frames = append(frames, frame.frameTree())
	}
	return Object{{"frames", frames}}
}

// Canonicalize returns the canonical string form of the signature.
func (s *HTTP2Signature) Canonicalize() string {
	return Canonicalize(s.Tree())
}

// Hash returns the lowercase hex SHA-1 digest of the canonical form.
func (s *HTTP2Signature) Hash() string {
	return Digest(s.Canonicalize())
}

func (f SettingsFrame) frameTree() Value {
	settings := make(List, 0, len(f.Settings))
	for _, setting := range f.Settings {
		settings = append(settings, Object{
			{"id", settingIDValue(setting.ID)},
			{"value", Int(setting.Value)},
		})
	}
	return Object{
		{"frame_type", Str(FrameSettings.String())},
		{"stream_id", Int(f.StreamID)},
		{"settings", settings},
	}
}

func (f WindowUpdateFrame) frameTree() Value {
	return Object{
		{"frame_type", Str(FrameWindowUpdate.String())},
		{"stream_id", Int(f.StreamID)},
		{"window_size_increment", Int(f.Increment)},
	}
}

func (f PriorityFrame) frameTree() Value {
	return Object{
		{"frame_type", Str(FramePriority.String())},
		{"stream_id", Int(f.StreamID)},
		{"priority", Object{
			{"dep_stream_id", Int(f.DepStreamID)},
			{"weight", Int(f.Weight)},
			{"exclusive", Bool(f.Exclusive)},
		}},
	}
}

func (f HeadersFrame) frameTree() Value {
	pseudo := make(List, 0, len(f.PseudoHeaders))
	for _, name := range f.PseudoHeaders {
		pseudo = append(pseudo, Str(name))
	}
	return Object{
		{"frame_type", Str(FrameHeaders.String())},
		{"stream_id", Int(f.StreamID)},
		{"pseudo_headers", pseudo},
	}
}

func (f GenericFrame) frameTree() Value {
	obj := Object{{"stream_id", Int(f.StreamID)}}
	if name, ok := frameTypeNames[f.Type]; ok {
		return append(obj, Field{"frame_type", Str(name)})
	}
	return append(obj, Field{"frame_type", Int(f.Type)})
}

// settingIDValue renders a SETTINGS identifier: decimal for defined ones, the
// sentinel token for placeholders.
func settingIDValue(id uint16) Value {
	if isKnownSetting(id) {
		return Int(id)
	}
	return Str(GreaseToken)
}
