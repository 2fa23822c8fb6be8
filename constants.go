package netsigil

import "strconv"

const (
	// Configuration Constants
	minHelloLength = 45 // Theoretical minimum size of smallest TLS ClientHello (TLSv1.0)

	recordTypeHandshake      uint8 = 22
	handshakeTypeClientHello uint8 = 1

	// TLS Extension types whose bodies the decoder understands
	ExtServerName          uint16 = 0x0000
	ExtSupportedGroups     uint16 = 0x000a
	ExtECPointFormats      uint16 = 0x000b
	ExtSignatureAlgorithms uint16 = 0x000d
	ExtALPN                uint16 = 0x0010
	ExtPadding             uint16 = 0x0015
	ExtCompressCertificate uint16 = 0x001b
	ExtSupportedVersions   uint16 = 0x002b
	ExtPSKKeyExchangeModes uint16 = 0x002d
	ExtKeyShare            uint16 = 0x0033
)

// Version is a TLS protocol version as it appears on the wire.
type Version uint16

// TLS Protocol Versions
const (
	VersionSSL30 Version = 0x0300
	VersionTLS10 Version = 0x0301
	VersionTLS11 Version = 0x0302
	VersionTLS12 Version = 0x0303
	VersionTLS13 Version = 0x0304
)

// versionNames are the stable tokens used in the canonical form. They are part
// of the externally visible format: changing one breaks fingerprint
// comparability across versions.
var versionNames = map[Version]string{
	VersionSSL30: "SSL_3_0",
	VersionTLS10: "TLS_1_0",
	VersionTLS11: "TLS_1_1",
	VersionTLS12: "TLS_1_2",
	VersionTLS13: "TLS_1_3",
}

// String returns the canonical token for a recognized version, or the decimal
// wire code for anything else.
func (v Version) String() string {
	if name, ok := versionNames[v]; ok {
		return name
	}
	return strconv.Itoa(int(v))
}

// FrameType is an HTTP/2 frame type code, RFC 7540 section 6.
type FrameType uint8

// HTTP/2 frame types
const (
	FrameData         FrameType = 0x0
	FrameHeaders      FrameType = 0x1
	FramePriority     FrameType = 0x2
	FrameRSTStream    FrameType = 0x3
	FrameSettings     FrameType = 0x4
	FramePushPromise  FrameType = 0x5
	FramePing         FrameType = 0x6
	FrameGoAway       FrameType = 0x7
	FrameWindowUpdate FrameType = 0x8
	FrameContinuation FrameType = 0x9
)

// frameTypeNames are the stable frame-type tokens, matching the names RFC 7540
// (and nghttpd's logs) use.
var frameTypeNames = map[FrameType]string{
	FrameData:         "DATA",
	FrameHeaders:      "HEADERS",
	FramePriority:     "PRIORITY",
	FrameRSTStream:    "RST_STREAM",
	FrameSettings:     "SETTINGS",
	FramePushPromise:  "PUSH_PROMISE",
	FramePing:         "PING",
	FrameGoAway:       "GOAWAY",
	FrameWindowUpdate: "WINDOW_UPDATE",
	FrameContinuation: "CONTINUATION",
}

// String returns the canonical token for a recognized frame type, or the
// decimal type code for anything else.
func (t FrameType) String() string {
	if name, ok := frameTypeNames[t]; ok {
		return name
	}
	return strconv.Itoa(int(t))
}

// HTTP/2 SETTINGS identifiers defined by RFC 7540. Identifiers outside this
// range are treated as GREASE-style placeholders, see grease.go.
const (
	SettingHeaderTableSize      uint16 = 0x1
	SettingEnablePush           uint16 = 0x2
	SettingMaxConcurrentStreams uint16 = 0x3
	SettingInitialWindowSize    uint16 = 0x4
	SettingMaxFrameSize         uint16 = 0x5
	SettingMaxHeaderListSize    uint16 = 0x6
)

// http2ClientPreface may precede the first frame in a raw capture of the
// client side of a connection.
var http2ClientPreface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

// initialHeaderTableSize is the HPACK dynamic table size before any SETTINGS
// frame changes it, RFC 7541 appendix A.
const initialHeaderTableSize = 4096
