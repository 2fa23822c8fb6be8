package netsigil

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// TLSSignature is the decoded, GREASE-normalized form of a single ClientHello.
// It is constructed once by DecodeClientHello and not mutated afterwards.
type TLSSignature struct {
	// RecordVersion is the record-layer version, or zero when the buffer
	// carried no record header.
	RecordVersion    Version
	HandshakeVersion Version
	// SessionIDLength is the length of the legacy session id. The session id
	// bytes themselves vary per connection and are never part of the
	// signature.
	SessionIDLength    int
	CipherSuites       []uint16
	CompressionMethods []uint8
	Extensions         []Extension
}

// Extension is one extension in the order it appeared on the wire. Type is
// already GREASE-normalized. Data is non-nil only for the recognized
// structured extension types.
type Extension struct {
	Type   uint16
	Length int
	Data   ExtensionData
}

// ExtensionData is the closed set of structured extension bodies. Extensions
// without a registered body shape are recorded with type and length only.
type ExtensionData interface {
	// bodyFields returns the extension's canonical fields beyond "type".
	bodyFields() []Field
}

// SupportedGroups is the body of supported_groups(10). Group codes are
// GREASE-normalized.
type SupportedGroups struct {
	Groups []uint16
}

// ECPointFormats is the body of ec_point_formats(11).
type ECPointFormats struct {
	Formats []uint8
}

// SignatureAlgorithms is the body of signature_algorithms(13).
type SignatureAlgorithms struct {
	Algorithms []uint16
}

// ALPNProtocols is the body of application_layer_protocol_negotiation(16).
// GREASE protocol identifiers are collapsed to the sentinel token.
type ALPNProtocols struct {
	Protocols []string
}

// CertCompressionAlgorithms is the body of compress_certificate(27).
type CertCompressionAlgorithms struct {
	Algorithms []uint16
}

// SupportedVersionsExt is the body of supported_versions(43). Versions are
// GREASE-normalized.
type SupportedVersionsExt struct {
	Versions []Version
}

// PSKExchangeModes is the body of psk_key_exchange_modes(45).
type PSKExchangeModes struct {
	Modes []uint8
}

// KeyShares is the body of key_share(51). Only the group and the length of
// each key are retained; key material varies per connection.
type KeyShares struct {
	Shares []KeyShare
}

// KeyShare is a single key_share entry. Group is GREASE-normalized.
type KeyShare struct {
	Group     uint16
	KeyLength int
}

// DecodeClientHello decodes exactly one ClientHello handshake message into a
// TLSSignature. The buffer may start either with the 5-byte TLS record header
// (first byte 22) or directly with the handshake message (first byte 1); the
// decoder detects which. Decoding is all-or-nothing: on error no partial
// signature is returned. Truncation and inconsistent lengths surface as
// ErrTruncated and ErrMalformedLength.
func DecodeClientHello(buf []byte) (*TLSSignature, error) {
	if len(buf) < minHelloLength {
		return nil, fmt.Errorf("client hello of %d bytes: %w", len(buf), ErrTruncated)
	}

	sig := &TLSSignature{
		CipherSuites:       []uint16{},
		CompressionMethods: []uint8{},
		Extensions:         []Extension{},
	}

	s := cryptobyte.String(buf)
	if buf[0] == recordTypeHandshake {
		// Record layer present: content type, version, length, then the
		// handshake message.
		var recordVersion uint16
		var record cryptobyte.String
		s.Skip(1)
		if !s.ReadUint16(&recordVersion) || !s.ReadUint16LengthPrefixed(&record) {
			return nil, fmt.Errorf("record header: %w", ErrTruncated)
		}
		sig.RecordVersion = Version(recordVersion)
		s = record
	}

	var messageType uint8
	if !s.ReadUint8(&messageType) {
		return nil, fmt.Errorf("handshake header: %w", ErrTruncated)
	}
	if messageType != handshakeTypeClientHello {
		return nil, fmt.Errorf("message type %d does not look like a client hello", messageType)
	}

	var hello cryptobyte.String
	if !s.ReadUint24LengthPrefixed(&hello) {
		return nil, fmt.Errorf("handshake length: %w", ErrTruncated)
	}

	var handshakeVersion uint16
	if !hello.ReadUint16(&handshakeVersion) {
		return nil, fmt.Errorf("handshake version: %w", ErrTruncated)
	}
	sig.HandshakeVersion = Version(handshakeVersion)

	// The 32-byte random is fresh on every connection and never part of the
	// signature.
	if !hello.Skip(32) {
		return nil, fmt.Errorf("random: %w", ErrTruncated)
	}

	var sessionID cryptobyte.String
	if !hello.ReadUint8LengthPrefixed(&sessionID) {
		return nil, fmt.Errorf("session id: %w", ErrTruncated)
	}
	sig.SessionIDLength = len(sessionID)

	var suites cryptobyte.String
	if !hello.ReadUint16LengthPrefixed(&suites) {
		return nil, fmt.Errorf("cipher suites: %w", ErrTruncated)
	}
	if len(suites)%2 != 0 {
		return nil, fmt.Errorf("cipher suite list of %d bytes: %w", len(suites), ErrMalformedLength)
	}
	for !suites.Empty() {
		var suite uint16
		suites.ReadUint16(&suite)
		sig.CipherSuites = append(sig.CipherSuites, normalizeCode(suite))
	}

	var compression cryptobyte.String
	if !hello.ReadUint8LengthPrefixed(&compression) {
		return nil, fmt.Errorf("compression methods: %w", ErrTruncated)
	}
	sig.CompressionMethods = append(sig.CompressionMethods, compression...)

	if hello.Empty() {
		// Extensions block absent entirely, still a valid hello.
		return sig, nil
	}

	var extensions cryptobyte.String
	if !hello.ReadUint16LengthPrefixed(&extensions) {
		return nil, fmt.Errorf("extensions block: %w", ErrTruncated)
	}
	for !extensions.Empty() {
		var extensionType uint16
		var body cryptobyte.String
		if !extensions.ReadUint16(&extensionType) || !extensions.ReadUint16LengthPrefixed(&body) {
			return nil, fmt.Errorf("extension header: %w", ErrTruncated)
		}
		ext, err := decodeExtension(extensionType, body)
		if err != nil {
			return nil, err
		}
		sig.Extensions = append(sig.Extensions, ext)
	}

	return sig, nil
}

// decodeExtension dispatches on the raw (pre-normalization) extension type, so
// a GREASE type can never collide with a registered one.
func decodeExtension(extensionType uint16, body cryptobyte.String) (Extension, error) {
	ext := Extension{Type: normalizeCode(extensionType), Length: len(body)}

	var err error
	switch extensionType {
	case ExtSupportedGroups:
		ext.Data, err = decodeSupportedGroups(body)
	case ExtECPointFormats:
		ext.Data, err = decodeECPointFormats(body)
	case ExtSignatureAlgorithms:
		ext.Data, err = decodeSignatureAlgorithms(body)
	case ExtALPN:
		ext.Data, err = decodeALPN(body)
	case ExtCompressCertificate:
		ext.Data, err = decodeCertCompression(body)
	case ExtSupportedVersions:
		ext.Data, err = decodeSupportedVersions(body)
	case ExtPSKKeyExchangeModes:
		ext.Data, err = decodePSKModes(body)
	case ExtKeyShare:
		ext.Data, err = decodeKeyShares(body)
	}
	if err != nil {
		return Extension{}, fmt.Errorf("extension %d (%s): %w", extensionType, IanaOrCode(extensionType), err)
	}
	return ext, nil
}

// IanaOrCode returns the registered name for an extension type, or its
// decimal code when unregistered.
func IanaOrCode(extensionType uint16) string {
	if name := ExtensionName(extensionType); name != "" {
		return name
	}
	return fmt.Sprintf("%d", extensionType)
}

func decodeSupportedGroups(body cryptobyte.String) (ExtensionData, error) {
	var list cryptobyte.String
	if !body.ReadUint16LengthPrefixed(&list) {
		return nil, ErrTruncated
	}
	if len(list)%2 != 0 {
		return nil, ErrMalformedLength
	}
	data := SupportedGroups{Groups: []uint16{}}
	for !list.Empty() {
		var group uint16
		list.ReadUint16(&group)
		data.Groups = append(data.Groups, normalizeCode(group))
	}
	return data, nil
}

func decodeECPointFormats(body cryptobyte.String) (ExtensionData, error) {
	var list cryptobyte.String
	if !body.ReadUint8LengthPrefixed(&list) {
		return nil, ErrTruncated
	}
	return ECPointFormats{Formats: append([]uint8{}, list...)}, nil
}

func decodeSignatureAlgorithms(body cryptobyte.String) (ExtensionData, error) {
	var list cryptobyte.String
	if !body.ReadUint16LengthPrefixed(&list) {
		return nil, ErrTruncated
	}
	if len(list)%2 != 0 {
		return nil, ErrMalformedLength
	}
	data := SignatureAlgorithms{Algorithms: []uint16{}}
	for !list.Empty() {
		var scheme uint16
		list.ReadUint16(&scheme)
		data.Algorithms = append(data.Algorithms, scheme)
	}
	return data, nil
}

func decodeALPN(body cryptobyte.String) (ExtensionData, error) {
	var list cryptobyte.String
	if !body.ReadUint16LengthPrefixed(&list) {
		return nil, ErrTruncated
	}
	data := ALPNProtocols{Protocols: []string{}}
	for !list.Empty() {
		var proto cryptobyte.String
		if !list.ReadUint8LengthPrefixed(&proto) {
			return nil, ErrTruncated
		}
		data.Protocols = append(data.Protocols, normalizeALPN(string(proto)))
	}
	return data, nil
}

func decodeCertCompression(body cryptobyte.String) (ExtensionData, error) {
	var list cryptobyte.String
	if !body.ReadUint8LengthPrefixed(&list) {
		return nil, ErrTruncated
	}
	if len(list)%2 != 0 {
		return nil, ErrMalformedLength
	}
	data := CertCompressionAlgorithms{Algorithms: []uint16{}}
	for !list.Empty() {
		var algorithm uint16
		list.ReadUint16(&algorithm)
		data.Algorithms = append(data.Algorithms, algorithm)
	}
	return data, nil
}

func decodeSupportedVersions(body cryptobyte.String) (ExtensionData, error) {
	var list cryptobyte.String
	if !body.ReadUint8LengthPrefixed(&list) {
		return nil, ErrTruncated
	}
	if len(list)%2 != 0 {
		return nil, ErrMalformedLength
	}
	data := SupportedVersionsExt{Versions: []Version{}}
	for !list.Empty() {
		var version uint16
		list.ReadUint16(&version)
		data.Versions = append(data.Versions, Version(normalizeCode(version)))
	}
	return data, nil
}

func decodePSKModes(body cryptobyte.String) (ExtensionData, error) {
	var list cryptobyte.String
	if !body.ReadUint8LengthPrefixed(&list) {
		return nil, ErrTruncated
	}
	return PSKExchangeModes{Modes: append([]uint8{}, list...)}, nil
}

func decodeKeyShares(body cryptobyte.String) (ExtensionData, error) {
	var list cryptobyte.String
	if !body.ReadUint16LengthPrefixed(&list) {
		return nil, ErrTruncated
	}
	data := KeyShares{Shares: []KeyShare{}}
	for !list.Empty() {
		var group uint16
		var key cryptobyte.String
		if !list.ReadUint16(&group) || !list.ReadUint16LengthPrefixed(&key) {
			return nil, ErrTruncated
		}
		data.Shares = append(data.Shares, KeyShare{Group: normalizeCode(group), KeyLength: len(key)})
	}
	return data, nil
}

// Tree returns the signature as the abstract field tree consumed by the
// canonical encoder.
func (s *TLSSignature) Tree() Value {
	suites := make(List, 0, len(s.CipherSuites))
	for _, suite := range s.CipherSuites {
		suites = append(suites, codeValue(suite))
	}

	compression := make(List, 0, len(s.CompressionMethods))
	for _, method := range s.CompressionMethods {
		compression = append(compression, Int(method))
	}

	extensions := make(List, 0, len(s.Extensions))
	for _, ext := range s.Extensions {
		extensions = append(extensions, ext.tree())
	}

	return Object{
		{"record_version", versionValue(s.RecordVersion)},
		{"handshake_version", versionValue(s.HandshakeVersion)},
		{"session_id_length", Int(s.SessionIDLength)},
		{"cipher_suites", suites},
		{"compression_methods", compression},
		{"extensions", extensions},
	}
}

// Canonicalize returns the canonical string form of the signature.
func (s *TLSSignature) Canonicalize() string {
	return Canonicalize(s.Tree())
}

// Hash returns the lowercase hex SHA-1 digest of the canonical form.
func (s *TLSSignature) Hash() string {
	return Digest(s.Canonicalize())
}

func (e Extension) tree() Value {
	obj := Object{{"type", extensionTypeValue(e.Type)}}
	if e.Data != nil {
		return append(obj, e.Data.bodyFields()...)
	}
	// No registered body shape: only the length carries signal.
	return append(obj, Field{"length", Int(e.Length)})
}

func (d SupportedGroups) bodyFields() []Field {
	groups := make(List, 0, len(d.Groups))
	for _, group := range d.Groups {
		groups = append(groups, codeValue(group))
	}
	return []Field{{"groups", groups}}
}

func (d ECPointFormats) bodyFields() []Field {
	formats := make(List, 0, len(d.Formats))
	for _, format := range d.Formats {
		formats = append(formats, Int(format))
	}
	return []Field{{"formats", formats}}
}

func (d SignatureAlgorithms) bodyFields() []Field {
	algorithms := make(List, 0, len(d.Algorithms))
	for _, algorithm := range d.Algorithms {
		algorithms = append(algorithms, Int(algorithm))
	}
	return []Field{{"algorithms", algorithms}}
}

func (d ALPNProtocols) bodyFields() []Field {
	protocols := make(List, 0, len(d.Protocols))
	for _, proto := range d.Protocols {
		protocols = append(protocols, Str(proto))
	}
	return []Field{{"protocols", protocols}}
}

func (d CertCompressionAlgorithms) bodyFields() []Field {
	algorithms := make(List, 0, len(d.Algorithms))
	for _, algorithm := range d.Algorithms {
		algorithms = append(algorithms, Int(algorithm))
	}
	return []Field{{"algorithms", algorithms}}
}

func (d SupportedVersionsExt) bodyFields() []Field {
	versions := make(List, 0, len(d.Versions))
	for _, version := range d.Versions {
		versions = append(versions, versionValue(version))
	}
	return []Field{{"versions", versions}}
}

func (d PSKExchangeModes) bodyFields() []Field {
	modes := make(List, 0, len(d.Modes))
	for _, mode := range d.Modes {
		modes = append(modes, Int(mode))
	}
	return []Field{{"modes", modes}}
}

func (d KeyShares) bodyFields() []Field {
	shares := make(List, 0, len(d.Shares))
	for _, share := range d.Shares {
		shares = append(shares, Object{
			{"group", codeValue(share.Group)},
			{"key_length", Int(share.KeyLength)},
		})
	}
	return []Field{{"key_shares", shares}}
}

// codeValue renders a GREASE-normalized 16-bit code: sentinel token for the
// placeholder, decimal for everything else.
func codeValue(code uint16) Value {
	if IsGrease(code) {
		return Str(GreaseToken)
	}
	return Int(code)
}

// versionValue renders a version: sentinel for GREASE, stable name token for
// recognized versions, decimal for unknown ones (unknown versions are
// recorded, never rejected).
func versionValue(v Version) Value {
	if IsGrease(uint16(v)) {
		return Str(GreaseToken)
	}
	if name, ok := versionNames[v]; ok {
		return Str(name)
	}
	return Int(v)
}

// extensionTypeValue renders a GREASE-normalized extension type code.
func extensionTypeValue(extensionType uint16) Value {
	if IsGrease(extensionType) {
		return Str(GreaseToken)
	}
	if name := ExtensionName(extensionType); name != "" {
		return Str(name)
	}
	return Int(extensionType)
}
