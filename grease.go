package netsigil

// GREASE values (RFC 8701) are randomized placeholders clients advertise so
// that peers keep tolerating unknown codepoints.  The same client picks
// different placeholders on different connections, so they have to collapse to
// one token or the fingerprint would never be stable.

// GreaseToken is the sentinel that stands in for any GREASE placeholder in the
// canonical form. Part of the externally visible format; must never change.
const GreaseToken = "GREASE"

// GreasePlaceholder is the value GREASE codes collapse to inside a decoded
// signature, so that two hellos differing only in their randomized placeholder
// choices produce identical records. It is itself a GREASE value, which makes
// normalization idempotent.
const GreasePlaceholder uint16 = 0x0a0a

// IsGrease reports whether a 16-bit wire value is a reserved GREASE
// placeholder: both bytes equal and of the form 0x?A.
func IsGrease(v uint16) bool {
	return byte(v>>8) == byte(v) && v&0x0f0f == 0x0a0a
}

// normalizeCode collapses a GREASE code to the fixed placeholder and leaves
// every other value untouched.
func normalizeCode(v uint16) uint16 {
	if IsGrease(v) {
		return GreasePlaceholder
	}
	return v
}

// IsGreaseALPN reports whether an ALPN protocol identifier is one of the
// two-byte GREASE identifiers from RFC 8701 section 5.
func IsGreaseALPN(proto string) bool {
	return len(proto) == 2 && proto[0] == proto[1] && proto[0]&0x0f == 0x0a
}

// normalizeALPN collapses a GREASE ALPN identifier to the sentinel token.
func normalizeALPN(proto string) string {
	if IsGreaseALPN(proto) {
		return GreaseToken
	}
	return proto
}

// isKnownSetting reports whether an HTTP/2 SETTINGS identifier is one defined
// by RFC 7540. Some clients (Chrome 98 onward) send a randomized bogus
// identifier in the same spirit as TLS GREASE; anything outside the defined
// range is treated that way.
func isKnownSetting(id uint16) bool {
	return id >= SettingHeaderTableSize && id <= SettingMaxHeaderListSize
}

// normalizeSettingID collapses an undefined SETTINGS identifier to the fixed
// placeholder. Setting values are never normalized, only identifiers.
func normalizeSettingID(id uint16) uint16 {
	if !isKnownSetting(id) {
		return GreasePlaceholder
	}
	return id
}
