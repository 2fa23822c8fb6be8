package netsigil

import "errors"

// The only hard decode failures. Unrecognized extension or frame types with a
// readable length are not errors; they are recorded generically, which is what
// keeps the decoders forward-compatible with future protocol registries.
var (
	// ErrTruncated means a declared length field runs past the end of the
	// input buffer.
	ErrTruncated = errors.New("truncated input")

	// ErrMalformedLength means a length field is internally inconsistent,
	// e.g. a list length that is not a multiple of its element size.
	ErrMalformedLength = errors.New("malformed length")
)
