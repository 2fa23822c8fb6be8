package netsigil

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
)

// The canonical form of a signature is a JSON-shaped string with object keys
// sorted lexicographically and a single space after every separator. Two
// signatures are identical exactly when their canonical strings are
// byte-identical. Sorting only ever applies to object field names; sequence
// contents always keep their wire order.

// Signature is implemented by both signature variants.
type Signature interface {
	// Tree returns the signature as the abstract field tree consumed by the
	// canonical encoder.
	Tree() Value
	// Canonicalize returns the canonical string form.
	Canonicalize() string
	// Hash returns the lowercase hex SHA-1 of the canonical form.
	Hash() string
}

// Value is one node of the abstract field tree shared by the TLS and HTTP/2
// signature variants.
type Value interface {
	appendCanonical(dst []byte) []byte
}

// Int is an integer scalar, emitted in decimal.
type Int int64

// Str is a string scalar, emitted double-quoted with ASCII-only escaping.
type Str string

// Bool is a boolean scalar, emitted as true or false.
type Bool bool

// List is an ordered sequence. Element order is semantically meaningful and is
// never sorted.
type List []Value

// Field is a single named field of an Object.
type Field struct {
	Name  string
	Value Value
}

// Object is a named-field structure. Fields are emitted sorted by name
// regardless of the order they were added in.
type Object []Field

func (i Int) appendCanonical(dst []byte) []byte {
	return strconv.AppendInt(dst, int64(i), 10)
}

func (s Str) appendCanonical(dst []byte) []byte {
	return appendQuoted(dst, string(s))
}

func (b Bool) appendCanonical(dst []byte) []byte {
	return strconv.AppendBool(dst, bool(b))
}

func (l List) appendCanonical(dst []byte) []byte {
	dst = append(dst, '[')
	for i, v := range l {
		if i > 0 {
			dst = append(dst, ", "...)
		}
		dst = v.appendCanonical(dst)
	}
	return append(dst, ']')
}

func (o Object) appendCanonical(dst []byte) []byte {
	fields := make([]Field, len(o))
	copy(fields, o)
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })

	dst = append(dst, '{')
	for i, f := range fields {
		if i > 0 {
			dst = append(dst, ", "...)
		}
		dst = appendQuoted(dst, f.Name)
		dst = append(dst, ": "...)
		dst = f.Value.appendCanonical(dst)
	}
	return append(dst, '}')
}

// appendQuoted writes s double-quoted, escaped the way an ASCII-only JSON
// encoder escapes, so canonical strings survive byte-for-byte comparison with
// other implementations. Input is treated as a byte sequence; every token the
// engine emits is plain ASCII.
func appendQuoted(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			dst = append(dst, '\\', '"')
		case '\\':
			dst = append(dst, '\\', '\\')
		case '\b':
			dst = append(dst, '\\', 'b')
		case '\f':
			dst = append(dst, '\\', 'f')
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\t':
			dst = append(dst, '\\', 't')
		default:
			if c < 0x20 || c > 0x7e {
				dst = append(dst, fmt.Sprintf("\\u%04x", c)...)
			} else {
				dst = append(dst, c)
			}
		}
	}
	return append(dst, '"')
}

// Canonicalize serializes a field tree to its canonical string.
func Canonicalize(v Value) string {
	return string(v.appendCanonical(nil))
}

// Digest returns the lowercase hex SHA-1 over the bytes of a canonical
// string. The digest is a fixed-width handle for indexing; the canonical
// string itself remains the primary, inspectable signature.
func Digest(canonical string) string {
	sum := sha1.Sum([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
