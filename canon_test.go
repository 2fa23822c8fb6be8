package netsigil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalizeSortsFieldNamesOnly(t *testing.T) {
	// Same object content, fields added in different orders.
	a := Object{
		{"cipher_suites", List{Int(4865), Int(4866)}},
		{"record_version", Str("TLS_1_0")},
	}
	b := Object{
		{"record_version", Str("TLS_1_0")},
		{"cipher_suites", List{Int(4865), Int(4866)}},
	}
	assert.Equal(t, Canonicalize(a), Canonicalize(b))

	// A reordered sequence is a different signature.
	c := Object{
		{"record_version", Str("TLS_1_0")},
		{"cipher_suites", List{Int(4866), Int(4865)}},
	}
	assert.NotEqual(t, Canonicalize(a), Canonicalize(c))
}

func TestCanonicalizeScalars(t *testing.T) {
	tests := []struct {
		name  string
		input Value
		want  string
	}{
		{
			name:  "Empty object",
			input: Object{},
			want:  "{}",
		},
		{
			name:  "Empty list",
			input: List{},
			want:  "[]",
		},
		{
			name:  "Booleans and ints",
			input: Object{{"exclusive", Bool(true)}, {"weight", Int(201)}},
			want:  `{"exclusive": true, "weight": 201}`,
		},
		{
			name:  "Nested",
			input: Object{{"frames", List{Object{{"stream_id", Int(0)}, {"frame_type", Str("PING")}}}}},
			want:  `{"frames": [{"frame_type": "PING", "stream_id": 0}]}`,
		},
		{
			name:  "String escaping",
			input: Str("a\"b\\c\nd\x01e\x7f"),
			want:  `"a\"b\\c\nd\u0001e\u007f"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonicalize(tt.input))
		})
	}
}

func TestDigest(t *testing.T) {
	// SHA-1 of the empty string is a well-known constant.
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", Digest(""))
}
