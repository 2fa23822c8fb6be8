package netsigil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registryTLSSig(t *testing.T, hex string) *TLSSignature {
	t.Helper()
	sig, err := DecodeClientHello(mustHex(t, hex))
	require.NoError(t, err)
	return sig
}

func TestRegistryAddLookup(t *testing.T) {
	reg := NewRegistry()
	tlsSig := registryTLSSig(t, fullHelloHex)
	h2Sig, err := DecodeHTTP2Frames(mustHex(t, h2FixtureHex))
	require.NoError(t, err)

	key, added := reg.Add(tlsSig, "curl 8.x")
	assert.True(t, added)
	assert.NotZero(t, key)

	_, added = reg.Add(h2Sig, "Firefox 121")
	assert.True(t, added)
	assert.Equal(t, 2, reg.Len())

	desc, ok := reg.Lookup(tlsSig)
	require.True(t, ok)
	assert.Equal(t, "curl 8.x", desc)

	desc, ok = reg.Lookup(h2Sig)
	require.True(t, ok)
	assert.Equal(t, "Firefox 121", desc)
}

func TestRegistryDuplicateKeepsFirst(t *testing.T) {
	reg := NewRegistry()
	sig := registryTLSSig(t, fullHelloHex)

	key1, added := reg.Add(sig, "first")
	require.True(t, added)

	// A GREASE variant of the same hello has the same canonical form, so it
	// lands on the same entry.
	variant := registryTLSSig(t, fullHelloAltHex)
	key2, added := reg.Add(variant, "second")
	assert.False(t, added)
	assert.Equal(t, key1, key2)
	assert.Equal(t, 1, reg.Len())

	desc, ok := reg.Lookup(variant)
	require.True(t, ok)
	assert.Equal(t, "first", desc)
}

func TestRegistryLookupMiss(t *testing.T) {
	reg := NewRegistry()
	sig := registryTLSSig(t, minimalHelloHex)

	_, ok := reg.Lookup(sig)
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Len())
}
