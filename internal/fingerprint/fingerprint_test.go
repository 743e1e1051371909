package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProvider_Get_Stable(t *testing.T) {
	p := New()
	first := p.Get()
	second := p.Get()

	assert.NotEmpty(t, first)
	assert.Equal(t, first, second, "fingerprint must be cached for the process lifetime")
}

func TestProvider_Get_IsHexSHA256(t *testing.T) {
	p := New()
	v := p.Get()

	assert.Len(t, v, 64)
	for _, r := range v {
		assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'), "unexpected character %q", r)
	}
}

func TestFallbackMarkers_FormNonEmptyRawIdentity(t *testing.T) {
	// compute() reads the OS directly and cannot be made to fail from a
	// test; this only checks that the three fallback markers, joined the
	// way compute() joins identifiers, still give a non-empty raw string.
	raw := unknownHostname + "::" + unknownUser + "::" + unknownSystemID
	assert.NotEmpty(t, raw)
}

func TestProvider_DifferentInstancesAgree(t *testing.T) {
	a := New().Get()
	b := New().Get()
	assert.Equal(t, a, b, "two providers on the same host must agree")
}
