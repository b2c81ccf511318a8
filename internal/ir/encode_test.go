package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_KeepsValues(t *testing.T) {
	type reply struct {
		ID    uint64 `json:"id"`
		Label string `json:"label"`
		Note  string `json:"note"`
	}
	got, err := Marshal(reply{ID: math.MaxUint64 - 1, Label: "café", Note: "<a & b>"})
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":18446744073709551614,\"label\":\"café\",\"note\":\"<a & b>\"}", string(got))
}

func TestMarshal_Error(t *testing.T) {
	_, err := Marshal(make(chan int))
	assert.Error(t, err)
}

func TestCompact_KeepsTokens(t *testing.T) {
	got, err := Compact([]byte(" { \"b\" : 12.50 , \"a\" : \"é\" } "))
	require.NoError(t, err)
	assert.Equal(t, "{\"b\":12.50,\"a\":\"é\"}", string(got))
}

func TestCompact_RejectsInvalid(t *testing.T) {
	for _, in := range []string{``, `{`, `1 2`} {
		_, err := Compact([]byte(in))
		assert.Error(t, err, in)
	}
}

func TestPayloadDigest_BigIntegersDistinct(t *testing.T) {
	a, err := PayloadDigest([]byte(`18446744073709551614`))
	require.NoError(t, err)
	b, err := PayloadDigest([]byte(`18446744073709551615`))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
