package artwork

import (
	"crypto/md5" //nolint:gosec // mirrors key derivation
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracklist/tracklist/internal/errors"
)

func TestCacheKey_Deterministic(t *testing.T) {
	t.Parallel()

	a := Album{ID: 42, ExternalID: "abc-123"}
	first := a.CacheKey()
	for range 10 {
		assert.Equal(t, first, a.CacheKey())
	}
	assert.Len(t, first, CacheKeyLength)
	assert.True(t, IsCacheKey(first))

	// md5("abc-123_42") truncated to 16 hex chars
	assert.Equal(t, CacheKey("abc-123", 42), first)
	assert.NotEqual(t, first, CacheKey("abc-123", 43), "local id is part of the key")
	assert.NotEqual(t, first, CacheKey("abc-124", 42), "external id is part of the key")
}

func TestCacheKey_KnownValue(t *testing.T) {
	t.Parallel()
	sum := md5hex("abc_1")
	assert.Equal(t, sum[:16], CacheKey("abc", 1))
}

func TestRowKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "0123456789abcdef_thumbnail", RowKey("0123456789abcdef", Thumbnail))
}

func TestParseVariant(t *testing.T) {
	t.Parallel()

	for _, v := range Variants() {
		got, err := ParseVariant(string(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	got, err := ParseVariant(" Large ")
	require.NoError(t, err)
	assert.Equal(t, Large, got)

	for _, bad := range []string{"", "huge", "xl", "originals"} {
		_, err := ParseVariant(bad)
		require.Error(t, err, bad)
		assert.True(t, errors.Is(err, ErrInvalidVariant))
	}
}

func TestVariants(t *testing.T) {
	t.Parallel()

	vs := Variants()
	require.Len(t, vs, VariantCount)
	assert.Equal(t, Original, vs[0])

	vs[0] = "mutated"
	assert.Equal(t, Original, Variants()[0], "returned slice is a copy")

	assert.NotContains(t, DerivedVariants(), Original)
	assert.Len(t, DerivedVariants(), 4)
}

func TestPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		v       Variant
		box     Box
		quality int
	}{
		{Original, Box{}, 95},
		{Large, Box{192, 192}, 90},
		{Medium, Box{64, 64}, 85},
		{Small, Box{48, 48}, 85},
		{Thumbnail, Box{80, 80}, 80},
	}
	for _, tt := range tests {
		p := tt.v.Policy()
		assert.Equal(t, tt.box, p.Box, tt.v)
		assert.Equal(t, tt.quality, p.Quality, tt.v)
		assert.Equal(t, tt.v != Original, tt.v.Resized())
	}
	assert.False(t, Variant("huge").Valid())
}

func TestIsCacheKey(t *testing.T) {
	t.Parallel()

	assert.True(t, IsCacheKey("0123456789abcdef"))
	assert.False(t, IsCacheKey("0123456789ABCDEF"))
	assert.False(t, IsCacheKey("0123456789abcde"))
	assert.False(t, IsCacheKey("0123456789abcdeg"))
	assert.False(t, IsCacheKey(".tmp-0123456789a"))
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // mirrors key derivation
	return hex.EncodeToString(sum[:])
}
