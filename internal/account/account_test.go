package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyRoundTrip(t *testing.T) {
	hash, salt, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)

	assert.True(t, VerifyPassword("correct horse battery staple", hash, salt))
}

func TestVerifyRejectsWrongPassword(t *testing.T) {
	hash, salt, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)

	assert.False(t, VerifyPassword("wrong password", hash, salt))
}

func TestHashProducesDistinctSalts(t *testing.T) {
	hash1, salt1, err := HashPassword("same password")
	require.NoError(t, err)
	hash2, salt2, err := HashPassword("same password")
	require.NoError(t, err)

	assert.NotEqual(t, salt1, salt2)
	assert.NotEqual(t, hash1, hash2)
}

func TestVerifyRejectsMalformedEncoding(t *testing.T) {
	assert.False(t, VerifyPassword("x", "not-hex!!", "also-not-hex"))
}
