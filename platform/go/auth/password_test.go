package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	h := BcryptHasher{Cost: bcrypt.MinCost}

	hash, err := h.Hash("s3cret")
	require.NoError(t, err)
	require.NotEqual(t, "s3cret", hash)
	require.True(t, h.Verify(hash, "s3cret"))
	require.False(t, h.Verify(hash, "wrong"))
	require.False(t, h.Verify("not-a-hash", "s3cret"))

	_, err = h.Hash("")
	require.Error(t, err)
}
