package validation_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"cipherfeed/pkg/models"
	"cipherfeed/pkg/validation"
)

func bundle(n int) models.CipherBundle {
	return models.CipherBundle{
		Category: bytes.Repeat([]byte{0x1}, n),
		Minutes:  bytes.Repeat([]byte{0x2}, n),
		Listener: bytes.Repeat([]byte{0x3}, n),
	}
}

func TestValidateBundle(t *testing.T) {
	validation.SetRules(validation.Rules{MaxHandleBytes: 64, MaxCandidates: 4})

	require.NoError(t, validation.ValidateBundle(bundle(16)))

	err := validation.ValidateBundle(models.CipherBundle{Minutes: []byte{1}, Listener: []byte{2}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "category handle is required")

	err = validation.ValidateBundle(models.CipherBundle{})
	require.Error(t, err)
	// all three misses are reported at once
	require.Contains(t, err.Error(), "category")
	require.Contains(t, err.Error(), "minutes")
	require.Contains(t, err.Error(), "listener")

	err = validation.ValidateBundle(bundle(65))
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeds 64 bytes")
}

func TestValidateCandidates(t *testing.T) {
	validation.SetRules(validation.Rules{MaxHandleBytes: 64, MaxCandidates: 3})

	require.NoError(t, validation.ValidateCandidates(nil))
	require.NoError(t, validation.ValidateCandidates([]string{"a", "b", "c"}))

	err := validation.ValidateCandidates([]string{"a", "b", "c", "d"})
	require.Error(t, err)

	err = validation.ValidateCandidates([]string{"a", "  "})
	require.Error(t, err)
	require.Contains(t, err.Error(), "candidate 1 is empty")
}
