package chainbase

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFingerprintEncodeDecodeRoundTrip(t *testing.T) {
	fp := currentFingerprint()
	decoded, err := decodeFingerprint(fp.encode())
	require.NoError(t, err)
	require.True(t, fp.equal(decoded))
}

func TestFingerprintMismatchOnDifferentGoVersion(t *testing.T) {
	fp := currentFingerprint()
	other := fp
	other.goVersion = "go0.0.0"
	require.False(t, fp.equal(other))
}

func TestDecodeFingerprintRejectsTruncatedInput(t *testing.T) {
	fp := currentFingerprint()
	encoded := fp.encode()
	_, err := decodeFingerprint(encoded[:len(encoded)-2])
	require.Error(t, err)
}
