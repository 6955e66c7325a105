package host

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeApplicationServerKey(t *testing.T) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	pub := priv.PublicKey().Bytes()

	tests := []struct {
		name string
		in   string
	}{
		{"raw url", base64.RawURLEncoding.EncodeToString(pub)},
		{"padded url", base64.URLEncoding.EncodeToString(pub)},
		{"standard", base64.StdEncoding.EncodeToString(pub)},
		{"surrounding space", "  " + base64.RawURLEncoding.EncodeToString(pub) + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := DecodeApplicationServerKey(tt.in)
			require.NoError(t, err)
			assert.Equal(t, pub, raw)
			assert.NoError(t, ValidateP256Key(raw))
		})
	}
}

func TestDecodeApplicationServerKey_ShortKeyDecodes(t *testing.T) {
	raw, err := DecodeApplicationServerKey("BEXAMPLEKEY")
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.ErrorIs(t, ValidateP256Key(raw), ErrInvalidKey)
}

func TestDecodeApplicationServerKey_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "not*base64!"} {
		_, err := DecodeApplicationServerKey(in)
		assert.ErrorIs(t, err, ErrInvalidKey, "input %q", in)
	}
}

func TestWorkerStatePending(t *testing.T) {
	assert.True(t, WorkerInstalling.Pending())
	assert.True(t, WorkerInstalled.Pending())
	assert.True(t, WorkerActivating.Pending())
	assert.False(t, WorkerActivated.Pending())
	assert.False(t, WorkerRedundant.Pending())
}

func TestEncodeKeyRoundTrip(t *testing.T) {
	raw := []byte{0x04, 0x01, 0xfe, 0xff}
	enc := EncodeKey(raw)
	assert.NotContains(t, enc, "=")
	got, err := DecodeApplicationServerKey(enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}
