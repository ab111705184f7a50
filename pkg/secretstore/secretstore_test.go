package secretstore

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeypairRoundTripOnDisk(t *testing.T) {
	dir := t.TempDir()
	encKey := make([]byte, 32)
	for i := range encKey {
		encKey[i] = byte(i)
	}
	kp, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	s, err := Open(OpenOptions{Path: dir, EncryptionKey: encKey})
	require.NoError(t, err)
	require.NoError(t, s.StoreKeypair("payer", kp))
	require.NoError(t, s.Close())

	s, err = Open(OpenOptions{Path: dir, EncryptionKey: encKey, ReadOnly: true})
	require.NoError(t, err)
	defer s.Close()
	got, err := s.LoadKeypair("payer")
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey(), got.PublicKey())
}

func TestLoadKeypairErrors(t *testing.T) {
	s, err := Open(OpenOptions{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.LoadKeypair("payer")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetString("payer", "[1,2,3]"))
	_, err = s.LoadKeypair("payer")
	assert.ErrorContains(t, err, "私钥长度错误")
}

func TestGetStringDistinguishesEmptyValue(t *testing.T) {
	s, err := Open(OpenOptions{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SetString("empty", ""))
	v, ok, err := s.GetString("empty")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, v)

	_, ok, err = s.GetString("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = s.GetString("  ")
	assert.Error(t, err)
}

func TestParseKey(t *testing.T) {
	raw := make([]byte, 32)
	raw[0] = 0xAB

	b, err := ParseKey("0x" + strings.Repeat("00", 31) + "ff")
	require.NoError(t, err)
	assert.Equal(t, byte(0xff), b[31])

	b, err = ParseKey(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, b)

	b, err = ParseKey("")
	require.NoError(t, err)
	assert.Nil(t, b)

	_, err = ParseKey("abcd")
	assert.Error(t, err)
	_, err = ParseKey("not a key!")
	assert.Error(t, err)
}
