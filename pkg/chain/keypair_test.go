package chain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeypairJSONRoundTrip(t *testing.T) {
	kp, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	b, err := KeypairJSON(kp)
	require.NoError(t, err)

	parsed, err := ParseKeypairJSON(" " + string(b) + "\n")
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey(), parsed.PublicKey())

	// 与 solana-keygen 文件格式一致
	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, b, 0o600))
	fromFile, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey(), fromFile.PublicKey())

	_, err = ParseKeypairJSON("[1,2,3]")
	assert.Error(t, err)
}
