package sealing

import (
	"testing"

	"petshop-provenance-ledger/internal/infrastructure/config"
	"petshop-provenance-ledger/internal/infrastructure/logger"
	"petshop-provenance-ledger/pkg/blockhash"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealer_SealAndVerify(t *testing.T) {
	keyHex, signer, err := GenerateKey()
	require.NoError(t, err)

	sealer, err := NewSealerFromHex("0x" + keyHex)
	require.NoError(t, err)
	assert.True(t, sealer.Enabled())
	assert.Equal(t, signer, sealer.Signer())

	hash := blockhash.Digest("record")
	seal, err := sealer.Seal(hash)
	require.NoError(t, err)
	require.NotNil(t, seal)
	assert.Equal(t, signer, seal.Signer)

	assert.True(t, sealer.VerifySeal(hash, seal))
	assert.False(t, sealer.VerifySeal(blockhash.Digest("other"), seal))

	tampered := *seal
	flipped := byte('1')
	if seal.Signature[10] == '1' {
		flipped = '2'
	}
	tampered.Signature = seal.Signature[:10] + string(flipped) + seal.Signature[11:]
	assert.False(t, sealer.VerifySeal(hash, &tampered))

	assert.False(t, sealer.VerifySeal(hash, nil))
}

func TestSealer_RejectsForeignSigner(t *testing.T) {
	ownKey, _, err := GenerateKey()
	require.NoError(t, err)
	foreignKey, _, err := GenerateKey()
	require.NoError(t, err)

	own, err := NewSealerFromHex(ownKey)
	require.NoError(t, err)
	foreign, err := NewSealerFromHex(foreignKey)
	require.NoError(t, err)

	hash := blockhash.Digest("record")
	seal, err := foreign.Seal(hash)
	require.NoError(t, err)

	assert.True(t, foreign.VerifySeal(hash, seal))
	assert.False(t, own.VerifySeal(hash, seal))
}

func TestSealer_Disabled(t *testing.T) {
	sealer, err := NewSealer(&config.Config{}, logger.NewNop())
	require.NoError(t, err)
	assert.False(t, sealer.Enabled())

	seal, err := sealer.Seal(blockhash.Digest("record"))
	assert.NoError(t, err)
	assert.Nil(t, seal)
}

func TestNewSealerFromHex_Invalid(t *testing.T) {
	_, err := NewSealerFromHex("not-a-key")
	assert.Error(t, err)
}

func TestSealer_RejectsMalformedHash(t *testing.T) {
	keyHex, _, err := GenerateKey()
	require.NoError(t, err)
	sealer, err := NewSealerFromHex(keyHex)
	require.NoError(t, err)

	for _, hash := range []string{"", "abc", blockhash.Digest("record")[:62] + "zz"} {
		_, err := sealer.Seal(hash)
		assert.Error(t, err, "hash %q", hash)
	}
}
