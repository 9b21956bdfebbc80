package sealing

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"petshop-provenance-ledger/internal/domain/entity"
	"petshop-provenance-ledger/internal/infrastructure/config"
	"petshop-provenance-ledger/internal/infrastructure/logger"
	"petshop-provenance-ledger/pkg/utils"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// Sealer signs record hashes with a secp256k1 key. A Sealer without a key
// is disabled: it produces no seals and accepts unsealed records.
type Sealer struct {
	key    *ecdsa.PrivateKey
	signer string
}

// NewSealer creates a sealer from ledger.sealing_key (hex, optional 0x prefix)
func NewSealer(cfg *config.Config, log *logger.Logger) (*Sealer, error) {
	if cfg.Ledger.SealingKey == "" {
		log.Info("Record sealing disabled")
		return &Sealer{}, nil
	}

	sealer, err := NewSealerFromHex(cfg.Ledger.SealingKey)
	if err != nil {
		return nil, err
	}
	log.Info("Record sealing enabled", zap.String("signer", sealer.signer))
	return sealer, nil
}

// NewSealerFromHex creates a sealer from a hex encoded private key
func NewSealerFromHex(keyHex string) (*Sealer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid sealing key: %w", err)
	}
	return &Sealer{
		key:    key,
		signer: crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}, nil
}

// GenerateKey returns a new hex encoded private key and its signer address
func GenerateKey() (keyHex, signer string, err error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", "", err
	}
	return hex.EncodeToString(crypto.FromECDSA(key)), crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// Enabled reports whether records are sealed
func (s *Sealer) Enabled() bool {
	return s.key != nil
}

// Signer returns the address of the sealing key
func (s *Sealer) Signer() string {
	return s.signer
}

// Seal signs the 32-byte record hash
func (s *Sealer) Seal(hash string) (*entity.Seal, error) {
	if !s.Enabled() {
		return nil, nil
	}
	digest, err := digestBytes(hash)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to seal record: %w", err)
	}
	return &entity.Seal{
		Signer:    s.signer,
		Signature: hexutil.Encode(sig),
	}, nil
}

// VerifySeal recovers the signer of seal and compares it with the claimed one
func (s *Sealer) VerifySeal(hash string, seal *entity.Seal) bool {
	if seal == nil {
		return false
	}
	digest, err := digestBytes(hash)
	if err != nil {
		return false
	}
	sig, err := hexutil.Decode(seal.Signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return false
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return false
	}
	recovered := crypto.PubkeyToAddress(*pub).Hex()
	if recovered != seal.Signer {
		return false
	}
	// a configured key only trusts its own seals
	if s.Enabled() && recovered != s.signer {
		return false
	}
	return true
}

func digestBytes(hash string) ([]byte, error) {
	if !utils.ValidateDigest(hash) {
		return nil, fmt.Errorf("record hash %q is not a SHA-256 hex digest", utils.TruncateString(hash, 16))
	}
	return hex.DecodeString(hash)
}
