package issuer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"custody/internal/authorization/digest"
	dErrors "custody/pkg/domain-errors"
)

// legacyRecoveryOffset is added to the recovery id by wallets that produce
// 27/28-style signatures.
const legacyRecoveryOffset = 27

// Config is the immutable issuer configuration. A different signer means a
// different Config and a different Issuer; there is no in-place rotation.
type Config struct {
	Signer common.Address
}

// Issuer answers two questions for the vault: who signed this digest, and is
// that identity the designated authorizer. It holds no mutable state.
type Issuer struct {
	signer common.Address
}

// New constructs an Issuer for the configured signer.
func New(cfg Config) (*Issuer, error) {
	if cfg.Signer == (common.Address{}) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "authorized signer required")
	}
	return &Issuer{signer: cfg.Signer}, nil
}

// Signer returns the designated authorizer address.
func (i *Issuer) Signer() common.Address {
	return i.signer
}

// VerifySigner recovers the address that produced signature over the
// personal-message form of d.
//
// The signature must be 65 bytes laid out as r || s || v, with v in {0,1} or
// {27,28}. High-s signatures are rejected so each authorization has exactly one
// valid encoding.
func (i *Issuer) VerifySigner(d common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, dErrors.New(dErrors.CodeMalformedSignature, "signature must be 65 bytes")
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)

	v := sig[crypto.RecoveryIDOffset]
	if v >= legacyRecoveryOffset {
		v -= legacyRecoveryOffset
	}
	if v > 1 {
		return common.Address{}, dErrors.New(dErrors.CodeMalformedSignature, "invalid signature recovery id")
	}

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(v, r, s, true) {
		return common.Address{}, dErrors.New(dErrors.CodeMalformedSignature, "invalid signature values")
	}
	sig[crypto.RecoveryIDOffset] = v

	pub, err := crypto.SigToPub(digest.PrefixedHash(d).Bytes(), sig)
	if err != nil {
		return common.Address{}, dErrors.Wrap(err, dErrors.CodeMalformedSignature, "signature recovery failed")
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// IsAuthorized reports whether identity is the designated signer.
func (i *Issuer) IsAuthorized(identity common.Address) bool {
	return identity == i.signer
}
