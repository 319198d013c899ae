// Package signer is the off-system half of the authorization protocol: it
// holds a private key and produces signatures the vault's issuer can verify.
// The vault service never imports it; the signing CLI, e2e suite and tests do.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"custody/internal/authorization/digest"
)

// Signer signs authorization digests with a secp256k1 key.
type Signer struct {
	key *ecdsa.PrivateKey
}

// New wraps an existing private key.
func New(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key}
}

// FromHex parses a hex private key, with or without 0x prefix.
func FromHex(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Signer{key: key}, nil
}

// Generate creates a signer with a fresh random key.
func Generate() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Signer{key: key}, nil
}

// Address returns the identity the issuer will recover from this signer's
// signatures.
func (s *Signer) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// SignDigest signs the personal-message form of d and returns r || s || v with
// v in {27,28}, the layout wallets emit for signMessage.
func (s *Signer) SignDigest(d common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(digest.PrefixedHash(d).Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignAuthorization hashes a and signs the resulting digest.
func (s *Signer) SignAuthorization(a digest.Authorization) ([]byte, error) {
	d, err := a.Digest()
	if err != nil {
		return nil, err
	}
	return s.SignDigest(d)
}
