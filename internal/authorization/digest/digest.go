// Package digest builds the canonical hash that binds a withdrawal
// authorization to one vault, one recipient, one amount, one authorization id
// and one chain.
//
// The packed layout is load-bearing: signatures produced off-system over the
// same five fields must reproduce the exact same bytes.
//
//	vault      20 bytes
//	recipient  20 bytes
//	amount     32 bytes, big-endian uint256
//	id         32 bytes, as-is
//	chain id   32 bytes, big-endian uint256
package digest

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// EncodedLen is the size of the packed authorization preimage.
const EncodedLen = common.AddressLength*2 + 32*3

// ErrOutOfRange reports an amount or chain id that has no uint256 encoding.
var ErrOutOfRange = errors.New("value is not a uint256")

// Authorization holds the five fields covered by a withdrawal signature.
// It is never stored; signer and verifier each rebuild it.
type Authorization struct {
	Vault     common.Address
	Recipient common.Address
	Amount    *big.Int
	ID        common.Hash
	ChainID   *big.Int
}

// Encode returns the packed preimage of the authorization.
func (a Authorization) Encode() ([]byte, error) {
	amount, err := uint256Bytes(a.Amount)
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	chainID, err := uint256Bytes(a.ChainID)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}

	buf := make([]byte, 0, EncodedLen)
	buf = append(buf, a.Vault.Bytes()...)
	buf = append(buf, a.Recipient.Bytes()...)
	buf = append(buf, amount...)
	buf = append(buf, a.ID.Bytes()...)
	buf = append(buf, chainID...)
	return buf, nil
}

// Digest returns keccak256 of the packed preimage.
func (a Authorization) Digest() (common.Hash, error) {
	encoded, err := a.Encode()
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

// Compute is shorthand for building an Authorization and hashing it.
func Compute(vault, recipient common.Address, amount *big.Int, id common.Hash, chainID *big.Int) (common.Hash, error) {
	return Authorization{
		Vault:     vault,
		Recipient: recipient,
		Amount:    amount,
		ID:        id,
		ChainID:   chainID,
	}.Digest()
}

// PrefixedHash returns the personal-message hash actually signed by the
// authorizer: keccak256("\x19Ethereum Signed Message:\n32" || digest).
func PrefixedHash(d common.Hash) common.Hash {
	return common.BytesToHash(accounts.TextHash(d.Bytes()))
}

// IDFromLabel derives a 32-byte authorization id from a human label, the way
// off-system tooling names authorizations ("auth1" -> keccak256("auth1")).
func IDFromLabel(label string) common.Hash {
	return crypto.Keccak256Hash([]byte(label))
}

func uint256Bytes(v *big.Int) ([]byte, error) {
	if v == nil || v.Sign() < 0 || v.BitLen() > 256 {
		return nil, ErrOutOfRange
	}
	// U256Bytes truncates its argument in place.
	return math.U256Bytes(new(big.Int).Set(v)), nil
}
