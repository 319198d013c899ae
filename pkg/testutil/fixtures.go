package testutil

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"custody/internal/authorization/digest"
	"custody/internal/authorization/signer"
	"custody/internal/vault/models"
)

// Well-known local development keys (public test mnemonic). Never fund them
// on a real network.
const (
	DevSignerKey    = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	DevRecipientKey = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

// TestAddrs are deterministic addresses for tests.
var TestAddrs = struct {
	Vault      common.Address
	OtherVault common.Address
	Signer     common.Address
	Recipient  common.Address
	Recipient2 common.Address
}{
	Vault:      common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
	OtherVault: common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"),
	Signer:     common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
	Recipient:  common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
	Recipient2: common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"),
}

// DevChainID is the chain id of a local development node.
var DevChainID = big.NewInt(31337)

// Ether returns n whole units in base units.
func Ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

// RandomAddress returns a fresh address so integration tests can share one
// database or redis without truncating between cases.
func RandomAddress() common.Address {
	u := uuid.New()
	return common.BytesToAddress(append(u[:], u[:4]...))
}

// DevSigner returns the signer for DevSignerKey.
func DevSigner(t testing.TB) *signer.Signer {
	t.Helper()
	s, err := signer.FromHex(DevSignerKey)
	if err != nil {
		t.Fatalf("DevSigner: %v", err)
	}
	return s
}

// WithdrawalBuilder produces signed withdraw commands with sensible defaults.
type WithdrawalBuilder struct {
	t       testing.TB
	signer  *signer.Signer
	vault   common.Address
	chainID *big.Int
	cmd     models.WithdrawCommand
}

func NewWithdrawal(t testing.TB, s *signer.Signer) *WithdrawalBuilder {
	return &WithdrawalBuilder{
		t:       t,
		signer:  s,
		vault:   TestAddrs.Vault,
		chainID: DevChainID,
		cmd: models.WithdrawCommand{
			Recipient:       TestAddrs.Recipient,
			Amount:          Ether(1),
			AuthorizationID: digest.IDFromLabel("auth1"),
		},
	}
}

func (b *WithdrawalBuilder) WithVault(v common.Address) *WithdrawalBuilder {
	b.vault = v
	return b
}

func (b *WithdrawalBuilder) WithChainID(id *big.Int) *WithdrawalBuilder {
	b.chainID = id
	return b
}

func (b *WithdrawalBuilder) WithRecipient(r common.Address) *WithdrawalBuilder {
	b.cmd.Recipient = r
	return b
}

func (b *WithdrawalBuilder) WithAmount(a *big.Int) *WithdrawalBuilder {
	b.cmd.Amount = a
	return b
}

func (b *WithdrawalBuilder) WithLabel(label string) *WithdrawalBuilder {
	b.cmd.AuthorizationID = digest.IDFromLabel(label)
	return b
}

// Build signs the authorization and returns the command.
func (b *WithdrawalBuilder) Build() models.WithdrawCommand {
	b.t.Helper()
	sig, err := b.signer.SignAuthorization(digest.Authorization{
		Vault:     b.vault,
		Recipient: b.cmd.Recipient,
		Amount:    b.cmd.Amount,
		ID:        b.cmd.AuthorizationID,
		ChainID:   b.chainID,
	})
	if err != nil {
		b.t.Fatalf("sign authorization: %v", err)
	}
	cmd := b.cmd
	cmd.Amount = new(big.Int).Set(b.cmd.Amount)
	cmd.Signature = sig
	return cmd
}

// NewConsumption builds a ledger record for id paid to recipient.
func NewConsumption(label string, recipient common.Address, amount *big.Int) models.Consumption {
	return models.Consumption{
		AuthorizationID: digest.IDFromLabel(label),
		Recipient:       recipient,
		Amount:          amount,
		ConsumedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}
}
