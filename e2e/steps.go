package e2e

import (
	"context"
	"fmt"
	"math/big"

	"github.com/cucumber/godog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"custody/internal/authorization/digest"
	"custody/internal/authorization/signer"
	"custody/internal/vault/handler"
	"custody/internal/vault/models"
	"custody/pkg/units"
)

// RegisterSteps registers all step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Background steps
	ctx.Step(`^the vault is deployed$`, tc.vaultIsDeployed)

	// Funding steps
	ctx.Step(`^(\w+) deposits (\S+) ether$`, tc.deposits)
	ctx.Step(`^(\w+) sends (\S+) ether directly to the vault$`, tc.sendsDirectly)

	// Signing steps
	ctx.Step(`^the authorizer signs a withdrawal of (\S+) ether to (\w+) with id "([^"]*)"$`, tc.authorizerSigns)
	ctx.Step(`^the authorizer signs a withdrawal of (\S+) ether to (\w+) with id "([^"]*)" for chain (\d+)$`, tc.authorizerSignsForChain)
	ctx.Step(`^the authorizer signs a withdrawal of (\S+) ether to (\w+) with id "([^"]*)" for vault "([^"]*)"$`, tc.authorizerSignsForVault)
	ctx.Step(`^an unknown key signs a withdrawal of (\S+) ether to (\w+) with id "([^"]*)"$`, tc.unknownKeySigns)

	// Submission steps
	ctx.Step(`^I submit the withdrawal "([^"]*)"$`, tc.submitWithdrawal)
	ctx.Step(`^I submit the withdrawal "([^"]*)" with the amount changed to (\S+) ether$`, tc.submitWithAmount)
	ctx.Step(`^I submit the withdrawal "([^"]*)" paying (\w+) instead$`, tc.submitWithRecipient)
	ctx.Step(`^I submit the withdrawal "([^"]*)" with a truncated signature$`, tc.submitTruncated)

	// Assertion steps
	ctx.Step(`^the response status should be (\d+)$`, tc.responseStatusShouldBe)
	ctx.Step(`^the response error should be "([^"]*)"$`, tc.responseErrorShouldBe)
	ctx.Step(`^the vault balance should be (\S+) ether$`, tc.vaultBalanceShouldBe)
	ctx.Step(`^(\w+) should have received (\S+) ether$`, tc.recipientShouldHaveReceived)
	ctx.Step(`^the authorization "([^"]*)" should be consumed$`, tc.authorizationShouldBeConsumed)
	ctx.Step(`^the authorization "([^"]*)" should not be consumed$`, tc.authorizationShouldNotBeConsumed)
}

func (tc *TestContext) vaultIsDeployed(ctx context.Context) error {
	if err := tc.GET("/vault"); err != nil {
		return err
	}
	var info models.VaultInfoResponse
	if err := tc.decodeLast(&info); err != nil {
		return err
	}
	if !common.IsHexAddress(info.Vault) {
		return fmt.Errorf("vault info has no address: %s", tc.LastResponseBody)
	}
	tc.Vault = common.HexToAddress(info.Vault)
	chainID, ok := new(big.Int).SetString(info.ChainID, 10)
	if !ok {
		return fmt.Errorf("vault info has no chain id: %s", tc.LastResponseBody)
	}
	tc.ChainID = chainID
	if common.HexToAddress(info.Signer) != tc.authorizer.Address() {
		return fmt.Errorf("vault authorizer is %s, test key is %s", info.Signer, tc.authorizer.Address().Hex())
	}

	balance, err := tc.balance()
	if err != nil {
		return err
	}
	tc.startBalance = balance
	for _, addr := range tc.namedRecipients {
		paid, err := tc.paidOut(addr)
		if err != nil {
			return err
		}
		tc.startPaidOut[addr] = paid
	}
	return nil
}

func (tc *TestContext) deposits(ctx context.Context, from, amount string) error {
	sender, err := tc.Recipient(from)
	if err != nil {
		return err
	}
	value, err := units.Parse(amount)
	if err != nil {
		return err
	}
	if err := tc.POST("/vault/deposit", models.DepositRequest{From: sender.Hex(), Amount: value.String()}); err != nil {
		return err
	}
	return tc.expectStatus(200)
}

func (tc *TestContext) sendsDirectly(ctx context.Context, from, amount string) error {
	sender, err := tc.Recipient(from)
	if err != nil {
		return err
	}
	value, err := units.Parse(amount)
	if err != nil {
		return err
	}
	err = tc.POSTWithHeaders("/vault", models.TransferRequest{Value: value.String()}, map[string]string{
		handler.SenderHeader: sender.Hex(),
	})
	if err != nil {
		return err
	}
	return tc.expectStatus(200)
}

func (tc *TestContext) authorizerSigns(ctx context.Context, amount, to, label string) error {
	return tc.sign(tc.authorizer, tc.Vault, tc.ChainID, amount, to, label)
}

func (tc *TestContext) authorizerSignsForChain(ctx context.Context, amount, to, label string, chainID int64) error {
	return tc.sign(tc.authorizer, tc.Vault, big.NewInt(chainID), amount, to, label)
}

func (tc *TestContext) authorizerSignsForVault(ctx context.Context, amount, to, label, vault string) error {
	if !common.IsHexAddress(vault) {
		return fmt.Errorf("invalid vault address %q", vault)
	}
	return tc.sign(tc.authorizer, common.HexToAddress(vault), tc.ChainID, amount, to, label)
}

func (tc *TestContext) unknownKeySigns(ctx context.Context, amount, to, label string) error {
	return tc.sign(tc.other, tc.Vault, tc.ChainID, amount, to, label)
}

func (tc *TestContext) sign(s *signer.Signer, vault common.Address, chainID *big.Int, amount, to, label string) error {
	recipient, err := tc.Recipient(to)
	if err != nil {
		return err
	}
	value, err := units.Parse(amount)
	if err != nil {
		return err
	}
	id := tc.AuthorizationID(label)

	sig, err := s.SignAuthorization(digest.Authorization{
		Vault:     vault,
		Recipient: recipient,
		Amount:    value,
		ID:        id,
		ChainID:   chainID,
	})
	if err != nil {
		return err
	}

	tc.signed[label] = models.WithdrawRequest{
		Recipient:       recipient.Hex(),
		Amount:          value.String(),
		AuthorizationID: id.Hex(),
		Signature:       hexutil.Encode(sig),
	}
	return nil
}

func (tc *TestContext) signedRequest(label string) (models.WithdrawRequest, error) {
	req, ok := tc.signed[label]
	if !ok {
		return models.WithdrawRequest{}, fmt.Errorf("no signed withdrawal %q", label)
	}
	return req, nil
}

func (tc *TestContext) submitWithdrawal(ctx context.Context, label string) error {
	req, err := tc.signedRequest(label)
	if err != nil {
		return err
	}
	return tc.POST("/vault/withdraw", req)
}

func (tc *TestContext) submitWithAmount(ctx context.Context, label, amount string) error {
	req, err := tc.signedRequest(label)
	if err != nil {
		return err
	}
	value, err := units.Parse(amount)
	if err != nil {
		return err
	}
	req.Amount = value.String()
	return tc.POST("/vault/withdraw", req)
}

func (tc *TestContext) submitWithRecipient(ctx context.Context, label, to string) error {
	req, err := tc.signedRequest(label)
	if err != nil {
		return err
	}
	recipient, err := tc.Recipient(to)
	if err != nil {
		return err
	}
	req.Recipient = recipient.Hex()
	return tc.POST("/vault/withdraw", req)
}

func (tc *TestContext) submitTruncated(ctx context.Context, label string) error {
	req, err := tc.signedRequest(label)
	if err != nil {
		return err
	}
	// drop the recovery byte
	req.Signature = req.Signature[:len(req.Signature)-2]
	return tc.POST("/vault/withdraw", req)
}

func (tc *TestContext) responseStatusShouldBe(ctx context.Context, expectedStatus int) error {
	return tc.expectStatus(expectedStatus)
}

func (tc *TestContext) expectStatus(expected int) error {
	if tc.LastResponse == nil {
		return fmt.Errorf("no request has been made")
	}
	if tc.LastResponse.StatusCode != expected {
		return fmt.Errorf("expected status %d but got %d: %s", expected, tc.LastResponse.StatusCode, tc.LastResponseBody)
	}
	return nil
}

func (tc *TestContext) responseErrorShouldBe(ctx context.Context, code string) error {
	value, err := tc.GetResponseField("error")
	if err != nil {
		return err
	}
	if fmt.Sprint(value) != code {
		return fmt.Errorf("expected error %q but got %v", code, value)
	}
	return nil
}

func (tc *TestContext) vaultBalanceShouldBe(ctx context.Context, amount string) error {
	want, err := units.Parse(amount)
	if err != nil {
		return err
	}
	got, err := tc.balance()
	if err != nil {
		return err
	}
	delta := new(big.Int).Sub(got, tc.startBalance)
	if delta.Cmp(want) != 0 {
		return fmt.Errorf("expected vault balance %s ether but got %s", amount, units.Format(delta))
	}
	return nil
}

func (tc *TestContext) recipientShouldHaveReceived(ctx context.Context, name, amount string) error {
	recipient, err := tc.Recipient(name)
	if err != nil {
		return err
	}
	want, err := units.Parse(amount)
	if err != nil {
		return err
	}
	got, err := tc.paidOut(recipient)
	if err != nil {
		return err
	}
	start := tc.startPaidOut[recipient]
	if start == nil {
		start = new(big.Int)
	}
	delta := new(big.Int).Sub(got, start)
	if delta.Cmp(want) != 0 {
		return fmt.Errorf("expected %s to have received %s ether but got %s", name, amount, units.Format(delta))
	}
	return nil
}

func (tc *TestContext) authorizationShouldBeConsumed(ctx context.Context, label string) error {
	return tc.expectConsumed(label, true)
}

func (tc *TestContext) authorizationShouldNotBeConsumed(ctx context.Context, label string) error {
	return tc.expectConsumed(label, false)
}

func (tc *TestContext) expectConsumed(label string, want bool) error {
	id := tc.AuthorizationID(label)
	if err := tc.GET("/vault/authorizations/" + id.Hex()); err != nil {
		return err
	}
	var status models.AuthorizationStatusResponse
	if err := tc.decodeLast(&status); err != nil {
		return err
	}
	if status.Consumed != want {
		return fmt.Errorf("authorization %q consumed = %t, want %t", label, status.Consumed, want)
	}
	return nil
}
