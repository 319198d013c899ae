// Package main provides a CLI for signing withdrawal authorizations against a
// custody vault. The default key is the public local development key and
// will NOT be accepted by a production deployment.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"custody/internal/authorization/digest"
	"custody/internal/authorization/signer"
	"custody/pkg/units"
)

const (
	// Dev authorizer key, matches config.DevSigner.
	devSignerKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

	defaultVault   = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	defaultChainID = "31337"
	defaultBaseURL = "http://localhost:8080"

	keyEnv = "AUTHSIGN_PRIVATE_KEY"
)

type signOptions struct {
	key       string
	vault     string
	recipient string
	amount    string
	wei       bool
	id        string
	label     string
	chainID   string
}

type signOutput struct {
	Signer    string          `json:"signer"`
	Digest    string          `json:"digest"`
	Signature string          `json:"signature"`
	ChainID   string          `json:"chain_id"`
	Request   withdrawRequest `json:"request"`
}

type withdrawRequest struct {
	Recipient       string `json:"recipient"`
	Amount          string `json:"amount"`
	AuthorizationID string `json:"authorization_id"`
	Signature       string `json:"signature"`
}

func main() {
	signCmd := flag.NewFlagSet("sign", flag.ExitOnError)
	addressCmd := flag.NewFlagSet("address", flag.ExitOnError)
	idCmd := flag.NewFlagSet("id", flag.ExitOnError)

	var opts signOptions
	signCmd.StringVar(&opts.key, "key", "", "Signer private key (hex). Falls back to $"+keyEnv+", then the dev key.")
	signCmd.StringVar(&opts.vault, "vault", defaultVault, "Vault address the authorization is bound to")
	signCmd.StringVar(&opts.recipient, "recipient", "", "Recipient address (required)")
	signCmd.StringVar(&opts.amount, "amount", "", "Amount in ether, e.g. 1.5 (required)")
	signCmd.BoolVar(&opts.wei, "wei", false, "Interpret -amount as base units")
	signCmd.StringVar(&opts.id, "id", "", "Authorization id as 32-byte hex")
	signCmd.StringVar(&opts.label, "label", "", "Derive the authorization id as keccak256(label)")
	signCmd.StringVar(&opts.chainID, "chain-id", defaultChainID, "Chain id the authorization is bound to")
	signJSON := signCmd.Bool("json", false, "Output as JSON")

	addressKey := addressCmd.String("key", "", "Signer private key (hex). Falls back to $"+keyEnv+", then the dev key.")
	idLabel := idCmd.String("label", "", "Label to hash into an authorization id")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "sign":
		signCmd.Parse(os.Args[2:]) //nolint:errcheck // ExitOnError
		out, err := sign(opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if *signJSON {
			printJSON(out)
		} else {
			printSign(out)
		}
	case "address":
		addressCmd.Parse(os.Args[2:]) //nolint:errcheck // ExitOnError
		s, err := loadSigner(*addressKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(s.Address().Hex())
	case "id":
		idCmd.Parse(os.Args[2:]) //nolint:errcheck // ExitOnError
		if *idLabel == "" {
			fmt.Fprintln(os.Stderr, "Error: -label is required")
			os.Exit(1)
		}
		fmt.Println(digest.IDFromLabel(*idLabel).Hex())
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`authsign - Sign withdrawal authorizations for a custody vault

WARNING: Without -key or $` + keyEnv + ` the public dev key is used.
         Only use it for local development and testing.

Usage:
  authsign <command> [flags]

Commands:
  sign      Sign an authorization and print the withdraw request body
  address   Print the address of a signing key
  id        Derive an authorization id from a label

Examples:
  # Authorize 1 ether to a recipient under id keccak256("auth1")
  authsign sign -recipient 0x70997970C51812dc3A010C7d01b50e0d17dc79C8 -amount 1 -label auth1

  # Same, bound to a different chain and vault
  authsign sign -recipient 0x7099... -amount 0.5 -label auth2 -chain-id 1 -vault 0x...

  # Amount in base units and an explicit id
  authsign sign -recipient 0x7099... -amount 1000 -wei -id 0x<64 hex chars>

  # Output as JSON, ready to pipe into curl
  authsign sign -recipient 0x7099... -amount 1 -label auth1 -json

Use "authsign <command> -h" for more information about a command.`)
}

func sign(opts signOptions) (signOutput, error) {
	s, err := loadSigner(opts.key)
	if err != nil {
		return signOutput{}, err
	}
	auth, err := buildAuthorization(opts)
	if err != nil {
		return signOutput{}, err
	}
	d, err := auth.Digest()
	if err != nil {
		return signOutput{}, err
	}
	sig, err := s.SignDigest(d)
	if err != nil {
		return signOutput{}, err
	}

	encoded := hexutil.Encode(sig)
	return signOutput{
		Signer:    s.Address().Hex(),
		Digest:    d.Hex(),
		Signature: encoded,
		ChainID:   auth.ChainID.String(),
		Request: withdrawRequest{
			Recipient:       auth.Recipient.Hex(),
			Amount:          auth.Amount.String(),
			AuthorizationID: auth.ID.Hex(),
			Signature:       encoded,
		},
	}, nil
}

func buildAuthorization(opts signOptions) (digest.Authorization, error) {
	if !common.IsHexAddress(opts.vault) {
		return digest.Authorization{}, fmt.Errorf("invalid vault address %q", opts.vault)
	}
	if !common.IsHexAddress(opts.recipient) {
		return digest.Authorization{}, fmt.Errorf("invalid recipient address %q", opts.recipient)
	}

	amount, err := parseAmount(opts.amount, opts.wei)
	if err != nil {
		return digest.Authorization{}, err
	}

	id, err := parseID(opts.id, opts.label)
	if err != nil {
		return digest.Authorization{}, err
	}

	chainID, ok := new(big.Int).SetString(strings.TrimSpace(opts.chainID), 10)
	if !ok || chainID.Sign() < 0 {
		return digest.Authorization{}, fmt.Errorf("invalid chain id %q", opts.chainID)
	}

	return digest.Authorization{
		Vault:     common.HexToAddress(opts.vault),
		Recipient: common.HexToAddress(opts.recipient),
		Amount:    amount,
		ID:        id,
		ChainID:   chainID,
	}, nil
}

func parseAmount(raw string, baseUnits bool) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("-amount is required")
	}
	if !baseUnits {
		amount, err := units.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
		}
		return amount, nil
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func parseID(raw, label string) (common.Hash, error) {
	switch {
	case raw != "" && label != "":
		return common.Hash{}, fmt.Errorf("use either -id or -label, not both")
	case label != "":
		return digest.IDFromLabel(label), nil
	case raw == "":
		return common.Hash{}, fmt.Errorf("-id or -label is required")
	}
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid authorization id %q: want 0x-prefixed 32-byte hex", raw)
	}
	return common.BytesToHash(b), nil
}

func loadSigner(key string) (*signer.Signer, error) {
	if key == "" {
		key = os.Getenv(keyEnv)
	}
	if key == "" {
		key = devSignerKey
	}
	return signer.FromHex(key)
}

func printSign(out signOutput) {
	fmt.Println("Withdrawal Authorization")
	fmt.Println("========================")
	fmt.Printf("Signer:     %s\n", out.Signer)
	fmt.Printf("Recipient:  %s\n", out.Request.Recipient)
	fmt.Printf("Amount:     %s (%s ether)\n", out.Request.Amount, formatEther(out.Request.Amount))
	fmt.Printf("Auth ID:    %s\n", out.Request.AuthorizationID)
	fmt.Printf("Chain ID:   %s\n", out.ChainID)
	fmt.Printf("Digest:     %s\n", out.Digest)
	fmt.Println()
	fmt.Println("Signature:")
	fmt.Println(out.Signature)
	fmt.Println()
	body, _ := json.Marshal(out.Request) //nolint:errcheck // plain strings
	fmt.Println("Usage:")
	fmt.Printf("  curl -X POST %s/vault/withdraw -H 'Content-Type: application/json' -d '%s'\n", defaultBaseURL, body)
}

func formatEther(base string) string {
	v, ok := new(big.Int).SetString(base, 10)
	if !ok {
		return "?"
	}
	return units.Format(v)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}
