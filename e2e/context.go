package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"custody/internal/authorization/digest"
	"custody/internal/authorization/issuer"
	"custody/internal/authorization/signer"
	"custody/internal/chain"
	"custody/internal/platform/config"
	vaultHandler "custody/internal/vault/handler"
	"custody/internal/vault/models"
	vaultService "custody/internal/vault/service"
	"custody/internal/vault/store"
	"custody/pkg/platform/middleware/request"
)

const (
	devAuthorizerKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	otherKey         = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

// TestContext holds state between test steps. Without BASE_URL every
// scenario gets its own in-process vault; with it, scenarios run against a
// deployed server and balances are compared to the balance seen at the start
// of the scenario.
type TestContext struct {
	BaseURL          string
	HTTPClient       *http.Client
	LastResponse     *http.Response
	LastResponseBody []byte

	Vault   common.Address
	ChainID *big.Int

	authorizer *signer.Signer
	other      *signer.Signer
	server     *httptest.Server

	// runID keeps authorization ids unique across runs against a shared server
	runID           string
	startBalance    *big.Int
	startPaidOut    map[common.Address]*big.Int
	signed          map[string]models.WithdrawRequest
	namedRecipients map[string]common.Address
}

// NewTestContext creates a new test context
func NewTestContext() (*TestContext, error) {
	authorizer, err := signer.FromHex(envOr("AUTHORIZER_KEY", devAuthorizerKey))
	if err != nil {
		return nil, fmt.Errorf("load authorizer key: %w", err)
	}
	other, err := signer.FromHex(otherKey)
	if err != nil {
		return nil, fmt.Errorf("load other key: %w", err)
	}

	tc := &TestContext{
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		authorizer:   authorizer,
		other:        other,
		runID:        uuid.NewString(),
		startPaidOut: map[common.Address]*big.Int{},
		signed:       map[string]models.WithdrawRequest{},
		namedRecipients: map[string]common.Address{
			"alice": common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
			"bob":   common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"),
		},
	}

	if baseURL := os.Getenv("BASE_URL"); baseURL != "" {
		tc.BaseURL = strings.TrimSuffix(baseURL, "/")
	} else if err := tc.startInProcess(); err != nil {
		return nil, err
	}
	return tc, nil
}

// startInProcess serves a fresh vault on the dev identities with an
// in-memory ledger.
func (tc *TestContext) startInProcess() error {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	verifier, err := issuer.New(issuer.Config{Signer: tc.authorizer.Address()})
	if err != nil {
		return err
	}
	source, err := chain.NewStatic(config.DevChainID)
	if err != nil {
		return err
	}
	svc, err := vaultService.New(config.DevVaultAddress, verifier, store.NewInMemory(), source,
		vaultService.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.ContentTypeJSON)
	vaultHandler.New(svc, logger).Register(r)

	tc.server = httptest.NewServer(r)
	tc.BaseURL = tc.server.URL
	return nil
}

// Close stops the in-process server, if any.
func (tc *TestContext) Close() {
	if tc.server != nil {
		tc.server.Close()
	}
}

// AuthorizationID derives the id used for a scenario label.
func (tc *TestContext) AuthorizationID(label string) common.Hash {
	if tc.server != nil {
		return digest.IDFromLabel(label)
	}
	return digest.IDFromLabel(tc.runID + ":" + label)
}

// Recipient resolves a named recipient.
func (tc *TestContext) Recipient(name string) (common.Address, error) {
	if common.IsHexAddress(name) {
		return common.HexToAddress(name), nil
	}
	addr, ok := tc.namedRecipients[strings.ToLower(name)]
	if !ok {
		return common.Address{}, fmt.Errorf("unknown recipient %q", name)
	}
	return addr, nil
}

// POST makes a POST request and stores the response
func (tc *TestContext) POST(path string, body any) error {
	return tc.POSTWithHeaders(path, body, nil)
}

// POSTWithHeaders makes a POST request with optional headers
func (tc *TestContext) POSTWithHeaders(path string, body any, headers map[string]string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, tc.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return tc.do(req)
}

// GET makes a GET request and stores the response
func (tc *TestContext) GET(path string) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, tc.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}

	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	return nil
}

// GetResponseField extracts a field from the JSON response
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var data map[string]any
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	value, ok := data[field]
	if !ok {
		return nil, fmt.Errorf("field %s not found in response", field)
	}
	return value, nil
}

func (tc *TestContext) decodeLast(v any) error {
	if err := json.Unmarshal(tc.LastResponseBody, v); err != nil {
		return fmt.Errorf("failed to unmarshal response %q: %w", tc.LastResponseBody, err)
	}
	return nil
}

// fetchBigInt GETs path and parses a base-unit field from the response.
func (tc *TestContext) fetchBigInt(path, field string) (*big.Int, error) {
	if err := tc.GET(path); err != nil {
		return nil, err
	}
	if tc.LastResponse.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d: %s", path, tc.LastResponse.StatusCode, tc.LastResponseBody)
	}
	raw, err := tc.GetResponseField(field)
	if err != nil {
		return nil, err
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("field %s is not a string: %v", field, raw)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("field %s is not an integer: %q", field, s)
	}
	return v, nil
}

func (tc *TestContext) balance() (*big.Int, error) {
	return tc.fetchBigInt("/vault/balance", "balance")
}

func (tc *TestContext) paidOut(recipient common.Address) (*big.Int, error) {
	return tc.fetchBigInt("/vault/payouts/"+recipient.Hex(), "total")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
