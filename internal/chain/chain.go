// Package chain supplies the execution-context (chain) id that every
// withdrawal digest is bound to. Sources are queried on every call so a vault
// never honors a signature against a chain id it read earlier.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"

	dErrors "custody/pkg/domain-errors"
	"custody/pkg/platform/circuit"
)

// Static reports a fixed chain id. Used for local deployments and tests.
type Static struct {
	id *big.Int
}

// NewStatic returns a source that always reports id.
func NewStatic(id *big.Int) (*Static, error) {
	if id == nil || id.Sign() < 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "chain id must be a non-negative integer")
	}
	return &Static{id: new(big.Int).Set(id)}, nil
}

// ChainID returns a copy of the configured id so callers cannot mutate it.
func (s *Static) ChainID(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(s.id), nil
}

// rpcChainIDer is the subset of ethclient.Client used by RPC.
type rpcChainIDer interface {
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

// RPC reads the chain id from a JSON-RPC node on every call. With a breaker,
// a node that keeps failing is skipped until the breaker's cooldown elapses.
type RPC struct {
	client  rpcChainIDer
	breaker *circuit.Breaker
}

// RPCOption configures an RPC source.
type RPCOption func(*RPC)

// WithBreaker guards node calls with b.
func WithBreaker(b *circuit.Breaker) RPCOption {
	return func(r *RPC) {
		r.breaker = b
	}
}

// DialRPC connects to the node at url and verifies it answers eth_chainId.
func DialRPC(ctx context.Context, url string, opts ...RPCOption) (*RPC, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	src := newRPC(client, opts...)
	if _, err := src.ChainID(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return src, nil
}

func newRPC(client rpcChainIDer, opts ...RPCOption) *RPC {
	r := &RPC{client: client}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RPC) ChainID(ctx context.Context) (*big.Int, error) {
	if r.breaker != nil && !r.breaker.Allow() {
		return nil, dErrors.New(dErrors.CodeUnavailable, "chain rpc circuit open")
	}
	id, err := r.client.ChainID(ctx)
	if r.breaker != nil {
		r.breaker.Record(err)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to read chain id")
	}
	return id, nil
}

// Close releases the underlying RPC connection.
func (r *RPC) Close() {
	r.client.Close()
}
