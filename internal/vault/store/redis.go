package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"custody/internal/vault/models"
)

const (
	redisKeyPrefix      = "vault:"
	defaultRedisRetries = 64
)

// RedisLedger keeps one vault's state in three keys and mutates them inside
// WATCH/MULTI transactions. A transaction aborted by a concurrent writer is
// retried from the read step, up to maxRetries times.
type RedisLedger struct {
	client     *redis.Client
	balanceKey string
	consumed   string
	payouts    string
	maxRetries int
}

func NewRedis(client *redis.Client, vault common.Address) *RedisLedger {
	base := redisKeyPrefix + addrKey(vault)
	return &RedisLedger{
		client:     client,
		balanceKey: base + ":balance",
		consumed:   base + ":consumed",
		payouts:    base + ":payouts",
		maxRetries: defaultRedisRetries,
	}
}

type redisConsumption struct {
	Recipient  string    `json:"recipient"`
	Amount     string    `json:"amount"`
	ConsumedAt time.Time `json:"consumed_at"`
}

func (l *RedisLedger) Credit(ctx context.Context, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	var updated *big.Int
	err := l.withRetry(ctx, func(tx *redis.Tx) error {
		balance, err := readBig(ctx, tx, l.balanceKey)
		if err != nil {
			return err
		}
		balance.Add(balance, amount)
		if balance.Cmp(MaxBalance) > 0 {
			return ErrBalanceOverflow
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, l.balanceKey, balance.String(), 0)
			return nil
		})
		updated = balance
		return err
	}, l.balanceKey)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (l *RedisLedger) Balance(ctx context.Context) (*big.Int, error) {
	return readBig(ctx, l.client, l.balanceKey)
}

func (l *RedisLedger) Consume(ctx context.Context, c models.Consumption) (*big.Int, error) {
	if c.Amount == nil || c.Amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	field := c.AuthorizationID.Hex()
	recipient := addrKey(c.Recipient)
	record, err := json.Marshal(redisConsumption{
		Recipient:  recipient,
		Amount:     c.Amount.String(),
		ConsumedAt: c.ConsumedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode consumption: %w", err)
	}

	var remaining *big.Int
	err = l.withRetry(ctx, func(tx *redis.Tx) error {
		used, err := tx.HExists(ctx, l.consumed, field).Result()
		if err != nil {
			return fmt.Errorf("check authorization: %w", err)
		}
		if used {
			return ErrAlreadyConsumed
		}
		balance, err := readBig(ctx, tx, l.balanceKey)
		if err != nil {
			return err
		}
		if c.Amount.Cmp(balance) > 0 {
			return ErrInsufficientFunds
		}
		paid, err := readBigField(ctx, tx, l.payouts, recipient)
		if err != nil {
			return err
		}

		balance.Sub(balance, c.Amount)
		paid.Add(paid, c.Amount)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, l.consumed, field, record)
			pipe.Set(ctx, l.balanceKey, balance.String(), 0)
			pipe.HSet(ctx, l.payouts, recipient, paid.String())
			return nil
		})
		remaining = balance
		return err
	}, l.balanceKey, l.consumed, l.payouts)
	if err != nil {
		return nil, err
	}
	return remaining, nil
}

func (l *RedisLedger) IsConsumed(ctx context.Context, id common.Hash) (bool, error) {
	used, err := l.client.HExists(ctx, l.consumed, id.Hex()).Result()
	if err != nil {
		return false, fmt.Errorf("check authorization: %w", err)
	}
	return used, nil
}

func (l *RedisLedger) PaidOut(ctx context.Context, recipient common.Address) (*big.Int, error) {
	return readBigField(ctx, l.client, l.payouts, addrKey(recipient))
}

func (l *RedisLedger) withRetry(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < l.maxRetries; attempt++ {
		err := l.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrContention
}

// redisReader is satisfied by both *redis.Client and *redis.Tx.
type redisReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

func readBig(ctx context.Context, c redisReader, key string) (*big.Int, error) {
	raw, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return parseNumeric(raw)
}

func readBigField(ctx context.Context, c redisReader, key, field string) (*big.Int, error) {
	raw, err := c.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s[%s]: %w", key, field, err)
	}
	return parseNumeric(raw)
}
