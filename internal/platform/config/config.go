package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger backends.
const (
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
)

// Audit sinks.
const (
	AuditMemory = "memory"
	AuditKafka  = "kafka"
)

// Local development identities. Production refuses both.
var (
	DevVaultAddress = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	DevSigner       = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	DevChainID      = big.NewInt(31337)
)

// Server captures process level configuration.
type Server struct {
	Addr            string
	Environment     string
	LogLevel        string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	Vault           VaultConfig
	Database        DatabaseConfig
	Redis           RedisConfig
	Audit           AuditConfig
}

// VaultConfig identifies the vault and its authorizer. ChainRPCURL, when set,
// takes precedence over the static ChainID.
type VaultConfig struct {
	Address       common.Address
	Signer        common.Address
	ChainID       *big.Int
	ChainRPCURL   string
	LedgerBackend string
}

type DatabaseConfig struct {
	URL              string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	MigrateOnStartup bool
}

type RedisConfig struct {
	URL           string
	PoolSize      int
	MinIdleConns  int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	StatsInterval time.Duration
}

type AuditConfig struct {
	Sink         string
	KafkaBrokers string
	Topic        string
	BufferSize   int
}

// IsProduction reports whether dev defaults must be refused.
func (s Server) IsProduction() bool {
	return s.Environment == "production"
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	var errs []error

	cfg := Server{
		Addr:            getEnv("CUSTODY_ADDR", ":8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 15*time.Second, &errs),
		RequestTimeout:  getDuration("REQUEST_TIMEOUT", 10*time.Second, &errs),
		Vault: VaultConfig{
			Address:       getAddress("VAULT_ADDRESS", DevVaultAddress, &errs),
			Signer:        getAddress("AUTHORIZED_SIGNER", DevSigner, &errs),
			ChainID:       getBigInt("CHAIN_ID", DevChainID, &errs),
			ChainRPCURL:   os.Getenv("CHAIN_RPC_URL"),
			LedgerBackend: strings.ToLower(getEnv("LEDGER_BACKEND", LedgerMemory)),
		},
		Database: DatabaseConfig{
			URL:              os.Getenv("DATABASE_URL"),
			MaxOpenConns:     getInt("DATABASE_MAX_OPEN_CONNS", 25, &errs),
			MaxIdleConns:     getInt("DATABASE_MAX_IDLE_CONNS", 5, &errs),
			ConnMaxLifetime:  getDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute, &errs),
			MigrateOnStartup: os.Getenv("DATABASE_MIGRATE") == "true",
		},
		Redis: RedisConfig{
			URL:           os.Getenv("REDIS_URL"),
			PoolSize:      getInt("REDIS_POOL_SIZE", 20, &errs),
			MinIdleConns:  getInt("REDIS_MIN_IDLE_CONNS", 2, &errs),
			DialTimeout:   getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second, &errs),
			ReadTimeout:   getDuration("REDIS_READ_TIMEOUT", 3*time.Second, &errs),
			WriteTimeout:  getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second, &errs),
			StatsInterval: getDuration("REDIS_STATS_INTERVAL", 15*time.Second, &errs),
		},
		Audit: AuditConfig{
			Sink:         strings.ToLower(getEnv("AUDIT_SINK", AuditMemory)),
			KafkaBrokers: os.Getenv("KAFKA_BROKERS"),
			Topic:        getEnv("AUDIT_TOPIC", "custody.vault.audit"),
			BufferSize:   getInt("AUDIT_BUFFER_SIZE", 256, &errs),
		},
	}

	if err := errors.Join(errs...); err != nil {
		return Server{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate checks cross-field rules.
func (s Server) Validate() error {
	var errs []error

	if s.Vault.Address == (common.Address{}) {
		errs = append(errs, errors.New("VAULT_ADDRESS must be a non-zero address"))
	}
	if s.Vault.Signer == (common.Address{}) {
		errs = append(errs, errors.New("AUTHORIZED_SIGNER must be a non-zero address"))
	}
	if s.Vault.ChainRPCURL == "" && (s.Vault.ChainID == nil || s.Vault.ChainID.Sign() < 0) {
		errs = append(errs, errors.New("CHAIN_ID must be a non-negative integer when CHAIN_RPC_URL is unset"))
	}

	switch s.Vault.LedgerBackend {
	case LedgerMemory:
	case LedgerPostgres:
		if s.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres ledger"))
		}
	case LedgerRedis:
		if s.Redis.URL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis ledger"))
		}
	default:
		errs = append(errs, fmt.Errorf("LEDGER_BACKEND %q is not one of memory, postgres, redis", s.Vault.LedgerBackend))
	}

	switch s.Audit.Sink {
	case AuditMemory:
	case AuditKafka:
		if s.Audit.KafkaBrokers == "" {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for the kafka audit sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("AUDIT_SINK %q is not one of memory, kafka", s.Audit.Sink))
	}

	if s.IsProduction() {
		if s.Vault.Signer == DevSigner {
			errs = append(errs, errors.New("AUTHORIZED_SIGNER must not be the development signer in production"))
		}
		if s.Vault.LedgerBackend == LedgerMemory {
			errs = append(errs, errors.New("the memory ledger is not allowed in production"))
		}
	}

	return errors.Join(errs...)
}

// ChainSource describes where the chain id comes from, for startup logs.
func (v VaultConfig) ChainSource() string {
	if v.ChainRPCURL != "" {
		return "rpc"
	}
	return "static"
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int, errs *[]error) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func getAddress(key string, fallback common.Address, errs *[]error) common.Address {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if !common.IsHexAddress(raw) {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a hex address", key, raw))
		return fallback
	}
	return common.HexToAddress(raw)
}

func getBigInt(key string, fallback *big.Int, errs *[]error) *big.Int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return new(big.Int).Set(fallback)
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a base-10 integer", key, raw))
		return new(big.Int).Set(fallback)
	}
	return v
}
