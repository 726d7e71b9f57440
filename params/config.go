package params

import (
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Node struct {
	DataDir string
	LogFile string
	APIAddr string
	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string
}

type Custody struct {
	// Account is the exchange's own ledger identity: deposits must be addressed
	// to it and withdrawals are sent from it.
	Account common.Address
	// Notifier is the only signer allowed to submit deposit notifications.
	Notifier common.Address
	// AllowUnverifiedDeposits lets any signer report deposits while Notifier
	// is unset. Devnet only.
	AllowUnverifiedDeposits bool
	// Issuers restricts accepted token contracts; empty accepts any.
	Issuers []string
	ChainID *big.Int
}

type Kafka struct {
	Brokers       []string
	TransferTopic string
	EventTopic    string
}

type Config struct {
	Node    Node
	Custody Custody
	Kafka   Kafka
}

func Default() Config {
	return Config{
		Node: Node{
			DataDir:     "data",
			LogFile:     "data/node.log",
			APIAddr:     ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Custody: Custody{
			Account: common.HexToAddress("0x00000000000000000000000000000000000c0570"),
			ChainID: big.NewInt(1337),
		},
		Kafka: Kafka{
			TransferTopic: "custody.transfers",
			EventTopic:    "custody.events",
		},
	}
}

// Validate rejects configurations the node must not start with.
func (c Config) Validate() error {
	if c.Custody.Account == (common.Address{}) {
		return errors.New("CUSTODY_ACCOUNT must be set")
	}
	if c.Custody.Notifier == (common.Address{}) && !c.Custody.AllowUnverifiedDeposits {
		return errors.New("DEPOSIT_NOTIFIER must be set (or ALLOW_UNVERIFIED_DEPOSITS=true on a devnet)")
	}
	return nil
}

// LedgerPath is where the pebble database lives.
func (c Config) LedgerPath() string {
	return filepath.Join(c.Node.DataDir, "ledger")
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", filepath.Join(cfg.Node.DataDir, "node.log"))
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.Node.CORSOrigins = splitAndTrim(origins)
	}

	if acc := os.Getenv("CUSTODY_ACCOUNT"); common.IsHexAddress(acc) {
		cfg.Custody.Account = common.HexToAddress(acc)
	}
	if n := os.Getenv("DEPOSIT_NOTIFIER"); common.IsHexAddress(n) {
		cfg.Custody.Notifier = common.HexToAddress(n)
	}
	if v, err := strconv.ParseBool(os.Getenv("ALLOW_UNVERIFIED_DEPOSITS")); err == nil {
		cfg.Custody.AllowUnverifiedDeposits = v
	}
	if issuers := os.Getenv("ALLOWED_ISSUERS"); issuers != "" {
		cfg.Custody.Issuers = splitAndTrim(issuers)
	}
	if id := os.Getenv("CHAIN_ID"); id != "" {
		if v, err := strconv.ParseInt(id, 10, 64); err == nil && v > 0 {
			cfg.Custody.ChainID = big.NewInt(v)
		}
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitAndTrim(brokers)
	}
	cfg.Kafka.TransferTopic = getEnv("TRANSFER_TOPIC", cfg.Kafka.TransferTopic)
	cfg.Kafka.EventTopic = getEnv("EVENT_TOPIC", cfg.Kafka.EventTopic)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
