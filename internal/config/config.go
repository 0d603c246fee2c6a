package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`
	NATS    NATSConfig    `yaml:"nats"`
	Chain   ChainConfig   `yaml:"chain"`
	Ledger  LedgerConfig  `yaml:"ledger"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

type StorageConfig struct {
	Path string `yaml:"path" validate:"required"`
}

type NATSConfig struct {
	// URL empty means audit records go to the process log only.
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Stream        string `yaml:"stream"`
}

type ChainConfig struct {
	Nodes          []string      `yaml:"nodes"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	RPS            int           `yaml:"rps"`
	Burst          int           `yaml:"burst"`
}

// LedgerConfig holds the numeric bounds of the game. Money fields are
// coin-denominated decimal strings, converted to base units via
// Decimals.
type LedgerConfig struct {
	Decimals         int32  `yaml:"decimals" validate:"gte=0,lte=18"`
	MinBet           string `yaml:"min_bet" validate:"required"`
	MaxBet           string `yaml:"max_bet" validate:"required"`
	MaxProfit        string `yaml:"max_profit" validate:"required"`
	JackpotThreshold string `yaml:"jackpot_threshold" validate:"required"`
	JackpotFee       string `yaml:"jackpot_fee" validate:"required"`
	JackpotModulo    uint64 `yaml:"jackpot_modulo"`
	LookbackBlocks   uint64 `yaml:"lookback_blocks"`
	Signer           string `yaml:"signer" validate:"required,hexadecimal,len=40"`
	OperatorToken    string `yaml:"operator_token" validate:"required"`
}

// Units is LedgerConfig with every money field resolved to base units.
type Units struct {
	MinBet           uint64
	MaxBet           uint64
	MaxProfit        uint64
	JackpotThreshold uint64
	JackpotFee       uint64
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if _, err := cfg.Ledger.Units(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8090"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "betledger"
	}
	if c.NATS.Stream == "" {
		c.NATS.Stream = "BETLEDGER"
	}
	if c.Chain.RequestTimeout == 0 {
		c.Chain.RequestTimeout = 10 * time.Second
	}
	if c.Chain.MaxRetries == 0 {
		c.Chain.MaxRetries = 3
	}
	if c.Chain.RetryDelay == 0 {
		c.Chain.RetryDelay = 2 * time.Second
	}
	if c.Ledger.Decimals == 0 {
		c.Ledger.Decimals = 8
	}
	if c.Ledger.JackpotModulo == 0 {
		c.Ledger.JackpotModulo = 1000
	}
	if c.Ledger.LookbackBlocks == 0 {
		// EVM nodes attest roughly the last 256 block hashes; stay
		// safely inside that.
		c.Ledger.LookbackBlocks = 250
	}
}

// Units converts the coin-denominated money fields to base units.
func (l *LedgerConfig) Units() (Units, error) {
	var u Units
	for _, f := range []struct {
		name  string
		value string
		out   *uint64
	}{
		{"min_bet", l.MinBet, &u.MinBet},
		{"max_bet", l.MaxBet, &u.MaxBet},
		{"max_profit", l.MaxProfit, &u.MaxProfit},
		{"jackpot_threshold", l.JackpotThreshold, &u.JackpotThreshold},
		{"jackpot_fee", l.JackpotFee, &u.JackpotFee},
	} {
		v, err := parseUnits(f.value, l.Decimals)
		if err != nil {
			return Units{}, fmt.Errorf("ledger.%s: %w", f.name, err)
		}
		*f.out = v
	}

	if u.MinBet == 0 || u.MinBet > u.MaxBet {
		return Units{}, fmt.Errorf("ledger: min_bet must be in (0, max_bet]")
	}
	return u, nil
}

func parseUnits(s string, decimals int32) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %q is negative", s)
	}

	shifted := d.Shift(decimals)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", s, decimals)
	}

	bi := shifted.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("amount %q does not fit in base units", s)
	}
	return bi.Uint64(), nil
}

// ParseAmount converts a coin-denominated decimal string from an API
// request into base units.
func ParseAmount(s string, decimals int32) (uint64, error) {
	return parseUnits(s, decimals)
}

// FormatAmount renders base units as a coin-denominated decimal string.
func FormatAmount(amount uint64, decimals int32) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -decimals).String()
}
