package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Default dev identities.
const (
	DefaultOwner  = "0x00000000000000000000000000000000000000a1"
	DefaultEngine = "0x00000000000000000000000000000000000e5c40"
)

type Config struct {
	DBSource       string `toml:"DBSource"`
	Port           string `toml:"Port"`
	Env            string `toml:"Env"`
	StoreType      string `toml:"StoreType"`
	LevelDBPath    string `toml:"LevelDBPath"`
	OwnerAddress   string `toml:"OwnerAddress"`
	EngineAddress  string `toml:"EngineAddress"`
	TokenSymbol    string `toml:"TokenSymbol"`
	TokenDecimals  uint8  `toml:"TokenDecimals"`
	AuthSecret     string `toml:"AuthSecret"`
	RatePerMinute  int    `toml:"RateLimitPerMinute"`
	RateBurst      int    `toml:"RateLimitBurst"`
	LogLevel       string `toml:"LogLevel"`
	LogFile        string `toml:"LogFile"`
	WebhookURL     string `toml:"EventsWebhookURL"`
	EnableDevTools bool   `toml:"EnableDevTools"`
}

func defaults() *Config {
	return &Config{
		Port:          "8080",
		Env:           "development",
		StoreType:     "memory",
		LevelDBPath:   "data/escrow",
		OwnerAddress:  DefaultOwner,
		EngineAddress: DefaultEngine,
		TokenSymbol:   "USDX",
		TokenDecimals: 6,
		RatePerMinute: 600,
		RateBurst:     60,
		LogLevel:      "info",
	}
}

// Load reads CONFIG_FILE when set, then lets environment variables override
// individual fields.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	cfg.DBSource = getEnv("DB_SOURCE", cfg.DBSource)
	cfg.Port = getEnv("SERVER_PORT", cfg.Port)
	cfg.Env = getEnv("ENVIRONMENT", cfg.Env)
	cfg.StoreType = strings.ToLower(getEnv("STORE_TYPE", cfg.StoreType))
	cfg.LevelDBPath = getEnv("LEVELDB_PATH", cfg.LevelDBPath)
	cfg.OwnerAddress = getEnv("OWNER_ADDRESS", cfg.OwnerAddress)
	cfg.EngineAddress = getEnv("ENGINE_ADDRESS", cfg.EngineAddress)
	cfg.TokenSymbol = getEnv("TOKEN_SYMBOL", cfg.TokenSymbol)
	cfg.AuthSecret = getEnv("AUTH_SECRET", cfg.AuthSecret)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.WebhookURL = getEnv("EVENTS_WEBHOOK_URL", cfg.WebhookURL)

	var err error
	if cfg.TokenDecimals, err = getEnvUint8("TOKEN_DECIMALS", cfg.TokenDecimals); err != nil {
		return nil, err
	}
	if cfg.RatePerMinute, err = getEnvInt("RATE_LIMIT_PER_MINUTE", cfg.RatePerMinute); err != nil {
		return nil, err
	}
	if cfg.RateBurst, err = getEnvInt("RATE_LIMIT_BURST", cfg.RateBurst); err != nil {
		return nil, err
	}
	if v := os.Getenv("ENABLE_DEV_TOOLS"); v != "" {
		if cfg.EnableDevTools, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("ENABLE_DEV_TOOLS: %w", err)
		}
	} else if cfg.Env == "development" {
		cfg.EnableDevTools = true
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreType {
	case "memory", "leveldb":
	case "postgres":
		if c.DBSource == "" {
			return fmt.Errorf("DB_SOURCE environment variable is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_TYPE %q", c.StoreType)
	}
	if !common.IsHexAddress(c.OwnerAddress) {
		return fmt.Errorf("OWNER_ADDRESS %q is not an account", c.OwnerAddress)
	}
	if !common.IsHexAddress(c.EngineAddress) {
		return fmt.Errorf("ENGINE_ADDRESS %q is not an account", c.EngineAddress)
	}
	if c.Owner() == c.Engine() {
		return fmt.Errorf("owner and engine accounts must differ")
	}
	// Outside development the caller can only be named by a signed token.
	if c.Env != "development" && strings.TrimSpace(c.AuthSecret) == "" {
		return fmt.Errorf("AUTH_SECRET is required when ENVIRONMENT is %q", c.Env)
	}
	if c.RatePerMinute < 0 || c.RateBurst < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	return nil
}

func (c *Config) Owner() common.Address  { return common.HexToAddress(c.OwnerAddress) }
func (c *Config) Engine() common.Address { return common.HexToAddress(c.EngineAddress) }

// DemoAccount is the i-th account funded by the seeder. Account 0 sells the
// demo listings; the rest buy.
func DemoAccount(i int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0x10000 + i)))
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvUint8(key string, fallback uint8) (uint8, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(v, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return uint8(n), nil
}
