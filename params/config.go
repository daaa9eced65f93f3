package params

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// ForSaleMBR is the native collateral posted per listing record.
// Box cost is 2_500 + 400 per byte; a record is 32 + 8 + 8 + 8 = 56 bytes.
const ForSaleMBR uint64 = 2_500 + 400*56

// AssetOptInMinBalance is the native amount the custodial account must be
// paid before it can hold a new asset.
const AssetOptInMinBalance uint64 = 100_000

type Node struct {
	DataDir string `toml:"DataDir"`
	// BlockTime is the sequencer tick. Empty ticks do not produce blocks.
	BlockTime time.Duration `toml:"BlockTime"`
	// MaxBlockBytes bounds the tx bytes pulled from the mempool per block.
	MaxBlockBytes int64 `toml:"MaxBlockBytes"`
	LogFile       string `toml:"LogFile"`
	Verbose       bool   `toml:"Verbose"`
}

type API struct {
	Addr           string   `toml:"Addr"`
	AllowedOrigins []string `toml:"AllowedOrigins"`
	// SubmitRate is the sustained tx submissions per second accepted by the API.
	SubmitRate  float64 `toml:"SubmitRate"`
	SubmitBurst int     `toml:"SubmitBurst"`
}

type Escrow struct {
	// AppID seeds the custodial account address.
	AppID                uint64 `toml:"AppID"`
	ChainID              int64  `toml:"ChainID"`
	ForSaleMBR           uint64 `toml:"ForSaleMBR"`
	AssetOptInMinBalance uint64 `toml:"AssetOptInMinBalance"`
}

// Allocation credits native currency to an address at genesis.
type Allocation struct {
	Address string `toml:"Address"`
	Amount  uint64 `toml:"Amount"`
}

type Genesis struct {
	Allocations []Allocation `toml:"Allocations"`
}

type Config struct {
	Node    Node    `toml:"Node"`
	API     API     `toml:"API"`
	Escrow  Escrow  `toml:"Escrow"`
	Genesis Genesis `toml:"Genesis"`
}

func Default() Config {
	return Config{
		Node: Node{
			DataDir:       "data/escrowd",
			BlockTime:     200 * time.Millisecond,
			MaxBlockBytes: 1 << 22,
			LogFile:       "data/node.log",
		},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
			SubmitRate:     50,
			SubmitBurst:    100,
		},
		Escrow: Escrow{
			AppID:                1,
			ChainID:              1337,
			ForSaleMBR:           ForSaleMBR,
			AssetOptInMinBalance: AssetOptInMinBalance,
		},
	}
}

// ChainIDBig returns the EIP-712 chain id as a big.Int.
func (e Escrow) ChainIDBig() *big.Int { return big.NewInt(e.ChainID) }

// Validate rejects settings the node cannot run with.
func (c Config) Validate() error {
	if c.Node.DataDir == "" {
		return fmt.Errorf("node data dir is empty")
	}
	if c.Node.BlockTime <= 0 {
		return fmt.Errorf("block time must be positive: %s", c.Node.BlockTime)
	}
	if c.Escrow.ForSaleMBR == 0 {
		return fmt.Errorf("for-sale collateral must be positive")
	}
	if c.API.SubmitRate <= 0 || c.API.SubmitBurst <= 0 {
		return fmt.Errorf("submit rate and burst must be positive")
	}
	return nil
}

// LoadFile decodes a TOML file over the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv loads configuration from an optional TOML file (CONFIG_FILE),
// then the .env file (if exists) and environment variables.
// Priority: ENV > .env file > TOML file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)

	if ms := os.Getenv("NODE_BLOCK_TIME_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil {
			cfg.Node.BlockTime = time.Duration(v) * time.Millisecond
		}
	}
	if verbose := os.Getenv("VERBOSE"); verbose != "" {
		cfg.Node.Verbose = verbose == "true"
	}
	if origins := os.Getenv("API_ALLOWED_ORIGINS"); origins != "" {
		cfg.API.AllowedOrigins = strings.Split(origins, ",")
	}
	if rate := os.Getenv("API_SUBMIT_RATE"); rate != "" {
		if v, err := strconv.ParseFloat(rate, 64); err == nil {
			cfg.API.SubmitRate = v
		}
	}
	if id := os.Getenv("ESCROW_APP_ID"); id != "" {
		if v, err := strconv.ParseUint(id, 10, 64); err == nil {
			cfg.Escrow.AppID = v
		}
	}
	if id := os.Getenv("ESCROW_CHAIN_ID"); id != "" {
		if v, err := strconv.ParseInt(id, 10, 64); err == nil {
			cfg.Escrow.ChainID = v
		}
	}

	return cfg, cfg.Validate()
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
