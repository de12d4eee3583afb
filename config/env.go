package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvInfuraKey   = "INFURA_API_KEY"
	EnvNetwork     = "NETWORK" // mainnet, sepolia, holesky
	EnvRPCEndpoint = "FLASHEXEC_RPC_URL"
	EnvChainID     = "FLASHEXEC_CHAIN_ID"
	EnvLendingPool = "FLASHEXEC_LENDING_POOL"
	EnvTreasury    = "FLASHEXEC_TREASURY"
	EnvMaxGasPrice = "FLASHEXEC_MAX_GAS_PRICE"
)

// LoadEnv loads environment variables from .env file
func LoadEnv() error {
	return godotenv.Load()
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// ApplyEnv overrides cfg from the environment. An explicit RPC URL wins
// over one derived from NETWORK and INFURA_API_KEY.
func ApplyEnv(cfg *Config) error {
	if endpoint := os.Getenv(EnvRPCEndpoint); endpoint != "" {
		cfg.RPCEndpoint = endpoint
	} else if os.Getenv(EnvInfuraKey) != "" {
		endpoint, chainID, err := GetNetworkEndpoint()
		if err != nil {
			return err
		}
		cfg.RPCEndpoint = endpoint
		cfg.ChainID = chainID
	}
	if v := os.Getenv(EnvChainID); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvChainID, err)
		}
		cfg.ChainID = id
	}
	if v := os.Getenv(EnvLendingPool); v != "" {
		if !common.IsHexAddress(v) {
			return fmt.Errorf("invalid %s: %q", EnvLendingPool, v)
		}
		cfg.LendingPool = common.HexToAddress(v)
	}
	if v := os.Getenv(EnvTreasury); v != "" {
		if !common.IsHexAddress(v) {
			return fmt.Errorf("invalid %s: %q", EnvTreasury, v)
		}
		cfg.Executor.Treasury = common.HexToAddress(v)
	}
	if v := os.Getenv(EnvMaxGasPrice); v != "" {
		price, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return fmt.Errorf("invalid %s: %q", EnvMaxGasPrice, v)
		}
		cfg.Executor.MaxGasPrice = price
	}
	return nil
}

// GetNetworkEndpoint builds the Infura endpoint for NETWORK and returns it
// with the network's chain id.
func GetNetworkEndpoint() (string, uint64, error) {
	infuraKey := os.Getenv(EnvInfuraKey)
	if infuraKey == "" {
		return "", 0, fmt.Errorf("required environment variable %s not set", EnvInfuraKey)
	}

	switch network := GetEnvWithDefault(EnvNetwork, "mainnet"); network {
	case "mainnet":
		return fmt.Sprintf("https://mainnet.infura.io/v3/%s", infuraKey), 1, nil
	case "sepolia":
		return fmt.Sprintf("https://sepolia.infura.io/v3/%s", infuraKey), 11155111, nil
	case "holesky":
		return fmt.Sprintf("https://holesky.infura.io/v3/%s", infuraKey), 17000, nil
	default:
		return "", 0, fmt.Errorf("unsupported network: %s", network)
	}
}
