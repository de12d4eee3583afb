package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashexec/executor"
)

type Config struct {
	// Chain and network settings
	ChainID     uint64 `json:"chain_id"`
	RPCEndpoint string `json:"rpc_endpoint"`
	// LendingPool is the Aave V3 pool read by the health and preview commands.
	LendingPool common.Address `json:"lending_pool"`

	// Executor deployment
	Executor ExecutorConfig `json:"executor"`

	// Monitoring intervals
	GasSampleInterval time.Duration `json:"gas_sample_interval"`
	NetworkTimeout    time.Duration `json:"network_timeout"`

	RPCRateLimit RateLimitConfig `json:"rpc_rate_limit"`

	// Feature flags
	PrometheusEnabled  bool   `json:"prometheus_enabled"`
	PrometheusEndpoint string `json:"prometheus_endpoint"`
	MetricsNamespace   string `json:"metrics_namespace"`

	// Internal components
	Logger *zap.Logger `json:"-"`
}

type ExecutorConfig struct {
	Address            common.Address   `json:"address"`
	Admin              common.Address   `json:"admin"`
	Treasury           common.Address   `json:"treasury"`
	FeeBps             uint64           `json:"fee_bps"`
	MaxGasPrice        *big.Int         `json:"max_gas_price"`
	MinFlashLoanAmount *big.Int         `json:"min_flash_loan_amount"`
	DefaultDailyLimit  *big.Int         `json:"default_daily_limit"`
	DefaultRouter      common.Address   `json:"default_router"`
	Routers            []common.Address `json:"routers"`
	Upgradeable        bool             `json:"upgradeable"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `json:"requests_per_second"`
	BurstSize         int           `json:"burst_size"`
	WaitTimeout       time.Duration `json:"wait_timeout"`
}

func (c *Config) Validate() error {
	var errors []string

	if c.ChainID == 0 {
		errors = append(errors, "chain_id must be specified")
	}
	if c.RPCEndpoint == "" {
		errors = append(errors, "rpc_endpoint must be specified")
	}
	if c.GasSampleInterval <= 0 {
		errors = append(errors, "gas_sample_interval must be positive")
	}
	if c.NetworkTimeout <= 0 {
		errors = append(errors, "network_timeout must be positive")
	}
	if err := c.Executor.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("executor config error: %v", err))
	}
	if err := c.RPCRateLimit.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("RPC rate limit error: %v", err))
	}
	if c.PrometheusEnabled && c.PrometheusEndpoint == "" {
		errors = append(errors, "prometheus_endpoint must be specified when prometheus is enabled")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

func (e *ExecutorConfig) Validate() error {
	if e.FeeBps > executor.MaxFeeBps {
		return fmt.Errorf("fee_bps %d exceeds %d", e.FeeBps, executor.MaxFeeBps)
	}
	if e.MaxGasPrice == nil || e.MaxGasPrice.Sign() <= 0 {
		return fmt.Errorf("max_gas_price must be positive")
	}
	if e.MinFlashLoanAmount != nil && e.MinFlashLoanAmount.Sign() < 0 {
		return fmt.Errorf("min_flash_loan_amount must not be negative")
	}
	if e.DefaultDailyLimit != nil && e.DefaultDailyLimit.Sign() < 0 {
		return fmt.Errorf("default_daily_limit must not be negative")
	}
	return nil
}

func (r *RateLimitConfig) Validate() error {
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}
	if r.WaitTimeout <= 0 {
		return fmt.Errorf("wait timeout must be positive")
	}
	return nil
}

// ExecutorSettings converts the executor section for executor.New. Zero
// addresses are left for the caller to fill in.
func (c *Config) ExecutorSettings() executor.Config {
	e := c.Executor
	cfg := executor.Config{
		Address:       e.Address,
		Admin:         e.Admin,
		ChainID:       c.ChainID,
		Treasury:      e.Treasury,
		FeeBps:        e.FeeBps,
		DefaultRouter: e.DefaultRouter,
		Routers:       append([]common.Address(nil), e.Routers...),
		Upgradeable:   e.Upgradeable,
	}
	if e.MaxGasPrice != nil {
		cfg.MaxGasPrice = new(big.Int).Set(e.MaxGasPrice)
	}
	if e.MinFlashLoanAmount != nil {
		cfg.MinFlashLoanAmount = new(big.Int).Set(e.MinFlashLoanAmount)
	}
	if e.DefaultDailyLimit != nil {
		cfg.DefaultDailyLimit = new(big.Int).Set(e.DefaultDailyLimit)
	}
	return cfg
}

func defaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".flashexec.json"), nil
}

// LoadConfig reads cfgFile (default $HOME/.flashexec.json) over
// DefaultConfig, applies environment overrides and validates the result.
func LoadConfig(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		path, err := defaultPath()
		if err != nil {
			return nil, err
		}
		cfgFile = path
	}

	file, err := os.Open(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	config := DefaultConfig()
	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	if err := ApplyEnv(config); err != nil {
		return nil, err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	config.Logger = logger

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func SaveConfig(cfg *Config, cfgFile string) error {
	if cfgFile == "" {
		path, err := defaultPath()
		if err != nil {
			return err
		}
		cfgFile = path
	}

	file, err := os.Create(cfgFile)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "    ")
	return encoder.Encode(cfg)
}

func DefaultConfig() *Config {
	return &Config{
		Logger:            zap.NewNop(),
		ChainID:           1,
		RPCEndpoint:       "http://localhost:8545",
		LendingPool:       common.HexToAddress("0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2"),
		GasSampleInterval: 12 * time.Second,
		NetworkTimeout:    5 * time.Second,
		Executor: ExecutorConfig{
			FeeBps:             25,
			MaxGasPrice:        big.NewInt(100_000_000_000), // 100 Gwei
			MinFlashLoanAmount: new(big.Int),
			DefaultDailyLimit:  new(big.Int),
			DefaultRouter:      common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564"),
			Routers:            []common.Address{common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564")},
		},
		RPCRateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			BurstSize:         100,
			WaitTimeout:       time.Second,
		},
		MetricsNamespace: "flashexec",
	}
}
