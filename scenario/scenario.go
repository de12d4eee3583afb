// Package scenario describes a local deployment in YAML: tokens and their
// pool reserves, swap venues, user positions, and a list of flash loan
// requests with their expected outcome.
package scenario

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"

	"github.com/michaelpento.lv/flashexec/strategies"
)

const (
	defaultChainID    = 1
	defaultStartTime  = 1_700_000_000
	defaultDeadlineIn = 300
	defaultGasGwei    = "30"
)

// Scenario is the root of a scenario file. Amounts are decimal strings in
// whole token units; prices are in USD.
type Scenario struct {
	Name      string `yaml:"name"`
	ChainID   uint64 `yaml:"chain_id"`
	StartTime uint64 `yaml:"start_time"`

	// Accounts maps names usable anywhere an address is expected.
	Accounts map[string]string `yaml:"accounts"`

	Pool      PoolSpec     `yaml:"pool"`
	Executor  ExecutorSpec `yaml:"executor"`
	Tokens    []Token      `yaml:"tokens"`
	Venues    []Venue      `yaml:"venues"`
	Positions []Position   `yaml:"positions"`
	Requests  []Request    `yaml:"requests"`
}

type PoolSpec struct {
	Address    string  `yaml:"address"`
	PremiumBps *uint64 `yaml:"premium_bps"`
}

type ExecutorSpec struct {
	Address         string   `yaml:"address"`
	Admin           string   `yaml:"admin"`
	Treasury        string   `yaml:"treasury"`
	FeeBps          uint64   `yaml:"fee_bps"`
	MaxGasPriceGwei string   `yaml:"max_gas_price_gwei"`
	DefaultRouter   string   `yaml:"default_router"`
	Routers         []string `yaml:"routers"`
	Whitelist       []string `yaml:"whitelist"`
	Operators       []string `yaml:"operators"`
	Upgradeable     bool     `yaml:"upgradeable"`
}

type Token struct {
	Symbol               string `yaml:"symbol"`
	Address              string `yaml:"address"`
	Decimals             uint8  `yaml:"decimals"`
	Price                string `yaml:"price"`
	LTV                  uint64 `yaml:"ltv"`
	LiquidationThreshold uint64 `yaml:"liquidation_threshold"`
	LiquidationBonus     uint64 `yaml:"liquidation_bonus"`
	StableRateBps        uint64 `yaml:"stable_rate_bps"`
	VariableRateBps      uint64 `yaml:"variable_rate_bps"`
	Liquidity            string `yaml:"liquidity"`
}

// Venue is a constant-product router with one or more pools.
type Venue struct {
	Address string      `yaml:"address"`
	Pools   []VenuePool `yaml:"pools"`
}

type VenuePool struct {
	TokenA   string `yaml:"token_a"`
	TokenB   string `yaml:"token_b"`
	Fee      uint32 `yaml:"fee"`
	ReserveA string `yaml:"reserve_a"`
	ReserveB string `yaml:"reserve_b"`
}

// Position is set up before any request runs. Delegations and collateral
// approvals are granted to the executor.
type Position struct {
	Account           string            `yaml:"account"`
	Supply            map[string]string `yaml:"supply"`
	Borrow            []Borrow          `yaml:"borrow"`
	DelegateBorrow    map[string]string `yaml:"delegate_borrow"`
	ApproveCollateral map[string]string `yaml:"approve_collateral"`
}

type Borrow struct {
	Asset  string `yaml:"asset"`
	Amount string `yaml:"amount"`
	Mode   string `yaml:"mode"`
}

// Request is one flash loan. Prices and Advance are applied before it runs.
type Request struct {
	Name           string            `yaml:"name"`
	From           string            `yaml:"from"`
	Strategy       string            `yaml:"strategy"`
	Prices         map[string]string `yaml:"prices"`
	Advance        uint64            `yaml:"advance"`
	GasPriceGwei   string            `yaml:"gas_price_gwei"`
	ExpectedProfit string            `yaml:"expected_profit"`
	DeadlineIn     uint64            `yaml:"deadline_in"`
	DryRun         bool              `yaml:"dry_run"`

	Arbitrage   *ArbitrageSpec   `yaml:"arbitrage"`
	Liquidation *LiquidationSpec `yaml:"liquidation"`
	Refinance   *RefinanceSpec   `yaml:"refinance"`

	Expect Expect `yaml:"expect"`
}

type ArbitrageSpec struct {
	TokenIn      string `yaml:"token_in"`
	TokenOut     string `yaml:"token_out"`
	Amount       string `yaml:"amount"`
	Fee          uint32 `yaml:"fee"`
	MinAmountOut string `yaml:"min_amount_out"`
	Router       string `yaml:"router"`
}

type LiquidationSpec struct {
	Borrower      string `yaml:"borrower"`
	Collateral    string `yaml:"collateral"`
	Debt          string `yaml:"debt"`
	DebtToCover   string `yaml:"debt_to_cover"`
	ReceiveAToken bool   `yaml:"receive_a_token"`
	SwapRouter    string `yaml:"swap_router"`
	SwapFee       uint32 `yaml:"swap_fee"`
	MinProfitBps  uint64 `yaml:"min_profit_bps"`
}

type RefinanceSpec struct {
	Debt             string `yaml:"debt"`
	DebtAmount       string `yaml:"debt_amount"`
	CurrentMode      string `yaml:"current_mode"`
	NewMode          string `yaml:"new_mode"`
	Collateral       string `yaml:"collateral"`
	CollateralAmount string `yaml:"collateral_amount"`
	NewCollateral    string `yaml:"new_collateral"`
	NewBorrowAmount  string `yaml:"new_borrow_amount"`
	MinHealthFactor  string `yaml:"min_health_factor"`
	SwapRouter       string `yaml:"swap_router"`
	SwapFee          uint32 `yaml:"swap_fee"`
	MinSwapOutput    string `yaml:"min_swap_output"`
}

// Expect is checked against the outcome. An empty Condition means the
// request must succeed; Profit, when set, must match exactly.
type Expect struct {
	Condition string `yaml:"condition"`
	Profit    string `yaml:"profit"`
}

// Load reads and parses a scenario file
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a scenario, fills defaults and validates it.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode scenario: %w", err)
	}
	if s.ChainID == 0 {
		s.ChainID = defaultChainID
	}
	if s.StartTime == 0 {
		s.StartTime = defaultStartTime
	}
	for i := range s.Requests {
		r := &s.Requests[i]
		if r.DeadlineIn == 0 {
			r.DeadlineIn = defaultDeadlineIn
		}
		if r.GasPriceGwei == "" {
			r.GasPriceGwei = defaultGasGwei
		}
		if r.Name == "" {
			r.Name = fmt.Sprintf("request-%d", i)
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the scenario for references that cannot resolve.
func (s *Scenario) Validate() error {
	var errs []string
	symbols := make(map[string]bool, len(s.Tokens))
	for _, t := range s.Tokens {
		if t.Symbol == "" {
			errs = append(errs, "token without symbol")
			continue
		}
		if symbols[t.Symbol] {
			errs = append(errs, fmt.Sprintf("duplicate token %s", t.Symbol))
		}
		symbols[t.Symbol] = true
		if !common.IsHexAddress(t.Address) {
			errs = append(errs, fmt.Sprintf("token %s: invalid address %q", t.Symbol, t.Address))
		}
	}
	for name, addr := range s.Accounts {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("account %s: invalid address %q", name, addr))
		}
	}
	if s.Pool.Address == "" {
		errs = append(errs, "pool.address must be specified")
	}
	for _, field := range []struct{ name, value string }{
		{"executor.address", s.Executor.Address},
		{"executor.admin", s.Executor.Admin},
		{"executor.treasury", s.Executor.Treasury},
	} {
		if field.value == "" {
			errs = append(errs, field.name+" must be specified")
		}
	}
	for _, r := range s.Requests {
		kind, err := strategies.ParseKind(r.Strategy)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", r.Name, err))
			continue
		}
		if (kind == strategies.Arbitrage && r.Arbitrage == nil) ||
			(kind == strategies.Liquidation && r.Liquidation == nil) ||
			(kind == strategies.Refinance && r.Refinance == nil) {
			errs = append(errs, fmt.Sprintf("%s: missing %s section", r.Name, kind))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid scenario: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ParseUnits converts a decimal amount of whole tokens into base units. It
// rejects amounts finer than the token's precision.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimals", amount, decimals)
	}
	return scaled.BigInt(), nil
}

// FormatUnits renders base units as a decimal amount of whole tokens.
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}
