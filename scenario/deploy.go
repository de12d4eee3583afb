package scenario

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashexec/access"
	"github.com/michaelpento.lv/flashexec/chain"
	"github.com/michaelpento.lv/flashexec/dex"
	"github.com/michaelpento.lv/flashexec/dex/uniswap"
	"github.com/michaelpento.lv/flashexec/executor"
	"github.com/michaelpento.lv/flashexec/flashloan"
	"github.com/michaelpento.lv/flashexec/flashloan/aave"
	"github.com/michaelpento.lv/flashexec/simulator"
)

// priceDecimals is the precision of the pool's base currency.
const priceDecimals = 8

type tokenInfo struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
}

// Deployment is a scenario brought up on a fresh local chain.
type Deployment struct {
	Scenario  *Scenario
	Chain     *chain.Chain
	Pool      *aave.Pool
	Routers   []*uniswap.Router
	Executor  *executor.Executor
	Simulator *simulator.Simulator

	tokens   map[string]tokenInfo
	byAddr   map[common.Address]tokenInfo
	accounts map[string]common.Address
	logger   *zap.Logger
}

// Deploy creates the chain, pool, venues and executor of s and sets up its
// positions. reg may be nil.
func Deploy(s *Scenario, reg prometheus.Registerer, logger *zap.Logger) (*Deployment, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := chain.New(chain.Config{ChainID: s.ChainID, Timestamp: s.StartTime}, logger)
	if err != nil {
		return nil, err
	}
	d := &Deployment{
		Scenario: s,
		Chain:    c,
		tokens:   make(map[string]tokenInfo, len(s.Tokens)),
		byAddr:   make(map[common.Address]tokenInfo, len(s.Tokens)),
		accounts: make(map[string]common.Address, len(s.Accounts)),
		logger:   logger.With(zap.String("scenario", s.Name)),
	}
	for name, addr := range s.Accounts {
		d.accounts[name] = common.HexToAddress(addr)
	}
	for _, t := range s.Tokens {
		info := tokenInfo{Symbol: t.Symbol, Address: common.HexToAddress(t.Address), Decimals: t.Decimals}
		d.tokens[t.Symbol] = info
		d.byAddr[info.Address] = info
	}

	if err := d.deployPool(); err != nil {
		return nil, err
	}
	venues, err := d.deployVenues()
	if err != nil {
		return nil, err
	}
	if err := d.deployExecutor(venues, reg); err != nil {
		return nil, err
	}
	if err := d.openPositions(); err != nil {
		return nil, err
	}
	d.logger.Info("scenario deployed",
		zap.Int("tokens", len(s.Tokens)),
		zap.Int("venues", len(s.Venues)),
		zap.Int("positions", len(s.Positions)))
	return d, nil
}

func (d *Deployment) deployPool() error {
	s := d.Scenario
	addr, err := d.Address(s.Pool.Address)
	if err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	pool, err := aave.NewPool(d.Chain, addr, d.logger)
	if err != nil {
		return err
	}
	if s.Pool.PremiumBps != nil {
		pool.SetFlashLoanPremium(*s.Pool.PremiumBps)
	}
	for _, t := range s.Tokens {
		info := d.tokens[t.Symbol]
		cfg := flashloan.ReserveConfig{
			Decimals:             t.Decimals,
			LTV:                  t.LTV,
			LiquidationThreshold: t.LiquidationThreshold,
			LiquidationBonus:     t.LiquidationBonus,
			Active:               true,
		}
		rates := flashloan.ReserveRates{StableBorrowRate: t.StableRateBps, VariableBorrowRate: t.VariableRateBps}
		if err := pool.InitReserve(info.Address, cfg, rates); err != nil {
			return fmt.Errorf("token %s: %w", t.Symbol, err)
		}
		price, err := ParseUnits(t.Price, priceDecimals)
		if err != nil {
			return fmt.Errorf("token %s price: %w", t.Symbol, err)
		}
		pool.SetAssetPrice(info.Address, price)
		if t.Liquidity != "" {
			liquidity, err := ParseUnits(t.Liquidity, t.Decimals)
			if err != nil {
				return fmt.Errorf("token %s liquidity: %w", t.Symbol, err)
			}
			if err := d.Chain.Ledger().Mint(info.Address, addr, liquidity); err != nil {
				return err
			}
		}
	}
	d.Pool = pool
	return nil
}

func (d *Deployment) deployVenues() ([]dex.Venue, error) {
	venues := make([]dex.Venue, 0, len(d.Scenario.Venues))
	for _, v := range d.Scenario.Venues {
		addr, err := d.Address(v.Address)
		if err != nil {
			return nil, fmt.Errorf("venue: %w", err)
		}
		router, err := uniswap.NewRouter(d.Chain, addr, d.logger)
		if err != nil {
			return nil, err
		}
		for _, p := range v.Pools {
			a, err := d.Token(p.TokenA)
			if err != nil {
				return nil, err
			}
			b, err := d.Token(p.TokenB)
			if err != nil {
				return nil, err
			}
			reserveA, err := ParseUnits(p.ReserveA, a.Decimals)
			if err != nil {
				return nil, err
			}
			reserveB, err := ParseUnits(p.ReserveB, b.Decimals)
			if err != nil {
				return nil, err
			}
			if err := router.AddPool(a.Address, b.Address, p.Fee, reserveA, reserveB); err != nil {
				return nil, fmt.Errorf("venue %s pool %s/%s: %w", v.Address, p.TokenA, p.TokenB, err)
			}
		}
		d.Routers = append(d.Routers, router)
		venues = append(venues, router)
	}
	return venues, nil
}

func (d *Deployment) deployExecutor(venues []dex.Venue, reg prometheus.Registerer) error {
	es := d.Scenario.Executor
	cfg := executor.Config{
		ChainID:     d.Scenario.ChainID,
		FeeBps:      es.FeeBps,
		Upgradeable: es.Upgradeable,
	}
	var err error
	if cfg.Address, err = d.Address(es.Address); err != nil {
		return fmt.Errorf("executor: %w", err)
	}
	if cfg.Admin, err = d.Address(es.Admin); err != nil {
		return fmt.Errorf("executor admin: %w", err)
	}
	if cfg.Treasury, err = d.Address(es.Treasury); err != nil {
		return fmt.Errorf("executor treasury: %w", err)
	}
	gwei := es.MaxGasPriceGwei
	if gwei == "" {
		gwei = "100"
	}
	if cfg.MaxGasPrice, err = ParseUnits(gwei, 9); err != nil {
		return fmt.Errorf("executor max gas price: %w", err)
	}
	if es.DefaultRouter != "" {
		if cfg.DefaultRouter, err = d.Address(es.DefaultRouter); err != nil {
			return fmt.Errorf("executor default router: %w", err)
		}
	}
	routers := es.Routers
	if len(routers) == 0 {
		for _, v := range d.Scenario.Venues {
			routers = append(routers, v.Address)
		}
	}
	for _, r := range routers {
		addr, err := d.Address(r)
		if err != nil {
			return fmt.Errorf("executor router: %w", err)
		}
		cfg.Routers = append(cfg.Routers, addr)
	}

	exec, err := executor.New(d.Chain, d.Pool, venues, cfg, reg, d.logger)
	if err != nil {
		return err
	}
	d.Executor = exec
	if d.Simulator, err = simulator.NewSimulator(d.Chain, exec, d.logger); err != nil {
		return err
	}

	_, err = d.Chain.Transact(chain.Msg{From: cfg.Admin}, func(ctx *chain.Context) error {
		for _, name := range es.Whitelist {
			user, err := d.Address(name)
			if err != nil {
				return err
			}
			if err := exec.SetWhitelisted(ctx, user, true); err != nil {
				return err
			}
		}
		for _, name := range es.Operators {
			op, err := d.Address(name)
			if err != nil {
				return err
			}
			if err := exec.GrantRole(ctx, access.OperatorRole, op); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

func (d *Deployment) openPositions() error {
	for _, p := range d.Scenario.Positions {
		user, err := d.Address(p.Account)
		if err != nil {
			return fmt.Errorf("position: %w", err)
		}
		if err := d.openPosition(user, p); err != nil {
			return fmt.Errorf("position %s: %w", p.Account, err)
		}
	}
	return nil
}

func (d *Deployment) openPosition(user common.Address, p Position) error {
	ledger := d.Chain.Ledger()
	exec := d.Executor.Address()
	_, err := d.Chain.Transact(chain.Msg{From: user}, func(ctx *chain.Context) error {
		for symbol, amount := range p.Supply {
			token, value, err := d.amount(symbol, amount)
			if err != nil {
				return err
			}
			if err := ledger.Mint(token.Address, user, value); err != nil {
				return err
			}
			if err := ledger.Approve(token.Address, user, d.Pool.Address(), value); err != nil {
				return err
			}
			if err := d.Pool.Supply(ctx, token.Address, value, user, 0); err != nil {
				return err
			}
		}
		for _, b := range p.Borrow {
			token, value, err := d.amount(b.Asset, b.Amount)
			if err != nil {
				return err
			}
			mode, err := flashloan.ParseRateMode(b.Mode)
			if err != nil {
				return err
			}
			if err := d.Pool.Borrow(ctx, token.Address, value, mode, 0, user); err != nil {
				return err
			}
		}
		for symbol, amount := range p.DelegateBorrow {
			token, value, err := d.amount(symbol, amount)
			if err != nil {
				return err
			}
			if err := d.Pool.ApproveDelegation(ctx, token.Address, exec, value); err != nil {
				return err
			}
		}
		for symbol, amount := range p.ApproveCollateral {
			token, value, err := d.amount(symbol, amount)
			if err != nil {
				return err
			}
			if err := d.Pool.ApproveCollateral(ctx, token.Address, exec, value); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

// Address resolves an account name, a token symbol or a hex address.
func (d *Deployment) Address(ref string) (common.Address, error) {
	if addr, ok := d.accounts[ref]; ok {
		return addr, nil
	}
	if t, ok := d.tokens[ref]; ok {
		return t.Address, nil
	}
	if common.IsHexAddress(ref) {
		return common.HexToAddress(ref), nil
	}
	return common.Address{}, fmt.Errorf("unknown address %q", ref)
}

// Token resolves a token by symbol or address.
func (d *Deployment) Token(ref string) (tokenInfo, error) {
	if t, ok := d.tokens[ref]; ok {
		return t, nil
	}
	if common.IsHexAddress(ref) {
		if t, ok := d.byAddr[common.HexToAddress(ref)]; ok {
			return t, nil
		}
	}
	return tokenInfo{}, fmt.Errorf("unknown token %q", ref)
}

func (d *Deployment) amount(symbol, amount string) (tokenInfo, *big.Int, error) {
	token, err := d.Token(symbol)
	if err != nil {
		return tokenInfo{}, nil, err
	}
	value, err := ParseUnits(amount, token.Decimals)
	if err != nil {
		return tokenInfo{}, nil, fmt.Errorf("%s: %w", symbol, err)
	}
	return token, value, nil
}

// SetPrice sets the pool's price of a token, given in base currency units.
func (d *Deployment) SetPrice(ref, price string) error {
	token, err := d.Token(ref)
	if err != nil {
		return err
	}
	p, err := ParseUnits(price, priceDecimals)
	if err != nil {
		return fmt.Errorf("%s price: %w", token.Symbol, err)
	}
	d.Pool.SetAssetPrice(token.Address, p)
	return nil
}

// Amount parses a whole-token amount of the token ref into base units.
func (d *Deployment) Amount(ref, amount string) (common.Address, *big.Int, error) {
	token, value, err := d.amount(ref, amount)
	if err != nil {
		return common.Address{}, nil, err
	}
	return token.Address, value, nil
}

// Format renders an amount of asset in whole units with its symbol, or in
// base units when the asset is unknown.
func (d *Deployment) Format(asset common.Address, amount *big.Int) string {
	if t, ok := d.byAddr[asset]; ok {
		return FormatUnits(amount, t.Decimals) + " " + t.Symbol
	}
	if amount == nil {
		return "0"
	}
	return amount.String()
}
