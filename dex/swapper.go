package dex

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashexec/chain"
	"github.com/michaelpento.lv/flashexec/types"
	bmath "github.com/michaelpento.lv/flashexec/utils/math"
)

// EventSwap names the SwapEvent log.
const EventSwap = "Swap"

// SwapEvent is emitted by the owning contract after every adapter swap.
type SwapEvent struct {
	Venue     common.Address
	FromAsset common.Address
	ToAsset   common.Address
	AmountIn  *big.Int
	AmountOut *big.Int
}

// Swapper executes swaps for the contract at self through venues from an
// admin-managed supported set. Only the balance change of self is trusted,
// never a venue's reported output.
type Swapper struct {
	self      common.Address
	venues    map[common.Address]Venue
	supported *chain.Map[common.Address, bool]
	logger    *zap.Logger
}

// NewSwapper builds the adapter for self. Venues in supported start out
// approved.
func NewSwapper(c *chain.Chain, self common.Address, logger *zap.Logger, supported ...common.Address) (*Swapper, error) {
	if c == nil {
		return nil, fmt.Errorf("chain is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Swapper{
		self:      self,
		venues:    make(map[common.Address]Venue),
		supported: chain.NewMap[common.Address, bool](c),
		logger:    logger,
	}
	for _, venue := range supported {
		s.supported.Seed(venue, true)
	}
	return s, nil
}

// Register makes v's code reachable at its address. It does not mark the
// venue as supported.
func (s *Swapper) Register(v Venue) {
	s.venues[v.Address()] = v
}

func (s *Swapper) SetSupported(venue common.Address, supported bool) {
	if supported {
		s.supported.Set(venue, true)
		return
	}
	s.supported.Delete(venue)
}

func (s *Swapper) IsSupported(venue common.Address) bool {
	ok, _ := s.supported.Get(venue)
	return ok
}

// Supported lists the supported venues in no particular order.
func (s *Swapper) Supported() []common.Address {
	out := make([]common.Address, 0, s.supported.Len())
	s.supported.Range(func(venue common.Address, _ bool) bool {
		out = append(out, venue)
		return true
	})
	return out
}

// Venue returns the registered implementation at addr.
func (s *Swapper) Venue(addr common.Address) (Venue, bool) {
	v, ok := s.venues[addr]
	return v, ok
}

// Swap approves venue for exactly amountIn of fromAsset, forwards calldata
// and returns the amount of toAsset self received. The approval is cleared
// before returning.
func (s *Swapper) Swap(ctx *chain.Context, fromAsset, toAsset common.Address, amountIn, minAmountOut *big.Int, venue common.Address, calldata []byte) (*big.Int, error) {
	if !s.IsSupported(venue) {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedSwapRouter, venue.Hex())
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: swap amount must be positive", types.ErrInvalidAmount)
	}
	impl, ok := s.venues[venue]
	if !ok {
		return nil, fmt.Errorf("%w: no code at %s", types.ErrSwapFailed, venue.Hex())
	}

	ledger := ctx.Ledger()
	if err := s.approve(ledger, fromAsset, venue, amountIn); err != nil {
		return nil, err
	}

	before := ledger.BalanceOf(toAsset, s.self)
	if _, err := impl.Call(ctx.As(s.self), calldata); err != nil {
		return nil, fmt.Errorf("%w: venue %s: %w", types.ErrSwapFailed, venue.Hex(), err)
	}
	received := bmath.FloorZero(new(big.Int).Sub(ledger.BalanceOf(toAsset, s.self), before))

	if minAmountOut != nil && received.Cmp(minAmountOut) < 0 {
		return nil, fmt.Errorf("%w: received %s, minimum %s", types.ErrInvalidSwapOutput, received, minAmountOut)
	}
	if err := ledger.Approve(fromAsset, s.self, venue, new(big.Int)); err != nil {
		return nil, err
	}

	ctx.Emit(s.self, EventSwap, SwapEvent{
		Venue:     venue,
		FromAsset: fromAsset,
		ToAsset:   toAsset,
		AmountIn:  new(big.Int).Set(amountIn),
		AmountOut: new(big.Int).Set(received),
	})
	s.logger.Debug("swap executed",
		zap.String("venue", venue.Hex()),
		zap.String("from", fromAsset.Hex()),
		zap.String("to", toAsset.Hex()),
		zap.String("amount_in", amountIn.String()),
		zap.String("amount_out", received.String()))
	return received, nil
}

// approve resets the allowance to zero before setting it.
func (s *Swapper) approve(ledger *chain.Ledger, asset, spender common.Address, amount *big.Int) error {
	if err := ledger.Approve(asset, s.self, spender, new(big.Int)); err != nil {
		return err
	}
	return ledger.Approve(asset, s.self, spender, amount)
}
