package strategies

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flashexec/flashloan"
	"github.com/michaelpento.lv/flashexec/types"
	bmath "github.com/michaelpento.lv/flashexec/utils/math"
)

// MaxVenueFee is the exclusive upper bound of a venue fee tier (1e6 = 100%).
const MaxVenueFee = 1_000_000

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("abi type %s: %v", t, err))
	}
	return typ
}

var (
	addressT = mustType("address")
	uint8T   = mustType("uint8")
	uint24T  = mustType("uint24")
	uint256T = mustType("uint256")
	boolT    = mustType("bool")
	bytesT   = mustType("bytes")
	bytes32T = mustType("bytes32")

	arbitrageArgs = abi.Arguments{
		{Name: "tokenIn", Type: addressT},
		{Name: "tokenOut", Type: addressT},
		{Name: "amountIn", Type: uint256T},
		{Name: "fee", Type: uint24T},
		{Name: "minAmountOut", Type: uint256T},
		{Name: "router", Type: addressT},
	}

	liquidationArgs = abi.Arguments{
		{Name: "borrower", Type: addressT},
		{Name: "collateralAsset", Type: addressT},
		{Name: "debtAsset", Type: addressT},
		{Name: "debtToCover", Type: uint256T},
		{Name: "receiveAToken", Type: boolT},
		{Name: "swapRouter", Type: addressT},
		{Name: "swapData", Type: bytesT},
		{Name: "minProfitBps", Type: uint256T},
	}

	refinanceArgs = abi.Arguments{
		{Name: "debtAsset", Type: addressT},
		{Name: "debtAmount", Type: uint256T},
		{Name: "currentRateMode", Type: uint8T},
		{Name: "newRateMode", Type: uint8T},
		{Name: "collateralAsset", Type: addressT},
		{Name: "collateralAmount", Type: uint256T},
		{Name: "newCollateralAsset", Type: addressT},
		{Name: "newBorrowAmount", Type: uint256T},
		{Name: "minHealthFactor", Type: uint256T},
		{Name: "swapRouter", Type: addressT},
		{Name: "swapData", Type: bytesT},
		{Name: "minSwapOutput", Type: uint256T},
		{Name: "permitDeadline", Type: uint256T},
		{Name: "permitV", Type: uint8T},
		{Name: "permitR", Type: bytes32T},
		{Name: "permitS", Type: bytes32T},
	}
)

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", types.ErrInvalidParams, fmt.Sprintf(format, args...))
}

func positive(name string, v *big.Int) error {
	if v == nil || v.Sign() <= 0 {
		return invalid("%s must be positive", name)
	}
	return nil
}

func nonZero(name string, a common.Address) error {
	if a == (common.Address{}) {
		return invalid("%s is the zero address", name)
	}
	return nil
}

// fields reads typed values out of an Unpack result, keeping the first error.
type fields struct {
	vals []interface{}
	err  error
}

func unpack(args abi.Arguments, data []byte) (*fields, error) {
	vals, err := args.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidParams, err)
	}
	return &fields{vals: vals}, nil
}

func (f *fields) fail(i int) {
	if f.err == nil {
		f.err = invalid("field %d has type %T", i, f.vals[i])
	}
}

func (f *fields) address(i int) common.Address {
	v, ok := f.vals[i].(common.Address)
	if !ok {
		f.fail(i)
	}
	return v
}

func (f *fields) bigInt(i int) *big.Int {
	v, ok := f.vals[i].(*big.Int)
	if !ok {
		f.fail(i)
		return new(big.Int)
	}
	return v
}

func (f *fields) uint8(i int) uint8 {
	v, ok := f.vals[i].(uint8)
	if !ok {
		f.fail(i)
	}
	return v
}

func (f *fields) bool(i int) bool {
	v, ok := f.vals[i].(bool)
	if !ok {
		f.fail(i)
	}
	return v
}

func (f *fields) bytes(i int) []byte {
	v, ok := f.vals[i].([]byte)
	if !ok {
		f.fail(i)
	}
	return v
}

func (f *fields) bytes32(i int) [32]byte {
	v, ok := f.vals[i].([32]byte)
	if !ok {
		f.fail(i)
	}
	return v
}

// ArbitrageParams swaps AmountIn of TokenIn for TokenOut at Router and back.
// A zero Router selects the executor's default venue.
type ArbitrageParams struct {
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	Fee          uint32
	MinAmountOut *big.Int
	Router       common.Address
}

func (p *ArbitrageParams) Validate() error {
	if err := nonZero("tokenIn", p.TokenIn); err != nil {
		return err
	}
	if err := nonZero("tokenOut", p.TokenOut); err != nil {
		return err
	}
	if p.TokenIn == p.TokenOut {
		return invalid("tokenIn and tokenOut are both %s", p.TokenIn.Hex())
	}
	if err := positive("amountIn", p.AmountIn); err != nil {
		return err
	}
	if p.Fee >= MaxVenueFee {
		return invalid("fee tier %d out of range", p.Fee)
	}
	if p.MinAmountOut != nil && p.MinAmountOut.Sign() < 0 {
		return invalid("minAmountOut is negative")
	}
	return nil
}

func (p *ArbitrageParams) Encode() ([]byte, error) {
	return arbitrageArgs.Pack(
		p.TokenIn,
		p.TokenOut,
		bmath.NewBigInt(p.AmountIn),
		new(big.Int).SetUint64(uint64(p.Fee)),
		bmath.NewBigInt(p.MinAmountOut),
		p.Router,
	)
}

func DecodeArbitrageParams(data []byte) (*ArbitrageParams, error) {
	f, err := unpack(arbitrageArgs, data)
	if err != nil {
		return nil, err
	}
	p := &ArbitrageParams{
		TokenIn:      f.address(0),
		TokenOut:     f.address(1),
		AmountIn:     f.bigInt(2),
		MinAmountOut: f.bigInt(4),
		Router:       f.address(5),
	}
	fee := f.bigInt(3)
	if f.err != nil {
		return nil, f.err
	}
	if !fee.IsUint64() || fee.Uint64() >= MaxVenueFee {
		return nil, invalid("fee tier %s out of range", fee)
	}
	p.Fee = uint32(fee.Uint64())
	return p, nil
}

// LiquidationParams repays DebtToCover of Borrower's DebtAsset debt and
// seizes CollateralAsset, optionally swapping it back at SwapRouter.
type LiquidationParams struct {
	Borrower        common.Address
	CollateralAsset common.Address
	DebtAsset       common.Address
	DebtToCover     *big.Int
	ReceiveAToken   bool
	SwapRouter      common.Address
	SwapData        []byte
	MinProfitBps    uint64
}

func (p *LiquidationParams) Validate() error {
	if err := nonZero("borrower", p.Borrower); err != nil {
		return err
	}
	if err := nonZero("collateralAsset", p.CollateralAsset); err != nil {
		return err
	}
	if err := nonZero("debtAsset", p.DebtAsset); err != nil {
		return err
	}
	if p.CollateralAsset == p.DebtAsset {
		return invalid("collateral and debt asset are both %s", p.DebtAsset.Hex())
	}
	if err := positive("debtToCover", p.DebtToCover); err != nil {
		return err
	}
	if p.MinProfitBps > bmath.BasisPoints {
		return invalid("minProfitBps %d exceeds 100%%", p.MinProfitBps)
	}
	if p.SwapRouter != (common.Address{}) {
		if len(p.SwapData) == 0 {
			return invalid("swapRouter set without swapData")
		}
		if p.ReceiveAToken {
			return invalid("cannot swap collateral received as aToken")
		}
	}
	return nil
}

func (p *LiquidationParams) Encode() ([]byte, error) {
	return liquidationArgs.Pack(
		p.Borrower,
		p.CollateralAsset,
		p.DebtAsset,
		bmath.NewBigInt(p.DebtToCover),
		p.ReceiveAToken,
		p.SwapRouter,
		append([]byte{}, p.SwapData...),
		new(big.Int).SetUint64(p.MinProfitBps),
	)
}

func DecodeLiquidationParams(data []byte) (*LiquidationParams, error) {
	f, err := unpack(liquidationArgs, data)
	if err != nil {
		return nil, err
	}
	p := &LiquidationParams{
		Borrower:        f.address(0),
		CollateralAsset: f.address(1),
		DebtAsset:       f.address(2),
		DebtToCover:     f.bigInt(3),
		ReceiveAToken:   f.bool(4),
		SwapRouter:      f.address(5),
		SwapData:        f.bytes(6),
	}
	minProfit := f.bigInt(7)
	if f.err != nil {
		return nil, f.err
	}
	if !minProfit.IsUint64() {
		return nil, invalid("minProfitBps %s out of range", minProfit)
	}
	p.MinProfitBps = minProfit.Uint64()
	return p, nil
}

// RefinanceParams moves the initiator's DebtAmount of DebtAsset debt from
// CurrentRateMode to NewRateMode, re-supplying CollateralAmount of
// CollateralAsset (swapped to NewCollateralAsset when SwapRouter is set).
// A non-zero PermitDeadline applies the signed collateral permit first.
type RefinanceParams struct {
	DebtAsset          common.Address
	DebtAmount         *big.Int
	CurrentRateMode    flashloan.RateMode
	NewRateMode        flashloan.RateMode
	CollateralAsset    common.Address
	CollateralAmount   *big.Int
	NewCollateralAsset common.Address
	NewBorrowAmount    *big.Int
	MinHealthFactor    *big.Int
	SwapRouter         common.Address
	SwapData           []byte
	MinSwapOutput      *big.Int
	PermitDeadline     uint64
	PermitV            uint8
	PermitR            [32]byte
	PermitS            [32]byte
}

// HasPermit reports whether a collateral permit is attached.
func (p *RefinanceParams) HasPermit() bool {
	return p.PermitDeadline != 0
}

// SwapsCollateral reports whether the collateral is swapped before re-supply.
func (p *RefinanceParams) SwapsCollateral() bool {
	return p.SwapRouter != (common.Address{})
}

func (p *RefinanceParams) Validate() error {
	if err := nonZero("debtAsset", p.DebtAsset); err != nil {
		return err
	}
	if err := positive("debtAmount", p.DebtAmount); err != nil {
		return err
	}
	if !p.CurrentRateMode.Valid() || !p.NewRateMode.Valid() {
		return invalid("rate modes %d -> %d", p.CurrentRateMode, p.NewRateMode)
	}
	if err := nonZero("collateralAsset", p.CollateralAsset); err != nil {
		return err
	}
	if err := positive("collateralAmount", p.CollateralAmount); err != nil {
		return err
	}
	if err := positive("newBorrowAmount", p.NewBorrowAmount); err != nil {
		return err
	}
	if p.MinHealthFactor == nil || p.MinHealthFactor.Cmp(bmath.WAD) < 0 {
		return invalid("minHealthFactor must be at least 1.0")
	}
	if p.SwapsCollateral() {
		if err := nonZero("newCollateralAsset", p.NewCollateralAsset); err != nil {
			return err
		}
		if p.NewCollateralAsset == p.CollateralAsset {
			return invalid("swap target equals current collateral")
		}
		if len(p.SwapData) == 0 {
			return invalid("swapRouter set without swapData")
		}
	}
	if p.HasPermit() && (p.PermitR == [32]byte{} || p.PermitS == [32]byte{}) {
		return invalid("permit deadline set without signature")
	}
	return nil
}

func (p *RefinanceParams) Encode() ([]byte, error) {
	return refinanceArgs.Pack(
		p.DebtAsset,
		bmath.NewBigInt(p.DebtAmount),
		uint8(p.CurrentRateMode),
		uint8(p.NewRateMode),
		p.CollateralAsset,
		bmath.NewBigInt(p.CollateralAmount),
		p.NewCollateralAsset,
		bmath.NewBigInt(p.NewBorrowAmount),
		bmath.NewBigInt(p.MinHealthFactor),
		p.SwapRouter,
		append([]byte{}, p.SwapData...),
		bmath.NewBigInt(p.MinSwapOutput),
		new(big.Int).SetUint64(p.PermitDeadline),
		p.PermitV,
		p.PermitR,
		p.PermitS,
	)
}

func DecodeRefinanceParams(data []byte) (*RefinanceParams, error) {
	f, err := unpack(refinanceArgs, data)
	if err != nil {
		return nil, err
	}
	p := &RefinanceParams{
		DebtAsset:          f.address(0),
		DebtAmount:         f.bigInt(1),
		CurrentRateMode:    flashloan.RateMode(f.uint8(2)),
		NewRateMode:        flashloan.RateMode(f.uint8(3)),
		CollateralAsset:    f.address(4),
		CollateralAmount:   f.bigInt(5),
		NewCollateralAsset: f.address(6),
		NewBorrowAmount:    f.bigInt(7),
		MinHealthFactor:    f.bigInt(8),
		SwapRouter:         f.address(9),
		SwapData:           f.bytes(10),
		MinSwapOutput:      f.bigInt(11),
		PermitV:            f.uint8(13),
		PermitR:            f.bytes32(14),
		PermitS:            f.bytes32(15),
	}
	deadline := f.bigInt(12)
	if f.err != nil {
		return nil, f.err
	}
	if !deadline.IsUint64() {
		return nil, invalid("permitDeadline %s out of range", deadline)
	}
	p.PermitDeadline = deadline.Uint64()
	return p, nil
}
