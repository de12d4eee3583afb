package executor

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flashexec/strategies"
	"github.com/michaelpento.lv/flashexec/types"
	bmath "github.com/michaelpento.lv/flashexec/utils/math"
)

// Request travels through the pool as the flash loan params and is decoded
// again in ExecuteOperation.
type Request struct {
	Strategy       strategies.Kind
	Caller         common.Address
	Data           []byte
	ExpectedProfit *big.Int
	Deadline       uint64
	Nonce          uint64
}

var requestArgs = func() abi.Arguments {
	mk := func(t string) abi.Type {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		return typ
	}
	return abi.Arguments{
		{Name: "strategy", Type: mk("uint8")},
		{Name: "caller", Type: mk("address")},
		{Name: "data", Type: mk("bytes")},
		{Name: "expectedProfit", Type: mk("uint256")},
		{Name: "deadline", Type: mk("uint256")},
		{Name: "nonce", Type: mk("uint256")},
	}
}()

func (r *Request) Encode() ([]byte, error) {
	if r.ExpectedProfit != nil && r.ExpectedProfit.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative expected profit %s", types.ErrInvalidAmount, r.ExpectedProfit)
	}
	return requestArgs.Pack(
		uint8(r.Strategy),
		r.Caller,
		append([]byte{}, r.Data...),
		bmath.NewBigInt(r.ExpectedProfit),
		new(big.Int).SetUint64(r.Deadline),
		new(big.Int).SetUint64(r.Nonce),
	)
}

func DecodeRequest(data []byte) (*Request, error) {
	vals, err := requestArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: request: %v", types.ErrInvalidParams, err)
	}
	var decoded struct {
		Strategy       uint8
		Caller         common.Address
		Data           []byte
		ExpectedProfit *big.Int
		Deadline       *big.Int
		Nonce          *big.Int
	}
	if err := requestArgs.Copy(&decoded, vals); err != nil {
		return nil, fmt.Errorf("%w: request: %v", types.ErrInvalidParams, err)
	}
	if !decoded.Deadline.IsUint64() || !decoded.Nonce.IsUint64() {
		return nil, fmt.Errorf("%w: request deadline or nonce out of range", types.ErrInvalidParams)
	}
	return &Request{
		Strategy:       strategies.Kind(decoded.Strategy),
		Caller:         decoded.Caller,
		Data:           decoded.Data,
		ExpectedProfit: decoded.ExpectedProfit,
		Deadline:       decoded.Deadline.Uint64(),
		Nonce:          decoded.Nonce.Uint64(),
	}, nil
}
