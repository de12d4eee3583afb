package dex

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flashexec/chain"
)

// Venue is a swap router reachable at Address. Call executes opaque
// calldata with ctx.Sender as msg.sender and returns the ABI-encoded result.
type Venue interface {
	Address() common.Address
	Call(ctx *chain.Context, calldata []byte) ([]byte, error)
}
