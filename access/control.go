package access

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashexec/chain"
	"github.com/michaelpento.lv/flashexec/types"
)

// Role identifiers, derived the same way as OpenZeppelin AccessControl.
var (
	AdminRole    = crypto.Keccak256Hash([]byte("ADMIN_ROLE"))
	OperatorRole = crypto.Keccak256Hash([]byte("OPERATOR_ROLE"))
)

var ErrNotPaused = errors.New("contract is not paused")

type roleMember struct {
	role    common.Hash
	account common.Address
}

// Control holds roles, the pause switch and the reentrancy lock of a contract.
type Control struct {
	roles  *chain.Map[roleMember, bool]
	paused *chain.Var[bool]

	// the lock is released on every exit path, so it is never journaled
	locked bool

	logger *zap.Logger
}

func NewControl(c *chain.Chain, admin common.Address, logger *zap.Logger) (*Control, error) {
	if c == nil {
		return nil, fmt.Errorf("chain is required")
	}
	if admin == (common.Address{}) {
		return nil, fmt.Errorf("admin address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctl := &Control{
		roles:  chain.NewMap[roleMember, bool](c),
		paused: chain.NewVar(c, false),
		logger: logger,
	}
	ctl.roles.Seed(roleMember{AdminRole, admin}, true)
	return ctl, nil
}

func (a *Control) HasRole(role common.Hash, account common.Address) bool {
	ok, _ := a.roles.Get(roleMember{role, account})
	return ok
}

// RequireRole fails with ErrUnauthorizedCaller unless account holds role.
func (a *Control) RequireRole(role common.Hash, account common.Address) error {
	if !a.HasRole(role, account) {
		return fmt.Errorf("%w: %s is missing role %s", types.ErrUnauthorizedCaller, account.Hex(), role.Hex())
	}
	return nil
}

func (a *Control) GrantRole(ctx *chain.Context, role common.Hash, account common.Address) error {
	if err := a.RequireRole(AdminRole, ctx.Sender); err != nil {
		return err
	}
	if account == (common.Address{}) {
		return fmt.Errorf("%w: zero account", types.ErrInvalidParams)
	}
	a.roles.Set(roleMember{role, account}, true)
	a.logger.Info("role granted", zap.String("role", role.Hex()), zap.String("account", account.Hex()))
	return nil
}

func (a *Control) RevokeRole(ctx *chain.Context, role common.Hash, account common.Address) error {
	if err := a.RequireRole(AdminRole, ctx.Sender); err != nil {
		return err
	}
	if role == AdminRole && account == ctx.Sender {
		return fmt.Errorf("%w: admin cannot revoke its own admin role", types.ErrInvalidParams)
	}
	a.roles.Delete(roleMember{role, account})
	a.logger.Info("role revoked", zap.String("role", role.Hex()), zap.String("account", account.Hex()))
	return nil
}

func (a *Control) Paused() bool {
	return a.paused.Get()
}

// WhenNotPaused fails with ErrPaused while the contract is paused.
func (a *Control) WhenNotPaused() error {
	if a.paused.Get() {
		return types.ErrPaused
	}
	return nil
}

func (a *Control) Pause(ctx *chain.Context) error {
	if err := a.RequireRole(AdminRole, ctx.Sender); err != nil {
		return err
	}
	if a.paused.Get() {
		return types.ErrPaused
	}
	a.paused.Set(true)
	a.logger.Warn("contract paused", zap.String("by", ctx.Sender.Hex()))
	return nil
}

func (a *Control) Unpause(ctx *chain.Context) error {
	if err := a.RequireRole(AdminRole, ctx.Sender); err != nil {
		return err
	}
	if !a.paused.Get() {
		return ErrNotPaused
	}
	a.paused.Set(false)
	a.logger.Info("contract unpaused", zap.String("by", ctx.Sender.Hex()))
	return nil
}

// Lock acquires the reentrancy lock. The returned release func must be
// deferred by the caller.
func (a *Control) Lock() (func(), error) {
	if a.locked {
		return nil, types.ErrReentrantCall
	}
	a.locked = true
	return func() { a.locked = false }, nil
}

func (a *Control) Locked() bool {
	return a.locked
}
