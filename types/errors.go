package types

import "errors"

// Failure conditions surfaced by the executor. Callers match them with
// errors.Is; context is attached with fmt.Errorf("%w: ...").
var (
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInvalidDeadline          = errors.New("invalid deadline")
	ErrInvalidNonce             = errors.New("invalid nonce")
	ErrInvalidParams            = errors.New("invalid strategy parameters")
	ErrUnauthorizedCaller       = errors.New("unauthorized caller")
	ErrGasPriceTooHigh          = errors.New("gas price too high")
	ErrPaused                   = errors.New("contract is paused")
	ErrReentrantCall            = errors.New("reentrant call")
	ErrInsufficientProfit       = errors.New("insufficient profit")
	ErrRefinanceNotProfitable   = errors.New("refinance not profitable")
	ErrInsufficientHealthFactor = errors.New("insufficient health factor")
	ErrUserNotLiquidatable      = errors.New("user not liquidatable")
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrSwapFailed               = errors.New("swap failed")
	ErrInvalidSwapOutput        = errors.New("invalid swap output")
	ErrUnsupportedSwapRouter    = errors.New("unsupported swap router")
	ErrUnsupportedStrategy      = errors.New("unsupported strategy")
	ErrNetworkMismatch          = errors.New("network mismatch")
	ErrDailyLimitExceeded       = errors.New("daily limit exceeded")
	ErrInvalidFee               = errors.New("invalid fee")
)

// Category groups failure conditions by what a client can do about them.
type Category int

const (
	CategoryUnknown Category = iota
	// CategoryValidation means the request itself is malformed; fix the input.
	CategoryValidation
	// CategoryAuthorization means the caller, contract state or transaction
	// parameters forbid the call.
	CategoryAuthorization
	// CategoryEconomic means the opportunity did not produce the expected
	// outcome; the same request fails again against the same state.
	CategoryEconomic
	// CategoryIntegration means a collaborator (pool, venue, network) misbehaved.
	CategoryIntegration
	// CategoryResourceLimit means a configured ceiling was hit.
	CategoryResourceLimit
)

func (c Category) String() string {
	switch c {
	case CategoryValidation:
		return "validation"
	case CategoryAuthorization:
		return "authorization"
	case CategoryEconomic:
		return "economic"
	case CategoryIntegration:
		return "integration"
	case CategoryResourceLimit:
		return "resource_limit"
	default:
		return "unknown"
	}
}

type condition struct {
	err      error
	name     string
	category Category
}

var conditions = []condition{
	{ErrInvalidAmount, "InvalidAmount", CategoryValidation},
	{ErrInvalidDeadline, "InvalidDeadline", CategoryValidation},
	{ErrInvalidNonce, "InvalidNonce", CategoryValidation},
	{ErrInvalidParams, "InvalidParams", CategoryValidation},
	{ErrInvalidFee, "InvalidFee", CategoryValidation},
	{ErrUnauthorizedCaller, "UnauthorizedCaller", CategoryAuthorization},
	{ErrPaused, "Paused", CategoryAuthorization},
	{ErrReentrantCall, "ReentrantCall", CategoryAuthorization},
	{ErrGasPriceTooHigh, "GasPriceTooHigh", CategoryAuthorization},
	{ErrInsufficientProfit, "InsufficientProfit", CategoryEconomic},
	{ErrRefinanceNotProfitable, "RefinanceNotProfitable", CategoryEconomic},
	{ErrInsufficientHealthFactor, "InsufficientHealthFactor", CategoryEconomic},
	{ErrUserNotLiquidatable, "UserNotLiquidatable", CategoryEconomic},
	{ErrInsufficientBalance, "InsufficientBalance", CategoryEconomic},
	{ErrSwapFailed, "SwapFailed", CategoryIntegration},
	{ErrInvalidSwapOutput, "InvalidSwapOutput", CategoryIntegration},
	{ErrUnsupportedSwapRouter, "UnsupportedSwapRouter", CategoryIntegration},
	{ErrUnsupportedStrategy, "UnsupportedStrategy", CategoryIntegration},
	{ErrNetworkMismatch, "NetworkMismatch", CategoryIntegration},
	{ErrDailyLimitExceeded, "DailyLimitExceeded", CategoryResourceLimit},
}

func lookup(err error) (condition, bool) {
	if err == nil {
		return condition{}, false
	}
	for _, c := range conditions {
		if errors.Is(err, c.err) {
			return c, true
		}
	}
	return condition{}, false
}

// CategoryOf reports the category of the first known condition wrapped by err.
func CategoryOf(err error) Category {
	c, ok := lookup(err)
	if !ok {
		return CategoryUnknown
	}
	return c.category
}

// ConditionName returns the condition name used in metrics and CLI output,
// or "Unknown" when err wraps none of the declared conditions.
func ConditionName(err error) string {
	c, ok := lookup(err)
	if !ok {
		return "Unknown"
	}
	return c.name
}

// Retryable reports whether the same request may succeed later once
// transaction conditions change: gas price, daily volume or the pause flag.
func Retryable(err error) bool {
	for _, target := range []error{ErrGasPriceTooHigh, ErrDailyLimitExceeded, ErrPaused} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
