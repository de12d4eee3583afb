package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, CategoryUnknown},
		{"plain", errors.New("boom"), CategoryUnknown},
		{"validation", ErrInvalidNonce, CategoryValidation},
		{"wrapped authorization", fmt.Errorf("%w: 0xabc", ErrUnauthorizedCaller), CategoryAuthorization},
		{"deeply wrapped economic", fmt.Errorf("callback: %w", fmt.Errorf("%w: got 1", ErrInsufficientProfit)), CategoryEconomic},
		{"integration", fmt.Errorf("venue: %w", ErrSwapFailed), CategoryIntegration},
		{"router", ErrUnsupportedSwapRouter, CategoryIntegration},
		{"gas", ErrGasPriceTooHigh, CategoryAuthorization},
		{"resource", ErrDailyLimitExceeded, CategoryResourceLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CategoryOf(tt.err))
		})
	}
}

func TestConditionName(t *testing.T) {
	assert.Equal(t, "GasPriceTooHigh", ConditionName(fmt.Errorf("%w: 200 gwei", ErrGasPriceTooHigh)))
	assert.Equal(t, "Unknown", ConditionName(errors.New("other")))
	assert.Equal(t, "Unknown", ConditionName(nil))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrPaused))
	assert.True(t, Retryable(fmt.Errorf("%w: 200 gwei", ErrGasPriceTooHigh)))
	assert.True(t, Retryable(ErrDailyLimitExceeded))
	assert.False(t, Retryable(ErrInsufficientProfit))
	assert.False(t, Retryable(ErrUserNotLiquidatable))
	assert.False(t, Retryable(ErrInvalidParams))
	assert.False(t, Retryable(ErrUnauthorizedCaller))
}

func TestEveryConditionHasCategory(t *testing.T) {
	for _, c := range conditions {
		assert.NotEqual(t, CategoryUnknown, c.category, c.name)
		assert.NotEqual(t, "unknown", c.category.String(), c.name)
	}
}
