package flashloan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRateMode(t *testing.T) {
	for in, want := range map[string]RateMode{
		"stable":     RateModeStable,
		"Variable":   RateModeVariable,
		" VARIABLE ": RateModeVariable,
	} {
		got, err := ParseRateMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
		assert.True(t, got.Valid())
	}

	_, err := ParseRateMode("fixed")
	assert.ErrorContains(t, err, "fixed")
}

func TestRateModeString(t *testing.T) {
	assert.Equal(t, "stable", RateModeStable.String())
	assert.Equal(t, "none", RateModeNone.String())
	assert.Equal(t, "RateMode(7)", RateMode(7).String())
	assert.False(t, RateModeNone.Valid())
}
