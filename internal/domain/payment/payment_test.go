package payment

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bazaar/internal/domain/fault"
)

func TestParseMethod(t *testing.T) {
	m, ok := ParseMethod("COD")
	require.True(t, ok)
	assert.Equal(t, MethodCOD, m)

	m, ok = ParseMethod("EXTERNAL")
	require.True(t, ok)
	assert.Equal(t, MethodExternal, m)

	for _, s := range []string{"", "cod", "CARD"} {
		_, ok := ParseMethod(s)
		assert.False(t, ok, s)
	}
}

func TestUnavailable(t *testing.T) {
	_, err := Unavailable{}.CreateIntent(context.Background(), decimal.NewFromInt(10))

	require.Error(t, err)
	assert.Equal(t, fault.KindExternal, fault.KindOf(err))
}
