package models

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveID(t *testing.T) {
	a := DeriveID("orders", "client-key-1")
	b := DeriveID("orders", "client-key-1")
	c := DeriveID("orders", "client-key-2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	_, err := NewID(a.String())
	assert.NoError(t, err)
}

func TestNewID(t *testing.T) {
	_, err := NewID("not-a-uuid")
	assert.Error(t, err)

	id := GenerateUUID()
	parsed, err := NewID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestMoney(t *testing.T) {
	tests := []struct {
		name      string
		left      Money
		right     Money
		sum       int64
		diff      int64
		mismatch  bool
		leftLarge bool
	}{
		{
			name:      "same currency",
			left:      NewMoney(1500, "USD"),
			right:     NewMoney(500, "USD"),
			sum:       2000,
			diff:      1000,
			leftLarge: true,
		},
		{
			name:  "negative difference",
			left:  NewMoney(100, "EUR"),
			right: NewMoney(250, "EUR"),
			sum:   350,
			diff:  -150,
		},
		{
			name:     "currency mismatch",
			left:     NewMoney(100, "USD"),
			right:    NewMoney(100, "EUR"),
			mismatch: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum, err := tt.left.Add(tt.right)
			if tt.mismatch {
				assert.True(t, errors.Is(err, ErrCurrencyMismatch))
				_, err = tt.left.Subtract(tt.right)
				assert.True(t, errors.Is(err, ErrCurrencyMismatch))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.sum, sum.Amount)

			diff, err := tt.left.Subtract(tt.right)
			require.NoError(t, err)
			assert.Equal(t, tt.diff, diff.Amount)

			gt, err := tt.left.GreaterThan(tt.right)
			require.NoError(t, err)
			assert.Equal(t, tt.leftLarge, gt)
		})
	}
}

func TestMoneyOverflow(t *testing.T) {
	tests := []struct {
		name string
		op   func() (Money, error)
	}{
		{"add past max", func() (Money, error) { return NewMoney(math.MaxInt64, "USD").Add(NewMoney(1, "USD")) }},
		{"add past min", func() (Money, error) { return NewMoney(math.MinInt64, "USD").Add(NewMoney(-1, "USD")) }},
		{"subtract past min", func() (Money, error) { return NewMoney(math.MinInt64, "USD").Subtract(NewMoney(1, "USD")) }},
		{"subtract past max", func() (Money, error) { return NewMoney(math.MaxInt64, "USD").Subtract(NewMoney(-1, "USD")) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.op()
			assert.True(t, errors.Is(err, ErrAmountOverflow))
		})
	}
}

func TestMoneyMultiplyAndString(t *testing.T) {
	m := NewMoney(1999, "USD").Multiply(3)
	assert.Equal(t, int64(5997), m.Amount)
	assert.Equal(t, "59.97 USD", m.String())
	assert.True(t, Zero("USD").IsZero())
}
