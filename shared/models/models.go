package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrCurrencyMismatch is returned when arithmetic mixes currencies
var ErrCurrencyMismatch = errors.New("currency mismatch")

var ErrAmountOverflow = errors.New("amount overflow")

// ID represents a unique identifier
type ID string

// GenerateUUID creates a new random UUID
func GenerateUUID() ID {
	return ID(uuid.New().String())
}

// DeriveID creates a deterministic UUID (v5) from a namespace and a client supplied key.
// The same pair always yields the same ID.
func DeriveID(namespace, key string) ID {
	ns := uuid.NewSHA1(uuid.NameSpaceURL, []byte(namespace))
	return ID(uuid.NewSHA1(ns, []byte(key)).String())
}

// NewID creates an ID from string
func NewID(id string) (ID, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", errors.Wrapf(err, "invalid id %q", id)
	}
	return ID(id), nil
}

// String returns string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty reports whether the ID is unset
func (id ID) IsEmpty() bool {
	return id == ""
}

// Timestamps represents creation and update times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTimestamps creates new timestamps at the given instant
func NewTimestamps(now time.Time) Timestamps {
	now = now.UTC()
	return Timestamps{
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch moves UpdatedAt forward
func (t Timestamps) Touch(now time.Time) Timestamps {
	t.UpdatedAt = now.UTC()
	return t
}

// Version represents entity version for optimistic locking
type Version struct {
	Value int `json:"value"`
}

// NewVersion creates new version
func NewVersion() Version {
	return Version{Value: 1}
}

// Next increments version
func (v Version) Next() Version {
	v.Value++
	return v
}

// Money represents a monetary amount in minor units
type Money struct {
	Amount   int64  `json:"amount"`   // minor units (cents)
	Currency string `json:"currency"` // ISO 4217
}

// NewMoney creates a new money value
func NewMoney(amount int64, currency string) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
	}
}

// Zero returns zero in the given currency
func Zero(currency string) Money {
	return Money{Currency: currency}
}

// IsZero checks if money is zero
func (m Money) IsZero() bool {
	return m.Amount == 0
}

// IsPositive checks if money is positive
func (m Money) IsPositive() bool {
	return m.Amount > 0
}

// IsNegative checks if money is below zero
func (m Money) IsNegative() bool {
	return m.Amount < 0
}

// Add adds two money values (must have same currency)
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, errors.Wrapf(ErrCurrencyMismatch, "%s + %s", m.Currency, other.Currency)
	}
	sum := m.Amount + other.Amount
	if (other.Amount > 0 && sum < m.Amount) || (other.Amount < 0 && sum > m.Amount) {
		return Money{}, errors.Wrapf(ErrAmountOverflow, "%d + %d", m.Amount, other.Amount)
	}
	return Money{
		Amount:   sum,
		Currency: m.Currency,
	}, nil
}

// Subtract subtracts two money values (must have same currency)
func (m Money) Subtract(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, errors.Wrapf(ErrCurrencyMismatch, "%s - %s", m.Currency, other.Currency)
	}
	diff := m.Amount - other.Amount
	if (other.Amount > 0 && diff > m.Amount) || (other.Amount < 0 && diff < m.Amount) {
		return Money{}, errors.Wrapf(ErrAmountOverflow, "%d - %d", m.Amount, other.Amount)
	}
	return Money{
		Amount:   diff,
		Currency: m.Currency,
	}, nil
}

// Multiply scales the amount by an integer quantity
func (m Money) Multiply(quantity int) Money {
	return Money{
		Amount:   m.Amount * int64(quantity),
		Currency: m.Currency,
	}
}

// GreaterThan compares two amounts of the same currency
func (m Money) GreaterThan(other Money) (bool, error) {
	if m.Currency != other.Currency {
		return false, errors.Wrapf(ErrCurrencyMismatch, "%s > %s", m.Currency, other.Currency)
	}
	return m.Amount > other.Amount, nil
}

func (m Money) String() string {
	return fmt.Sprintf("%d.%02d %s", m.Amount/100, abs(m.Amount%100), m.Currency)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
