package rateledger

import "github.com/shopspring/decimal"

// RateScale is the number of decimal places a rate is stored with.
const RateScale = 4

// maxRate keeps rates inside a numeric(12,4) column.
var maxRate = decimal.New(1, 8)

// ValidateRate rejects negative rates, rates finer than RateScale and rates that do not fit the column.
func ValidateRate(rate decimal.Decimal) error {
	if rate.IsNegative() {
		return ErrInvalidRate
	}
	if !rate.Equal(rate.Round(RateScale)) {
		return ErrInvalidRate
	}
	if rate.GreaterThanOrEqual(maxRate) {
		return ErrInvalidRate
	}
	return nil
}

// ParseRate parses and validates a decimal rate such as "1.8793".
func ParseRate(raw string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, ErrInvalidRate
	}
	if err := ValidateRate(rate); err != nil {
		return decimal.Zero, err
	}
	return rate, nil
}
