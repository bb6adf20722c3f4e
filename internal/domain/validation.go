package domain

import "fmt"

// ValidateAmount validates an operation amount: it must be strictly positive,
// carry at most 2 decimal places, and name a valid currency.
func ValidateAmount(amount Amount) error {
	if !amount.Value.IsPositive() {
		return ErrInvalidAmount
	}
	if amount.Value.Exponent() < -2 {
		return fmt.Errorf("%w: at most 2 decimal places", ErrInvalidAmount)
	}
	return ValidateCurrencyCode(amount.CurrencyCode)
}

// ValidateCurrencyCode validates that a currency code follows ISO 4217 format.
func ValidateCurrencyCode(code string) error {
	if code == "" {
		return fmt.Errorf("currency code cannot be empty")
	}

	if len(code) != 3 {
		return fmt.Errorf("currency code must be 3 characters (ISO 4217)")
	}

	// Check if all characters are uppercase letters
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return fmt.Errorf("currency code must contain only uppercase letters")
		}
	}

	return nil
}
