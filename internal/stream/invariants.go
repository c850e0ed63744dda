package stream

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrWithdrawnExceedsDeposit reports a snapshot with withdrawals above deposits.
	ErrWithdrawnExceedsDeposit = errors.New("stream: withdrawn amount exceeds total deposited")
	// ErrVaultMismatch reports a vault balance that does not equal deposits minus withdrawals.
	ErrVaultMismatch = errors.New("stream: vault balance does not match deposits minus withdrawals")
	// ErrNegativeAmount reports a negative rate or amount.
	ErrNegativeAmount = errors.New("stream: negative amount")
)

// ExpectedVaultBalance is what the vault must hold given the snapshot's deposit and withdrawal totals.
func (s Snapshot) ExpectedVaultBalance() decimal.Decimal {
	return s.TotalDeposited.Sub(s.WithdrawnAmount)
}

// CheckInvariants cross-checks the deposit, withdrawal and vault figures of a snapshot.
// All violations are returned joined.
func CheckInvariants(s Snapshot) error {
	var errs []error
	fields := []struct {
		name  string
		value decimal.Decimal
	}{
		{"hourly_rate", s.HourlyRate},
		{"total_deposited", s.TotalDeposited},
		{"withdrawn_amount", s.WithdrawnAmount},
		{"vault_balance", s.VaultBalance},
	}
	for _, f := range fields {
		if f.value.Sign() < 0 {
			errs = append(errs, fmt.Errorf("%w: %s=%s", ErrNegativeAmount, f.name, f.value.String()))
		}
	}
	if s.WithdrawnAmount.GreaterThan(s.TotalDeposited) {
		errs = append(errs, fmt.Errorf("%w: withdrawn=%s deposited=%s", ErrWithdrawnExceedsDeposit, s.WithdrawnAmount.String(), s.TotalDeposited.String()))
	}
	if expected := s.ExpectedVaultBalance(); !s.VaultBalance.Equal(expected) {
		errs = append(errs, fmt.Errorf("%w: vault=%s expected=%s", ErrVaultMismatch, s.VaultBalance.String(), expected.String()))
	}
	return errors.Join(errs...)
}
