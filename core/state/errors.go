package state

import "errors"

var (
	// ErrInvalidSnapshot is returned when restoring an unknown, released or
	// invalidated snapshot handle.
	ErrInvalidSnapshot = errors.New("state: invalid snapshot handle")

	// ErrStaleDiff is returned when a diff was computed against a revision
	// other than the current one.
	ErrStaleDiff = errors.New("state: diff base is stale")

	// ErrDiffApplied is returned when the same diff is applied twice.
	ErrDiffApplied = errors.New("state: diff already applied")

	// ErrDiffConflict is returned when the From side of a change does not
	// match the stored value.
	ErrDiffConflict = errors.New("state: diff conflicts with stored value")

	// ErrCodeImmutable is returned when a diff tries to replace the code of
	// an account that already has code.
	ErrCodeImmutable = errors.New("state: code is immutable once deployed")

	// ErrNonceRegression is returned when a diff lowers an account nonce.
	ErrNonceRegression = errors.New("state: nonce must not decrease")

	// ErrBalanceUnderflow is returned when a debit exceeds the balance.
	ErrBalanceUnderflow = errors.New("state: balance underflow")

	// ErrNilDiff is returned by Apply(nil).
	ErrNilDiff = errors.New("state: nil diff")
)
