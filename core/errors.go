package core

import "errors"

// Validation failures. A transaction failing any of these is Rejected and
// leaves the world state untouched.
var (
	ErrNonceMismatch     = errors.New("nonce mismatch")
	ErrNonceMax          = errors.New("nonce has max value")
	ErrInsufficientFunds = errors.New("insufficient funds for gas * price + value")
	ErrIntrinsicGas      = errors.New("intrinsic gas too low")
	ErrGasLimitTooHigh   = errors.New("gas limit exceeds block gas limit")
	ErrSenderHasCode     = errors.New("sender not an eoa")
	ErrInitCodeTooLarge  = errors.New("max initcode size exceeded")
	ErrFeeTooLow         = errors.New("gas price below base fee")
)

// ErrUnsupportedFork is returned by ChainConfig.Validate for any rule set
// other than the pinned one.
var ErrUnsupportedFork = errors.New("unsupported fork")
