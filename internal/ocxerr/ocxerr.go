// Package ocxerr defines the closed error-code taxonomy shared by the
// ledger and the token verifier, so API callers get a
// coded JSON failure instead of an opaque Go error string.
package ocxerr

import "fmt"

// Code is a closed set of coded failures surfaced to API callers.
type Code string

const (
	ActivityFundMismatch    Code = "ACTIVITY_FUND_MISMATCH"
	UserCoinSuspended       Code = "USER_COIN_SUSPENDED"
	CoinPurchaseDailyLimit  Code = "COIN_PURCHASE_DAILY_LIMIT"
	CoinPurchasePaymentUnset Code = "COIN_PURCHASE_PAYMENT_NOT_SET"
	InsufficientFunds       Code = "INSUFFICIENT_FUNDS"

	TokenRequired Code = "TOKEN_REQUIRED"
	TokenExpired  Code = "TOKEN_EXPIRED"
	TokenChanged  Code = "TOKEN_CHANGED"
	TokenFailed   Code = "TOKEN_FAILED"
	UserBlocked   Code = "USER_BLOCKED"
)

// httpStatus maps each code to the status spec §6/§7 assigns it.
var httpStatus = map[Code]int{
	ActivityFundMismatch:     400,
	UserCoinSuspended:        403,
	CoinPurchaseDailyLimit:   403,
	CoinPurchasePaymentUnset: 400,
	InsufficientFunds:        402,

	TokenRequired: 401,
	TokenExpired:  401,
	TokenChanged:  401,
	TokenFailed:   401,
	UserBlocked:   401,
}

// Error is a coded, user-visible failure. It is never used for programmer
// errors (those panic — see Must) or for transient I/O (those are logged
// and retried by the caller, never returned as an Error).
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// HTTPStatus returns the status code this error maps to per spec §6/§7.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return 500
}

// New builds a coded Error.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Is reports whether err is an *Error with the given code, so callers can
// branch on failure kind without importing the concrete type everywhere.
func Is(err error, code Code) bool {
	e, ok := err.(*Error)
	return ok && e.Code == code
}

// Must panics on programmer errors — e.g. an activity type outside the
// closed set in spec §4.1. These are never recoverable at the call site.
func Must(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
