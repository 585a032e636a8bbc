package ledger

import (
	"errors"
	"fmt"
)

// Kind classifies a ledger operation failure. Every validation failure is
// returned to the caller as a typed error before any state mutation; the one
// deliberate exception is a rejected transfer, which additionally appends an
// audit record (see Service.Transfer).
type Kind string

const (
	KindUnauthorized        Kind = "UNAUTHORIZED"
	KindNotFound            Kind = "NOT_FOUND"
	KindNotApproved         Kind = "NOT_APPROVED"
	KindInsufficientBalance Kind = "INSUFFICIENT_BALANCE"
	KindInvalidAmount       Kind = "INVALID_AMOUNT"
	KindInvalidSplitRatio   Kind = "INVALID_SPLIT_RATIO"
	KindAlreadyMigrated     Kind = "ALREADY_MIGRATED"
	KindInactiveToken       Kind = "INACTIVE_TOKEN"
	KindInvalidMetadata     Kind = "INVALID_METADATA"
)

// GateSide identifies which side of the dual transfer gate failed.
type GateSide string

const (
	GateSender    GateSide = "sender"
	GateRecipient GateSide = "recipient"
)

// Error is a typed ledger failure. Two Errors match under errors.Is when
// their Kinds are equal, so callers can branch on kind without string
// comparison.
type Error struct {
	Kind Kind
	// Side is set for KindNotApproved to say which gate failed.
	Side GateSide
	msg  string
}

func (e *Error) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return string(e.Kind)
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// Errf builds a typed error with a formatted message.
func Errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// NotApprovedErr builds a gate failure carrying the failed side.
func NotApprovedErr(side GateSide, wallet string) *Error {
	return &Error{
		Kind: KindNotApproved,
		Side: side,
		msg:  fmt.Sprintf("%s wallet %s is not approved", side, wallet),
	}
}

// KindOf extracts the Kind from err, or "" when err is not a ledger Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Sentinel values for errors.Is matching.
var (
	ErrUnauthorized        = &Error{Kind: KindUnauthorized}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrNotApproved         = &Error{Kind: KindNotApproved}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrInvalidAmount       = &Error{Kind: KindInvalidAmount}
	ErrInvalidSplitRatio   = &Error{Kind: KindInvalidSplitRatio}
	ErrAlreadyMigrated     = &Error{Kind: KindAlreadyMigrated}
	ErrInactiveToken       = &Error{Kind: KindInactiveToken}
	ErrInvalidMetadata     = &Error{Kind: KindInvalidMetadata}
)
