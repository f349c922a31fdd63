package domain

import "errors"

// ErrorKind groups errors by how a caller should react to them.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindState         ErrorKind = "state"
	KindPayment       ErrorKind = "payment"
	KindNotFound      ErrorKind = "not_found"
	KindInternal      ErrorKind = "internal"
)

type kindError struct {
	kind ErrorKind
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func newError(kind ErrorKind, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Validation errors: the call is malformed and was rejected before any
// state change.
var (
	ErrInvalidPrice        = newError(KindValidation, "invalid price")
	ErrInvalidDuration     = newError(KindValidation, "invalid duration")
	ErrInvalidAsset        = newError(KindValidation, "invalid asset id")
	ErrInvalidAddress      = newError(KindValidation, "invalid address")
	ErrArrayLengthMismatch = newError(KindValidation, "array length mismatch")
	ErrBatchTooLarge       = newError(KindValidation, "batch too large")
	ErrFeeTooHigh          = newError(KindValidation, "fee too high")
	ErrBidTooLow           = newError(KindValidation, "bid too low")
)

// Authorization errors.
var (
	ErrNotSeller       = newError(KindAuthorization, "caller is not the seller")
	ErrNotOfferer      = newError(KindAuthorization, "caller is not the offerer")
	ErrNotAssetOwner   = newError(KindAuthorization, "caller does not own the asset")
	ErrNotApproved     = newError(KindAuthorization, "engine is not approved for the asset")
	ErrNotOwner        = newError(KindAuthorization, "caller is not the engine owner")
	ErrSellerCannotBid = newError(KindAuthorization, "seller cannot bid on own auction")
	ErrUnauthorized    = newError(KindAuthorization, "unauthorized")
)

// State errors: the entity is stale, consumed, or the engine refuses the
// transition in its current state.
var (
	ErrListingNotActive   = newError(KindState, "listing not active")
	ErrAuctionNotActive   = newError(KindState, "auction not active")
	ErrAuctionNotEnded    = newError(KindState, "auction not ended")
	ErrAuctionEnded       = newError(KindState, "auction ended")
	ErrOfferNotActive     = newError(KindState, "offer not active")
	ErrHasActiveBids      = newError(KindState, "auction has active bids")
	ErrAssetAlreadyListed = newError(KindState, "asset already listed")
	ErrNothingToWithdraw  = newError(KindState, "nothing to withdraw")
	ErrPaused             = newError(KindState, "engine paused")
	ErrReentrantCall      = newError(KindState, "reentrant call")
	ErrAlreadyExists      = newError(KindState, "already exists")
	ErrLockHeld           = newError(KindState, "lock already held")
	ErrNotWriter          = newError(KindState, "another replica holds the writer lease")
)

// Payment errors abort the whole operation.
var (
	ErrTransferFailed            = newError(KindPayment, "transfer failed")
	ErrPaymentMethodNotSupported = newError(KindPayment, "payment method not supported")
	ErrUnexpectedValue           = newError(KindPayment, "native value sent with token payment")
)

var (
	ErrNotFound          = newError(KindNotFound, "not found")
	ErrRateLimited       = errors.New("rate limited")
	ErrCollaboratorPanic = newError(KindInternal, "collaborator panicked")
)

// KindOf reports the kind of the first classified error in err's chain.
// Unclassified errors are KindInternal.
func KindOf(err error) ErrorKind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindInternal
}
