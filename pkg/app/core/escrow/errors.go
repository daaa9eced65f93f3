package escrow

import (
	"errors"

	"github.com/uhyunpark/escrowd/pkg/app/core/bank"
)

var (
	ErrDuplicateListing    = errors.New("listing already exists")
	ErrListingNotFound     = errors.New("listing not found")
	ErrAssetNotAdmitted    = errors.New("asset not admitted to custody")
	ErrDuplicateAdmission  = errors.New("asset already admitted to custody")
	ErrNotOwner            = errors.New("caller does not own listing")
	ErrInsufficientBalance = errors.New("listing balance too low")
	ErrInvalidQuantity     = errors.New("quantity must be positive")
	ErrUnknownMethod       = errors.New("unknown escrow method")
	ErrPaymentMismatch     = errors.New("companion transfer mismatch")
	ErrArithmeticOverflow  = errors.New("arithmetic overflow")
	ErrResourceExhausted   = errors.New("custody cannot cover outbound transfer")
)

// Kind groups errors by what the caller should do about them.
type Kind int

const (
	KindNone Kind = iota
	// KindPrecondition: the request is invalid against current state.
	KindPrecondition
	// KindPayment: resubmit with a corrected companion transfer.
	KindPayment
	// KindOverflow: a quantity or price is too large.
	KindOverflow
	// KindResource: custody books are inconsistent. Indicates a bug.
	KindResource
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindPrecondition:
		return "precondition"
	case KindPayment:
		return "payment"
	case KindOverflow:
		return "overflow"
	case KindResource:
		return "resource"
	default:
		return "internal"
	}
}

// KindOf classifies err. Resource exhaustion is checked first because it
// wraps the bank error that caused it.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrResourceExhausted):
		return KindResource
	case errors.Is(err, ErrArithmeticOverflow), errors.Is(err, bank.ErrOverflow):
		return KindOverflow
	case errors.Is(err, ErrPaymentMismatch), errors.Is(err, bank.ErrInsufficientFunds):
		return KindPayment
	case errors.Is(err, ErrDuplicateListing),
		errors.Is(err, ErrListingNotFound),
		errors.Is(err, ErrAssetNotAdmitted),
		errors.Is(err, ErrDuplicateAdmission),
		errors.Is(err, ErrNotOwner),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrUnknownMethod),
		errors.Is(err, bank.ErrUnknownAsset),
		errors.Is(err, bank.ErrNotOptedIn),
		errors.Is(err, bank.ErrAlreadyOptedIn):
		return KindPrecondition
	default:
		return KindInternal
	}
}
