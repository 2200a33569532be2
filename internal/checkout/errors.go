package checkout

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("checkout: validation failed")
	ErrEmptyCart            = errors.New("checkout: cart is empty")
	ErrInvalidQuantity      = errors.New("checkout: invalid line quantity")
	ErrInsufficientStock    = errors.New("checkout: insufficient stock")
	ErrProductNotFound      = errors.New("checkout: product not found")
	ErrProductUnavailable   = errors.New("checkout: product unavailable")
	ErrCheckoutUnavailable  = errors.New("checkout: temporarily unavailable")
	ErrCheckoutInProgress   = errors.New("checkout: request with this idempotency key is in progress")
	ErrIdempotencyKeyReused = errors.New("checkout: idempotency key reused for a different request")
	ErrDuplicateOrder       = errors.New("checkout: order already exists for idempotency key")
)

// Reason is the stable failure code recorded against an idempotency key and
// returned to clients.
type Reason string

const (
	ReasonEmptyCart           Reason = "empty_cart"
	ReasonInvalidAddress      Reason = "invalid_address"
	ReasonInvalidQuantity     Reason = "invalid_quantity"
	ReasonInsufficientStock   Reason = "insufficient_stock"
	ReasonProductNotFound     Reason = "product_not_found"
	ReasonProductUnavailable  Reason = "product_unavailable"
	ReasonReservationExpired  Reason = "reservation_expired"
	ReasonCheckoutUnavailable Reason = "checkout_unavailable"
	ReasonInternal            Reason = "internal"
)

// FailureError is a terminal checkout failure. Err matches one of the package
// sentinels through errors.Is.
type FailureError struct {
	Reason    Reason
	ProductID string
	Err       error
}

func (e *FailureError) Error() string {
	if e.ProductID != "" {
		return fmt.Sprintf("checkout failed (%s, product %s): %v", e.Reason, e.ProductID, e.Err)
	}
	return fmt.Sprintf("checkout failed (%s): %v", e.Reason, e.Err)
}

func (e *FailureError) Unwrap() error {
	return e.Err
}

func fail(reason Reason, productID string, err error) *FailureError {
	return &FailureError{Reason: reason, ProductID: productID, Err: err}
}

// ReasonOf extracts the failure reason carried by err, or ReasonInternal.
func ReasonOf(err error) Reason {
	var fe *FailureError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ReasonInternal
}

func productOf(err error) string {
	var fe *FailureError
	if errors.As(err, &fe) {
		return fe.ProductID
	}
	return ""
}

// failureFromReason rebuilds the error for a failure replayed from the idempotency store.
func failureFromReason(reason, productID string) *FailureError {
	r := Reason(reason)
	switch r {
	case ReasonEmptyCart:
		return fail(r, "", fmt.Errorf("%w: %w", ErrValidation, ErrEmptyCart))
	case ReasonInvalidAddress:
		return fail(r, "", ErrValidation)
	case ReasonInvalidQuantity:
		return fail(r, productID, fmt.Errorf("%w: %w", ErrValidation, ErrInvalidQuantity))
	case ReasonInsufficientStock:
		return fail(r, productID, ErrInsufficientStock)
	case ReasonProductNotFound:
		return fail(r, productID, ErrProductNotFound)
	case ReasonProductUnavailable:
		return fail(r, productID, ErrProductUnavailable)
	case ReasonReservationExpired, ReasonCheckoutUnavailable:
		return fail(r, "", ErrCheckoutUnavailable)
	default:
		return fail(ReasonInternal, "", errors.New("checkout: internal error"))
	}
}
