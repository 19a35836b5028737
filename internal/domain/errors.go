package domain

import (
	"fmt"
	"strings"
)

// DomainError is the error type surfaced by the cart and checkout engine.
// Two DomainErrors match under errors.Is when their codes are equal.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewDomainError builds an error with no cause. Use it for sentinel values
// that callers match with errors.Is.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

const (
	CodeValidation        = "VALIDATION"
	CodeNetwork           = "NETWORK"
	CodeVoucherRejected   = "VOUCHER_REJECTED"
	CodePaymentInitiation = "PAYMENT_INITIATION"
	CodeStockConflict     = "STOCK_CONFLICT"
	CodeBusy              = "BUSY"
	CodeEmptySelection    = "EMPTY_SELECTION"
	CodeNotFound          = "NOT_FOUND"
)

var (
	ErrValidation        = NewDomainError(CodeValidation, "invalid input")
	ErrNetwork           = NewDomainError(CodeNetwork, "remote call failed")
	ErrVoucherRejected   = NewDomainError(CodeVoucherRejected, "invalid voucher code")
	ErrPaymentInitiation = NewDomainError(CodePaymentInitiation, "payment gateway did not return a redirect url")
	ErrStockConflict     = NewDomainError(CodeStockConflict, "some selected items are no longer available in the requested quantity")
	ErrBusy              = NewDomainError(CodeBusy, "another cart update is still in progress")
	ErrEmptySelection    = NewDomainError(CodeEmptySelection, "no items selected for checkout")
	ErrNotFound          = NewDomainError(CodeNotFound, "resource not found")
)

// Validation reports caller input that cannot be acted on.
func Validation(message string) error {
	return &DomainError{Code: CodeValidation, Message: message}
}

// Network wraps a failed remote call made by op.
func Network(op string, cause error) error {
	return &DomainError{Code: CodeNetwork, Message: op + " failed", Cause: cause}
}

// PaymentInitiation reports an order that was placed but could not be handed
// to the payment gateway. cause may be nil.
func PaymentInitiation(message string, cause error) error {
	return &DomainError{Code: CodePaymentInitiation, Message: message, Cause: cause}
}

// StockConflict lists the line keys whose stock no longer covers the selection.
func StockConflict(keys []string) error {
	return &DomainError{
		Code:    CodeStockConflict,
		Message: ErrStockConflict.Message + ": " + strings.Join(keys, ", "),
	}
}
