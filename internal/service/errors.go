package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrForbidden  = errors.New("admin role required")
	ErrNoNewItems = errors.New("exchange needs at least one new item")
)

type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// fromValidator turns validator/v10 field errors into one ValidationError
// naming the first failing field.
func fromValidator(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Message: err.Error(), Err: err}
	}
	first := fieldErrs[0]
	field := first.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	msg := "failed " + first.Tag()
	if first.Param() != "" {
		msg += "=" + first.Param()
	}
	return &ValidationError{Field: field, Message: msg, Err: err}
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

type InsufficientStockError struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (%s): requested %d, available %d", e.Name, e.ProductID, e.Requested, e.Available)
}

type ReturnWindowExceededError struct {
	Days  int
	Limit int
}

func (e *ReturnWindowExceededError) Error() string {
	return fmt.Sprintf("return window exceeded: invoice is %d days old, limit is %d", e.Days, e.Limit)
}

type InvalidReturnQuantityError struct {
	ProductID string
	Requested int
	Remaining int
}

func (e *InvalidReturnQuantityError) Error() string {
	return fmt.Sprintf("invalid return quantity %d for product %s: remaining returnable %d", e.Requested, e.ProductID, e.Remaining)
}

type ProductNotInOriginalInvoiceError struct {
	ProductID string
}

func (e *ProductNotInOriginalInvoiceError) Error() string {
	return fmt.Sprintf("product %s is not on the original invoice", e.ProductID)
}

type TransactionConflictError struct {
	Attempts int
}

func (e *TransactionConflictError) Error() string {
	return fmt.Sprintf("transaction conflicted %d times, please retry", e.Attempts)
}
