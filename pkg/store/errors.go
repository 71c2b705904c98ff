package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicate         = errors.New("already exists")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrUnknownProduct    = errors.New("product does not exist")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrProductInUse      = errors.New("product is referenced by existing orders")
)

// DuplicateError names the unique field that collided.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, ErrDuplicate)
}

func (e *DuplicateError) Unwrap() error {
	return ErrDuplicate
}

// LineError ties an order creation failure to one requested line.
type LineError struct {
	Index     int
	ProductID uint
	Err       error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("item %d (product %d): %v", e.Index, e.ProductID, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}
