package planner

import "errors"

var (
	// ErrOrderNotFound is returned when a production order does not exist.
	ErrOrderNotFound = errors.New("production order not found")
	// ErrQuantificationNotFound is returned when no quantification has
	// been built for the requested key yet.
	ErrQuantificationNotFound = errors.New("quantification not found")
	// ErrPurchaseOrderNotFound is returned when a purchase order does
	// not exist.
	ErrPurchaseOrderNotFound = errors.New("purchase order not found")
)
