package recordrepo

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateSKU indicates the store rejected an insert on the SKU uniqueness constraint.
	ErrDuplicateSKU = errors.New("record sku already exists")
)
