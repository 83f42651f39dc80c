package valueset

import "errors"

// Error kinds surfaced by the store. Callers classify with errors.Is;
// the HTTP handler maps each kind to a status code.
var (
	// ErrNotFound: no value set with the given key or id.
	ErrNotFound = errors.New("value set not found")

	// ErrItemNotFound: the value set exists but has no item with the
	// given code.
	ErrItemNotFound = errors.New("item not found")

	// ErrDuplicateKey: a value set with the given key already exists.
	ErrDuplicateKey = errors.New("value set key already exists")

	// ErrDuplicateItemCode: an item code collides with another item in
	// the same value set.
	ErrDuplicateItemCode = errors.New("duplicate item code")

	// ErrInvalidItemCount: the item array would leave the 1..500 range.
	ErrInvalidItemCount = errors.New("item count must be between 1 and 500")

	// ErrItemLimitExceeded: appending would push the set past 500 items.
	ErrItemLimitExceeded = errors.New("maximum number of items reached")

	// ErrAlreadyArchived / ErrAlreadyActive: the requested status
	// transition is a no-op. Reported, not fatal.
	ErrAlreadyArchived = errors.New("value set is already archived")
	ErrAlreadyActive   = errors.New("value set is already active")

	// ErrUnsupportedFormat: export/import format other than json or csv.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrNotImplemented: CSV import.
	ErrNotImplemented = errors.New("not implemented")

	// ErrValidation: a create/update payload violates a blocking rule.
	ErrValidation = errors.New("validation failed")
)
