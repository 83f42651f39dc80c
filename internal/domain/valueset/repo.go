package valueset

import (
	"context"
	"time"
)

// ListFilter narrows a List query. Search matches case-insensitively
// against key or description as a substring.
type ListFilter struct {
	Status *Status
	Module *string
	Search string
}

// Sort names the list ordering. Field is one of the whitelisted
// sortable fields; the default is creation time descending.
type Sort struct {
	Field string
	Desc  bool
}

// Audit stamps a mutation with the acting user and time. The repository
// writes it into updated_at / updated_by on every mutating call.
type Audit struct {
	At time.Time
	By string
}

// DocumentUpdate is a partial $set-style update of one document. Nil
// fields are untouched. Status transitions carry their reason/actor
// trail alongside the flip.
type DocumentUpdate struct {
	Status        *Status
	Module        *string
	Description   *string
	Items         *[]Item
	ArchiveReason *string
	ArchivedBy    *string
	ArchivedAt    *time.Time
	RestoreReason *string
	RestoredBy    *string
	RestoredAt    *time.Time
	Audit         Audit
}

// Repository is the document-store access layer for value sets: one
// collection keyed by the unique business key. Every mutating call is a
// single atomic statement per document; read-then-write sequences built
// on top of these primitives are not atomic as a unit (see Service).
// Implementations return ErrNotFound when the targeted document (or,
// for item-positional updates, the targeted item) does not exist.
type Repository interface {
	Insert(ctx context.Context, vs *ValueSet) error
	FindByKey(ctx context.Context, key string) (*ValueSet, error)
	FindByID(ctx context.Context, id string) (*ValueSet, error)
	KeyExists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, f ListFilter, skip, limit int, sort Sort) ([]*ValueSet, int, error)
	FindAll(ctx context.Context, status *Status) ([]*ValueSet, error)

	// UpdateByKey applies a partial update and returns the document
	// state after the update.
	UpdateByKey(ctx context.Context, key string, upd DocumentUpdate) (*ValueSet, error)

	// AppendItems pushes items onto the end of the array in one
	// statement.
	AppendItems(ctx context.Context, key string, items []Item, audit Audit) (*ValueSet, error)

	// SetItem replaces the item matching code in place, preserving its
	// position.
	SetItem(ctx context.Context, key, code string, item Item, audit Audit) (*ValueSet, error)

	// RemoveItem pulls the item matching code out of the array.
	RemoveItem(ctx context.Context, key, code string, audit Audit) (*ValueSet, error)

	// ArchiveMany flips status to archived for every matching key,
	// unconditionally. Returns matched and modified counts.
	ArchiveMany(ctx context.Context, keys []string, reason, by string, at time.Time) (int64, int64, error)

	SearchItems(ctx context.Context, query, valueSetKey, languageCode string) ([]ItemMatch, error)
	SearchByLabel(ctx context.Context, labelText, languageCode string, status *Status) ([]*ValueSet, error)

	Statistics(ctx context.Context) (*Statistics, error)
	ModuleStatistics(ctx context.Context, module string) (*ModuleStatistics, error)

	Delete(ctx context.Context, key string) (bool, error)
	DeleteMany(ctx context.Context, keys []string) (int64, error)
}
