package valueset

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a value set. Transitions between the
// two states happen only through Archive and Restore.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusArchived
}

// Field length and item count limits enforced at the store boundary.
const (
	MaxKeyLength         = 100
	MaxModuleLength      = 50
	MaxDescriptionLength = 500
	MaxCodeLength        = 50
	MaxLabelLength       = 200
	MinItems             = 1
	MaxItems             = 500

	// DefaultModule is assigned when a value set is created without an
	// explicit module.
	DefaultModule = "Core"
)

// Labels maps a language code to display text. The "en" entry is
// mandatory and non-empty; any other language is optional.
type Labels map[string]string

// English returns the required English label.
func (l Labels) English() string { return l["en"] }

// Merge returns a copy of l with the entries of other overwriting
// per-language; languages absent from other are untouched.
func (l Labels) Merge(other Labels) Labels {
	merged := make(Labels, len(l)+len(other))
	for lang, text := range l {
		merged[lang] = text
	}
	for lang, text := range other {
		merged[lang] = text
	}
	return merged
}

// Item is one code/label entry embedded in a value set. Items are not
// independently addressable outside their parent document.
type Item struct {
	Code   string `json:"code"`
	Labels Labels `json:"labels"`
}

// ValueSet maps to the value_set table. The items array is stored as a
// single jsonb column, preserving insertion order across edits.
type ValueSet struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	Key           string     `db:"key" json:"key"`
	Status        Status     `db:"status" json:"status"`
	Module        string     `db:"module" json:"module"`
	Description   *string    `db:"description" json:"description,omitempty"`
	Items         []Item     `db:"items" json:"items"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	CreatedBy     string     `db:"created_by" json:"createdBy"`
	UpdatedAt     *time.Time `db:"updated_at" json:"updatedAt,omitempty"`
	UpdatedBy     *string    `db:"updated_by" json:"updatedBy,omitempty"`
	ArchiveReason *string    `db:"archive_reason" json:"archiveReason,omitempty"`
	ArchivedBy    *string    `db:"archived_by" json:"archivedBy,omitempty"`
	ArchivedAt    *time.Time `db:"archived_at" json:"archivedAt,omitempty"`
	RestoreReason *string    `db:"restore_reason" json:"restoreReason,omitempty"`
	RestoredBy    *string    `db:"restored_by" json:"restoredBy,omitempty"`
	RestoredAt    *time.Time `db:"restored_at" json:"restoredAt,omitempty"`
}

// ItemIndex returns the position of the item with the given code, or -1.
// Codes are compared case-sensitively.
func (vs *ValueSet) ItemIndex(code string) int {
	for i, item := range vs.Items {
		if item.Code == code {
			return i
		}
	}
	return -1
}

// HasItem reports whether an item with the given code exists.
func (vs *ValueSet) HasItem(code string) bool { return vs.ItemIndex(code) >= 0 }

// Summary is the list-view projection of a value set: metadata plus the
// item count, without the full item array.
type Summary struct {
	ID          uuid.UUID  `json:"id"`
	Key         string     `json:"key"`
	Status      Status     `json:"status"`
	Module      string     `json:"module"`
	Description *string    `json:"description,omitempty"`
	ItemCount   int        `json:"itemCount"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

// Summarize builds the list-view projection of vs.
func (vs *ValueSet) Summarize() *Summary {
	return &Summary{
		ID:          vs.ID,
		Key:         vs.Key,
		Status:      vs.Status,
		Module:      vs.Module,
		Description: vs.Description,
		ItemCount:   len(vs.Items),
		CreatedAt:   vs.CreatedAt,
		UpdatedAt:   vs.UpdatedAt,
	}
}

// CreateInput carries the caller-supplied fields for creating a value
// set. CreatedAt may be set explicitly for migrations; otherwise the
// current time is used.
type CreateInput struct {
	Key         string     `json:"key"`
	Status      Status     `json:"status"`
	Module      string     `json:"module"`
	Description *string    `json:"description,omitempty"`
	Items       []Item     `json:"items"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
}

// UpdateInput is a partial metadata update. Nil fields are left
// untouched; a non-nil Items pointer replaces the item array wholesale
// and re-runs the create-time invariants.
type UpdateInput struct {
	Status      *Status `json:"status,omitempty"`
	Module      *string `json:"module,omitempty"`
	Description *string `json:"description,omitempty"`
	Items       *[]Item `json:"items,omitempty"`
}

// ItemUpdate is a partial update of one item. A non-nil Code renames the
// item; Labels entries merge per-language into the existing labels.
type ItemUpdate struct {
	Code   *string `json:"code,omitempty"`
	Labels Labels  `json:"labels,omitempty"`
}

// BulkItemUpdate targets one item in one value set within a cross-set
// bulk update.
type BulkItemUpdate struct {
	ValueSetKey string     `json:"valueSetKey"`
	ItemCode    string     `json:"itemCode"`
	Updates     ItemUpdate `json:"updates"`
	UpdatedBy   string     `json:"updatedBy"`
}

// BulkSetUpdate targets the metadata of one value set within a bulk
// update.
type BulkSetUpdate struct {
	Key         string  `json:"key"`
	Status      *Status `json:"status,omitempty"`
	Module      *string `json:"module,omitempty"`
	Description *string `json:"description,omitempty"`
}

// KeyError records a per-key failure inside a bulk operation.
type KeyError struct {
	Key      string `json:"key"`
	ItemCode string `json:"itemCode,omitempty"`
	Error    string `json:"error"`
}

// BulkCreateResult reports per-input outcomes of a bulk create. Partial
// success is expected and is not an error.
type BulkCreateResult struct {
	Created []string          `json:"created"`
	Failed  []KeyError        `json:"failed"`
	Skipped []string          `json:"skipped"`
	Summary BulkCreateSummary `json:"summary"`
}

type BulkCreateSummary struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// BulkOutcome reports aggregate success/failure counts for bulk update
// operations. A failure of one target never aborts the others.
type BulkOutcome struct {
	Successful    int        `json:"successful"`
	Failed        int        `json:"failed"`
	Errors        []KeyError `json:"errors"`
	ProcessedKeys []string   `json:"processedKeys"`
}

// StatusChange is the result of an archive or restore call.
type StatusChange struct {
	Success        bool   `json:"success"`
	Key            string `json:"key"`
	PreviousStatus Status `json:"previousStatus"`
	CurrentStatus  Status `json:"currentStatus"`
	Message        string `json:"message"`
}

// BulkStatusResult is the result of the unconditional bulk archive path.
type BulkStatusResult struct {
	Matched  int64    `json:"matched"`
	Modified int64    `json:"modified"`
	Keys     []string `json:"keys"`
}

// ValidationResult is the side-effect-free report produced by Validate.
// Errors block persistence; warnings are informational.
type ValidationResult struct {
	Key      string   `json:"key"`
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ValidationInput is a candidate value set evaluated by Validate. It is
// never persisted.
type ValidationInput struct {
	Key         string  `json:"key"`
	Status      Status  `json:"status"`
	Module      string  `json:"module"`
	Description *string `json:"description,omitempty"`
	Items       []Item  `json:"items"`
}

// ItemMatch groups the matching items of one value set in an item
// search result. Only matching items are included, not the full array.
type ItemMatch struct {
	ValueSetKey   string `json:"valueSetKey"`
	Module        string `json:"valueSetModule"`
	MatchingItems []Item `json:"matchingItems"`
	TotalMatches  int    `json:"totalMatches"`
}

// ItemStatistics aggregates item counts across all value sets.
type ItemStatistics struct {
	TotalItems int     `json:"totalItems"`
	AvgItems   float64 `json:"avgItems"`
	MinItems   int     `json:"minItems"`
	MaxItems   int     `json:"maxItems"`
}

// Statistics is the registry-wide aggregate report. An empty store
// yields zero values throughout, never an error.
type Statistics struct {
	TotalValueSets int            `json:"totalValueSets"`
	ByStatus       map[string]int `json:"byStatus"`
	ByModule       map[string]int `json:"byModule"`
	Items          ItemStatistics `json:"itemsStatistics"`
}

// ModuleStatistics aggregates the value sets of a single module.
type ModuleStatistics struct {
	Module             string  `json:"module"`
	TotalValueSets     int     `json:"totalValueSets"`
	ActiveValueSets    int     `json:"activeValueSets"`
	ArchivedValueSets  int     `json:"archivedValueSets"`
	TotalItems         int     `json:"totalItems"`
	AverageItemsPerSet float64 `json:"averageItemsPerSet"`
}

// ExportResult carries an exported value set plus its content type.
type ExportResult struct {
	Format      string
	ContentType string
	Data        []byte
}

// duplicateCodes returns the codes that appear more than once in items,
// each reported once, in first-occurrence order.
func duplicateCodes(items []Item) []string {
	seen := make(map[string]int, len(items))
	var dups []string
	for _, item := range items {
		seen[item.Code]++
		if seen[item.Code] == 2 {
			dups = append(dups, item.Code)
		}
	}
	return dups
}
