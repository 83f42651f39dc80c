package valueset

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Service enforces the business rules of the value set store: key
// uniqueness, item-code uniqueness, the 1..500 item bound and the
// archive/restore state machine.
//
// Consistency model: operations that read the document before writing
// (duplicate-code checks, count guards) are not atomic as a unit. Each
// individual statement issued by the repository is atomic per document;
// concurrent writers to the same key serialize at the store and the
// last write wins. There is no cross-step isolation.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func now() time.Time { return time.Now().UTC() }

// validateItems checks the invariants every persisted item array must
// satisfy: pairwise-distinct codes, sane field lengths, non-empty
// English labels.
func validateItems(items []Item) error {
	if dups := duplicateCodes(items); len(dups) > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateItemCode, strings.Join(dups, ", "))
	}
	for _, item := range items {
		if item.Code == "" {
			return fmt.Errorf("%w: item code is required", ErrValidation)
		}
		if len(item.Code) > MaxCodeLength {
			return fmt.Errorf("%w: item code %q exceeds %d characters", ErrValidation, item.Code, MaxCodeLength)
		}
		if item.Labels.English() == "" {
			return fmt.Errorf("%w: english label required for item %q", ErrValidation, item.Code)
		}
		for lang, text := range item.Labels {
			if len(text) > MaxLabelLength {
				return fmt.Errorf("%w: label %s for item %q exceeds %d characters", ErrValidation, lang, item.Code, MaxLabelLength)
			}
		}
	}
	return nil
}

func validateItemCount(n int) error {
	if n < MinItems || n > MaxItems {
		return fmt.Errorf("%w (got %d)", ErrInvalidItemCount, n)
	}
	return nil
}

// Create inserts a new value set after checking key uniqueness and the
// item invariants. CreatedAt defaults to the current time; updatedAt
// and updatedBy stay null until the first mutation.
func (s *Service) Create(ctx context.Context, in CreateInput) (*ValueSet, error) {
	if in.Key == "" {
		return nil, fmt.Errorf("%w: key is required", ErrValidation)
	}
	if len(in.Key) > MaxKeyLength {
		return nil, fmt.Errorf("%w: key exceeds %d characters", ErrValidation, MaxKeyLength)
	}
	if in.Status == "" {
		in.Status = StatusActive
	}
	if !in.Status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", ErrValidation, in.Status)
	}
	if in.Module == "" {
		in.Module = DefaultModule
	}
	if len(in.Module) > MaxModuleLength {
		return nil, fmt.Errorf("%w: module exceeds %d characters", ErrValidation, MaxModuleLength)
	}
	if in.Description != nil && len(*in.Description) > MaxDescriptionLength {
		return nil, fmt.Errorf("%w: description exceeds %d characters", ErrValidation, MaxDescriptionLength)
	}
	if err := validateItemCount(len(in.Items)); err != nil {
		return nil, err
	}
	if err := validateItems(in.Items); err != nil {
		return nil, err
	}

	exists, err := s.repo.KeyExists(ctx, in.Key)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, in.Key)
	}

	createdAt := now()
	if in.CreatedAt != nil {
		createdAt = *in.CreatedAt
	}
	vs := &ValueSet{
		Key:         in.Key,
		Status:      in.Status,
		Module:      in.Module,
		Description: in.Description,
		Items:       in.Items,
		CreatedAt:   createdAt,
		CreatedBy:   in.CreatedBy,
	}
	if err := s.repo.Insert(ctx, vs); err != nil {
		return nil, err
	}
	return vs, nil
}

// BulkCreate processes each input independently: existing keys are
// skipped or recorded as failed depending on skipExisting, and one bad
// input never aborts the rest.
func (s *Service) BulkCreate(ctx context.Context, inputs []CreateInput, skipExisting bool) (*BulkCreateResult, error) {
	result := &BulkCreateResult{
		Created: []string{},
		Failed:  []KeyError{},
		Skipped: []string{},
	}
	for _, in := range inputs {
		exists, err := s.repo.KeyExists(ctx, in.Key)
		if err != nil {
			return nil, err
		}
		if exists {
			if skipExisting {
				result.Skipped = append(result.Skipped, in.Key)
			} else {
				result.Failed = append(result.Failed, KeyError{Key: in.Key, Error: "key already exists"})
			}
			continue
		}
		if _, err := s.Create(ctx, in); err != nil {
			result.Failed = append(result.Failed, KeyError{Key: in.Key, Error: err.Error()})
			continue
		}
		result.Created = append(result.Created, in.Key)
	}
	result.Summary = BulkCreateSummary{
		Total:   len(inputs),
		Created: len(result.Created),
		Failed:  len(result.Failed),
		Skipped: len(result.Skipped),
	}
	return result, nil
}

func (s *Service) GetByKey(ctx context.Context, key string) (*ValueSet, error) {
	return s.repo.FindByKey(ctx, key)
}

func (s *Service) GetByID(ctx context.Context, id string) (*ValueSet, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns summaries of the value sets matching the filter plus the
// total count of the filtered set, independent of the pagination
// window.
func (s *Service) List(ctx context.Context, f ListFilter, skip, limit int, sort Sort) ([]*Summary, int, error) {
	sets, total, err := s.repo.List(ctx, f, skip, limit, sort)
	if err != nil {
		return nil, 0, err
	}
	summaries := make([]*Summary, len(sets))
	for i, vs := range sets {
		summaries[i] = vs.Summarize()
	}
	return summaries, total, nil
}

// SearchItems matches query case-insensitively against item codes and
// labels in the given language, grouping matches by parent value set.
func (s *Service) SearchItems(ctx context.Context, query, valueSetKey, languageCode string) ([]ItemMatch, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: search query is required", ErrValidation)
	}
	if languageCode == "" {
		languageCode = "en"
	}
	return s.repo.SearchItems(ctx, query, valueSetKey, languageCode)
}

// SearchByLabel returns the complete documents of every value set with
// at least one label match in the given language.
func (s *Service) SearchByLabel(ctx context.Context, labelText, languageCode string, status *Status) ([]*ValueSet, error) {
	if labelText == "" {
		return nil, fmt.Errorf("%w: label text is required", ErrValidation)
	}
	if languageCode == "" {
		languageCode = "en"
	}
	if status != nil && !status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", ErrValidation, *status)
	}
	return s.repo.SearchByLabel(ctx, labelText, languageCode, status)
}

// AddItem appends one item to the end of the array. The duplicate-code
// check and the push are two statements; see the Service consistency
// note.
func (s *Service) AddItem(ctx context.Context, key string, item Item, updatedBy string) (*ValueSet, error) {
	vs, err := s.repo.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if vs.HasItem(item.Code) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateItemCode, item.Code)
	}
	if len(vs.Items) >= MaxItems {
		return nil, fmt.Errorf("%w (%d)", ErrItemLimitExceeded, MaxItems)
	}
	if err := validateItems([]Item{item}); err != nil {
		return nil, err
	}
	return s.repo.AppendItems(ctx, key, []Item{item}, Audit{At: now(), By: updatedBy})
}

// BulkAddItems appends items atomically with respect to validation:
// every check passes before the single append statement runs, so either
// all items are appended or none.
func (s *Service) BulkAddItems(ctx context.Context, key string, items []Item, updatedBy string) (*ValueSet, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items to add", ErrValidation)
	}
	vs, err := s.repo.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := validateItems(items); err != nil {
		return nil, err
	}
	var conflicts []string
	for _, item := range items {
		if vs.HasItem(item.Code) {
			conflicts = append(conflicts, item.Code)
		}
	}
	if len(conflicts) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateItemCode, strings.Join(conflicts, ", "))
	}
	if len(vs.Items)+len(items) > MaxItems {
		return nil, fmt.Errorf("%w: %d existing + %d new exceeds %d",
			ErrItemLimitExceeded, len(vs.Items), len(items), MaxItems)
	}
	return s.repo.AppendItems(ctx, key, items, Audit{At: now(), By: updatedBy})
}

// UpdateItem applies a partial update to the item matching itemCode.
// Labels merge per-language; a code change is checked against the other
// items first.
func (s *Service) UpdateItem(ctx context.Context, key, itemCode string, upd ItemUpdate, updatedBy string) (*ValueSet, error) {
	vs, err := s.repo.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	idx := vs.ItemIndex(itemCode)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemCode)
	}

	item := vs.Items[idx]
	if upd.Code != nil && *upd.Code != itemCode {
		if vs.HasItem(*upd.Code) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateItemCode, *upd.Code)
		}
		item.Code = *upd.Code
	}
	if upd.Labels != nil {
		item.Labels = item.Labels.Merge(upd.Labels)
	}
	if err := validateItems([]Item{item}); err != nil {
		return nil, err
	}
	return s.repo.SetItem(ctx, key, itemCode, item, Audit{At: now(), By: updatedBy})
}

// ReplaceItemCode swaps an item's code for a new one, optionally
// replacing the labels wholesale. The item keeps its position in the
// array.
func (s *Service) ReplaceItemCode(ctx context.Context, key, oldCode, newCode string, newLabels Labels, updatedBy string) (*ValueSet, error) {
	vs, err := s.repo.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	idx := vs.ItemIndex(oldCode)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, oldCode)
	}
	if newCode != oldCode && vs.HasItem(newCode) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateItemCode, newCode)
	}

	item := Item{Code: newCode, Labels: vs.Items[idx].Labels}
	if newLabels != nil {
		item.Labels = newLabels
	}
	if err := validateItems([]Item{item}); err != nil {
		return nil, err
	}
	return s.repo.SetItem(ctx, key, oldCode, item, Audit{At: now(), By: updatedBy})
}

// RemoveItem deletes the item matching itemCode. A missing code is an
// error, and the last remaining item cannot be removed.
func (s *Service) RemoveItem(ctx context.Context, key, itemCode, updatedBy string) (*ValueSet, error) {
	vs, err := s.repo.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if !vs.HasItem(itemCode) {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemCode)
	}
	if len(vs.Items) <= MinItems {
		return nil, fmt.Errorf("%w: cannot remove the last item", ErrInvalidItemCount)
	}
	return s.repo.RemoveItem(ctx, key, itemCode, Audit{At: now(), By: updatedBy})
}

// BulkUpdateItems processes each cross-set item update independently
// and sequentially; per-update failures are collected, never fatal.
func (s *Service) BulkUpdateItems(ctx context.Context, updates []BulkItemUpdate) (*BulkOutcome, error) {
	outcome := &BulkOutcome{Errors: []KeyError{}, ProcessedKeys: []string{}}
	for _, u := range updates {
		if _, err := s.UpdateItem(ctx, u.ValueSetKey, u.ItemCode, u.Updates, u.UpdatedBy); err != nil {
			outcome.Failed++
			outcome.Errors = append(outcome.Errors, KeyError{
				Key:      u.ValueSetKey,
				ItemCode: u.ItemCode,
				Error:    err.Error(),
			})
			continue
		}
		outcome.Successful++
		outcome.ProcessedKeys = append(outcome.ProcessedKeys, u.ValueSetKey)
	}
	return outcome, nil
}

// Update applies a partial metadata update. The key itself is
// immutable. A wholesale items replacement re-runs the create-time
// invariants.
func (s *Service) Update(ctx context.Context, key string, upd UpdateInput, updatedBy string) (*ValueSet, error) {
	if upd.Status != nil && !upd.Status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", ErrValidation, *upd.Status)
	}
	if upd.Module != nil && len(*upd.Module) > MaxModuleLength {
		return nil, fmt.Errorf("%w: module exceeds %d characters", ErrValidation, MaxModuleLength)
	}
	if upd.Description != nil && len(*upd.Description) > MaxDescriptionLength {
		return nil, fmt.Errorf("%w: description exceeds %d characters", ErrValidation, MaxDescriptionLength)
	}
	if upd.Items != nil {
		if err := validateItemCount(len(*upd.Items)); err != nil {
			return nil, err
		}
		if err := validateItems(*upd.Items); err != nil {
			return nil, err
		}
	}
	return s.repo.UpdateByKey(ctx, key, DocumentUpdate{
		Status:      upd.Status,
		Module:      upd.Module,
		Description: upd.Description,
		Items:       upd.Items,
		Audit:       Audit{At: now(), By: updatedBy},
	})
}

// BulkUpdateValueSets applies independent metadata updates; one failed
// key never aborts the rest.
func (s *Service) BulkUpdateValueSets(ctx context.Context, updates []BulkSetUpdate, updatedBy string) (*BulkOutcome, error) {
	outcome := &BulkOutcome{Errors: []KeyError{}, ProcessedKeys: []string{}}
	for _, u := range updates {
		upd := UpdateInput{Status: u.Status, Module: u.Module, Description: u.Description}
		if _, err := s.Update(ctx, u.Key, upd, updatedBy); err != nil {
			outcome.Failed++
			outcome.Errors = append(outcome.Errors, KeyError{Key: u.Key, Error: err.Error()})
			continue
		}
		outcome.Successful++
		outcome.ProcessedKeys = append(outcome.ProcessedKeys, u.Key)
	}
	return outcome, nil
}

// Archive transitions an active value set to archived, recording the
// reason and actor. Archiving an archived set is reported as a
// conflict, not a not-found.
func (s *Service) Archive(ctx context.Context, key, reason, by string) (*StatusChange, error) {
	vs, err := s.repo.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if vs.Status == StatusArchived {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyArchived, key)
	}

	at := now()
	status := StatusArchived
	_, err = s.repo.UpdateByKey(ctx, key, DocumentUpdate{
		Status:        &status,
		ArchiveReason: &reason,
		ArchivedBy:    &by,
		ArchivedAt:    &at,
		Audit:         Audit{At: at, By: by},
	})
	if err != nil {
		return nil, err
	}
	return &StatusChange{
		Success:        true,
		Key:            key,
		PreviousStatus: vs.Status,
		CurrentStatus:  StatusArchived,
		Message:        fmt.Sprintf("value set %q archived", key),
	}, nil
}

// Restore transitions an archived value set back to active.
func (s *Service) Restore(ctx context.Context, key, reason, by string) (*StatusChange, error) {
	vs, err := s.repo.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if vs.Status == StatusActive {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyActive, key)
	}

	at := now()
	status := StatusActive
	_, err = s.repo.UpdateByKey(ctx, key, DocumentUpdate{
		Status:        &status,
		RestoreReason: &reason,
		RestoredBy:    &by,
		RestoredAt:    &at,
		Audit:         Audit{At: at, By: by},
	})
	if err != nil {
		return nil, err
	}
	return &StatusChange{
		Success:        true,
		Key:            key,
		PreviousStatus: vs.Status,
		CurrentStatus:  StatusActive,
		Message:        fmt.Sprintf("value set %q restored", key),
	}, nil
}

// BulkArchive flips every matching key to archived in one statement,
// with no per-key already-archived check.
func (s *Service) BulkArchive(ctx context.Context, keys []string, reason, by string) (*BulkStatusResult, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no keys given", ErrValidation)
	}
	matched, modified, err := s.repo.ArchiveMany(ctx, keys, reason, by, now())
	if err != nil {
		return nil, err
	}
	return &BulkStatusResult{Matched: matched, Modified: modified, Keys: keys}, nil
}

// Validate evaluates a candidate value set against the blocking rules
// and advisory warnings without touching the store, except for the
// key-existence check.
func (s *Service) Validate(ctx context.Context, in ValidationInput) (*ValidationResult, error) {
	result := &ValidationResult{Key: in.Key, Errors: []string{}, Warnings: []string{}}

	if dups := duplicateCodes(in.Items); len(dups) > 0 {
		result.Errors = append(result.Errors, "item codes must be unique within the value set: "+strings.Join(dups, ", "))
	}
	if len(in.Items) < MinItems || len(in.Items) > MaxItems {
		result.Errors = append(result.Errors, fmt.Sprintf("number of items must be between %d and %d (got %d)", MinItems, MaxItems, len(in.Items)))
	}
	for _, item := range in.Items {
		if item.Labels.English() == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("english label required for item %q", item.Code))
		}
	}
	if !in.Status.Valid() {
		result.Errors = append(result.Errors, fmt.Sprintf("invalid status: %q", in.Status))
	}

	if len(in.Items) > 100 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("large number of items (%d) may impact performance", len(in.Items)))
	}
	if in.Key != "" {
		exists, err := s.repo.KeyExists(ctx, in.Key)
		if err != nil {
			return nil, err
		}
		if exists {
			result.Warnings = append(result.Warnings, fmt.Sprintf("value set with key %q already exists", in.Key))
		}
	}
	if in.Description == nil || *in.Description == "" {
		result.Warnings = append(result.Warnings, "description is recommended")
	}
	if in.Module == "" {
		result.Warnings = append(result.Warnings, "module is recommended")
	}

	result.IsValid = len(result.Errors) == 0
	return result, nil
}

// ValidateItem checks a single candidate item against the item rules.
func (s *Service) ValidateItem(item Item) *ValidationResult {
	result := &ValidationResult{Key: item.Code, Errors: []string{}, Warnings: []string{}}
	if item.Code == "" {
		result.Errors = append(result.Errors, "item code is required")
	}
	if len(item.Code) > MaxCodeLength {
		result.Errors = append(result.Errors, fmt.Sprintf("item code exceeds %d characters", MaxCodeLength))
	}
	if item.Labels.English() == "" {
		result.Errors = append(result.Errors, "english label is required")
	}
	result.IsValid = len(result.Errors) == 0
	return result
}

// exportDocument strips the store-internal id from a document for
// export.
func exportDocument(vs *ValueSet) (map[string]interface{}, error) {
	raw, err := json.Marshal(vs)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	delete(doc, "id")
	return doc, nil
}

// Export serializes one value set. JSON exports the full document minus
// the store id; CSV writes one row per item.
func (s *Service) Export(ctx context.Context, key, format string) (*ExportResult, error) {
	vs, err := s.repo.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	switch format {
	case "json":
		doc, err := exportDocument(vs)
		if err != nil {
			return nil, err
		}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return &ExportResult{Format: "json", ContentType: "application/json", Data: data}, nil

	case "csv":
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write([]string{"Code", "English Label", "Hindi Label", "Key", "Module", "Status", "Description"}); err != nil {
			return nil, err
		}
		description := ""
		if vs.Description != nil {
			description = *vs.Description
		}
		for _, item := range vs.Items {
			row := []string{
				item.Code,
				item.Labels["en"],
				item.Labels["hi"],
				vs.Key,
				vs.Module,
				string(vs.Status),
				description,
			}
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, err
		}
		return &ExportResult{Format: "csv", ContentType: "text/csv", Data: buf.Bytes()}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// ExportAll serializes every value set (optionally filtered by status)
// as a JSON array, ids stripped. Only JSON is supported for bulk
// export.
func (s *Service) ExportAll(ctx context.Context, format string, status *Status) (*ExportResult, error) {
	if format != "json" {
		return nil, fmt.Errorf("%w: %q for bulk export", ErrUnsupportedFormat, format)
	}
	sets, err := s.repo.FindAll(ctx, status)
	if err != nil {
		return nil, err
	}
	docs := make([]map[string]interface{}, 0, len(sets))
	for _, vs := range sets {
		doc, err := exportDocument(vs)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return nil, err
	}
	return &ExportResult{Format: "json", ContentType: "application/json", Data: data}, nil
}

// Import parses an exported JSON document and creates it as a new value
// set under the given actor. CSV import is rejected explicitly.
func (s *Service) Import(ctx context.Context, data []byte, format, createdBy string) (*ValueSet, error) {
	switch format {
	case "json":
		var in CreateInput
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, fmt.Errorf("%w: parse import payload: %v", ErrValidation, err)
		}
		in.CreatedBy = createdBy
		return s.Create(ctx, in)
	case "csv":
		return nil, fmt.Errorf("%w: csv import", ErrNotImplemented)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Statistics aggregates counts by status and module plus item-count
// statistics over all value sets. An empty store yields zeros.
func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	return s.repo.Statistics(ctx)
}

// ModuleStatistics aggregates the value sets of one module.
func (s *Service) ModuleStatistics(ctx context.Context, module string) (*ModuleStatistics, error) {
	return s.repo.ModuleStatistics(ctx, module)
}

// GetItemsByCodes returns the subset of a set's items whose codes are
// in the given list, preserving stored order.
func (s *Service) GetItemsByCodes(ctx context.Context, key string, codes []string) ([]Item, error) {
	vs, err := s.repo.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(codes))
	for _, c := range codes {
		wanted[c] = true
	}
	items := []Item{}
	for _, item := range vs.Items {
		if wanted[item.Code] {
			items = append(items, item)
		}
	}
	return items, nil
}

// Delete permanently removes a value set. Administrative escape hatch;
// archive is the normal soft-delete path.
func (s *Service) Delete(ctx context.Context, key string) error {
	deleted, err := s.repo.Delete(ctx, key)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

// BulkDelete permanently removes every matching key and reports the
// count.
func (s *Service) BulkDelete(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, fmt.Errorf("%w: no keys given", ErrValidation)
	}
	return s.repo.DeleteMany(ctx, keys)
}
