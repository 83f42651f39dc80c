package valueset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns a Repository backed by the value_set table. Items
// live in a jsonb column; every array edit is a single UPDATE statement
// and therefore atomic per document.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const vsCols = `id, key, status, module, description, items,
	created_at, created_by, updated_at, updated_by,
	archive_reason, archived_by, archived_at,
	restore_reason, restored_by, restored_at`

func scanValueSet(row pgx.Row) (*ValueSet, error) {
	var vs ValueSet
	var itemsRaw []byte
	err := row.Scan(&vs.ID, &vs.Key, &vs.Status, &vs.Module, &vs.Description, &itemsRaw,
		&vs.CreatedAt, &vs.CreatedBy, &vs.UpdatedAt, &vs.UpdatedBy,
		&vs.ArchiveReason, &vs.ArchivedBy, &vs.ArchivedAt,
		&vs.RestoreReason, &vs.RestoredBy, &vs.RestoredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(itemsRaw, &vs.Items); err != nil {
		return nil, fmt.Errorf("decode items for %s: %w", vs.Key, err)
	}
	return &vs, nil
}

func marshalItems(items []Item) (string, error) {
	if items == nil {
		items = []Item{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode items: %w", err)
	}
	return string(b), nil
}

func (r *repoPG) Insert(ctx context.Context, vs *ValueSet) error {
	if vs.ID == uuid.Nil {
		vs.ID = uuid.New()
	}
	itemsJSON, err := marshalItems(vs.Items)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO value_set (id, key, status, module, description, items, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)`,
		vs.ID, vs.Key, vs.Status, vs.Module, vs.Description, itemsJSON, vs.CreatedAt, vs.CreatedBy)
	return err
}

func (r *repoPG) FindByKey(ctx context.Context, key string) (*ValueSet, error) {
	return scanValueSet(r.pool.QueryRow(ctx, `SELECT `+vsCols+` FROM value_set WHERE key = $1`, key))
}

func (r *repoPG) FindByID(ctx context.Context, id string) (*ValueSet, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		// Malformed ids degrade to not-found, never an error.
		return nil, ErrNotFound
	}
	return scanValueSet(r.pool.QueryRow(ctx, `SELECT `+vsCols+` FROM value_set WHERE id = $1`, parsed))
}

func (r *repoPG) KeyExists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM value_set WHERE key = $1)`, key).Scan(&exists)
	return exists, err
}

// sortColumns whitelists the caller-facing sort fields.
var sortColumns = map[string]string{
	"key":       "key",
	"status":    "status",
	"module":    "module",
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"itemCount": "jsonb_array_length(items)",
}

func buildListWhere(f ListFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if f.Status != nil {
		args = append(args, *f.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Module != nil {
		args = append(args, *f.Module)
		clauses = append(clauses, fmt.Sprintf("module = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf("(key ILIKE $%d OR description ILIKE $%d)", n, n))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *repoPG) List(ctx context.Context, f ListFilter, skip, limit int, sort Sort) ([]*ValueSet, int, error) {
	where, args := buildListWhere(f)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM value_set`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	orderCol, ok := sortColumns[sort.Field]
	if !ok {
		orderCol, sort.Desc = "created_at", true
	}
	dir := "ASC"
	if sort.Desc {
		dir = "DESC"
	}

	args = append(args, limit, skip)
	query := fmt.Sprintf(`SELECT %s FROM value_set%s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		vsCols, where, orderCol, dir, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sets []*ValueSet
	for rows.Next() {
		vs, err := scanValueSet(rows)
		if err != nil {
			return nil, 0, err
		}
		sets = append(sets, vs)
	}
	return sets, total, rows.Err()
}

func (r *repoPG) FindAll(ctx context.Context, status *Status) ([]*ValueSet, error) {
	query := `SELECT ` + vsCols + ` FROM value_set`
	var args []interface{}
	if status != nil {
		query += ` WHERE status = $1`
		args = append(args, *status)
	}
	query += ` ORDER BY key`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []*ValueSet
	for rows.Next() {
		vs, err := scanValueSet(rows)
		if err != nil {
			return nil, err
		}
		sets = append(sets, vs)
	}
	return sets, rows.Err()
}

func (r *repoPG) UpdateByKey(ctx context.Context, key string, upd DocumentUpdate) (*ValueSet, error) {
	set := []string{"updated_at = $1", "updated_by = $2"}
	args := []interface{}{upd.Audit.At, upd.Audit.By}
	add := func(col string, v interface{}) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.Module != nil {
		add("module", *upd.Module)
	}
	if upd.Description != nil {
		add("description", *upd.Description)
	}
	if upd.Items != nil {
		itemsJSON, err := marshalItems(*upd.Items)
		if err != nil {
			return nil, err
		}
		args = append(args, itemsJSON)
		set = append(set, fmt.Sprintf("items = $%d::jsonb", len(args)))
	}
	if upd.ArchiveReason != nil {
		add("archive_reason", *upd.ArchiveReason)
	}
	if upd.ArchivedBy != nil {
		add("archived_by", *upd.ArchivedBy)
	}
	if upd.ArchivedAt != nil {
		add("archived_at", *upd.ArchivedAt)
	}
	if upd.RestoreReason != nil {
		add("restore_reason", *upd.RestoreReason)
	}
	if upd.RestoredBy != nil {
		add("restored_by", *upd.RestoredBy)
	}
	if upd.RestoredAt != nil {
		add("restored_at", *upd.RestoredAt)
	}

	args = append(args, key)
	query := fmt.Sprintf(`UPDATE value_set SET %s WHERE key = $%d RETURNING %s`,
		strings.Join(set, ", "), len(args), vsCols)
	return scanValueSet(r.pool.QueryRow(ctx, query, args...))
}

func (r *repoPG) AppendItems(ctx context.Context, key string, items []Item, audit Audit) (*ValueSet, error) {
	itemsJSON, err := marshalItems(items)
	if err != nil {
		return nil, err
	}
	return scanValueSet(r.pool.QueryRow(ctx, `
		UPDATE value_set
		SET items = items || $2::jsonb, updated_at = $3, updated_by = $4
		WHERE key = $1
		RETURNING `+vsCols,
		key, itemsJSON, audit.At, audit.By))
}

func (r *repoPG) SetItem(ctx context.Context, key, code string, item Item, audit Audit) (*ValueSet, error) {
	itemJSON, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}
	return scanValueSet(r.pool.QueryRow(ctx, `
		UPDATE value_set
		SET items = (
			SELECT jsonb_agg(CASE WHEN elem->>'code' = $2 THEN $3::jsonb ELSE elem END ORDER BY ord)
			FROM jsonb_array_elements(items) WITH ORDINALITY AS t(elem, ord)
		), updated_at = $4, updated_by = $5
		WHERE key = $1
		  AND EXISTS (SELECT 1 FROM jsonb_array_elements(items) e WHERE e->>'code' = $2)
		RETURNING `+vsCols,
		key, code, string(itemJSON), audit.At, audit.By))
}

func (r *repoPG) RemoveItem(ctx context.Context, key, code string, audit Audit) (*ValueSet, error) {
	return scanValueSet(r.pool.QueryRow(ctx, `
		UPDATE value_set
		SET items = COALESCE((
			SELECT jsonb_agg(elem ORDER BY ord)
			FROM jsonb_array_elements(items) WITH ORDINALITY AS t(elem, ord)
			WHERE elem->>'code' <> $2
		), '[]'::jsonb), updated_at = $3, updated_by = $4
		WHERE key = $1
		RETURNING `+vsCols,
		key, code, audit.At, audit.By))
}

func (r *repoPG) ArchiveMany(ctx context.Context, keys []string, reason, by string, at time.Time) (int64, int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE value_set
		SET status = $2, archive_reason = $3, archived_by = $4, archived_at = $5,
		    updated_by = $4, updated_at = $5
		WHERE key = ANY($1)`,
		keys, StatusArchived, reason, by, at)
	if err != nil {
		return 0, 0, err
	}
	// Postgres reports one count; matched and modified coincide here.
	return tag.RowsAffected(), tag.RowsAffected(), nil
}

func (r *repoPG) SearchItems(ctx context.Context, query, valueSetKey, languageCode string) ([]ItemMatch, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT key, module, jsonb_agg(elem ORDER BY ord)
		FROM value_set, jsonb_array_elements(items) WITH ORDINALITY AS t(elem, ord)
		WHERE ($2::text = '' OR key = $2)
		  AND (elem->>'code' ILIKE $1 OR elem->'labels'->>$3 ILIKE $1)
		GROUP BY id, key, module
		ORDER BY key`,
		"%"+query+"%", valueSetKey, languageCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []ItemMatch
	for rows.Next() {
		var m ItemMatch
		var itemsRaw []byte
		if err := rows.Scan(&m.ValueSetKey, &m.Module, &itemsRaw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(itemsRaw, &m.MatchingItems); err != nil {
			return nil, fmt.Errorf("decode matches for %s: %w", m.ValueSetKey, err)
		}
		m.TotalMatches = len(m.MatchingItems)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (r *repoPG) SearchByLabel(ctx context.Context, labelText, languageCode string, status *Status) ([]*ValueSet, error) {
	statusFilter := ""
	if status != nil {
		statusFilter = string(*status)
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+vsCols+`
		FROM value_set
		WHERE ($3::text = '' OR status = $3)
		  AND EXISTS (
			SELECT 1 FROM jsonb_array_elements(items) e
			WHERE e->'labels'->>$2 ILIKE $1
		  )
		ORDER BY key`,
		"%"+labelText+"%", languageCode, statusFilter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []*ValueSet
	for rows.Next() {
		vs, err := scanValueSet(rows)
		if err != nil {
			return nil, err
		}
		sets = append(sets, vs)
	}
	return sets, rows.Err()
}

func (r *repoPG) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{
		ByStatus: make(map[string]int),
		ByModule: make(map[string]int),
	}

	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(jsonb_array_length(items)), 0)::bigint,
		       COALESCE(AVG(jsonb_array_length(items)), 0)::float8,
		       COALESCE(MIN(jsonb_array_length(items)), 0),
		       COALESCE(MAX(jsonb_array_length(items)), 0)
		FROM value_set`).
		Scan(&stats.TotalValueSets, &stats.Items.TotalItems, &stats.Items.AvgItems,
			&stats.Items.MinItems, &stats.Items.MaxItems)
	if err != nil {
		return nil, err
	}

	groupCount := func(col string, dest map[string]int) error {
		rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s, COUNT(*) FROM value_set GROUP BY %s`, col, col))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var k string
			var n int
			if err := rows.Scan(&k, &n); err != nil {
				return err
			}
			dest[k] = n
		}
		return rows.Err()
	}

	if err := groupCount("status", stats.ByStatus); err != nil {
		return nil, err
	}
	if err := groupCount("module", stats.ByModule); err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *repoPG) ModuleStatistics(ctx context.Context, module string) (*ModuleStatistics, error) {
	stats := &ModuleStatistics{Module: module}
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = $2),
		       COUNT(*) FILTER (WHERE status = $3),
		       COALESCE(SUM(jsonb_array_length(items)), 0)::bigint
		FROM value_set WHERE module = $1`,
		module, StatusActive, StatusArchived).
		Scan(&stats.TotalValueSets, &stats.ActiveValueSets, &stats.ArchivedValueSets, &stats.TotalItems)
	if err != nil {
		return nil, err
	}
	if stats.TotalValueSets > 0 {
		stats.AverageItemsPerSet = float64(stats.TotalItems) / float64(stats.TotalValueSets)
	}
	return stats, nil
}

func (r *repoPG) Delete(ctx context.Context, key string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM value_set WHERE key = $1`, key)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) DeleteMany(ctx context.Context, keys []string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM value_set WHERE key = ANY($1)`, keys)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
