package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/garyjia/finflow/internal/domain/errs"
	"github.com/garyjia/finflow/internal/infrastructure/persistence/sqldb"
)

const headerColumns = "id, code, status, version, is_deleted, created_by, created_by_name, created_at, updated_at"

const defaultListLimit = 20

func headerDest(h *entity.DocumentHeader) []interface{} {
	return []interface{}{
		&h.ID,
		&h.Code,
		&h.Status,
		&h.Version,
		&h.IsDeleted,
		&h.CreatedBy,
		&h.CreatedByName,
		&h.CreatedAt,
		&h.UpdatedAt,
	}
}

func headerArgs(h *entity.DocumentHeader) []interface{} {
	return []interface{}{
		h.Code,
		h.Status,
		h.Version,
		h.IsDeleted,
		h.CreatedBy,
		h.CreatedByName,
		h.CreatedAt,
		h.UpdatedAt,
	}
}

// insertDocument writes the header plus type columns and fills in the id
func insertDocument(ctx context.Context, db *sqldb.DB, table string, h *entity.DocumentHeader, columns []string, values ...interface{}) error {
	if h.Version == 0 {
		h.Version = 1
	}
	all := append([]string{"code", "status", "version", "is_deleted", "created_by", "created_by_name", "created_at", "updated_at"}, columns...)
	args := append(headerArgs(h), values...)

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		table, strings.Join(all, ", "), placeholders(len(all)))

	if err := db.QueryRow(ctx, query, args...).Scan(&h.ID); err != nil {
		return sqldb.Classify(ctx, err, "failed to insert into %s", table)
	}
	return nil
}

// updateDocument performs a compare-and-swap on version
func updateDocument(ctx context.Context, db *sqldb.DB, table string, h *entity.DocumentHeader, columns []string, values ...interface{}) error {
	sets := make([]string, 0, len(columns)+3)
	sets = append(sets, "status = ?", "is_deleted = ?", "updated_at = ?")
	for _, c := range columns {
		sets = append(sets, c+" = ?")
	}

	args := append([]interface{}{h.Status, h.IsDeleted, h.UpdatedAt}, values...)
	args = append(args, h.Code, h.Version)

	query := fmt.Sprintf("UPDATE %s SET %s, version = version + 1 WHERE code = ? AND version = ?",
		table, strings.Join(sets, ", "))

	result, err := db.Exec(ctx, query, args...)
	if err != nil {
		return sqldb.Classify(ctx, err, "failed to update %s %s", table, h.Code)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return sqldb.Classify(ctx, err, "failed to read affected rows")
	}
	if n == 0 {
		return errs.Conflict("%s was modified concurrently (version %d)", h.Code, h.Version)
	}

	h.Version++
	return nil
}

// loadQuery builds a single-row select with an optional row lock
func loadQuery(db *sqldb.DB, table, columns string, forUpdate bool) string {
	return fmt.Sprintf("SELECT %s, %s FROM %s WHERE code = ?%s",
		headerColumns, columns, table, db.ForUpdate(forUpdate))
}

func notFoundOr(ctx context.Context, err error, kind, code string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NotFound("%s %s not found", kind, code)
	}
	return sqldb.Classify(ctx, err, "failed to load %s %s", kind, code)
}

// listQuery returns the page query and count query for a filter
func listQuery(table, columns string, filter port.ListFilter) (string, string, []interface{}) {
	var where []string
	var args []interface{}

	if !filter.IncludeDeleted {
		where = append(where, "is_deleted = ?")
		args = append(args, false)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.CreatedBy != "" {
		where = append(where, "created_by = ?")
		args = append(args, filter.CreatedBy)
	}
	if ref := filter.Undispatched; ref != nil {
		where = append(where, fmt.Sprintf(`NOT EXISTS (
			SELECT 1 FROM dispatch_ledger l
			WHERE l.document_type = ? AND l.document_code = %s.code AND l.effect_name = ?)`, table))
		args = append(args, ref.DocumentType, ref.Effect)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	page := fmt.Sprintf("SELECT %s, %s FROM %s%s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d",
		headerColumns, columns, table, clause, limit, offset)
	count := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", table, clause)

	return page, count, args
}

func countRows(ctx context.Context, db *sqldb.DB, query string, args []interface{}) (int, error) {
	var total int
	if err := db.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, sqldb.Classify(ctx, err, "failed to count rows")
	}
	return total, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
