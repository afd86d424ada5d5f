package analyses

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

var upsertQuery = buildUpsertQuery()

func buildUpsertQuery() string {
	insertCols := append([]string{"id"}, dataColumns...)
	placeholders := make([]string, len(insertCols))
	for i := range insertCols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	var sets []string
	for _, col := range dataColumns {
		switch col {
		case "asof_date":
			continue
		case "annotated_chart_url":
			// A failed re-annotation must not clear an existing reference.
			sets = append(sets, fmt.Sprintf("%s = COALESCE(EXCLUDED.%s, %s.%s)", col, col, tableName, col))
		default:
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}
	sets = append(sets, "updated_at = now()")

	return fmt.Sprintf(`
INSERT INTO %s (%s, created_at, updated_at)
VALUES (%s, now(), now())
ON CONFLICT (asof_date) DO UPDATE SET
    %s
RETURNING %s`,
		tableName,
		strings.Join(insertCols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(sets, ",\n    "),
		selectColumns(),
	)
}

// Save upserts rec in a single statement.
func (r *PGRepo) Save(ctx context.Context, rec Record) (Row, error) {
	if strings.TrimSpace(rec.AsOfDate) == "" {
		return Row{}, &StorageError{Op: "save", Err: errors.New("asof date is required")}
	}
	vals, err := rec.values()
	if err != nil {
		return Row{}, &StorageError{Op: "save", Err: err}
	}
	args := append([]any{uuid.NewString()}, vals...)

	row, err := scanRow(r.DB.QueryRowContext(ctx, upsertQuery, args...))
	if err != nil {
		return Row{}, &StorageError{Op: "save", Err: err}
	}
	return row, nil
}

// GetLatest returns the record with the greatest asof_date.
func (r *PGRepo) GetLatest(ctx context.Context) (Row, error) {
	query := fmt.Sprintf(`
SELECT %s
FROM %s
ORDER BY asof_date DESC
LIMIT 1`, selectColumns(), tableName)
	return r.getOne(ctx, "get latest", query)
}

// GetByDate returns the record for date.
func (r *PGRepo) GetByDate(ctx context.Context, date string) (Row, error) {
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE asof_date = $1
LIMIT 1`, selectColumns(), tableName)
	return r.getOne(ctx, "get by date", query, date)
}

func (r *PGRepo) getOne(ctx context.Context, op, query string, args ...any) (Row, error) {
	row, err := scanRow(r.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Row{}, ErrNotFound
		}
		return Row{}, &StorageError{Op: op, Err: err}
	}
	return row, nil
}

var _ Repo = (*PGRepo)(nil)
