package schema

import (
	"iter"
	"log/slog"

	"gorm.io/gorm"
)

// Stream lazily scans the rows selected by query. The sequence holds one open cursor
// and is single pass; iterate it again to re-run the query.
func Stream[T any](query *gorm.DB) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T

		rows, err := query.Rows()
		if err != nil {
			slog.Error("sql error opening row stream", "error", err)
			yield(zero, ErrDbAccessFailed)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var item T
			if err := query.ScanRows(rows, &item); err != nil {
				slog.Error("sql error scanning row", "error", err)
				yield(zero, ErrDbAccessFailed)
				return
			}
			if !yield(item, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			slog.Error("sql error iterating rows", "error", err)
			yield(zero, ErrDbAccessFailed)
		}
	}
}

// Collect drains a stream, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	items := []T{}
	for item, err := range seq {
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
