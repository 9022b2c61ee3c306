package database

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Iterator walks the rows of an executed query. Each call to Next loads the
// whole row, after which columns can be read in any order and as often as
// needed.
//
// The manager database runs on a single connection: finish or Close an
// iterator before writing to the table it reads from.
type Iterator struct {
	rows   *sql.Rows
	values []any
	done   bool
	err    error
}

func newIterator(rows *sql.Rows) (*Iterator, error) {
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	return &Iterator{rows: rows, values: make([]any, len(cols))}, nil
}

// Next advances to the following row. It returns false at the end of the
// rows, after an error and on every call after that.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	if !it.rows.Next() {
		it.err = it.rows.Err()
		it.Close()
		return false
	}

	dest := make([]any, len(it.values))
	for i := range it.values {
		dest[i] = &it.values[i]
	}
	if err := it.rows.Scan(dest...); err != nil {
		it.err = fmt.Errorf("scanning row: %w", err)
		it.Close()
		return false
	}
	return true
}

func (it *Iterator) value(col int) any {
	if it.done {
		panic("database: iterator read after exhaustion")
	}
	if col < 0 || col >= len(it.values) {
		panic(fmt.Sprintf("database: iterator column %d out of range", col))
	}
	return it.values[col]
}

// Columns returns the number of columns in each row.
func (it *Iterator) Columns() int {
	return len(it.values)
}

// Value returns the column as the driver produced it: nil, int64, float64,
// string or []byte.
func (it *Iterator) Value(col int) any {
	return it.value(col)
}

// IsNull reports whether the column holds SQL NULL.
func (it *Iterator) IsNull(col int) bool {
	return it.value(col) == nil
}

// Int64 reads a column as an integer, converting text the way SQLite does
// and reading NULL as zero.
func (it *Iterator) Int64(col int) int64 {
	switch v := it.value(col).(type) {
	case nil:
		return 0
	case int64:
		return v
	case float64:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case []byte:
		return parseInt(string(v))
	case string:
		return parseInt(v)
	default:
		return parseInt(fmt.Sprint(v))
	}
}

// Int is Int64 narrowed to int.
func (it *Iterator) Int(col int) int {
	return int(it.Int64(col))
}

// String reads a column as text. NULL reads as the empty string.
func (it *Iterator) String(col int) string {
	switch v := it.value(col).(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Err returns the error that ended the iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases the cursor. It is safe to call more than once and returns
// the error that ended the iteration.
func (it *Iterator) Close() error {
	if !it.done {
		it.done = true
		if err := it.rows.Close(); err != nil && it.err == nil {
			it.err = err
		}
	}
	return it.err
}

func parseInt(s string) int64 {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}
