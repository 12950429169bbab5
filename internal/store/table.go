package store

import (
	"fmt"
	"strconv"
	"time"
)

// Table is a tabular query result.
type Table struct {
	Columns []string
	Rows    [][]any
}

func (t Table) Len() int {
	return len(t.Rows)
}

// Value returns the cell at row for column col, or nil if either is out of range.
func (t Table) Value(row int, col string) any {
	if row < 0 || row >= len(t.Rows) {
		return nil
	}
	for i, c := range t.Columns {
		if c == col {
			return t.Rows[row][i]
		}
	}
	return nil
}

// cell is Value with a check that col names a result column.
func (t Table) cell(row int, col string) (any, error) {
	for _, c := range t.Columns {
		if c == col {
			return t.Value(row, col), nil
		}
	}
	return nil, fmt.Errorf("column %s: not in result", col)
}

// Float returns the cell as float64. NULL cells and rows past the end
// report ok=false. An unknown column is an error.
func (t Table) Float(row int, col string) (float64, bool, error) {
	cell, err := t.cell(row, col)
	if err != nil {
		return 0, false, err
	}
	switch v := cell.(type) {
	case nil:
		return 0, false, nil
	case float64:
		return v, true, nil
	case float32:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	case int:
		return float64(v), true, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false, fmt.Errorf("column %s: %w", col, err)
		}
		return f, true, nil
	default:
		return 0, false, fmt.Errorf("column %s: unexpected type %T", col, v)
	}
}

// Int returns the cell as int64. NULL cells read as zero. An unknown
// column is an error.
func (t Table) Int(row int, col string) (int64, error) {
	cell, err := t.cell(row, col)
	if err != nil {
		return 0, err
	}
	switch v := cell.(type) {
	case nil:
		return 0, nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", col, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("column %s: unexpected type %T", col, v)
	}
}

func (t Table) String(row int, col string) string {
	switch v := t.Value(row, col).(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}
