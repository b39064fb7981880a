package gateway

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Row is one table record keyed by column name.
type Row map[string]any

// Clone returns a shallow copy.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ID is shorthand for String("id").
func (r Row) ID() string { return r.String("id") }

// IsNull reports whether col is absent or nil.
func (r Row) IsNull(col string) bool {
	v, ok := r[col]
	return !ok || v == nil
}

// String returns col as text. Nil becomes "".
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

// NullableString returns nil for NULL, otherwise a pointer to the text.
func (r Row) NullableString(col string) *string {
	if r.IsNull(col) {
		return nil
	}
	s := r.String(col)
	return &s
}

// Int returns col as an integer. Unparseable values become 0.
func (r Row) Int(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case []byte:
		n, _ := strconv.ParseInt(string(v), 10, 64)
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

// Bool accepts native booleans and SQLite-style integers.
func (r Row) Bool(col string) bool {
	switch v := r[col].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case []byte:
		b, _ := strconv.ParseBool(string(v))
		return b
	}
	return r.Int(col) != 0
}

// Decimal parses col as a decimal. NULL and garbage become zero.
func (r Row) Decimal(col string) decimal.Decimal {
	switch v := r[col].(type) {
	case decimal.Decimal:
		return v
	case int64:
		return decimal.NewFromInt(v)
	case float64:
		return decimal.NewFromFloat(v)
	case nil:
		return decimal.Zero
	}
	d, err := decimal.NewFromString(r.String(col))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Time parses col as a date or timestamp. NULL and garbage become zero time.
func (r Row) Time(col string) time.Time {
	if v, ok := r[col].(time.Time); ok {
		return v.UTC()
	}
	s := r.String(col)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// NullableTime returns nil for NULL.
func (r Row) NullableTime(col string) *time.Time {
	if r.IsNull(col) {
		return nil
	}
	t := r.Time(col)
	return &t
}
