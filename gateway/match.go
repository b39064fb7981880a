package gateway

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Matches evaluates filters against a row in memory. It mirrors the SQL the
// sql stores generate: NULL never equals anything, Neq excludes NULL.
func Matches(r Row, filters ...Filter) bool {
	for _, f := range filters {
		if !matchOne(r, f) {
			return false
		}
	}
	return true
}

func matchOne(r Row, f Filter) bool {
	v, present := r[f.Column]
	null := !present || v == nil
	switch f.Op {
	case OpIsNull:
		return null
	case OpNotNull:
		return !null
	}
	if null {
		return false
	}
	switch f.Op {
	case OpEq:
		return compare(v, f.Value) == 0
	case OpNeq:
		return compare(v, f.Value) != 0
	case OpLt:
		return compare(v, f.Value) < 0
	case OpGt:
		return compare(v, f.Value) > 0
	case OpIn:
		values, _ := f.Value.([]any)
		for _, want := range values {
			if compare(v, want) == 0 {
				return true
			}
		}
		return false
	}
	return false
}

// Normalize converts a value to the canonical write-path representation.
func Normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case []byte:
		return string(x)
	case decimal.Decimal:
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case *string:
		if x == nil {
			return nil
		}
		return *x
	}
	return v
}

func sortKey(v any) any {
	v = Normalize(v)
	if b, ok := v.(bool); ok {
		if b {
			return int64(1)
		}
		return int64(0)
	}
	return v
}

func compare(a, b any) int {
	a, b = sortKey(a), sortKey(b)
	ai, aok := a.(int64)
	bi, bok := b.(int64)
	if aok && bok {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// SortRows orders rows in place. NULLs sort first ascending, last descending.
func SortRows(rows []Row, orders []Order) {
	if len(orders) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range orders {
			a, b := rows[i][o.Column], rows[j][o.Column]
			var c int
			switch {
			case a == nil && b == nil:
				c = 0
			case a == nil:
				c = -1
			case b == nil:
				c = 1
			default:
				c = compare(a, b)
			}
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}
