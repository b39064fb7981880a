package gateway

import "regexp"

// =============================================================================
// FILTERS
// =============================================================================

type Op string

const (
	OpEq      Op = "eq"
	OpNeq     Op = "neq"
	OpIn      Op = "in"
	OpIsNull  Op = "is_null"
	OpNotNull Op = "not_null"
	OpLt      Op = "lt"
	OpGt      Op = "gt"
)

// Filter restricts a query to rows where Column satisfies Op against Value.
// For OpIn, Value is a []any.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

func Eq(col string, v any) Filter  { return Filter{Column: col, Op: OpEq, Value: v} }
func Neq(col string, v any) Filter { return Filter{Column: col, Op: OpNeq, Value: v} }
func Lt(col string, v any) Filter  { return Filter{Column: col, Op: OpLt, Value: v} }
func Gt(col string, v any) Filter  { return Filter{Column: col, Op: OpGt, Value: v} }
func IsNull(col string) Filter     { return Filter{Column: col, Op: OpIsNull} }
func NotNull(col string) Filter    { return Filter{Column: col, Op: OpNotNull} }

// In matches any of values. An empty list matches nothing.
func In[T any](col string, values ...T) Filter {
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return Filter{Column: col, Op: OpIn, Value: vs}
}

// =============================================================================
// QUERY
// =============================================================================

type Order struct {
	Column string
	Desc   bool
}

// Query is a conjunction of filters with optional ordering and limit.
// Limit <= 0 means no limit.
type Query struct {
	Filters []Filter
	OrderBy []Order
	Limit   int
}

// Where starts a query.
func Where(filters ...Filter) Query {
	return Query{Filters: filters}
}

// All matches every row.
func All() Query { return Query{} }

// Asc appends an ascending sort key.
func (q Query) Asc(col string) Query {
	q.OrderBy = append(append([]Order(nil), q.OrderBy...), Order{Column: col})
	return q
}

// Desc appends a descending sort key.
func (q Query) Desc(col string) Query {
	q.OrderBy = append(append([]Order(nil), q.OrderBy...), Order{Column: col, Desc: true})
	return q
}

// Take limits the result size.
func (q Query) Take(n int) Query {
	q.Limit = n
	return q
}

var identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidIdentifier reports whether s is safe to splice into SQL as a table or
// column name.
func ValidIdentifier(s string) bool {
	return identifier.MatchString(s)
}
