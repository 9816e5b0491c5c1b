package query

import (
	"fmt"
	"strings"
)

// RangeQuery 范围查询
type RangeQuery struct {
	Field string
	Gt    any
	Gte   any
	Lt    any
	Lte   any
}

func (q *RangeQuery) Type() QueryType {
	return QueryTypeRange
}

func (q *RangeQuery) ToSQL(quote Quoter) (string, []any) {
	var conditions []string
	var args []any
	field := quote.Quote(q.Field)

	for _, bound := range []struct {
		op    string
		value any
	}{
		{">", q.Gt},
		{">=", q.Gte},
		{"<", q.Lt},
		{"<=", q.Lte},
	} {
		if bound.value == nil {
			continue
		}
		conditions = append(conditions, fmt.Sprintf("%s %s ?", field, bound.op))
		args = append(args, bound.value)
	}

	if len(conditions) == 0 {
		return "1=1", nil
	}
	return strings.Join(conditions, " AND "), args
}
