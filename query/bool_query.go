package query

import (
	"fmt"
	"strings"
)

// BoolQuery 布尔查询
type BoolQuery struct {
	Must           []Query
	Should         []Query
	MustNot        []Query
	Filter         []Query
	MinShouldMatch *int
}

func (q *BoolQuery) Type() QueryType {
	return QueryTypeBool
}

// IsEmpty 没有任何子条件
func (q *BoolQuery) IsEmpty() bool {
	return len(q.Must) == 0 && len(q.Should) == 0 && len(q.MustNot) == 0 && len(q.Filter) == 0
}

func (q *BoolQuery) ToSQL(quote Quoter) (string, []any) {
	var conditions []string
	var args []any

	join := func(queries []Query, sep string) string {
		parts := make([]string, 0, len(queries))
		for _, query := range queries {
			sql, queryArgs := query.ToSQL(quote)
			parts = append(parts, sql)
			args = append(args, queryArgs...)
		}
		return "(" + strings.Join(parts, sep) + ")"
	}

	if len(q.Must) > 0 {
		conditions = append(conditions, join(q.Must, " AND "))
	}
	if len(q.Filter) > 0 {
		conditions = append(conditions, join(q.Filter, " AND "))
	}
	if len(q.Should) > 0 {
		if q.MinShouldMatch != nil && *q.MinShouldMatch != 1 {
			cases := make([]string, 0, len(q.Should))
			for _, query := range q.Should {
				sql, queryArgs := query.ToSQL(quote)
				cases = append(cases, fmt.Sprintf("CASE WHEN (%s) THEN 1 ELSE 0 END", sql))
				args = append(args, queryArgs...)
			}
			conditions = append(conditions, fmt.Sprintf("(%s) >= %d", strings.Join(cases, " + "), *q.MinShouldMatch))
		} else {
			conditions = append(conditions, join(q.Should, " OR "))
		}
	}
	if len(q.MustNot) > 0 {
		parts := make([]string, 0, len(q.MustNot))
		for _, query := range q.MustNot {
			sql, queryArgs := query.ToSQL(quote)
			parts = append(parts, "NOT ("+sql+")")
			args = append(args, queryArgs...)
		}
		conditions = append(conditions, "("+strings.Join(parts, " AND ")+")")
	}

	if len(conditions) == 0 {
		return "1=1", nil
	}
	if len(conditions) == 1 {
		return conditions[0], args
	}
	return strings.Join(conditions, " AND "), args
}
