package query

import "fmt"

// ExistsQuery 字段非空查询
type ExistsQuery struct {
	Field string
}

func (q *ExistsQuery) Type() QueryType {
	return QueryTypeExists
}

func (q *ExistsQuery) ToSQL(quote Quoter) (string, []any) {
	return fmt.Sprintf("%s IS NOT NULL", quote.Quote(q.Field)), nil
}

// IsNullQuery 字段为空查询
type IsNullQuery struct {
	Field string
}

func (q *IsNullQuery) Type() QueryType {
	return QueryTypeIsNull
}

func (q *IsNullQuery) ToSQL(quote Quoter) (string, []any) {
	return fmt.Sprintf("%s IS NULL", quote.Quote(q.Field)), nil
}
