package query

import "fmt"

// TermQuery 精确匹配查询，Value 为 nil 时生成 IS NULL
type TermQuery struct {
	Field string
	Value any
}

func (q *TermQuery) Type() QueryType {
	return QueryTypeTerm
}

func (q *TermQuery) ToSQL(quote Quoter) (string, []any) {
	if q.Value == nil {
		return fmt.Sprintf("%s IS NULL", quote.Quote(q.Field)), nil
	}
	return fmt.Sprintf("%s = ?", quote.Quote(q.Field)), []any{q.Value}
}
