package query

import (
	"fmt"
	"strings"
)

// InQuery 集合查询，Values 为空时恒为假
type InQuery struct {
	Field  string
	Values []any
}

func (q *InQuery) Type() QueryType {
	return QueryTypeIn
}

func (q *InQuery) ToSQL(quote Quoter) (string, []any) {
	if len(q.Values) == 0 {
		return "1=0", nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(q.Values)), ", ")
	args := make([]any, len(q.Values))
	copy(args, q.Values)
	return fmt.Sprintf("%s IN (%s)", quote.Quote(q.Field), placeholders), args
}

// RawQuery 原样输出的条件
type RawQuery struct {
	SQL  string
	Args []any
}

func (q *RawQuery) Type() QueryType {
	return QueryTypeRaw
}

func (q *RawQuery) ToSQL(quote Quoter) (string, []any) {
	return q.SQL, q.Args
}
