package query

import (
	"fmt"
	"strings"
)

// PrefixQuery 前缀查询
type PrefixQuery struct {
	Field string
	Value string
}

func (q *PrefixQuery) Type() QueryType {
	return QueryTypePrefix
}

func (q *PrefixQuery) ToSQL(quote Quoter) (string, []any) {
	return fmt.Sprintf("%s LIKE ? ESCAPE '!'", quote.Quote(q.Field)), []any{escapeLike(q.Value) + "%"}
}

// WildcardQuery 通配符查询，* 匹配任意多个字符，? 匹配单个字符
type WildcardQuery struct {
	Field string
	Value string
}

func (q *WildcardQuery) Type() QueryType {
	return QueryTypeWildcard
}

func (q *WildcardQuery) ToSQL(quote Quoter) (string, []any) {
	pattern := escapeLike(q.Value)
	pattern = strings.ReplaceAll(pattern, "*", "%")
	pattern = strings.ReplaceAll(pattern, "?", "_")
	return fmt.Sprintf("%s LIKE ? ESCAPE '!'", quote.Quote(q.Field)), []any{pattern}
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
