// Package query 查询条件节点
//
// 条件节点只描述过滤逻辑，生成 SQL 片段时由调用方传入标识符的引用方式，
// 参数值一律以占位符 ? 输出，按出现顺序返回。
package query

// QueryType 查询类型
type QueryType string

const (
	QueryTypeBool     QueryType = "bool"
	QueryTypeTerm     QueryType = "term"
	QueryTypeRange    QueryType = "range"
	QueryTypeExists   QueryType = "exists"
	QueryTypeWildcard QueryType = "wildcard"
	QueryTypePrefix   QueryType = "prefix"
	QueryTypeIn       QueryType = "in"
	QueryTypeIsNull   QueryType = "is_null"
	QueryTypeRaw      QueryType = "raw"
)

// Quoter 标识符引用函数
type Quoter func(string) string

// Quote 对 nil Quoter 原样返回
func (q Quoter) Quote(identifier string) string {
	if q == nil {
		return identifier
	}
	return q(identifier)
}

// Query 查询节点接口
type Query interface {
	Type() QueryType
	ToSQL(quote Quoter) (string, []any)
}

// Term 字段等于 value
func Term(field string, value any) *TermQuery {
	return &TermQuery{Field: field, Value: value}
}

// And 所有条件同时满足
func And(queries ...Query) *BoolQuery {
	return &BoolQuery{Must: queries}
}

// Or 任一条件满足
func Or(queries ...Query) *BoolQuery {
	return &BoolQuery{Should: queries}
}

// Not 所有条件都不满足
func Not(queries ...Query) *BoolQuery {
	return &BoolQuery{MustNot: queries}
}

// In 字段取值在 values 中
func In(field string, values ...any) *InQuery {
	return &InQuery{Field: field, Values: values}
}

// IsNull 字段为 NULL
func IsNull(field string) *IsNullQuery {
	return &IsNullQuery{Field: field}
}

// Raw 原样输出的 SQL 片段
func Raw(sql string, args ...any) *RawQuery {
	return &RawQuery{SQL: sql, Args: args}
}
