package compiler

import (
	"strings"

	"github.com/hatlonely/orm/aggregation"
	"github.com/hatlonely/orm/meta"
	"github.com/hatlonely/orm/query"
)

type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// Nulls NULL 值在排序中的位置
type Nulls int

const (
	NullsDefault Nulls = iota
	NullsFirst
	NullsLast
)

// Order 排序项，Raw 为 true 时 Field 作为表达式原样输出
type Order struct {
	Field     string
	Direction Direction
	Nulls     Nulls
	Raw       bool
}

type JoinKind string

const (
	InnerJoin JoinKind = "INNER JOIN"
	LeftJoin  JoinKind = "LEFT JOIN"
	CrossJoin JoinKind = "CROSS JOIN"
)

// Join 连接项，On 为 nil 时不生成 ON 子句
type Join struct {
	Kind   JoinKind
	Schema string
	Table  string
	Alias  string
	On     query.Query
}

// SelectQuery 查询语句的描述
type SelectQuery struct {
	// Previous 编译后作为前缀，与本查询用 Compound 连接，默认为 UNION
	Previous *SelectQuery
	Compound string

	Distinct bool
	// Selection 列名，总是引用，前缀是查询或连接的别名时写作 alias.column
	Selection []string
	// Expressions 原样输出的选择表达式，排在 Selection 之后
	Expressions  []string
	Aggregations []aggregation.Aggregation
	Schema       string
	Table        string
	Alias        string
	Joins        []Join
	GroupBy      []string
	// 有 GroupBy 时放在 HAVING 中，否则放在 WHERE 中
	Criteria query.Query
	OrderBy  []Order
	// Limit 优先于 DefaultLimit，都为 nil 时不生成 LIMIT
	Limit        *int
	DefaultLimit *int
	Offset       *int
}

// CompileSelect 编译查询语句
func (c *Compiler) CompileSelect(q *SelectQuery) Statement {
	var buf strings.Builder
	var stmt Statement

	if q.Previous != nil {
		prev := c.CompileSelect(q.Previous)
		compound := q.Compound
		if compound == "" {
			compound = "UNION"
		}
		buf.WriteString(prev.SQL)
		buf.WriteString(" ")
		buf.WriteString(compound)
		buf.WriteString(" ")
		stmt.Args = append(stmt.Args, prev.Args...)
	}

	buf.WriteString("SELECT ")
	if q.Distinct {
		buf.WriteString("DISTINCT ")
	}
	aliases := q.aliases()
	selection := make([]string, 0, len(q.Selection)+len(q.Expressions)+len(q.Aggregations))
	for _, column := range q.Selection {
		selection = append(selection, c.quoteColumn(aliases, column))
		stmt.Fields = append(stmt.Fields, column)
	}
	for _, expr := range q.Expressions {
		selection = append(selection, expr)
		stmt.Fields = append(stmt.Fields, expr)
	}
	for _, agg := range q.Aggregations {
		selection = append(selection, agg.ToSQL(c.Quoter()))
		stmt.Fields = append(stmt.Fields, agg.Name())
	}
	if len(selection) == 0 {
		buf.WriteString("*")
	} else {
		buf.WriteString(strings.Join(selection, ", "))
	}

	buf.WriteString(" FROM ")
	buf.WriteString(c.qualified(q.Schema, q.Table))
	if q.Alias != "" {
		buf.WriteString(" AS ")
		buf.WriteString(q.Alias)
	}

	for _, join := range q.Joins {
		kind := join.Kind
		if kind == "" {
			kind = InnerJoin
		}
		buf.WriteString(" ")
		buf.WriteString(string(kind))
		buf.WriteString(" ")
		buf.WriteString(c.qualified(join.Schema, join.Table))
		if join.Alias != "" {
			buf.WriteString(" AS ")
			buf.WriteString(join.Alias)
		}
		if join.On != nil {
			on, args := join.On.ToSQL(c.Quoter())
			buf.WriteString(" ON ")
			buf.WriteString(on)
			stmt.Args = append(stmt.Args, args...)
		}
	}

	var criteria string
	if !emptyCriteria(q.Criteria) {
		var args []any
		criteria, args = q.Criteria.ToSQL(c.Quoter())
		stmt.Args = append(stmt.Args, args...)
	}
	if len(q.GroupBy) > 0 {
		groups := make([]string, len(q.GroupBy))
		for i, g := range q.GroupBy {
			groups[i] = c.quoteColumn(aliases, g)
		}
		buf.WriteString(" GROUP BY ")
		buf.WriteString(strings.Join(groups, ", "))
		if criteria != "" {
			buf.WriteString(" HAVING ")
			buf.WriteString(criteria)
		}
	} else if criteria != "" {
		buf.WriteString(" WHERE ")
		buf.WriteString(criteria)
	}

	if len(q.OrderBy) > 0 {
		terms := make([]string, 0, len(q.OrderBy))
		for _, order := range q.OrderBy {
			terms = append(terms, c.orderTerms(aliases, order)...)
		}
		buf.WriteString(" ORDER BY ")
		buf.WriteString(strings.Join(terms, ", "))
	}

	limit := q.Limit
	if limit == nil {
		limit = q.DefaultLimit
	}
	if clause := c.options.LimitClause(limit, q.Offset); clause != "" {
		buf.WriteString(" ")
		buf.WriteString(clause)
	}

	stmt.SQL = buf.String()
	return stmt
}

func (c *Compiler) orderTerms(aliases map[string]bool, order Order) []string {
	direction := order.Direction
	if direction == "" {
		direction = Asc
	}
	column := order.Field
	if !order.Raw {
		column = c.quoteColumn(aliases, order.Field)
	}
	term := column + " " + string(direction)
	switch {
	case order.Nulls == NullsDefault:
		return []string{term}
	case c.options.EmulateNulls && order.Nulls == NullsFirst:
		return []string{column + " IS NULL DESC", term}
	case c.options.EmulateNulls:
		return []string{column + " IS NULL ASC", term}
	case order.Nulls == NullsFirst:
		return []string{term + " NULLS FIRST"}
	default:
		return []string{term + " NULLS LAST"}
	}
}

func (q *SelectQuery) aliases() map[string]bool {
	aliases := map[string]bool{}
	if q.Alias != "" {
		aliases[q.Alias] = true
	}
	for _, join := range q.Joins {
		if join.Alias != "" {
			aliases[join.Alias] = true
		}
	}
	return aliases
}

// quoteColumn * 原样输出，只有前缀是已声明的别名时才拆成 alias.column
func (c *Compiler) quoteColumn(aliases map[string]bool, column string) string {
	if column == "*" {
		return column
	}
	if i := strings.Index(column, "."); i > 0 && aliases[column[:i]] {
		rest := column[i+1:]
		if rest == "*" {
			return column
		}
		return column[:i+1] + c.QuoteIdentifier(rest)
	}
	return c.QuoteIdentifier(column)
}

// SelectBuilder 链式构造 SelectQuery
type SelectBuilder struct {
	q *SelectQuery
}

// Select 从 table 查询，不指定列时生成 SELECT *
func Select(table string) *SelectBuilder {
	return &SelectBuilder{q: &SelectQuery{Table: table}}
}

// From 查询实体的全部列
func From(e *meta.Entity) *SelectBuilder {
	return Select(e.Table).Columns(e.ColumnNames()...)
}

func (b *SelectBuilder) Schema(schema string) *SelectBuilder {
	b.q.Schema = schema
	return b
}

func (b *SelectBuilder) Alias(alias string) *SelectBuilder {
	b.q.Alias = alias
	return b
}

func (b *SelectBuilder) Columns(columns ...string) *SelectBuilder {
	b.q.Selection = append(b.q.Selection, columns...)
	return b
}

// Expressions 追加原样输出的选择表达式
func (b *SelectBuilder) Expressions(exprs ...string) *SelectBuilder {
	b.q.Expressions = append(b.q.Expressions, exprs...)
	return b
}

func (b *SelectBuilder) Aggregate(aggs ...aggregation.Aggregation) *SelectBuilder {
	b.q.Aggregations = append(b.q.Aggregations, aggs...)
	return b
}

func (b *SelectBuilder) Distinct() *SelectBuilder {
	b.q.Distinct = true
	return b
}

func (b *SelectBuilder) Join(join Join) *SelectBuilder {
	b.q.Joins = append(b.q.Joins, join)
	return b
}

func (b *SelectBuilder) GroupBy(columns ...string) *SelectBuilder {
	b.q.GroupBy = append(b.q.GroupBy, columns...)
	return b
}

// Where 多次调用时以 AND 合并
func (b *SelectBuilder) Where(criteria query.Query) *SelectBuilder {
	if b.q.Criteria == nil {
		b.q.Criteria = criteria
	} else {
		b.q.Criteria = query.And(b.q.Criteria, criteria)
	}
	return b
}

func (b *SelectBuilder) OrderBy(field string, direction Direction) *SelectBuilder {
	b.q.OrderBy = append(b.q.OrderBy, Order{Field: field, Direction: direction})
	return b
}

func (b *SelectBuilder) OrderByNulls(field string, direction Direction, nulls Nulls) *SelectBuilder {
	b.q.OrderBy = append(b.q.OrderBy, Order{Field: field, Direction: direction, Nulls: nulls})
	return b
}

// OrderByExpression 按原样输出的表达式排序
func (b *SelectBuilder) OrderByExpression(expr string, direction Direction) *SelectBuilder {
	b.q.OrderBy = append(b.q.OrderBy, Order{Field: expr, Direction: direction, Raw: true})
	return b
}

func (b *SelectBuilder) Limit(limit int) *SelectBuilder {
	b.q.Limit = &limit
	return b
}

func (b *SelectBuilder) DefaultLimit(limit int) *SelectBuilder {
	b.q.DefaultLimit = &limit
	return b
}

func (b *SelectBuilder) Offset(offset int) *SelectBuilder {
	b.q.Offset = &offset
	return b
}

// After 以 compound 连接在 previous 之后，例如 UNION ALL
func (b *SelectBuilder) After(previous *SelectQuery, compound string) *SelectBuilder {
	b.q.Previous = previous
	b.q.Compound = compound
	return b
}

func (b *SelectBuilder) Query() *SelectQuery {
	return b.q
}

// Compile 等价于 c.CompileSelect(b.Query())
func (b *SelectBuilder) Compile(c *Compiler) Statement {
	return c.CompileSelect(b.q)
}
