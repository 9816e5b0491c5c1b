// Package compiler 把实体元数据和查询描述编译为 SQL
//
// Compiler 不做任何 I/O，创建后只读，可以被多个 goroutine 同时使用。
// 编译结果中的参数一律为占位符 ?，Statement.Fields 给出实体字段的绑定顺序，
// Statement.Args 给出条件中的参数值。
package compiler

import (
	"strconv"
	"strings"

	"github.com/hatlonely/orm/meta"
	"github.com/hatlonely/orm/query"
)

// Statement 编译结果
type Statement struct {
	SQL string
	// 实体列按占位符顺序排列
	Fields []string
	// 条件参数，排在 Fields 对应的占位符之后
	Args []any
}

// LimitClause 生成 LIMIT / OFFSET 子句，返回值不带前导空格，都为 nil 时返回空串
type LimitClause func(limit, offset *int) string

// TypeName 列定义中使用的类型名
type TypeName func(c *meta.Column) string

type Options struct {
	Quote         string
	TypeName      TypeName
	LimitClause   LimitClause
	AutoIncrement string
	ForeignKeys   bool
	EmulateNulls  bool
}

type Option func(*Options)

// WithQuote 标识符引用字符，空串表示不引用
func WithQuote(quote string) Option {
	return func(o *Options) {
		o.Quote = quote
	}
}

func WithTypeName(fn TypeName) Option {
	return func(o *Options) {
		o.TypeName = fn
	}
}

// WithLimitClause 替换默认的 LIMIT / OFFSET 生成方式
func WithLimitClause(fn LimitClause) Option {
	return func(o *Options) {
		o.LimitClause = fn
	}
}

// WithAutoIncrement 自增主键的关键字，SQLite 为 AUTOINCREMENT，MySQL 为 AUTO_INCREMENT
func WithAutoIncrement(keyword string) Option {
	return func(o *Options) {
		o.AutoIncrement = keyword
	}
}

// WithForeignKeys 建表时为外键列生成 FOREIGN KEY 约束
func WithForeignKeys(enabled bool) Option {
	return func(o *Options) {
		o.ForeignKeys = enabled
	}
}

// WithNullsEmulation 不支持 NULLS FIRST/LAST 的数据库用 IS NULL 排序项代替
func WithNullsEmulation(enabled bool) Option {
	return func(o *Options) {
		o.EmulateNulls = enabled
	}
}

type Compiler struct {
	options Options
}

// New 默认使用双引号、存储类型名和 AUTOINCREMENT
func New(opts ...Option) *Compiler {
	options := Options{
		Quote:         `"`,
		AutoIncrement: "AUTOINCREMENT",
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.TypeName == nil {
		options.TypeName = func(c *meta.Column) string {
			return string(c.Class)
		}
	}
	if options.LimitClause == nil {
		options.LimitClause = StandardLimitClause
	}
	return &Compiler{options: options}
}

// QuoteIdentifier 引用标识符，标识符中的引用字符会被转义为两个
func (c *Compiler) QuoteIdentifier(identifier string) string {
	q := c.options.Quote
	if q == "" {
		return identifier
	}
	return q + strings.ReplaceAll(identifier, q, q+q) + q
}

// Quoter 供条件节点使用的引用函数
func (c *Compiler) Quoter() query.Quoter {
	return c.QuoteIdentifier
}

func (c *Compiler) qualified(schema, table string) string {
	if schema == "" {
		return c.QuoteIdentifier(table)
	}
	return c.QuoteIdentifier(schema) + "." + c.QuoteIdentifier(table)
}

func (c *Compiler) quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = c.QuoteIdentifier(name)
	}
	return strings.Join(quoted, ", ")
}

// StandardLimitClause LIMIT n OFFSET m，两者互相独立
func StandardLimitClause(limit, offset *int) string {
	var parts []string
	if limit != nil {
		parts = append(parts, "LIMIT "+strconv.Itoa(*limit))
	}
	if offset != nil {
		parts = append(parts, "OFFSET "+strconv.Itoa(*offset))
	}
	return strings.Join(parts, " ")
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// emptyCriteria 没有条件或者是空的 BoolQuery
func emptyCriteria(criteria query.Query) bool {
	if criteria == nil {
		return true
	}
	if b, ok := criteria.(interface{ IsEmpty() bool }); ok {
		return b.IsEmpty()
	}
	return false
}

// columnNames 把字段名转换为列名，找不到的名称原样保留
func columnNames(e *meta.Entity, fields []string) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		if col, ok := e.Column(f); ok {
			names[i] = col.Name
		} else {
			names[i] = f
		}
	}
	return names
}
