package compiler

import (
	"strings"

	"github.com/hatlonely/orm/meta"
	"github.com/hatlonely/orm/query"
)

// CompileInsert 编译插入语句，fields 为空时使用实体的全部插入列。
// records 大于 0 时生成一行 VALUES 占位符，批量插入时按行复用同一条语句；
// records 为 0 时只生成列清单，供 INSERT ... SELECT 拼接
func (c *Compiler) CompileInsert(schema string, e *meta.Entity, fields []string, records int) Statement {
	if len(fields) == 0 {
		fields = e.InsertColumns()
	}
	columns := columnNames(e, fields)

	var buf strings.Builder
	buf.WriteString("INSERT INTO ")
	buf.WriteString(c.qualified(schema, e.Table))
	buf.WriteString(" (")
	buf.WriteString(c.quoteAll(columns))
	buf.WriteString(")")
	if records > 0 {
		buf.WriteString(" VALUES (")
		buf.WriteString(placeholders(len(columns)))
		buf.WriteString(")")
	}
	return Statement{SQL: buf.String(), Fields: columns}
}

// CompileUpdate 编译更新语句，fields 为空时更新除主键外的全部列
func (c *Compiler) CompileUpdate(schema string, e *meta.Entity, fields []string, criteria query.Query) Statement {
	if len(fields) == 0 {
		for _, col := range e.Columns {
			if col != e.Primary {
				fields = append(fields, col.Name)
			}
		}
	}
	columns := columnNames(e, fields)

	sets := make([]string, len(columns))
	for i, column := range columns {
		sets[i] = c.QuoteIdentifier(column) + " = ?"
	}

	var buf strings.Builder
	buf.WriteString("UPDATE ")
	buf.WriteString(c.qualified(schema, e.Table))
	buf.WriteString(" SET ")
	buf.WriteString(strings.Join(sets, ", "))

	stmt := Statement{Fields: columns}
	if !emptyCriteria(criteria) {
		where, args := criteria.ToSQL(c.Quoter())
		buf.WriteString(" WHERE ")
		buf.WriteString(where)
		stmt.Args = args
	}
	stmt.SQL = buf.String()
	return stmt
}

// CompileDelete 编译删除语句，没有条件时删除全表
func (c *Compiler) CompileDelete(schema string, e *meta.Entity, criteria query.Query) Statement {
	stmt := Statement{SQL: "DELETE FROM " + c.qualified(schema, e.Table)}
	if !emptyCriteria(criteria) {
		where, args := criteria.ToSQL(c.Quoter())
		stmt.SQL += " WHERE " + where
		stmt.Args = args
	}
	return stmt
}
