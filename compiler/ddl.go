package compiler

import (
	"fmt"
	"strings"

	"github.com/hatlonely/orm/meta"
)

// CreateTable 建表语句的描述。Columns 为空时必须指定 As，生成 CREATE TABLE ... AS，
// 两者都为空时 CompileCreate 返回空串
type CreateTable struct {
	Temp         bool
	IfNotExists  bool
	Schema       string
	Table        string
	Columns      []string
	Constraints  []string
	Strict       bool
	WithoutRowid bool
	As           *SelectQuery
}

// CompileCreate 编译建表语句
func (c *Compiler) CompileCreate(t *CreateTable) string {
	if len(t.Columns) == 0 && t.As == nil {
		return ""
	}
	var buf strings.Builder
	buf.WriteString("CREATE ")
	if t.Temp {
		buf.WriteString("TEMP ")
	}
	buf.WriteString("TABLE ")
	if t.IfNotExists {
		buf.WriteString("IF NOT EXISTS ")
	}
	buf.WriteString(c.qualified(t.Schema, t.Table))

	if len(t.Columns) == 0 {
		buf.WriteString(" AS ")
		buf.WriteString(c.CompileSelect(t.As).SQL)
		return buf.String()
	}

	defs := make([]string, 0, len(t.Columns)+len(t.Constraints))
	defs = append(defs, t.Columns...)
	defs = append(defs, t.Constraints...)
	buf.WriteString(" (")
	buf.WriteString(strings.Join(defs, ", "))
	buf.WriteString(")")

	var options []string
	if t.Strict {
		options = append(options, "STRICT")
	}
	if t.WithoutRowid {
		options = append(options, "WITHOUT ROWID")
	}
	if len(options) > 0 {
		buf.WriteString(" ")
		buf.WriteString(strings.Join(options, ", "))
	}
	return buf.String()
}

// ColumnDefinition 单列定义
func (c *Compiler) ColumnDefinition(col *meta.Column) string {
	parts := []string{c.QuoteIdentifier(col.Name), c.options.TypeName(col)}
	switch col.Primary {
	case meta.PrimaryAutoIncrement:
		parts = append(parts, "PRIMARY KEY", c.options.AutoIncrement)
	case meta.PrimaryPlain, meta.PrimaryUUID:
		parts = append(parts, "PRIMARY KEY")
	}
	if col.NotNull() {
		parts = append(parts, "NOT NULL")
	}
	if col.Unique && col.Primary == meta.NotPrimary {
		parts = append(parts, "UNIQUE")
	}
	if col.Default == meta.DefaultAsSpecified {
		value := col.DefaultValue
		if value == "" {
			value = "NULL"
		}
		parts = append(parts, "DEFAULT "+value)
	}
	if col.Check != "" {
		parts = append(parts, "CHECK ("+col.Check+")")
	}
	return strings.Join(parts, " ")
}

// EntityColumns 按声明顺序生成实体的列定义
func (c *Compiler) EntityColumns(e *meta.Entity) []string {
	defs := make([]string, len(e.Columns))
	for i, col := range e.Columns {
		defs[i] = c.ColumnDefinition(col)
	}
	return defs
}

// EntityConstraints 外键约束，未开启 WithForeignKeys 时为空
func (c *Compiler) EntityConstraints(schema string, e *meta.Entity) []string {
	if !c.options.ForeignKeys {
		return nil
	}
	var constraints []string
	for _, col := range e.Columns {
		rel := col.Relation
		if rel == nil || rel.Entity == nil {
			continue
		}
		ref := rel.RefField
		if target, ok := rel.Entity.Column(ref); ok {
			ref = target.Name
		}
		constraints = append(constraints, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			c.QuoteIdentifier(col.Name), c.qualified(schema, rel.Entity.Table), c.QuoteIdentifier(ref)))
	}
	return constraints
}

// EntityTable 根据实体元数据生成建表描述
func (c *Compiler) EntityTable(schema string, e *meta.Entity, ifNotExists bool) *CreateTable {
	return &CreateTable{
		IfNotExists:  ifNotExists,
		Schema:       schema,
		Table:        e.Table,
		Columns:      c.EntityColumns(e),
		Constraints:  c.EntityConstraints(schema, e),
		Strict:       e.Options.Strict,
		WithoutRowid: e.Options.WithoutRowid,
	}
}

// CompileCreateIndex 编译建索引语句，fields 可以是字段名或列名
func (c *Compiler) CompileCreateIndex(unique, ifNotExists bool, name, schema string, e *meta.Entity, fields []string, criteria string) string {
	var buf strings.Builder
	buf.WriteString("CREATE ")
	if unique {
		buf.WriteString("UNIQUE ")
	}
	buf.WriteString("INDEX ")
	if ifNotExists {
		buf.WriteString("IF NOT EXISTS ")
	}
	buf.WriteString(c.QuoteIdentifier(name))
	buf.WriteString(" ON ")
	buf.WriteString(c.qualified(schema, e.Table))
	buf.WriteString(" (")
	buf.WriteString(c.quoteAll(columnNames(e, fields)))
	buf.WriteString(")")
	if criteria != "" {
		buf.WriteString(" WHERE ")
		buf.WriteString(criteria)
	}
	return buf.String()
}

// EntityIndexes 实体声明的全部索引
func (c *Compiler) EntityIndexes(schema string, e *meta.Entity, ifNotExists bool) []string {
	statements := make([]string, len(e.Indexes))
	for i, index := range e.Indexes {
		statements[i] = c.CompileCreateIndex(index.Unique, ifNotExists, index.Name, schema, e, index.Fields, index.Criteria)
	}
	return statements
}

func (c *Compiler) CompileAddColumn(schema, table string, col *meta.Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", c.qualified(schema, table), c.ColumnDefinition(col))
}

func (c *Compiler) CompileDropColumn(schema, table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", c.qualified(schema, table), c.QuoteIdentifier(column))
}

func (c *Compiler) CompileDropTable(schema, table string, ifExists bool) string {
	if ifExists {
		return "DROP TABLE IF EXISTS " + c.qualified(schema, table)
	}
	return "DROP TABLE " + c.qualified(schema, table)
}

func (c *Compiler) CompileRenameTable(schema, from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", c.qualified(schema, from), c.QuoteIdentifier(to))
}

// CompileCopyRows 把 from 表的 columns 列复制到 to 表的同名列
func (c *Compiler) CompileCopyRows(schema, from, to string, columns []string) string {
	list := c.quoteAll(columns)
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", c.qualified(schema, to), list, list, c.qualified(schema, from))
}
