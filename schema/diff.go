package schema

import (
	"fmt"
	"strings"

	"github.com/hatlonely/orm/dialect"
	"github.com/hatlonely/orm/meta"
	"github.com/hatlonely/orm/typemap"
)

// Incompatibility 声明的列与库中的列不一致
type Incompatibility struct {
	Table    string
	Column   string
	Aspect   string
	Expected string
	Actual   string
}

func (i *Incompatibility) Error() string {
	return fmt.Sprintf("%s.%s: %s mismatch, expected %s, actual %s", i.Table, i.Column, i.Aspect, i.Expected, i.Actual)
}

// TableDiff 一张表的声明与库中结构的差异
type TableDiff struct {
	Table string
	// 声明了但库中没有的列
	Missing []*meta.Column
	// 库中有但没有声明的列
	Undeclared []dialect.ColumnInfo
	// 存储类型、可空性、默认值或主键不一致的列
	Changed []*Incompatibility
	// 声明的列与库中同名列的对应关系，键为声明的列名
	Common map[string]dialect.ColumnInfo
}

// Empty 没有任何需要处理的差异
func (d *TableDiff) Empty() bool {
	return len(d.Missing) == 0 && len(d.Undeclared) == 0 && len(d.Changed) == 0
}

// Diff 按列名比较实体与库中的列，列名不区分大小写
func Diff(e *meta.Entity, live []dialect.ColumnInfo) *TableDiff {
	diff := &TableDiff{Table: e.Table, Common: map[string]dialect.ColumnInfo{}}

	byName := make(map[string]dialect.ColumnInfo, len(live))
	for _, info := range live {
		byName[strings.ToLower(info.Name)] = info
	}
	declared := make(map[string]bool, len(e.Columns))

	for _, col := range e.Columns {
		key := strings.ToLower(col.Name)
		declared[key] = true
		info, ok := byName[key]
		if !ok {
			diff.Missing = append(diff.Missing, col)
			continue
		}
		diff.Common[col.Name] = info
		diff.Changed = append(diff.Changed, compareColumn(e.Table, col, info)...)
	}
	for _, info := range live {
		if !declared[strings.ToLower(info.Name)] {
			diff.Undeclared = append(diff.Undeclared, info)
		}
	}
	return diff
}

func compareColumn(table string, col *meta.Column, info dialect.ColumnInfo) []*Incompatibility {
	var result []*Incompatibility
	mismatch := func(aspect, expected, actual string) {
		result = append(result, &Incompatibility{Table: table, Column: col.Name, Aspect: aspect, Expected: expected, Actual: actual})
	}

	if class := typemap.ParseStorageClass(info.Type); class != col.Class {
		mismatch("storage class", string(col.Class), fmt.Sprintf("%s (%s)", class, info.Type))
	}
	if col.NotNull() != info.NotNull {
		mismatch("nullability", nullText(col.NotNull()), nullText(info.NotNull))
	}
	expected, actual := declaredDefault(col), liveDefault(info)
	if !strings.EqualFold(normalizeDefault(expected), normalizeDefault(actual)) {
		mismatch("default", defaultText(expected), defaultText(actual))
	}
	if (col.Primary != meta.NotPrimary) != info.PrimaryKey {
		mismatch("primary key", fmt.Sprint(col.Primary != meta.NotPrimary), fmt.Sprint(info.PrimaryKey))
	}
	return result
}

func nullText(notNull bool) string {
	if notNull {
		return "NOT NULL"
	}
	return "NULL"
}

func declaredDefault(col *meta.Column) string {
	if col.Default != meta.DefaultAsSpecified {
		return ""
	}
	return col.DefaultValue
}

func liveDefault(info dialect.ColumnInfo) string {
	if info.Default == nil {
		return ""
	}
	return *info.Default
}

func defaultText(value string) string {
	if value == "" {
		return "none"
	}
	return value
}

// normalizeDefault 去掉外层括号和引号，NULL 等同于没有默认值。
// MySQL 返回的字符串默认值不带引号，SQLite 原样返回建表时的字面量
func normalizeDefault(value string) string {
	value = strings.TrimSpace(value)
	for len(value) >= 2 && value[0] == '(' && value[len(value)-1] == ')' {
		value = strings.TrimSpace(value[1 : len(value)-1])
	}
	if len(value) >= 2 && value[0] == '\'' && value[len(value)-1] == '\'' {
		value = strings.ReplaceAll(value[1:len(value)-1], "''", "'")
	}
	if strings.EqualFold(value, "NULL") {
		return ""
	}
	return value
}
