package schema

import (
	"fmt"
	"strings"
)

// State 表在一次同步后的状态
type State int

const (
	// NotPresent 表不存在且策略不允许创建
	NotPresent State = iota
	// Deployed 本次同步创建了表
	Deployed
	// ColumnsReconciled 增加或删除了列
	ColumnsReconciled
	// Unchanged 没有执行任何语句
	Unchanged
	// Redefined 重建了表
	Redefined
)

func (s State) String() string {
	switch s {
	case NotPresent:
		return "NotPresent"
	case Deployed:
		return "Deployed"
	case ColumnsReconciled:
		return "ColumnsReconciled"
	case Unchanged:
		return "Unchanged"
	case Redefined:
		return "Redefined"
	}
	return "Unknown"
}

// SyncError 一张表上失败的结构修改，该表的同步在此中止
type SyncError struct {
	Table     string
	Operation string
	SQL       string
	Err       error
}

func (e *SyncError) Error() string {
	if e.SQL == "" {
		return fmt.Sprintf("sync %s: %s failed: %v", e.Table, e.Operation, e.Err)
	}
	return fmt.Sprintf("sync %s: %s failed: %v, sql: %s", e.Table, e.Operation, e.Err, e.SQL)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// TableReport 一张表的同步结果
type TableReport struct {
	Table string
	State State
	// 执行过的语句，按执行顺序
	Statements []string
	Added      []string
	Dropped    []string
	// 库中存在但没有声明、并且没有删除的列
	Undeclared []string
	// 声明了但没有增加的列
	Missing           []string
	Incompatibilities []*Incompatibility
	Upgraded          bool
	Err               *SyncError
}

// Report 一次同步的结果
type Report struct {
	Tables []*TableReport
	// 没有对应实体的表
	UndeclaredTables []string
	DroppedTables    []string
	Errors           []*SyncError
}

// Table 按表名查找，不区分大小写
func (r *Report) Table(name string) *TableReport {
	for _, t := range r.Tables {
		if strings.EqualFold(t.Table, name) {
			return t
		}
	}
	return nil
}
