package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hatlonely/orm/dialect"
	"github.com/hatlonely/orm/log"
	"github.com/hatlonely/orm/log/logger"
	"github.com/hatlonely/orm/meta"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// rebuildPrefix 重建表时临时表名的前缀
const rebuildPrefix = "__new_"

// Snapshot 同步开始时库中的表结构，键为库中的表名
type Snapshot map[string][]dialect.ColumnInfo

// TakeSnapshot 读取所有表的列信息
func TakeSnapshot(ctx context.Context, d dialect.Dialect) (Snapshot, error) {
	tables, err := d.ListDatabaseTableNames(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "list tables failed")
	}
	snapshot := make(Snapshot, len(tables))
	for _, table := range tables {
		columns, err := d.TableColumns(ctx, table)
		if err != nil {
			return nil, errors.WithMessagef(err, "read columns of %s failed", table)
		}
		snapshot[table] = columns
	}
	return snapshot, nil
}

// Lookup 不区分大小写查找表，返回库中的表名
func (s Snapshot) Lookup(table string) (string, []dialect.ColumnInfo, bool) {
	if columns, ok := s[table]; ok {
		return table, columns, true
	}
	for name, columns := range s {
		if strings.EqualFold(name, table) {
			return name, columns, true
		}
	}
	return "", nil, false
}

// Tables 按名称排序的表名
func (s Snapshot) Tables() []string {
	tables := make([]string, 0, len(s))
	for name := range s {
		tables = append(tables, name)
	}
	sort.Strings(tables)
	return tables
}

// UpgradeHook 表结构版本升高时在对齐列之前调用，from 为库中记录的版本
type UpgradeHook func(ctx context.Context, d dialect.Dialect, e *meta.Entity, from, to int) error

type Option func(*Synchronizer)

func WithLogger(l logger.Logger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPolicy 处理没有声明的表时使用的策略，只有 DropTables 生效
func WithPolicy(policy meta.Policy) Option {
	return func(s *Synchronizer) {
		s.policy = policy
	}
}

func WithUpgradeHook(table string, hook UpgradeHook) Option {
	return func(s *Synchronizer) {
		s.hooks[strings.ToLower(table)] = hook
	}
}

// Synchronizer 把库中的表结构对齐到实体声明
type Synchronizer struct {
	dialect dialect.Dialect
	store   *MetadataStore
	logger  logger.Logger
	policy  meta.Policy
	hooks   map[string]UpgradeHook
}

func New(d dialect.Dialect, opts ...Option) (*Synchronizer, error) {
	store, err := NewMetadataStore(d)
	if err != nil {
		return nil, errors.WithMessage(err, "NewMetadataStore failed")
	}
	s := &Synchronizer{
		dialect: d,
		store:   store,
		logger:  log.Default().WithGroup("schema"),
		policy:  meta.DefaultPolicy(),
		hooks:   map[string]UpgradeHook{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Metadata 元数据表的读写
func (s *Synchronizer) Metadata() *MetadataStore {
	return s.store
}

// Sync 对每个实体执行一次同步，元数据表总是最先处理。
// 单张表的失败记录在报告中并继续处理其他表，读取库结构失败时整体中止
func (s *Synchronizer) Sync(ctx context.Context, entities []*meta.Entity) (*Report, error) {
	snapshot, err := TakeSnapshot(ctx, s.dialect)
	if err != nil {
		return nil, errors.WithMessage(err, "introspect schema failed")
	}

	report := &Report{}
	declared := map[string]bool{}
	all := append([]*meta.Entity{s.store.Entity()}, entities...)
	for _, e := range all {
		key := strings.ToLower(e.Table)
		if declared[key] {
			continue
		}
		declared[key] = true

		tr, err := s.syncTable(ctx, e, snapshot)
		report.Tables = append(report.Tables, tr)
		if err == nil {
			continue
		}
		var syncErr *SyncError
		if !errors.As(err, &syncErr) {
			return report, errors.WithMessagef(err, "sync %s failed", e.Table)
		}
		tr.Err = syncErr
		report.Errors = append(report.Errors, syncErr)
		s.logger.ErrorContext(ctx, "table sync failed", "table", syncErr.Table, "operation", syncErr.Operation, "sql", syncErr.SQL, "error", syncErr.Err)
	}

	for _, table := range snapshot.Tables() {
		if declared[strings.ToLower(table)] || reserved(table) {
			continue
		}
		if !s.policy.DropTables {
			report.UndeclaredTables = append(report.UndeclaredTables, table)
			s.logger.WarnContext(ctx, "undeclared table", "table", table)
			continue
		}
		stmt := s.dialect.Compiler().CompileDropTable("", table, false)
		if _, err := s.dialect.Exec(ctx, stmt); err != nil {
			syncErr := &SyncError{Table: table, Operation: "drop table", SQL: stmt, Err: err}
			report.Errors = append(report.Errors, syncErr)
			s.logger.ErrorContext(ctx, "drop table failed", "table", table, "error", err)
			continue
		}
		report.DroppedTables = append(report.DroppedTables, table)
		s.logger.InfoContext(ctx, "schema statement executed", "table", table, "operation", "drop table", "sql", stmt)
	}

	var errs []error
	for _, syncErr := range report.Errors {
		errs = append(errs, syncErr)
	}
	return report, multierr.Combine(errs...)
}

// reserved 数据库内部表和元数据表不会被删除
func reserved(table string) bool {
	lower := strings.ToLower(table)
	return strings.HasPrefix(lower, "sqlite_") || lower == dialect.MetadataTable
}

func (s *Synchronizer) syncTable(ctx context.Context, e *meta.Entity, snapshot Snapshot) (*TableReport, error) {
	tr := &TableReport{Table: e.Table, State: Unchanged}

	liveName, live, ok := snapshot.Lookup(e.Table)
	if !ok {
		if !e.Policy.DeployNewTables {
			tr.State = NotPresent
			s.logger.WarnContext(ctx, "table not present", "table", e.Table)
			return tr, nil
		}
		if err := s.deploy(ctx, e, tr); err != nil {
			return tr, err
		}
		tr.State = Deployed
		if e.Version > 0 {
			return tr, s.storeVersion(ctx, e)
		}
		return tr, nil
	}

	if e.Policy.UpgradeSchema {
		upgraded, err := s.upgrade(ctx, e, tr)
		if err != nil {
			return tr, err
		}
		if upgraded {
			if live, err = s.dialect.TableColumns(ctx, liveName); err != nil {
				return tr, err
			}
		}
	}

	diff := Diff(e, live)
	rebuild := false
	if len(diff.Changed) > 0 {
		if e.Policy.RedefineEntity {
			rebuild = true
		} else {
			tr.Incompatibilities = append(tr.Incompatibilities, diff.Changed...)
			for _, incompatibility := range diff.Changed {
				s.logger.WarnContext(ctx, "incompatible column", "table", e.Table, "column", incompatibility.Column,
					"aspect", incompatibility.Aspect, "expected", incompatibility.Expected, "actual", incompatibility.Actual)
			}
		}
	}

	var addable []*meta.Column
	for _, col := range diff.Missing {
		switch {
		case !e.Policy.DeployNewColumns:
			tr.Missing = append(tr.Missing, col.Name)
			s.logger.WarnContext(ctx, "column not deployed", "table", e.Table, "column", col.Name)
		case canAdd(col):
			addable = append(addable, col)
		case e.Policy.RedefineEntity:
			rebuild = true
		default:
			tr.Missing = append(tr.Missing, col.Name)
			tr.Incompatibilities = append(tr.Incompatibilities, &Incompatibility{
				Table: e.Table, Column: col.Name, Aspect: "presence", Expected: "column", Actual: "absent",
			})
			s.logger.WarnContext(ctx, "column cannot be added", "table", e.Table, "column", col.Name)
		}
	}

	if rebuild {
		if err := s.rebuild(ctx, e, liveName, diff, tr); err != nil {
			return tr, err
		}
		tr.State = Redefined
	} else {
		if err := s.reconcile(ctx, e, liveName, addable, diff.Undeclared, tr); err != nil {
			return tr, err
		}
		if len(tr.Added)+len(tr.Dropped) > 0 {
			tr.State = ColumnsReconciled
		}
		if err := s.deployIndexes(ctx, e, liveName, tr); err != nil {
			return tr, err
		}
	}

	if tr.Upgraded {
		return tr, s.storeVersion(ctx, e)
	}
	return tr, nil
}

// canAdd 主键、唯一列和没有默认值的非空列不能通过 ADD COLUMN 增加
func canAdd(col *meta.Column) bool {
	if col.Primary != meta.NotPrimary || col.Unique {
		return false
	}
	return !col.NotNull() || col.Default == meta.DefaultAsSpecified
}

func (s *Synchronizer) exec(ctx context.Context, tr *TableReport, operation, stmt string) error {
	if _, err := s.dialect.Exec(ctx, stmt); err != nil {
		return &SyncError{Table: tr.Table, Operation: operation, SQL: stmt, Err: err}
	}
	tr.Statements = append(tr.Statements, stmt)
	s.logger.InfoContext(ctx, "schema statement executed", "table", tr.Table, "operation", operation, "sql", stmt)
	return nil
}

func (s *Synchronizer) deploy(ctx context.Context, e *meta.Entity, tr *TableReport) error {
	if err := s.exec(ctx, tr, "create table", s.dialect.CreateTableSQL(e, false)); err != nil {
		return err
	}
	for _, index := range e.Indexes {
		if err := s.exec(ctx, tr, "create index", s.dialect.CreateIndexSQL(e, index)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synchronizer) reconcile(ctx context.Context, e *meta.Entity, table string, added []*meta.Column, undeclared []dialect.ColumnInfo, tr *TableReport) error {
	c := s.dialect.Compiler()
	for _, col := range added {
		if err := s.exec(ctx, tr, "add column", c.CompileAddColumn("", table, col)); err != nil {
			return err
		}
		tr.Added = append(tr.Added, col.Name)
	}
	for _, info := range undeclared {
		if !e.Policy.DropColumns {
			tr.Undeclared = append(tr.Undeclared, info.Name)
			s.logger.WarnContext(ctx, "undeclared column", "table", e.Table, "column", info.Name)
			continue
		}
		if err := s.exec(ctx, tr, "drop column", c.CompileDropColumn("", table, info.Name)); err != nil {
			return err
		}
		tr.Dropped = append(tr.Dropped, info.Name)
	}
	return nil
}

// deployIndexes 创建库中还没有的声明索引
func (s *Synchronizer) deployIndexes(ctx context.Context, e *meta.Entity, table string, tr *TableReport) error {
	if len(e.Indexes) == 0 || !e.Policy.DeployNewColumns {
		return nil
	}
	names, err := s.dialect.TableIndexes(ctx, table)
	if err != nil {
		return &SyncError{Table: e.Table, Operation: "list indexes", Err: err}
	}
	existing := make(map[string]bool, len(names))
	for _, name := range names {
		existing[strings.ToLower(name)] = true
	}
	for _, index := range e.Indexes {
		if existing[strings.ToLower(index.Name)] {
			continue
		}
		if err := s.exec(ctx, tr, "create index", s.dialect.CreateIndexSQL(e, index)); err != nil {
			return err
		}
	}
	return nil
}

// rebuild 新建临时表、复制共有列的数据、删除旧表并改名，最后重建索引。
// 没有开启 DropColumns 时保留库中未声明的列
func (s *Synchronizer) rebuild(ctx context.Context, e *meta.Entity, table string, diff *TableDiff, tr *TableReport) error {
	c := s.dialect.Compiler()
	tmp := rebuildPrefix + e.Table
	tr.Missing = nil

	create := s.dialect.EntityTable(e, false)
	create.Table = tmp
	var copied []string
	for _, col := range e.Columns {
		if _, ok := diff.Common[col.Name]; ok {
			copied = append(copied, col.Name)
		}
	}
	for _, info := range diff.Undeclared {
		if e.Policy.DropColumns {
			tr.Dropped = append(tr.Dropped, info.Name)
			continue
		}
		create.Columns = append(create.Columns, keptColumn(c.QuoteIdentifier(info.Name), info))
		copied = append(copied, info.Name)
		tr.Undeclared = append(tr.Undeclared, info.Name)
	}
	for _, col := range diff.Missing {
		tr.Added = append(tr.Added, col.Name)
	}

	statements := []string{c.CompileCreate(create)}
	if len(copied) > 0 {
		statements = append(statements, c.CompileCopyRows("", table, tmp, copied))
	}
	statements = append(statements, c.CompileDropTable("", table, false), c.CompileRenameTable("", tmp, e.Table))

	tx, err := s.dialect.BeginTx(ctx, nil)
	if err != nil {
		return &SyncError{Table: e.Table, Operation: "rebuild", Err: err}
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return &SyncError{Table: e.Table, Operation: "rebuild", SQL: stmt, Err: multierr.Append(err, tx.Rollback())}
		}
		tr.Statements = append(tr.Statements, stmt)
		s.logger.InfoContext(ctx, "schema statement executed", "table", e.Table, "operation", "rebuild", "sql", stmt)
	}
	if err := tx.Commit(); err != nil {
		return &SyncError{Table: e.Table, Operation: "rebuild", Err: multierr.Append(err, tx.Rollback())}
	}

	for _, index := range e.Indexes {
		if err := s.exec(ctx, tr, "create index", s.dialect.CreateIndexSQL(e, index)); err != nil {
			return err
		}
	}
	return nil
}

func keptColumn(name string, info dialect.ColumnInfo) string {
	def := name
	if info.Type != "" {
		def += " " + info.Type
	}
	if info.NotNull {
		def += " NOT NULL"
	}
	if info.Default != nil {
		def += fmt.Sprintf(" DEFAULT %s", *info.Default)
	}
	return def
}

func (s *Synchronizer) upgrade(ctx context.Context, e *meta.Entity, tr *TableReport) (bool, error) {
	stored, _, err := s.store.Get(ctx, VersionKey(e.Table))
	if err != nil {
		return false, &SyncError{Table: e.Table, Operation: "read version", Err: err}
	}
	if int64(e.Version) <= stored {
		return false, nil
	}
	if hook, ok := s.hooks[strings.ToLower(e.Table)]; ok && hook != nil {
		if err := hook(ctx, s.dialect, e, int(stored), e.Version); err != nil {
			return false, &SyncError{Table: e.Table, Operation: "upgrade", Err: err}
		}
	}
	tr.Upgraded = true
	s.logger.InfoContext(ctx, "schema upgraded", "table", e.Table, "from", stored, "to", e.Version)
	return true, nil
}

func (s *Synchronizer) storeVersion(ctx context.Context, e *meta.Entity) error {
	if err := s.store.Set(ctx, VersionKey(e.Table), int64(e.Version)); err != nil {
		return &SyncError{Table: e.Table, Operation: "store version", Err: err}
	}
	return nil
}
