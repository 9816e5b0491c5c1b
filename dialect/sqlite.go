package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/hatlonely/orm/compiler"
	"github.com/hatlonely/orm/meta"
	"github.com/hatlonely/orm/typemap"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLiteOptions struct {
	// DSN go-sqlite3 的数据源，例如 file:app.db?_busy_timeout=5000
	DSN string `cfg:"dsn" def:":memory:"`

	// ForeignKeys 建表时生成外键约束
	ForeignKeys bool `cfg:"foreignKeys"`
}

// SQLite 方言，应用 id 保存在数据库文件头的 application_id 中
type SQLite struct {
	controller
}

func NewSQLiteWithOptions(options *SQLiteOptions) (*SQLite, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	dsn := options.DSN
	if dsn == "" {
		dsn = ":memory:"
	}
	return newSQLite(NewDSNProvider("sqlite3", dsn, sqliteDeployed(dsn)), options.ForeignKeys), nil
}

// NewSQLite 使用指定的连接来源
func NewSQLite(provider ConnectionProvider) *SQLite {
	return newSQLite(provider, false)
}

func newSQLite(provider ConnectionProvider, foreignKeys bool) *SQLite {
	d := &SQLite{}
	d.provider = provider
	d.mapper = typemap.NewMapper()
	d.compiler.Store(compiler.New(
		compiler.WithQuote(`"`),
		compiler.WithAutoIncrement("AUTOINCREMENT"),
		compiler.WithForeignKeys(foreignKeys),
		compiler.WithLimitClause(sqliteLimitClause),
	))
	return d
}

// sqliteLimitClause SQLite 的 OFFSET 必须跟在 LIMIT 之后，只有 offset 时使用 LIMIT -1
func sqliteLimitClause(limit, offset *int) string {
	if limit == nil && offset != nil {
		unlimited := -1
		return compiler.StandardLimitClause(&unlimited, offset)
	}
	return compiler.StandardLimitClause(limit, offset)
}

// sqliteDeployed 内存库总是新建的，文件库在打开前存在且非空时视为已部署
func sqliteDeployed(dsn string) bool {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		if strings.Contains(path[i+1:], "mode=memory") {
			return false
		}
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

func (d *SQLite) Name() string {
	return "sqlite"
}

func (d *SQLite) ListDatabaseTableNames(ctx context.Context) ([]string, error) {
	rows, err := d.Query(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
	if err != nil {
		return nil, err
	}
	return queryStrings(rows)
}

func (d *SQLite) TableColumns(ctx context.Context, table string) ([]ColumnInfo, error) {
	rows, err := d.Query(ctx, "PRAGMA table_info("+d.Compiler().QuoteIdentifier(table)+")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []ColumnInfo
	for rows.Next() {
		var (
			info    ColumnInfo
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&info.CID, &info.Name, &info.Type, &notNull, &dflt, &pk); err != nil {
			return nil, errors.Wrapf(err, "scan table_info(%s) failed", table)
		}
		info.NotNull = notNull != 0
		info.PrimaryKey = pk > 0
		if dflt.Valid {
			info.Default = &dflt.String
		}
		columns = append(columns, info)
	}
	return columns, errors.Wrap(rows.Err(), "rows failed")
}

func (d *SQLite) TableIndexes(ctx context.Context, table string) ([]string, error) {
	rows, err := d.Query(ctx, "SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ? ORDER BY name", table)
	if err != nil {
		return nil, err
	}
	return queryStrings(rows)
}

func (d *SQLite) ApplicationID(ctx context.Context) (int64, error) {
	rows, err := d.Query(ctx, "PRAGMA application_id")
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var id int64
	if rows.Next() {
		if err := rows.Scan(&id); err != nil {
			return 0, errors.Wrap(err, "scan application_id failed")
		}
	}
	return id, errors.Wrap(rows.Err(), "rows failed")
}

// SetApplicationID application_id 是 32 位有符号整数
func (d *SQLite) SetApplicationID(ctx context.Context, id int64) error {
	if id < math.MinInt32 || id > math.MaxInt32 {
		return errors.Wrapf(ErrApplicationID, "%d out of int32 range", id)
	}
	_, err := d.Exec(ctx, fmt.Sprintf("PRAGMA application_id = %d", id))
	return err
}

func (d *SQLite) EntityTable(e *meta.Entity, ifNotExists bool) *compiler.CreateTable {
	return d.Compiler().EntityTable("", e, ifNotExists)
}

func (d *SQLite) CreateTableSQL(e *meta.Entity, ifNotExists bool) string {
	return d.Compiler().CompileCreate(d.EntityTable(e, ifNotExists))
}

func (d *SQLite) CreateIndexSQL(e *meta.Entity, index meta.Index) string {
	return d.Compiler().CompileCreateIndex(index.Unique, true, index.Name, "", e, index.Fields, index.Criteria)
}

func (d *SQLite) UpsertSQL(e *meta.Entity, fields []string) compiler.Statement {
	stmt := d.Compiler().CompileInsert("", e, fields, 1)
	stmt.SQL = "INSERT OR REPLACE" + strings.TrimPrefix(stmt.SQL, "INSERT")
	return stmt
}
