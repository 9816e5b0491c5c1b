// Package dialect 数据库方言
//
// 方言由类型映射、语句编译器、连接控制器和结构查询组成。每个方言实例只维护一个活动连接，
// 第一次使用时创建，连接不存在或已关闭时才重新创建；同一连接上的并发语句需要调用方自行串行化。
package dialect

import (
	"context"
	"database/sql"

	"github.com/hatlonely/orm/compiler"
	"github.com/hatlonely/orm/meta"
	"github.com/hatlonely/orm/ref"
	"github.com/hatlonely/orm/typemap"
	"github.com/pkg/errors"
)

// Namespace 方言构造函数在 ref.Registry 中的命名空间
const Namespace = "github.com/hatlonely/orm/dialect"

// 元数据表，存放结构版本、计数器以及 MySQL 上的应用 id
const (
	MetadataTable       = "orm_metadata"
	MetadataKeyColumn   = "key"
	MetadataValueColumn = "value"
	ApplicationIDKey    = "application_id"
)

// ErrApplicationID 应用 id 超出数据库支持的范围
var ErrApplicationID = errors.New("invalid application id")

// ColumnInfo 库中一列的结构
type ColumnInfo struct {
	CID  int
	Name string
	// 声明的类型，例如 INTEGER、varchar(255)
	Type    string
	NotNull bool
	// 没有默认值时为 nil
	Default    *string
	PrimaryKey bool
}

// ConnectionProvider 连接来源
type ConnectionProvider interface {
	CreateConnection(ctx context.Context) (*sql.Conn, error)
	TestConnection(ctx context.Context) error
	// IsDeployed 数据库在打开之前是否已经存在
	IsDeployed() bool
}

// Dialect 数据库方言
type Dialect interface {
	Name() string
	Mapper() *typemap.Mapper
	Compiler() *compiler.Compiler
	Provider() ConnectionProvider
	SetObserver(observer *Observer)

	GetConnection(ctx context.Context) (*sql.Conn, error)
	CreateConnection(ctx context.Context) (*sql.Conn, error)
	// CheckClose closeConnection 为 true 时关闭当前连接，下次使用时重新创建
	CheckClose(closeConnection bool) error
	Close() error

	ListDatabaseTableNames(ctx context.Context) ([]string, error)
	TableColumns(ctx context.Context, table string) ([]ColumnInfo, error)
	TableIndexes(ctx context.Context, table string) ([]string, error)
	ApplicationID(ctx context.Context) (int64, error)
	SetApplicationID(ctx context.Context, id int64) error

	// EntityTable 实体的建表描述，已去掉方言不支持的表选项
	EntityTable(e *meta.Entity, ifNotExists bool) *compiler.CreateTable
	CreateTableSQL(e *meta.Entity, ifNotExists bool) string
	CreateIndexSQL(e *meta.Entity, index meta.Index) string
	// UpsertSQL 按主键插入或覆盖
	UpsertSQL(e *meta.Entity, fields []string) compiler.Statement

	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error)
}

// Register 注册内置方言的构造函数
func Register(r *ref.Registry) {
	r.MustRegister(Namespace, "sqlite", NewSQLiteWithOptions)
	r.MustRegister(Namespace, "sqlite3", NewSQLiteWithOptions)
	r.MustRegister(Namespace, "mysql", NewMySQLWithOptions)
}

// NewDialectWithOptions 通过注册表创建方言，Namespace 为空时使用内置命名空间
func NewDialectWithOptions(r *ref.Registry, options *ref.TypeOptions) (Dialect, error) {
	if options == nil {
		return nil, errors.New("dialect options is nil")
	}
	opts := *options
	if opts.Namespace == "" {
		opts.Namespace = Namespace
	}
	d, err := ref.NewT[Dialect](r, &opts)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create dialect %s", opts.Type)
	}
	return d, nil
}
