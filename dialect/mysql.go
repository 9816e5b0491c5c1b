package dialect

import (
	"context"
	"database/sql"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/hatlonely/orm/compiler"
	"github.com/hatlonely/orm/meta"
	"github.com/hatlonely/orm/typemap"
	"github.com/pkg/errors"
)

type MySQLOptions struct {
	// DSN 不为空时忽略其他连接参数
	DSN      string `cfg:"dsn"`
	Host     string `cfg:"host" def:"localhost"`
	Port     int    `cfg:"port" def:"3306"`
	Username string `cfg:"username" def:"root"`
	Password string `cfg:"password"`
	Database string `cfg:"database"`
	Charset  string `cfg:"charset" def:"utf8mb4"`

	ConnectTimeout time.Duration `cfg:"connectTimeout" def:"5s"`
	ForeignKeys    bool          `cfg:"foreignKeys"`
}

// MySQL 方言，应用 id 保存在元数据表中
type MySQL struct {
	controller
	foreignKeys bool
}

// mysqlUnlimited MySQL 只有 OFFSET 时需要的最大 LIMIT
const mysqlUnlimited = "18446744073709551615"

// erNoSuchTable 表不存在的错误码
const erNoSuchTable = 1146

func NewMySQLWithOptions(options *MySQLOptions) (*MySQL, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	dsn := options.DSN
	if dsn == "" {
		cfg := mysql.NewConfig()
		cfg.User = options.Username
		cfg.Passwd = options.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(options.Host, strconv.Itoa(options.Port))
		cfg.DBName = options.Database
		cfg.Timeout = options.ConnectTimeout
		if options.Charset != "" {
			cfg.Params = map[string]string{"charset": options.Charset}
		}
		dsn = cfg.FormatDSN()
	} else if _, err := mysql.ParseDSN(dsn); err != nil {
		return nil, errors.Wrap(err, "invalid mysql dsn")
	}
	d := newMySQL(NewDSNProvider("mysql", dsn, true))
	d.foreignKeys = options.ForeignKeys
	d.compiler.Store(d.newCompiler("`"))
	return d, nil
}

// NewMySQL 使用指定的连接来源，引用字符在第一次连接时探测
func NewMySQL(provider ConnectionProvider) *MySQL {
	return newMySQL(provider)
}

func newMySQL(provider ConnectionProvider) *MySQL {
	d := &MySQL{}
	d.provider = provider
	d.mapper = typemap.NewMapper()
	d.compiler.Store(d.newCompiler("`"))
	d.onConnect = d.detectQuote
	return d
}

func (d *MySQL) newCompiler(quote string) *compiler.Compiler {
	return compiler.New(
		compiler.WithQuote(quote),
		compiler.WithTypeName(mysqlTypeName),
		compiler.WithAutoIncrement("AUTO_INCREMENT"),
		compiler.WithForeignKeys(d.foreignKeys),
		compiler.WithLimitClause(mysqlLimitClause),
		compiler.WithNullsEmulation(true),
	)
}

// detectQuote 开启 ANSI_QUOTES 时使用双引号，否则使用反引号
func (d *MySQL) detectQuote(ctx context.Context, conn *sql.Conn) error {
	var mode string
	if err := conn.QueryRowContext(ctx, "SELECT @@SESSION.sql_mode").Scan(&mode); err != nil {
		return errors.Wrap(err, "query sql_mode failed")
	}
	quote := "`"
	if strings.Contains(strings.ToUpper(mode), "ANSI_QUOTES") {
		quote = `"`
	}
	d.compiler.Store(d.newCompiler(quote))
	return nil
}

// mysqlTypeName 可能参与键约束或带默认值的文本列使用 VARCHAR(255)
func mysqlTypeName(c *meta.Column) string {
	switch c.Class {
	case typemap.INTEGER:
		return "BIGINT"
	case typemap.REAL:
		return "DOUBLE"
	case typemap.BLOB:
		return "LONGBLOB"
	case typemap.TEXT:
		if c.Primary != meta.NotPrimary || c.Unique || c.Relation != nil || c.Indexed || c.Default == meta.DefaultAsSpecified {
			return "VARCHAR(255)"
		}
		return "TEXT"
	}
	return string(c.Class)
}

func mysqlLimitClause(limit, offset *int) string {
	if limit == nil && offset != nil {
		return "LIMIT " + mysqlUnlimited + " OFFSET " + strconv.Itoa(*offset)
	}
	return compiler.StandardLimitClause(limit, offset)
}

func (d *MySQL) Name() string {
	return "mysql"
}

func (d *MySQL) ListDatabaseTableNames(ctx context.Context) ([]string, error) {
	rows, err := d.Query(ctx, "SELECT TABLE_NAME FROM information_schema.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME")
	if err != nil {
		return nil, err
	}
	return queryStrings(rows)
}

func (d *MySQL) TableColumns(ctx context.Context, table string) ([]ColumnInfo, error) {
	rows, err := d.Query(ctx, "SELECT ORDINAL_POSITION, COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COLUMN_DEFAULT, COLUMN_KEY FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []ColumnInfo
	for rows.Next() {
		var (
			info     ColumnInfo
			nullable string
			dflt     sql.NullString
			key      string
		)
		if err := rows.Scan(&info.CID, &info.Name, &info.Type, &nullable, &dflt, &key); err != nil {
			return nil, errors.Wrapf(err, "scan columns of %s failed", table)
		}
		info.CID--
		info.NotNull = nullable == "NO"
		info.PrimaryKey = key == "PRI"
		if dflt.Valid {
			info.Default = &dflt.String
		}
		columns = append(columns, info)
	}
	return columns, errors.Wrap(rows.Err(), "rows failed")
}

func (d *MySQL) TableIndexes(ctx context.Context, table string) ([]string, error) {
	rows, err := d.Query(ctx, "SELECT DISTINCT INDEX_NAME FROM information_schema.STATISTICS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? ORDER BY INDEX_NAME", table)
	if err != nil {
		return nil, err
	}
	return queryStrings(rows)
}

// ApplicationID 元数据表不存在时返回 0
func (d *MySQL) ApplicationID(ctx context.Context) (int64, error) {
	c := d.Compiler()
	rows, err := d.Query(ctx, "SELECT "+c.QuoteIdentifier(MetadataValueColumn)+" FROM "+c.QuoteIdentifier(MetadataTable)+" WHERE "+c.QuoteIdentifier(MetadataKeyColumn)+" = ?", ApplicationIDKey)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == erNoSuchTable {
			return 0, nil
		}
		return 0, err
	}
	defer rows.Close()
	var id int64
	if rows.Next() {
		if err := rows.Scan(&id); err != nil {
			return 0, errors.Wrap(err, "scan application id failed")
		}
	}
	return id, errors.Wrap(rows.Err(), "rows failed")
}

// SetApplicationID 要求元数据表已经部署
func (d *MySQL) SetApplicationID(ctx context.Context, id int64) error {
	c := d.Compiler()
	key, value := c.QuoteIdentifier(MetadataKeyColumn), c.QuoteIdentifier(MetadataValueColumn)
	_, err := d.Exec(ctx, "INSERT INTO "+c.QuoteIdentifier(MetadataTable)+" ("+key+", "+value+") VALUES (?, ?) ON DUPLICATE KEY UPDATE "+value+" = VALUES("+value+")", ApplicationIDKey, id)
	return err
}

// EntityTable STRICT 和 WITHOUT ROWID 只有 SQLite 支持
func (d *MySQL) EntityTable(e *meta.Entity, ifNotExists bool) *compiler.CreateTable {
	t := d.Compiler().EntityTable("", e, ifNotExists)
	t.Strict, t.WithoutRowid = false, false
	return t
}

func (d *MySQL) CreateTableSQL(e *meta.Entity, ifNotExists bool) string {
	return d.Compiler().CompileCreate(d.EntityTable(e, ifNotExists))
}

// CreateIndexSQL MySQL 不支持 IF NOT EXISTS 和部分索引
func (d *MySQL) CreateIndexSQL(e *meta.Entity, index meta.Index) string {
	return d.Compiler().CompileCreateIndex(index.Unique, false, index.Name, "", e, index.Fields, "")
}

func (d *MySQL) UpsertSQL(e *meta.Entity, fields []string) compiler.Statement {
	c := d.Compiler()
	stmt := c.CompileInsert("", e, fields, 1)
	var updates []string
	for _, field := range stmt.Fields {
		if e.Primary != nil && field == e.Primary.Name {
			continue
		}
		q := c.QuoteIdentifier(field)
		updates = append(updates, q+" = VALUES("+q+")")
	}
	if len(updates) == 0 {
		q := c.QuoteIdentifier(e.Primary.Name)
		updates = append(updates, q+" = "+q)
	}
	stmt.SQL += " ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", ")
	return stmt
}
