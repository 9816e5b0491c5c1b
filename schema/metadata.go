package schema

import (
	"context"
	"fmt"

	"github.com/hatlonely/orm/compiler"
	"github.com/hatlonely/orm/dialect"
	"github.com/hatlonely/orm/meta"
	"github.com/hatlonely/orm/query"
	"github.com/pkg/errors"
)

// Metadata 元数据表中的一行
type Metadata struct {
	Key   string `orm:"key,pk"`
	Value int64  `orm:"value"`
}

func (Metadata) Describe() meta.EntityOptions {
	return meta.EntityOptions{
		Table:   dialect.MetadataTable,
		Options: &meta.Options{FieldStrategy: meta.Explicit, WithoutRowid: true},
		Policy:  &meta.Policy{DeployNewTables: true, DeployNewColumns: true},
	}
}

// RunsCounter 同步执行次数
const RunsCounter = "runs"

// VersionKey 表结构版本在元数据表中的键
func VersionKey(table string) string {
	return "version:" + table
}

// CounterKey 计数器在元数据表中的键
func CounterKey(name string) string {
	return "counter:" + name
}

// MetadataStore 读写元数据表
type MetadataStore struct {
	dialect dialect.Dialect
	entity  *meta.Entity
}

// NewMetadataStore 使用方言的类型映射解析元数据实体
func NewMetadataStore(d dialect.Dialect) (*MetadataStore, error) {
	r := meta.NewRegistry(meta.WithMapper(d.Mapper()))
	if err := r.Register(Metadata{}); err != nil {
		return nil, err
	}
	if err := r.Build(); err != nil {
		return nil, err
	}
	e, err := meta.Of[Metadata](r)
	if err != nil {
		return nil, err
	}
	return &MetadataStore{dialect: d, entity: e}, nil
}

// Entity 元数据表的实体
func (s *MetadataStore) Entity() *meta.Entity {
	return s.entity
}

// Get 键不存在时 ok 为 false
func (s *MetadataStore) Get(ctx context.Context, key string) (value int64, ok bool, err error) {
	stmt := compiler.Select(dialect.MetadataTable).
		Columns(dialect.MetadataValueColumn).
		Where(query.Term(dialect.MetadataKeyColumn, key)).
		Compile(s.dialect.Compiler())
	rows, err := s.dialect.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, false, errors.Wrap(rows.Err(), "rows failed")
	}
	if err := rows.Scan(&value); err != nil {
		return 0, false, errors.Wrapf(err, "scan metadata %s failed", key)
	}
	return value, true, nil
}

func (s *MetadataStore) Set(ctx context.Context, key string, value int64) error {
	stmt := s.dialect.UpsertSQL(s.entity, nil)
	_, err := s.dialect.Exec(ctx, stmt.SQL, key, value)
	return err
}

// Increment 增加 delta 并返回新值，键不存在时从 0 开始
func (s *MetadataStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	c := s.dialect.Compiler()
	value := c.QuoteIdentifier(dialect.MetadataValueColumn)
	where, args := query.Term(dialect.MetadataKeyColumn, key).ToSQL(c.Quoter())
	sql := fmt.Sprintf("UPDATE %s SET %s = COALESCE(%s, 0) + ? WHERE %s", c.QuoteIdentifier(dialect.MetadataTable), value, value, where)
	res, err := s.dialect.Exec(ctx, sql, append([]any{delta}, args...)...)
	if err != nil {
		return 0, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if err := s.Set(ctx, key, delta); err != nil {
			return 0, err
		}
		return delta, nil
	}
	v, _, err := s.Get(ctx, key)
	return v, err
}
