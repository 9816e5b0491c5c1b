package repository

import (
	"context"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/hatlonely/orm/aggregation"
	"github.com/hatlonely/orm/compiler"
	"github.com/hatlonely/orm/dialect"
	"github.com/hatlonely/orm/lazy"
	"github.com/hatlonely/orm/meta"
	"github.com/hatlonely/orm/query"
	"github.com/hatlonely/orm/typemap"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

var uuidType = reflect.TypeOf(uuid.UUID{})

// SQLRepository 实体 E 的仓储，ID 为主键字段的类型
type SQLRepository[E any, ID any] struct {
	s *Session
	e *meta.Entity
	t *table
}

var _ lazy.Repository[struct{}, int64] = (*SQLRepository[struct{}, int64])(nil)

// New 返回 E 的仓储，E 未注册时自动注册
func New[E any, ID any](s *Session) (*SQLRepository[E, ID], error) {
	e, err := s.entity(reflect.TypeOf((*E)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	return &SQLRepository[E, ID]{s: s, e: e, t: s.table(e)}, nil
}

func Must[E any, ID any](s *Session) *SQLRepository[E, ID] {
	r, err := New[E, ID](s)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *SQLRepository[E, ID]) Entity() *meta.Entity {
	return r.e
}

// Insert 多个实体复用同一条语句并在一个事务中插入，
// 自增主键和未设置的 UUID 主键会回填到实体上
func (r *SQLRepository[E, ID]) Insert(ctx context.Context, entities ...*E) error {
	if len(entities) == 0 {
		return nil
	}
	stmt := r.s.dialect.Compiler().CompileInsert("", r.e, nil, 1)
	if len(entities) == 1 {
		return r.insert(ctx, r.s.dialect, stmt, entities[0])
	}

	tx, err := r.s.dialect.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, entity := range entities {
		if err := r.insert(ctx, tx, stmt, entity); err != nil {
			return multierr.Append(err, tx.Rollback())
		}
	}
	return tx.Commit()
}

func (r *SQLRepository[E, ID]) insert(ctx context.Context, exec execer, stmt compiler.Statement, entity *E) error {
	if entity == nil {
		return errors.Errorf("insert nil %s", r.e.Table)
	}
	v := reflect.ValueOf(entity).Elem()
	pk := r.e.Primary
	if pk.Primary == meta.PrimaryUUID {
		r.generate(v.FieldByIndex(pk.Index))
	}

	args, err := r.t.encode(v, stmt.Fields)
	if err != nil {
		return err
	}
	r.s.debug(ctx, r.e, stmt.SQL, args)
	res, err := exec.Exec(ctx, stmt.SQL, args...)
	if err != nil {
		return err
	}
	if pk.Primary != meta.PrimaryAutoIncrement {
		return nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return errors.Wrapf(err, "read %s generated id failed", r.e.Table)
	}
	return typemap.Decode(id, pk.Class, pk.Scale, v.FieldByIndex(pk.Index))
}

// generate 只填充零值主键
func (r *SQLRepository[E, ID]) generate(field reflect.Value) {
	if !field.IsZero() {
		return
	}
	switch {
	case field.Type() == uuidType:
		field.Set(reflect.ValueOf(r.s.uuid.NewUUID()))
	case field.Kind() == reflect.String:
		field.SetString(r.s.uuid.Generate())
	}
}

func (r *SQLRepository[E, ID]) key(id any) (any, error) {
	pk := r.e.Primary
	key, err := typemap.Encode(id, pk.Class, pk.Scale)
	return key, errors.WithMessagef(err, "encode %s.%s", r.e.Table, pk.Name)
}

// Update 按主键更新除主键外的全部字段，返回影响的行数
func (r *SQLRepository[E, ID]) Update(ctx context.Context, entity *E) (int64, error) {
	if entity == nil {
		return 0, errors.Errorf("update nil %s", r.e.Table)
	}
	v := reflect.ValueOf(entity).Elem()
	var fields []string
	for _, col := range r.e.Columns {
		if col != r.e.Primary && !col.SoftDelete {
			fields = append(fields, col.Name)
		}
	}
	if len(fields) == 0 {
		return 0, nil
	}
	id, err := r.t.value(v, r.e.Primary)
	if err != nil {
		return 0, err
	}

	stmt := r.s.dialect.Compiler().CompileUpdate("", r.e, fields, r.t.scope(query.Term(r.e.Primary.Name, id)))
	args, err := r.t.encode(v, stmt.Fields)
	if err != nil {
		return 0, err
	}
	return r.exec(ctx, id, stmt.SQL, append(args, stmt.Args...))
}

// Delete 开启软删除时只设置删除时间
func (r *SQLRepository[E, ID]) Delete(ctx context.Context, id ID) (int64, error) {
	key, err := r.key(id)
	if err != nil {
		return 0, err
	}
	criteria := r.t.scope(query.Term(r.e.Primary.Name, key))
	c := r.s.dialect.Compiler()

	if r.e.SoftDelete == nil {
		stmt := c.CompileDelete("", r.e, criteria)
		return r.exec(ctx, key, stmt.SQL, stmt.Args)
	}
	now, err := typemap.Encode(time.Now(), r.e.SoftDelete.Class, 0)
	if err != nil {
		return 0, err
	}
	stmt := c.CompileUpdate("", r.e, []string{r.e.SoftDelete.Name}, criteria)
	return r.exec(ctx, key, stmt.SQL, append([]any{now}, stmt.Args...))
}

func (r *SQLRepository[E, ID]) exec(ctx context.Context, key any, sql string, args []any) (int64, error) {
	r.s.debug(ctx, r.e, sql, args)
	res, err := r.s.dialect.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	r.t.evict(ctx, key)
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "rows affected failed")
}

// SelectByID 找不到时返回 nil, nil
func (r *SQLRepository[E, ID]) SelectByID(ctx context.Context, id ID) (*E, error) {
	key, err := r.key(id)
	if err != nil {
		return nil, err
	}
	item, ok, err := r.t.byID(ctx, key, lazy.BudgetFrom(ctx, r.s.depth))
	if err != nil || !ok {
		return nil, err
	}
	return item.Interface().(*E), nil
}

// SelectByFK field 为外键字段名或列名，owner 为被引用实体的键
func (r *SQLRepository[E, ID]) SelectByFK(ctx context.Context, field string, owner any) ([]*E, error) {
	col, ok := r.e.Column(field)
	if !ok {
		return nil, errors.Errorf("%s has no field %s", r.e.Table, field)
	}
	key, err := typemap.Encode(owner, col.Class, col.Scale)
	if err != nil {
		return nil, errors.WithMessagef(err, "encode %s.%s", r.e.Table, col.Name)
	}
	return r.collect(r.t.find(ctx, query.Term(col.Name, key), &findOptions{}, lazy.BudgetFrom(ctx, r.s.depth)))
}

// Find criteria 为 nil 时匹配全部行，没有指定 Limit 时使用默认行数上限
func (r *SQLRepository[E, ID]) Find(ctx context.Context, criteria query.Query, opts ...FindOption) ([]*E, error) {
	options := &findOptions{defaultLimit: r.s.defaultLimit}
	for _, opt := range opts {
		opt(options)
	}
	return r.collect(r.t.find(ctx, criteria, options, lazy.BudgetFrom(ctx, r.s.depth)))
}

func (r *SQLRepository[E, ID]) collect(items []reflect.Value, err error) ([]*E, error) {
	if err != nil {
		return nil, err
	}
	entities := make([]*E, len(items))
	for i, item := range items {
		entities[i] = item.Interface().(*E)
	}
	return entities, nil
}

func (r *SQLRepository[E, ID]) Count(ctx context.Context, criteria query.Query) (int64, error) {
	b := compiler.Select(r.e.Table).Aggregate(aggregation.Count("count", ""))
	if c := r.t.scope(criteria); c != nil {
		b.Where(c)
	}
	stmt := b.Compile(r.s.dialect.Compiler())
	r.s.debug(ctx, r.e, stmt.SQL, stmt.Args)
	return queryInt(ctx, r.s.dialect, stmt)
}

func queryInt(ctx context.Context, d dialect.Dialect, stmt compiler.Statement) (int64, error) {
	rows, err := d.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, errors.Wrap(err, "scan count failed")
		}
	}
	return n, errors.Wrap(rows.Err(), "read count failed")
}
