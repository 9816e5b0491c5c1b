package repository

import (
	"context"
	"database/sql"
	"reflect"

	"github.com/hatlonely/orm/cache"
	"github.com/hatlonely/orm/ckey"
	"github.com/hatlonely/orm/compiler"
	"github.com/hatlonely/orm/lazy"
	"github.com/hatlonely/orm/meta"
	"github.com/hatlonely/orm/query"
	"github.com/hatlonely/orm/typemap"
	"github.com/pkg/errors"
)

// execer 由 dialect.Dialect 和 *dialect.Tx 实现
type execer interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type FindOption func(*findOptions)

type findOptions struct {
	orders       []compiler.Order
	limit        *int
	offset       *int
	defaultLimit int
}

// OrderBy field 可以是字段名或列名
func OrderBy(field string, direction compiler.Direction) FindOption {
	return func(o *findOptions) {
		o.orders = append(o.orders, compiler.Order{Field: field, Direction: direction})
	}
}

func OrderByNulls(field string, direction compiler.Direction, nulls compiler.Nulls) FindOption {
	return func(o *findOptions) {
		o.orders = append(o.orders, compiler.Order{Field: field, Direction: direction, Nulls: nulls})
	}
}

func Limit(limit int) FindOption {
	return func(o *findOptions) {
		o.limit = &limit
	}
}

func Offset(offset int) FindOption {
	return func(o *findOptions) {
		o.offset = &offset
	}
}

// table 按反射读写一个实体的表，泛型仓储和关系加载共用
type table struct {
	s       *Session
	e       *meta.Entity
	columns []string
	pos     map[string]int
}

func newTable(s *Session, e *meta.Entity) *table {
	t := &table{s: s, e: e, columns: e.ColumnNames(), pos: map[string]int{}}
	for i, name := range t.columns {
		t.pos[name] = i
	}
	return t
}

// scope 开启软删除时只匹配未删除的行
func (t *table) scope(criteria query.Query) query.Query {
	var parts []query.Query
	if criteria != nil {
		parts = append(parts, criteria)
	}
	if t.e.SoftDelete != nil {
		parts = append(parts, query.IsNull(t.e.SoftDelete.Name))
	}
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	}
	return query.And(parts...)
}

func (t *table) column(name string) string {
	if col, ok := t.e.Column(name); ok {
		return col.Name
	}
	return name
}

// selectRows 读出全部行后再返回，物化时发出的关系查询不会与未读完的结果集交错
func (t *table) selectRows(ctx context.Context, criteria query.Query, opts *findOptions) ([][]any, error) {
	b := compiler.Select(t.e.Table).Columns(t.columns...)
	if c := t.scope(criteria); c != nil {
		b.Where(c)
	}
	for _, order := range opts.orders {
		b.OrderByNulls(t.column(order.Field), order.Direction, order.Nulls)
	}
	if opts.limit != nil {
		b.Limit(*opts.limit)
	}
	if opts.offset != nil {
		b.Offset(*opts.offset)
	}
	if opts.defaultLimit > 0 {
		b.DefaultLimit(opts.defaultLimit)
	}
	stmt := b.Compile(t.s.dialect.Compiler())
	t.s.debug(ctx, t.e, stmt.SQL, stmt.Args)

	rows, err := t.s.dialect.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result [][]any
	for rows.Next() {
		raw := make([]any, len(t.columns))
		dest := make([]any, len(raw))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrapf(err, "scan %s failed", t.e.Table)
		}
		result = append(result, raw)
	}
	return result, errors.Wrapf(rows.Err(), "read %s failed", t.e.Table)
}

// values 查询单列，用于关联表
func (t *table) values(ctx context.Context, column string, criteria query.Query) ([]any, error) {
	stmt := compiler.Select(t.e.Table).Columns(column).Where(criteria).Compile(t.s.dialect.Compiler())
	t.s.debug(ctx, t.e, stmt.SQL, stmt.Args)
	rows, err := t.s.dialect.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []any
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrapf(err, "scan %s failed", t.e.Table)
		}
		values = append(values, v)
	}
	return values, errors.Wrapf(rows.Err(), "read %s failed", t.e.Table)
}

func (t *table) find(ctx context.Context, criteria query.Query, opts *findOptions, budget lazy.Budget) ([]reflect.Value, error) {
	rows, err := t.selectRows(ctx, criteria, opts)
	if err != nil {
		return nil, err
	}
	items := make([]reflect.Value, 0, len(rows))
	for _, raw := range rows {
		item, err := t.materialize(ctx, raw, budget)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// byID 先查缓存，未命中时查询并写入缓存
func (t *table) byID(ctx context.Context, id any, budget lazy.Budget) (reflect.Value, bool, error) {
	key, cacheable := t.cacheKey(id)
	if cacheable {
		if raw, err := t.s.cache.Get(ctx, key); err == nil && len(raw) == len(t.columns) {
			item, err := t.materialize(ctx, raw, budget)
			return item, err == nil, err
		}
	}

	one := 1
	rows, err := t.selectRows(ctx, query.Term(t.e.Primary.Name, id), &findOptions{limit: &one})
	if err != nil || len(rows) == 0 {
		return reflect.Value{}, false, err
	}
	if cacheable {
		var opts []cache.SetOption
		if t.s.expiration > 0 {
			opts = append(opts, cache.WithExpiration(t.s.expiration))
		}
		if err := t.s.cache.Set(ctx, key, rows[0], opts...); err != nil {
			t.s.logger.WarnContext(ctx, "cache set failed", "table", t.e.Table, "key", key, "error", err)
		}
	}
	item, err := t.materialize(ctx, rows[0], budget)
	return item, err == nil, err
}

func (t *table) cacheKey(id any) (string, bool) {
	if t.s.cache == nil {
		return "", false
	}
	k, err := ckey.Of("table", t.e.Table, t.e.Primary.Name, id)
	if err != nil {
		return "", false
	}
	return k.String(), true
}

func (t *table) evict(ctx context.Context, id any) {
	key, ok := t.cacheKey(id)
	if !ok {
		return
	}
	if err := t.s.cache.Del(ctx, key); err != nil {
		t.s.logger.WarnContext(ctx, "cache del failed", "table", t.e.Table, "key", key, "error", err)
	}
}

// materialize 把一行原始值解码为 *E
func (t *table) materialize(ctx context.Context, raw []any, budget lazy.Budget) (reflect.Value, error) {
	ptr := reflect.New(t.e.Type)
	v := ptr.Elem()
	for i, col := range t.e.Columns {
		if col.SoftDelete || col.Relation != nil || len(col.Index) == 0 {
			continue
		}
		if err := typemap.Decode(raw[i], col.Class, col.Scale, v.FieldByIndex(col.Index)); err != nil {
			return reflect.Value{}, errors.WithMessagef(err, "decode %s.%s", t.e.Table, col.Name)
		}
	}
	for _, rel := range t.e.Relations {
		if err := t.relate(ctx, v, raw, rel, budget); err != nil {
			return reflect.Value{}, errors.WithMessagef(err, "load %s.%s", t.e.Table, rel.Field)
		}
	}
	return ptr, nil
}

func (t *table) relate(ctx context.Context, v reflect.Value, raw []any, rel *meta.Relation, budget lazy.Budget) error {
	field := v.FieldByIndex(rel.Index)
	target := t.s.table(rel.Entity)
	budget = budget.Min(rel.Depth)

	switch rel.Kind {
	case meta.ManyToOne, meta.OneToOne:
		key := raw[t.pos[rel.Column.Name]]
		if key == nil {
			return nil
		}
		load := func(ctx context.Context, b lazy.Budget) (any, error) {
			one := 1
			items, err := target.find(ctx, query.Term(rel.RefField, key), &findOptions{limit: &one}, b)
			if err != nil || len(items) == 0 {
				return nil, err
			}
			return items[0].Interface(), nil
		}
		return assignOne(ctx, field, rel, key, load, budget)

	case meta.OneToMany:
		owner := raw[t.pos[rel.RefField]]
		load := func(ctx context.Context, b lazy.Budget) ([]reflect.Value, error) {
			return target.find(ctx, query.Term(rel.MappedBy, owner), &findOptions{}, b)
		}
		return assignMany(ctx, field, rel, owner, load, budget)

	case meta.ManyToMany:
		owner := raw[t.pos[rel.RefField]]
		from, to := meta.LinkA, meta.LinkB
		if rel.Side == meta.SideB {
			from, to = meta.LinkB, meta.LinkA
		}
		link := t.s.table(rel.Link)
		load := func(ctx context.Context, b lazy.Budget) ([]reflect.Value, error) {
			keys, err := link.values(ctx, to, query.Term(from, owner))
			if err != nil || len(keys) == 0 {
				return nil, err
			}
			return target.find(ctx, query.In(rel.Entity.Primary.Name, keys...), &findOptions{}, b)
		}
		return assignMany(ctx, field, rel, owner, load, budget)
	}
	return errors.Errorf("unknown relation kind %v", rel.Kind)
}

// assignOne 延迟关系总是安装代理，非延迟关系在预算耗尽时保持 nil
func assignOne(ctx context.Context, field reflect.Value, rel *meta.Relation, key any, load func(context.Context, lazy.Budget) (any, error), budget lazy.Budget) error {
	next := budget.Next()
	if rel.Lazy {
		proxy := reflect.New(field.Type().Elem())
		proxy.Interface().(lazy.RefBinder).BindRef(key, func(ctx context.Context) (any, error) {
			return load(ctx, next)
		})
		field.Set(proxy)
		return nil
	}
	if budget.Exhausted() {
		return nil
	}
	value, err := load(ctx, next)
	if err != nil || value == nil {
		return err
	}
	field.Set(reflect.ValueOf(value))
	return nil
}

func assignMany(ctx context.Context, field reflect.Value, rel *meta.Relation, owner any, load func(context.Context, lazy.Budget) ([]reflect.Value, error), budget lazy.Budget) error {
	next := budget.Next()
	if rel.Lazy {
		proxy := reflect.New(field.Type().Elem())
		proxy.Interface().(lazy.CollectionBinder).BindCollection(owner, func(ctx context.Context) ([]any, error) {
			items, err := load(ctx, next)
			if err != nil {
				return nil, err
			}
			values := make([]any, len(items))
			for i, item := range items {
				values[i] = item.Interface()
			}
			return values, nil
		})
		field.Set(proxy)
		return nil
	}
	if budget.Exhausted() {
		return nil
	}
	items, err := load(ctx, next)
	if err != nil {
		return err
	}
	slice := reflect.MakeSlice(field.Type(), 0, len(items))
	for _, item := range items {
		slice = reflect.Append(slice, item)
	}
	field.Set(slice)
	return nil
}

// encode 读取实体的列值并编码为驱动参数
func (t *table) encode(v reflect.Value, columns []string) ([]any, error) {
	args := make([]any, len(columns))
	for i, name := range columns {
		col, ok := t.e.Column(name)
		if !ok {
			return nil, errors.Errorf("%s has no column %s", t.e.Table, name)
		}
		value, err := t.value(v, col)
		if err != nil {
			return nil, errors.WithMessagef(err, "encode %s.%s", t.e.Table, col.Name)
		}
		args[i] = value
	}
	return args, nil
}

func (t *table) value(v reflect.Value, col *meta.Column) (any, error) {
	if col.SoftDelete || len(col.Index) == 0 {
		return nil, nil
	}
	field := v.FieldByIndex(col.Index)
	if col.Relation != nil {
		return foreignKey(field, col.Relation)
	}
	return typemap.Encode(field.Interface(), col.Class, col.Scale)
}

// foreignKey 外键值取自目标实体的被引用字段，未加载的代理使用创建时的主键
func foreignKey(field reflect.Value, rel *meta.Relation) (any, error) {
	if field.IsNil() {
		return nil, nil
	}
	ref, ok := rel.Entity.Column(rel.RefField)
	if !ok {
		return nil, errors.Errorf("%s has no column %s", rel.Entity.Table, rel.RefField)
	}
	target := field
	if binder, ok := field.Interface().(lazy.RefBinder); ok {
		peek := binder.Peek()
		if peek == nil {
			return typemap.Encode(binder.Key(), ref.Class, ref.Scale)
		}
		target = reflect.ValueOf(peek)
	}
	return typemap.Encode(target.Elem().FieldByIndex(ref.Index).Interface(), ref.Class, ref.Scale)
}
