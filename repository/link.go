package repository

import (
	"context"
	"reflect"

	"github.com/hatlonely/orm/ckey"
	"github.com/hatlonely/orm/lazy"
	"github.com/hatlonely/orm/meta"
	"github.com/hatlonely/orm/query"
	"github.com/hatlonely/orm/typemap"
	"github.com/pkg/errors"
)

// LinkRepository 多对多关联表的仓储，A 和 B 为关联的两侧实体
type LinkRepository[A any, B any] struct {
	s    *Session
	link *table
	a    *table
	b    *table
}

var _ lazy.ManyToManyRepository[struct{}, struct{}] = (*LinkRepository[struct{}, struct{}])(nil)

// NewLink table 为空时 A 和 B 之间必须只有一张关联表
func NewLink[A any, B any](s *Session, table string) (*LinkRepository[A, B], error) {
	a, err := s.entity(reflect.TypeOf((*A)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	b, err := s.entity(reflect.TypeOf((*B)(nil)).Elem())
	if err != nil {
		return nil, err
	}

	var links []*meta.Entity
	for _, e := range s.registry.Entities() {
		if e.LinkA == a && e.LinkB == b && (table == "" || e.Table == table) {
			links = append(links, e)
		}
	}
	if len(links) != 1 {
		return nil, errors.Wrapf(meta.ErrConfiguration, "%d link tables between %s and %s", len(links), a.Table, b.Table)
	}
	return &LinkRepository[A, B]{s: s, link: s.table(links[0]), a: s.table(a), b: s.table(b)}, nil
}

func (r *LinkRepository[A, B]) Entity() *meta.Entity {
	return r.link.e
}

// keyOf v 可以是实体指针或主键值
func keyOf(t *table, v any) (any, error) {
	pk := t.e.Primary
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && rv.Type().Elem() == t.e.Type {
		if rv.IsNil() {
			return nil, errors.Errorf("nil %s", t.e.Table)
		}
		return t.value(rv.Elem(), pk)
	}
	key, err := typemap.Encode(v, pk.Class, pk.Scale)
	return key, errors.WithMessagef(err, "encode %s.%s", t.e.Table, pk.Name)
}

func (r *LinkRepository[A, B]) keys(a, b any) (any, any, string, error) {
	ka, err := keyOf(r.a, a)
	if err != nil {
		return nil, nil, "", err
	}
	kb, err := keyOf(r.b, b)
	if err != nil {
		return nil, nil, "", err
	}
	if ka == nil || kb == nil {
		return nil, nil, "", errors.Errorf("link %s requires both keys", r.link.e.Table)
	}
	id, err := ckey.Of(meta.LinkA, ka, meta.LinkB, kb)
	if err != nil {
		return nil, nil, "", err
	}
	return ka, kb, id.String(), nil
}

// Link 关联 a 和 b，已经关联时不重复插入
func (r *LinkRepository[A, B]) Link(ctx context.Context, a, b any) error {
	ka, kb, id, err := r.keys(a, b)
	if err != nil {
		return err
	}
	stmt := r.s.dialect.UpsertSQL(r.link.e, nil)
	values := map[string]any{meta.LinkID: id, meta.LinkA: ka, meta.LinkB: kb}
	args := make([]any, len(stmt.Fields))
	for i, field := range stmt.Fields {
		args[i] = values[field]
	}
	r.s.debug(ctx, r.link.e, stmt.SQL, args)
	_, err = r.s.dialect.Exec(ctx, stmt.SQL, args...)
	return err
}

// Unlink 返回删除的行数
func (r *LinkRepository[A, B]) Unlink(ctx context.Context, a, b any) (int64, error) {
	_, _, id, err := r.keys(a, b)
	if err != nil {
		return 0, err
	}
	stmt := r.s.dialect.Compiler().CompileDelete("", r.link.e, query.Term(meta.LinkID, id))
	r.s.debug(ctx, r.link.e, stmt.SQL, stmt.Args)
	res, err := r.s.dialect.Exec(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "rows affected failed")
}

func (r *LinkRepository[A, B]) ListByA(ctx context.Context, a any) ([]*B, error) {
	return list[B](ctx, r.link, r.a, r.b, meta.LinkA, meta.LinkB, a, r.s.depth)
}

func (r *LinkRepository[A, B]) ListByB(ctx context.Context, b any) ([]*A, error) {
	return list[A](ctx, r.link, r.b, r.a, meta.LinkB, meta.LinkA, b, r.s.depth)
}

// list 从关联表读出 owner 对侧的主键，再查询对侧实体
func list[T any](ctx context.Context, link, from, to *table, fromColumn, toColumn string, owner any, depth int) ([]*T, error) {
	key, err := keyOf(from, owner)
	if err != nil {
		return nil, err
	}
	keys, err := link.values(ctx, toColumn, query.Term(fromColumn, key))
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []*T{}, nil
	}
	items, err := to.find(ctx, query.In(to.e.Primary.Name, keys...), &findOptions{}, lazy.BudgetFrom(ctx, depth))
	if err != nil {
		return nil, err
	}
	entities := make([]*T, len(items))
	for i, item := range items {
		entities[i] = item.Interface().(*T)
	}
	return entities, nil
}
