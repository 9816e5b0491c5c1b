package lazy

import (
	"context"
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// Collection OneToMany 和 ManyToMany 集合字段的代理。
// 空集合是合法结果，加载失败不会用空集合代替
type Collection[T any] struct {
	mu     sync.Mutex
	loaded bool
	items  []*T
	owner  any
	loader func(ctx context.Context) ([]*T, error)
}

func LoadedCollection[T any](items []*T) *Collection[T] {
	return &Collection[T]{loaded: true, items: items}
}

// UnloadedCollection owner 为所属实体的主键，用于错误信息
func UnloadedCollection[T any](owner any, loader func(ctx context.Context) ([]*T, error)) *Collection[T] {
	return &Collection[T]{owner: owner, loader: loader}
}

// ByFK 目标实体上 field 列等于 owner 的所有实体
func ByFK[T any, ID any](repo Repository[T, ID], field string, owner any) *Collection[T] {
	return UnloadedCollection(owner, func(ctx context.Context) ([]*T, error) {
		return repo.SelectByFK(ctx, field, owner)
	})
}

// ByA 集合字段位于关联的 A 侧，返回关联的 B
func ByA[A any, B any](repo ManyToManyRepository[A, B], a any) *Collection[B] {
	return UnloadedCollection(a, func(ctx context.Context) ([]*B, error) {
		return repo.ListByA(ctx, a)
	})
}

// ByB 集合字段位于关联的 B 侧，返回关联的 A
func ByB[A any, B any](repo ManyToManyRepository[A, B], b any) *Collection[A] {
	return UnloadedCollection(b, func(ctx context.Context) ([]*A, error) {
		return repo.ListByB(ctx, b)
	})
}

func (c *Collection[T]) Get(ctx context.Context) ([]*T, error) {
	if c == nil {
		return nil, errors.Wrap(ErrCouldNotLoad, "nil collection")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		return c.items, nil
	}
	if c.loader == nil {
		return nil, errors.Wrapf(ErrCouldNotLoad, "collection of %s owned by %v has no loader", entityName[T](), c.owner)
	}
	items, err := c.loader(ctx)
	if err != nil {
		return nil, &LoadError{Entity: entityName[T](), Key: c.owner, Err: err}
	}
	c.loaded, c.items, c.loader = true, items, nil
	return items, nil
}

func (c *Collection[T]) IsLoaded() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

func (c *Collection[T]) BindCollection(owner any, loader func(ctx context.Context) ([]any, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded, c.items, c.owner = false, nil, owner
	c.loader = func(ctx context.Context) ([]*T, error) {
		values, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		items := make([]*T, 0, len(values))
		for _, v := range values {
			item, ok := v.(*T)
			if !ok {
				return nil, errors.Errorf("loader returned %T, expected *%s", v, entityName[T]())
			}
			items = append(items, item)
		}
		return items, nil
	}
}

func (*Collection[T]) LazyTarget() reflect.Type {
	return targetOf[T]()
}

func (*Collection[T]) LazyMany() bool {
	return true
}
