package lazy

import (
	"context"
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

// ErrCouldNotLoad 引用的实体不存在，或者代理没有绑定加载函数
var ErrCouldNotLoad = errors.New("could not lazily load")

// LoadError 加载函数返回的错误，不会被缓存，下次访问会重试
type LoadError struct {
	Entity string
	Key    any
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("lazy load %s(%v) failed: %v", e.Entity, e.Key, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Repository 单实体代理和外键集合代理依赖的查询接口，
// SelectByID 找不到时返回 nil, nil
type Repository[E any, ID any] interface {
	SelectByID(ctx context.Context, id ID) (*E, error)
	SelectByFK(ctx context.Context, field string, owner any) ([]*E, error)
}

// ManyToManyRepository 多对多集合代理依赖的查询接口，
// ListByA 返回与 a 关联的所有 B，ListByB 返回与 b 关联的所有 A
type ManyToManyRepository[A any, B any] interface {
	ListByA(ctx context.Context, a any) ([]*B, error)
	ListByB(ctx context.Context, b any) ([]*A, error)
}

func entityName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().Name()
}

func targetOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// RefBinder 由 *Ref[T] 实现，仓库通过反射创建代理后绑定加载函数，
// loader 返回的实体必须是 *T，找不到时返回 nil, nil
type RefBinder interface {
	BindRef(key any, loader func(ctx context.Context) (any, error))
	// Peek 已加载的实体，未加载时返回 nil，不触发加载
	Peek() any
	Key() any
}

// CollectionBinder 由 *Collection[T] 实现，loader 返回的元素必须是 *T
type CollectionBinder interface {
	BindCollection(owner any, loader func(ctx context.Context) ([]any, error))
}
