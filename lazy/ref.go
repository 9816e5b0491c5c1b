package lazy

import (
	"context"
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// Ref 单个关联实体的代理，只有 Loaded 和 Unloaded 两种状态。
// 第一次 Get 在锁内调用加载函数，并发访问时最多只查询一次
type Ref[T any] struct {
	mu     sync.Mutex
	loaded bool
	value  *T
	// 实体不存在时缓存的错误
	err    error
	key    any
	loader func(ctx context.Context) (*T, error)
}

// Loaded 已经加载的代理
func Loaded[T any](value *T) *Ref[T] {
	return &Ref[T]{loaded: value != nil, value: value, err: missing[T](nil, value == nil)}
}

// Unloaded key 用于错误信息，loader 找不到实体时返回 nil, nil
func Unloaded[T any](key any, loader func(ctx context.Context) (*T, error)) *Ref[T] {
	return &Ref[T]{key: key, loader: loader}
}

// NewRef 通过 SelectByID 加载
func NewRef[T any, ID any](repo Repository[T, ID], id ID) *Ref[T] {
	return Unloaded(id, func(ctx context.Context) (*T, error) {
		return repo.SelectByID(ctx, id)
	})
}

func missing[T any](key any, absent bool) error {
	if !absent {
		return nil
	}
	return errors.Wrapf(ErrCouldNotLoad, "%s(%v)", entityName[T](), key)
}

// Get 返回引用的实体。实体不存在时此后每次都返回 ErrCouldNotLoad，
// 加载函数的其他错误包装为 *LoadError 返回，不改变代理状态
func (r *Ref[T]) Get(ctx context.Context) (*T, error) {
	if r == nil {
		return nil, errors.Wrap(ErrCouldNotLoad, "nil reference")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return r.value, nil
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.loader == nil {
		r.err = missing[T](r.key, true)
		return nil, r.err
	}

	value, err := r.loader(ctx)
	if err != nil {
		return nil, &LoadError{Entity: entityName[T](), Key: r.key, Err: err}
	}
	if value == nil {
		r.err = missing[T](r.key, true)
		r.loader = nil
		return nil, r.err
	}
	r.loaded, r.value, r.loader = true, value, nil
	return value, nil
}

// IsLoaded 是否已经加载成功
func (r *Ref[T]) IsLoaded() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// Key 创建代理时的主键
func (r *Ref[T]) Key() any {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.key
}

func (r *Ref[T]) BindRef(key any, loader func(ctx context.Context) (any, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded, r.value, r.err, r.key = false, nil, nil, key
	r.loader = func(ctx context.Context) (*T, error) {
		v, err := loader(ctx)
		if err != nil || v == nil {
			return nil, err
		}
		value, ok := v.(*T)
		if !ok {
			return nil, errors.Errorf("loader returned %T, expected *%s", v, entityName[T]())
		}
		return value, nil
	}
}

func (r *Ref[T]) Peek() any {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		return nil
	}
	return r.value
}

func (*Ref[T]) LazyTarget() reflect.Type {
	return targetOf[T]()
}

func (*Ref[T]) LazyMany() bool {
	return false
}
