package ref

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

type constructor struct {
	originalFunc any
	newFunc      reflect.Value
	hasOptions   bool
	returnsError bool
}

func newConstructor(newFunc any) (*constructor, error) {
	funcValue := reflect.ValueOf(newFunc)
	if funcValue.Kind() != reflect.Func {
		return nil, fmt.Errorf("newFunc must be a function")
	}

	funcType := funcValue.Type()
	numIn := funcType.NumIn()
	numOut := funcType.NumOut()

	// 参数数量：0个或1个
	if numIn != 0 && numIn != 1 {
		return nil, fmt.Errorf("newFunc must have 0 or 1 input parameters, got %d", numIn)
	}

	// 返回值数量：1个或2个
	if numOut != 1 && numOut != 2 {
		return nil, fmt.Errorf("newFunc must have 1 or 2 return values, got %d", numOut)
	}

	returnsError := false
	if numOut == 2 {
		errorInterface := reflect.TypeOf((*error)(nil)).Elem()
		if !funcType.Out(1).Implements(errorInterface) {
			return nil, fmt.Errorf("second return value must be error type")
		}
		returnsError = true
	}

	return &constructor{
		originalFunc: newFunc,
		newFunc:      funcValue,
		hasOptions:   numIn == 1,
		returnsError: returnsError,
	}, nil
}

func (c *constructor) new(options any) (any, error) {
	var args []reflect.Value

	if c.hasOptions {
		paramType := c.newFunc.Type().In(0)
		processed, err := c.processOptions(options, paramType)
		if err != nil {
			return nil, fmt.Errorf("failed to process options: %w", err)
		}
		args = []reflect.Value{processed}
	}

	results := c.newFunc.Call(args)

	if c.returnsError {
		if errResult := results[1].Interface(); errResult != nil {
			return nil, errResult.(error)
		}
	}

	return results[0].Interface(), nil
}

// Convertable 可以转换为任意结构体的配置数据，cfg/storage.MapStorage 实现了该接口
type Convertable interface {
	ConvertTo(object any) error
}

// processOptions 将 options 转换为构造函数期望的参数类型
// nil 会被转换为参数类型的零值（指针类型则新建一个空对象）
func (c *constructor) processOptions(options any, paramType reflect.Type) (reflect.Value, error) {
	if options == nil {
		if paramType.Kind() == reflect.Ptr {
			return reflect.New(paramType.Elem()), nil
		}
		return reflect.Zero(paramType), nil
	}

	if convertable, ok := options.(Convertable); ok {
		if paramType.Kind() == reflect.Ptr {
			target := reflect.New(paramType.Elem())
			if err := convertable.ConvertTo(target.Interface()); err != nil {
				return reflect.Value{}, fmt.Errorf("failed to convert options to %v: %w", paramType, err)
			}
			return target, nil
		}
		target := reflect.New(paramType)
		if err := convertable.ConvertTo(target.Interface()); err != nil {
			return reflect.Value{}, fmt.Errorf("failed to convert options to %v: %w", paramType, err)
		}
		return target.Elem(), nil
	}

	value := reflect.ValueOf(options)
	if !value.Type().AssignableTo(paramType) {
		return reflect.Value{}, fmt.Errorf("options type %v is not assignable to %v", value.Type(), paramType)
	}
	return value, nil
}

// TypeOptions 通过 namespace + type 定位构造函数，Options 作为构造参数
type TypeOptions struct {
	Namespace string `cfg:"namespace"`
	Type      string `cfg:"type" validate:"required"`
	Options   any    `cfg:"options"`
}

// Registry 构造函数注册表
// 每个 orm.Context 持有自己的 Registry，不依赖包级别的全局状态
type Registry struct {
	constructors sync.Map
}

// NewRegistry 创建空的注册表
func NewRegistry() *Registry {
	return &Registry{}
}

func isSameFunc(func1, func2 any) bool {
	if func1 == nil || func2 == nil {
		return func1 == func2
	}
	return reflect.ValueOf(func1).Pointer() == reflect.ValueOf(func2).Pointer()
}

// Register 注册构造函数，相同函数重复注册是幂等的，不同函数注册到同一个 key 返回错误
func (r *Registry) Register(namespace string, type_ string, newFunc any) error {
	key := namespace + ":" + type_

	if existing, ok := r.constructors.Load(key); ok {
		if isSameFunc(existing.(*constructor).originalFunc, newFunc) {
			return nil
		}
		return fmt.Errorf("constructor for %s already registered with different function", key)
	}

	c, err := newConstructor(newFunc)
	if err != nil {
		return fmt.Errorf("failed to create constructor: %w", err)
	}

	r.constructors.Store(key, c)
	return nil
}

// MustRegister 注册失败时 panic
func (r *Registry) MustRegister(namespace string, type_ string, newFunc any) {
	if err := r.Register(namespace, type_, newFunc); err != nil {
		panic(err)
	}
}

// New 根据 namespace 和 type 创建对象
func (r *Registry) New(namespace string, type_ string, options any) (any, error) {
	key := namespace + ":" + type_
	value, ok := r.constructors.Load(key)
	if !ok {
		return nil, fmt.Errorf("constructor not found for %s", key)
	}
	return value.(*constructor).new(options)
}

// NewWithOptions 使用 TypeOptions 创建对象
func (r *Registry) NewWithOptions(options *TypeOptions) (any, error) {
	if options == nil {
		return nil, fmt.Errorf("type options cannot be nil")
	}
	return r.New(options.Namespace, options.Type, options.Options)
}

// Keys 返回已注册的 key，按字典序排列
func (r *Registry) Keys() []string {
	var keys []string
	r.constructors.Range(func(key, _ any) bool {
		keys = append(keys, key.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

// NewT 创建对象并断言为 T
func NewT[T any](r *Registry, options *TypeOptions) (T, error) {
	var zero T
	obj, err := r.NewWithOptions(options)
	if err != nil {
		return zero, err
	}
	result, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("created object %T is not of type %T", obj, zero)
	}
	return result, nil
}
