package meta

import (
	"reflect"
	"strings"
	"sync"

	"github.com/hatlonely/orm/typemap"
	"github.com/pkg/errors"
)

// LazyField 由延迟加载代理实现，用于识别关系字段的目标类型
type LazyField interface {
	LazyTarget() reflect.Type
	LazyMany() bool
}

var lazyFieldType = reflect.TypeOf((*LazyField)(nil)).Elem()

type Option func(*Registry)

func WithMapper(mapper *typemap.Mapper) Option {
	return func(r *Registry) {
		r.mapper = mapper
	}
}

// WithDefaultPolicy 实体未声明 Policy 时使用的同步策略
func WithDefaultPolicy(policy Policy) Option {
	return func(r *Registry) {
		r.policy = policy
	}
}

// WithDefaultOptions 实体未声明 Options 时使用的表级选项
func WithDefaultOptions(options Options) Option {
	return func(r *Registry) {
		r.options = options
	}
}

// Registry 实体注册表，Register 之后调用 Build 一次性解析所有实体
type Registry struct {
	mu       sync.RWMutex
	mapper   *typemap.Mapper
	policy   Policy
	options  Options
	pending  []reflect.Type
	entities map[reflect.Type]*Entity
	tables   map[string]*Entity
	order    []*Entity
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		policy:   DefaultPolicy(),
		options:  Options{FieldStrategy: Implicit},
		entities: map[reflect.Type]*Entity{},
		tables:   map[string]*Entity{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.mapper == nil {
		r.mapper = typemap.NewMapper()
	}
	return r
}

func (r *Registry) Mapper() *typemap.Mapper {
	return r.mapper
}

// Register 注册实体类型，参数可以是结构体值、结构体指针或 reflect.Type
func (r *Registry) Register(values ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, v := range values {
		t, err := structType(v)
		if err != nil {
			return err
		}
		if _, ok := r.entities[t]; ok {
			continue
		}
		r.pending = append(r.pending, t)
	}
	return nil
}

// Build 解析所有待处理的实体以及它们通过关系引用的实体
// 已经解析过的实体不会重复解析，任何错误都会使本次解析整体失败
func (r *Registry) Build() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	queue := r.pending
	r.pending = nil

	built := map[reflect.Type]*Entity{}
	var order []*Entity
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		if _, ok := r.entities[t]; ok {
			continue
		}
		if _, ok := built[t]; ok {
			continue
		}

		e, err := r.buildEntity(t)
		if err != nil {
			return err
		}
		built[t] = e
		order = append(order, e)
		for _, rel := range e.Relations {
			queue = append(queue, rel.Target)
		}
	}

	lookup := func(t reflect.Type) *Entity {
		if e, ok := built[t]; ok {
			return e
		}
		return r.entities[t]
	}

	links := map[string]*Entity{}
	var linkOrder []*Entity
	for _, e := range order {
		for _, rel := range e.Relations {
			link, err := r.resolveRelation(e, rel, lookup, links)
			if err != nil {
				return err
			}
			if link != nil && r.tables[strings.ToLower(link.Table)] != link {
				if _, ok := links[link.Table]; !ok {
					links[link.Table] = link
					linkOrder = append(linkOrder, link)
				}
			}
		}
	}

	tables := map[string]*Entity{}
	for _, e := range append(order, linkOrder...) {
		key := strings.ToLower(e.Table)
		if other, ok := r.tables[key]; ok && other != e {
			return errors.Wrapf(ErrConfiguration, "table %s declared more than once", e.Table)
		}
		if other, ok := tables[key]; ok && other != e {
			return errors.Wrapf(ErrConfiguration, "table %s declared more than once", e.Table)
		}
		tables[key] = e
	}

	for t, e := range built {
		r.entities[t] = e
	}
	for key, e := range tables {
		r.tables[key] = e
	}
	r.order = append(r.order, order...)
	r.order = append(r.order, linkOrder...)
	return nil
}

// MustBuild 注册并解析，失败时 panic
func (r *Registry) MustBuild(values ...any) {
	if err := r.Register(values...); err != nil {
		panic(err)
	}
	if err := r.Build(); err != nil {
		panic(err)
	}
}

// Entity 返回已解析的实体，参数与 Register 相同
func (r *Registry) Entity(v any) (*Entity, error) {
	t, err := structType(v)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[t]
	if !ok {
		return nil, errors.Wrapf(ErrNotRegistered, "%v", t)
	}
	return e, nil
}

// Table 按表名查找实体，忽略大小写
func (r *Registry) Table(name string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tables[strings.ToLower(name)]
	return e, ok
}

// Entities 按解析顺序返回所有实体，关联实体排在引用它的实体之后
func (r *Registry) Entities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entities := make([]*Entity, len(r.order))
	copy(entities, r.order)
	return entities
}

// Of 返回类型 T 的实体元数据
func Of[T any](r *Registry) (*Entity, error) {
	return r.Entity(reflect.TypeOf((*T)(nil)).Elem())
}

func structType(v any) (reflect.Type, error) {
	t, ok := v.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(v)
	}
	if t == nil {
		return nil, errors.Wrap(ErrConfiguration, "nil entity")
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, errors.Wrapf(ErrConfiguration, "entity must be a struct, got %v", t)
	}
	return t, nil
}
