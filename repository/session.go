// Package repository 基于方言的 SQL 仓储
//
// Session 持有方言、实体注册表和可选的行缓存，SQLRepository 和 LinkRepository
// 通过它共享同一个连接。实体物化时，延迟关系安装代理，非延迟关系在深度预算内立即加载。
package repository

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/hatlonely/orm/cache"
	"github.com/hatlonely/orm/dialect"
	"github.com/hatlonely/orm/log"
	"github.com/hatlonely/orm/log/logger"
	"github.com/hatlonely/orm/meta"
	"github.com/hatlonely/orm/uid"
	"github.com/pkg/errors"
)

type Option func(*Session)

func WithLogger(l logger.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithCache 按主键缓存查询到的原始行，expiration 为 0 时使用缓存自身的默认过期时间
func WithCache(store cache.Store[[]any], expiration time.Duration) Option {
	return func(s *Session) {
		s.cache = store
		s.expiration = expiration
	}
}

// WithDefaultLimit Find 没有指定 Limit 时使用的行数上限，0 表示不限制
func WithDefaultLimit(limit int) Option {
	return func(s *Session) {
		s.defaultLimit = limit
	}
}

// WithDepth 根查询的关系解析深度
func WithDepth(depth int) Option {
	return func(s *Session) {
		s.depth = depth
	}
}

func WithUUIDGenerator(g *uid.UUIDGenerator) Option {
	return func(s *Session) {
		s.uuid = g
	}
}

type Session struct {
	dialect      dialect.Dialect
	registry     *meta.Registry
	logger       logger.Logger
	cache        cache.Store[[]any]
	expiration   time.Duration
	defaultLimit int
	depth        int
	uuid         *uid.UUIDGenerator

	mu     sync.Mutex
	tables map[*meta.Entity]*table
}

// NewSession registry 为 nil 时使用方言的类型映射创建新的注册表
func NewSession(d dialect.Dialect, registry *meta.Registry, opts ...Option) *Session {
	if registry == nil {
		registry = meta.NewRegistry(meta.WithMapper(d.Mapper()))
	}
	s := &Session{
		dialect:  d,
		registry: registry,
		depth:    meta.DefaultDepth,
		tables:   map[*meta.Entity]*table{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.Default().WithGroup("repository")
	}
	if s.uuid == nil {
		s.uuid = uid.NewUUIDGenerator()
	}
	return s
}

func (s *Session) Dialect() dialect.Dialect {
	return s.dialect
}

func (s *Session) Registry() *meta.Registry {
	return s.registry
}

// entity 返回类型 t 的实体，未注册时注册并解析
func (s *Session) entity(t reflect.Type) (*meta.Entity, error) {
	e, err := s.registry.Entity(t)
	if !errors.Is(err, meta.ErrNotRegistered) {
		return e, err
	}
	if err := s.registry.Register(t); err != nil {
		return nil, err
	}
	if err := s.registry.Build(); err != nil {
		return nil, err
	}
	return s.registry.Entity(t)
}

func (s *Session) table(e *meta.Entity) *table {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[e]
	if !ok {
		t = newTable(s, e)
		s.tables[e] = t
	}
	return t
}

// debug 开启了 LoggingEnabled 的实体记录每条语句
func (s *Session) debug(ctx context.Context, e *meta.Entity, sql string, args []any) {
	if !e.Options.LoggingEnabled {
		return
	}
	s.logger.DebugContext(ctx, "statement", "table", e.Table, "sql", sql, "args", args)
}
