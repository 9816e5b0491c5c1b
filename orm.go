// Package orm 实体到关系数据库的映射引擎
//
// Context 显式持有构造函数注册表、实体类型和升级钩子，Open 根据 Options 创建方言、
// 解析实体元数据并组装仓储会话，Bootstrap 测试连接、校验应用 id 并同步表结构。
//
//	c := orm.NewContext().Register(Bank{}, Account{})
//	db, err := orm.Open(c, options)
//	report, err := db.Bootstrap(ctx)
//	accounts, err := orm.Repository[Account, int64](db)
package orm

import (
	"strings"
	"sync"

	"github.com/hatlonely/orm/dialect"
	"github.com/hatlonely/orm/log"
	"github.com/hatlonely/orm/log/logger"
	"github.com/hatlonely/orm/ref"
	"github.com/hatlonely/orm/schema"
	"github.com/prometheus/client_golang/prometheus"
)

// Context 取代全局状态的注册表集合，同一个 Context 可以打开多个 Database
type Context struct {
	mu         sync.RWMutex
	refs       *ref.Registry
	logger     logger.Logger
	registerer prometheus.Registerer
	entities   []any
	hooks      map[string]schema.UpgradeHook
}

// NewContext 已注册内置的 sqlite 和 mysql 方言
func NewContext() *Context {
	r := ref.NewRegistry()
	dialect.Register(r)
	return &Context{
		refs:   r,
		logger: log.Default(),
		hooks:  map[string]schema.UpgradeHook{},
	}
}

// Refs 构造函数注册表，可以注册自定义方言和缓存
func (c *Context) Refs() *ref.Registry {
	return c.refs
}

// Register 登记实体类型，Open 时统一解析
func (c *Context) Register(entities ...any) *Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities = append(c.entities, entities...)
	return c
}

// RegisterUpgradeHook 表结构版本升高时调用，表名忽略大小写
func (c *Context) RegisterUpgradeHook(table string, hook schema.UpgradeHook) *Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks[strings.ToLower(table)] = hook
	return c
}

// WithLogger 配置中没有 logger 时使用
func (c *Context) WithLogger(l logger.Logger) *Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = l
	return c
}

// WithRegisterer 语句指标注册的位置，为 nil 时只创建不注册
func (c *Context) WithRegisterer(registerer prometheus.Registerer) *Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registerer = registerer
	return c
}

func (c *Context) snapshot() ([]any, map[string]schema.UpgradeHook, logger.Logger, prometheus.Registerer) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entities := append([]any(nil), c.entities...)
	hooks := make(map[string]schema.UpgradeHook, len(c.hooks))
	for k, v := range c.hooks {
		hooks[k] = v
	}
	return entities, hooks, c.logger, c.registerer
}
