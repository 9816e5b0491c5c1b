package orm

import (
	"time"

	"github.com/hatlonely/orm/dialect"
	"github.com/hatlonely/orm/log"
	"github.com/hatlonely/orm/meta"
	"github.com/hatlonely/orm/ref"
	"github.com/hatlonely/orm/uid"
)

// Options 数据库配置，可以通过 cfg.LoadFile 从 yaml、json、toml、ini 加载，
// 加载时按 def tag 补齐默认值
//
//	dialect:
//	  type: sqlite
//	  options:
//	    dsn: file:app.db?_busy_timeout=5000
//	policy:
//	  dropColumns: true
//	applicationId: 1179796
//	cache:
//	  type: FreeCacheStore
//	  options:
//	    size: 16777216
type Options struct {
	Dialect ref.TypeOptions `cfg:"dialect"`

	// Policy 实体没有声明同步策略时使用
	Policy meta.Policy `cfg:"policy"`
	// EntityOptions 实体没有声明表级选项时使用
	EntityOptions meta.Options `cfg:"entityOptions"`

	// ApplicationID 非 0 时在启动时校验，库中没有记录时写入
	ApplicationID int64 `cfg:"applicationId"`

	// DefaultLimit Find 没有指定 Limit 时的行数上限，0 表示不限制
	DefaultLimit int `cfg:"defaultLimit" validate:"gte=0"`
	// Depth 根查询的关系解析深度
	Depth int `cfg:"depth" def:"3" validate:"gte=0"`

	UUID *uid.UUIDOptions `cfg:"uuid"`

	// Logger 为 nil 时使用 Context 的日志
	Logger *log.Options `cfg:"logger"`
	// Observer 为 nil 时不观测语句
	Observer *dialect.ObserverOptions `cfg:"observer"`

	// Cache 为 nil 时不缓存
	Cache           *ref.TypeOptions `cfg:"cache"`
	CacheExpiration time.Duration    `cfg:"cacheExpiration"`
}

// DefaultOptions 与只配置了方言的文件加载结果一致
func DefaultOptions() *Options {
	return &Options{
		Policy:        meta.DefaultPolicy(),
		EntityOptions: meta.Options{FieldStrategy: meta.Implicit},
		Depth:         meta.DefaultDepth,
	}
}
