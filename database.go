package orm

import (
	"context"

	"github.com/hatlonely/orm/cache"
	"github.com/hatlonely/orm/dialect"
	"github.com/hatlonely/orm/log"
	"github.com/hatlonely/orm/log/logger"
	"github.com/hatlonely/orm/meta"
	"github.com/hatlonely/orm/repository"
	"github.com/hatlonely/orm/schema"
	"github.com/hatlonely/orm/uid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ErrApplicationMismatch 库中记录的应用 id 与配置不一致
var ErrApplicationMismatch = errors.New("application id mismatch")

type Database struct {
	options  Options
	dialect  dialect.Dialect
	registry *meta.Registry
	session  *repository.Session
	sync     *schema.Synchronizer
	logger   logger.Logger
	cache    cache.Store[[]any]
}

// Open 创建方言并解析 Context 中登记的实体，不访问数据库。
// options 按原样使用，零值不会替换成默认值，代码中构造时从 DefaultOptions 开始
func Open(c *Context, options *Options) (*Database, error) {
	if c == nil {
		c = NewContext()
	}
	if options == nil {
		return nil, errors.New("options is nil")
	}
	opts := *options
	options = &opts
	entities, hooks, l, registerer := c.snapshot()

	db := &Database{options: opts, logger: l}
	if options.Logger != nil {
		var err error
		if db.logger, err = log.NewLogWithOptions(options.Logger); err != nil {
			return nil, errors.WithMessage(err, "create logger failed")
		}
	}

	d, err := dialect.NewDialectWithOptions(c.refs, &options.Dialect)
	if err != nil {
		return nil, errors.WithMessage(err, "create dialect failed")
	}
	db.dialect = d
	if options.Observer != nil {
		observer, err := dialect.NewObserverWithOptions(options.Observer, registerer, db.logger)
		if err != nil {
			return nil, multierr.Append(errors.WithMessage(err, "create observer failed"), d.Close())
		}
		d.SetObserver(observer)
	}

	db.registry = meta.NewRegistry(
		meta.WithMapper(d.Mapper()),
		meta.WithDefaultPolicy(options.Policy),
		meta.WithDefaultOptions(options.EntityOptions),
	)
	if err := db.registry.Register(entities...); err != nil {
		return nil, multierr.Append(err, d.Close())
	}
	if err := db.registry.Build(); err != nil {
		return nil, multierr.Append(err, d.Close())
	}

	generator, err := uid.NewUUIDGeneratorWithOptions(options.UUID)
	if err != nil {
		return nil, multierr.Append(err, d.Close())
	}
	sessionOpts := []repository.Option{
		repository.WithLogger(db.logger.WithGroup("repository")),
		repository.WithDefaultLimit(options.DefaultLimit),
		repository.WithDepth(options.Depth),
		repository.WithUUIDGenerator(generator),
	}
	if options.Cache != nil {
		if db.cache, err = cache.NewStoreWithOptions[[]any](options.Cache); err != nil {
			return nil, multierr.Append(errors.WithMessage(err, "create cache failed"), d.Close())
		}
		sessionOpts = append(sessionOpts, repository.WithCache(db.cache, options.CacheExpiration))
	}
	db.session = repository.NewSession(d, db.registry, sessionOpts...)

	syncOpts := []schema.Option{
		schema.WithLogger(db.logger.WithGroup("schema")),
		schema.WithPolicy(options.Policy),
	}
	for table, hook := range hooks {
		syncOpts = append(syncOpts, schema.WithUpgradeHook(table, hook))
	}
	if db.sync, err = schema.New(d, syncOpts...); err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	return db, nil
}

// Bootstrap 测试连接，校验应用 id，同步全部实体的表结构并增加运行计数。
// 同步中单张表的失败记录在报告中，与其他错误合并返回
func (db *Database) Bootstrap(ctx context.Context) (*schema.Report, error) {
	if err := db.dialect.Provider().TestConnection(ctx); err != nil {
		return nil, errors.WithMessage(err, "test connection failed")
	}

	want := db.options.ApplicationID
	live, err := db.dialect.ApplicationID(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "read application id failed")
	}
	if want != 0 && live != 0 && live != want {
		return nil, errors.Wrapf(ErrApplicationMismatch, "database has %d, expected %d", live, want)
	}

	report, syncErr := db.sync.Sync(ctx, db.registry.Entities())
	if report == nil {
		return nil, syncErr
	}

	if want != 0 && live == 0 {
		if err := db.dialect.SetApplicationID(ctx, want); err != nil {
			return report, multierr.Append(syncErr, errors.WithMessage(err, "set application id failed"))
		}
	}
	runs, err := db.Increment(ctx, schema.RunsCounter, 1)
	if err != nil {
		return report, multierr.Append(syncErr, err)
	}
	db.logger.InfoContext(ctx, "bootstrap finished", "dialect", db.dialect.Name(), "runs", runs, "errors", len(report.Errors))
	return report, syncErr
}

func (db *Database) Dialect() dialect.Dialect {
	return db.dialect
}

func (db *Database) Registry() *meta.Registry {
	return db.registry
}

func (db *Database) Session() *repository.Session {
	return db.session
}

func (db *Database) Metadata() *schema.MetadataStore {
	return db.sync.Metadata()
}

// Counter 计数器不存在时返回 0
func (db *Database) Counter(ctx context.Context, name string) (int64, error) {
	value, _, err := db.Metadata().Get(ctx, schema.CounterKey(name))
	return value, err
}

// Increment 返回增加后的值
func (db *Database) Increment(ctx context.Context, name string, delta int64) (int64, error) {
	return db.Metadata().Increment(ctx, schema.CounterKey(name), delta)
}

func (db *Database) Close() error {
	var err error
	if db.cache != nil {
		err = multierr.Append(err, db.cache.Close())
	}
	return multierr.Append(err, db.dialect.Close())
}

// Repository 实体 E 的仓储，E 未在 Context 中登记时自动注册
func Repository[E any, ID any](db *Database) (*repository.SQLRepository[E, ID], error) {
	return repository.New[E, ID](db.session)
}

// Link A 和 B 之间多对多关联表的仓储
func Link[A any, B any](db *Database, table string) (*repository.LinkRepository[A, B], error) {
	return repository.NewLink[A, B](db.session, table)
}
