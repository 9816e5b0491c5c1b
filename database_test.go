package orm

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hatlonely/orm/cfg"
	"github.com/hatlonely/orm/dialect"
	"github.com/hatlonely/orm/log"
	"github.com/hatlonely/orm/meta"
	"github.com/hatlonely/orm/ref"
	"github.com/hatlonely/orm/schema"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

type Bank struct {
	ID   int64  `orm:"id,autoincrement"`
	Name string `orm:"name,notnull"`
}

type bankV1 struct {
	ID   int64  `orm:"id,autoincrement"`
	Name string `orm:"name,notnull"`
}

func (bankV1) Describe() meta.EntityOptions {
	return meta.EntityOptions{Table: "Ledger", Version: 1}
}

type bankV2 struct {
	ID   int64  `orm:"id,autoincrement"`
	Name string `orm:"name,notnull"`
	Code string `orm:"code"`
}

func (bankV2) Describe() meta.EntityOptions {
	return meta.EntityOptions{Table: "Ledger", Version: 2}
}

type Widget struct {
	ID   int64  `orm:"id,autoincrement"`
	Name string `orm:"name"`
}

func sqliteOptions(dsn string) *Options {
	options := DefaultOptions()
	options.Dialect = ref.TypeOptions{Type: "sqlite", Options: &dialect.SQLiteOptions{DSN: dsn}}
	return options
}

func TestDatabase(t *testing.T) {
	Convey("测试 Database", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "app.db")

		open := func(applicationID int64, entities ...any) *Database {
			options := sqliteOptions(path)
			options.ApplicationID = applicationID
			db, err := Open(NewContext().WithLogger(log.Discard()).Register(entities...), options)
			So(err, ShouldBeNil)
			return db
		}

		db := open(42, Bank{})
		report, err := db.Bootstrap(ctx)
		So(err, ShouldBeNil)
		So(report.Table("Bank").State, ShouldEqual, schema.Deployed)

		Convey("首次启动写入应用 id 和运行计数", func() {
			id, err := db.Dialect().ApplicationID(ctx)
			So(err, ShouldBeNil)
			So(id, ShouldEqual, 42)
			runs, err := db.Counter(ctx, schema.RunsCounter)
			So(err, ShouldBeNil)
			So(runs, ShouldEqual, 1)
			So(db.Close(), ShouldBeNil)
		})

		Convey("仓储使用同一个连接", func() {
			banks, err := Repository[Bank, int64](db)
			So(err, ShouldBeNil)
			bank := &Bank{Name: "b1"}
			So(banks.Insert(ctx, bank), ShouldBeNil)
			got, err := banks.SelectByID(ctx, bank.ID)
			So(err, ShouldBeNil)
			So(got.Name, ShouldEqual, "b1")
			So(db.Close(), ShouldBeNil)
		})

		Convey("自定义计数器", func() {
			n, err := db.Counter(ctx, "jobs")
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
			n, err = db.Increment(ctx, "jobs", 5)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 5)
			n, err = db.Increment(ctx, "jobs", -2)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 3)
			So(db.Close(), ShouldBeNil)
		})

		Convey("重新打开时累加运行计数", func() {
			So(db.Close(), ShouldBeNil)
			db := open(42, Bank{})
			defer db.Close()
			report, err := db.Bootstrap(ctx)
			So(err, ShouldBeNil)
			So(report.Table("Bank").State, ShouldEqual, schema.Unchanged)
			runs, err := db.Counter(ctx, schema.RunsCounter)
			So(err, ShouldBeNil)
			So(runs, ShouldEqual, 2)
		})

		Convey("应用 id 不一致时拒绝启动", func() {
			So(db.Close(), ShouldBeNil)
			db := open(7, Bank{})
			defer db.Close()
			_, err := db.Bootstrap(ctx)
			So(errors.Is(err, ErrApplicationMismatch), ShouldBeTrue)
		})
	})
}

func TestPolicy(t *testing.T) {
	Convey("测试代码构造的同步策略", t, func() {
		ctx := context.Background()

		Convey("关闭部署时不建表", func() {
			options := sqliteOptions(":memory:")
			options.Policy = meta.Policy{}
			options.Depth = 0
			db, err := Open(NewContext().WithLogger(log.Discard()).Register(Widget{}), options)
			So(err, ShouldBeNil)
			defer db.Close()

			e, err := db.Registry().Entity(Widget{})
			So(err, ShouldBeNil)
			So(e.Policy.DeployNewTables, ShouldBeFalse)
			So(e.Policy.DeployNewColumns, ShouldBeFalse)
			So(db.options.Depth, ShouldEqual, 0)

			report, err := db.Bootstrap(ctx)
			So(err, ShouldBeNil)
			So(report.Table("Widget").State, ShouldEqual, schema.NotPresent)
			tables, err := db.Dialect().ListDatabaseTableNames(ctx)
			So(err, ShouldBeNil)
			So(tables, ShouldNotContain, "Widget")
		})

		Convey("默认选项与配置文件加载一致", func() {
			var loaded Options
			So(cfg.Load([]byte("dialect:\n  type: sqlite\n"), "yaml", &loaded), ShouldBeNil)
			defaults := DefaultOptions()
			So(loaded.Policy, ShouldResemble, defaults.Policy)
			So(loaded.EntityOptions, ShouldResemble, defaults.EntityOptions)
			So(loaded.Depth, ShouldEqual, defaults.Depth)
		})
	})
}

func TestUpgradeHook(t *testing.T) {
	Convey("测试结构升级钩子", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "app.db")
		options := sqliteOptions(path)
		options.Policy = meta.Policy{DeployNewTables: true, DeployNewColumns: true, UpgradeSchema: true}

		db, err := Open(NewContext().WithLogger(log.Discard()).Register(bankV1{}), options)
		So(err, ShouldBeNil)
		_, err = db.Bootstrap(ctx)
		So(err, ShouldBeNil)
		So(db.Close(), ShouldBeNil)

		var from, to int
		c := NewContext().WithLogger(log.Discard()).Register(bankV2{}).
			RegisterUpgradeHook("ledger", func(ctx context.Context, d dialect.Dialect, e *meta.Entity, f, t int) error {
				from, to = f, t
				return nil
			})
		db, err = Open(c, options)
		So(err, ShouldBeNil)
		defer db.Close()
		report, err := db.Bootstrap(ctx)
		So(err, ShouldBeNil)
		So(from, ShouldEqual, 1)
		So(to, ShouldEqual, 2)
		So(report.Table("Ledger").Upgraded, ShouldBeTrue)

		version, ok, err := db.Metadata().Get(ctx, schema.VersionKey("Ledger"))
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)
		So(version, ShouldEqual, 2)
	})
}

func TestOptions(t *testing.T) {
	Convey("测试从配置加载", t, func() {
		ctx := context.Background()
		data := []byte(`
dialect:
  type: sqlite
  options:
    dsn: ":memory:"
applicationId: 12
defaultLimit: 2
policy:
  dropColumns: true
cache:
  type: SyncMapStore
logger:
  level: warn
observer:
  name: ormtest
`)
		var options Options
		So(cfg.Load(data, "yaml", &options), ShouldBeNil)
		So(options.Policy.DeployNewTables, ShouldBeTrue)
		So(options.Policy.DropColumns, ShouldBeTrue)
		So(options.Depth, ShouldEqual, 3)
		So(options.EntityOptions.FieldStrategy, ShouldEqual, meta.Implicit)
		So(options.Observer.EnableMetrics, ShouldBeTrue)

		registry := prometheus.NewRegistry()
		db, err := Open(NewContext().WithRegisterer(registry).Register(Bank{}), &options)
		So(err, ShouldBeNil)
		defer db.Close()
		_, err = db.Bootstrap(ctx)
		So(err, ShouldBeNil)

		banks, err := Repository[Bank, int64](db)
		So(err, ShouldBeNil)
		for _, name := range []string{"a", "b", "c"} {
			So(banks.Insert(ctx, &Bank{Name: name}), ShouldBeNil)
		}
		items, err := banks.Find(ctx, nil)
		So(err, ShouldBeNil)
		So(items, ShouldHaveLength, 2)

		families, err := registry.Gather()
		So(err, ShouldBeNil)
		var names []string
		for _, f := range families {
			names = append(names, f.GetName())
		}
		So(names, ShouldContain, "ormtest_statements_total")
	})

	Convey("错误的配置", t, func() {
		_, err := Open(nil, nil)
		So(err, ShouldNotBeNil)
		_, err = Open(nil, &Options{Dialect: ref.TypeOptions{Type: "oracle"}})
		So(err, ShouldNotBeNil)

		options := sqliteOptions(":memory:")
		_, err = Open(NewContext().Register(struct{ Name string }{}), options)
		So(errors.Is(err, meta.ErrConfiguration), ShouldBeTrue)
	})
}
