package dialect

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hatlonely/orm/cfg/storage"
	"github.com/hatlonely/orm/compiler"
	"github.com/hatlonely/orm/meta"
	"github.com/hatlonely/orm/ref"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

type Bank struct {
	ID   int64  `orm:"id,autoincrement"`
	Name string `orm:"name,notnull,index"`
}

type Note struct {
	Key  string `orm:"key,pk"`
	Body string `orm:"body,default='empty'"`
}

func (Note) Describe() meta.EntityOptions {
	return meta.EntityOptions{Options: &meta.Options{WithoutRowid: true, Strict: true}}
}

func buildEntities(d Dialect) (bank, note *meta.Entity) {
	r := meta.NewRegistry(meta.WithMapper(d.Mapper()))
	r.MustBuild(Bank{}, Note{})
	bank, _ = meta.Of[Bank](r)
	note, _ = meta.Of[Note](r)
	return bank, note
}

func TestSQLite(t *testing.T) {
	Convey("测试 SQLite 方言", t, func() {
		ctx := context.Background()
		d, err := NewSQLiteWithOptions(&SQLiteOptions{DSN: ":memory:"})
		So(err, ShouldBeNil)
		defer d.Close()
		So(d.Name(), ShouldEqual, "sqlite")
		So(d.Provider().IsDeployed(), ShouldBeFalse)

		bank, note := buildEntities(d)
		for _, e := range []*meta.Entity{bank, note} {
			_, err := d.Exec(ctx, d.CreateTableSQL(e, false))
			So(err, ShouldBeNil)
			for _, index := range e.Indexes {
				_, err := d.Exec(ctx, d.CreateIndexSQL(e, index))
				So(err, ShouldBeNil)
			}
		}

		Convey("列出表", func() {
			tables, err := d.ListDatabaseTableNames(ctx)
			So(err, ShouldBeNil)
			So(tables, ShouldContain, "Bank")
			So(tables, ShouldContain, "Note")
		})

		Convey("读取列结构", func() {
			columns, err := d.TableColumns(ctx, "Note")
			So(err, ShouldBeNil)
			So(columns, ShouldHaveLength, 2)
			So(columns[0].Name, ShouldEqual, "key")
			So(columns[0].Type, ShouldEqual, "TEXT")
			So(columns[0].PrimaryKey, ShouldBeTrue)
			So(columns[0].NotNull, ShouldBeTrue)
			So(columns[1].Default, ShouldNotBeNil)
			So(*columns[1].Default, ShouldEqual, "'empty'")
			So(columns[1].NotNull, ShouldBeFalse)
		})

		Convey("读取索引", func() {
			indexes, err := d.TableIndexes(ctx, "Bank")
			So(err, ShouldBeNil)
			So(indexes, ShouldContain, "idx_Bank_name")
		})

		Convey("应用 id", func() {
			id, err := d.ApplicationID(ctx)
			So(err, ShouldBeNil)
			So(id, ShouldEqual, 0)

			So(d.SetApplicationID(ctx, 20240901), ShouldBeNil)
			id, err = d.ApplicationID(ctx)
			So(err, ShouldBeNil)
			So(id, ShouldEqual, 20240901)

			err = d.SetApplicationID(ctx, 1<<40)
			So(errors.Is(err, ErrApplicationID), ShouldBeTrue)
		})

		Convey("按主键覆盖写入", func() {
			stmt := d.UpsertSQL(note, nil)
			So(stmt.SQL, ShouldEqual, `INSERT OR REPLACE INTO "Note" ("key", "body") VALUES (?, ?)`)
			_, err := d.Exec(ctx, stmt.SQL, "k", "v1")
			So(err, ShouldBeNil)
			_, err = d.Exec(ctx, stmt.SQL, "k", "v2")
			So(err, ShouldBeNil)

			rows, err := d.Query(ctx, `SELECT "body" FROM "Note"`)
			So(err, ShouldBeNil)
			bodies, err := queryStrings(rows)
			So(err, ShouldBeNil)
			So(bodies, ShouldResemble, []string{"v2"})
		})

		Convey("只有 OFFSET 时补 LIMIT -1", func() {
			stmt := compiler.Select("Bank").Offset(1).Compile(d.Compiler())
			So(stmt.SQL, ShouldEqual, `SELECT * FROM "Bank" LIMIT -1 OFFSET 1`)
			rows, err := d.Query(ctx, stmt.SQL)
			So(err, ShouldBeNil)
			So(rows.Close(), ShouldBeNil)
		})

		Convey("事务回滚", func() {
			tx, err := d.BeginTx(ctx, nil)
			So(err, ShouldBeNil)
			_, err = tx.Exec(ctx, `INSERT INTO "Bank" ("name") VALUES (?)`, "rolled back")
			So(err, ShouldBeNil)
			So(tx.Rollback(), ShouldBeNil)
			So(tx.Rollback(), ShouldBeNil)

			rows, err := d.Query(ctx, `SELECT "name" FROM "Bank"`)
			So(err, ShouldBeNil)
			names, _ := queryStrings(rows)
			So(names, ShouldBeEmpty)
		})

		Convey("连接复用", func() {
			c1, err := d.GetConnection(ctx)
			So(err, ShouldBeNil)
			c2, err := d.GetConnection(ctx)
			So(err, ShouldBeNil)
			So(c1, ShouldEqual, c2)

			So(d.CheckClose(false), ShouldBeNil)
			c3, _ := d.GetConnection(ctx)
			So(c3, ShouldEqual, c1)

			So(d.CheckClose(true), ShouldBeNil)
			c4, err := d.GetConnection(ctx)
			So(err, ShouldBeNil)
			So(c4, ShouldNotEqual, c1)
		})
	})
}

func TestSQLiteFileDeployed(t *testing.T) {
	Convey("测试文件库是否已部署", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "app.db")

		d1, err := NewSQLiteWithOptions(&SQLiteOptions{DSN: "file:" + path + "?_busy_timeout=1000"})
		So(err, ShouldBeNil)
		So(d1.Provider().IsDeployed(), ShouldBeFalse)
		_, err = d1.Exec(ctx, `CREATE TABLE "t" ("a" TEXT)`)
		So(err, ShouldBeNil)
		So(d1.Close(), ShouldBeNil)

		d2, err := NewSQLiteWithOptions(&SQLiteOptions{DSN: path})
		So(err, ShouldBeNil)
		defer d2.Close()
		So(d2.Provider().IsDeployed(), ShouldBeTrue)
		So(d2.Provider().TestConnection(ctx), ShouldBeNil)
		tables, err := d2.ListDatabaseTableNames(ctx)
		So(err, ShouldBeNil)
		So(tables, ShouldResemble, []string{"t"})
	})
}

func TestNewDialectWithOptions(t *testing.T) {
	Convey("测试通过注册表创建方言", t, func() {
		r := ref.NewRegistry()
		Register(r)

		Convey("配置数据转换为选项", func() {
			d, err := NewDialectWithOptions(r, &ref.TypeOptions{
				Type:    "sqlite",
				Options: storage.NewMapStorage(map[string]any{"dsn": ":memory:", "foreignKeys": true}),
			})
			So(err, ShouldBeNil)
			So(d.Name(), ShouldEqual, "sqlite")
			So(d.Close(), ShouldBeNil)
		})

		Convey("直接传入选项", func() {
			d, err := NewDialectWithOptions(r, &ref.TypeOptions{Type: "mysql", Options: &MySQLOptions{Host: "127.0.0.1", Port: 3306, Username: "root", Database: "app"}})
			So(err, ShouldBeNil)
			So(d.Name(), ShouldEqual, "mysql")
			So(d.Compiler().QuoteIdentifier("a"), ShouldEqual, "`a`")
		})

		Convey("未知类型", func() {
			_, err := NewDialectWithOptions(r, &ref.TypeOptions{Type: "oracle"})
			So(err, ShouldNotBeNil)
		})

		Convey("nil 选项", func() {
			_, err := NewDialectWithOptions(r, nil)
			So(err, ShouldNotBeNil)
		})
	})
}
