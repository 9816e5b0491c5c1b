package compiler

import (
	"strings"
	"testing"

	"github.com/hatlonely/orm/aggregation"
	"github.com/hatlonely/orm/meta"
	"github.com/hatlonely/orm/query"
	. "github.com/smartystreets/goconvey/convey"
)

type Bank struct {
	ID   int64  `orm:"id,autoincrement"`
	Name string `orm:"name,notnull"`
	Code string `orm:"code,unique,default='X',check=length(code) <= 8"`
}

type Account struct {
	ID   int64  `orm:"id,pk"`
	Name string `orm:"name"`
	Bank *Bank  `orm:"bankId,manytoone"`
}

type Ledger struct {
	Key     string  `orm:"key,pk"`
	Amount  float64 `orm:"amount,notnull,scale=2"`
	Comment string  `orm:"comment"`
	Rate    float64 `orm:"rate"`
}

func (Ledger) Describe() meta.EntityOptions {
	return meta.EntityOptions{Options: &meta.Options{Strict: true, WithoutRowid: true}}
}

func entities(t *testing.T) (bank, account, ledger *meta.Entity) {
	r := meta.NewRegistry()
	r.MustBuild(Bank{}, Account{}, Ledger{})
	var err error
	bank, err = meta.Of[Bank](r)
	if err != nil {
		t.Fatal(err)
	}
	account, _ = meta.Of[Account](r)
	ledger, _ = meta.Of[Ledger](r)
	return bank, account, ledger
}

func TestQuoteIdentifier(t *testing.T) {
	Convey("测试标识符引用", t, func() {
		So(New().QuoteIdentifier("Account"), ShouldEqual, `"Account"`)
		So(New().QuoteIdentifier(`a"b`), ShouldEqual, `"a""b"`)
		So(New(WithQuote("`")).QuoteIdentifier("a`b"), ShouldEqual, "`a``b`")
		So(New(WithQuote("")).QuoteIdentifier("Account"), ShouldEqual, "Account")
	})
}

func TestCompileCreate(t *testing.T) {
	bank, account, ledger := entities(t)

	Convey("测试建表语句", t, func() {
		c := New()

		Convey("列定义按声明顺序", func() {
			So(c.EntityColumns(bank), ShouldResemble, []string{
				`"id" INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL`,
				`"name" TEXT NOT NULL`,
				`"code" TEXT UNIQUE DEFAULT 'X' CHECK (length(code) <= 8)`,
			})
		})

		Convey("外键列的类型来自被引用的主键", func() {
			So(c.CompileCreate(c.EntityTable("", account, true)), ShouldEqual,
				`CREATE TABLE IF NOT EXISTS "Account" ("id" INTEGER PRIMARY KEY NOT NULL, "name" TEXT, "bankId" INTEGER)`)
		})

		Convey("开启外键约束", func() {
			c := New(WithForeignKeys(true))
			So(c.CompileCreate(c.EntityTable("", account, false)), ShouldEqual,
				`CREATE TABLE "Account" ("id" INTEGER PRIMARY KEY NOT NULL, "name" TEXT, "bankId" INTEGER, FOREIGN KEY ("bankId") REFERENCES "Bank" ("id"))`)
		})

		Convey("STRICT 和 WITHOUT ROWID", func() {
			So(c.CompileCreate(c.EntityTable("", ledger, false)), ShouldEqual,
				`CREATE TABLE "Ledger" ("key" TEXT PRIMARY KEY NOT NULL, "amount" INTEGER NOT NULL, "comment" TEXT, "rate" REAL) STRICT, WITHOUT ROWID`)
		})

		Convey("临时表和 schema", func() {
			sql := c.CompileCreate(&CreateTable{Temp: true, Schema: "temp", Table: "t", Columns: []string{`"a" TEXT`}})
			So(sql, ShouldEqual, `CREATE TEMP TABLE "temp"."t" ("a" TEXT)`)
		})

		Convey("没有列时由查询建表", func() {
			sql := c.CompileCreate(&CreateTable{Table: "copy", As: Select("Account").Columns("id").Query()})
			So(sql, ShouldEqual, `CREATE TABLE "copy" AS SELECT "id" FROM "Account"`)
		})

		Convey("没有列也没有查询时不生成语句", func() {
			So(c.CompileCreate(&CreateTable{Table: "empty"}), ShouldEqual, "")
			So(c.CompileCreate(&CreateTable{Table: "empty", Constraints: []string{`UNIQUE ("a")`}}), ShouldEqual, "")
		})

		Convey("自定义类型名和自增关键字", func() {
			c := New(WithQuote("`"), WithAutoIncrement("AUTO_INCREMENT"), WithTypeName(func(col *meta.Column) string {
				if col.Primary != meta.NotPrimary {
					return "BIGINT"
				}
				return string(col.Class)
			}))
			So(c.ColumnDefinition(bank.Primary), ShouldEqual, "`id` BIGINT PRIMARY KEY AUTO_INCREMENT NOT NULL")
		})
	})
}

func TestCompileCreateIndex(t *testing.T) {
	bank, _, _ := entities(t)

	Convey("测试建索引语句", t, func() {
		c := New()
		So(c.CompileCreateIndex(true, true, "idx_bank_name", "", bank, []string{"Name"}, "code IS NOT NULL"), ShouldEqual,
			`CREATE UNIQUE INDEX IF NOT EXISTS "idx_bank_name" ON "Bank" ("name") WHERE code IS NOT NULL`)
		So(c.CompileCreateIndex(false, false, "i", "main", bank, []string{"name", "code"}, ""), ShouldEqual,
			`CREATE INDEX "i" ON "main"."Bank" ("name", "code")`)
	})
}

func TestCompileInsert(t *testing.T) {
	bank, account, ledger := entities(t)

	Convey("测试插入语句", t, func() {
		c := New()

		Convey("每一列一个占位符，顺序与声明一致", func() {
			for _, e := range []*meta.Entity{account, ledger} {
				stmt := c.CompileInsert("", e, nil, 1)
				So(strings.Count(stmt.SQL, "?"), ShouldEqual, len(e.Columns))
				So(stmt.Fields, ShouldResemble, e.ColumnNames())
			}
		})

		Convey("自增主键不参与插入", func() {
			stmt := c.CompileInsert("", bank, nil, 3)
			So(stmt.SQL, ShouldEqual, `INSERT INTO "Bank" ("name", "code") VALUES (?, ?)`)
			So(stmt.Fields, ShouldResemble, []string{"name", "code"})
		})

		Convey("没有记录时只生成列清单", func() {
			stmt := c.CompileInsert("", account, []string{"ID", "name"}, 0)
			So(stmt.SQL, ShouldEqual, `INSERT INTO "Account" ("id", "name")`)
		})
	})
}

func TestCompileUpdateDelete(t *testing.T) {
	_, account, _ := entities(t)

	Convey("测试更新和删除语句", t, func() {
		c := New()

		Convey("默认更新除主键外的列", func() {
			stmt := c.CompileUpdate("", account, nil, query.Term("id", 1))
			So(stmt.SQL, ShouldEqual, `UPDATE "Account" SET "name" = ?, "bankId" = ? WHERE "id" = ?`)
			So(stmt.Fields, ShouldResemble, []string{"name", "bankId"})
			So(stmt.Args, ShouldResemble, []any{1})
		})

		Convey("空条件不生成 WHERE", func() {
			stmt := c.CompileUpdate("", account, []string{"Name"}, &query.BoolQuery{})
			So(stmt.SQL, ShouldEqual, `UPDATE "Account" SET "name" = ?`)
			So(stmt.Args, ShouldBeNil)
		})

		Convey("删除", func() {
			So(c.CompileDelete("main", account, nil).SQL, ShouldEqual, `DELETE FROM "main"."Account"`)
			stmt := c.CompileDelete("", account, query.In("id", 1, 2))
			So(stmt.SQL, ShouldEqual, `DELETE FROM "Account" WHERE "id" IN (?, ?)`)
			So(stmt.Args, ShouldResemble, []any{1, 2})
		})
	})
}

func TestCompileSelect(t *testing.T) {
	_, account, _ := entities(t)

	Convey("测试查询语句", t, func() {
		c := New()

		Convey("按外键查询账户", func() {
			stmt := From(account).Alias("T01").
				Where(query.Term("bankId", 5)).
				OrderBy("name", Asc).
				Limit(10).
				Compile(c)
			So(stmt.SQL, ShouldEqual, `SELECT "id", "name", "bankId" FROM "Account" AS T01 WHERE "bankId" = ? ORDER BY "name" ASC LIMIT 10`)
			So(stmt.Args, ShouldResemble, []any{5})
			So(stmt.Fields, ShouldResemble, []string{"id", "name", "bankId"})
		})

		Convey("没有选择列时生成 *", func() {
			So(Select("Account").Compile(c).SQL, ShouldEqual, `SELECT * FROM "Account"`)
		})

		Convey("LIMIT 优先级", func() {
			So(Select("t").Limit(5).DefaultLimit(100).Compile(c).SQL, ShouldEqual, `SELECT * FROM "t" LIMIT 5`)
			So(Select("t").DefaultLimit(100).Compile(c).SQL, ShouldEqual, `SELECT * FROM "t" LIMIT 100`)
			So(Select("t").Compile(c).SQL, ShouldNotContainSubstring, "LIMIT")
		})

		Convey("OFFSET 与 LIMIT 相互独立", func() {
			So(Select("t").Offset(20).Compile(c).SQL, ShouldEqual, `SELECT * FROM "t" OFFSET 20`)
			So(Select("t").Limit(10).Offset(20).Compile(c).SQL, ShouldEqual, `SELECT * FROM "t" LIMIT 10 OFFSET 20`)
		})

		Convey("自定义 LIMIT 子句", func() {
			c := New(WithLimitClause(func(limit, offset *int) string {
				if limit == nil && offset != nil {
					n := -1
					return StandardLimitClause(&n, offset)
				}
				return StandardLimitClause(limit, offset)
			}))
			So(Select("t").Offset(3).Compile(c).SQL, ShouldEqual, `SELECT * FROM "t" LIMIT -1 OFFSET 3`)
		})

		Convey("有 GROUP BY 时条件放在 HAVING", func() {
			stmt := Select("Account").
				Columns("bankId").
				Aggregate(aggregation.Count("total", "")).
				GroupBy("bankId").
				Where(&query.RangeQuery{Field: "total", Gt: 1}).
				Compile(c)
			So(stmt.SQL, ShouldEqual, `SELECT "bankId", COUNT(*) AS "total" FROM "Account" GROUP BY "bankId" HAVING "total" > ?`)
			So(stmt.Fields, ShouldResemble, []string{"bankId", "total"})
		})

		Convey("NULLS FIRST / LAST", func() {
			q := Select("t").OrderByNulls("a", Desc, NullsFirst).OrderByNulls("b", "", NullsLast).Query()
			So(c.CompileSelect(q).SQL, ShouldEqual, `SELECT * FROM "t" ORDER BY "a" DESC NULLS FIRST, "b" ASC NULLS LAST`)
			So(New(WithNullsEmulation(true)).CompileSelect(q).SQL, ShouldEqual,
				`SELECT * FROM "t" ORDER BY "a" IS NULL DESC, "a" DESC, "b" IS NULL ASC, "b" ASC`)
		})

		Convey("DISTINCT、连接和别名列", func() {
			stmt := Select("Account").Alias("T01").Distinct().
				Columns("T01.name", "T02.name").
				Join(Join{Kind: LeftJoin, Table: "Bank", Alias: "T02", On: query.Raw(`T01."bankId" = T02."id" AND T02."name" <> ?`, "x")}).
				Compile(c)
			So(stmt.SQL, ShouldEqual, `SELECT DISTINCT T01."name", T02."name" FROM "Account" AS T01 LEFT JOIN "Bank" AS T02 ON T01."bankId" = T02."id" AND T02."name" <> ?`)
			So(stmt.Args, ShouldResemble, []any{"x"})
		})

		Convey("含空格和括号的列名总是引用", func() {
			stmt := Select("People").Columns("id", "first name", "score(avg)").
				OrderBy("first name", Desc).
				GroupBy("first name").
				Compile(c)
			So(stmt.SQL, ShouldEqual, `SELECT "id", "first name", "score(avg)" FROM "People" GROUP BY "first name" ORDER BY "first name" DESC`)
			So(stmt.Fields, ShouldResemble, []string{"id", "first name", "score(avg)"})
		})

		Convey("未声明别名的点号属于列名", func() {
			stmt := Select("t").Alias("T01").Columns("T01.a", "x.y").Compile(c)
			So(stmt.SQL, ShouldEqual, `SELECT T01."a", "x.y" FROM "t" AS T01`)
		})

		Convey("表达式原样输出", func() {
			stmt := Select("Account").Columns("id").
				Expressions(`length("name") AS len`).
				OrderByExpression(`length("name")`, Desc).
				Compile(c)
			So(stmt.SQL, ShouldEqual, `SELECT "id", length("name") AS len FROM "Account" ORDER BY length("name") DESC`)
			So(stmt.Fields, ShouldResemble, []string{"id", `length("name") AS len`})
		})

		Convey("多次 Where 以 AND 合并", func() {
			stmt := Select("t").Where(query.Term("a", 1)).Where(query.Term("b", 2)).Compile(c)
			So(stmt.SQL, ShouldEqual, `SELECT * FROM "t" WHERE ("a" = ? AND "b" = ?)`)
		})

		Convey("前置查询", func() {
			first := Select("a").Columns("id").Where(query.Term("x", 1)).Query()
			stmt := Select("b").Columns("id").Where(query.Term("y", 2)).After(first, "UNION ALL").Compile(c)
			So(stmt.SQL, ShouldEqual, `SELECT "id" FROM "a" WHERE "x" = ? UNION ALL SELECT "id" FROM "b" WHERE "y" = ?`)
			So(stmt.Args, ShouldResemble, []any{1, 2})
		})
	})
}

func TestCompileAlter(t *testing.T) {
	bank, _, _ := entities(t)

	Convey("测试表结构修改语句", t, func() {
		c := New()
		name, _ := bank.Column("name")
		So(c.CompileAddColumn("", "Bank", name), ShouldEqual, `ALTER TABLE "Bank" ADD COLUMN "name" TEXT NOT NULL`)
		So(c.CompileDropColumn("", "Bank", "legacy"), ShouldEqual, `ALTER TABLE "Bank" DROP COLUMN "legacy"`)
		So(c.CompileDropTable("", "Bank", true), ShouldEqual, `DROP TABLE IF EXISTS "Bank"`)
		So(c.CompileDropTable("", "Bank", false), ShouldEqual, `DROP TABLE "Bank"`)
		So(c.CompileRenameTable("", "__new_Bank", "Bank"), ShouldEqual, `ALTER TABLE "__new_Bank" RENAME TO "Bank"`)
		So(c.CompileCopyRows("", "Bank", "__new_Bank", []string{"id", "name"}), ShouldEqual,
			`INSERT INTO "__new_Bank" ("id", "name") SELECT "id", "name" FROM "Bank"`)
	})
}
