package meta

import (
	"reflect"
	"testing"
	"time"

	"github.com/hatlonely/orm/typemap"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

type Bank struct {
	ID       int64      `orm:"id,autoincrement"`
	Name     string     `orm:"name,notnull"`
	Accounts []*Account `orm:",onetomany"`
}

type Account struct {
	ID      string  `orm:"id,uuid"`
	Name    string  `orm:"name,notnull,default='unnamed, yet'"`
	Bank    *Bank   `orm:"bankId,manytoone"`
	Balance float64 `orm:"balance,scale=2"`
	Tags    []*Tag  `orm:",manytomany,side=A"`
}

type Tag struct {
	Name     string     `orm:"name,pk"`
	Accounts []*Account `orm:",manytomany,side=B"`
}

type Category struct {
	ID       int64       `orm:"id,pk"`
	Title    string      `orm:"title"`
	Parent   *Category   `orm:"parentId,manytoone,depth=2"`
	Children []*Category `orm:",onetomany,mappedby=parentId"`
}

type fakeRef[T any] struct{}

func (*fakeRef[T]) LazyTarget() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }
func (*fakeRef[T]) LazyMany() bool           { return false }

type fakeCollection[T any] struct{}

func (*fakeCollection[T]) LazyTarget() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }
func (*fakeCollection[T]) LazyMany() bool           { return true }

type Invoice struct {
	ID      int64                 `orm:"id,pk"`
	Account *fakeRef[Account]     `orm:"accountId,manytoone,lazy"`
	Lines   *fakeCollection[Line] `orm:",onetomany,lazy"`
	Issued  time.Time             `orm:"issued,notnull"`
}

type Line struct {
	ID      int64    `orm:"id,pk"`
	Invoice *Invoice `orm:"invoiceId,manytoone"`
	Amount  float64  `orm:"amount,scale=4"`
}

type Audit struct {
	Key      string `orm:"key,pk"`
	Message  string `orm:"message"`
	Internal string
}

func (Audit) Describe() EntityOptions {
	return EntityOptions{
		Table:   "audit_log",
		Options: &Options{FieldStrategy: Explicit, SoftDeleteEnabled: true, WithoutRowid: true},
		Policy:  &Policy{DeployNewTables: true, DropColumns: true},
		Version: 3,
		Indexes: []Index{{Fields: []string{"Message"}}, {Name: "audit_key", Unique: true, Fields: []string{"key", "message"}, Criteria: "key IS NOT NULL"}},
	}
}

type Person struct {
	Id    int64
	Email string `orm:"email,unique,index"`
	Age   int    `orm:"age,check=age >= 0 AND age < 200"`
}

func (Person) TableName() string { return "people" }

func TestBuild(t *testing.T) {
	Convey("测试 Registry.Build", t, func() {
		r := NewRegistry()
		So(r.Register(&Account{}), ShouldBeNil)
		So(r.Build(), ShouldBeNil)

		account, err := Of[Account](r)
		So(err, ShouldBeNil)
		bank, err := r.Entity(Bank{})
		So(err, ShouldBeNil)
		tag, err := r.Entity(reflect.TypeOf(Tag{}))
		So(err, ShouldBeNil)

		Convey("关系引用的实体自动解析", func() {
			tables := []string{}
			for _, e := range r.Entities() {
				tables = append(tables, e.Table)
			}
			So(tables, ShouldResemble, []string{"Account", "Bank", "Tag", "Account_Tag"})
		})

		Convey("列按声明顺序", func() {
			So(account.ColumnNames(), ShouldResemble, []string{"id", "name", "bankId", "balance"})
			So(account.Primary.Name, ShouldEqual, "id")
			So(account.Primary.Primary, ShouldEqual, PrimaryUUID)

			classes := []typemap.StorageClass{}
			for _, c := range account.Columns {
				classes = append(classes, c.Class)
			}
			So(classes, ShouldResemble, []typemap.StorageClass{typemap.TEXT, typemap.TEXT, typemap.INTEGER, typemap.INTEGER})

			name, ok := account.Column("Name")
			So(ok, ShouldBeTrue)
			So(name.Default, ShouldEqual, DefaultAsSpecified)
			So(name.DefaultValue, ShouldEqual, "'unnamed, yet'")
			So(name.NotNull(), ShouldBeTrue)

			balance, _ := account.Column("balance")
			So(balance.Scale, ShouldEqual, 2)
		})

		Convey("外键类型来自被引用的主键", func() {
			rel, ok := account.Relation("Bank")
			So(ok, ShouldBeTrue)
			So(rel.Kind, ShouldEqual, ManyToOne)
			So(rel.Entity, ShouldEqual, bank)
			So(rel.RefField, ShouldEqual, "id")
			So(rel.Side, ShouldEqual, SideDirect)
			So(rel.Depth, ShouldEqual, DefaultDepth)
			So(rel.Column.Name, ShouldEqual, "bankId")
			So(rel.Column.Relation, ShouldEqual, rel)
		})

		Convey("一对多不拥有列", func() {
			So(bank.ColumnNames(), ShouldResemble, []string{"id", "name"})
			rel, _ := bank.Relation("Accounts")
			So(rel.MappedBy, ShouldEqual, "bankId")
			So(rel.RefField, ShouldEqual, "id")
			So(rel.Column, ShouldBeNil)
		})

		Convey("多对多生成关联实体", func() {
			aRel, _ := account.Relation("Tags")
			bRel, _ := tag.Relation("Accounts")
			So(aRel.Side, ShouldEqual, SideA)
			So(bRel.Side, ShouldEqual, SideB)
			So(aRel.Link, ShouldNotBeNil)
			So(aRel.Link, ShouldEqual, bRel.Link)

			link := aRel.Link
			So(link.IsLink(), ShouldBeTrue)
			So(link.Table, ShouldEqual, "Account_Tag")
			So(link.LinkA, ShouldEqual, account)
			So(link.LinkB, ShouldEqual, tag)
			So(link.ColumnNames(), ShouldResemble, []string{"id", "a", "b"})
			So(link.Primary.Name, ShouldEqual, "id")
			a, _ := link.Column("a")
			So(a.Class, ShouldEqual, typemap.TEXT)
			So(len(link.Indexes), ShouldEqual, 2)

			linked, ok := r.Table("account_tag")
			So(ok, ShouldBeTrue)
			So(linked, ShouldEqual, link)
		})

		Convey("必填列", func() {
			So(len(account.RequiredColumns()), ShouldEqual, 0)
			required := bank.RequiredColumns()
			So(len(required), ShouldEqual, 1)
			So(required[0].Name, ShouldEqual, "name")
			So(bank.InsertColumns(), ShouldResemble, []string{"name"})
		})

		Convey("重复解析是幂等的", func() {
			So(r.Register(Account{}, &Bank{}), ShouldBeNil)
			So(r.Build(), ShouldBeNil)
			again, err := Of[Account](r)
			So(err, ShouldBeNil)
			So(again, ShouldEqual, account)
			So(len(r.Entities()), ShouldEqual, 4)
		})

		Convey("未注册的实体", func() {
			_, err := Of[Person](r)
			So(errors.Is(err, ErrNotRegistered), ShouldBeTrue)
		})
	})
}

func TestBuildSelfReference(t *testing.T) {
	Convey("测试自引用实体", t, func() {
		r := NewRegistry()
		r.MustBuild(Category{})
		e, err := Of[Category](r)
		So(err, ShouldBeNil)

		parent, _ := e.Relation("Parent")
		So(parent.Entity, ShouldEqual, e)
		So(parent.Depth, ShouldEqual, 2)
		So(parent.Column.Class, ShouldEqual, typemap.INTEGER)

		children, _ := e.Relation("Children")
		So(children.MappedBy, ShouldEqual, "parentId")
		So(e.ColumnNames(), ShouldResemble, []string{"id", "title", "parentId"})
	})
}

func TestBuildLazy(t *testing.T) {
	Convey("测试延迟加载字段", t, func() {
		r := NewRegistry()
		r.MustBuild(Invoice{})
		invoice, _ := Of[Invoice](r)

		account, _ := invoice.Relation("Account")
		So(account.Lazy, ShouldBeTrue)
		So(account.Target, ShouldEqual, reflect.TypeOf(Account{}))
		So(account.Column.Class, ShouldEqual, typemap.TEXT)

		lines, _ := invoice.Relation("Lines")
		So(lines.Lazy, ShouldBeTrue)
		So(lines.MappedBy, ShouldEqual, "invoiceId")

		issued, _ := invoice.Column("issued")
		So(issued.Class, ShouldEqual, typemap.TEXT)
		So(issued.Required(), ShouldBeTrue)

		line, _ := Of[Line](r)
		amount, _ := line.Column("amount")
		So(amount.Class, ShouldEqual, typemap.INTEGER)
	})
}

func TestBuildDescriptor(t *testing.T) {
	Convey("测试 Descriptor 和 Tabler", t, func() {
		r := NewRegistry()
		r.MustBuild(Audit{}, Person{})

		audit, _ := Of[Audit](r)
		So(audit.Table, ShouldEqual, "audit_log")
		So(audit.Version, ShouldEqual, 3)
		So(audit.Options.WithoutRowid, ShouldBeTrue)
		So(audit.Policy.DropColumns, ShouldBeTrue)
		So(audit.Policy.DeployNewColumns, ShouldBeFalse)
		So(audit.ColumnNames(), ShouldResemble, []string{"key", "message", SoftDeleteColumn})
		So(audit.SoftDelete, ShouldNotBeNil)
		So(audit.SoftDelete.NotNull(), ShouldBeFalse)
		So(audit.Indexes, ShouldResemble, []Index{
			{Name: "idx_audit_log_message", Fields: []string{"message"}},
			{Name: "audit_key", Unique: true, Fields: []string{"key", "message"}, Criteria: "key IS NOT NULL"},
		})

		person, _ := Of[Person](r)
		So(person.Table, ShouldEqual, "people")
		So(person.Primary.Name, ShouldEqual, "Id")
		So(person.Policy, ShouldResemble, DefaultPolicy())
		email, _ := person.Column("email")
		So(email.Unique, ShouldBeTrue)
		So(person.Indexes[0].Name, ShouldEqual, "idx_people_email")
		age, _ := person.Column("Age")
		So(age.Check, ShouldEqual, "age >= 0 AND age < 200")
	})
}

type noPrimary struct {
	Name string `orm:"name"`
}

func (noPrimary) Describe() EntityOptions {
	return EntityOptions{Options: &Options{FieldStrategy: Explicit}}
}

type twoPrimaries struct {
	A int64 `orm:"a,pk"`
	B int64 `orm:"b,pk"`
}

type unmappable struct {
	ID    int64
	Attrs map[string]string
}

type badAutoIncrement struct {
	ID string `orm:"id,autoincrement"`
}

type duplicateColumn struct {
	ID   int64  `orm:"id,pk"`
	Name string `orm:"name"`
	Alt  string `orm:"NAME"`
}

type lazyOnPlainField struct {
	ID   int64 `orm:"id,pk"`
	Bank *Bank `orm:"bankId,manytoone,lazy"`
}

type transfer struct {
	ID   int64  `orm:"id,pk"`
	From *Owner `orm:"fromId,manytoone"`
	To   *Owner `orm:"toId,manytoone"`
}

type Owner struct {
	ID        int64       `orm:"id,pk"`
	Transfers []*transfer `orm:",onetomany"`
}

type wrongLazyKind struct {
	ID   int64                 `orm:"id,pk"`
	Bank *fakeCollection[Bank] `orm:"bankId,manytoone"`
}

type badTag struct {
	ID int64 `orm:"id,pk,whatever"`
}

type Dup1 struct {
	ID int64 `orm:"id,pk"`
}

func (Dup1) TableName() string { return "dup" }

type Dup2 struct {
	ID int64 `orm:"id,pk"`
}

func (Dup2) TableName() string { return "DUP" }

func TestBuildErrors(t *testing.T) {
	Convey("测试配置错误在 Build 时返回", t, func() {
		cases := []struct {
			name   string
			entity any
		}{
			{"缺少主键", noPrimary{}},
			{"多个主键", twoPrimaries{}},
			{"不可映射的类型", unmappable{}},
			{"自增主键不是整数", badAutoIncrement{}},
			{"重复列名", duplicateColumn{}},
			{"lazy 用于普通字段", lazyOnPlainField{}},
			{"一对多外键不明确", Owner{}},
			{"延迟字段类型与关系不符", wrongLazyKind{}},
			{"未知 tag", badTag{}},
		}
		for _, c := range cases {
			Convey(c.name, func() {
				r := NewRegistry()
				So(r.Register(c.entity), ShouldBeNil)
				err := r.Build()
				So(errors.Is(err, ErrConfiguration), ShouldBeTrue)
				So(len(r.Entities()), ShouldEqual, 0)
			})
		}

		Convey("重复表名", func() {
			r := NewRegistry()
			So(r.Register(Dup1{}, Dup2{}), ShouldBeNil)
			So(errors.Is(r.Build(), ErrConfiguration), ShouldBeTrue)
		})

		Convey("非结构体", func() {
			r := NewRegistry()
			So(errors.Is(r.Register(1), ErrConfiguration), ShouldBeTrue)
			So(errors.Is(r.Register(nil), ErrConfiguration), ShouldBeTrue)
		})
	})
}

func TestSplitTag(t *testing.T) {
	Convey("测试 splitTag", t, func() {
		So(splitTag("a,b,c"), ShouldResemble, []string{"a", "b", "c"})
		So(splitTag("a,default='x,y',c"), ShouldResemble, []string{"a", "default='x,y'", "c"})
		So(splitTag("a,default=(1,2)"), ShouldResemble, []string{"a", "default=(1,2)"})
		So(splitTag("a,notnull,check=a IN (1, 2), b"), ShouldResemble, []string{"a", "notnull", "check=a IN (1, 2), b"})
		So(splitTag(""), ShouldResemble, []string{""})
	})
}
