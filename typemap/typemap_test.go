package typemap

import (
	"database/sql"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

type money int64

type columnClasses map[string]StorageClass

func (c columnClasses) ColumnClass(field string) (StorageClass, bool) {
	class, ok := c[field]
	return class, ok
}

func TestResolveType(t *testing.T) {
	Convey("测试 ResolveType", t, func() {
		m := NewMapper()
		cases := []struct {
			value any
			class StorageClass
		}{
			{"", TEXT},
			{int(0), INTEGER},
			{int8(0), INTEGER},
			{uint32(0), INTEGER},
			{true, INTEGER},
			{float32(0), REAL},
			{float64(0), REAL},
			{[]byte(nil), BLOB},
			{time.Time{}, TEXT},
			{uuid.UUID{}, TEXT},
			{sql.NullString{}, TEXT},
			{sql.NullInt64{}, INTEGER},
			{money(0), INTEGER},
			{new(string), TEXT},
			{new(*int64), INTEGER},
		}
		for _, c := range cases {
			class, err := m.ResolveType(reflect.TypeOf(c.value))
			So(err, ShouldBeNil)
			So(class, ShouldEqual, c.class)
		}

		Convey("不可映射的类型", func() {
			for _, v := range []any{map[string]int{}, []string{}, struct{ A int }{}, make(chan int), func() {}} {
				_, err := m.ResolveType(reflect.TypeOf(v))
				So(errors.Is(err, ErrUnmappableType), ShouldBeTrue)
				So(m.IsMappableType(reflect.TypeOf(v)), ShouldBeFalse)
			}
			_, err := m.ResolveType(nil)
			So(err, ShouldNotBeNil)
		})

		Convey("注册自定义类型", func() {
			type point struct{ X, Y int }
			So(m.IsMappableType(reflect.TypeOf(point{})), ShouldBeFalse)
			m.Register(reflect.TypeOf(point{}), BLOB)
			class, err := m.ResolveType(reflect.TypeOf(&point{}))
			So(err, ShouldBeNil)
			So(class, ShouldEqual, BLOB)
		})
	})
}

func TestAutoDetectType(t *testing.T) {
	Convey("测试 AutoDetectType 定点小数", t, func() {
		m := NewMapper()
		class, err := m.AutoDetectType(reflect.TypeOf(float64(0)), 2)
		So(err, ShouldBeNil)
		So(class, ShouldEqual, INTEGER)

		class, err = m.AutoDetectType(reflect.TypeOf(float64(0)), 0)
		So(err, ShouldBeNil)
		So(class, ShouldEqual, REAL)

		So(m.IsNullableType(reflect.TypeOf(new(int))), ShouldBeTrue)
		So(m.IsNullableType(reflect.TypeOf(sql.NullString{})), ShouldBeTrue)
		So(m.IsNullableType(reflect.TypeOf("")), ShouldBeFalse)
	})
}

func TestReferenceType(t *testing.T) {
	Convey("测试外键类型解析", t, func() {
		m := NewMapper()
		bank := columnClasses{"id": INTEGER, "code": TEXT}

		class, err := m.GetReferencingType(bank, "id")
		So(err, ShouldBeNil)
		So(class, ShouldEqual, INTEGER)

		class, err = m.ResolveReferenceType("", bank, "code")
		So(err, ShouldBeNil)
		So(class, ShouldEqual, TEXT)

		_, err = m.ResolveReferenceType(INTEGER, bank, "code")
		So(errors.Is(err, ErrUnmappableType), ShouldBeTrue)

		_, err = m.GetReferencingType(bank, "missing")
		So(errors.Is(err, ErrUnknownField), ShouldBeTrue)
	})
}

func TestParseStorageClass(t *testing.T) {
	Convey("测试 ParseStorageClass", t, func() {
		cases := map[string]StorageClass{
			"INTEGER":      INTEGER,
			"bigint":       INTEGER,
			"TINYINT(1)":   INTEGER,
			"TEXT":         TEXT,
			"varchar(255)": TEXT,
			"CLOB":         TEXT,
			"BLOB":         BLOB,
			"longblob":     BLOB,
			"":             BLOB,
			"REAL":         REAL,
			"double":       REAL,
			"FLOAT":        REAL,
			"DECIMAL":      NUMERIC,
			"DATETIME":     NUMERIC,
		}
		for declared, class := range cases {
			So(ParseStorageClass(declared), ShouldEqual, class)
		}
	})
}

func TestEncodeDecode(t *testing.T) {
	Convey("测试 Encode/Decode", t, func() {
		Convey("定点小数", func() {
			v, err := Encode(19.99, INTEGER, 2)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, int64(1999))

			var f float64
			So(Decode(int64(1999), INTEGER, 2, reflect.ValueOf(&f).Elem()), ShouldBeNil)
			So(f, ShouldAlmostEqual, 19.99)

			So(Decode([]byte("1999"), INTEGER, 2, reflect.ValueOf(&f).Elem()), ShouldBeNil)
			So(f, ShouldAlmostEqual, 19.99)
		})

		Convey("布尔", func() {
			v, err := Encode(true, INTEGER, 0)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, int64(1))

			var b bool
			So(Decode(int64(1), INTEGER, 0, reflect.ValueOf(&b).Elem()), ShouldBeNil)
			So(b, ShouldBeTrue)
			So(Decode("0", INTEGER, 0, reflect.ValueOf(&b).Elem()), ShouldBeNil)
			So(b, ShouldBeFalse)
		})

		Convey("时间", func() {
			now := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.FixedZone("CST", 8*3600))
			v, err := Encode(now, TEXT, 0)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, "2024-05-05T23:08:09.123456789Z")

			var decoded time.Time
			So(Decode(v, TEXT, 0, reflect.ValueOf(&decoded).Elem()), ShouldBeNil)
			So(decoded.Equal(now), ShouldBeTrue)

			So(Decode("2024-05-06 07:08:09", TEXT, 0, reflect.ValueOf(&decoded).Elem()), ShouldBeNil)
			So(decoded.Hour(), ShouldEqual, 7)
		})

		Convey("UUID", func() {
			id := uuid.New()
			v, err := Encode(id, TEXT, 0)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, id.String())

			var decoded uuid.UUID
			So(Decode([]byte(id.String()), TEXT, 0, reflect.ValueOf(&decoded).Elem()), ShouldBeNil)
			So(decoded, ShouldEqual, id)
		})

		Convey("指针与 NULL", func() {
			v, err := Encode((*int)(nil), INTEGER, 0)
			So(err, ShouldBeNil)
			So(v, ShouldBeNil)

			n := 5
			v, err = Encode(&n, INTEGER, 0)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, int64(5))

			var p *int
			So(Decode(int64(7), INTEGER, 0, reflect.ValueOf(&p).Elem()), ShouldBeNil)
			So(*p, ShouldEqual, 7)
			So(Decode(nil, INTEGER, 0, reflect.ValueOf(&p).Elem()), ShouldBeNil)
			So(p, ShouldBeNil)
		})

		Convey("溢出与类型错误", func() {
			var i8 int8
			So(Decode(int64(1000), INTEGER, 0, reflect.ValueOf(&i8).Elem()), ShouldNotBeNil)
			var u uint
			So(Decode(int64(-1), INTEGER, 0, reflect.ValueOf(&u).Elem()), ShouldNotBeNil)
			_, err := Encode(uint64(1<<63), INTEGER, 0)
			So(err, ShouldNotBeNil)
			_, err = Encode(map[string]int{}, TEXT, 0)
			So(errors.Is(err, ErrUnmappableType), ShouldBeTrue)
		})

		Convey("字符串与字节", func() {
			var s string
			So(Decode([]byte("abc"), TEXT, 0, reflect.ValueOf(&s).Elem()), ShouldBeNil)
			So(s, ShouldEqual, "abc")

			var b []byte
			So(Decode([]byte{1, 2}, BLOB, 0, reflect.ValueOf(&b).Elem()), ShouldBeNil)
			So(b, ShouldResemble, []byte{1, 2})

			var m money
			So(Decode(int64(42), INTEGER, 0, reflect.ValueOf(&m).Elem()), ShouldBeNil)
			So(m, ShouldEqual, money(42))
		})
	})
}
