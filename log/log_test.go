package log

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestDefault(t *testing.T) {
	Convey("测试默认日志器", t, func() {
		So(Default(), ShouldNotBeNil)

		old := Default()
		d := Discard()
		SetDefault(d)
		So(Default(), ShouldEqual, d)
		SetDefault(nil)
		So(Default(), ShouldEqual, d)
		SetDefault(old)
	})

	Convey("测试 NewLogWithOptions", t, func() {
		l, err := NewLogWithOptions(&Options{Level: "debug", Format: "json"})
		So(err, ShouldBeNil)
		So(l, ShouldNotBeNil)

		_, err = NewLogWithOptions(&Options{Level: "verbose"})
		So(err, ShouldNotBeNil)
	})
}
