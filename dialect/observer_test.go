package dialect

import (
	"bytes"
	"context"
	"testing"

	"github.com/hatlonely/orm/log/logger"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestObserver(t *testing.T) {
	Convey("测试语句观测", t, func() {
		ctx := context.Background()
		registry := prometheus.NewRegistry()
		var buf bytes.Buffer
		log, err := logger.NewSLogWithWriter(&logger.SLogOptions{Level: "debug", Format: "json"}, &buf)
		So(err, ShouldBeNil)

		obs, err := NewObserverWithOptions(&ObserverOptions{
			EnableMetrics: true,
			EnableLogging: true,
			EnableTracing: true,
			Name:          "orm_test",
		}, registry, log)
		So(err, ShouldBeNil)

		Convey("成功和失败分别计数", func() {
			So(obs.Observe(ctx, "SELECT 1", func(context.Context) error { return nil }), ShouldBeNil)
			failure := errors.New("boom")
			So(obs.Observe(ctx, "insert into t values (1)", func(context.Context) error { return failure }), ShouldEqual, failure)

			So(testutil.ToFloat64(obs.metrics.statementCounter.WithLabelValues("select", "success")), ShouldEqual, 1)
			So(testutil.ToFloat64(obs.metrics.statementCounter.WithLabelValues("insert", "error")), ShouldEqual, 1)
			So(testutil.ToFloat64(obs.metrics.activeStatements.WithLabelValues("select")), ShouldEqual, 0)
			So(buf.String(), ShouldContainSubstring, "statement executed")
			So(buf.String(), ShouldContainSubstring, "statement failed")
			So(buf.String(), ShouldContainSubstring, "boom")
		})

		Convey("重复注册复用已有指标", func() {
			other, err := NewObserverWithOptions(&ObserverOptions{EnableMetrics: true, Name: "orm_test"}, registry, nil)
			So(err, ShouldBeNil)
			So(other.Observe(ctx, "SELECT 1", func(context.Context) error { return nil }), ShouldBeNil)
			So(obs.Observe(ctx, "SELECT 1", func(context.Context) error { return nil }), ShouldBeNil)
			So(testutil.ToFloat64(obs.metrics.statementCounter.WithLabelValues("select", "success")), ShouldEqual, 2)
		})

		Convey("慢语句记为 warn", func() {
			slow, err := NewObserverWithOptions(&ObserverOptions{EnableLogging: true, Name: "slow", SlowThreshold: 1}, nil, log)
			So(err, ShouldBeNil)
			So(slow.Observe(ctx, "UPDATE t SET a = 1", func(context.Context) error { return nil }), ShouldBeNil)
			So(buf.String(), ShouldContainSubstring, "slow statement")
		})

		Convey("nil Observer 直接执行", func() {
			var none *Observer
			called := false
			So(none.Observe(ctx, "SELECT 1", func(context.Context) error {
				called = true
				return nil
			}), ShouldBeNil)
			So(called, ShouldBeTrue)
		})

		Convey("nil 选项", func() {
			_, err := NewObserverWithOptions(nil, registry, log)
			So(err, ShouldNotBeNil)
		})
	})

	Convey("测试语句类型", t, func() {
		So(operation("  select * from t"), ShouldEqual, "select")
		So(operation(""), ShouldEqual, "unknown")
	})
}

func TestObservedDialect(t *testing.T) {
	Convey("测试方言执行语句时的观测", t, func() {
		ctx := context.Background()
		registry := prometheus.NewRegistry()
		obs, err := NewObserverWithOptions(&ObserverOptions{EnableMetrics: true, Name: "orm_dialect"}, registry, nil)
		So(err, ShouldBeNil)

		d := NewSQLite(NewDSNProvider("sqlite3", ":memory:", false))
		defer d.Close()
		d.SetObserver(obs)

		_, err = d.Exec(ctx, `CREATE TABLE "t" ("a" TEXT)`)
		So(err, ShouldBeNil)
		_, err = d.Exec(ctx, `INSERT INTO "missing" VALUES (1)`)
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "missing")

		So(testutil.ToFloat64(obs.metrics.statementCounter.WithLabelValues("create", "success")), ShouldEqual, 1)
		So(testutil.ToFloat64(obs.metrics.statementCounter.WithLabelValues("insert", "error")), ShouldEqual, 1)
	})
}
