package dialect

import (
	"context"
	"strings"
	"time"

	"github.com/hatlonely/orm/log/logger"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type ObserverOptions struct {
	// EnableMetrics 是否启用指标收集
	EnableMetrics bool `cfg:"enableMetrics" def:"true"`

	// EnableLogging 是否记录语句日志，语句为 debug 级别，慢语句为 warn 级别
	EnableLogging bool `cfg:"enableLogging" def:"true"`

	// EnableTracing 是否启用分布式追踪
	EnableTracing bool `cfg:"enableTracing" def:"false"`

	// Name 作为指标名前缀和 span 的 component 属性
	Name string `cfg:"name" def:"orm"`

	// SlowThreshold 超过该耗时的语句记为慢语句，0 表示不区分
	SlowThreshold time.Duration `cfg:"slowThreshold" def:"200ms"`
}

// ObserverMetrics 语句执行指标
type ObserverMetrics struct {
	statementCounter  *prometheus.CounterVec
	statementDuration *prometheus.HistogramVec
	activeStatements  *prometheus.GaugeVec
}

// NewObserverMetrics 创建指标并注册到 registerer，registerer 为 nil 时只创建不注册。
// 同名指标已经注册过时复用已有的指标
func NewObserverMetrics(name string, registerer prometheus.Registerer) (*ObserverMetrics, error) {
	metrics := &ObserverMetrics{
		statementCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_statements_total",
				Help: "Total number of executed statements",
			},
			[]string{"operation", "status"},
		),
		statementDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_statement_duration_seconds",
				Help:    "Duration of statements in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"operation"},
		),
		activeStatements: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: name + "_active_statements",
				Help: "Number of statements in flight",
			},
			[]string{"operation"},
		),
	}
	if registerer == nil {
		return metrics, nil
	}

	var err error
	if metrics.statementCounter, err = register(registerer, metrics.statementCounter); err != nil {
		return nil, err
	}
	if metrics.statementDuration, err = register(registerer, metrics.statementDuration); err != nil {
		return nil, err
	}
	if metrics.activeStatements, err = register(registerer, metrics.activeStatements); err != nil {
		return nil, err
	}
	return metrics, nil
}

func register[C prometheus.Collector](registerer prometheus.Registerer, c C) (C, error) {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, errors.Wrap(err, "register metrics failed")
	}
	return c, nil
}

// Observer 为语句执行添加指标、日志和追踪，nil Observer 直接执行
type Observer struct {
	logger        logger.Logger
	metrics       *ObserverMetrics
	tracer        trace.Tracer
	name          string
	slowThreshold time.Duration
	enableLogging bool
}

func NewObserverWithOptions(options *ObserverOptions, registerer prometheus.Registerer, log logger.Logger) (*Observer, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}

	obs := &Observer{
		name:          options.Name,
		slowThreshold: options.SlowThreshold,
		enableLogging: options.EnableLogging && log != nil,
	}
	if obs.enableLogging {
		obs.logger = log.WithGroup("dialect")
	}
	if options.EnableMetrics {
		metrics, err := NewObserverMetrics(options.Name, registerer)
		if err != nil {
			return nil, err
		}
		obs.metrics = metrics
	}
	if options.EnableTracing {
		obs.tracer = otel.Tracer("orm." + options.Name)
	}
	return obs, nil
}

// operation 语句的第一个关键字，例如 select、create
func operation(statement string) string {
	fields := strings.Fields(statement)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToLower(fields[0])
}

// Observe 执行 fn 并记录 statement 的观测数据
func (o *Observer) Observe(ctx context.Context, statement string, fn func(context.Context) error) error {
	if o == nil {
		return fn(ctx)
	}

	op := operation(statement)
	start := time.Now()

	var span trace.Span
	if o.tracer != nil {
		ctx, span = o.tracer.Start(ctx, "orm."+op,
			trace.WithAttributes(
				attribute.String("component", o.name),
				attribute.String("db.operation", op),
				attribute.String("db.statement", statement),
			),
		)
		defer span.End()
	}

	if o.metrics != nil {
		o.metrics.activeStatements.WithLabelValues(op).Inc()
		defer o.metrics.activeStatements.WithLabelValues(op).Dec()
	}

	err := fn(ctx)
	duration := time.Since(start)

	if span != nil {
		span.SetAttributes(attribute.Int64("duration_ms", duration.Milliseconds()))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if o.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		o.metrics.statementCounter.WithLabelValues(op, status).Inc()
		o.metrics.statementDuration.WithLabelValues(op).Observe(duration.Seconds())
	}

	if o.enableLogging {
		switch {
		case err != nil:
			o.logger.ErrorContext(ctx, "statement failed",
				"component", o.name,
				"statement", statement,
				"duration_ms", duration.Milliseconds(),
				"error", err.Error(),
			)
		case o.slowThreshold > 0 && duration >= o.slowThreshold:
			o.logger.WarnContext(ctx, "slow statement",
				"component", o.name,
				"statement", statement,
				"duration_ms", duration.Milliseconds(),
			)
		default:
			o.logger.DebugContext(ctx, "statement executed",
				"component", o.name,
				"statement", statement,
				"duration_ms", duration.Milliseconds(),
			)
		}
	}

	return err
}
