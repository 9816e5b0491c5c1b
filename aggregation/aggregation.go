// Package aggregation 查询中的聚合选择表达式
package aggregation

import (
	"fmt"

	"github.com/hatlonely/orm/query"
)

// AggregationType 聚合类型
type AggregationType string

const (
	AggTypeSum   AggregationType = "sum"
	AggTypeAvg   AggregationType = "avg"
	AggTypeMax   AggregationType = "max"
	AggTypeMin   AggregationType = "min"
	AggTypeCount AggregationType = "count"
)

// Aggregation 聚合接口，ToSQL 生成 SELECT 列表中的一项
type Aggregation interface {
	Type() AggregationType
	Name() string
	ToSQL(quote query.Quoter) string
}

// MetricAggregation 指标聚合基础结构
type MetricAggregation struct {
	AggName  string
	Field    string
	Distinct bool
}

func (m *MetricAggregation) Name() string {
	return m.AggName
}

func (m *MetricAggregation) expr(fn string, quote query.Quoter) string {
	arg := "*"
	if m.Field != "" {
		arg = quote.Quote(m.Field)
		if m.Distinct {
			arg = "DISTINCT " + arg
		}
	}
	if m.AggName == "" {
		return fmt.Sprintf("%s(%s)", fn, arg)
	}
	return fmt.Sprintf("%s(%s) AS %s", fn, arg, quote.Quote(m.AggName))
}

// CountAggregation 计数聚合，Field 为空时统计行数
type CountAggregation struct {
	MetricAggregation
}

func (a *CountAggregation) Type() AggregationType {
	return AggTypeCount
}

func (a *CountAggregation) ToSQL(quote query.Quoter) string {
	return a.expr("COUNT", quote)
}

// SumAggregation 求和聚合
type SumAggregation struct {
	MetricAggregation
}

func (a *SumAggregation) Type() AggregationType {
	return AggTypeSum
}

func (a *SumAggregation) ToSQL(quote query.Quoter) string {
	return a.expr("SUM", quote)
}

// AvgAggregation 平均值聚合
type AvgAggregation struct {
	MetricAggregation
}

func (a *AvgAggregation) Type() AggregationType {
	return AggTypeAvg
}

func (a *AvgAggregation) ToSQL(quote query.Quoter) string {
	return a.expr("AVG", quote)
}

// MinAggregation 最小值聚合
type MinAggregation struct {
	MetricAggregation
}

func (a *MinAggregation) Type() AggregationType {
	return AggTypeMin
}

func (a *MinAggregation) ToSQL(quote query.Quoter) string {
	return a.expr("MIN", quote)
}

// MaxAggregation 最大值聚合
type MaxAggregation struct {
	MetricAggregation
}

func (a *MaxAggregation) Type() AggregationType {
	return AggTypeMax
}

func (a *MaxAggregation) ToSQL(quote query.Quoter) string {
	return a.expr("MAX", quote)
}

func Count(name, field string) *CountAggregation {
	return &CountAggregation{MetricAggregation{AggName: name, Field: field}}
}

func Sum(name, field string) *SumAggregation {
	return &SumAggregation{MetricAggregation{AggName: name, Field: field}}
}

func Avg(name, field string) *AvgAggregation {
	return &AvgAggregation{MetricAggregation{AggName: name, Field: field}}
}

func Min(name, field string) *MinAggregation {
	return &MinAggregation{MetricAggregation{AggName: name, Field: field}}
}

func Max(name, field string) *MaxAggregation {
	return &MaxAggregation{MetricAggregation{AggName: name, Field: field}}
}
