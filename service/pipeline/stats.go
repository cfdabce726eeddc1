/*
 * @module service/pipeline/stats
 * @description 清洗与聚合共用的统计原语：线性插值百分位数、IQR边界和固定小数位舍入
 * @architecture 分层架构 - 核心服务层（纯函数，无外部依赖）
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 两遍扫描：先计算批次级标量（中位数、四分位数），再逐行应用
 * @rules 空批次与全空列属于致命错误，整批终止而非静默跳过
 * @dependencies math, sort
 * @refs service/pipeline/cleanse.go, service/pipeline/aggregate.go
 */

package pipeline

import (
	"errors"
	"math"
	"sort"
)

var (
	// ErrEmptyBatch 批次为空，无法计算统计量
	ErrEmptyBatch = errors.New("批次为空")
	// ErrColumnAllNull 列中全部为空值，无法计算统计量
	ErrColumnAllNull = errors.New("列全部为空值")
)

// OutlierBounds IQR离群值边界，闭区间[Lower, Upper]内的值视为正常
type OutlierBounds struct {
	Q1    float64 `json:"q1"`
	Q3    float64 `json:"q3"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Contains 判断值是否落在边界内（含边界）
func (b OutlierBounds) Contains(v float64) bool {
	return v >= b.Lower && v <= b.Upper
}

// Percentile 计算线性插值百分位数，p取值[0, 1]。
// 对排序后的n个值，位置h = (n-1)*p，结果为相邻两值的线性插值。
func Percentile(values []float64, p float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmptyBatch
	}
	if p < 0 || p > 1 {
		return 0, errors.New("百分位参数必须在[0, 1]范围内")
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0], nil
	}

	h := float64(len(sorted)-1) * p
	lower := int(math.Floor(h))
	frac := h - float64(lower)
	if lower+1 >= len(sorted) {
		return sorted[len(sorted)-1], nil
	}
	return sorted[lower] + frac*(sorted[lower+1]-sorted[lower]), nil
}

// Median 计算中位数（50百分位，线性插值）
func Median(values []float64) (float64, error) {
	return Percentile(values, 0.5)
}

// IQRBounds 计算IQR离群值边界：[Q1 - 1.5*IQR, Q3 + 1.5*IQR]。
// 单值批次的IQR为0，边界退化为该值本身，该值仍落在边界内。
func IQRBounds(values []float64) (OutlierBounds, error) {
	q1, err := Percentile(values, 0.25)
	if err != nil {
		return OutlierBounds{}, err
	}
	q3, err := Percentile(values, 0.75)
	if err != nil {
		return OutlierBounds{}, err
	}

	iqr := q3 - q1
	return OutlierBounds{
		Q1:    q1,
		Q3:    q3,
		Lower: q1 - 1.5*iqr,
		Upper: q3 + 1.5*iqr,
	}, nil
}

// Round2 保留2位小数，四舍五入（远离零）
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Round3 保留3位小数，四舍五入（远离零）
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Round4 保留4位小数，四舍五入（远离零）
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
