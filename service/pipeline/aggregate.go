/*
 * @module service/pipeline/aggregate
 * @description 清洗后读数的5分钟固定窗口聚合、派生特征计算与训练样本构建
 * @architecture 分层架构 - 核心服务层（纯函数，单批次全量处理）
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 窗口分桶 -> 逐窗口统计 -> 派生特征 -> 按窗口起点排序 -> 构建下一窗口标签
 * @rules
 *   - 窗口为左闭右开的5分钟时钟对齐区间，只产出非空窗口
 *   - avg_humidity为0时temp_humidity_ratio为NULL，不产生无穷值
 *   - day_of_week约定：1=周日 ... 7=周六
 *   - 训练表最后一个窗口因无后继标签被丢弃
 * @dependencies sensorhub-service/service/models
 * @refs service/pipeline/stats.go, service/pipeline/aggregate_processor.go
 */

package pipeline

import (
	"sort"
	"time"

	"sensorhub-service/service/models"
)

// WindowWidth 聚合窗口宽度，固定5分钟
const WindowWidth = 5 * time.Minute

// WindowStartOf 计算读数所属窗口的起点：
// 截断到分钟后再减去 minute mod 5 分钟，对齐到时钟的5分钟边界。
func WindowStartOf(t time.Time) time.Time {
	truncated := t.Truncate(time.Minute)
	return truncated.Add(-time.Duration(truncated.Minute()%5) * time.Minute)
}

// windowAccumulator 单窗口的增量统计
type windowAccumulator struct {
	windowStart    time.Time
	count          int64
	sumTemperature float64
	minTemperature float64
	maxTemperature float64
	sumHumidity    float64
	minHumidity    float64
	maxHumidity    float64
	sumQuality     float64
}

// AggregateReadings 将清洗后的读数按5分钟窗口聚合，返回按窗口起点升序的聚合结果。
// 空输入返回空结果，不报错；只有实际出现读数的窗口会产出。
func AggregateReadings(readings []models.CleanReading) []models.WindowAggregate {
	if len(readings) == 0 {
		return []models.WindowAggregate{}
	}

	accumulators := make(map[int64]*windowAccumulator)
	for i := range readings {
		reading := &readings[i]
		windowStart := WindowStartOf(reading.EventTime)
		key := windowStart.Unix()

		acc, exists := accumulators[key]
		if !exists {
			acc = &windowAccumulator{
				windowStart:    windowStart,
				minTemperature: reading.Temperature,
				maxTemperature: reading.Temperature,
				minHumidity:    reading.Humidity,
				maxHumidity:    reading.Humidity,
			}
			accumulators[key] = acc
		}

		acc.count++
		acc.sumTemperature += reading.Temperature
		acc.sumHumidity += reading.Humidity
		acc.sumQuality += reading.DataQualityScore
		if reading.Temperature < acc.minTemperature {
			acc.minTemperature = reading.Temperature
		}
		if reading.Temperature > acc.maxTemperature {
			acc.maxTemperature = reading.Temperature
		}
		if reading.Humidity < acc.minHumidity {
			acc.minHumidity = reading.Humidity
		}
		if reading.Humidity > acc.maxHumidity {
			acc.maxHumidity = reading.Humidity
		}
	}

	aggregates := make([]models.WindowAggregate, 0, len(accumulators))
	for _, acc := range accumulators {
		aggregates = append(aggregates, buildAggregate(acc))
	}

	sort.Slice(aggregates, func(i, j int) bool {
		return aggregates[i].WindowStart.Before(aggregates[j].WindowStart)
	})

	return aggregates
}

// buildAggregate 由窗口累计量构建聚合行，含派生特征与日历特征
func buildAggregate(acc *windowAccumulator) models.WindowAggregate {
	windowStart := acc.windowStart.UTC()
	avgTemperature := Round2(acc.sumTemperature / float64(acc.count))
	avgHumidity := Round2(acc.sumHumidity / float64(acc.count))
	minTemperature := Round2(acc.minTemperature)
	maxTemperature := Round2(acc.maxTemperature)
	minHumidity := Round2(acc.minHumidity)
	maxHumidity := Round2(acc.maxHumidity)

	aggregate := models.WindowAggregate{
		WindowStart:    windowStart,
		WindowEnd:      windowStart.Add(WindowWidth),
		AvgTemperature: avgTemperature,
		AvgHumidity:    avgHumidity,
		MinTemperature: minTemperature,
		MaxTemperature: maxTemperature,
		MinHumidity:    minHumidity,
		MaxHumidity:    maxHumidity,
		RecordCount:    acc.count,
		AvgDataQuality: Round3(acc.sumQuality / float64(acc.count)),
		TempRange:      Round2(maxTemperature - minTemperature),
		HumidityRange:  Round2(maxHumidity - minHumidity),
		HourOfDay:      windowStart.Hour(),
		DayOfWeek:      int(windowStart.Weekday()) + 1,
		DayOfYear:      windowStart.YearDay(),
	}

	// 除零保护：avg_humidity为0时比值为NULL，而非无穷值
	if avgHumidity != 0 {
		ratio := Round4(avgTemperature / avgHumidity)
		aggregate.TempHumidityRatio = &ratio
	}

	return aggregate
}

// BuildTrainingSamples 构建监督学习训练样本：
// 每个窗口的标签为下一个窗口的平均温度，最后一个窗口无后继被丢弃。
func BuildTrainingSamples(aggregates []models.WindowAggregate) []models.TrainingSample {
	if len(aggregates) < 2 {
		return []models.TrainingSample{}
	}

	samples := make([]models.TrainingSample, 0, len(aggregates)-1)
	for i := 0; i < len(aggregates)-1; i++ {
		current := &aggregates[i]
		sample := models.TrainingSample{
			SampleIndex:    i,
			WindowStart:    current.WindowStart,
			TargetTemp:     aggregates[i+1].AvgTemperature,
			AvgTemperature: current.AvgTemperature,
			AvgHumidity:    current.AvgHumidity,
			MinTemperature: current.MinTemperature,
			MaxTemperature: current.MaxTemperature,
			MinHumidity:    current.MinHumidity,
			MaxHumidity:    current.MaxHumidity,
			RecordCount:    current.RecordCount,
			AvgDataQuality: current.AvgDataQuality,
			TempRange:      current.TempRange,
			HumidityRange:  current.HumidityRange,
			HourOfDay:      current.HourOfDay,
			DayOfWeek:      current.DayOfWeek,
			DayOfYear:      current.DayOfYear,
		}
		if current.TempHumidityRatio != nil {
			ratio := *current.TempHumidityRatio
			sample.TempHumidityRatio = &ratio
		}
		samples = append(samples, sample)
	}

	return samples
}
