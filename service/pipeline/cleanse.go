/*
 * @module service/pipeline/cleanse
 * @description 传感器读数清洗：时间戳解析、中位数补齐、IQR离群值过滤与质量评分
 * @architecture 分层架构 - 核心服务层（纯函数，单批次全量处理）
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 解析时间戳 -> 中位数补齐 -> 温度IQR过滤 -> 湿度IQR过滤 -> 质量评分 -> 按时间排序
 * @rules
 *   - 时间戳非法的行丢弃，不致命
 *   - 空批次或全空列致命，整批终止
 *   - 湿度过滤作用于温度过滤后的剩余集合，过滤顺序不可调换
 *   - 单行批次的IQR边界退化为该值本身，该行必然通过过滤
 * @dependencies sensorhub-service/service/models, sensorhub-service/service/utils
 * @refs service/pipeline/stats.go, service/pipeline/cleanse_processor.go
 */

package pipeline

import (
	"fmt"
	"sort"
	"time"

	"sensorhub-service/service/models"
	"sensorhub-service/service/utils"
)

// 质量评分的合理物理范围，闭区间
const (
	PlausibleTemperatureMin = 10.0
	PlausibleTemperatureMax = 40.0
	PlausibleHumidityMin    = 20.0
	PlausibleHumidityMax    = 95.0

	QualityScoreNormal  = 1.0
	QualityScoreSuspect = 0.8
)

var timeConverter = utils.NewDataConverter()

// CleanseStats 清洗过程的批次级统计
type CleanseStats struct {
	RowsIn                int64         `json:"rows_in"`
	RowsOut               int64         `json:"rows_out"`
	DroppedBadTimestamp   int64         `json:"dropped_bad_timestamp"`
	DroppedTemperatureIQR int64         `json:"dropped_temperature_iqr"`
	DroppedHumidityIQR    int64         `json:"dropped_humidity_iqr"`
	ImputedTemperature    int64         `json:"imputed_temperature"`
	ImputedHumidity       int64         `json:"imputed_humidity"`
	TemperatureMedian     float64       `json:"temperature_median"`
	HumidityMedian        float64       `json:"humidity_median"`
	TemperatureBounds     OutlierBounds `json:"temperature_bounds"`
	HumidityBounds        OutlierBounds `json:"humidity_bounds"`
	HighQualityRows       int64         `json:"high_quality_rows"`
	SuspectQualityRows    int64         `json:"suspect_quality_rows"`
}

// cleanseRow 清洗过程中的中间行
type cleanseRow struct {
	sensorID    string
	eventTime   time.Time
	temperature *float64
	humidity    *float64
}

// CleanseReadings 清洗一批原始读数，返回按时间升序排列的完整读数与批次统计。
// 整个批次在内存中两遍处理：先计算批次级标量，再逐行应用。
func CleanseReadings(readings []models.SensorReading) ([]models.CleanReading, *CleanseStats, error) {
	stats := &CleanseStats{RowsIn: int64(len(readings))}

	if len(readings) == 0 {
		return nil, nil, fmt.Errorf("清洗失败: %w", ErrEmptyBatch)
	}

	// 第一步：解析时间戳，丢弃非法行
	rows := make([]cleanseRow, 0, len(readings))
	for _, reading := range readings {
		eventTime, err := timeConverter.ParseSensorTime(reading.RecordedAt)
		if err != nil {
			stats.DroppedBadTimestamp++
			continue
		}
		rows = append(rows, cleanseRow{
			sensorID:    reading.SensorID,
			eventTime:   eventTime,
			temperature: reading.Temperature,
			humidity:    reading.Humidity,
		})
	}

	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("清洗失败: 所有行时间戳均非法: %w", ErrEmptyBatch)
	}

	// 第二步：分别对温度、湿度做中位数补齐
	temperatureMedian, err := columnMedian(rows, func(r *cleanseRow) *float64 { return r.temperature }, "temperature")
	if err != nil {
		return nil, nil, err
	}
	humidityMedian, err := columnMedian(rows, func(r *cleanseRow) *float64 { return r.humidity }, "humidity")
	if err != nil {
		return nil, nil, err
	}
	stats.TemperatureMedian = temperatureMedian
	stats.HumidityMedian = humidityMedian

	for i := range rows {
		if rows[i].temperature == nil {
			v := temperatureMedian
			rows[i].temperature = &v
			stats.ImputedTemperature++
		}
		if rows[i].humidity == nil {
			v := humidityMedian
			rows[i].humidity = &v
			stats.ImputedHumidity++
		}
	}

	// 第三步：温度IQR过滤
	temperatureBounds, err := IQRBounds(columnValues(rows, func(r *cleanseRow) float64 { return *r.temperature }))
	if err != nil {
		return nil, nil, fmt.Errorf("计算温度IQR边界失败: %w", err)
	}
	stats.TemperatureBounds = temperatureBounds

	filtered := rows[:0]
	for _, row := range rows {
		if temperatureBounds.Contains(*row.temperature) {
			filtered = append(filtered, row)
		} else {
			stats.DroppedTemperatureIQR++
		}
	}
	rows = filtered

	// 第四步：湿度IQR过滤，基于温度过滤后的剩余集合计算边界
	if len(rows) > 0 {
		humidityBounds, err := IQRBounds(columnValues(rows, func(r *cleanseRow) float64 { return *r.humidity }))
		if err != nil {
			return nil, nil, fmt.Errorf("计算湿度IQR边界失败: %w", err)
		}
		stats.HumidityBounds = humidityBounds

		filtered = rows[:0]
		for _, row := range rows {
			if humidityBounds.Contains(*row.humidity) {
				filtered = append(filtered, row)
			} else {
				stats.DroppedHumidityIQR++
			}
		}
		rows = filtered
	}

	// 第五步：质量评分并按时间升序排列
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].eventTime.Before(rows[j].eventTime)
	})

	cleaned := make([]models.CleanReading, 0, len(rows))
	for _, row := range rows {
		score := QualityScoreSuspect
		if isPlausible(*row.temperature, *row.humidity) {
			score = QualityScoreNormal
			stats.HighQualityRows++
		} else {
			stats.SuspectQualityRows++
		}
		cleaned = append(cleaned, models.CleanReading{
			SensorID:         row.sensorID,
			EventTime:        row.eventTime,
			Temperature:      *row.temperature,
			Humidity:         *row.humidity,
			DataQualityScore: score,
		})
	}

	stats.RowsOut = int64(len(cleaned))
	return cleaned, stats, nil
}

// columnMedian 计算某列所有非空值的中位数，全空列致命
func columnMedian(rows []cleanseRow, get func(*cleanseRow) *float64, column string) (float64, error) {
	values := make([]float64, 0, len(rows))
	for i := range rows {
		if v := get(&rows[i]); v != nil {
			values = append(values, *v)
		}
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("计算%s中位数失败: %w", column, ErrColumnAllNull)
	}
	return Median(values)
}

// columnValues 提取某列的全部值
func columnValues(rows []cleanseRow, get func(*cleanseRow) float64) []float64 {
	values := make([]float64, len(rows))
	for i := range rows {
		values[i] = get(&rows[i])
	}
	return values
}

// isPlausible 判断读数是否落在合理物理范围内
func isPlausible(temperature, humidity float64) bool {
	return temperature >= PlausibleTemperatureMin && temperature <= PlausibleTemperatureMax &&
		humidity >= PlausibleHumidityMin && humidity <= PlausibleHumidityMax
}
