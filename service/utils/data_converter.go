/**
 * @module data_converter
 * @description 数据转换工具模块，负责传感器读数的数值转换、时间戳解析与字符编码转换
 * @architecture 工具函数模式，提供无状态转换方法集合
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 无状态转换：输入 -> 转换逻辑 -> 输出
 * @rules
 *   - 数值转换需要区分"缺失"与"非法"两种情况
 *   - 时间戳解析失败视为脏数据，由调用方决定丢弃策略
 *   - 所有解析出的时间统一转换为UTC
 *   - 编码转换需要支持GBK等常见中文字符集
 * @dependencies
 *   - strconv: 字符串转换
 *   - time: 时间处理
 *   - golang.org/x/text: 编码转换
 * @refs
 *   - service/pipeline/*: 清洗引擎
 *   - service/datasource/*: 数据接入
 */

package utils

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// sensorTimeLayouts 传感器时间戳支持的布局，按出现频率排序。
// Go在解析时自动接受秒后的小数部分，无需为毫秒/微秒单列布局。
var sensorTimeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
}

// DataConverter 数据转换器
type DataConverter struct{}

// NewDataConverter 创建新的数据转换器实例
func NewDataConverter() *DataConverter {
	return &DataConverter{}
}

// ToString 把任意上报值转为字符串。JSON解码产生的数值是float64，
// 用strconv避免科学计数法；复合类型序列化为JSON文本。
func (dc *DataConverter) ToString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case json.Number:
		return v.String()
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		if data, err := json.Marshal(value); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", value)
	}
}

// toFloat 把上报值转为浮点数，无法转换时报错
func (dc *DataConverter) toFloat(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, fmt.Errorf("无法将类型 %T 转换为浮点数", value)
	}
}

// ToNullableFloat 转换为可空浮点数，区分缺失与非法。
// nil、空串、"null"、"none"以及NaN/Inf视为缺失，返回(nil, nil)；
// 无法解析的非空值视为非法，返回错误。
func (dc *DataConverter) ToNullableFloat(value interface{}) (*float64, error) {
	if value == nil {
		return nil, nil
	}

	if str, ok := value.(string); ok {
		trimmed := strings.TrimSpace(str)
		switch strings.ToLower(trimmed) {
		case "", "null", "none", "nil":
			return nil, nil
		}
		value = trimmed
	}

	result, err := dc.toFloat(value)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return nil, nil
	}
	return &result, nil
}

// ConvertEncoding 在UTF-8与GBK系编码之间转换，同编码或不支持的组合原样返回
func (dc *DataConverter) ConvertEncoding(data []byte, fromEncoding, toEncoding string) ([]byte, error) {
	from := strings.ToLower(fromEncoding)
	to := strings.ToLower(toEncoding)

	var codec transform.Transformer
	switch {
	case isGBKFamily(from) && to == "utf-8":
		codec = simplifiedchinese.GBK.NewDecoder()
	case from == "utf-8" && isGBKFamily(to):
		codec = simplifiedchinese.GBK.NewEncoder()
	default:
		return data, nil
	}

	result, _, err := transform.Bytes(codec, data)
	return result, err
}

func isGBKFamily(name string) bool {
	return name == "gbk" || name == "gb2312"
}

// ParseSensorTime 解析传感器时间戳并统一转换为UTC。
// 解析失败的时间戳属于脏数据，调用方应丢弃对应行。
func (dc *DataConverter) ParseSensorTime(timeStr string) (time.Time, error) {
	trimmed := strings.TrimSpace(timeStr)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("时间字符串为空")
	}

	for _, layout := range sensorTimeLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("无法解析时间字符串: %s", timeStr)
}

// NormalizeString 去除首尾空白并把连续空白压缩为单个空格，用于传感器ID归一化
func (dc *DataConverter) NormalizeString(str string) string {
	return strings.Join(strings.Fields(str), " ")
}
