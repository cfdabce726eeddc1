/*
 * @module monitor_client/victoria_metrics_client
 * @description VictoriaMetrics查询客户端，提供Prometheus兼容的即时查询与区间查询，结果解码为prometheus model类型
 * @architecture 适配器模式 - 封装时序库HTTP API
 * @documentReference ai_docs/sensor_pipeline_design.md
 * @stateFlow 构造查询参数 -> POST表单提交 -> 按resultType解码 -> 返回model.Value
 * @rules 查询语句不能为空，区间查询起止时间必须有效，步长缺省为15秒
 * @dependencies github.com/prometheus/common/model, net/http
 * @refs api/controllers/dashboard_controller.go
 */
package monitor_client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/common/model"
)

var VictoriaMetricsUrl = "http://victoria-metrics:8428"
var client = &http.Client{
	Timeout: 30 * time.Second,
}

func init() {
	if envUrl := os.Getenv("VICTORIA_METRICS_URL"); envUrl != "" {
		VictoriaMetricsUrl = envUrl
	}
}

// SetVictoriaMetricsUrl 设置 VictoriaMetrics 的 URL（用于测试）
func SetVictoriaMetricsUrl(url string) {
	VictoriaMetricsUrl = url
}

// GetVictoriaMetricsUrl 获取当前 VictoriaMetrics 的 URL
func GetVictoriaMetricsUrl() string {
	return VictoriaMetricsUrl
}

// QueryResultResp Prometheus查询API响应封装
type QueryResultResp struct {
	Status string      `json:"status"`
	Data   QueryResult `json:"data"`
	Error  string      `json:"error,omitempty"`
}

// QueryResult 查询结果，Value按resultType解码为对应的prometheus model类型
type QueryResult struct {
	Type  model.ValueType `json:"resultType"`
	Value model.Value     `json:"-"`
}

// UnmarshalJSON 按resultType把result解码为Scalar/Vector/Matrix/String
func (qr *QueryResult) UnmarshalJSON(b []byte) error {
	v := struct {
		Type   model.ValueType `json:"resultType"`
		Result json.RawMessage `json:"result"`
	}{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	qr.Type = v.Type
	if len(v.Result) == 0 {
		return nil
	}

	switch v.Type {
	case model.ValScalar:
		var sv model.Scalar
		if err := json.Unmarshal(v.Result, &sv); err != nil {
			return err
		}
		qr.Value = &sv
	case model.ValVector:
		var vv model.Vector
		if err := json.Unmarshal(v.Result, &vv); err != nil {
			return err
		}
		qr.Value = vv
	case model.ValMatrix:
		var mv model.Matrix
		if err := json.Unmarshal(v.Result, &mv); err != nil {
			return err
		}
		qr.Value = mv
	case model.ValString:
		var sv model.String
		if err := json.Unmarshal(v.Result, &sv); err != nil {
			return err
		}
		qr.Value = &sv
	default:
		return fmt.Errorf("未知的结果类型: %s", v.Type)
	}

	return nil
}

// execQuery 以POST表单提交查询参数并解码响应，即时查询与区间查询共用
func execQuery(ctx context.Context, endpoint string, params url.Values) (*QueryResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		VictoriaMetricsUrl+endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	var metricsResp QueryResultResp
	if err := json.NewDecoder(resp.Body).Decode(&metricsResp); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}

	if metricsResp.Status != "success" {
		if metricsResp.Error != "" {
			return nil, fmt.Errorf("查询失败: %s", metricsResp.Error)
		}
		return nil, fmt.Errorf("查询失败: %s", metricsResp.Status)
	}
	return &metricsResp.Data, nil
}

// Query 执行即时查询
func Query(ctx context.Context, query string, queryTime time.Time) (*QueryResult, error) {
	if query == "" {
		return nil, errors.New("query cannot be empty")
	}
	if queryTime.IsZero() {
		queryTime = time.Now()
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("time", formatTime(queryTime))
	return execQuery(ctx, "/api/v1/query", params)
}

// QueryRange 执行区间查询
func QueryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) (*QueryResult, error) {
	if query == "" {
		return nil, errors.New("query cannot be empty")
	}
	if start.IsZero() || end.IsZero() {
		return nil, errors.New("start and end time cannot be zero")
	}
	if start.After(end) {
		return nil, errors.New("start time must be before end time")
	}
	if step <= 0 {
		step = 15 * time.Second // 默认步长15秒
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("start", formatTime(start))
	params.Set("end", formatTime(end))
	params.Set("step", strconv.FormatFloat(step.Seconds(), 'f', -1, 64))
	return execQuery(ctx, "/api/v1/query_range", params)
}

func formatTime(t time.Time) string {
	return strconv.FormatFloat(float64(t.Unix()), 'f', -1, 64)
}

// QueryVector 执行即时查询并断言结果为向量
func QueryVector(ctx context.Context, query string, queryTime time.Time) (model.Vector, error) {
	result, err := Query(ctx, query, queryTime)
	if err != nil {
		return nil, err
	}

	vector, ok := result.Value.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("结果类型不是vector: %s", result.Type)
	}
	return vector, nil
}

// QueryRangeMatrix 执行区间查询并断言结果为矩阵
func QueryRangeMatrix(ctx context.Context, query string, start, end time.Time, step time.Duration) (model.Matrix, error) {
	result, err := QueryRange(ctx, query, start, end, step)
	if err != nil {
		return nil, err
	}

	matrix, ok := result.Value.(model.Matrix)
	if !ok {
		return nil, fmt.Errorf("结果类型不是matrix: %s", result.Type)
	}
	return matrix, nil
}
