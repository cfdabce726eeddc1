package monitor_client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/common/model"
)

const vectorPayload = `{"status":"success","data":{"resultType":"vector","result":[{"metric":{"__name__":"sensorhub_readings_ingested_total","source_type":"mqtt"},"value":[1704103200,"42"]}]}}`

const matrixPayload = `{"status":"success","data":{"resultType":"matrix","result":[{"metric":{"source_type":"mqtt"},"values":[[1704103200,"1"],[1704103260,"2"]]}]}}`

func TestQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query" {
			t.Errorf("请求路径 = %s, 期望 /api/v1/query", r.URL.Path)
		}
		if r.FormValue("query") == "" {
			t.Error("缺少 query 参数")
		}
		if r.FormValue("time") == "" {
			t.Error("缺少 time 参数")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(vectorPayload))
	}))
	defer server.Close()

	SetVictoriaMetricsUrl(server.URL)

	tests := []struct {
		name      string
		query     string
		queryTime time.Time
		wantErr   bool
	}{
		{name: "即时向量查询", query: "sensorhub_readings_ingested_total", queryTime: time.Now()},
		{name: "拒绝空表达式", queryTime: time.Now(), wantErr: true},
		{name: "零值时间回退为当前时间", query: "sum(sensorhub_readings_ingested_total)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			result, err := Query(ctx, tt.query, tt.queryTime)

			if (err != nil) != tt.wantErr {
				t.Errorf("Query() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if tt.wantErr {
				return
			}
			if result == nil {
				t.Fatal("期望返回结果，但得到 nil")
			}
			if result.Type != model.ValVector {
				t.Errorf("结果类型 = %v, 期望 vector", result.Type)
			}

			vector, ok := result.Value.(model.Vector)
			if !ok {
				t.Fatalf("结果值类型 = %T, 期望 model.Vector", result.Value)
			}
			if len(vector) != 1 {
				t.Fatalf("样本数 = %d, 期望 1", len(vector))
			}
			if vector[0].Value != 42 {
				t.Errorf("样本值 = %v, 期望 42", vector[0].Value)
			}
			if vector[0].Metric["source_type"] != "mqtt" {
				t.Errorf("样本标签 source_type = %v, 期望 mqtt", vector[0].Metric["source_type"])
			}
		})
	}
}

func TestQuery_ErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"error","error":"invalid expression"}`))
	}))
	defer server.Close()

	SetVictoriaMetricsUrl(server.URL)

	_, err := Query(context.Background(), "up{", time.Now())
	if err == nil {
		t.Fatal("期望查询错误，但没有收到错误")
	}
}

func TestQueryRange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query_range" {
			t.Errorf("请求路径 = %s, 期望 /api/v1/query_range", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(matrixPayload))
	}))
	defer server.Close()

	SetVictoriaMetricsUrl(server.URL)

	end := time.Now()
	start := end.Add(-time.Hour)

	tests := []struct {
		name    string
		query   string
		start   time.Time
		end     time.Time
		step    time.Duration
		wantErr bool
	}{
		{name: "区间矩阵查询", query: "rate(sensorhub_readings_ingested_total[5m])", start: start, end: end, step: 15 * time.Second},
		{name: "拒绝空表达式", start: start, end: end, step: 15 * time.Second, wantErr: true},
		{name: "拒绝零值开始时间", query: "up", end: end, step: 15 * time.Second, wantErr: true},
		{name: "拒绝零值结束时间", query: "up", start: start, step: 15 * time.Second, wantErr: true},
		{name: "拒绝开始晚于结束", query: "up", start: end, end: start, step: 15 * time.Second, wantErr: true},
		{name: "零步长回退为默认步长", query: "up", start: start, end: end},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			result, err := QueryRange(ctx, tt.query, tt.start, tt.end, tt.step)

			if (err != nil) != tt.wantErr {
				t.Errorf("QueryRange() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if tt.wantErr {
				return
			}
			if result == nil {
				t.Fatal("期望返回结果，但得到 nil")
			}

			matrix, ok := result.Value.(model.Matrix)
			if !ok {
				t.Fatalf("结果值类型 = %T, 期望 model.Matrix", result.Value)
			}
			if len(matrix) != 1 || len(matrix[0].Values) != 2 {
				t.Errorf("矩阵形状 = %d 条序列, 期望 1 条含 2 个采样点", len(matrix))
			}
		})
	}
}

func TestQueryResult_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantType model.ValueType
		wantErr  bool
	}{
		{
			name:     "向量结果",
			payload:  `{"resultType":"vector","result":[{"metric":{"__name__":"up"},"value":[1704103200,"1"]}]}`,
			wantType: model.ValVector,
			wantErr:  false,
		},
		{
			name:     "矩阵结果",
			payload:  `{"resultType":"matrix","result":[{"metric":{},"values":[[1704103200,"1"]]}]}`,
			wantType: model.ValMatrix,
			wantErr:  false,
		},
		{
			name:     "标量结果",
			payload:  `{"resultType":"scalar","result":[1704103200,"3.14"]}`,
			wantType: model.ValScalar,
			wantErr:  false,
		},
		{
			name:     "字符串结果",
			payload:  `{"resultType":"string","result":[1704103200,"demo"]}`,
			wantType: model.ValString,
			wantErr:  false,
		},
		{
			name:    "未知结果类型",
			payload: `{"resultType":"bogus","result":[]}`,
			wantErr: true,
		},
		{
			name:     "缺少result字段",
			payload:  `{"resultType":"vector"}`,
			wantType: model.ValVector,
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var qr QueryResult
			err := qr.UnmarshalJSON([]byte(tt.payload))

			if (err != nil) != tt.wantErr {
				t.Errorf("UnmarshalJSON() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if qr.Type != tt.wantType {
				t.Errorf("结果类型 = %v, 期望 %v", qr.Type, tt.wantType)
			}
		})
	}
}

func TestQueryVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(vectorPayload))
	}))
	defer server.Close()

	SetVictoriaMetricsUrl(server.URL)

	vector, err := QueryVector(context.Background(), "sensorhub_readings_ingested_total", time.Now())
	if err != nil {
		t.Fatalf("QueryVector() error = %v", err)
	}
	if len(vector) != 1 || vector[0].Value != 42 {
		t.Errorf("向量结果 = %v, 期望单样本值 42", vector)
	}
}

func TestQueryVector_TypeMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(matrixPayload))
	}))
	defer server.Close()

	SetVictoriaMetricsUrl(server.URL)

	_, err := QueryVector(context.Background(), "up", time.Now())
	if err == nil {
		t.Fatal("期望类型不匹配错误，但没有收到错误")
	}
}

func TestQueryRangeMatrix(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(matrixPayload))
	}))
	defer server.Close()

	SetVictoriaMetricsUrl(server.URL)

	end := time.Now()
	matrix, err := QueryRangeMatrix(context.Background(), "rate(sensorhub_readings_ingested_total[5m])",
		end.Add(-time.Hour), end, time.Minute)
	if err != nil {
		t.Fatalf("QueryRangeMatrix() error = %v", err)
	}
	if len(matrix) != 1 {
		t.Fatalf("序列数 = %d, 期望 1", len(matrix))
	}
	if matrix[0].Values[1].Value != 2 {
		t.Errorf("第二个采样点 = %v, 期望 2", matrix[0].Values[1].Value)
	}
}

func TestFormatTime(t *testing.T) {
	if got := formatTime(time.Unix(0, 0)); got != "0" {
		t.Errorf("formatTime(纪元) = %v, 期望 0", got)
	}
	if got := formatTime(time.Unix(1704103200, 0)); got != "1704103200" {
		t.Errorf("formatTime() = %v, 期望 1704103200", got)
	}
}

func TestSetAndGetVictoriaMetricsUrl(t *testing.T) {
	originalUrl := GetVictoriaMetricsUrl()
	defer SetVictoriaMetricsUrl(originalUrl)

	SetVictoriaMetricsUrl("http://victoria-metrics:8428")
	if got := GetVictoriaMetricsUrl(); got != "http://victoria-metrics:8428" {
		t.Errorf("GetVictoriaMetricsUrl() = %v, 期望 http://victoria-metrics:8428", got)
	}
}

func TestQueryContextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
		w.Write([]byte(vectorPayload))
	}))
	defer server.Close()

	SetVictoriaMetricsUrl(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := Query(ctx, "up", time.Now()); err == nil {
		t.Error("期望上下文超时错误，但没有收到错误")
	}
}
