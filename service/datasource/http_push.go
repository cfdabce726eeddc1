/*
 * @module service/datasource/http_push
 * @description HTTP推送传感器数据源，由批量上报接口按需调用，无常驻连接
 * @architecture 适配器模式 - 上报接口把请求体交给数据源做脚本预处理和入库
 * @stateFlow 非常驻数据源：初始化 -> 接口调用时执行ingest -> 停止
 * @rules 单次请求条数受batch_size限制；报文可以是单个对象或对象数组
 * @refs reading_sink.go, api/controllers/reading_controller.go
 */

package datasource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sensorhub-service/service/meta"
	"sensorhub-service/service/models"
)

// HTTPPushDataSource HTTP推送传感器数据源实现
type HTTPPushDataSource struct {
	*BaseDataSource
	maxBatchSize int

	sink ReadingSink

	stats struct {
		sync.RWMutex
		requests      int64
		ingested      int64
		rejected      int64
		lastRequestAt time.Time
	}
}

// NewHTTPPushDataSource 创建HTTP推送数据源
func NewHTTPPushDataSource() DataSourceInterface {
	return &HTTPPushDataSource{
		BaseDataSource: NewBaseDataSource(meta.DataSourceTypeHTTPPush, false), // 非常驻数据源
		maxBatchSize:   1000,
	}
}

// Init 初始化HTTP推送数据源
func (h *HTTPPushDataSource) Init(ctx context.Context, ds *models.DataSource) error {
	if err := h.BaseDataSource.Init(ctx, ds); err != nil {
		return err
	}

	if ds.ParamsConfig != nil {
		if batchSize, exists := ds.ParamsConfig[meta.DataSourceFieldBatchSize]; exists {
			switch v := batchSize.(type) {
			case float64:
				if v > 0 {
					h.maxBatchSize = int(v)
				}
			case int:
				if v > 0 {
					h.maxBatchSize = v
				}
			}
		}
	}

	h.sink = GetGlobalReadingSink()
	return nil
}

// Execute 执行操作
func (h *HTTPPushDataSource) Execute(ctx context.Context, request *ExecuteRequest) (*ExecuteResponse, error) {
	startTime := time.Now()
	response := &ExecuteResponse{
		Success:   false,
		Timestamp: startTime,
	}

	if !h.IsInitialized() {
		response.Error = "数据源未初始化"
		response.Duration = time.Since(startTime)
		return response, fmt.Errorf("数据源未初始化")
	}

	switch request.Operation {
	case OperationIngest:
		return h.handleIngest(ctx, request, startTime)
	case OperationStatus:
		return h.handleStatus(ctx, request, startTime)
	case OperationTest:
		response.Success = true
		response.Message = "HTTP推送数据源无需连接测试"
		response.Duration = time.Since(startTime)
		return response, nil
	default:
		response.Error = fmt.Sprintf("不支持的操作: %s", request.Operation)
		response.Duration = time.Since(startTime)
		return response, fmt.Errorf("不支持的操作: %s", request.Operation)
	}
}

// handleIngest 接收一批报文，逐条预处理后写入汇聚器
func (h *HTTPPushDataSource) handleIngest(ctx context.Context, request *ExecuteRequest, startTime time.Time) (*ExecuteResponse, error) {
	response := &ExecuteResponse{
		Success:   false,
		Timestamp: startTime,
	}

	payloads := extractPayloads(request.Data)
	if len(payloads) == 0 {
		response.Error = "缺少报文数据"
		response.Duration = time.Since(startTime)
		return response, fmt.Errorf("缺少报文数据")
	}
	if len(payloads) > h.maxBatchSize {
		response.Error = fmt.Sprintf("单次上报不能超过 %d 条", h.maxBatchSize)
		response.Duration = time.Since(startTime)
		return response, fmt.Errorf("单次上报不能超过 %d 条", h.maxBatchSize)
	}

	h.stats.Lock()
	h.stats.requests++
	h.stats.lastRequestAt = time.Now()
	h.stats.Unlock()

	ingested := 0
	rejected := 0
	for _, payload := range payloads {
		result, err := h.runPreprocessScript(ctx, payload, nil)
		if err != nil {
			rejected++
			continue
		}

		for _, normalized := range normalizeScriptResult(result) {
			if err := h.sink.Ingest(ctx, h.GetID(), h.GetType(), normalized); err != nil {
				rejected++
				continue
			}
			ingested++
		}
	}

	h.stats.Lock()
	h.stats.ingested += int64(ingested)
	h.stats.rejected += int64(rejected)
	h.stats.Unlock()

	response.Success = true
	response.RowCount = int64(ingested)
	response.Message = fmt.Sprintf("已接收 %d 条，拒收 %d 条", ingested, rejected)
	response.Metadata = map[string]interface{}{
		"ingested": ingested,
		"rejected": rejected,
	}
	response.Duration = time.Since(startTime)
	return response, nil
}

// extractPayloads 把请求数据展开为报文列表
func extractPayloads(data interface{}) []map[string]interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		if len(v) == 0 {
			return nil
		}
		return []map[string]interface{}{v}
	case []map[string]interface{}:
		return v
	case []interface{}:
		payloads := make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			if payload, ok := item.(map[string]interface{}); ok && len(payload) > 0 {
				payloads = append(payloads, payload)
			}
		}
		return payloads
	default:
		return nil
	}
}

// handleStatus 状态查询
func (h *HTTPPushDataSource) handleStatus(ctx context.Context, request *ExecuteRequest, startTime time.Time) (*ExecuteResponse, error) {
	response := &ExecuteResponse{
		Success:   true,
		Timestamp: startTime,
	}

	h.stats.RLock()
	defer h.stats.RUnlock()

	response.Data = map[string]interface{}{
		"max_batch_size":  h.maxBatchSize,
		"requests":        h.stats.requests,
		"ingested":        h.stats.ingested,
		"rejected":        h.stats.rejected,
		"last_request_at": h.stats.lastRequestAt,
	}
	response.Duration = time.Since(startTime)
	return response, nil
}
