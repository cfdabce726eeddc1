/*
 * @module service/datasource/csv_file
 * @description CSV文件传感器数据源，一次性导入历史读数文件
 * @architecture 适配器模式 - 把文件内容转换为标准报文后复用读数汇聚器
 * @stateFlow 非常驻数据源：初始化 -> 按需执行导入 -> 停止
 * @rules 首行必须是表头；空单元格按缺失处理；支持GBK转码
 * @dependencies encoding/csv, golang.org/x/text（经utils转码）
 * @refs reading_sink.go, service/utils/data_converter.go
 */

package datasource

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"sensorhub-service/service/meta"
	"sensorhub-service/service/models"
	"sensorhub-service/service/utils"
)

// CSVFileDataSource CSV文件传感器数据源实现
type CSVFileDataSource struct {
	*BaseDataSource
	filePath  string
	delimiter rune
	encoding  string

	sink      ReadingSink
	converter *utils.DataConverter

	lastImport struct {
		sync.RWMutex
		at       time.Time
		rows     int
		ingested int
		rejected int
	}
}

// NewCSVFileDataSource 创建CSV文件数据源
func NewCSVFileDataSource() DataSourceInterface {
	return &CSVFileDataSource{
		BaseDataSource: NewBaseDataSource(meta.DataSourceTypeCSVFile, false), // 非常驻数据源
		delimiter:      ',',
		encoding:       "utf-8",
		converter:      utils.NewDataConverter(),
	}
}

// Init 初始化CSV文件数据源
func (c *CSVFileDataSource) Init(ctx context.Context, ds *models.DataSource) error {
	if err := c.BaseDataSource.Init(ctx, ds); err != nil {
		return err
	}

	config := ds.ConnectionConfig
	if config == nil {
		return fmt.Errorf("连接配置不能为空")
	}

	if path, exists := config[meta.DataSourceFieldFilePath]; exists {
		if pathStr, ok := path.(string); ok && pathStr != "" {
			c.filePath = pathStr
		}
	}
	if c.filePath == "" {
		return fmt.Errorf("缺少file_path配置")
	}

	if ds.ParamsConfig != nil {
		if delim, exists := ds.ParamsConfig[meta.DataSourceFieldDelimiter]; exists {
			if delimStr, ok := delim.(string); ok {
				switch delimStr {
				case ";":
					c.delimiter = ';'
				case "\t", "tab":
					c.delimiter = '\t'
				case ",", "":
					c.delimiter = ','
				default:
					return fmt.Errorf("不支持的分隔符: %s", delimStr)
				}
			}
		}
		if enc, exists := ds.ParamsConfig[meta.DataSourceFieldEncoding]; exists {
			if encStr, ok := enc.(string); ok && encStr != "" {
				c.encoding = strings.ToLower(encStr)
			}
		}
	}

	c.sink = GetGlobalReadingSink()
	return nil
}

// Execute 执行操作
func (c *CSVFileDataSource) Execute(ctx context.Context, request *ExecuteRequest) (*ExecuteResponse, error) {
	startTime := time.Now()
	response := &ExecuteResponse{
		Success:   false,
		Timestamp: startTime,
	}

	if !c.IsInitialized() {
		response.Error = "数据源未初始化"
		response.Duration = time.Since(startTime)
		return response, fmt.Errorf("数据源未初始化")
	}

	switch request.Operation {
	case OperationImport:
		return c.handleImport(ctx, request, startTime)
	case OperationStatus:
		return c.handleStatus(ctx, request, startTime)
	case OperationTest:
		return c.handleTest(ctx, request, startTime)
	default:
		response.Error = fmt.Sprintf("不支持的操作: %s", request.Operation)
		response.Duration = time.Since(startTime)
		return response, fmt.Errorf("不支持的操作: %s", request.Operation)
	}
}

// handleImport 读取整个文件并逐行写入汇聚器，结束时强制刷新
func (c *CSVFileDataSource) handleImport(ctx context.Context, request *ExecuteRequest, startTime time.Time) (*ExecuteResponse, error) {
	response := &ExecuteResponse{
		Success:   false,
		Timestamp: startTime,
	}

	// 允许请求级覆盖文件路径，便于导入同目录下的多个文件
	filePath := c.filePath
	if request.Params != nil {
		if p, exists := request.Params["file_path"]; exists {
			if pathStr, ok := p.(string); ok && pathStr != "" {
				filePath = pathStr
			}
		}
	}

	records, err := c.readRecords(filePath)
	if err != nil {
		response.Error = err.Error()
		response.Duration = time.Since(startTime)
		return response, err
	}

	if len(records) < 2 {
		response.Error = "文件没有数据行"
		response.Duration = time.Since(startTime)
		return response, fmt.Errorf("文件没有数据行")
	}

	header := normalizeHeader(records[0])
	rows := records[1:]

	ingested := 0
	rejected := 0
	for _, row := range rows {
		payload := rowToPayload(header, row)

		result, err := c.runPreprocessScript(ctx, payload, map[string]interface{}{"file": filePath})
		if err != nil {
			rejected++
			continue
		}

		for _, normalized := range normalizeScriptResult(result) {
			if err := c.sink.Ingest(ctx, c.GetID(), c.GetType(), normalized); err != nil {
				rejected++
				continue
			}
			ingested++
		}
	}

	// 导入是一次性操作，立即刷新缓冲保证数据落库
	c.sink.FlushAll(ctx)

	c.lastImport.Lock()
	c.lastImport.at = time.Now()
	c.lastImport.rows = len(rows)
	c.lastImport.ingested = ingested
	c.lastImport.rejected = rejected
	c.lastImport.Unlock()

	slog.Info("CSV文件导入完成",
		"datasource_id", c.GetID(),
		"file", filePath,
		"rows", len(rows),
		"ingested", ingested,
		"rejected", rejected)

	response.Success = true
	response.RowCount = int64(ingested)
	response.Message = fmt.Sprintf("导入完成，共 %d 行，入库 %d 条", len(rows), ingested)
	response.Metadata = map[string]interface{}{
		"file":     filePath,
		"rows":     len(rows),
		"ingested": ingested,
		"rejected": rejected,
	}
	response.Duration = time.Since(startTime)
	return response, nil
}

// readRecords 读取文件内容，按需转码后解析CSV
func (c *CSVFileDataSource) readRecords(filePath string) ([][]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}

	if c.encoding == "gbk" || c.encoding == "gb2312" {
		converted, err := c.converter.ConvertEncoding(data, c.encoding, "utf-8")
		if err != nil {
			return nil, fmt.Errorf("编码转换失败: %w", err)
		}
		data = converted
	}

	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.Comma = c.delimiter
	reader.TrimLeadingSpace = true
	// 设备导出的文件偶尔有缺列的行，放宽列数校验
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("解析CSV失败: %w", err)
	}
	return records, nil
}

// normalizeHeader 表头统一为小写去空格
func normalizeHeader(header []string) []string {
	normalized := make([]string, len(header))
	for i, h := range header {
		normalized[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return normalized
}

// rowToPayload 把一行数据映射为报文，空单元格不进入报文（按缺失处理）
func rowToPayload(header []string, row []string) map[string]interface{} {
	payload := make(map[string]interface{}, len(header))
	for i, col := range header {
		if col == "" || i >= len(row) {
			continue
		}
		value := strings.TrimSpace(row[i])
		if value == "" {
			continue
		}
		payload[col] = value
	}
	return payload
}

// handleStatus 状态查询
func (c *CSVFileDataSource) handleStatus(ctx context.Context, request *ExecuteRequest, startTime time.Time) (*ExecuteResponse, error) {
	response := &ExecuteResponse{
		Success:   true,
		Timestamp: startTime,
	}

	c.lastImport.RLock()
	defer c.lastImport.RUnlock()

	data := map[string]interface{}{
		"file_path": c.filePath,
		"delimiter": string(c.delimiter),
		"encoding":  c.encoding,
	}
	if !c.lastImport.at.IsZero() {
		data["last_import_at"] = c.lastImport.at
		data["last_import_rows"] = c.lastImport.rows
		data["last_import_ingested"] = c.lastImport.ingested
		data["last_import_rejected"] = c.lastImport.rejected
	}

	response.Data = data
	response.Duration = time.Since(startTime)
	return response, nil
}

// handleTest 检查文件是否存在且可读
func (c *CSVFileDataSource) handleTest(ctx context.Context, request *ExecuteRequest, startTime time.Time) (*ExecuteResponse, error) {
	response := &ExecuteResponse{
		Timestamp: startTime,
	}

	info, err := os.Stat(c.filePath)
	if err != nil {
		response.Error = fmt.Sprintf("文件不可访问: %v", err)
		response.Duration = time.Since(startTime)
		return response, fmt.Errorf("文件不可访问: %w", err)
	}
	if info.IsDir() {
		response.Error = "路径是目录而不是文件"
		response.Duration = time.Since(startTime)
		return response, fmt.Errorf("路径是目录而不是文件")
	}

	response.Success = true
	response.Message = fmt.Sprintf("文件可读，大小 %d 字节", info.Size())
	response.Metadata = map[string]interface{}{
		"file_path": c.filePath,
		"size":      info.Size(),
		"modified":  info.ModTime(),
	}
	response.Duration = time.Since(startTime)
	return response, nil
}

// HealthCheck 健康检查，检查文件是否存在
func (c *CSVFileDataSource) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	status, err := c.BaseDataSource.HealthCheck(ctx)
	if err != nil {
		return status, err
	}

	if !c.IsInitialized() {
		return status, nil
	}

	if _, statErr := os.Stat(c.filePath); statErr != nil {
		status.Status = "error"
		status.Message = fmt.Sprintf("文件不可访问: %v", statErr)
	} else {
		status.Details["file_path"] = c.filePath
	}

	return status, nil
}
