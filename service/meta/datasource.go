package meta

import (
	"fmt"
	"regexp"
)

// DataSourceTypeDefinition 数据源类型完整定义
type DataSourceTypeDefinition struct {
	ID                string                  `json:"id"`
	Type              string                  `json:"type"` // messaging, api, file
	Name              string                  `json:"name"`
	Description       string                  `json:"description"`
	Category          string                  `json:"category"`
	Icon              string                  `json:"icon"`
	MetaConfig        []DataSourceConfigField `json:"meta_config"`   // 连接配置字段
	ParamsConfig      []DataSourceConfigField `json:"params_config"` // 参数配置字段
	Examples          []DataSourceExample     `json:"examples"`
	SupportedFeatures []string                `json:"supported_features"`
	Documentation     string                  `json:"documentation"`
	IsActive          bool                    `json:"is_active"`
}

// DataSourceConfigField 配置字段定义
type DataSourceConfigField struct {
	Name         string      `json:"name"`
	DisplayName  string      `json:"display_name"`
	Type         string      `json:"type"` // string, number, boolean, array, object
	Required     bool        `json:"required"`
	DefaultValue interface{} `json:"default_value,omitempty"`
	Description  string      `json:"description"`
	Options      []string    `json:"options,omitempty"` // 用于select类型
	Min          float64     `json:"min,omitempty"`     // 用于number类型
	Max          float64     `json:"max,omitempty"`     // 用于number类型
	Pattern      string      `json:"pattern,omitempty"` // 用于string类型的正则验证
}

// DataSourceExample 示例配置
type DataSourceExample struct {
	Name             string                 `json:"name"`
	Description      string                 `json:"description"`
	ConnectionConfig map[string]interface{} `json:"connection_config"`
	ParamsConfig     map[string]interface{} `json:"params_config,omitempty"`
}

// ValidationResult 验证结果
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// fail 记录一条验证错误
func (r *ValidationResult) fail(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.IsValid = false
}

// warn 记录一条验证警告，不影响整体结果
func (r *ValidationResult) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ValidateConfig 按类型定义验证连接配置与参数配置
func (d *DataSourceTypeDefinition) ValidateConfig(connectionConfig, paramsConfig map[string]interface{}) *ValidationResult {
	result := &ValidationResult{
		IsValid:  true,
		Errors:   make([]string, 0),
		Warnings: make([]string, 0),
	}

	validateFields(d.MetaConfig, connectionConfig, result)
	if paramsConfig != nil {
		validateFields(d.ParamsConfig, paramsConfig, result)
	}
	return result
}

func validateFields(fields []DataSourceConfigField, config map[string]interface{}, result *ValidationResult) {
	for _, field := range fields {
		value, exists := config[field.Name]
		if field.Required && (!exists || value == nil || value == "") {
			result.fail("必填字段%s未配置", field.DisplayName)
			continue
		}
		// 可选字段缺失时无需校验
		if !exists || value == nil {
			continue
		}

		if !matchesFieldType(value, field.Type) {
			result.fail("字段%s应为%s类型", field.DisplayName, field.Type)
			continue
		}

		switch field.Type {
		case "number":
			field.checkNumberRange(value, result)
		case "string":
			field.checkStringValue(value, result)
		}
	}
}

// checkNumberRange 数值字段的范围约束，零值边界表示不限制
func (f *DataSourceConfigField) checkNumberRange(value interface{}, result *ValidationResult) {
	numVal, ok := toFloat64(value)
	if !ok {
		return
	}
	if f.Min != 0 && numVal < f.Min {
		result.fail("字段%s小于最小值%.0f", f.DisplayName, f.Min)
	}
	if f.Max != 0 && numVal > f.Max {
		result.fail("字段%s超过最大值%.0f", f.DisplayName, f.Max)
	}
}

// checkStringValue 字符串字段的选项与格式约束
func (f *DataSourceConfigField) checkStringValue(value interface{}, result *ValidationResult) {
	strVal, ok := value.(string)
	if !ok {
		return
	}

	if len(f.Options) > 0 && !containsOption(f.Options, strVal) {
		result.fail("字段%s的值必须是%v之一", f.DisplayName, f.Options)
	}

	if f.Pattern != "" {
		matched, err := regexp.MatchString(f.Pattern, strVal)
		if err != nil {
			result.warn("字段%s的格式校验未执行: %v", f.DisplayName, err)
		} else if !matched {
			result.fail("字段%s格式不正确", f.DisplayName)
		}
	}
}

func containsOption(options []string, value string) bool {
	for _, option := range options {
		if value == option {
			return true
		}
	}
	return false
}

// matchesFieldType 检查配置值与声明类型是否匹配，未知类型不做约束
func matchesFieldType(value interface{}, expectedType string) bool {
	switch expectedType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := toFloat64(value)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	default:
		return true
	}
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

const (
	DataSourceCategoryMessaging = "messaging"
	DataSourceCategoryAPI       = "api"
	DataSourceCategoryFile      = "file"
)

const (
	DataSourceTypeMQTT     = "mqtt"
	DataSourceTypeKafka    = "kafka"
	DataSourceTypeHTTPPush = "http_push"
	DataSourceTypeCSVFile  = "csv_file"
)

const DataSourceFieldHost = "host"
const DataSourceFieldPort = "port"
const DataSourceFieldUsername = "username"
const DataSourceFieldPassword = "password"
const DataSourceFieldClientID = "client_id"
const DataSourceFieldTopic = "topic"
const DataSourceFieldQos = "qos"
const DataSourceFieldGroupId = "group_id"
const DataSourceFieldBootstrapServers = "bootstrap_servers"
const DataSourceFieldFilePath = "file_path"
const DataSourceFieldDelimiter = "delimiter"
const DataSourceFieldEncoding = "encoding"
const DataSourceFieldBatchSize = "batch_size"
const DataSourceFieldTimeout = "timeout"

var DataSourceTypes = make(map[string]*DataSourceTypeDefinition)

func init() {
	initializeDefaultTypes()
}

// IsValidDataSourceType 数据源类型验证函数
func IsValidDataSourceType(sourceType string) bool {
	_, exists := DataSourceTypes[sourceType]
	return exists
}

// GetDataSourceType 获取数据源类型定义,不存在时返回nil
func GetDataSourceType(sourceType string) *DataSourceTypeDefinition {
	return DataSourceTypes[sourceType]
}

// initializeDefaultTypes 初始化默认的数据源类型
func initializeDefaultTypes() {
	// MQTT 传感器数据源
	mqtt := &DataSourceTypeDefinition{
		ID:          DataSourceTypeMQTT,
		Category:    DataSourceCategoryMessaging,
		Type:        DataSourceTypeMQTT,
		Name:        "MQTT",
		Description: "MQTT传感器数据接入",
		Icon:        "mqtt",
		MetaConfig: []DataSourceConfigField{
			{
				Name:         DataSourceFieldHost,
				DisplayName:  "主机",
				Type:         "string",
				Required:     true,
				DefaultValue: "localhost",
				Description:  "MQTT Broker地址",
				Pattern:      `^[a-zA-Z0-9.-]+$`,
			},
			{
				Name:         DataSourceFieldPort,
				DisplayName:  "端口",
				Type:         "number",
				Required:     true,
				DefaultValue: float64(1883),
				Description:  "MQTT Broker端口号",
				Min:          1,
				Max:          65535,
			},
			{
				Name:        DataSourceFieldClientID,
				DisplayName: "客户端ID",
				Type:        "string",
				Required:    false,
				Description: "客户端标识,为空时自动生成",
			},
			{
				Name:        DataSourceFieldUsername,
				DisplayName: "用户名",
				Type:        "string",
				Required:    false,
				Description: "Broker用户名",
			},
			{
				Name:        DataSourceFieldPassword,
				DisplayName: "密码",
				Type:        "string",
				Required:    false,
				Description: "Broker密码",
			},
		},
		ParamsConfig: []DataSourceConfigField{
			{
				Name:         DataSourceFieldTopic,
				DisplayName:  "主题",
				Type:         "string",
				Required:     true,
				DefaultValue: "sensors/+/readings",
				Description:  "订阅的传感器数据主题",
			},
			{
				Name:         DataSourceFieldQos,
				DisplayName:  "QoS",
				Type:         "number",
				Required:     false,
				DefaultValue: float64(1),
				Description:  "消息服务质量等级",
				Max:          2,
			},
		},
		Examples: []DataSourceExample{
			{
				Name:        "本地Broker",
				Description: "连接本地MQTT Broker接入传感器数据",
				ConnectionConfig: map[string]interface{}{
					DataSourceFieldHost: "localhost",
					DataSourceFieldPort: 1883,
				},
				ParamsConfig: map[string]interface{}{
					DataSourceFieldTopic: "sensors/+/readings",
				},
			},
		},
		SupportedFeatures: []string{"real_time_streaming", "script_preprocess"},
		Documentation:     "MQTT数据源持续订阅传感器上报主题并写入原始读数表",
		IsActive:          true,
	}

	// Kafka 传感器数据源
	kafka := &DataSourceTypeDefinition{
		ID:          DataSourceTypeKafka,
		Category:    DataSourceCategoryMessaging,
		Type:        DataSourceTypeKafka,
		Name:        "Kafka",
		Description: "Kafka传感器数据接入",
		Icon:        "kafka",
		MetaConfig: []DataSourceConfigField{
			{
				Name:         DataSourceFieldBootstrapServers,
				DisplayName:  "Bootstrap服务器",
				Type:         "string",
				Required:     true,
				DefaultValue: "localhost:9092",
				Description:  "Kafka集群地址,多个以逗号分隔",
			},
		},
		ParamsConfig: []DataSourceConfigField{
			{
				Name:         DataSourceFieldTopic,
				DisplayName:  "主题",
				Type:         "string",
				Required:     true,
				DefaultValue: "sensor-readings",
				Description:  "消费的传感器数据主题",
			},
			{
				Name:         DataSourceFieldGroupId,
				DisplayName:  "消费组",
				Type:         "string",
				Required:     false,
				DefaultValue: "sensorhub-ingest",
				Description:  "消费组ID",
			},
			{
				Name:         DataSourceFieldBatchSize,
				DisplayName:  "批量大小",
				Type:         "number",
				Required:     false,
				DefaultValue: float64(100),
				Description:  "批量入库的读数条数",
				Min:          1,
				Max:          10000,
			},
		},
		Examples: []DataSourceExample{
			{
				Name:        "本地Kafka",
				Description: "从本地Kafka消费传感器读数",
				ConnectionConfig: map[string]interface{}{
					DataSourceFieldBootstrapServers: "localhost:9092",
				},
				ParamsConfig: map[string]interface{}{
					DataSourceFieldTopic:   "sensor-readings",
					DataSourceFieldGroupId: "sensorhub-ingest",
				},
			},
		},
		SupportedFeatures: []string{"real_time_streaming", "batch_processing", "script_preprocess"},
		Documentation:     "Kafka数据源以消费组方式消费传感器读数并批量写入原始读数表",
		IsActive:          true,
	}

	// HTTP推送数据源
	httpPush := &DataSourceTypeDefinition{
		ID:          DataSourceTypeHTTPPush,
		Category:    DataSourceCategoryAPI,
		Type:        DataSourceTypeHTTPPush,
		Name:        "HTTP推送",
		Description: "通过批量上报接口推送传感器数据",
		Icon:        "http",
		MetaConfig:  []DataSourceConfigField{},
		ParamsConfig: []DataSourceConfigField{
			{
				Name:         DataSourceFieldBatchSize,
				DisplayName:  "单次最大条数",
				Type:         "number",
				Required:     false,
				DefaultValue: float64(1000),
				Description:  "单次请求允许的最大读数条数",
				Min:          1,
				Max:          100000,
			},
		},
		Examples: []DataSourceExample{
			{
				Name:             "批量上报",
				Description:      "向 /api/v1/readings/batch 推送JSON数组",
				ConnectionConfig: map[string]interface{}{},
			},
		},
		SupportedFeatures: []string{"batch_processing", "rate_limit"},
		Documentation:     "HTTP推送数据源由上报接口直接写入,无需常驻连接",
		IsActive:          true,
	}

	// CSV 文件数据源
	csvFile := &DataSourceTypeDefinition{
		ID:          DataSourceTypeCSVFile,
		Category:    DataSourceCategoryFile,
		Type:        DataSourceTypeCSVFile,
		Name:        "CSV文件",
		Description: "从本地CSV文件导入传感器数据",
		Icon:        "csv",
		MetaConfig: []DataSourceConfigField{
			{
				Name:        DataSourceFieldFilePath,
				DisplayName: "文件路径",
				Type:        "string",
				Required:    true,
				Description: "CSV文件的绝对路径",
			},
		},
		ParamsConfig: []DataSourceConfigField{
			{
				Name:         DataSourceFieldDelimiter,
				DisplayName:  "分隔符",
				Type:         "string",
				Required:     false,
				DefaultValue: ",",
				Description:  "列分隔符",
				Options:      []string{",", ";", "\t"},
			},
			{
				Name:         DataSourceFieldEncoding,
				DisplayName:  "编码",
				Type:         "string",
				Required:     false,
				DefaultValue: "utf-8",
				Description:  "文件编码",
				Options:      []string{"utf-8", "gbk"},
			},
		},
		Examples: []DataSourceExample{
			{
				Name:        "历史数据导入",
				Description: "导入设备导出的历史读数文件",
				ConnectionConfig: map[string]interface{}{
					DataSourceFieldFilePath: "/data/import/sensor_readings.csv",
				},
				ParamsConfig: map[string]interface{}{
					DataSourceFieldDelimiter: ",",
					DataSourceFieldEncoding:  "utf-8",
				},
			},
		},
		SupportedFeatures: []string{"batch_processing", "encoding_convert"},
		Documentation:     "CSV文件数据源一次性读取文件内容并写入原始读数表,支持GBK转码",
		IsActive:          true,
	}

	// 注册所有类型
	DataSourceTypes[mqtt.ID] = mqtt
	DataSourceTypes[kafka.ID] = kafka
	DataSourceTypes[httpPush.ID] = httpPush
	DataSourceTypes[csvFile.ID] = csvFile
}
