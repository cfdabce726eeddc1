package meta

import "time"

// MetaField 元数据字段描述,供前端渲染下拉与表单
type MetaField struct {
	Name         string      `json:"name"`
	DisplayName  string      `json:"display_name"`
	Type         string      `json:"type"`
	Required     bool        `json:"required"`
	DefaultValue interface{} `json:"default_value"`
	Description  string      `json:"description"`
}

// 流水线阶段类型常量
const (
	PipelineStageCleanse   = "cleanse"
	PipelineStageAggregate = "aggregate"
	PipelineStageExport    = "export"
)

var PipelineStageTypes = []MetaField{
	{
		Name:         "cleanse",
		DisplayName:  "数据清洗",
		Type:         "string",
		Required:     true,
		DefaultValue: "",
	},
	{
		Name:         "aggregate",
		DisplayName:  "窗口聚合",
		Type:         "string",
		Required:     true,
		DefaultValue: "",
	},
	{
		Name:         "export",
		DisplayName:  "训练集导出",
		Type:         "string",
		Required:     true,
		DefaultValue: "",
	},
}

// PipelineStageOrder 阶段固定执行顺序,后一阶段只有在前一阶段成功后才能启动
var PipelineStageOrder = []string{
	PipelineStageCleanse,
	PipelineStageAggregate,
	PipelineStageExport,
}

// 流水线任务状态常量
const (
	PipelineTaskStatusPending   = "pending"
	PipelineTaskStatusRunning   = "running"
	PipelineTaskStatusSuccess   = "success"
	PipelineTaskStatusFailed    = "failed"
	PipelineTaskStatusCancelled = "cancelled"
)

var PipelineTaskStatuses = []MetaField{
	{
		Name:         "pending",
		DisplayName:  "待执行",
		Type:         "string",
		Required:     true,
		DefaultValue: "",
	},
	{
		Name:         "running",
		DisplayName:  "执行中",
		Type:         "string",
		Required:     true,
		DefaultValue: "",
	},
	{
		Name:         "success",
		DisplayName:  "成功",
		Type:         "string",
		Required:     true,
		DefaultValue: "",
	},
	{
		Name:         "failed",
		DisplayName:  "失败",
		Type:         "string",
		Required:     true,
		DefaultValue: "",
	},
	{
		Name:         "cancelled",
		DisplayName:  "取消",
		Type:         "string",
		Required:     true,
		DefaultValue: "",
	},
}

// 调度类型常量
const (
	PipelineScheduleTypeCron     = "cron"
	PipelineScheduleTypeInterval = "interval"
	PipelineScheduleTypeOnce     = "once"
	PipelineScheduleTypeManual   = "manual"
)

var PipelineScheduleTypes = []MetaField{
	{
		Name:         "cron",
		DisplayName:  "Cron",
		Type:         "string",
		Required:     true,
		DefaultValue: "",
	},
	{
		Name:         "interval",
		DisplayName:  "Interval",
		Type:         "string",
		Required:     true,
		DefaultValue: "",
	},
	{
		Name:         "once",
		DisplayName:  "Once",
		Type:         "string",
		Required:     true,
		DefaultValue: "",
	},
	{
		Name:         "manual",
		DisplayName:  "Manual",
		Type:         "string",
		Required:     true,
		DefaultValue: "",
	},
}

// 流水线事件类型常量
const (
	PipelineEventTypeStart         = "start"
	PipelineEventTypeProgress      = "progress"
	PipelineEventTypeStageStart    = "stage_start"
	PipelineEventTypeStageComplete = "stage_complete"
	PipelineEventTypeComplete      = "complete"
	PipelineEventTypeError         = "error"
	PipelineEventTypeCancel        = "cancel"
)

var PipelineEventTypes = []MetaField{
	{
		Name:         "start",
		DisplayName:  "开始",
		Type:         "string",
		Required:     true,
		DefaultValue: "",
	},
	{
		Name:         "progress",
		DisplayName:  "进度",
		Type:         "string",
		Required:     true,
		DefaultValue: "",
	},
	{
		Name:         "stage_start",
		DisplayName:  "阶段开始",
		Type:         "string",
		Required:     true,
		DefaultValue: "",
	},
	{
		Name:         "stage_complete",
		DisplayName:  "阶段完成",
		Type:         "string",
		Required:     true,
		DefaultValue: "",
	},
	{
		Name:         "complete",
		DisplayName:  "完成",
		Type:         "string",
		Required:     true,
		DefaultValue: "",
	},
	{
		Name:         "error",
		DisplayName:  "错误",
		Type:         "string",
		Required:     true,
		DefaultValue: "",
	},
	{
		Name:         "cancel",
		DisplayName:  "取消",
		Type:         "string",
		Required:     true,
		DefaultValue: "",
	},
}

// 调度配置字段常量
const (
	PipelineScheduleFieldCronExpression = "cron_expression"
	PipelineScheduleFieldInterval       = "interval"
	PipelineScheduleFieldIntervalUnit   = "interval_unit"
	PipelineScheduleFieldStartTime      = "start_time"
	PipelineScheduleFieldTimeoutSec     = "timeout_sec"
)

// 任务状态验证函数
func IsValidTaskStatus(status string) bool {
	validStatuses := map[string]bool{
		PipelineTaskStatusPending:   true,
		PipelineTaskStatusRunning:   true,
		PipelineTaskStatusSuccess:   true,
		PipelineTaskStatusFailed:    true,
		PipelineTaskStatusCancelled: true,
	}
	return validStatuses[status]
}

// 阶段类型验证函数
func IsValidStageType(stageType string) bool {
	validTypes := map[string]bool{
		PipelineStageCleanse:   true,
		PipelineStageAggregate: true,
		PipelineStageExport:    true,
	}
	return validTypes[stageType]
}

// 调度类型验证函数
func IsValidScheduleType(scheduleType string) bool {
	validTypes := map[string]bool{
		PipelineScheduleTypeCron:     true,
		PipelineScheduleTypeInterval: true,
		PipelineScheduleTypeOnce:     true,
		PipelineScheduleTypeManual:   true,
	}
	return validTypes[scheduleType]
}

// NextPipelineStage 返回指定阶段的下一个阶段,最后一个阶段返回空串
func NextPipelineStage(stageType string) string {
	for i, stage := range PipelineStageOrder {
		if stage == stageType && i+1 < len(PipelineStageOrder) {
			return PipelineStageOrder[i+1]
		}
	}
	return ""
}

// 获取可删除的任务状态
func GetDeletableTaskStatuses() []string {
	return []string{
		PipelineTaskStatusSuccess,
		PipelineTaskStatusFailed,
		PipelineTaskStatusCancelled,
	}
}

// 获取可取消的任务状态
func GetCancellableTaskStatuses() []string {
	return []string{
		PipelineTaskStatusPending,
		PipelineTaskStatusRunning,
	}
}

// 获取可重试的任务状态
func GetRetryableTaskStatuses() []string {
	return []string{
		PipelineTaskStatusFailed,
	}
}

// 任务状态流转验证
// pending -> running/cancelled, running -> success/failed/cancelled, failed -> pending(重试)
func CanTransitionStatus(from, to string) bool {
	allowedTransitions := map[string][]string{
		PipelineTaskStatusPending: {
			PipelineTaskStatusRunning,
			PipelineTaskStatusCancelled,
		},
		PipelineTaskStatusRunning: {
			PipelineTaskStatusSuccess,
			PipelineTaskStatusFailed,
			PipelineTaskStatusCancelled,
		},
		PipelineTaskStatusFailed: {
			PipelineTaskStatusPending, // 重试
		},
	}

	if allowed, exists := allowedTransitions[from]; exists {
		for _, status := range allowed {
			if status == to {
				return true
			}
		}
	}
	return false
}

type PipelineScheduleDefinition struct {
	ScheduleType         string                                 `json:"schedule_type"`
	ScheduleConfigFields map[string]PipelineScheduleConfigField `json:"schedule_config_fields"`
}

type PipelineScheduleConfigField struct {
	Name         string      `json:"name"`
	DisplayName  string      `json:"display_name"`
	Type         string      `json:"type"`
	Required     bool        `json:"required"`
	DefaultValue interface{} `json:"default_value"`
	Description  string      `json:"description"`
}

var PipelineScheduleDefinitions map[string]PipelineScheduleDefinition
var PipelineTaskMetas map[string][]MetaField

func init() {
	initPipelineScheduleDefinitions()
	initPipelineTaskMetas()
}

func initPipelineTaskMetas() {
	PipelineTaskMetas = make(map[string][]MetaField)
	PipelineTaskMetas["pipeline_stage_types"] = PipelineStageTypes
	PipelineTaskMetas["pipeline_task_statuses"] = PipelineTaskStatuses
	PipelineTaskMetas["pipeline_schedule_types"] = PipelineScheduleTypes
	PipelineTaskMetas["pipeline_event_types"] = PipelineEventTypes
}

func initPipelineScheduleDefinitions() {
	PipelineScheduleDefinitions = make(map[string]PipelineScheduleDefinition)
	cronDefinition := PipelineScheduleDefinition{
		ScheduleType: PipelineScheduleTypeCron,
		ScheduleConfigFields: map[string]PipelineScheduleConfigField{
			PipelineScheduleFieldCronExpression: {
				Name:         "cron_expression",
				DisplayName:  "Cron Expression",
				Type:         "string",
				Required:     true,
				DefaultValue: "",
				Description:  "Cron Expression",
			},
			PipelineScheduleFieldTimeoutSec: {
				Name:         "timeout_sec",
				DisplayName:  "超时时间(秒)",
				Type:         "number",
				Required:     false,
				DefaultValue: 600,
				Description:  "超时时间(秒)",
			},
		},
	}
	PipelineScheduleDefinitions[PipelineScheduleTypeCron] = cronDefinition
	intervalDefinition := PipelineScheduleDefinition{
		ScheduleType: PipelineScheduleTypeInterval,
		ScheduleConfigFields: map[string]PipelineScheduleConfigField{
			PipelineScheduleFieldInterval: {
				Name:         "interval",
				DisplayName:  "间隔",
				Type:         "number",
				Required:     true,
				DefaultValue: 5,
				Description:  "间隔",
			},
			PipelineScheduleFieldIntervalUnit: {
				Name:         "interval_unit",
				DisplayName:  "间隔单位",
				Type:         "string",
				Required:     false,
				DefaultValue: "minutes",
				Description:  "间隔单位",
			},
			PipelineScheduleFieldTimeoutSec: {
				Name:         "timeout_sec",
				DisplayName:  "超时时间(秒)",
				Type:         "number",
				Required:     false,
				DefaultValue: 600,
				Description:  "超时时间(秒)",
			},
		},
	}
	PipelineScheduleDefinitions[PipelineScheduleTypeInterval] = intervalDefinition
	onceDefinition := PipelineScheduleDefinition{
		ScheduleType: PipelineScheduleTypeOnce,
		ScheduleConfigFields: map[string]PipelineScheduleConfigField{
			PipelineScheduleFieldStartTime: {
				Name:         "start_time",
				DisplayName:  "Start Time",
				Type:         "datetime",
				Required:     true,
				DefaultValue: time.Now(),
				Description:  "Start Time",
			},
			PipelineScheduleFieldTimeoutSec: {
				Name:         "timeout_sec",
				DisplayName:  "超时时间(秒)",
				Type:         "number",
				Required:     false,
				DefaultValue: 600,
				Description:  "超时时间(秒)",
			},
		},
	}
	PipelineScheduleDefinitions[PipelineScheduleTypeOnce] = onceDefinition
	manualDefinition := PipelineScheduleDefinition{
		ScheduleType: PipelineScheduleTypeManual,
		ScheduleConfigFields: map[string]PipelineScheduleConfigField{
			PipelineScheduleFieldTimeoutSec: {
				Name:         "timeout_sec",
				DisplayName:  "超时时间(秒)",
				Type:         "number",
				Required:     false,
				DefaultValue: 600,
				Description:  "超时时间(秒)",
			},
		},
	}
	PipelineScheduleDefinitions[PipelineScheduleTypeManual] = manualDefinition
}
