/*
 * @module service/models/pipeline_task_test
 * @description 流水线任务模型验证测试
 * @architecture 测试层 - 数据模型验证，确保数据完整性和约束
 * @documentReference .specify/memory/test_plan.md
 * @stateFlow 模型创建 -> 字段验证 -> 约束检查 -> 结果断言
 * @rules 确保流水线任务模型的完整性、状态判定和业务规则
 * @dependencies testing, testify, gorm
 * @refs pipeline_task.go
 */

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

// PipelineTaskModelTestSuite 流水线任务模型测试套件
type PipelineTaskModelTestSuite struct {
	suite.Suite
	testDB  *ModelTestDB
	factory *ModelTestDataFactory
}

// SetupSuite 设置测试套件
func (suite *PipelineTaskModelTestSuite) SetupSuite() {
	suite.testDB = NewModelTestDB()
	suite.factory = NewModelTestDataFactory(suite.testDB.DB)
}

// TearDownSuite 清理测试套件
func (suite *PipelineTaskModelTestSuite) TearDownSuite() {
	suite.testDB.Close()
}

// SetupTest 设置每个测试
func (suite *PipelineTaskModelTestSuite) SetupTest() {
	suite.testDB.CleanDB()
}

func (suite *PipelineTaskModelTestSuite) TestPipelineTaskCreation() {
	task := &PipelineTask{
		TriggerType: "manual",
		Status:      "pending",
		Config:      JSONB{"export_dir": "/tmp/export"},
		CreatedBy:   "test_user",
	}

	err := suite.testDB.DB.Create(task).Error
	assert.NoError(suite.T(), err)
	assert.NotEmpty(suite.T(), task.ID, "创建时应自动生成UUID")

	var loaded PipelineTask
	err = suite.testDB.DB.First(&loaded, "id = ?", task.ID).Error
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "pending", loaded.Status)
	assert.Equal(suite.T(), "manual", loaded.TriggerType)
	assert.Equal(suite.T(), "/tmp/export", loaded.Config["export_dir"])
}

func (suite *PipelineTaskModelTestSuite) TestInvalidTriggerType() {
	task := &PipelineTask{
		TriggerType: "whenever",
		Status:      "pending",
	}

	err := suite.testDB.DB.Create(task).Error
	assert.Error(suite.T(), err, "非法触发类型应被钩子拒绝")
}

func (suite *PipelineTaskModelTestSuite) TestStatusPredicates() {
	pending := suite.factory.CreatePipelineTask("pending")
	running := suite.factory.CreatePipelineTask("running")
	success := suite.factory.CreatePipelineTask("success")
	failed := suite.factory.CreatePipelineTask("failed")

	assert.True(suite.T(), pending.IsPending())
	assert.True(suite.T(), pending.CanCancel())
	assert.False(suite.T(), pending.CanDelete())
	assert.True(suite.T(), pending.CanUpdate())

	assert.True(suite.T(), running.IsRunning())
	assert.True(suite.T(), running.CanCancel())
	assert.False(suite.T(), running.CanRetry())

	assert.True(suite.T(), success.IsCompleted())
	assert.True(suite.T(), success.CanDelete())
	assert.False(suite.T(), success.CanCancel())

	assert.True(suite.T(), failed.CanRetry())
	assert.True(suite.T(), failed.CanDelete())
}

func (suite *PipelineTaskModelTestSuite) TestGetDuration() {
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	task := &PipelineTask{
		TriggerType: "manual",
		Status:      "success",
		StartTime:   &start,
		EndTime:     &end,
	}

	duration := task.GetDuration()
	assert.NotNil(suite.T(), duration)
	assert.Equal(suite.T(), 90*time.Second, *duration)

	task.EndTime = nil
	assert.Nil(suite.T(), task.GetDuration())
}

func (suite *PipelineTaskModelTestSuite) TestGetProgressPercent() {
	task := &PipelineTask{Progress: 42}
	assert.Equal(suite.T(), "42%", task.GetProgressPercent())

	task.Progress = -1
	assert.Equal(suite.T(), "0%", task.GetProgressPercent())

	task.Progress = 120
	assert.Equal(suite.T(), "100%", task.GetProgressPercent())
}

func (suite *PipelineTaskModelTestSuite) TestStageRunCreation() {
	task := suite.factory.CreatePipelineTask("running")

	stageRun := &PipelineStageRun{
		TaskID:    task.ID,
		StageType: "cleanse",
		Status:    "running",
		RowsIn:    100,
	}
	err := suite.testDB.DB.Create(stageRun).Error
	assert.NoError(suite.T(), err)
	assert.NotEmpty(suite.T(), stageRun.ID)

	invalid := &PipelineStageRun{
		TaskID:    task.ID,
		StageType: "shuffle",
		Status:    "pending",
	}
	err = suite.testDB.DB.Create(invalid).Error
	assert.Error(suite.T(), err, "非法阶段类型应被钩子拒绝")
}

func (suite *PipelineTaskModelTestSuite) TestScheduleShouldRunAt() {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	lastRun := now.Add(-10 * time.Minute)

	schedule := &PipelineSchedule{
		ScheduleType:    "interval",
		IntervalSeconds: 300,
		Enabled:         true,
		LastRunTime:     &lastRun,
	}
	assert.True(suite.T(), schedule.ShouldRunAt(now), "超过间隔时间应触发")

	recent := now.Add(-time.Minute)
	schedule.LastRunTime = &recent
	assert.False(suite.T(), schedule.ShouldRunAt(now), "未到间隔时间不应触发")

	schedule.LastRunTime = nil
	assert.True(suite.T(), schedule.ShouldRunAt(now), "从未运行过应立即触发")

	schedule.Enabled = false
	assert.False(suite.T(), schedule.ShouldRunAt(now), "停用的调度不应触发")
}

// TestPipelineTaskModelSuite 运行测试套件
func TestPipelineTaskModelSuite(t *testing.T) {
	suite.Run(t, new(PipelineTaskModelTestSuite))
}
