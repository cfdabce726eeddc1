package views

var PipelineTasksViews = map[string]string{

	// 流水线任务详细信息视图 - 含阶段执行汇总与执行时长
	"pipeline_tasks_info": `
		DROP VIEW IF EXISTS pipeline_tasks_info;
		CREATE VIEW pipeline_tasks_info AS
		SELECT
			pt.id,
			pt.trigger_type,
			pt.schedule_id,
			pt.status,
			pt.current_stage,
			pt.start_time,
			pt.end_time,
			pt.progress,
			pt.error_message,
			pt.config,
			pt.result,
			pt.created_at,
			pt.created_by,
			pt.updated_at,
			-- 计算执行时长（秒）
			CASE
				WHEN pt.start_time IS NOT NULL AND pt.end_time IS NOT NULL
				THEN EXTRACT(EPOCH FROM (pt.end_time - pt.start_time))
				WHEN pt.start_time IS NOT NULL AND pt.end_time IS NULL AND pt.status = 'running'
				THEN EXTRACT(EPOCH FROM (NOW() - pt.start_time))
				ELSE NULL
			END as duration_seconds,
			-- 阶段执行汇总，来源：pipeline_stage_runs表
			(
				SELECT COALESCE(jsonb_agg(
					jsonb_build_object(
						'id', sr.id,
						'stage_type', sr.stage_type,
						'status', sr.status,
						'rows_in', sr.rows_in,
						'rows_out', sr.rows_out,
						'rows_dropped', sr.rows_dropped,
						'start_time', sr.start_time,
						'end_time', sr.end_time,
						'error_message', sr.error_message
					) ORDER BY sr.created_at
				), '[]'::jsonb)
				FROM pipeline_stage_runs sr
				WHERE sr.task_id = pt.id
			) as stage_runs,
			-- 调度信息对象，来源：pipeline_schedules表
			CASE
				WHEN ps.id IS NOT NULL THEN
					jsonb_build_object(
						'id', ps.id,
						'name', ps.name,
						'schedule_type', ps.schedule_type,
						'cron_expression', ps.cron_expression,
						'interval_seconds', ps.interval_seconds,
						'enabled', ps.enabled
					)
				ELSE NULL
			END as schedule
		FROM pipeline_tasks pt
		LEFT JOIN pipeline_schedules ps ON pt.schedule_id = ps.id;
	`,

	// 流水线任务统计视图 - 按状态统计任务数量
	"pipeline_tasks_stats": `
		DROP VIEW IF EXISTS pipeline_tasks_stats;
		CREATE VIEW pipeline_tasks_stats AS
		SELECT
			status,
			COUNT(*) as task_count,
			MIN(created_at) as earliest_created,
			MAX(created_at) as latest_created,
			AVG(
				CASE
					WHEN start_time IS NOT NULL AND end_time IS NOT NULL
					THEN EXTRACT(EPOCH FROM (end_time - start_time))
					ELSE NULL
				END
			) as avg_duration_seconds
		FROM pipeline_tasks
		GROUP BY status;
	`,
}
