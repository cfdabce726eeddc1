package views

var WindowAggregatesViews = map[string]string{

	// 按小时聚合的窗口统计视图，供看板查询
	"window_aggregates_hourly": `
		DROP VIEW IF EXISTS window_aggregates_hourly;
		CREATE VIEW window_aggregates_hourly AS
		SELECT
			task_id,
			date_trunc('hour', window_start) as hour_start,
			COUNT(*) as window_count,
			SUM(record_count) as record_count,
			ROUND(AVG(avg_temperature)::numeric, 2) as avg_temperature,
			ROUND(AVG(avg_humidity)::numeric, 2) as avg_humidity,
			MIN(min_temperature) as min_temperature,
			MAX(max_temperature) as max_temperature,
			ROUND(AVG(avg_data_quality)::numeric, 3) as avg_data_quality
		FROM window_aggregates
		GROUP BY task_id, date_trunc('hour', window_start);
	`,

	// 原始读数摄入统计视图，按数据源类型统计
	"sensor_readings_by_source": `
		DROP VIEW IF EXISTS sensor_readings_by_source;
		CREATE VIEW sensor_readings_by_source AS
		SELECT
			source_type,
			COUNT(*) as reading_count,
			COUNT(DISTINCT sensor_id) as sensor_count,
			MIN(created_at) as earliest_ingested,
			MAX(created_at) as latest_ingested
		FROM sensor_readings
		GROUP BY source_type;
	`,
}
