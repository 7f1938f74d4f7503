package postgres

// SQL for the continuous aggregate catalog tables. Intervals are stored as
// microseconds so round-tripping through time.Duration is lossless.

const (
	queryRelationExists = `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = $1
			  AND table_name = $2
		)
	`

	queryRegisterHypertable = `
		INSERT INTO _timebase_internal.tb_hypertable (
			schema_name, table_name, partition_column, partition_interval_usec
		)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	queryInsertJob = `
		INSERT INTO _timebase_internal.tb_job (
			mat_hypertable_id, interval_usec, last_run
		)
		VALUES ($1, $2, to_timestamp(0))
		RETURNING id
	`

	queryInsertContinuousAgg = `
		INSERT INTO _timebase_internal.tb_continuous_agg (
			id, view_schema, view_name,
			mat_hypertable_id, raw_hypertable_id,
			partial_view_schema, partial_view_name,
			bucket_width_usec, refresh_job_id, direct_query
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	queryListContinuousAggs = `
		SELECT
			c.id, c.view_schema, c.view_name,
			h.schema_name, h.table_name,
			c.partial_view_schema, c.partial_view_name,
			c.mat_hypertable_id, c.raw_hypertable_id,
			c.bucket_width_usec, c.refresh_job_id, c.direct_query
		FROM _timebase_internal.tb_continuous_agg c
		JOIN _timebase_internal.tb_hypertable h ON h.id = c.mat_hypertable_id
		ORDER BY c.view_schema, c.view_name
	`

	queryAggByMatHypertable = `
		SELECT
			c.id, c.view_schema, c.view_name,
			h.schema_name, h.table_name,
			c.partial_view_schema, c.partial_view_name,
			c.mat_hypertable_id, c.raw_hypertable_id,
			c.bucket_width_usec, c.refresh_job_id, c.direct_query
		FROM _timebase_internal.tb_continuous_agg c
		JOIN _timebase_internal.tb_hypertable h ON h.id = c.mat_hypertable_id
		WHERE c.mat_hypertable_id = $1
	`

	// queryDueJobs selects jobs that have not run for at least one
	// interval. make_interval takes seconds, so the stored microseconds
	// are scaled in SQL.
	queryDueJobs = `
		SELECT id, mat_hypertable_id, interval_usec, last_run
		FROM _timebase_internal.tb_job
		WHERE last_run + make_interval(secs => interval_usec / 1e6) <= $1
		ORDER BY last_run ASC
	`

	queryMarkJobRun = `
		UPDATE _timebase_internal.tb_job
		SET last_run = $2
		WHERE id = $1
	`

	// queryPendingInvalidations merges all logged stale ranges for a
	// hypertable into one span. No rows logged means nothing is stale.
	queryPendingInvalidations = `
		SELECT hypertable_id, min(lowest_modified), max(greatest_modified)
		FROM _timebase_internal.tb_invalidation_log
		WHERE hypertable_id = $1
		GROUP BY hypertable_id
	`

	queryClearInvalidations = `
		DELETE FROM _timebase_internal.tb_invalidation_log
		WHERE hypertable_id = $1
		  AND greatest_modified < $2
	`
)
