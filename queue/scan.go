package queue

import (
	"database/sql"
	"encoding/json"
)

// jobScanArgs holds the nullable columns scanned from a job row.
type jobScanArgs struct {
	DatasetID     sql.NullString
	EntityType    sql.NullString
	Config        sql.NullString
	ResultSummary sql.NullString
	ExcInfo       sql.NullString
	StartedAt     sql.NullTime
	EndedAt       sql.NullTime
}

// jobSelectColumns is the standard column list for job SELECT queries.
const jobSelectColumns = `id, kind, name, status,
	dataset_id, entity_type, config, result_summary, exc_info,
	created_at, started_at, ended_at`

func jobScanTargets(job *Job, args *jobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.Kind,
		&job.Name,
		&job.Status,
		&args.DatasetID,
		&args.EntityType,
		&args.Config,
		&args.ResultSummary,
		&args.ExcInfo,
		&job.CreatedAt,
		&args.StartedAt,
		&args.EndedAt,
	}
}

func processJobScanArgs(job *Job, args *jobScanArgs) {
	if args.DatasetID.Valid {
		job.DatasetID = args.DatasetID.String
	}
	if args.EntityType.Valid {
		job.EntityType = args.EntityType.String
	}
	if args.Config.Valid {
		job.Config = json.RawMessage(args.Config.String)
	}
	if args.ResultSummary.Valid {
		job.ResultSummary = json.RawMessage(args.ResultSummary.String)
	}
	if args.ExcInfo.Valid {
		job.ExcInfo = args.ExcInfo.String
	}
	if args.StartedAt.Valid {
		t := args.StartedAt.Time
		job.StartedAt = &t
	}
	if args.EndedAt.Valid {
		t := args.EndedAt.Time
		job.EndedAt = &t
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanJob scans a single job from a row or rows cursor.
func scanJob(row rowScanner, job *Job) error {
	args := &jobScanArgs{}
	if err := row.Scan(jobScanTargets(job, args)...); err != nil {
		return err
	}
	processJobScanArgs(job, args)
	return nil
}
