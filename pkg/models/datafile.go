package models

import "time"

// DataFile is a persisted upload belonging to a job. A DataFile cannot
// exist without its Job; rows are written only after promotion, so Path is
// always the permanent location.
type DataFile struct {
	ID        int64     `db:"id"         json:"id"`
	JobID     int64     `db:"job_id"     json:"job_id"`
	Field     string    `db:"field"      json:"field"`
	Path      string    `db:"path"       json:"path"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
