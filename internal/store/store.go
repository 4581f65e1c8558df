package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobkeeper/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	// CreateJob inserts the record and fills in job.ID from the sequence.
	// Closure is intentionally not written here; the creation sequence
	// stamps it on the follow-up FinalizeJob call.
	CreateJob(ctx context.Context, job *models.Job) error
	// FinalizeJob writes the closure and the promoted data file rows in one
	// transaction, completing the two-write creation sequence.
	FinalizeJob(ctx context.Context, job *models.Job, files []*models.DataFile) error
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	GetJobBySlug(ctx context.Context, slug string) (*models.Job, error)
	UpdateJobState(ctx context.Context, id int64, state models.State) error
	UpdateJobStatus(ctx context.Context, id int64, status models.Status, opts ...JobUpdateOption) error
	ListDataFiles(ctx context.Context, jobID int64) ([]*models.DataFile, error)
	ListExpiredJobs(ctx context.Context, before time.Time, limit int) ([]*models.Job, error)
	DeleteJob(ctx context.Context, id int64) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

type jobUpdateParams struct {
	Duration *time.Duration
}

type JobUpdateOption func(*jobUpdateParams)

// WithDuration records the elapsed processing time alongside a terminal
// status update.
func WithDuration(d time.Duration) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Duration = &d
	}
}
