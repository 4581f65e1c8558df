package reaper_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/jobkeeper/internal/filing"
	"github.com/kiranshivaraju/jobkeeper/internal/reaper"
	"github.com/kiranshivaraju/jobkeeper/internal/storage"
	"github.com/kiranshivaraju/jobkeeper/internal/store"
	"github.com/kiranshivaraju/jobkeeper/pkg/models"
)

// reaperStore serves canned expired jobs and records deletions.
type reaperStore struct {
	expired []*models.Job
	deleted []int64
}

func (s *reaperStore) Ping(_ context.Context) error                          { return nil }
func (s *reaperStore) CreateJob(_ context.Context, _ *models.Job) error      { return nil }
func (s *reaperStore) FinalizeJob(_ context.Context, _ *models.Job, _ []*models.DataFile) error {
	return nil
}
func (s *reaperStore) GetJob(_ context.Context, _ int64) (*models.Job, error) {
	return nil, store.ErrNotFound
}
func (s *reaperStore) GetJobBySlug(_ context.Context, _ string) (*models.Job, error) {
	return nil, store.ErrNotFound
}
func (s *reaperStore) UpdateJobState(_ context.Context, _ int64, _ models.State) error { return nil }
func (s *reaperStore) UpdateJobStatus(_ context.Context, _ int64, _ models.Status, _ ...store.JobUpdateOption) error {
	return nil
}
func (s *reaperStore) ListDataFiles(_ context.Context, _ int64) ([]*models.DataFile, error) {
	return nil, nil
}
func (s *reaperStore) ListExpiredJobs(_ context.Context, _ time.Time, _ int) ([]*models.Job, error) {
	return s.expired, nil
}
func (s *reaperStore) DeleteJob(_ context.Context, id int64) error {
	s.deleted = append(s.deleted, id)
	return nil
}
func (s *reaperStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *reaperStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (s *reaperStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error    { return nil }
func (s *reaperStore) ListAPIKeys(_ context.Context) ([]*models.APIKey, error)   { return nil, nil }
func (s *reaperStore) RevokeAPIKey(_ context.Context, _ uuid.UUID) error         { return nil }

func TestSweep_RemovesFolderAndRow(t *testing.T) {
	fs, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	res := filing.NewResolver()
	res.Register(filing.JobType{Name: "analysis", RequiredFiles: []string{"dataset"}})

	// An expired, fully promoted job with bytes on disk.
	expired := &models.Job{ID: 42, Type: "analysis"}
	require.NoError(t, fs.Put("analysis/42/data/d.csv", strings.NewReader("x")))
	require.NoError(t, fs.Put("analysis/42/results/out.txt", strings.NewReader("y")))

	st := &reaperStore{expired: []*models.Job{expired}}
	r := reaper.New(st, fs, res, time.Minute)

	n, err := r.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{42}, st.deleted)
	assert.False(t, fs.Exists("analysis/42"))
}

func TestSweep_NothingExpired(t *testing.T) {
	fs, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	st := &reaperStore{}
	r := reaper.New(st, fs, filing.NewResolver(), time.Minute)

	n, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, st.deleted)
}
