// Package jobs owns the job lifecycle: construction with a temporary
// identity, the two-write creation sequence that promotes required uploads,
// and the state/status updates downstream consumers apply afterwards.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gosimple/slug"

	"github.com/kiranshivaraju/jobkeeper/internal/cache"
	"github.com/kiranshivaraju/jobkeeper/internal/filing"
	"github.com/kiranshivaraju/jobkeeper/internal/storage"
	"github.com/kiranshivaraju/jobkeeper/internal/store"
	"github.com/kiranshivaraju/jobkeeper/pkg/models"
)

var ErrUnknownType = errors.New("unknown job type")
var ErrInvalidIdentifier = errors.New("identifier must be at most 32 alphanumeric characters")

var identifierRE = regexp.MustCompile(`^[A-Za-z0-9]{0,32}$`)

// statusCacheTTL bounds how long a possibly stale cached status lives.
const statusCacheTTL = 5 * time.Minute

// Upload is a file handed in at creation time, keyed by its field name.
type Upload struct {
	Filename string
	Content  io.Reader
}

// CreateParams are the inputs to job creation.
type CreateParams struct {
	Type       string
	Identifier string
	// Slug overrides the derived default. It is normalized before use.
	Slug    string
	Uploads map[string]Upload
	// ResultsExistOK tolerates a pre-existing results directory.
	ResultsExistOK bool
}

// Service drives the job lifecycle against the store, the blob storage and
// the filing core.
type Service struct {
	store store.Store
	cache cache.Cache
	fs    storage.FileSystem
	res   *filing.Resolver
	prom  *filing.Promoter
	ttl   time.Duration
}

func NewService(st store.Store, c cache.Cache, fs storage.FileSystem, res *filing.Resolver, ttl time.Duration) *Service {
	return &Service{
		store: st,
		cache: c,
		fs:    fs,
		res:   res,
		prom:  filing.NewPromoter(res, fs),
		ttl:   ttl,
	}
}

// Resolver exposes the path resolver for collaborators that compute job
// paths themselves, such as the reaper.
func (s *Service) Resolver() *filing.Resolver {
	return s.res
}

// Create runs the whole creation sequence: build the record with a
// temporary identity, stage uploads under the temporary folder, insert to
// obtain the permanent ID, promote required uploads, stamp the closure,
// persist it together with the promoted paths, and ensure the results
// directory exists.
//
// A promotion failure is returned after the insert, so the job row exists
// with no closure; the caller must surface this as a creation failure.
func (s *Service) Create(ctx context.Context, p CreateParams) (*models.Job, error) {
	jt, ok := s.res.Type(p.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, p.Type)
	}
	if !identifierRE.MatchString(p.Identifier) {
		return nil, ErrInvalidIdentifier
	}

	j := models.NewJob(p.Type, p.Identifier, jt.RequiredFiles)
	if p.Slug != "" {
		j.Slug = normalizeSlug(p.Slug)
	}

	// Stage uploads in the temporary folder. The field refs recorded here
	// are what promotion moves after the insert.
	for field, up := range p.Uploads {
		path := s.res.DataPath(j, filepath.Base(up.Filename))
		if err := s.fs.Put(path, up.Content); err != nil {
			return nil, fmt.Errorf("stage upload %s: %w", field, err)
		}
		j.Files[field] = &models.FileRef{Path: path}
	}

	if err := s.saveNew(ctx, j, p.ResultsExistOK); err != nil {
		return nil, err
	}
	return j, nil
}

// saveNew is the first-save sequence. Any failure after the insert leaves
// the row without a closure; it is not retried here.
func (s *Service) saveNew(ctx context.Context, j *models.Job, resultsExistOK bool) error {
	if err := s.store.CreateJob(ctx, j); err != nil {
		return err
	}

	jt, _ := s.res.Type(j.Type)
	if jt.RequiredFiles != nil {
		if err := s.prom.Promote(j); err != nil {
			return err
		}
	}

	closure := j.Timestamp.Add(s.ttl)
	j.Closure = &closure

	now := time.Now().UTC()
	var files []*models.DataFile
	for field, ref := range j.Files {
		files = append(files, &models.DataFile{
			JobID:     j.ID,
			Field:     field,
			Path:      ref.Path,
			CreatedAt: now,
		})
	}
	if err := s.store.FinalizeJob(ctx, j, files); err != nil {
		return err
	}

	if err := s.fs.EnsureDir(s.res.ResultsDir(j), resultsExistOK); err != nil {
		return err
	}

	// Best-effort cache warm; a miss later just falls back to the store.
	if err := s.cache.SetJobStatus(ctx, j.ID, j.Status, statusCacheTTL); err != nil {
		slog.Warn("cache job status", "job_id", j.ID, "error", err)
	}
	if err := s.cache.SetSlugID(ctx, j.Slug, j.ID, s.ttl); err != nil {
		slog.Warn("cache slug lookup", "slug", j.Slug, "error", err)
	}
	return nil
}

// Get fetches a job by its permanent ID.
func (s *Service) Get(ctx context.Context, id int64) (*models.Job, error) {
	return s.store.GetJob(ctx, id)
}

// GetBySlug fetches a job by slug, going through the slug→ID cache.
func (s *Service) GetBySlug(ctx context.Context, sl string) (*models.Job, error) {
	if id, ok, err := s.cache.GetSlugID(ctx, sl); err == nil && ok {
		return s.store.GetJob(ctx, id)
	}
	j, err := s.store.GetJobBySlug(ctx, sl)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetSlugID(ctx, sl, j.ID, s.ttl); err != nil {
		slog.Warn("cache slug lookup", "slug", sl, "error", err)
	}
	return j, nil
}

// SetState advances the lifecycle stage. Transitions are forward-only and
// validated by the store.
func (s *Service) SetState(ctx context.Context, id int64, state models.State) error {
	return s.store.UpdateJobState(ctx, id, state)
}

// SetStatus records the terminal outcome, optionally with the elapsed
// processing time.
func (s *Service) SetStatus(ctx context.Context, id int64, status models.Status, duration *time.Duration) error {
	var opts []store.JobUpdateOption
	if duration != nil {
		opts = append(opts, store.WithDuration(*duration))
	}
	if err := s.store.UpdateJobStatus(ctx, id, status, opts...); err != nil {
		return err
	}
	if err := s.cache.SetJobStatus(ctx, id, status, statusCacheTTL); err != nil {
		slog.Warn("cache job status", "job_id", id, "error", err)
	}
	return nil
}

// Files lists the persisted data files of a job.
func (s *Service) Files(ctx context.Context, id int64) ([]*models.DataFile, error) {
	return s.store.ListDataFiles(ctx, id)
}

// normalizeSlug slugifies user input and clamps it to the column width.
func normalizeSlug(in string) string {
	out := slug.Make(in)
	if len(out) > models.SlugMaxLength {
		out = out[:models.SlugMaxLength]
	}
	return out
}
