package filing

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/kiranshivaraju/jobkeeper/internal/storage"
	"github.com/kiranshivaraju/jobkeeper/pkg/models"
)

// ErrNoFileRegistry is returned when promotion runs for a job type that was
// never registered with a required-file list.
var ErrNoFileRegistry = errors.New("job type declares no required file registry")

// MissingFileError reports a declared required field with no upload behind
// it at promotion time.
type MissingFileError struct {
	Field string
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("required file %q has no upload to promote", e.Field)
}

// Promoter moves a job's required uploads from the temporary folder to the
// permanent per-job folder. It runs once per job, synchronously, right after
// the first successful insert assigns the permanent ID.
type Promoter struct {
	res *Resolver
	fs  storage.FileSystem
}

func NewPromoter(res *Resolver, fs storage.FileSystem) *Promoter {
	return &Promoter{res: res, fs: fs}
}

// Promote walks the declared required fields in order. For each: the bytes
// are written at the permanent data path, the job's reference is repointed,
// and the temporary copy deleted. A missing upload aborts mid-iteration and
// fields promoted earlier stay promoted. After the last field the temporary
// folder is removed and the temporary identity marked exhausted, so path
// resolution flips to the permanent folder.
//
// Promote mutates j.Files in memory only; the caller persists the new paths.
// It must not run concurrently with another save of the same instance.
func (p *Promoter) Promote(j *models.Job) error {
	jt, ok := p.res.Type(j.Type)
	if !ok || jt.RequiredFiles == nil {
		return fmt.Errorf("%w: register type %q before saving", ErrNoFileRegistry, j.Type)
	}

	// The temporary root is captured up front: once the pending list drains,
	// RootDir resolves to the permanent folder.
	tmpRoot := p.res.tempRoot(j)

	for _, field := range jt.RequiredFiles {
		ref := j.Files[field]
		if ref == nil || ref.Path == "" {
			return &MissingFileError{Field: field}
		}

		newPath := p.res.permanentDataPath(j, filepath.Base(ref.Path))
		src, err := p.fs.Open(ref.Path)
		if err != nil {
			return fmt.Errorf("promote %s: %w", field, err)
		}
		if err := p.fs.Put(newPath, src); err != nil {
			src.Close()
			return fmt.Errorf("promote %s: %w", field, err)
		}
		oldPath := ref.Path
		ref.Path = newPath
		if err := src.Close(); err != nil {
			return fmt.Errorf("promote %s: %w", field, err)
		}
		if err := p.fs.Delete(oldPath); err != nil {
			return fmt.Errorf("promote %s: %w", field, err)
		}
		j.Promotion.Remove(field)
	}

	if err := p.fs.RemoveAll(tmpRoot); err != nil {
		return fmt.Errorf("remove temporary folder: %w", err)
	}
	j.Promotion.Pending = nil
	j.TempID = 0
	return nil
}
