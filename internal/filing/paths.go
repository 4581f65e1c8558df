// Package filing implements the two-phase filesystem layout for jobs: path
// resolution against a temporary folder before a job has a database identity
// and against its permanent folder after, plus the one-time promotion of
// required uploads between the two.
package filing

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/jobkeeper/pkg/models"
)

// TempFolder is the shared parent for all pre-promotion job folders.
const TempFolder = "tmp"

// PathOverride customizes a segment of a job type's layout. The zero value
// means "not set" and the defaults apply; otherwise it is either a fixed
// prefix or a function computing the segment from the job and filename.
type PathOverride struct {
	prefix string
	fn     func(j *models.Job, filename string) string
	set    bool
}

// FixedPath returns an override that joins a fixed prefix with the filename.
func FixedPath(prefix string) PathOverride {
	return PathOverride{prefix: prefix, set: true}
}

// ComputedPath returns an override that computes the segment itself.
func ComputedPath(fn func(j *models.Job, filename string) string) PathOverride {
	return PathOverride{fn: fn, set: true}
}

func (o PathOverride) resolve(j *models.Job, filename string) (string, bool) {
	if !o.set {
		return "", false
	}
	if o.fn != nil {
		return o.fn(j, filename), true
	}
	return filepath.Join(o.prefix, filename), true
}

// JobType declares a job type's filesystem layout and its required uploads.
// RequiredFiles nil means the type never went through registration with
// required files and promotion refuses to run for it; an empty non-nil slice
// declares "registered, nothing to promote".
type JobType struct {
	Name          string
	Root          PathOverride
	DataDir       PathOverride
	ResultsDir    PathOverride
	RequiredFiles []string
}

// Resolver computes storage-relative paths for jobs from the registered
// type declarations. All returned paths are relative to the storage root.
type Resolver struct {
	types map[string]JobType
}

func NewResolver() *Resolver {
	return &Resolver{types: make(map[string]JobType)}
}

// Register adds or replaces a job type declaration.
func (r *Resolver) Register(jt JobType) {
	r.types[jt.Name] = jt
}

// Type looks up a registered job type by name.
func (r *Resolver) Type(name string) (JobType, bool) {
	jt, ok := r.types[name]
	return jt, ok
}

// head returns the per-type parent folder: the root override when declared,
// else the lowercased type name.
func (r *Resolver) head(j *models.Job) string {
	if jt, ok := r.types[j.Type]; ok {
		if h, ok := jt.Root.resolve(j, ""); ok {
			return h
		}
	}
	return strings.ToLower(j.Type)
}

func (r *Resolver) tempRoot(j *models.Job) string {
	return filepath.Join(r.head(j), TempFolder, strconv.FormatInt(j.TempID, 10))
}

func (r *Resolver) permRoot(j *models.Job) string {
	return filepath.Join(r.head(j), strconv.FormatInt(j.ID, 10))
}

// RootDir resolves the job's folder. The temporary folder is used while the
// job has no database ID, and also after the ID is assigned but required
// uploads have not all been promoted yet; only a fully promoted job resolves
// under its permanent ID.
func (r *Resolver) RootDir(j *models.Job) string {
	if j.ID == 0 || !j.Promotion.Done() {
		return r.tempRoot(j)
	}
	return r.permRoot(j)
}

// RootPath resolves a filename stored at the job's folder root.
func (r *Resolver) RootPath(j *models.Job, filename string) string {
	return filepath.Join(r.RootDir(j), filename)
}

// DataPath resolves a filename in the job's data subfolder. A DataFile
// resolves through its owning job, so callers holding one pass the owner.
func (r *Resolver) DataPath(j *models.Job, filename string) string {
	return filepath.Join(r.RootDir(j), r.dataTail(j, filename))
}

// ResultsPath resolves a filename in the job's results subfolder.
func (r *Resolver) ResultsPath(j *models.Job, filename string) string {
	return filepath.Join(r.RootDir(j), r.resultsTail(j, filename))
}

// ResultsDir resolves the job's results subfolder itself.
func (r *Resolver) ResultsDir(j *models.Job) string {
	return r.ResultsPath(j, "")
}

func (r *Resolver) dataTail(j *models.Job, filename string) string {
	if jt, ok := r.types[j.Type]; ok {
		if tail, ok := jt.DataDir.resolve(j, filename); ok {
			return tail
		}
	}
	return filepath.Join("data", filename)
}

func (r *Resolver) resultsTail(j *models.Job, filename string) string {
	if jt, ok := r.types[j.Type]; ok {
		if tail, ok := jt.ResultsDir.resolve(j, filename); ok {
			return tail
		}
	}
	return filepath.Join("results", filename)
}

// permanentDataPath resolves a data filename against the permanent root
// regardless of promotion progress. Promotion uses it to compute
// destinations while RootDir still points at the temporary folder.
func (r *Resolver) permanentDataPath(j *models.Job, filename string) string {
	if j.ID == 0 {
		panic(fmt.Sprintf("permanentDataPath before insert of job type %s", j.Type))
	}
	return filepath.Join(r.permRoot(j), r.dataTail(j, filename))
}
