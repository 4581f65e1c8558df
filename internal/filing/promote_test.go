package filing_test

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/jobkeeper/internal/filing"
	"github.com/kiranshivaraju/jobkeeper/internal/storage"
	"github.com/kiranshivaraju/jobkeeper/pkg/models"
)

func newLocal(t *testing.T) *storage.Local {
	t.Helper()
	fs, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	return fs
}

// stage writes an upload into the job's (temporary) data path and records
// the ref, the way the creation path does before the first insert.
func stage(t *testing.T, fs *storage.Local, res *filing.Resolver, j *models.Job, field, filename, content string) {
	t.Helper()
	path := res.DataPath(j, filename)
	require.NoError(t, fs.Put(path, strings.NewReader(content)))
	j.Files[field] = &models.FileRef{Path: path}
}

func TestPromote_MovesRequiredFilesAndRemovesTempFolder(t *testing.T) {
	fs := newLocal(t)
	res := newResolver(filing.JobType{
		Name:          "analysis",
		RequiredFiles: []string{"dataset", "config"},
	})
	p := filing.NewPromoter(res, fs)

	j := models.NewJob("analysis", "abc", []string{"dataset", "config"})
	stage(t, fs, res, j, "dataset", "data.csv", "1,2,3")
	stage(t, fs, res, j, "config", "cfg.json", "{}")
	tmpRoot := res.RootDir(j)
	tempID := j.TempID

	j.ID = 42
	require.NoError(t, p.Promote(j))

	// Files live at their permanent paths and the refs follow.
	permData := filepath.Join("analysis", "42", "data", "data.csv")
	assert.Equal(t, permData, j.Files["dataset"].Path)
	assert.True(t, fs.Exists(permData))
	assert.True(t, fs.Exists(filepath.Join("analysis", "42", "data", "cfg.json")))

	// Temporary folder is gone and the temporary identity exhausted.
	assert.False(t, fs.Exists(tmpRoot))
	assert.False(t, fs.Exists(filepath.Join("analysis", "tmp", strconv.FormatInt(tempID, 10))))
	assert.True(t, j.Promotion.Done())
	assert.Zero(t, j.TempID)

	// Path resolution now lands on the permanent folder.
	assert.Equal(t, filepath.Join("analysis", "42"), res.RootDir(j))
}

func TestPromote_PreservesFileContent(t *testing.T) {
	fs := newLocal(t)
	res := newResolver(filing.JobType{Name: "analysis", RequiredFiles: []string{"dataset"}})
	p := filing.NewPromoter(res, fs)

	j := models.NewJob("analysis", "", []string{"dataset"})
	stage(t, fs, res, j, "dataset", "data.csv", "hello,world")

	j.ID = 7
	require.NoError(t, p.Promote(j))

	rc, err := fs.Open(j.Files["dataset"].Path)
	require.NoError(t, err)
	defer rc.Close()
	buf := make([]byte, 32)
	n, _ := rc.Read(buf)
	assert.Equal(t, "hello,world", string(buf[:n]))
}

func TestPromote_UnregisteredTypeFails(t *testing.T) {
	fs := newLocal(t)
	res := newResolver()
	p := filing.NewPromoter(res, fs)

	j := models.NewJob("mystery", "", nil)
	j.ID = 1

	err := p.Promote(j)
	assert.ErrorIs(t, err, filing.ErrNoFileRegistry)
}

func TestPromote_TypeWithoutRegistryFails(t *testing.T) {
	fs := newLocal(t)
	// Registered, but RequiredFiles was never declared.
	res := newResolver(filing.JobType{Name: "analysis"})
	p := filing.NewPromoter(res, fs)

	j := models.NewJob("analysis", "", nil)
	j.ID = 1

	err := p.Promote(j)
	assert.ErrorIs(t, err, filing.ErrNoFileRegistry)
}

func TestPromote_MissingRequiredFileAbortsMidIteration(t *testing.T) {
	fs := newLocal(t)
	res := newResolver(filing.JobType{
		Name:          "analysis",
		RequiredFiles: []string{"dataset", "config"},
	})
	p := filing.NewPromoter(res, fs)

	j := models.NewJob("analysis", "", []string{"dataset", "config"})
	stage(t, fs, res, j, "dataset", "data.csv", "1,2,3")
	// "config" never uploaded.
	tmpRoot := res.RootDir(j)

	j.ID = 42
	err := p.Promote(j)

	var missing *filing.MissingFileError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "config", missing.Field)

	// The first field was promoted and is not rolled back.
	assert.True(t, fs.Exists(filepath.Join("analysis", "42", "data", "data.csv")))
	// The temporary folder survives and the pending list still names the
	// missing field, so path resolution stays temporary.
	assert.True(t, fs.Exists(tmpRoot))
	assert.False(t, j.Promotion.Done())
	assert.Equal(t, []string{"config"}, j.Promotion.Pending)
	assert.Equal(t, tmpRoot, res.RootDir(j))
}

func TestPromote_EmptyRegistryOnlyCleansTempFolder(t *testing.T) {
	fs := newLocal(t)
	res := newResolver(filing.JobType{Name: "report", RequiredFiles: []string{}})
	p := filing.NewPromoter(res, fs)

	j := models.NewJob("report", "", []string{})
	tmpRoot := filepath.Join("report", "tmp", strconv.FormatInt(j.TempID, 10))
	require.NoError(t, fs.EnsureDir(tmpRoot, true))

	j.ID = 3
	require.NoError(t, p.Promote(j))

	assert.False(t, fs.Exists(tmpRoot))
	assert.Zero(t, j.TempID)
}

func TestPromote_RespectsDataDirOverrideAtDestination(t *testing.T) {
	fs := newLocal(t)
	res := newResolver(filing.JobType{
		Name:          "analysis",
		DataDir:       filing.FixedPath("inputs"),
		RequiredFiles: []string{"dataset"},
	})
	p := filing.NewPromoter(res, fs)

	j := models.NewJob("analysis", "", []string{"dataset"})
	stage(t, fs, res, j, "dataset", "data.csv", "x")

	j.ID = 11
	require.NoError(t, p.Promote(j))

	want := filepath.Join("analysis", "11", "inputs", "data.csv")
	assert.Equal(t, want, j.Files["dataset"].Path)
	assert.True(t, fs.Exists(want), fmt.Sprintf("expected %s to exist", want))
}
