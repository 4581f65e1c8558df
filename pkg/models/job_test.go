package models_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/jobkeeper/pkg/models"
)

func TestNewJob_Defaults(t *testing.T) {
	j := models.NewJob("analysis", "abc", []string{"dataset"})

	assert.Equal(t, models.StateCreated, j.State)
	assert.Equal(t, models.StatusActive, j.Status)
	assert.Zero(t, j.ID)
	assert.WithinDuration(t, time.Now().UTC(), j.Timestamp, 5*time.Second)
	assert.Equal(t, []string{"dataset"}, j.Promotion.Pending)
	assert.NotEmpty(t, j.Slug)
}

func TestNewJob_TempIDInRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		j := models.NewJob("analysis", "", nil)
		assert.GreaterOrEqual(t, j.TempID, int64(1_000_000))
		assert.Less(t, j.TempID, int64(10_000_000))
	}
}

func TestNewJob_PendingListIsACopy(t *testing.T) {
	required := []string{"dataset", "config"}
	j := models.NewJob("analysis", "", required)

	j.Promotion.Remove("dataset")

	assert.Equal(t, []string{"dataset", "config"}, required)
	assert.Equal(t, []string{"config"}, j.Promotion.Pending)
}

func TestDefaultSlug_IdentifierPrefixAndTimestamp(t *testing.T) {
	j := &models.Job{
		Type:       "analysis",
		Identifier: "abcdef123",
		Timestamp:  time.Date(2023, 5, 1, 10, 30, 0, 0, time.UTC),
	}

	slug := j.DefaultSlug()

	assert.True(t, strings.HasPrefix(slug, "abcdef"), slug)
	assert.Equal(t, "abcdef2305011030", slug)
}

func TestDefaultSlug_ShortIdentifierKeptWhole(t *testing.T) {
	j := &models.Job{
		Type:       "analysis",
		Identifier: "ab",
		Timestamp:  time.Date(2023, 5, 1, 10, 30, 0, 0, time.UTC),
	}

	assert.Equal(t, "ab2305011030", j.DefaultSlug())
}

func TestDefaultSlug_NoIdentifierUsesTypeInitial(t *testing.T) {
	j := &models.Job{
		Type:      "Analysis",
		Timestamp: time.Date(2023, 5, 1, 10, 30, 0, 0, time.UTC),
	}

	assert.Equal(t, "a2305011030", j.DefaultSlug())
}

func TestDefaultSlug_NeverExceedsMaxLength(t *testing.T) {
	j := &models.Job{
		Type:       "analysis",
		Identifier: strings.Repeat("x", models.IdentifierMaxLength),
		Timestamp:  time.Now().UTC(),
	}

	slug := j.DefaultSlug()
	assert.LessOrEqual(t, len(slug), models.SlugMaxLength)
}

func TestPromotionState_Remove(t *testing.T) {
	p := models.PromotionState{Pending: []string{"a", "b", "c"}}

	p.Remove("b")
	assert.Equal(t, []string{"a", "c"}, p.Pending)
	assert.False(t, p.Done())

	p.Remove("missing")
	assert.Equal(t, []string{"a", "c"}, p.Pending)

	p.Remove("a")
	p.Remove("c")
	assert.True(t, p.Done())
}

func TestParseState(t *testing.T) {
	tests := []struct {
		in      string
		want    models.State
		wantErr bool
	}{
		{"created", models.StateCreated, false},
		{"submitted", models.StateSubmitted, false},
		{"running", models.StateRunning, false},
		{"completed", models.StateCompleted, false},
		{"bogus", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := models.ParseState(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.in, got.String())
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    models.Status
		wantErr bool
	}{
		{"active", models.StatusActive, false},
		{"succeeded", models.StatusSucceeded, false},
		{"failed", models.StatusFailed, false},
		{"done", 0, true},
	}
	for _, tt := range tests {
		got, err := models.ParseStatus(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.in, got.String())
	}
}

func TestStateOrdering(t *testing.T) {
	assert.Less(t, int(models.StateCreated), int(models.StateSubmitted))
	assert.Less(t, int(models.StateSubmitted), int(models.StateRunning))
	assert.Less(t, int(models.StateRunning), int(models.StateCompleted))
}
