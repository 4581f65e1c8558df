package models

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// State is the monotonic lifecycle stage of a job. Codes are spaced so
// intermediate stages can be added without renumbering.
type State int

const (
	StateCreated   State = 0
	StateSubmitted State = 100
	StateRunning   State = 200
	StateCompleted State = 300
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSubmitted:
		return "submitted"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseState maps a lifecycle stage name back to its code.
func ParseState(s string) (State, error) {
	switch s {
	case "created":
		return StateCreated, nil
	case "submitted":
		return StateSubmitted, nil
	case "running":
		return StateRunning, nil
	case "completed":
		return StateCompleted, nil
	}
	return 0, fmt.Errorf("unknown state %q", s)
}

// Status is the outcome flag of a job, an axis independent of State. It
// starts Active and is terminal once set to Succeeded or Failed.
type Status int

const (
	StatusActive    Status = 0
	StatusSucceeded Status = 10
	StatusFailed    Status = 20
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus maps an outcome name back to its code.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "active":
		return StatusActive, nil
	case "succeeded":
		return StatusSucceeded, nil
	case "failed":
		return StatusFailed, nil
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

const (
	IdentifierMaxLength = 32
	SlugMaxLength       = 32
	SlugRandLength      = 6
)

// A random integer in [1e6, 1e7) stands in for the job ID as the on-disk
// folder name until the database assigns a permanent one.
const (
	tempIDMin = 1_000_000
	tempIDMax = 10_000_000
)

// FileRef points at bytes on the filesystem by storage-relative path.
type FileRef struct {
	Path string `json:"path"`
}

// PromotionState tracks which required upload fields still live under the
// temporary job folder. It is seeded at construction from the job type's
// registry and drained by the promotion protocol.
type PromotionState struct {
	Pending []string
}

// Done reports whether no required files remain under the temporary folder.
func (p *PromotionState) Done() bool {
	return len(p.Pending) == 0
}

// Remove drops a field from the pending list once its file has moved.
func (p *PromotionState) Remove(field string) {
	for i, f := range p.Pending {
		if f == field {
			p.Pending = append(p.Pending[:i], p.Pending[i+1:]...)
			return
		}
	}
}

// Job is a unit of trackable, time-bounded work with filesystem-backed
// inputs and outputs. ID is zero until the first successful insert; until
// promotion of required files completes, paths resolve under tmp/<TempID>.
type Job struct {
	ID         int64          `db:"id"         json:"id"`
	Type       string         `db:"type"       json:"type"`
	Identifier string         `db:"identifier" json:"identifier,omitempty"`
	Slug       string         `db:"slug"       json:"slug"`
	State      State          `db:"state"      json:"state"`
	Status     Status         `db:"status"     json:"status"`
	Timestamp  time.Time      `db:"created_at" json:"created_at"`
	Closure    *time.Time     `db:"closure"    json:"closure,omitempty"`
	Duration   *time.Duration `db:"duration"   json:"duration,omitempty"`

	// TempID names the folder the job's uploads land in before the database
	// assigns ID. Zeroed once promotion completes. Not persisted.
	TempID int64 `db:"-" json:"-"`

	// Files maps required-upload field names to their current on-disk
	// location: temporary before promotion, permanent after.
	Files map[string]*FileRef `db:"-" json:"files,omitempty"`

	Promotion PromotionState `db:"-" json:"-"`
}

// NewJob constructs an in-memory job record with a fresh temporary identity.
// required is the job type's declared upload field list; the pending list is
// seeded from it so path resolution stays on the temporary folder until
// every one of them has been promoted.
func NewJob(typ, identifier string, required []string) *Job {
	j := &Job{
		Type:       typ,
		Identifier: identifier,
		State:      StateCreated,
		Status:     StatusActive,
		Timestamp:  time.Now().UTC(),
		TempID:     rand.Int63n(tempIDMax-tempIDMin) + tempIDMin,
		Files:      make(map[string]*FileRef),
	}
	j.Promotion.Pending = append([]string(nil), required...)
	j.Slug = j.DefaultSlug()
	return j
}

// DefaultSlug derives the default slug: the first 6 characters of the
// identifier (or the first letter of the type when no identifier was given)
// followed by the creation timestamp as YYMMDDHHmm. A result overflowing 32
// characters is truncated to 26 and padded with a random 6-digit suffix.
func (j *Job) DefaultSlug() string {
	var s string
	if j.Identifier != "" {
		n := len(j.Identifier)
		if n > SlugRandLength {
			n = SlugRandLength
		}
		s = j.Identifier[:n]
	} else if j.Type != "" {
		s = strings.ToLower(j.Type[:1])
	}
	s += j.Timestamp.Format("0601021504")
	if len(s) > SlugMaxLength {
		suffix := rand.Int63n(9*pow10(SlugRandLength-1)) + pow10(SlugRandLength-1)
		s = fmt.Sprintf("%s%d", s[:SlugMaxLength-SlugRandLength], suffix)
	}
	return s
}

func pow10(n int) int64 {
	p := int64(1)
	for i := 0; i < n; i++ {
		p *= 10
	}
	return p
}
