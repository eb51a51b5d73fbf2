// Package progression owns the per-learner, per-course progression record and
// the rules that mutate it. Every transition is a pure function: it takes a
// Progression by value and returns a new one, leaving persistence to the
// caller.
package progression

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/grading"
)

var (
	ErrNotFound               = errors.New("progression not found")
	ErrAlreadyExists          = errors.New("progression already exists")
	ErrInvalidIndex           = errors.New("invalid subchapter index")
	ErrRequiresFullCompletion = errors.New("all chapters must be completed first")
	ErrNotATest               = errors.New("subchapter is not a test")
	ErrTestRequiresPass       = errors.New("test subchapters complete only with a passing grade")
	ErrVersionConflict        = errors.New("progression was modified concurrently")
	ErrArchived               = errors.New("course was left, sign up again to continue")
	ErrInvalidProgression     = errors.New("invalid progression")
)

// Progression is the mutable learning state of one user in one course.
type Progression struct {
	UserID               string    `json:"userId"`
	CourseID             string    `json:"courseId"`
	LastViewedSubchapter int       `json:"lastViewedSubchapter"`
	CompletedSubchapters []int     `json:"completedSubchapters"` // sorted, no duplicates
	IsCompleted          bool      `json:"isCompleted"`
	IsArchived           bool      `json:"isArchived"`
	AssignedBy           string    `json:"assignedBy,omitempty"`
	Version              int       `json:"version"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// New creates the progression recorded on course sign-up. assignedBy is the
// supervisor's id for assigned enrollments, or empty.
func New(userID string, c *course.Course, assignedBy string) (Progression, error) {
	if userID == "" {
		return Progression{}, fmt.Errorf("%w: user id is required", ErrInvalidProgression)
	}
	first, err := course.FirstSubchapterIndex(c)
	if err != nil {
		return Progression{}, err
	}
	return Progression{
		UserID:               userID,
		CourseID:             c.ID,
		LastViewedSubchapter: first,
		CompletedSubchapters: []int{},
		AssignedBy:           assignedBy,
	}, nil
}

// IsSubchapterCompleted reports whether index is in the completed set.
func (p Progression) IsSubchapterCompleted(index int) bool {
	_, ok := slices.BinarySearch(p.CompletedSubchapters, index)
	return ok
}

func (p Progression) clone() Progression {
	p.CompletedSubchapters = slices.Clone(p.CompletedSubchapters)
	if p.CompletedSubchapters == nil {
		p.CompletedSubchapters = []int{}
	}
	return p
}

func findSubChapter(c *course.Course, index int) (course.SubChapter, error) {
	sc, err := course.FindSubChapter(c, index)
	if err != nil {
		return course.SubChapter{}, fmt.Errorf("%w: %d in course %q", ErrInvalidIndex, index, c.ID)
	}
	return sc, nil
}

// MarkViewed records index as the last viewed subchapter. Idempotent.
func MarkViewed(p Progression, c *course.Course, index int) (Progression, error) {
	if _, err := findSubChapter(c, index); err != nil {
		return p, err
	}
	next := p.clone()
	next.LastViewedSubchapter = index
	return next, nil
}

// MarkCompleted adds index to the completed set. Completion never regresses
// and completing twice is a no-op.
func MarkCompleted(p Progression, c *course.Course, index int) (Progression, error) {
	if _, err := findSubChapter(c, index); err != nil {
		return p, err
	}
	next := p.clone()
	pos, found := slices.BinarySearch(next.CompletedSubchapters, index)
	if !found {
		next.CompletedSubchapters = slices.Insert(next.CompletedSubchapters, pos, index)
	}
	return next, nil
}

// CompleteViewed applies the "fully viewed" signal for index. Info and video
// subchapters are completed; tests are refused with ErrTestRequiresPass.
func CompleteViewed(p Progression, c *course.Course, index int) (Progression, error) {
	sc, err := findSubChapter(c, index)
	if err != nil {
		return p, err
	}
	switch sc.Content.Type {
	case course.ContentInfo, course.ContentVideo:
		return MarkCompleted(p, c, index)
	case course.ContentTest:
		return p, fmt.Errorf("%w: subchapter %d", ErrTestRequiresPass, index)
	default:
		return p, fmt.Errorf("%w: subchapter %d has content type %q", course.ErrInvalidCourse, index, sc.Content.Type)
	}
}

// CompletionPercentage returns the share of the course's subchapters that are
// completed, rounded to the nearest integer in [0, 100]. The denominator is
// the live subchapter count, so gaps in the index sequence do not matter.
func CompletionPercentage(p Progression, c *course.Course) int {
	total := course.SubchapterCount(c)
	if total == 0 {
		return 0
	}
	done := 0
	for _, i := range p.CompletedSubchapters {
		if course.HasSubChapter(c, i) {
			done++
		}
	}
	return int(math.Round(100 * float64(done) / float64(total)))
}

// FinishCourse marks the course completed. It fails with
// ErrRequiresFullCompletion below 100% and is idempotent once completed.
func FinishCourse(p Progression, c *course.Course) (Progression, error) {
	if p.IsCompleted {
		return p, nil
	}
	if pct := CompletionPercentage(p, c); pct < 100 {
		return p, fmt.Errorf("%w: %d%% completed", ErrRequiresFullCompletion, pct)
	}
	next := p.clone()
	next.IsCompleted = true
	return next, nil
}

// SubmitTest grades answers for the test at index. A pass completes the
// subchapter; a fail leaves the completed set untouched and may be retried
// without limit. Either way the test becomes the last viewed subchapter.
func SubmitTest(p Progression, c *course.Course, index int, answers [][]int) (Progression, grading.Result, error) {
	sc, err := findSubChapter(c, index)
	if err != nil {
		return p, grading.Result{}, err
	}
	if sc.Content.Type != course.ContentTest || sc.Content.Test == nil {
		return p, grading.Result{}, fmt.Errorf("%w: subchapter %d is %s", ErrNotATest, index, sc.Content.Type)
	}

	res, err := grading.GradeTest(*sc.Content.Test, answers)
	if err != nil {
		return p, grading.Result{}, err
	}

	next, _ := MarkViewed(p, c, index)
	if res.Passed {
		next, _ = MarkCompleted(next, c, index)
	}
	return next, res, nil
}

// Leave archives the progression. History is kept; signing up again
// restores it with Rejoin.
func Leave(p Progression) Progression {
	next := p.clone()
	next.IsArchived = true
	return next
}

// RequireActive fails with ErrArchived once the learner has left the course.
func RequireActive(p Progression) error {
	if p.IsArchived {
		return fmt.Errorf("%w: course %q", ErrArchived, p.CourseID)
	}
	return nil
}

// Rejoin clears the archived flag.
func Rejoin(p Progression) Progression {
	next := p.clone()
	next.IsArchived = false
	return next
}

// Status is the listing state of a progression.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// StatusOf classifies p. A completed course stays completed even if archived.
func StatusOf(p Progression) Status {
	switch {
	case p.IsCompleted:
		return StatusCompleted
	case p.IsArchived:
		return StatusArchived
	default:
		return StatusActive
	}
}

// Position describes where the learner is in the course.
type Position struct {
	Current  int  `json:"current"`
	Previous *int `json:"previous,omitempty"`
	Next     *int `json:"next,omitempty"`
	Last     int  `json:"last"`
}

// Navigation returns the learner's position around the last viewed
// subchapter.
func Navigation(p Progression, c *course.Course) (Position, error) {
	last, err := course.LastSubchapterIndex(c)
	if err != nil {
		return Position{}, err
	}
	pos := Position{Current: p.LastViewedSubchapter, Last: last}
	if prev, ok := course.PreviousIndex(c, p.LastViewedSubchapter); ok {
		pos.Previous = &prev
	}
	if next, ok := course.NextIndex(c, p.LastViewedSubchapter); ok {
		pos.Next = &next
	}
	return pos, nil
}
