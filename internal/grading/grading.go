// Package grading scores test submissions against authored answer keys.
// Grading is deterministic and stateless; it must only ever run on the
// server, where the answer keys live.
package grading

import (
	"errors"
	"fmt"
	"slices"

	"github.com/p-n-ai/pai-learn/internal/course"
)

// ErrGrading is returned for a malformed submission or an ungradable question.
var ErrGrading = errors.New("grading error")

// Result is the verdict for one test submission.
type Result struct {
	// AnsweredCorrectly lists the positions of correctly answered questions.
	AnsweredCorrectly []int `json:"answeredCorrectly"`
	Passed            bool  `json:"passed"`
}

// Grade reports whether submitted answers q correctly.
func Grade(q course.Question, submitted []int) (bool, error) {
	switch q.Type {
	case course.SelectOne:
		if len(submitted) != 1 {
			return false, fmt.Errorf("%w: select-one expects one answer, got %d", ErrGrading, len(submitted))
		}
		if err := checkRange(submitted, len(q.Options)); err != nil {
			return false, err
		}
		return len(q.Answers) == 1 && submitted[0] == q.Answers[0], nil

	case course.SelectMany:
		if err := checkRange(submitted, len(q.Options)); err != nil {
			return false, err
		}
		got := slices.Clone(submitted)
		slices.Sort(got)
		if len(slices.Compact(got)) != len(submitted) {
			return false, fmt.Errorf("%w: select-many answer repeats an option", ErrGrading)
		}
		want := slices.Clone(q.Answers)
		slices.Sort(want)
		return slices.Equal(got, want), nil

	case course.Compare:
		if !course.IsPermutation(submitted, q.Pairs()) {
			return false, fmt.Errorf("%w: compare expects a permutation of %d pairs, got %v", ErrGrading, q.Pairs(), submitted)
		}
		return slices.Equal(submitted, q.Answers), nil

	default:
		return false, fmt.Errorf("%w: unknown question type %q", ErrGrading, q.Type)
	}
}

func checkRange(submitted []int, n int) error {
	for _, a := range submitted {
		if a < 0 || a >= n {
			return fmt.Errorf("%w: option %d out of range [0,%d)", ErrGrading, a, n)
		}
	}
	return nil
}

// GradeTest grades every question independently. The test passes only if
// every question is answered correctly.
func GradeTest(t course.Test, answers [][]int) (Result, error) {
	if len(answers) != len(t.Questions) {
		return Result{}, fmt.Errorf("%w: %d answers for %d questions", ErrGrading, len(answers), len(t.Questions))
	}

	res := Result{AnsweredCorrectly: []int{}}
	for i, q := range t.Questions {
		ok, err := Grade(q, answers[i])
		if err != nil {
			return Result{}, fmt.Errorf("question %d: %w", i, err)
		}
		if ok {
			res.AnsweredCorrectly = append(res.AnsweredCorrectly, i)
		}
	}
	res.Passed = len(t.Questions) > 0 && len(res.AnsweredCorrectly) == len(t.Questions)
	return res, nil
}
