package course

import (
	"fmt"
	"math"
	"slices"
)

// MaxIndex is the largest subchapter index a course may use. Progression
// stores keep indices in 32-bit columns.
const MaxIndex = math.MaxInt32

// NormalizeTags rewrites every tag group of c to its canonical form.
func NormalizeTags(c *Course) error {
	for i, t := range c.Tags {
		g, err := ParseTagGroup(string(t.GroupName))
		if err != nil {
			return err
		}
		c.Tags[i].GroupName = g
	}
	return nil
}

// Validate checks every structural invariant of a published course.
func Validate(c *Course) error {
	if c.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidCourse)
	}
	if err := checkNonEmpty(c); err != nil {
		return err
	}
	for _, t := range c.Tags {
		if _, err := ParseTagGroup(string(t.GroupName)); err != nil {
			return err
		}
	}

	chapters := make(map[int]bool, len(c.Chapters))
	subchapters := make(map[int]bool)
	for _, ch := range c.Chapters {
		if chapters[ch.Index] {
			return fmt.Errorf("%w: duplicate chapter index %d", ErrInvalidCourse, ch.Index)
		}
		chapters[ch.Index] = true

		for _, sc := range ch.SubChapters {
			if sc.Index < 0 || sc.Index > MaxIndex {
				return fmt.Errorf("%w: subchapter index %d out of range", ErrInvalidCourse, sc.Index)
			}
			if subchapters[sc.Index] {
				return fmt.Errorf("%w: duplicate subchapter index %d", ErrInvalidCourse, sc.Index)
			}
			subchapters[sc.Index] = true

			if _, err := sc.Content.data(); err != nil {
				return fmt.Errorf("subchapter %d: %w", sc.Index, err)
			}
			if sc.Content.Type != ContentTest {
				continue
			}
			if len(sc.Content.Test.Questions) == 0 {
				return fmt.Errorf("%w: subchapter %d: test without questions", ErrInvalidCourse, sc.Index)
			}
			for qi, q := range sc.Content.Test.Questions {
				if err := ValidateQuestion(q); err != nil {
					return fmt.Errorf("subchapter %d question %d: %w", sc.Index, qi, err)
				}
			}
		}
	}
	return nil
}

// ValidateQuestion checks the authored answer key of q against its options.
func ValidateQuestion(q Question) error {
	inRange := func(i int) bool { return i >= 0 && i < len(q.Options) }

	switch q.Type {
	case SelectOne:
		if len(q.Answers) != 1 || !inRange(q.Answers[0]) {
			return fmt.Errorf("%w: select-one needs exactly one valid answer", ErrInvalidCourse)
		}
	case SelectMany:
		if len(q.Answers) == 0 {
			return fmt.Errorf("%w: select-many needs at least one answer", ErrInvalidCourse)
		}
		seen := make(map[int]bool, len(q.Answers))
		for _, a := range q.Answers {
			if !inRange(a) || seen[a] {
				return fmt.Errorf("%w: select-many answer %d is out of range or repeated", ErrInvalidCourse, a)
			}
			seen[a] = true
		}
	case Compare:
		if len(q.Options) == 0 || len(q.Options)%2 != 0 {
			return fmt.Errorf("%w: compare options must come in pairs", ErrInvalidCourse)
		}
		if !IsPermutation(q.Answers, q.Pairs()) {
			return fmt.Errorf("%w: compare answers must be a permutation of %d pairs", ErrInvalidCourse, q.Pairs())
		}
	default:
		return fmt.Errorf("%w: unknown question type %q", ErrInvalidCourse, q.Type)
	}
	return nil
}

// IsPermutation reports whether p is a permutation of [0, n).
func IsPermutation(p []int, n int) bool {
	if len(p) != n {
		return false
	}
	sorted := slices.Clone(p)
	slices.Sort(sorted)
	for i, v := range sorted {
		if v != i {
			return false
		}
	}
	return true
}
