package course

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrNotFound is returned when a course or subchapter does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCourse is returned when a course violates a structural invariant.
	ErrInvalidCourse = errors.New("invalid course")
)

// FindSubChapter returns the subchapter carrying the global index.
func FindSubChapter(c *Course, index int) (SubChapter, error) {
	for _, ch := range c.Chapters {
		for _, sc := range ch.SubChapters {
			if sc.Index == index {
				return sc, nil
			}
		}
	}
	return SubChapter{}, fmt.Errorf("subchapter %d in course %q: %w", index, c.ID, ErrNotFound)
}

// HasSubChapter reports whether index names a subchapter of c.
func HasSubChapter(c *Course, index int) bool {
	_, err := FindSubChapter(c, index)
	return err == nil
}

// LastSubchapterIndex returns the index of the final subchapter of the final
// chapter.
func LastSubchapterIndex(c *Course) (int, error) {
	if err := checkNonEmpty(c); err != nil {
		return 0, err
	}
	last := c.Chapters[len(c.Chapters)-1]
	return last.SubChapters[len(last.SubChapters)-1].Index, nil
}

// FirstSubchapterIndex returns the index of the first subchapter of the first
// chapter.
func FirstSubchapterIndex(c *Course) (int, error) {
	if err := checkNonEmpty(c); err != nil {
		return 0, err
	}
	return c.Chapters[0].SubChapters[0].Index, nil
}

func checkNonEmpty(c *Course) error {
	if len(c.Chapters) == 0 {
		return fmt.Errorf("%w: course %q has no chapters", ErrInvalidCourse, c.ID)
	}
	for _, ch := range c.Chapters {
		if len(ch.SubChapters) == 0 {
			return fmt.Errorf("%w: chapter %d of course %q has no subchapters", ErrInvalidCourse, ch.Index, c.ID)
		}
	}
	return nil
}

// SubchapterCount returns the number of subchapters in c.
func SubchapterCount(c *Course) int {
	n := 0
	for _, ch := range c.Chapters {
		n += len(ch.SubChapters)
	}
	return n
}

// Indices returns every subchapter index of c in ascending order.
func Indices(c *Course) []int {
	out := make([]int, 0, SubchapterCount(c))
	for _, ch := range c.Chapters {
		for _, sc := range ch.SubChapters {
			out = append(out, sc.Index)
		}
	}
	slices.Sort(out)
	return out
}

// NextIndex returns the smallest subchapter index greater than index.
// Indices need not be contiguous.
func NextIndex(c *Course, index int) (int, bool) {
	next, found := 0, false
	for _, ch := range c.Chapters {
		for _, sc := range ch.SubChapters {
			if sc.Index > index && (!found || sc.Index < next) {
				next, found = sc.Index, true
			}
		}
	}
	return next, found
}

// PreviousIndex returns the largest subchapter index smaller than index.
func PreviousIndex(c *Course, index int) (int, bool) {
	prev, found := 0, false
	for _, ch := range c.Chapters {
		for _, sc := range ch.SubChapters {
			if sc.Index < index && (!found || sc.Index > prev) {
				prev, found = sc.Index, true
			}
		}
	}
	return prev, found
}

// ForLearner returns a deep copy of c with every answer key removed. It is
// the only form of a course that may leave the server.
func ForLearner(c *Course) *Course {
	out := *c
	out.Tags = append([]Tag(nil), c.Tags...)
	out.Chapters = make([]Chapter, len(c.Chapters))
	for i, ch := range c.Chapters {
		ch.SubChapters = append([]SubChapter(nil), ch.SubChapters...)
		for j, sc := range ch.SubChapters {
			if sc.Content.Type == ContentTest && sc.Content.Test != nil {
				qs := make([]Question, len(sc.Content.Test.Questions))
				for k, q := range sc.Content.Test.Questions {
					q.Options = append([]string(nil), q.Options...)
					q.Answers = nil
					qs[k] = q
				}
				ch.SubChapters[j].Content = NewTest(qs...)
			}
		}
		out.Chapters[i] = ch
	}
	return &out
}
