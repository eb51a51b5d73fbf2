package grading

import (
	"fmt"
	"math/rand/v2"

	"github.com/p-n-ai/pai-learn/internal/course"
)

// ShuffleCompareAnswerKey takes compare options authored in matching order
// (left[i] pairs with right[i]) and returns the options with the right half
// shuffled, plus the answer key where answers[i] is the new right-half
// position of left[i]'s partner.
//
// The shuffle is repeated until it is not the identity, so the arrangement a
// learner first sees is never already solved. Fewer than two pairs cannot
// satisfy that and fail with ErrGrading.
func ShuffleCompareAnswerKey(options []string, rng *rand.Rand) ([]string, []int, error) {
	if len(options)%2 != 0 {
		return nil, nil, fmt.Errorf("%w: compare options must come in pairs, got %d", ErrGrading, len(options))
	}
	n := len(options) / 2
	if n < 2 {
		return nil, nil, fmt.Errorf("%w: compare question needs at least two pairs to shuffle, got %d", ErrGrading, n)
	}

	perm := make([]int, n)
	for {
		for i := range perm {
			perm[i] = i
		}
		rng.Shuffle(n, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
		if !isIdentity(perm) {
			break
		}
	}

	// perm[j] is the original right index now shown at position j.
	out := make([]string, 0, len(options))
	out = append(out, options[:n]...)
	answers := make([]int, n)
	for j, orig := range perm {
		out = append(out, options[n+orig])
		answers[orig] = j
	}
	return out, answers, nil
}

func isIdentity(p []int) bool {
	for i, v := range p {
		if i != v {
			return false
		}
	}
	return true
}

// PrepareCourse assigns a shuffled answer key to every compare question of c
// that has none yet. It returns the number of questions prepared.
func PrepareCourse(c *course.Course, rng *rand.Rand) (int, error) {
	prepared := 0
	for ci := range c.Chapters {
		for si := range c.Chapters[ci].SubChapters {
			sc := &c.Chapters[ci].SubChapters[si]
			if sc.Content.Type != course.ContentTest || sc.Content.Test == nil {
				continue
			}
			for qi := range sc.Content.Test.Questions {
				q := &sc.Content.Test.Questions[qi]
				if q.Type != course.Compare || len(q.Answers) > 0 {
					continue
				}
				opts, answers, err := ShuffleCompareAnswerKey(q.Options, rng)
				if err != nil {
					return prepared, fmt.Errorf("subchapter %d question %d: %w", sc.Index, qi, err)
				}
				q.Options, q.Answers = opts, answers
				prepared++
			}
		}
	}
	return prepared, nil
}
