// Package learning coordinates course progressions: it is the only writer of
// progression records and serialises updates per (user, course).
package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/grading"
	"github.com/p-n-ai/pai-learn/internal/progression"
)

const defaultLockTimeout = 5 * time.Second

// CourseSource resolves published courses by id.
type CourseSource interface {
	Get(id string) (*course.Course, error)
}

// ServiceConfig holds dependencies for the learning service.
type ServiceConfig struct {
	Courses     CourseSource
	Store       progression.Store
	Locker      Locker
	Events      progression.EventLogger
	LockTimeout time.Duration // default 5s
}

// Service applies progression transitions and persists them.
type Service struct {
	courses     CourseSource
	store       progression.Store
	locker      Locker
	events      progression.EventLogger
	lockTimeout time.Duration
}

// NewService creates a learning service. Courses is required; the rest
// default to in-memory implementations.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Courses == nil {
		return nil, fmt.Errorf("course source is required")
	}
	store := cfg.Store
	if store == nil {
		store = progression.NewMemoryStore()
	}
	locker := cfg.Locker
	if locker == nil {
		locker = NewMemoryLocker()
	}
	events := cfg.Events
	if events == nil {
		events = progression.NopEventLogger{}
	}
	timeout := cfg.LockTimeout
	if timeout == 0 {
		timeout = defaultLockTimeout
	}
	return &Service{
		courses:     cfg.Courses,
		store:       store,
		locker:      locker,
		events:      events,
		lockTimeout: timeout,
	}, nil
}

// Summary is a progression together with the values derived from its course.
type Summary struct {
	Progression progression.Progression `json:"progression"`
	Percentage  int                     `json:"percentage"`
	Status      progression.Status      `json:"status"`
	Navigation  progression.Position    `json:"navigation"`
}

func summarize(p progression.Progression, c *course.Course) (Summary, error) {
	nav, err := progression.Navigation(p, c)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Progression: p,
		Percentage:  progression.CompletionPercentage(p, c),
		Status:      progression.StatusOf(p),
		Navigation:  nav,
	}, nil
}

// SignUp enrolls userID in courseID. Signing up again returns the existing
// progression, un-archiving it if the learner had left.
func (s *Service) SignUp(ctx context.Context, userID, courseID, assignedBy string) (Summary, error) {
	c, err := s.courses.Get(courseID)
	if err != nil {
		return Summary{}, err
	}

	unlock, err := s.lock(ctx, userID, courseID)
	if err != nil {
		return Summary{}, err
	}
	defer unlock()

	existing, err := s.store.Get(ctx, userID, courseID)
	switch {
	case err == nil:
		if !existing.IsArchived {
			return summarize(existing, c)
		}
		p, err := s.store.Update(ctx, progression.Rejoin(existing))
		if err != nil {
			return Summary{}, fmt.Errorf("rejoining course: %w", err)
		}
		s.logEvent(ctx, p, progression.EventSignedUp, map[string]any{"rejoined": true})
		return summarize(p, c)
	case !errors.Is(err, progression.ErrNotFound):
		return Summary{}, err
	}

	p, err := progression.New(userID, c, assignedBy)
	if err != nil {
		return Summary{}, err
	}
	p, err = s.store.Create(ctx, p)
	if err != nil {
		return Summary{}, fmt.Errorf("creating progression: %w", err)
	}

	slog.Info("learner signed up",
		"user_id", userID,
		"course_id", courseID,
		"assigned", assignedBy != "",
	)
	data := map[string]any{}
	if assignedBy != "" {
		data["assigned_by"] = assignedBy
	}
	s.logEvent(ctx, p, progression.EventSignedUp, data)
	return summarize(p, c)
}

// Progression returns the learner's progression in courseID.
func (s *Service) Progression(ctx context.Context, userID, courseID string) (Summary, error) {
	c, err := s.courses.Get(courseID)
	if err != nil {
		return Summary{}, err
	}
	p, err := s.store.Get(ctx, userID, courseID)
	if err != nil {
		return Summary{}, err
	}
	return summarize(p, c)
}

// IsStudying reports whether userID is enrolled in courseID and has not
// left it.
func (s *Service) IsStudying(ctx context.Context, userID, courseID string) (bool, error) {
	p, err := s.store.Get(ctx, userID, courseID)
	if errors.Is(err, progression.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !p.IsArchived, nil
}

// Progressions lists every progression of userID. Progressions whose course
// is no longer published are skipped.
func (s *Service) Progressions(ctx context.Context, userID string) ([]Summary, error) {
	ps, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(ps))
	for _, p := range ps {
		c, err := s.courses.Get(p.CourseID)
		if err != nil {
			slog.Warn("skipping progression for unknown course", "user_id", userID, "course_id", p.CourseID)
			continue
		}
		sum, err := summarize(p, c)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}

// CourseProgressions returns the course and all its learners' progressions.
func (s *Service) CourseProgressions(ctx context.Context, courseID string) (*course.Course, []progression.Progression, error) {
	c, err := s.courses.Get(courseID)
	if err != nil {
		return nil, nil, err
	}
	ps, err := s.store.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, nil, err
	}
	return c, ps, nil
}

// View records index as last viewed. With fullyViewed set, info and video
// subchapters are also completed; tests are never completed by viewing.
func (s *Service) View(ctx context.Context, userID, courseID string, index int, fullyViewed bool) (Summary, error) {
	completed := false
	sum, err := s.mutate(ctx, userID, courseID, active(func(p progression.Progression, c *course.Course) (progression.Progression, error) {
		next, err := progression.MarkViewed(p, c, index)
		if err != nil || !fullyViewed {
			return next, err
		}
		sc, _ := course.FindSubChapter(c, index)
		if sc.Content.Type == course.ContentTest {
			return next, nil
		}
		completed = !next.IsSubchapterCompleted(index)
		return progression.CompleteViewed(next, c, index)
	}))
	if err != nil {
		return Summary{}, err
	}
	s.logEvent(ctx, sum.Progression, progression.EventSubchapterViewed, map[string]any{"subchapter": index})
	if completed {
		s.logEvent(ctx, sum.Progression, progression.EventSubchapterCompleted, map[string]any{"subchapter": index})
	}
	return sum, nil
}

// Complete marks a non-test subchapter completed.
func (s *Service) Complete(ctx context.Context, userID, courseID string, index int) (Summary, error) {
	sum, err := s.mutate(ctx, userID, courseID, active(func(p progression.Progression, c *course.Course) (progression.Progression, error) {
		return progression.CompleteViewed(p, c, index)
	}))
	if err != nil {
		return Summary{}, err
	}
	s.logEvent(ctx, sum.Progression, progression.EventSubchapterCompleted, map[string]any{"subchapter": index})
	return sum, nil
}

// SubmitTest grades answers for the test at index and records a pass.
func (s *Service) SubmitTest(ctx context.Context, userID, courseID string, index int, answers [][]int) (grading.Result, Summary, error) {
	var res grading.Result
	sum, err := s.mutate(ctx, userID, courseID, active(func(p progression.Progression, c *course.Course) (progression.Progression, error) {
		next, r, err := progression.SubmitTest(p, c, index, answers)
		res = r
		return next, err
	}))
	if err != nil {
		return grading.Result{}, Summary{}, err
	}

	slog.Info("test submitted",
		"user_id", userID,
		"course_id", courseID,
		"subchapter", index,
		"passed", res.Passed,
		"correct", len(res.AnsweredCorrectly),
	)
	s.logEvent(ctx, sum.Progression, progression.EventTestSubmitted, map[string]any{
		"subchapter": index,
		"passed":     res.Passed,
		"correct":    res.AnsweredCorrectly,
	})
	return res, sum, nil
}

// Finish marks the course completed once every subchapter is done.
func (s *Service) Finish(ctx context.Context, userID, courseID string) (Summary, error) {
	wasCompleted := false
	sum, err := s.mutate(ctx, userID, courseID, active(func(p progression.Progression, c *course.Course) (progression.Progression, error) {
		wasCompleted = p.IsCompleted
		return progression.FinishCourse(p, c)
	}))
	if err != nil {
		return Summary{}, err
	}
	if !wasCompleted {
		slog.Info("course finished", "user_id", userID, "course_id", courseID)
		s.logEvent(ctx, sum.Progression, progression.EventCourseFinished, nil)
	}
	return sum, nil
}

// Leave archives the learner's progression.
func (s *Service) Leave(ctx context.Context, userID, courseID string) (Summary, error) {
	sum, err := s.mutate(ctx, userID, courseID, func(p progression.Progression, _ *course.Course) (progression.Progression, error) {
		return progression.Leave(p), nil
	})
	if err != nil {
		return Summary{}, err
	}
	s.logEvent(ctx, sum.Progression, progression.EventCourseLeft, nil)
	return sum, nil
}

type transition func(progression.Progression, *course.Course) (progression.Progression, error)

// active refuses fn on a progression the learner has left.
func active(fn transition) transition {
	return func(p progression.Progression, c *course.Course) (progression.Progression, error) {
		if err := progression.RequireActive(p); err != nil {
			return p, err
		}
		return fn(p, c)
	}
}

// mutate loads, transforms and persists one progression under its lock.
// Unchanged progressions are not written.
func (s *Service) mutate(ctx context.Context, userID, courseID string, fn transition) (Summary, error) {
	c, err := s.courses.Get(courseID)
	if err != nil {
		return Summary{}, err
	}

	unlock, err := s.lock(ctx, userID, courseID)
	if err != nil {
		return Summary{}, err
	}
	defer unlock()

	cur, err := s.store.Get(ctx, userID, courseID)
	if err != nil {
		return Summary{}, err
	}
	next, err := fn(cur, c)
	if err != nil {
		return Summary{}, err
	}
	if sameState(cur, next) {
		return summarize(cur, c)
	}
	saved, err := s.store.Update(ctx, next)
	if err != nil {
		return Summary{}, fmt.Errorf("saving progression: %w", err)
	}
	return summarize(saved, c)
}

func (s *Service) lock(ctx context.Context, userID, courseID string) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	unlock, err := s.locker.Lock(lctx, lockKey(userID, courseID))
	if err != nil {
		return nil, fmt.Errorf("locking progression: %w", err)
	}
	return unlock, nil
}

func (s *Service) logEvent(ctx context.Context, p progression.Progression, eventType string, data map[string]any) {
	if err := s.events.LogEvent(ctx, progression.Event{
		UserID:    p.UserID,
		CourseID:  p.CourseID,
		EventType: eventType,
		Data:      data,
	}); err != nil {
		slog.Warn("failed to log progression event",
			"type", eventType,
			"user_id", p.UserID,
			"course_id", p.CourseID,
			"error", err,
		)
	}
}

func sameState(a, b progression.Progression) bool {
	return a.LastViewedSubchapter == b.LastViewedSubchapter &&
		a.IsCompleted == b.IsCompleted &&
		a.IsArchived == b.IsArchived &&
		a.AssignedBy == b.AssignedBy &&
		slices.Equal(a.CompletedSubchapters, b.CompletedSubchapters)
}
