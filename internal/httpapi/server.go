// Package httpapi exposes courses and learner progressions over HTTP/JSON.
// Tests are graded here on the server; answer keys are never sent out.
package httpapi

import (
	"context"
	"net/http"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/learning"
	"github.com/p-n-ai/pai-learn/internal/progression"
)

const (
	maxBodyBytes = 1 << 20
	checkTimeout = 2 * time.Second
)

// Catalog serves published courses.
type Catalog interface {
	Get(id string) (*course.Course, error)
	Cards(q course.CardQuery) []course.Card
}

// HealthChecker reports whether a backing service is reachable.
type HealthChecker func(ctx context.Context) error

// Config holds dependencies for the HTTP API.
type Config struct {
	Courses  Catalog
	Learning *learning.Service
	// Feed enables the live event stream when set.
	Feed *progression.Broadcaster
	// Checks are run by /readyz, keyed by backend name.
	Checks map[string]HealthChecker
}

// Server routes HTTP requests to the learning service.
type Server struct {
	courses    Catalog
	learning   *learning.Service
	feed       *progression.Broadcaster
	checks     map[string]HealthChecker
	validate   *validator.Validate
	translator ut.Translator
}

// New creates the HTTP API.
func New(cfg Config) *Server {
	v, tr := newValidator()
	return &Server{
		courses:    cfg.Courses,
		learning:   cfg.Learning,
		feed:       cfg.Feed,
		checks:     cfg.Checks,
		validate:   v,
		translator: tr,
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	mux.HandleFunc("GET /v1/courses", s.handleListCourses)
	mux.HandleFunc("GET /v1/courses/{courseId}", s.handleGetCourse) // ?userId= adds isStudying
	mux.HandleFunc("GET /v1/courses/{courseId}/report.xlsx", s.handleCourseReport)

	mux.HandleFunc("POST /v1/learn/sign-up", s.handleSignUp)
	mux.HandleFunc("GET /v1/learn/progression", s.handleGetProgression)
	mux.HandleFunc("GET /v1/learn/progressions", s.handleListProgressions)
	mux.HandleFunc("PUT /v1/learn/last-viewed", s.handleLastViewed)
	mux.HandleFunc("PUT /v1/learn/completed", s.handleCompleted)
	mux.HandleFunc("POST /v1/learn/submit-test", s.handleSubmitTest)
	mux.HandleFunc("POST /v1/learn/finish", s.handleFinish)
	mux.HandleFunc("POST /v1/learn/leave", s.handleLeave)

	if s.feed != nil {
		mux.HandleFunc("GET /v1/learn/feed", s.handleFeed)
	}
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	failed := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"checks": failed,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
