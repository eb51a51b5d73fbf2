package httpapi

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/report"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type cardsResponse struct {
	Items []course.Card `json:"items"`
}

// courseResponse is the learner view of a course. IsStudying is set only
// when the request names a user.
type courseResponse struct {
	*course.Course
	IsStudying *bool `json:"isStudying,omitempty"`
}

func (s *Server) handleListCourses(w http.ResponseWriter, r *http.Request) {
	query := course.CardQuery{IDs: r.URL.Query()["id"]}
	for _, raw := range r.URL.Query()["tag"] {
		f, err := course.ParseTagFilter(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		query.Tags = append(query.Tags, f)
	}

	cards := s.courses.Cards(query)
	if cards == nil {
		cards = []course.Card{}
	}
	writeJSON(w, http.StatusOK, cardsResponse{Items: cards})
}

func (s *Server) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	c, err := s.courses.Get(r.PathValue("courseId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := courseResponse{Course: course.ForLearner(c)}

	if userID := r.URL.Query().Get("userId"); userID != "" {
		studying, err := s.learning.IsStudying(r.Context(), userID, c.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.IsStudying = &studying
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCourseReport(w http.ResponseWriter, r *http.Request) {
	c, ps, err := s.learning.CourseProgressions(r.Context(), r.PathValue("courseId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteProgressions(&buf, c, ps); err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", c.ID+"-progressions.xlsx"))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
