package httpapi

import (
	"net/http"

	"github.com/p-n-ai/pai-learn/internal/grading"
	"github.com/p-n-ai/pai-learn/internal/learning"
)

type courseRequest struct {
	UserID   string `json:"userId" validate:"required"`
	CourseID string `json:"courseId" validate:"required"`
}

type signUpRequest struct {
	UserID     string `json:"userId" validate:"required"`
	CourseID   string `json:"courseId" validate:"required"`
	AssignedBy string `json:"assignedBy"`
}

type subchapterRequest struct {
	UserID          string `json:"userId" validate:"required"`
	CourseID        string `json:"courseId" validate:"required"`
	SubchapterIndex *int   `json:"subchapterIndex" validate:"required,min=0"`
}

type lastViewedRequest struct {
	UserID          string `json:"userId" validate:"required"`
	CourseID        string `json:"courseId" validate:"required"`
	SubchapterIndex *int   `json:"subchapterIndex" validate:"required,min=0"`
	FullyViewed     bool   `json:"fullyViewed"`
}

type submitTestRequest struct {
	UserID          string  `json:"userId" validate:"required"`
	CourseID        string  `json:"courseId" validate:"required"`
	SubchapterIndex *int    `json:"subchapterIndex" validate:"required,min=0"`
	Answers         [][]int `json:"answers" validate:"required"`
}

type submitTestResponse struct {
	grading.Result
	Progression learning.Summary `json:"progression"`
}

type summariesResponse struct {
	Items []learning.Summary `json:"items"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !s.decode(w, r, &req) {
		return
	}
	sum, err := s.learning.SignUp(r.Context(), req.UserID, req.CourseID, req.AssignedBy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleGetProgression(w http.ResponseWriter, r *http.Request) {
	req := courseRequest{
		UserID:   r.URL.Query().Get("userId"),
		CourseID: r.URL.Query().Get("courseId"),
	}
	if !s.check(w, req) {
		return
	}
	sum, err := s.learning.Progression(r.Context(), req.UserID, req.CourseID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleListProgressions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  "invalid request",
			Fields: map[string]string{"userId": "userId is a required field"},
		})
		return
	}
	items, err := s.learning.Progressions(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summariesResponse{Items: items})
}

func (s *Server) handleLastViewed(w http.ResponseWriter, r *http.Request) {
	var req lastViewedRequest
	if !s.decode(w, r, &req) {
		return
	}
	sum, err := s.learning.View(r.Context(), req.UserID, req.CourseID, *req.SubchapterIndex, req.FullyViewed)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleCompleted(w http.ResponseWriter, r *http.Request) {
	var req subchapterRequest
	if !s.decode(w, r, &req) {
		return
	}
	sum, err := s.learning.Complete(r.Context(), req.UserID, req.CourseID, *req.SubchapterIndex)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleSubmitTest(w http.ResponseWriter, r *http.Request) {
	var req submitTestRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, sum, err := s.learning.SubmitTest(r.Context(), req.UserID, req.CourseID, *req.SubchapterIndex, req.Answers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, submitTestResponse{Result: res, Progression: sum})
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	var req courseRequest
	if !s.decode(w, r, &req) {
		return
	}
	sum, err := s.learning.Finish(r.Context(), req.UserID, req.CourseID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req courseRequest
	if !s.decode(w, r, &req) {
		return
	}
	sum, err := s.learning.Leave(r.Context(), req.UserID, req.CourseID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
