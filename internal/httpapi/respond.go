package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/grading"
	"github.com/p-n-ai/pai-learn/internal/progression"
)

const genericErrorMessage = "something went wrong, please try again"

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func newValidator() (*validator.Validate, ut.Translator) {
	v := validator.New(validator.WithRequiredStructEnabled())

	english := en.New()
	uni := ut.New(english, english)
	tr, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, tr)

	// Report JSON field names rather than Go struct names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v, tr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

// decode reads a JSON body into dst and validates it. On failure the error
// response has already been written.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid JSON body: %v", err)})
		return false
	}
	return s.check(w, dst)
}

func (s *Server) check(w http.ResponseWriter, v any) bool {
	err := s.validate.Struct(v)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return false
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Translate(s.translator)
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request", Fields: fields})
	return false
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, progression.ErrInvalidProgression):
		return http.StatusBadRequest
	case errors.Is(err, course.ErrNotFound), errors.Is(err, progression.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, progression.ErrInvalidIndex),
		errors.Is(err, grading.ErrGrading),
		errors.Is(err, progression.ErrNotATest),
		errors.Is(err, progression.ErrTestRequiresPass):
		return http.StatusUnprocessableEntity
	case errors.Is(err, progression.ErrRequiresFullCompletion),
		errors.Is(err, progression.ErrVersionConflict),
		errors.Is(err, progression.ErrArchived),
		errors.Is(err, progression.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = genericErrorMessage
	case http.StatusServiceUnavailable:
		slog.Warn("request timed out", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "busy, please try again"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}
