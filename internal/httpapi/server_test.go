package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/httpapi"
	"github.com/p-n-ai/pai-learn/internal/learning"
	"github.com/p-n-ai/pai-learn/internal/progression"
)

func quizCourse() *course.Course {
	return &course.Course{
		ID:    "go-basics",
		Title: "Go Basics",
		Tags:  []course.Tag{{GroupName: course.TagDifficulty, Value: "Beginner"}},
		Chapters: []course.Chapter{
			{Index: 0, Title: "Intro", SubChapters: []course.SubChapter{
				{Index: 0, Title: "Welcome", Content: course.NewInfo("<p>hi</p>")},
			}},
			{Index: 1, Title: "Check", SubChapters: []course.SubChapter{
				{Index: 1, Title: "Quiz", Content: course.NewTest(
					course.Question{Question: "Pick two", Type: course.SelectMany, Options: []string{"a", "b", "c"}, Answers: []int{0, 2}},
					course.Question{Question: "Match", Type: course.Compare, Options: []string{"x", "y", "2", "1"}, Answers: []int{1, 0}},
				)},
			}},
		},
	}
}

func rustCourse() *course.Course {
	return &course.Course{
		ID:    "rust-intro",
		Title: "Rust Intro",
		Tags:  []course.Tag{{GroupName: course.TagDifficulty, Value: "advanced"}},
		Chapters: []course.Chapter{{Index: 0, SubChapters: []course.SubChapter{
			{Index: 0, Title: "Ownership", Content: course.NewVideo("own.mp4")},
		}}},
	}
}

type testEnv struct {
	handler http.Handler
	feed    *progression.Broadcaster
}

func newTestEnv(t *testing.T, checks map[string]httpapi.HealthChecker) testEnv {
	t.Helper()
	catalog := course.NewStaticLoader(quizCourse(), rustCourse())
	feed := progression.NewBroadcaster()
	svc, err := learning.NewService(learning.ServiceConfig{
		Courses: catalog,
		Events:  feed,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	srv := httpapi.New(httpapi.Config{
		Courses:  catalog,
		Learning: svc,
		Feed:     feed,
		Checks:   checks,
	})
	return testEnv{handler: srv.Handler(), feed: feed}
}

func (e testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return v
}

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields"`
}

type summaryBody struct {
	Progression progression.Progression `json:"progression"`
	Percentage  int                     `json:"percentage"`
	Status      string                  `json:"status"`
	Navigation  progression.Position    `json:"navigation"`
}

func TestHealthEndpoints(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		checks     map[string]httpapi.HealthChecker
		wantStatus int
		wantBody   string
	}{
		{
			name:       "healthz returns 200",
			path:       "/healthz",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ok"}`,
		},
		{
			name:       "readyz returns 200",
			path:       "/readyz",
			checks:     map[string]httpapi.HealthChecker{"database": func(context.Context) error { return nil }},
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ready"}`,
		},
		{
			name:       "readyz reports failing backend",
			path:       "/readyz",
			checks:     map[string]httpapi.HealthChecker{"cache": func(context.Context) error { return errors.New("down") }},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"checks":{"cache":"down"},"status":"unavailable"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.checks)
			rec := env.do(t, http.MethodGet, tt.path, nil)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := strings.TrimSpace(rec.Body.String()); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
		})
	}
}

func TestListCourses(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantIDs    []string
	}{
		{"all", "/v1/courses", http.StatusOK, []string{"go-basics", "rust-intro"}},
		{"filtered", "/v1/courses?tag=difficulty:beginner", http.StatusOK, []string{"go-basics"}},
		{"group case-insensitive", "/v1/courses?tag=DIFFICULTY:advanced", http.StatusOK, []string{"rust-intro"}},
		{"no match", "/v1/courses?tag=language:fr", http.StatusOK, []string{}},
		{"by id", "/v1/courses?id=rust-intro", http.StatusOK, []string{"rust-intro"}},
		{"by several ids", "/v1/courses?id=rust-intro&id=go-basics&id=gone", http.StatusOK, []string{"go-basics", "rust-intro"}},
		{"id and tag", "/v1/courses?id=rust-intro&tag=difficulty:beginner", http.StatusOK, []string{}},
		{"bad filter", "/v1/courses?tag=difficulty", http.StatusBadRequest, nil},
		{"unknown group", "/v1/courses?tag=colour:red", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantIDs == nil {
				return
			}
			body := decodeBody[struct {
				Items []course.Card `json:"items"`
			}](t, rec)
			if body.Items == nil {
				t.Fatal("items should be an array, got null")
			}
			var ids []string
			for _, c := range body.Items {
				ids = append(ids, c.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.wantIDs, ",") {
				t.Errorf("ids = %v, want %v", ids, tt.wantIDs)
			}
		})
	}
}

func TestGetCourse_HidesAnswerKeys(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/v1/courses/go-basics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if strings.Contains(rec.Body.String(), `"answers"`) {
		t.Errorf("learner course leaks answer keys: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Pick two") {
		t.Errorf("questions missing from course: %s", rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/v1/courses/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing course status = %d, want 404", rec.Code)
	}
}

func TestGetCourse_IsStudying(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/v1/learn/sign-up", map[string]any{"userId": "u1", "courseId": "go-basics"})
	env.do(t, http.MethodPost, "/v1/learn/sign-up", map[string]any{"userId": "u2", "courseId": "go-basics"})
	env.do(t, http.MethodPost, "/v1/learn/leave", map[string]any{"userId": "u2", "courseId": "go-basics"})

	tests := []struct {
		name string
		path string
		want *bool
	}{
		{"anonymous", "/v1/courses/go-basics", nil},
		{"enrolled", "/v1/courses/go-basics?userId=u1", ptr(true)},
		{"left", "/v1/courses/go-basics?userId=u2", ptr(false)},
		{"never enrolled", "/v1/courses/go-basics?userId=u3", ptr(false)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
			}
			body := decodeBody[struct {
				ID         string `json:"id"`
				Title      string `json:"title"`
				IsStudying *bool  `json:"isStudying"`
			}](t, rec)
			if body.ID != "go-basics" || body.Title != "Go Basics" {
				t.Errorf("course = %+v", body)
			}
			switch {
			case tt.want == nil && body.IsStudying != nil:
				t.Errorf("isStudying = %v, want absent", *body.IsStudying)
			case tt.want != nil && (body.IsStudying == nil || *body.IsStudying != *tt.want):
				t.Errorf("isStudying = %v, want %v", body.IsStudying, *tt.want)
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestLearningFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	user := map[string]any{"userId": "u1", "courseId": "go-basics"}

	rec := env.do(t, http.MethodPost, "/v1/learn/sign-up", map[string]any{"userId": "u1", "courseId": "go-basics", "assignedBy": "boss"})
	if rec.Code != http.StatusOK {
		t.Fatalf("sign-up status = %d: %s", rec.Code, rec.Body.String())
	}
	sum := decodeBody[summaryBody](t, rec)
	if sum.Progression.AssignedBy != "boss" || sum.Status != "active" {
		t.Errorf("sign-up = %+v", sum)
	}

	rec = env.do(t, http.MethodPut, "/v1/learn/last-viewed", map[string]any{"userId": "u1", "courseId": "go-basics", "subchapterIndex": 0, "fullyViewed": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("last-viewed status = %d: %s", rec.Code, rec.Body.String())
	}
	if sum = decodeBody[summaryBody](t, rec); sum.Percentage != 50 {
		t.Errorf("percentage after viewing info = %d, want 50", sum.Percentage)
	}

	rec = env.do(t, http.MethodPut, "/v1/learn/completed", map[string]any{"userId": "u1", "courseId": "go-basics", "subchapterIndex": 1})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("completing a test status = %d, want 422", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/v1/learn/finish", user)
	if rec.Code != http.StatusConflict {
		t.Errorf("early finish status = %d, want 409", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/v1/learn/submit-test", map[string]any{
		"userId": "u1", "courseId": "go-basics", "subchapterIndex": 1,
		"answers": [][]int{{0, 2}, {0, 1}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("submit-test status = %d: %s", rec.Code, rec.Body.String())
	}
	failed := decodeBody[struct {
		AnsweredCorrectly []int       `json:"answeredCorrectly"`
		Passed            bool        `json:"passed"`
		Progression       summaryBody `json:"progression"`
	}](t, rec)
	if failed.Passed || len(failed.AnsweredCorrectly) != 1 || failed.AnsweredCorrectly[0] != 0 {
		t.Errorf("failed attempt = %+v", failed)
	}
	if failed.Progression.Percentage != 50 {
		t.Errorf("percentage after fail = %d, want 50", failed.Progression.Percentage)
	}

	rec = env.do(t, http.MethodPost, "/v1/learn/submit-test", map[string]any{
		"userId": "u1", "courseId": "go-basics", "subchapterIndex": 1,
		"answers": [][]int{{0}},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("wrong answer count status = %d, want 422", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/v1/learn/submit-test", map[string]any{
		"userId": "u1", "courseId": "go-basics", "subchapterIndex": 1,
		"answers": [][]int{{2, 0}, {1, 0}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("submit-test status = %d: %s", rec.Code, rec.Body.String())
	}
	passed := decodeBody[struct {
		Passed      bool        `json:"passed"`
		Progression summaryBody `json:"progression"`
	}](t, rec)
	if !passed.Passed || passed.Progression.Percentage != 100 {
		t.Errorf("passing attempt = %+v", passed)
	}

	rec = env.do(t, http.MethodPost, "/v1/learn/finish", user)
	if rec.Code != http.StatusOK {
		t.Fatalf("finish status = %d: %s", rec.Code, rec.Body.String())
	}
	if sum = decodeBody[summaryBody](t, rec); sum.Status != "completed" || !sum.Progression.IsCompleted {
		t.Errorf("finish = %+v", sum)
	}

	rec = env.do(t, http.MethodGet, "/v1/learn/progression?userId=u1&courseId=go-basics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("progression status = %d", rec.Code)
	}
	if sum = decodeBody[summaryBody](t, rec); sum.Navigation.Current != 1 || sum.Navigation.Previous == nil || *sum.Navigation.Previous != 0 {
		t.Errorf("navigation = %+v", sum.Navigation)
	}

	rec = env.do(t, http.MethodPost, "/v1/learn/leave", user)
	if rec.Code != http.StatusOK {
		t.Fatalf("leave status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/v1/learn/progressions?userId=u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("progressions status = %d", rec.Code)
	}
	list := decodeBody[struct {
		Items []summaryBody `json:"items"`
	}](t, rec)
	if len(list.Items) != 1 || list.Items[0].Status != "completed" || !list.Items[0].Progression.IsArchived {
		t.Errorf("progressions = %+v", list.Items)
	}
}

func TestRequestErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/v1/learn/sign-up", map[string]any{"userId": "u1", "courseId": "go-basics"})
	env.do(t, http.MethodPost, "/v1/learn/sign-up", map[string]any{"userId": "gone", "courseId": "go-basics"})
	env.do(t, http.MethodPost, "/v1/learn/leave", map[string]any{"userId": "gone", "courseId": "go-basics"})

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantField  string
	}{
		{"malformed json", http.MethodPost, "/v1/learn/sign-up", `{"userId":`, http.StatusBadRequest, ""},
		{"missing user", http.MethodPost, "/v1/learn/sign-up", map[string]any{"courseId": "go-basics"}, http.StatusBadRequest, "userId"},
		{"missing index", http.MethodPut, "/v1/learn/completed", map[string]any{"userId": "u1", "courseId": "go-basics"}, http.StatusBadRequest, "subchapterIndex"},
		{"negative index", http.MethodPut, "/v1/learn/last-viewed", map[string]any{"userId": "u1", "courseId": "go-basics", "subchapterIndex": -1}, http.StatusBadRequest, "subchapterIndex"},
		{"missing answers", http.MethodPost, "/v1/learn/submit-test", map[string]any{"userId": "u1", "courseId": "go-basics", "subchapterIndex": 1}, http.StatusBadRequest, "answers"},
		{"unknown index", http.MethodPut, "/v1/learn/last-viewed", map[string]any{"userId": "u1", "courseId": "go-basics", "subchapterIndex": 42}, http.StatusUnprocessableEntity, ""},
		{"submit to info", http.MethodPost, "/v1/learn/submit-test", map[string]any{"userId": "u1", "courseId": "go-basics", "subchapterIndex": 0, "answers": [][]int{{0}}}, http.StatusUnprocessableEntity, ""},
		{"not signed up", http.MethodPost, "/v1/learn/finish", map[string]any{"userId": "u2", "courseId": "go-basics"}, http.StatusNotFound, ""},
		{"left course", http.MethodPut, "/v1/learn/completed", map[string]any{"userId": "gone", "courseId": "go-basics", "subchapterIndex": 0}, http.StatusConflict, ""},
		{"unknown course", http.MethodPost, "/v1/learn/sign-up", map[string]any{"userId": "u1", "courseId": "nope"}, http.StatusNotFound, ""},
		{"progression missing query", http.MethodGet, "/v1/learn/progression?userId=u1", nil, http.StatusBadRequest, "courseId"},
		{"progressions missing user", http.MethodGet, "/v1/learn/progressions", nil, http.StatusBadRequest, "userId"},
		{"wrong method", http.MethodGet, "/v1/learn/sign-up", nil, http.StatusMethodNotAllowed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantField == "" {
				return
			}
			body := decodeBody[errorBody](t, rec)
			if _, ok := body.Fields[tt.wantField]; !ok {
				t.Errorf("fields = %v, want entry for %s", body.Fields, tt.wantField)
			}
		})
	}
}

func TestCourseReport(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/v1/learn/sign-up", map[string]any{"userId": "u1", "courseId": "go-basics"})
	env.do(t, http.MethodPost, "/v1/learn/sign-up", map[string]any{"userId": "u2", "courseId": "go-basics"})

	rec := env.do(t, http.MethodGet, "/v1/courses/go-basics/report.xlsx", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("Content-Type = %q", ct)
	}

	f, err := excelize.OpenReader(rec.Body)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows("Progressions")
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("len(rows) = %d, want header plus 2", len(rows))
	}

	if rec := env.do(t, http.MethodGet, "/v1/courses/nope/report.xlsx", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing course report status = %d, want 404", rec.Code)
	}
}

func TestFeed(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/learn/feed?userId=u1", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.CloseNow()

	body := strings.NewReader(`{"userId":"u1","courseId":"go-basics"}`)
	resp, err := http.Post(ts.URL+"/v1/learn/sign-up", "application/json", body)
	if err != nil {
		t.Fatalf("sign-up error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sign-up status = %d", resp.StatusCode)
	}

	var ev progression.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if ev.EventType != progression.EventSignedUp || ev.CourseID != "go-basics" {
		t.Errorf("event = %+v", ev)
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

func TestFeed_RequiresUser(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/v1/learn/feed", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
