package course

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

var courseSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
})

// Loader loads and caches published courses from the filesystem.
type Loader struct {
	rootDir string
	courses map[string]*Course
	mu      sync.RWMutex
}

// NewLoader creates a course loader and loads every course document under
// rootDir. Invalid documents are logged and skipped.
func NewLoader(rootDir string) (*Loader, error) {
	l := &Loader{
		rootDir: rootDir,
		courses: make(map[string]*Course),
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading courses: %w", err)
	}

	slog.Info("courses loaded", "courses", len(l.courses), "dir", rootDir)
	return l, nil
}

// NewStaticLoader serves the given courses without touching the filesystem.
func NewStaticLoader(courses ...*Course) *Loader {
	l := &Loader{courses: make(map[string]*Course, len(courses))}
	for _, c := range courses {
		l.courses[c.ID] = c
	}
	return l
}

// Get returns a course by ID.
func (l *Loader) Get(id string) (*Course, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.courses[id]
	if !ok {
		return nil, fmt.Errorf("course %q: %w", id, ErrNotFound)
	}
	return c, nil
}

// All returns every loaded course ordered by ID.
func (l *Loader) All() []*Course {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Course, 0, len(l.courses))
	for _, c := range l.courses {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *Course) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// TagFilter selects courses carrying a tag.
type TagFilter struct {
	Group TagGroup
	Value string
}

// ParseTagFilter parses "group:value".
func ParseTagFilter(s string) (TagFilter, error) {
	group, value, ok := strings.Cut(s, ":")
	if !ok || value == "" {
		return TagFilter{}, fmt.Errorf("tag filter %q: want group:value", s)
	}
	g, err := ParseTagGroup(group)
	if err != nil {
		return TagFilter{}, err
	}
	return TagFilter{Group: g, Value: value}, nil
}

// CardQuery narrows a course listing. Empty fields match every course.
type CardQuery struct {
	// IDs restricts the listing to these courses; unknown ids are ignored.
	IDs  []string
	Tags []TagFilter
}

// Cards returns listing cards of the courses matching q, ordered by ID.
func (l *Loader) Cards(q CardQuery) []Card {
	var cards []Card
	for _, c := range l.All() {
		if len(q.IDs) > 0 && !slices.Contains(q.IDs, c.ID) {
			continue
		}
		if matchesAll(c, q.Tags) {
			cards = append(cards, c.Card())
		}
	}
	return cards
}

func matchesAll(c *Course, filters []TagFilter) bool {
	for _, f := range filters {
		if !slices.ContainsFunc(c.Tags, func(t Tag) bool { return t.Matches(f.Group, f.Value) }) {
			return false
		}
	}
	return true
}

func (l *Loader) loadAll() error {
	return filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if !isCourseFile(path) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		c, err := Decode(path, data)
		if err != nil {
			slog.Warn("skipping invalid course document", "path", path, "error", err)
			return nil
		}
		if err := Validate(c); err != nil {
			slog.Warn("skipping invalid course", "path", path, "error", err)
			return nil
		}

		l.mu.Lock()
		defer l.mu.Unlock()
		if _, dup := l.courses[c.ID]; dup {
			slog.Warn("skipping duplicate course id", "path", path, "id", c.ID)
			return nil
		}
		l.courses[c.ID] = c
		return nil
	})
}

func isCourseFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// Decode parses a YAML or JSON course document (by file extension), checks it
// against the course schema and normalises tag groups. It does not run
// Validate, so authoring tools can decode courses whose answer keys are not
// prepared yet.
func Decode(path string, data []byte) (*Course, error) {
	isJSON := strings.EqualFold(filepath.Ext(path), ".json")

	var doc any
	if isJSON {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}
	if err := checkSchema(doc); err != nil {
		return nil, err
	}

	var c Course
	if isJSON {
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode course: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode course: %w", err)
		}
	}
	if err := NormalizeTags(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func checkSchema(doc any) error {
	schema, err := courseSchema()
	if err != nil {
		return fmt.Errorf("compile course schema: %w", err)
	}
	res, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate course schema: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidCourse, strings.Join(msgs, "; "))
	}
	return nil
}

// Encode renders c as a YAML course document.
func Encode(c *Course) ([]byte, error) {
	return yaml.Marshal(c)
}
