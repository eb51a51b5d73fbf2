// Package course models the immutable structure of a published course:
// ordered chapters, each holding ordered subchapters with one typed content
// payload.
package course

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

// TagGroup classifies a course tag.
type TagGroup string

const (
	TagDifficulty    TagGroup = "difficulty"
	TagLanguage      TagGroup = "language"
	TagSpecification TagGroup = "specification"
)

// ParseTagGroup maps a group name to its canonical TagGroup, ignoring case.
func ParseTagGroup(s string) (TagGroup, error) {
	switch cases.Fold().String(strings.TrimSpace(s)) {
	case string(TagDifficulty):
		return TagDifficulty, nil
	case string(TagLanguage):
		return TagLanguage, nil
	case string(TagSpecification):
		return TagSpecification, nil
	}
	return "", fmt.Errorf("%w: unknown tag group %q", ErrInvalidCourse, s)
}

// Tag is descriptive course metadata.
type Tag struct {
	GroupName TagGroup `json:"groupName" yaml:"groupName"`
	Value     string   `json:"value" yaml:"value"`
}

// Matches reports whether the tag equals group:value, ignoring case.
func (t Tag) Matches(group TagGroup, value string) bool {
	fold := cases.Fold()
	return t.GroupName == group && fold.String(t.Value) == fold.String(value)
}

// ContentType is the discriminant of Content.
type ContentType string

const (
	ContentInfo  ContentType = "info"
	ContentTest  ContentType = "test"
	ContentVideo ContentType = "video"
)

// QuestionType selects how a question is answered and graded.
type QuestionType string

const (
	SelectOne  QuestionType = "select-one"
	SelectMany QuestionType = "select-many"
	Compare    QuestionType = "compare"
)

// Question is one assessed item of a test.
//
// For Compare questions Options holds the static left half followed by the
// permutable right half, and Answers[i] is the right-half index matching
// left[i].
type Question struct {
	Question string       `json:"question" yaml:"question"`
	Type     QuestionType `json:"type" yaml:"type"`
	Options  []string     `json:"options" yaml:"options"`
	Answers  []int        `json:"answers,omitempty" yaml:"answers,omitempty"`
}

// Pairs returns the number of left/right pairs of a compare question.
func (q Question) Pairs() int {
	return len(q.Options) / 2
}

// Info is static rendered material.
type Info struct {
	HTML string `json:"html" yaml:"html"`
}

// Test is assessed material.
type Test struct {
	Questions []Question `json:"questions" yaml:"questions"`
}

// Video references an externally stored video.
type Video struct {
	Source string `json:"source" yaml:"source"`
}

// Content is a tagged union: exactly one of Info, Test, Video is set,
// matching Type.
type Content struct {
	Type  ContentType
	Info  *Info
	Test  *Test
	Video *Video
}

// NewInfo builds info content.
func NewInfo(html string) Content {
	return Content{Type: ContentInfo, Info: &Info{HTML: html}}
}

// NewTest builds test content.
func NewTest(qs ...Question) Content {
	return Content{Type: ContentTest, Test: &Test{Questions: qs}}
}

// NewVideo builds video content.
func NewVideo(source string) Content {
	return Content{Type: ContentVideo, Video: &Video{Source: source}}
}

type rawContent struct {
	Type ContentType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (c Content) data() (any, error) {
	switch c.Type {
	case ContentInfo:
		if c.Info == nil {
			return nil, fmt.Errorf("%w: info content without data", ErrInvalidCourse)
		}
		return c.Info, nil
	case ContentTest:
		if c.Test == nil {
			return nil, fmt.Errorf("%w: test content without data", ErrInvalidCourse)
		}
		return c.Test, nil
	case ContentVideo:
		if c.Video == nil {
			return nil, fmt.Errorf("%w: video content without data", ErrInvalidCourse)
		}
		return c.Video, nil
	default:
		return nil, fmt.Errorf("%w: unknown content type %q", ErrInvalidCourse, c.Type)
	}
}

// MarshalJSON encodes content as {"type": ..., "data": {...}}.
func (c Content) MarshalJSON() ([]byte, error) {
	data, err := c.data()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Type ContentType `json:"type"`
		Data any         `json:"data"`
	}{c.Type, data})
}

// UnmarshalJSON decodes {"type": ..., "data": {...}} and rejects unknown types.
func (c *Content) UnmarshalJSON(b []byte) error {
	var raw rawContent
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := Content{Type: raw.Type}
	var target any
	switch raw.Type {
	case ContentInfo:
		out.Info = &Info{}
		target = out.Info
	case ContentTest:
		out.Test = &Test{}
		target = out.Test
	case ContentVideo:
		out.Video = &Video{}
		target = out.Video
	default:
		return fmt.Errorf("%w: unknown content type %q", ErrInvalidCourse, raw.Type)
	}
	if len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, target); err != nil {
			return fmt.Errorf("decode %s content: %w", raw.Type, err)
		}
	}
	*c = out
	return nil
}

// MarshalYAML encodes content the same way as JSON.
func (c Content) MarshalYAML() (any, error) {
	data, err := c.data()
	if err != nil {
		return nil, err
	}
	return map[string]any{"type": string(c.Type), "data": data}, nil
}

// UnmarshalYAML decodes content from a YAML course document.
func (c *Content) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Type ContentType `yaml:"type"`
		Data yaml.Node   `yaml:"data"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	out := Content{Type: raw.Type}
	var target any
	switch raw.Type {
	case ContentInfo:
		out.Info = &Info{}
		target = out.Info
	case ContentTest:
		out.Test = &Test{}
		target = out.Test
	case ContentVideo:
		out.Video = &Video{}
		target = out.Video
	default:
		return fmt.Errorf("%w: unknown content type %q", ErrInvalidCourse, raw.Type)
	}
	if raw.Data.Kind != 0 {
		if err := raw.Data.Decode(target); err != nil {
			return fmt.Errorf("decode %s content: %w", raw.Type, err)
		}
	}
	*c = out
	return nil
}

// SubChapter is one learning unit. Index is unique across the whole course.
type SubChapter struct {
	Index   int     `json:"index" yaml:"index"`
	Title   string  `json:"title" yaml:"title"`
	Content Content `json:"content" yaml:"content"`
}

// Chapter groups subchapters.
type Chapter struct {
	Index       int          `json:"index" yaml:"index"`
	Title       string       `json:"title" yaml:"title"`
	SubChapters []SubChapter `json:"subChapters" yaml:"subChapters"`
}

// Course is an immutable published course.
type Course struct {
	ID          string    `json:"id" yaml:"id"`
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description" yaml:"description"`
	Info        string    `json:"info,omitempty" yaml:"info,omitempty"`
	Goal        string    `json:"goal,omitempty" yaml:"goal,omitempty"`
	Tags        []Tag     `json:"tags" yaml:"tags"`
	Chapters    []Chapter `json:"chapters" yaml:"chapters"`
}

// Card is the summary shown in course listings.
type Card struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	Tags             []Tag  `json:"tags"`
	TotalSubchapters int    `json:"totalSubchapters"`
}

// Card returns the listing summary of c.
func (c *Course) Card() Card {
	return Card{
		ID:               c.ID,
		Title:            c.Title,
		Description:      c.Description,
		Tags:             append([]Tag(nil), c.Tags...),
		TotalSubchapters: SubchapterCount(c),
	}
}
