package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/p-n-ai/pai-learn/internal/course"
)

const unpreparedYAML = `
id: matching
title: Matching
chapters:
  - index: 0
    title: Pairs
    subChapters:
      - index: 0
        title: Match them
        content:
          type: test
          data:
            questions:
              - question: "Match capitals"
                type: compare
                options: ["France", "Japan", "Spain", "Paris", "Tokyo", "Madrid"]
`

const brokenYAML = `
id: broken
title: Broken
chapters: []
`

func setup(t *testing.T) (*commandLine, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	return &commandLine{stdout: &out, stderr: &errOut}, &out, &errOut
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func Test_commandLine_usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no command", []string{"coursectl"}},
		{"unknown command", []string{"coursectl", "publish"}},
		{"validate without files", []string{"coursectl", "validate"}},
		{"shuffle without input", []string{"coursectl", "shuffle"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli, _, _ := setup(t)
			if err := cli.run(tt.args); !errors.Is(err, errHelp) {
				t.Errorf("run() error = %v, want errHelp", err)
			}
		})
	}
}

func Test_commandLine_shuffleThenValidate(t *testing.T) {
	cli, out, _ := setup(t)
	in := writeFile(t, "matching.yaml", unpreparedYAML)
	prepared := filepath.Join(t.TempDir(), "prepared.yaml")

	// The unprepared document fails validation.
	if err := cli.run([]string{"coursectl", "validate", in}); !errors.Is(err, errInvalid) {
		t.Fatalf("validate(unprepared) error = %v, want errInvalid", err)
	}

	if err := cli.run([]string{"coursectl", "shuffle", "-in", in, "-out", prepared, "-seed", "7"}); err != nil {
		t.Fatalf("shuffle error = %v", err)
	}

	data, err := os.ReadFile(prepared)
	if err != nil {
		t.Fatal(err)
	}
	c, err := course.Decode(prepared, data)
	if err != nil {
		t.Fatalf("Decode(prepared) error = %v", err)
	}
	q := c.Chapters[0].SubChapters[0].Content.Test.Questions[0]
	if !course.IsPermutation(q.Answers, 3) {
		t.Fatalf("Answers = %v, want permutation of 3", q.Answers)
	}
	for i, j := range q.Answers {
		left := q.Options[i]
		right := q.Options[3+j]
		want := map[string]string{"France": "Paris", "Japan": "Tokyo", "Spain": "Madrid"}[left]
		if right != want {
			t.Errorf("%s matched with %s, want %s", left, right, want)
		}
	}

	out.Reset()
	if err := cli.run([]string{"coursectl", "validate", prepared}); err != nil {
		t.Fatalf("validate(prepared) error = %v\n%s", err, out.String())
	}
	if !strings.HasPrefix(out.String(), "ok") {
		t.Errorf("output = %q", out.String())
	}
}

func Test_commandLine_shuffleIsDeterministicPerSeed(t *testing.T) {
	in := writeFile(t, "matching.yaml", unpreparedYAML)

	render := func(seed string) string {
		cli, out, _ := setup(t)
		if err := cli.run([]string{"coursectl", "shuffle", "-in", in, "-seed", seed}); err != nil {
			t.Fatalf("shuffle error = %v", err)
		}
		return out.String()
	}

	if render("42") != render("42") {
		t.Error("same seed produced different documents")
	}
}

func Test_commandLine_validateReportsEachFile(t *testing.T) {
	cli, out, _ := setup(t)
	broken := writeFile(t, "broken.yaml", brokenYAML)
	missing := filepath.Join(t.TempDir(), "missing.yaml")

	err := cli.run([]string{"coursectl", "validate", broken, missing})
	if !errors.Is(err, errInvalid) {
		t.Fatalf("validate error = %v, want errInvalid", err)
	}
	if got := strings.Count(out.String(), "FAIL"); got != 2 {
		t.Errorf("FAIL lines = %d, want 2:\n%s", got, out.String())
	}
}
