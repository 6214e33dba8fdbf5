package input

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadLinesSkipsBlankAndComments(t *testing.T) {
	lines, err := ReadLines(strings.NewReader("a=1\n\n  # note\n  b=2  \n"))
	if err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	if got := strings.Join(lines, "|"); got != "a=1|b=2" {
		t.Fatalf("lines: got %q, want a=1|b=2", got)
	}
}

func TestExpandArgs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edits.txt")
	if err := os.WriteFile(path, []byte("c=3\nwait 10ms\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ExpandArgs([]string{"a=1", "-", "@" + path}, strings.NewReader("b=2\n"))
	if err != nil {
		t.Fatalf("ExpandArgs: %v", err)
	}
	if s := strings.Join(got, "|"); s != "a=1|b=2|c=3|wait 10ms" {
		t.Fatalf("expanded: got %q", s)
	}
}

func TestExpandArgsStdinOnce(t *testing.T) {
	_, err := ExpandArgs([]string{"-", "-"}, strings.NewReader("a=1\n"))
	if !errors.Is(err, ErrStdinReused) {
		t.Fatalf("err: got %v, want ErrStdinReused", err)
	}
}

func TestExpandArgsMissingFile(t *testing.T) {
	if _, err := ExpandArgs([]string{"@/does/not/exist"}, nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestExpandArgsLoneAt(t *testing.T) {
	got, err := ExpandArgs([]string{"@"}, nil)
	if err != nil || len(got) != 1 || got[0] != "@" {
		t.Fatalf("lone @: got %v, %v", got, err)
	}
}
