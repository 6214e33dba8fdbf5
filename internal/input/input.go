// Package input expands command arguments that use - (stdin) or @file
// syntax into the lines they stand for.
package input

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrStdinReused is returned when "-" appears more than once.
var ErrStdinReused = errors.New("stdin already used")

// maxLine bounds one scripted line. Cell values can be long JSON documents.
const maxLine = 1 << 20

// ExpandArgs replaces "-" with the lines of stdin and "@path" with the lines
// of the file at path. Any other argument is one line as given.
func ExpandArgs(args []string, stdin io.Reader) ([]string, error) {
	out := make([]string, 0, len(args))
	sawStdin := false
	for _, arg := range args {
		var (
			lines []string
			err   error
		)
		switch path, isFile := strings.CutPrefix(arg, "@"); {
		case arg == "-":
			if sawStdin {
				return nil, ErrStdinReused
			}
			sawStdin = true
			if lines, err = ReadLines(stdin); err != nil {
				return nil, fmt.Errorf("read stdin: %w", err)
			}
		case isFile && path != "":
			if lines, err = readFile(path); err != nil {
				return nil, err
			}
		default:
			lines = []string{arg}
		}
		out = append(out, lines...)
	}
	return out, nil
}

func readFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	lines, err := ReadLines(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, nil
}

// ReadLines returns the trimmed lines of r, skipping blanks and lines whose
// first non-space character is '#'.
func ReadLines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	var lines []string
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" && line[0] != '#' {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}
