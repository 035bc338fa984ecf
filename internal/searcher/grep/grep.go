// Package grep runs the real regular expression over candidate files and
// prints matching lines.
package grep

import (
	"bytes"
	"fmt"
	"io"
	"regexp"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/mmap"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
)

// Compile compiles pattern for line matching. ^ and $ match at line
// boundaries.
func Compile(pattern string, caseInsensitive bool) (*regexp.Regexp, error) {
	expr := "(?m)" + pattern
	if caseInsensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidPattern, apperrors.ExitUsage, "%q: %v", pattern, err)
	}
	return re, nil
}

// Options selects the output format.
type Options struct {
	LineNumbers bool // -n: prefix lines with their 1-based number
	FilesOnly   bool // -l: print each matching file once
	Count       bool // -c: print the number of matching lines per file
}

// Grep matches one regexp against files line by line. Not safe for
// concurrent use.
type Grep struct {
	re   *regexp.Regexp
	out  io.Writer
	opts Options

	// Matched is set once any line has matched.
	Matched bool
}

func New(re *regexp.Regexp, out io.Writer, opts Options) *Grep {
	return &Grep{re: re, out: out, opts: opts}
}

// File greps the file at path and returns the number of matching lines.
func (g *Grep) File(path string) (int, error) {
	f, err := mmap.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return g.Buffer(path, f.Data)
}

// Buffer greps data, reporting matches under name.
func (g *Grep) Buffer(name string, data []byte) (int, error) {
	count := 0
	lineno := 0
	for len(data) > 0 {
		lineno++
		line := data
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line, data = data[:i], data[i+1:]
		} else {
			data = nil
		}
		if !g.re.Match(line) {
			continue
		}
		count++
		g.Matched = true
		if g.opts.FilesOnly {
			_, err := fmt.Fprintln(g.out, name)
			return count, err
		}
		if g.opts.Count {
			continue
		}
		line = bytes.TrimSuffix(line, []byte("\r"))
		var err error
		if g.opts.LineNumbers {
			_, err = fmt.Fprintf(g.out, "%s:%d:%s\n", name, lineno, line)
		} else {
			_, err = fmt.Fprintf(g.out, "%s:%s\n", name, line)
		}
		if err != nil {
			return count, err
		}
	}
	if g.opts.Count && count > 0 {
		if _, err := fmt.Fprintf(g.out, "%s:%d\n", name, count); err != nil {
			return count, err
		}
	}
	return count, nil
}
