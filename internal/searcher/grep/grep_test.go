package grep

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
)

const sample = "package main\r\nfunc main() {\n\tprintln(\"Main\")\n}\nfunc helper() {}"

func run(t *testing.T, pattern string, fold bool, opts Options) (string, int) {
	t.Helper()
	re, err := Compile(pattern, fold)
	require.NoError(t, err)
	var out bytes.Buffer
	g := New(re, &out, opts)
	n, err := g.Buffer("x.go", []byte(sample))
	require.NoError(t, err)
	assert.Equal(t, n > 0, g.Matched)
	return out.String(), n
}

func TestBufferFormats(t *testing.T) {
	out, n := run(t, "^func", false, Options{})
	assert.Equal(t, 2, n)
	assert.Equal(t, "x.go:func main() {\nx.go:func helper() {}\n", out)

	out, _ = run(t, "main", false, Options{LineNumbers: true})
	assert.Equal(t, "x.go:1:package main\nx.go:2:func main() {\n", out)

	out, n = run(t, "main", true, Options{Count: true})
	assert.Equal(t, 3, n)
	assert.Equal(t, "x.go:3\n", out)

	out, _ = run(t, "func", false, Options{FilesOnly: true})
	assert.Equal(t, "x.go\n", out)

	out, n = run(t, "nomatch", false, Options{Count: true})
	assert.Zero(t, n)
	assert.Empty(t, out)
}

func TestLineAnchors(t *testing.T) {
	// $ must match before the newline of each line, not only at the end.
	_, n := run(t, `\{$`, false, Options{})
	assert.Equal(t, 1, n)
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644))
	re, err := Compile("t", false)
	require.NoError(t, err)
	var out bytes.Buffer
	n, err := New(re, &out, Options{LineNumbers: true}).File(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, path+":2:two\n"+path+":3:three\n", out.String())

	_, err = New(re, &out, Options{}).File(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestCompileInvalid(t *testing.T) {
	_, err := Compile("a(", false)
	assert.ErrorIs(t, err, apperrors.ErrInvalidPattern)
}
