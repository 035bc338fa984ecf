// Package ingestion discovers the files a build indexes: it validates the
// requested roots and walks them in a stable order, keeping regular files
// whose names look like source or text.
package ingestion

import (
	"path/filepath"
	"strings"
)

var defaultExtensions = []string{
	"txt", "md", "rst", "org",
	"c", "h", "cpp", "hpp", "cc", "hh", "cxx", "hxx", "inl",
	"py", "pyw", "pyi",
	"rs", "go",
	"js", "jsx", "ts", "tsx", "mjs",
	"java", "cs", "kt", "kts", "scala", "swift",
	"sh", "bash", "zsh", "fish",
	"html", "htm", "css", "scss", "sass", "less",
	"json", "yaml", "yml", "toml", "ini", "cfg", "conf",
	"xml", "svg", "sql", "cmake", "make", "dockerfile",
	"s", "asm", "pl", "pm", "rb", "php", "lua",
	"clj", "cljs", "hs", "ml", "mli", "erl", "hrl", "ex", "exs",
	"r", "m", "vim", "tex", "sty", "proto",
}

// Extension-less names that are worth indexing.
var knownNames = map[string]bool{
	"makefile":       true,
	"dockerfile":     true,
	"cmakelists.txt": true,
	"readme":         true,
	"license":        true,
	"authors":        true,
	"contributors":   true,
	"changelog":      true,
	"news":           true,
	"todo":           true,
	"install":        true,
	"copying":        true,
	"notice":         true,
}

// Filter decides which files are indexed.
type Filter struct {
	// AllFiles disables the name checks.
	AllFiles   bool
	extensions map[string]bool
}

// DefaultFilter accepts common source and text extensions.
func DefaultFilter() Filter {
	f := Filter{extensions: make(map[string]bool, len(defaultExtensions))}
	for _, ext := range defaultExtensions {
		f.extensions[ext] = true
	}
	return f
}

// WithExtensions returns a copy of f that also accepts the comma-separated
// extensions in list, with or without a leading dot.
func (f Filter) WithExtensions(list string) Filter {
	out := Filter{AllFiles: f.AllFiles, extensions: make(map[string]bool, len(f.extensions))}
	for ext := range f.extensions {
		out.extensions[ext] = true
	}
	for _, ext := range strings.Split(list, ",") {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			out.extensions[ext] = true
		}
	}
	return out
}

// Accept reports whether the file at path should be indexed.
func (f Filter) Accept(path string) bool {
	if f.AllFiles {
		return true
	}
	name := strings.ToLower(filepath.Base(path))
	if ext := filepath.Ext(name); ext != "" {
		return f.extensions[ext[1:]]
	}
	return knownNames[name]
}

// skipName reports names that are never indexed or descended into: hidden
// entries and editor backups.
func skipName(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "#") || strings.HasSuffix(name, "~")
}
