// Package ignore decides which working-tree paths may not be tracked, using
// gitignore-style patterns from .beargitignore.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"beargit/internal/layout"
)

// rule is one compiled pattern line.
type rule struct {
	glob     string
	negated  bool
	dirOnly  bool
	anchored bool
}

// Matcher holds rules in file order; the last matching rule wins.
type Matcher struct {
	rules []rule
}

// defaults are always applied before user patterns.
var defaults = []string{
	layout.Dir + "/",
	".git/",
	".hg/",
	".svn/",
}

// New returns a Matcher with only the default rules.
func New() *Matcher {
	m := &Matcher{}
	m.AddPatterns(defaults)
	return m
}

// Load returns a Matcher with the defaults plus the patterns in the ignore
// file of the working directory at root, if there is one.
func Load(root string) (*Matcher, error) {
	m := New()
	if err := m.LoadFile(layout.New(root).IgnorePath()); err != nil {
		return nil, err
	}
	return m, nil
}

// AddPattern compiles one pattern line. Blank lines and comments are skipped.
func (m *Matcher) AddPattern(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}

	var r rule
	if strings.HasPrefix(line, "!") {
		r.negated = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		r.anchored = true
		line = line[1:]
	}

	// Unanchored patterns without a slash match a basename at any depth
	if !r.anchored && !strings.Contains(line, "/") {
		line = "**/" + line
	}

	r.glob = line
	m.rules = append(m.rules, r)
}

// AddPatterns compiles several pattern lines.
func (m *Matcher) AddPatterns(lines []string) {
	for _, line := range lines {
		m.AddPattern(line)
	}
}

// LoadFile adds the patterns from a gitignore-style file. A missing file is
// not an error.
func (m *Matcher) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m.AddPattern(scanner.Text())
	}
	return scanner.Err()
}

// Match reports whether the slash-separated, root-relative path is ignored.
func (m *Matcher) Match(path string, isDir bool) bool {
	path = strings.TrimPrefix(filepath.ToSlash(path), "./")

	ignored := false
	for _, r := range m.rules {
		var hit bool
		if r.dirOnly && !isDir {
			hit = matchParentDir(r.glob, path)
		} else {
			hit = matchGlob(r.glob, path)
		}
		if hit {
			ignored = !r.negated
		}
	}
	return ignored
}

// matchParentDir reports whether any proper parent directory of path
// matches glob.
func matchParentDir(glob, path string) bool {
	parts := strings.Split(path, "/")
	for i := 1; i < len(parts); i++ {
		if matchGlob(glob, strings.Join(parts[:i], "/")) {
			return true
		}
	}
	return false
}

func matchGlob(glob, path string) bool {
	if ok, _ := doublestar.Match(glob, path); ok {
		return true
	}
	// A directory pattern also covers everything below it
	if !strings.HasSuffix(glob, "/**") {
		if ok, _ := doublestar.Match(glob+"/**", path); ok {
			return true
		}
	}
	return false
}
