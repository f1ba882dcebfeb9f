package ui

import (
	"bufio"
	"os"
	"sync"
)

// sourceCache lazily reads and caches source files by path, for display
// alongside per-line trace statistics. Read failures are cached too (as a
// nil slice) so a missing file isn't re-opened every frame.
type sourceCache struct {
	mu    sync.Mutex
	files map[string][]string
}

func newSourceCache() *sourceCache {
	return &sourceCache{files: make(map[string][]string)}
}

// Lines returns path's content split into 1-indexed lines (index 0 is
// unused padding), or nil if the file couldn't be read.
func (c *sourceCache) Lines(path string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if lines, ok := c.files[path]; ok {
		return lines
	}

	lines := readLines(path)
	c.files[path] = lines
	return lines
}

// Line returns the 1-indexed source line, or "" if unavailable.
func (c *sourceCache) Line(path string, line int) string {
	lines := c.Lines(path)
	if line <= 0 || line >= len(lines) {
		return ""
	}
	return lines[line]
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	lines := []string{""} // 1-indexed
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}
