package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// History is the REPL history file, one entry per line.
type History struct {
	path  string
	max   int
	lines []string
}

func NewHistory(path string) *History {
	return &History{path: path}
}

// Load reads the history file and keeps the newest max entries in memory,
// all of them when max is not positive. The cap also applies to Append.
func (h *History) Load(max int) error {
	h.max = max
	if h.path == "" {
		return nil
	}
	data, err := os.ReadFile(h.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		h.remember(line)
	}
	return nil
}

func (h *History) Lines() []string { return h.lines }

// Append remembers entry and adds it to the file.
func (h *History) Append(entry string) error {
	entry = h.remember(entry)
	if entry == "" || h.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = fmt.Fprintln(f, entry)
	return err
}

// remember stores the one-line form of entry and returns it, or "" when
// nothing was left to store.
func (h *History) remember(entry string) string {
	entry = compactOneLine(entry)
	if entry == "" {
		return ""
	}
	h.lines = append(h.lines, entry)
	if h.max > 0 && len(h.lines) > h.max {
		h.lines = slices.Delete(h.lines, 0, len(h.lines)-h.max)
	}
	return entry
}

func (h *History) Print(w io.Writer, last int) {
	if last <= 0 || last > len(h.lines) {
		last = len(h.lines)
	}
	for i := len(h.lines) - last; i < len(h.lines); i++ {
		fmt.Fprintf(w, "%5d  %s\n", i+1, h.lines[i])
	}
}

// compactOneLine folds newlines and tabs and collapses runs of spaces.
func compactOneLine(s string) string {
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\t", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".proton_inspect_history"
	}
	return filepath.Join(home, ".proton_inspect_history")
}
