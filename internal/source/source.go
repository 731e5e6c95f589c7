// Package source implements the Source Loader: it maps logical source
// identifiers to byte buffers and resolves .include targets against
// search paths.
package source

import (
	"fmt"
	"os"
	"path/filepath"
)

// Unit is a named byte buffer. Name is the stable identifier used in
// diagnostics and, for the primary input, may be overridden by the
// CLI's -f flag so diagnostics and the KO's recorded source-symbol name
// can present an upstream filename instead of the on-disk path.
type Unit struct {
	Name string // identifier used in diagnostics / KO source-symbol
	Path string // resolved filesystem path actually read, "" for synthetic units
	Text string
}

// Set loads and caches Units, and resolves .include search order.
type Set struct {
	IncludeDirs []string
	units       map[string]*Unit
}

// NewSet creates a Set with the given include search directories, tried
// in order after the including file's own directory.
func NewSet(includeDirs []string) *Set {
	return &Set{
		IncludeDirs: includeDirs,
		units:       make(map[string]*Unit),
	}
}

// LoadFile reads path from disk as a new Unit, with Name defaulting to
// path. The returned Unit is cached by its resolved absolute path.
func (s *Set) LoadFile(path string) (*Unit, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	if u, ok := s.units[abs]; ok {
		return u, nil
	}
	data, err := os.ReadFile(abs) // #nosec G304 -- path is an assembler-controlled source/include argument
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	u := &Unit{Name: path, Path: abs, Text: string(data)}
	s.units[abs] = u
	return u, nil
}

// Synthetic creates an in-memory Unit (used for -a preprocessed input
// supplied as a string, or for tests) under a stable name with no
// backing file; it is not cached in the Set and is not subject to
// include-cycle detection by path.
func (s *Set) Synthetic(name, text string) *Unit {
	return &Unit{Name: name, Text: text}
}

// ResolveInclude finds the file targeted by a .include directive
// appearing in fromDir (the directory of the including unit), trying
// fromDir first and then each configured include directory in order.
// The first hit is returned unread; LoadFile actually reads it.
func (s *Set) ResolveInclude(fromDir, target string) (string, error) {
	if filepath.IsAbs(target) {
		if fileExists(target) {
			return target, nil
		}
		return "", fmt.Errorf("include target not found: %s", target)
	}

	candidate := filepath.Join(fromDir, target)
	if fileExists(candidate) {
		return candidate, nil
	}
	for _, dir := range s.IncludeDirs {
		candidate = filepath.Join(dir, target)
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("include target not found in any search path: %s", target)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
