// Package security guards file access driven by dataset listings and CLI
// flags: every path read from an index file or written as an artifact must
// stay inside its root directory.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned for paths that resolve outside their root.
var ErrPathEscape = errors.New("path escapes root directory")

// canonical resolves symlinks in p. When p does not exist yet the deepest
// existing ancestor is resolved instead, so a symlinked parent cannot smuggle
// a new file outside the root.
func canonical(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	for dir := p; ; {
		parent := filepath.Dir(dir)
		if parent == dir {
			return p
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, _ := filepath.Rel(parent, p)
			return filepath.Join(resolved, rel)
		}
		dir = parent
	}
}

// ValidatePathWithinDirectory checks that filePath, after cleaning and
// symlink resolution, lies inside root.
func ValidatePathWithinDirectory(filePath, root string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	canonicalRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return fmt.Errorf("resolve root symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalRoot, canonical(absPath))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPathEscape, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s is outside %s", ErrPathEscape, filePath, root)
	}
	return nil
}

// ResolveWithin joins a relative entry (as listed in a dataset index) onto
// root and validates the result.
func ResolveWithin(root, entry string) (string, error) {
	if entry == "" {
		return "", fmt.Errorf("%w: empty entry", ErrPathEscape)
	}
	if filepath.IsAbs(entry) {
		return "", fmt.Errorf("%w: absolute entry %s", ErrPathEscape, entry)
	}
	p := filepath.Join(root, filepath.FromSlash(entry))
	if err := ValidatePathWithinDirectory(p, root); err != nil {
		return "", err
	}
	return p, nil
}

// SanitizeFilename makes a safe file name from an arbitrary string such as a
// run name: anything other than ASCII letters, digits, dot, underscore or
// dash becomes a single underscore and the result is capped at 128 bytes.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
