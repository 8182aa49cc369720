package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var (
	// ErrNotAllowed indicates the path lies outside every allowed directory.
	ErrNotAllowed = errors.New("security: path not allowed")
	// ErrUnsupportedExtension indicates a file that is not an Excel workbook.
	ErrUnsupportedExtension = errors.New("security: unsupported file extension")
	// ErrNotFound indicates the workbook does not exist.
	ErrNotFound = errors.New("security: file not found")
	// ErrFileTooLarge indicates the workbook exceeds the configured size.
	ErrFileTooLarge = errors.New("security: file too large")
)

// AllowedDirsEnv is the environment variable operators use for the allow-list.
const AllowedDirsEnv = "LEVERLAB_ALLOWED_DIRS"

// WorkbookExtensions are accepted when NewManager receives no extensions.
var WorkbookExtensions = []string{".xlsx", ".xlsm", ".xltx", ".xltm"}

// Manager decides which workbooks a dataset may be loaded from. Roots are
// held as canonical paths (absolute, symlinks resolved) so that a symlink
// inside a root cannot lead outside it.
type Manager struct {
	roots        []string
	exts         map[string]bool
	maxFileBytes int64
}

// NewManager canonicalizes roots and validates extensions, which must carry
// a leading dot. Blank roots are skipped; a root that is missing or not a
// directory is an error. Duplicate roots collapse.
func NewManager(roots []string, extensions []string) (*Manager, error) {
	if len(extensions) == 0 {
		extensions = WorkbookExtensions
	}
	m := &Manager{exts: make(map[string]bool, len(extensions))}
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if !strings.HasPrefix(e, ".") || len(e) < 2 {
			return nil, fmt.Errorf("security: invalid extension: %q", e)
		}
		m.exts[e] = true
	}
	for _, r := range roots {
		if strings.TrimSpace(r) == "" {
			continue
		}
		dir, err := canonical(strings.TrimSpace(r))
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("security: stat %q: %w", dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("security: allow-list entry is not a directory: %q", dir)
		}
		if !slices.Contains(m.roots, dir) {
			m.roots = append(m.roots, dir)
		}
	}
	return m, nil
}

// WithMaxFileBytes rejects larger workbooks; n <= 0 disables the check.
func (m *Manager) WithMaxFileBytes(n int64) *Manager {
	m.maxFileBytes = n
	return m
}

// AllowedDirectories returns a copy of the canonical roots.
func (m *Manager) AllowedDirectories() []string {
	return append([]string(nil), m.roots...)
}

// ValidateConfig fails when no root is configured. Loading stays disabled
// until an operator names at least one directory.
func (m *Manager) ValidateConfig() error {
	if len(m.roots) == 0 {
		return errors.New("security: no allowed directories configured")
	}
	return nil
}

// ValidateOpenPath returns the canonical path of an existing workbook with
// an accepted extension inside one of the roots.
func (m *Manager) ValidateOpenPath(input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", ErrNotAllowed
	}
	if !m.exts[strings.ToLower(filepath.Ext(input))] {
		return "", ErrUnsupportedExtension
	}

	real, err := canonical(input)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	info, err := os.Stat(real)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return "", ErrNotFound
	case err != nil:
		return "", fmt.Errorf("security: stat: %w", err)
	case info.IsDir():
		return "", ErrNotAllowed
	case m.maxFileBytes > 0 && info.Size() > m.maxFileBytes:
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, info.Size(), m.maxFileBytes)
	}

	for _, root := range m.roots {
		if within(root, real) {
			return real, nil
		}
	}
	return "", ErrNotAllowed
}

// canonical makes p absolute and resolves every symlink along it.
func canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("security: resolve abs for %q: %w", p, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("security: eval symlinks for %q: %w", abs, err)
	}
	return filepath.Clean(real), nil
}

// within reports whether path lies strictly below root.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
