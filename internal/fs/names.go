package fs

import (
	"path/filepath"
	"strings"

	"drive-go/internal/drive"
)

// defaultReservedPatterns are always applied regardless of config.
var defaultReservedPatterns = []string{TempPrefix + "*"}

// ReservedNames checks node names against a set of glob patterns
// (filepath.Match syntax). Blank patterns and ones starting with '#' are
// skipped.
type ReservedNames struct {
	patterns []string
}

// NewReservedNames creates a matcher from raw pattern strings plus the
// defaults.
func NewReservedNames(rawPatterns []string) *ReservedNames {
	patterns := append([]string(nil), defaultReservedPatterns...)
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		patterns = append(patterns, raw)
	}
	return &ReservedNames{patterns: patterns}
}

// Reserved reports whether name matches any pattern.
func (m *ReservedNames) Reserved(name string) bool {
	for _, p := range m.patterns {
		matched, err := filepath.Match(p, name)
		if err != nil {
			// Bad pattern: skip rather than crash.
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// Compile-time check that ReservedNames implements drive.NameFilter interface
var _ drive.NameFilter = (*ReservedNames)(nil)
