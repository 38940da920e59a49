package fs

import "testing"

func TestNewReservedNames(t *testing.T) {
	t.Run("skips blank lines and comments", func(t *testing.T) {
		t.Parallel()
		m := NewReservedNames([]string{"", "  ", "# comment", "*.part"})
		if len(m.patterns) != len(defaultReservedPatterns)+1 {
			t.Fatalf("expected %d patterns, got %d", len(defaultReservedPatterns)+1, len(m.patterns))
		}
		if m.patterns[len(m.patterns)-1] != "*.part" {
			t.Errorf("expected *.part, got %s", m.patterns[len(m.patterns)-1])
		}
	})
}

func TestReservedNames_Reserved(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		input    string
		want     bool
	}{
		{
			name:  "temp prefix is always reserved",
			input: ".drive-tmp-123456",
			want:  true,
		},
		{
			name:  "ordinary name is not reserved",
			input: "report.pdf",
			want:  false,
		},
		{
			name:     "glob from config",
			patterns: []string{"*.part"},
			input:    "movie.part",
			want:     true,
		},
		{
			name:     "exact name from config",
			patterns: []string{".DS_Store"},
			input:    ".DS_Store",
			want:     true,
		},
		{
			name:     "bad pattern is skipped",
			patterns: []string{"[unclosed"},
			input:    "[unclosed",
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewReservedNames(tt.patterns)
			if got := m.Reserved(tt.input); got != tt.want {
				t.Errorf("Reserved(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
