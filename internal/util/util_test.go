package util

import "testing"

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		maxLen        int
		preserveWords bool
		expected      string
	}{
		{
			name:          "short string unchanged",
			input:         "hello",
			maxLen:        10,
			preserveWords: false,
			expected:      "hello",
		},
		{
			name:          "exact length unchanged",
			input:         "hello",
			maxLen:        5,
			preserveWords: false,
			expected:      "hello",
		},
		{
			name:          "simple truncation",
			input:         "hello world",
			maxLen:        8,
			preserveWords: false,
			expected:      "hello...",
		},
		{
			name:          "word boundary truncation",
			input:         "hello world foo",
			maxLen:        13,
			preserveWords: true,
			expected:      "hello...",
		},
		{
			name:          "no space before cut keeps hard cut",
			input:         "abcdefghij",
			maxLen:        8,
			preserveWords: true,
			expected:      "abcde...",
		},
		{
			name:          "zero max length",
			input:         "hello",
			maxLen:        0,
			preserveWords: false,
			expected:      "",
		},
		{
			name:          "max length below ellipsis",
			input:         "hello",
			maxLen:        2,
			preserveWords: false,
			expected:      "..",
		},
		{
			name:          "unicode stays intact",
			input:         "日本語のテキストです",
			maxLen:        7,
			preserveWords: false,
			expected:      "日本語の...",
		},
		{
			name:          "mixed ascii and unicode",
			input:         "model 日本語 output trailing",
			maxLen:        15,
			preserveWords: true,
			expected:      "model 日本語...",
		},
		{
			name:          "empty input",
			input:         "",
			maxLen:        4,
			preserveWords: false,
			expected:      "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateString(tt.input, tt.maxLen, tt.preserveWords)
			if got != tt.expected {
				t.Errorf("TruncateString(%q, %d, %v) = %q, want %q",
					tt.input, tt.maxLen, tt.preserveWords, got, tt.expected)
			}
		})
	}
}

func TestLastSpaceBeforeRune(t *testing.T) {
	runes := []rune("ab cd ef")

	if idx := lastSpaceBeforeRune(runes, 8); idx != 5 {
		t.Errorf("lastSpaceBeforeRune(pos=8) = %d, want 5", idx)
	}
	if idx := lastSpaceBeforeRune(runes, 5); idx != 2 {
		t.Errorf("lastSpaceBeforeRune(pos=5) = %d, want 2", idx)
	}
	if idx := lastSpaceBeforeRune([]rune("abcdef"), 6); idx != -1 {
		t.Errorf("lastSpaceBeforeRune(no space) = %d, want -1", idx)
	}
	// pos past the end clamps rather than panicking.
	if idx := lastSpaceBeforeRune(runes, 100); idx != 5 {
		t.Errorf("lastSpaceBeforeRune(pos=100) = %d, want 5", idx)
	}
}
