package content

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain text", "Hello World", "Hello World"},
		{"HTML tags", "Hello <b>World</b>", "Hello <b>World</b>"},
		{"Script tag", "<script>alert('xss')</script>Hello", "Hello"},
		{"Complex HTML", "<a href='javascript:alert(1)'>Click me</a>", "Click me"},
		{"Emoji", "I am 🤖", "I am 🤖"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.input); got != tt.expected {
				t.Errorf("Sanitize() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRenderPreview(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains string
	}{
		{"Bold", "**hi**", "<strong>hi</strong>"},
		{"Plain", "hello", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RenderPreview(tt.input)
			if got == "" {
				t.Fatalf("RenderPreview() returned empty for %q", tt.input)
			}
			if !strings.Contains(got, tt.contains) {
				t.Errorf("RenderPreview(%q) = %q, want substring %q", tt.input, got, tt.contains)
			}
		})
	}
}
