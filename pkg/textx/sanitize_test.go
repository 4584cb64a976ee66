// Package textx contains tests for the text utilities.
package textx

import "testing"

func TestSanitizeText(t *testing.T) {
	in := "he\x00llo\nwo\x7frld\t!"
	got := SanitizeText(in)
	if got != "hello\nworld\t!" {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestFlatten(t *testing.T) {
	in := "  deep\nlearning\t\tfor   robotics \r\n"
	got := Flatten(in)
	if got != "deep learning for robotics" {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestJoinNonEmpty(t *testing.T) {
	got := JoinNonEmpty([]string{"Go", "", "  ", "Rust\n"}, ", ")
	if got != "Go, Rust" {
		t.Fatalf("unexpected: %q", got)
	}
}
