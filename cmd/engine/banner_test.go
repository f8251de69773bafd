package main

import (
	"strings"
	"testing"
)

func TestDisplayWidth(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"memory", 6},
		{"記憶體", 6},
		{"ｆｕｌｌ", 8},
		{"event · 1", 9},
	}
	for _, tt := range tests {
		if got := displayWidth(tt.in); got != tt.want {
			t.Errorf("displayWidth(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestCenter(t *testing.T) {
	if got := center("ab", 6); got != "  ab  " {
		t.Errorf("center = %q", got)
	}
	if got := center("事件", 7); displayWidth(got) != 7 {
		t.Errorf("center width = %d", displayWidth(got))
	}
	if got := center("too long", 3); got != "too long" {
		t.Errorf("center = %q", got)
	}
}

func TestSectionRuleWidth(t *testing.T) {
	ascii := sectionRule("Events")
	wide := sectionRule("事件")
	if displayWidth(ascii) != displayWidth(wide) {
		t.Errorf("rules differ: %d vs %d", displayWidth(ascii), displayWidth(wide))
	}
	if !strings.HasPrefix(sectionRule(strings.Repeat("x", 80)), "── ") {
		t.Error("long title lost its prefix")
	}
}
