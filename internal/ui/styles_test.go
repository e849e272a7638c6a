package ui

import (
	"strings"
	"testing"
)

func TestTable_AlignsColumns(t *testing.T) {
	out := Table([]string{"#", "STATE"}, [][]string{
		{"1", "synced"},
		{"12", "failed"},
	})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("Table() produced %d lines, want 3:\n%s", len(lines), out)
	}
	for _, line := range lines[1:] {
		if !strings.Contains(line, "  ") {
			t.Errorf("row %q not padded", line)
		}
	}
	if !strings.HasPrefix(lines[2], "12  ") {
		t.Errorf("row = %q, want widest cell followed by two spaces", lines[2])
	}
}

func TestPlural(t *testing.T) {
	if got := Plural(1, "sample", "samples"); got != "1 sample" {
		t.Errorf("Plural(1) = %q", got)
	}
	if got := Plural(3, "sample", "samples"); got != "3 samples" {
		t.Errorf("Plural(3) = %q", got)
	}
}

func TestRenderState_KeepsText(t *testing.T) {
	for _, s := range []string{"synced", "pending", "failed", "other"} {
		if !strings.Contains(RenderState(s), s) {
			t.Errorf("RenderState(%q) lost the text", s)
		}
	}
}
