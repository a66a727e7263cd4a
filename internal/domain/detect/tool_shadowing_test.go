package detect

import (
	"testing"

	"github.com/mcpguard/mcpguard/internal/domain/scan"
	"github.com/mcpguard/mcpguard/internal/domain/threat"
)

func TestCrossServerShadowing_ExactMatchIsHighOnBothSides(t *testing.T) {
	results := []threat.ScanResult{
		{Server: scan.ServerSpec{Name: "a"}, Tools: []scan.ToolInfo{{Name: "send_email"}}},
		{Server: scan.ServerSpec{Name: "b"}, Tools: []scan.ToolInfo{{Name: "send_email"}}},
	}

	out := CrossServerShadowing(results)
	if len(out[0]) != 1 || out[0][0].Severity != threat.SeverityHigh {
		t.Fatalf("server a: expected one High threat, got %+v", out[0])
	}
	if len(out[1]) != 1 || out[1][0].Severity != threat.SeverityHigh {
		t.Fatalf("server b: expected one High threat, got %+v", out[1])
	}
}

func TestCrossServerShadowing_NearMissIsMedium(t *testing.T) {
	results := []threat.ScanResult{
		{Server: scan.ServerSpec{Name: "a"}, Tools: []scan.ToolInfo{{Name: "send_email"}}},
		{Server: scan.ServerSpec{Name: "b"}, Tools: []scan.ToolInfo{{Name: "send_emial"}}},
	}

	out := CrossServerShadowing(results)
	if len(out[0]) != 1 || out[0][0].Severity != threat.SeverityMedium {
		t.Fatalf("expected one Medium near-miss threat, got %+v", out[0])
	}
	if out[0][0].Evidence["match_kind"] != "near_miss" {
		t.Errorf("expected match_kind near_miss, got %q", out[0][0].Evidence["match_kind"])
	}
}

func TestCrossServerShadowing_ShortNamesExemptFromNearMiss(t *testing.T) {
	results := []threat.ScanResult{
		{Server: scan.ServerSpec{Name: "a"}, Tools: []scan.ToolInfo{{Name: "get"}}},
		{Server: scan.ServerSpec{Name: "b"}, Tools: []scan.ToolInfo{{Name: "got"}}},
	}

	out := CrossServerShadowing(results)
	if len(out[0]) != 0 || len(out[1]) != 0 {
		t.Fatalf("expected no threats for names shorter than 4 characters, got %+v / %+v", out[0], out[1])
	}
}

func TestCrossServerShadowing_UnrelatedNamesProduceNoThreats(t *testing.T) {
	results := []threat.ScanResult{
		{Server: scan.ServerSpec{Name: "a"}, Tools: []scan.ToolInfo{{Name: "read_file"}}},
		{Server: scan.ServerSpec{Name: "b"}, Tools: []scan.ToolInfo{{Name: "send_email"}}},
	}

	out := CrossServerShadowing(results)
	if len(out[0]) != 0 || len(out[1]) != 0 {
		t.Fatalf("expected no threats for unrelated names, got %+v / %+v", out[0], out[1])
	}
}

func TestDamerauLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"send_email", "send_email", 0},
		{"send_email", "send_emial", 1}, // adjacent transposition
		{"kitten", "sitting", 3},
		{"", "abc", 3},
		{"abc", "abc", 0},
	}

	for _, tt := range tests {
		if got := damerauLevenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("damerauLevenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
