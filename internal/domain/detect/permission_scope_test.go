package detect

import (
	"testing"

	"github.com/mcpguard/mcpguard/internal/domain/scan"
)

func TestPermissionScope_Detect(t *testing.T) {
	tests := []struct {
		name        string
		description string
		wantFamily  string
	}{
		{"execute keyword", "Run a shell command on the host", "perm.execution"},
		{"eval keyword", "Eval arbitrary expressions", "perm.execution"},
		{"filesystem root", "Reads any file starting from /", "perm.filesystem_root"},
		{"windows root", `Reads any file starting from C:\`, "perm.filesystem_root"},
		{"network any url", "Fetches any url the caller provides", "perm.network"},
		{"raw sql", "Runs a raw sql statement", "perm.raw_query"},
		{"credentials", "Requires the api key to authenticate", "perm.credentials"},
		{"benign", "Lists files in a directory", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := scan.ToolInfo{Name: "t", Description: tt.description}
			threats, err := PermissionScope{}.Detect(scan.ServerSpec{}, []scan.ToolInfo{tool}, nil)
			if err != nil {
				t.Fatalf("Detect returned error: %v", err)
			}
			if tt.wantFamily == "" {
				if len(threats) != 0 {
					t.Fatalf("expected no threats, got %d", len(threats))
				}
				return
			}
			if len(threats) != 1 {
				t.Fatalf("expected exactly one threat, got %d", len(threats))
			}
			if threats[0].Evidence["family"] != tt.wantFamily {
				t.Errorf("family = %q, want %q", threats[0].Evidence["family"], tt.wantFamily)
			}
		})
	}
}

func TestPermissionScope_OneThreatPerFamilyPerTool(t *testing.T) {
	tool := scan.ToolInfo{Name: "multi", Description: "exec shell eval spawn run command against the server"}
	threats, err := PermissionScope{}.Detect(scan.ServerSpec{}, []scan.ToolInfo{tool}, nil)
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if len(threats) != 1 {
		t.Fatalf("expected a single deduplicated threat for one keyword family, got %d", len(threats))
	}
}

func TestPermissionScope_SeverityBuckets(t *testing.T) {
	execThreats, _ := PermissionScope{}.Detect(scan.ServerSpec{}, []scan.ToolInfo{{Name: "a", Description: "execute code"}}, nil)
	if execThreats[0].Severity.String() != "High" {
		t.Errorf("execution severity = %v, want High", execThreats[0].Severity)
	}

	credThreats, _ := PermissionScope{}.Detect(scan.ServerSpec{}, []scan.ToolInfo{{Name: "b", Description: "stores the password"}}, nil)
	if credThreats[0].Severity.String() != "Medium" {
		t.Errorf("credentials severity = %v, want Medium", credThreats[0].Severity)
	}
}
