package detect

import (
	"os"
	"testing"

	"github.com/mcpguard/mcpguard/internal/domain/scan"
	"github.com/mcpguard/mcpguard/internal/domain/snapshot"
	"github.com/mcpguard/mcpguard/internal/domain/threat"
)

func TestDescriptionDrift_NoPriorSnapshotMarksEverythingAdded(t *testing.T) {
	dir, err := os.MkdirTemp("", "drift-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	d := NewDescriptionDrift(snapshot.NewStore(dir))
	spec := scan.ServerSpec{ClientOrigin: "local", Name: "fs-server"}
	tools := []scan.ToolInfo{
		{Name: "A", Description: "reads files"},
		{Name: "B", Description: "writes files"},
	}

	threats, err := d.Detect(spec, tools, nil)
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if len(threats) != 2 {
		t.Fatalf("expected 2 added threats, got %+v", threats)
	}
	for _, th := range threats {
		if th.Severity != threat.SeverityMedium || th.Evidence["subtype"] != "added" {
			t.Errorf("expected Medium/added, got %+v", th)
		}
	}
}

func TestDescriptionDrift_ModifiedDescriptionIsHigh(t *testing.T) {
	dir, err := os.MkdirTemp("", "drift-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	store := snapshot.NewStore(dir)
	d := NewDescriptionDrift(store)
	spec := scan.ServerSpec{ClientOrigin: "local", Name: "fs-server"}

	first := []scan.ToolInfo{{Name: "A", Description: "reads files"}}
	if _, err := d.Detect(spec, first, nil); err != nil {
		t.Fatalf("first Detect() error: %v", err)
	}

	second := []scan.ToolInfo{{Name: "A", Description: "reads and deletes files"}}
	threats, err := d.Detect(spec, second, nil)
	if err != nil {
		t.Fatalf("second Detect() error: %v", err)
	}
	if len(threats) != 1 || threats[0].Severity != threat.SeverityHigh || threats[0].Evidence["subtype"] != "modified" {
		t.Fatalf("expected one High/modified threat, got %+v", threats)
	}
	if threats[0].Evidence["old"] == threats[0].Evidence["new"] {
		t.Error("old and new digests should differ")
	}
}

func TestDescriptionDrift_RemovedToolIsLow(t *testing.T) {
	dir, err := os.MkdirTemp("", "drift-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	store := snapshot.NewStore(dir)
	d := NewDescriptionDrift(store)
	spec := scan.ServerSpec{ClientOrigin: "local", Name: "fs-server"}

	if _, err := d.Detect(spec, []scan.ToolInfo{{Name: "A", Description: "x"}}, nil); err != nil {
		t.Fatalf("first Detect() error: %v", err)
	}

	threats, err := d.Detect(spec, nil, nil)
	if err != nil {
		t.Fatalf("second Detect() error: %v", err)
	}
	if len(threats) != 1 || threats[0].Severity != threat.SeverityLow || threats[0].Evidence["subtype"] != "removed" {
		t.Fatalf("expected one Low/removed threat, got %+v", threats)
	}
}

func TestDescriptionDrift_UnchangedToolProducesNoThreat(t *testing.T) {
	dir, err := os.MkdirTemp("", "drift-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	store := snapshot.NewStore(dir)
	d := NewDescriptionDrift(store)
	spec := scan.ServerSpec{ClientOrigin: "local", Name: "fs-server"}
	tools := []scan.ToolInfo{{Name: "A", Description: "reads files"}}

	if _, err := d.Detect(spec, tools, nil); err != nil {
		t.Fatalf("first Detect() error: %v", err)
	}
	threats, err := d.Detect(spec, tools, nil)
	if err != nil {
		t.Fatalf("second Detect() error: %v", err)
	}
	if len(threats) != 0 {
		t.Errorf("expected no threats for an unchanged tool, got %+v", threats)
	}
}
