package detect

import (
	"fmt"

	"github.com/mcpguard/mcpguard/internal/domain/scan"
	"github.com/mcpguard/mcpguard/internal/domain/snapshot"
	"github.com/mcpguard/mcpguard/internal/domain/threat"
)

// DescriptionDrift is the one detector permitted to do I/O: it loads the
// prior snapshot for a server identity, diffs it against the current
// tool surface, and atomically writes the new snapshot. A snapshot I/O
// failure degrades to a single Info threat rather than failing the scan.
type DescriptionDrift struct {
	store *snapshot.Store
}

// NewDescriptionDrift constructs the detector over store.
func NewDescriptionDrift(store *snapshot.Store) *DescriptionDrift {
	return &DescriptionDrift{store: store}
}

func (*DescriptionDrift) Name() string { return "description_drift" }

func (d *DescriptionDrift) Detect(spec scan.ServerSpec, tools []scan.ToolInfo, _ []scan.ResourceInfo) ([]threat.Threat, error) {
	prior, err := d.store.Load(spec.ClientOrigin, spec.Name)
	if err != nil {
		return []threat.Threat{driftUnavailable(spec.Name, err)}, nil
	}

	current := map[string]snapshot.ToolDigests{}
	for _, tool := range tools {
		current[tool.Name] = snapshot.ToolDigests{
			DescriptionDigest: tool.DescriptionDigest(),
			SchemaDigest:      tool.SchemaDigest(),
		}
	}

	var out []threat.Threat
	for name, digests := range current {
		old, existed := prior.Tools[name]
		switch {
		case !existed:
			out = append(out, driftThreat(spec.Name, name, threat.SeverityMedium, "added", nil))
		case old.DescriptionDigest != digests.DescriptionDigest:
			out = append(out, driftThreat(spec.Name, name, threat.SeverityHigh, "modified", map[string]string{
				"old": old.DescriptionDigest,
				"new": digests.DescriptionDigest,
			}))
		}
	}
	for name := range prior.Tools {
		if _, present := current[name]; !present {
			out = append(out, driftThreat(spec.Name, name, threat.SeverityLow, "removed", nil))
		}
	}

	if err := d.store.Save(spec.ClientOrigin, spec.Name, snapshot.Snapshot{Tools: current}); err != nil {
		out = append(out, driftUnavailable(spec.Name, err))
	}

	return out, nil
}

func driftThreat(server, tool string, sev threat.Severity, subtype string, extra map[string]string) threat.Threat {
	evidence := map[string]string{"subtype": subtype}
	for k, v := range extra {
		evidence[k] = v
	}
	return threat.Threat{
		ID:          fmt.Sprintf("description-drift:%s:%s:%s", server, tool, subtype),
		Category:    threat.CategoryDescriptionDrift,
		Severity:    sev,
		Title:       "Tool surface changed since the last scan",
		Message:     fmt.Sprintf("tool %q on server %q is %s since the last snapshot", tool, server, subtype),
		Evidence:    evidence,
		Remediation: "Review the tool's description and schema change before trusting it.",
	}
}

func driftUnavailable(server string, err error) threat.Threat {
	return threat.Threat{
		ID:       fmt.Sprintf("description-drift:%s:DRIFT-UNAVAILABLE", server),
		Category: threat.CategoryDescriptionDrift,
		Severity: threat.SeverityInfo,
		Title:    "Snapshot unavailable for drift comparison",
		Message:  fmt.Sprintf("server %q: snapshot store error: %v", server, err),
		Evidence: map[string]string{"subtype": "DRIFT-UNAVAILABLE"},
	}
}
