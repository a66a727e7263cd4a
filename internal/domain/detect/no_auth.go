package detect

import (
	"fmt"
	"regexp"

	"github.com/mcpguard/mcpguard/internal/domain/scan"
	"github.com/mcpguard/mcpguard/internal/domain/threat"
)

var authEnvKeyPattern = regexp.MustCompile(`(?i)(token|key|secret|auth|password|bearer)`)

// NoAuth inspects ServerSpec.Environment for anything that looks like a
// credential. A server with no such key is treated as unauthenticated:
// Critical over http_sse, Info over stdio (the transport itself is the
// trust boundary, but it's worth surfacing).
type NoAuth struct{}

// NewNoAuth constructs the detector.
func NewNoAuth() NoAuth { return NoAuth{} }

func (NoAuth) Name() string { return "no_auth" }

func (NoAuth) Detect(spec scan.ServerSpec, _ []scan.ToolInfo, _ []scan.ResourceInfo) ([]threat.Threat, error) {
	for key := range spec.Environment {
		if authEnvKeyPattern.MatchString(key) {
			return nil, nil
		}
	}

	severity := threat.SeverityInfo
	if spec.TransportKind == scan.TransportHTTPSSE {
		severity = threat.SeverityCritical
	}

	return []threat.Threat{{
		ID:       fmt.Sprintf("no-auth:%s", spec.Name),
		Category: threat.CategoryNoAuth,
		Severity: severity,
		Title:    "No authentication credential configured",
		Message:  fmt.Sprintf("server %q has no environment key matching an auth pattern", spec.Name),
		Evidence: map[string]string{
			"transport_kind": string(spec.TransportKind),
		},
		Remediation: "Configure an API key, token, or bearer credential for this server.",
	}}, nil
}
