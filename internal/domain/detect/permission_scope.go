package detect

import (
	"fmt"
	"strings"

	"github.com/mcpguard/mcpguard/internal/domain/scan"
	"github.com/mcpguard/mcpguard/internal/domain/threat"
)

// keywordFamily is a named group of substrings that together indicate one
// class of over-broad permission. Grouping by family, rather than a flat
// pattern list, lets the detector emit at most one threat per family per
// tool even when several of its keywords hit.
type keywordFamily struct {
	id       string
	keywords []string
	severity threat.Severity
}

// permissionFamilies mirrors the permission-scope rule: execution,
// filesystem root, network, raw query, and credentials, each scanned
// case-insensitively across the description and the stringified input
// schema. Limitation carried over unchanged from the source substring
// matcher: a description saying "executes a raw sql statement" hits both
// the raw-query family and the execution family's "execute"; accepted
// for v1.
var permissionFamilies = []keywordFamily{
	{
		id:       "perm.execution",
		keywords: []string{"execute", "exec", "shell", "eval", "spawn", "run command"},
		severity: threat.SeverityHigh,
	},
	{
		id:       "perm.filesystem_root",
		keywords: []string{"/", `c:\`, "~"},
		severity: threat.SeverityHigh,
	},
	{
		id:       "perm.network",
		keywords: []string{"any url", "fetch url", "arbitrary http"},
		severity: threat.SeverityMedium,
	},
	{
		id:       "perm.raw_query",
		keywords: []string{"raw sql", "execute query"},
		severity: threat.SeverityHigh,
	},
	{
		id:       "perm.credentials",
		keywords: []string{"password", "secret", "api key"},
		severity: threat.SeverityMedium,
	},
}

// PermissionScope scans a tool's description and input schema for
// keyword families indicating over-broad permissions.
type PermissionScope struct{}

// NewPermissionScope constructs the detector.
func NewPermissionScope() PermissionScope { return PermissionScope{} }

func (PermissionScope) Name() string { return "permission_scope" }

func (PermissionScope) Detect(spec scan.ServerSpec, tools []scan.ToolInfo, _ []scan.ResourceInfo) ([]threat.Threat, error) {
	var out []threat.Threat
	for _, tool := range tools {
		haystack := strings.ToLower(tool.Description + " " + string(tool.InputSchema))
		for _, fam := range permissionFamilies {
			kw := firstMatch(haystack, fam.keywords)
			if kw == "" {
				continue
			}
			out = append(out, threat.Threat{
				ID:       fmt.Sprintf("permission-scope:%s:%s", tool.Name, fam.id),
				Category: threat.CategoryPermissionScope,
				Severity: fam.severity,
				Title:    "Tool requests over-broad permission scope",
				Message:  fmt.Sprintf("tool %q matches permission family %s (%q)", tool.Name, fam.id, kw),
				Evidence: map[string]string{
					"family":  fam.id,
					"keyword": kw,
				},
				Remediation: "Narrow the tool's described capability or require explicit operator approval.",
			})
		}
	}
	return out, nil
}

func firstMatch(haystack string, keywords []string) string {
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return kw
		}
	}
	return ""
}
