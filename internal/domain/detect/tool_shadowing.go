package detect

import (
	"fmt"

	"github.com/mcpguard/mcpguard/internal/domain/scan"
	"github.com/mcpguard/mcpguard/internal/domain/threat"
)

// ToolShadowing is registered in the fixed detector order but never finds
// anything on its own: shadowing is inherently a cross-server comparison,
// run once by the scan orchestrator after every server has been scanned
// (see CrossServerShadowing). Keeping a no-op entry in the detector list
// keeps the category's position in the fixed order documented in one place.
type ToolShadowing struct{}

// NewToolShadowing constructs the (no-op, single-server) detector.
func NewToolShadowing() ToolShadowing { return ToolShadowing{} }

func (ToolShadowing) Name() string { return "tool_shadowing" }

func (ToolShadowing) Detect(scan.ServerSpec, []scan.ToolInfo, []scan.ResourceInfo) ([]threat.Threat, error) {
	return nil, nil
}

// shadowPerTool is the per-server accumulator CrossServerShadowing builds
// before converting it to Threats, keyed by server index.
type shadowPerTool map[int][]threat.Threat

// CrossServerShadowing compares every pair of servers in a completed batch
// of results and returns, per result index, the ToolShadowing threats that
// result's server earned. Exact name collisions are High on both sides;
// near-miss names (Damerau-Levenshtein distance <= 2, both names length
// >= 4) are Medium on both sides.
func CrossServerShadowing(results []threat.ScanResult) [][]threat.Threat {
	out := make([][]threat.Threat, len(results))

	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			if results[i].Server.Name == results[j].Server.Name {
				continue
			}
			for _, a := range results[i].Tools {
				for _, b := range results[j].Tools {
					if a.Name == b.Name {
						out[i] = append(out[i], shadowThreat(results[i].Server.Name, results[j].Server.Name, a.Name, b.Name, threat.SeverityHigh, "exact"))
						out[j] = append(out[j], shadowThreat(results[j].Server.Name, results[i].Server.Name, b.Name, a.Name, threat.SeverityHigh, "exact"))
						continue
					}
					if len(a.Name) < 4 || len(b.Name) < 4 {
						continue
					}
					if d := damerauLevenshtein(a.Name, b.Name); d <= 2 {
						out[i] = append(out[i], shadowThreat(results[i].Server.Name, results[j].Server.Name, a.Name, b.Name, threat.SeverityMedium, "near_miss"))
						out[j] = append(out[j], shadowThreat(results[j].Server.Name, results[i].Server.Name, b.Name, a.Name, threat.SeverityMedium, "near_miss"))
					}
				}
			}
		}
	}

	return out
}

func shadowThreat(ownServer, otherServer, ownTool, otherTool string, sev threat.Severity, kind string) threat.Threat {
	return threat.Threat{
		ID:       fmt.Sprintf("tool-shadowing:%s:%s:%s:%s", ownServer, ownTool, otherServer, otherTool),
		Category: threat.CategoryToolShadowing,
		Severity: sev,
		Title:    "Tool name collides with another server",
		Message:  fmt.Sprintf("tool %q on server %q collides (%s) with tool %q on server %q", ownTool, ownServer, kind, otherTool, otherServer),
		Evidence: map[string]string{
			"other_server": otherServer,
			"other_tool":   otherTool,
			"match_kind":   kind,
		},
		Remediation: "Rename the tool or remove one of the conflicting servers.",
	}
}

// damerauLevenshtein computes the Damerau-Levenshtein edit distance
// (insertions, deletions, substitutions, and adjacent transpositions)
// between a and b.
func damerauLevenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)

	d := make([][]int, la+2)
	for i := range d {
		d[i] = make([]int, lb+2)
	}

	maxDist := la + lb
	d[0][0] = maxDist
	for i := 0; i <= la; i++ {
		d[i+1][0] = maxDist
		d[i+1][1] = i
	}
	for j := 0; j <= lb; j++ {
		d[0][j+1] = maxDist
		d[1][j+1] = j
	}

	lastRow := make(map[rune]int)
	for i := 1; i <= la; i++ {
		lastCol := 0
		for j := 1; j <= lb; j++ {
			i1 := lastRow[rb[j-1]]
			j1 := lastCol
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
				lastCol = j
			}
			del := d[i][j+1] + 1
			ins := d[i+1][j] + 1
			sub := d[i][j] + cost
			trans := d[i1][j1] + (i-i1-1) + 1 + (j-j1-1)
			best := del
			if ins < best {
				best = ins
			}
			if sub < best {
				best = sub
			}
			if trans < best {
				best = trans
			}
			d[i+1][j+1] = best
		}
		lastRow[ra[i-1]] = i
	}

	return d[la+1][lb+1]
}
