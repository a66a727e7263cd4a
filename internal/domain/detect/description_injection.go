package detect

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/mcpguard/mcpguard/internal/domain/scan"
	"github.com/mcpguard/mcpguard/internal/domain/threat"
)

// maxDescriptionBytes is the length rule boundary: exactly 4000 bytes is
// not flagged, 4001 is.
const maxDescriptionBytes = 4000

// base64RunLength is the minimum run length for the base64 payload
// heuristic. The source material only said "long"; this spec fixes 40.
const base64RunLength = 40

var injectionPatterns = []struct {
	id  string
	re  *regexp.Regexp
}{
	{"inj.ignore_previous", regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts)`)},
	{"inj.disregard_above", regexp.MustCompile(`(?i)disregard\s+the\s+above`)},
	{"inj.forget_everything", regexp.MustCompile(`(?i)forget\s+everything`)},
	{"inj.system_tag", regexp.MustCompile(`<system>|\[SYSTEM\]|###\s*system`)},
}

// zeroWidthRunes are zero-width and bidi-override code points used to
// smuggle hidden instructions into a description.
var zeroWidthRunes = []rune{
	'​', '‌', '‍', '\uFEFF',
	'‪', '‫', '‬', '‭', '‮',
}

var base64Run = regexp.MustCompile(`[A-Za-z0-9+/]{` + fmt.Sprint(base64RunLength) + `,}=*`)

// DescriptionInjection flags prompt-injection patterns, hidden Unicode
// control characters, base64-looking payloads, and over-length text in a
// tool's description.
type DescriptionInjection struct{}

// NewDescriptionInjection constructs the detector.
func NewDescriptionInjection() DescriptionInjection { return DescriptionInjection{} }

func (DescriptionInjection) Name() string { return "description_injection" }

func (DescriptionInjection) Detect(spec scan.ServerSpec, tools []scan.ToolInfo, _ []scan.ResourceInfo) ([]threat.Threat, error) {
	var out []threat.Threat
	for _, tool := range tools {
		out = append(out, detectInjectionInDescription(tool)...)
	}
	return out, nil
}

func detectInjectionInDescription(tool scan.ToolInfo) []threat.Threat {
	var out []threat.Threat
	desc := tool.Description

	for _, p := range injectionPatterns {
		if loc := p.re.FindStringIndex(desc); loc != nil {
			out = append(out, threat.Threat{
				ID:       fmt.Sprintf("description-injection:%s:%s", tool.Name, p.id),
				Category: threat.CategoryDescriptionInjection,
				Severity: threat.SeverityCritical,
				Title:    "Prompt injection pattern in tool description",
				Message:  fmt.Sprintf("tool %q description matches injection pattern %s", tool.Name, p.id),
				Evidence: map[string]string{
					"pattern": p.id,
					"offset":  fmt.Sprint(loc[0]),
					"match":   desc[loc[0]:loc[1]],
				},
				Remediation: "Remove instruction-override language from the tool description.",
			})
		}
	}

	if off, r := firstZeroWidthRune(desc); off >= 0 {
		out = append(out, threat.Threat{
			ID:       fmt.Sprintf("description-injection:%s:inj.hidden_unicode", tool.Name),
			Category: threat.CategoryDescriptionInjection,
			Severity: threat.SeverityCritical,
			Title:    "Hidden Unicode control character in tool description",
			Message:  fmt.Sprintf("tool %q description contains a zero-width or bidi-override code point", tool.Name),
			Evidence: map[string]string{
				"pattern": "inj.hidden_unicode",
				"offset":  fmt.Sprint(off),
				"match":   fmt.Sprintf("U+%04X", r),
			},
			Remediation: "Strip zero-width and bidirectional override characters before publishing the tool.",
		})
	}

	if loc := findBase64Payload(desc); loc != nil {
		out = append(out, threat.Threat{
			ID:       fmt.Sprintf("description-injection:%s:inj.base64_payload", tool.Name),
			Category: threat.CategoryDescriptionInjection,
			Severity: threat.SeverityHigh,
			Title:    "Base64-looking payload in tool description",
			Message:  fmt.Sprintf("tool %q description contains a long base64-decodable run", tool.Name),
			Evidence: map[string]string{
				"pattern": "inj.base64_payload",
				"offset":  fmt.Sprint(loc[0]),
			},
			Remediation: "Remove embedded encoded payloads from the tool description.",
		})
	}

	if len(desc) > maxDescriptionBytes {
		out = append(out, threat.Threat{
			ID:       fmt.Sprintf("description-injection:%s:inj.over_length", tool.Name),
			Category: threat.CategoryDescriptionInjection,
			Severity: threat.SeverityHigh,
			Title:    "Tool description exceeds length limit",
			Message:  fmt.Sprintf("tool %q description is %d bytes, exceeding the %d byte limit", tool.Name, len(desc), maxDescriptionBytes),
			Evidence: map[string]string{
				"pattern": "inj.over_length",
				"length":  fmt.Sprint(len(desc)),
			},
			Remediation: "Shorten the tool description.",
		})
	}

	return out
}

func firstZeroWidthRune(s string) (int, rune) {
	for i, r := range s {
		for _, z := range zeroWidthRunes {
			if r == z {
				return i, r
			}
		}
	}
	return -1, 0
}

// findBase64Payload returns the byte offset range of the first run of
// base64RunLength-or-more base64 alphabet characters, optionally
// '='-padded, that also decodes to valid bytes.
func findBase64Payload(s string) []int {
	for _, loc := range base64Run.FindAllStringIndex(s, -1) {
		candidate := s[loc[0]:loc[1]]
		padded := candidate
		if rem := len(strings.TrimRight(padded, "=")) % 4; rem != 0 {
			padded = strings.TrimRight(padded, "=")
			padded += strings.Repeat("=", (4-rem%4)%4)
		}
		if _, err := base64.StdEncoding.DecodeString(padded); err == nil {
			return loc
		}
	}
	return nil
}
