// Package detect holds the detector framework and the five built-in
// threat detectors. Detector order is fixed for reproducibility, per the
// component design: injection, permission-scope, no-auth, tool-shadowing
// (a no-op per server; see CrossServerShadowing), then the caller-supplied
// drift detector (the only one allowed I/O).
package detect

import (
	"github.com/mcpguard/mcpguard/internal/domain/scan"
	"github.com/mcpguard/mcpguard/internal/domain/threat"
)

// Framework runs a fixed, ordered set of detectors over one server's
// tools and resources and aggregates the result.
type Framework struct {
	detectors []threat.Detector
}

// NewFramework builds a framework from an explicit ordered detector list.
// Rule kinds and detectors are a closed set in this core: there is no
// runtime plugin registration.
func NewFramework(detectors ...threat.Detector) *Framework {
	return &Framework{detectors: detectors}
}

// Run executes every detector in order, concatenates their findings, and
// deduplicates by Threat.ID. A single detector's error does not abort the
// others; it is returned alongside whatever threats were produced so the
// caller can decide how to surface it (the drift detector turns its own
// I/O failure into a DRIFT-UNAVAILABLE Info threat rather than an error).
func (f *Framework) Run(spec scan.ServerSpec, tools []scan.ToolInfo, resources []scan.ResourceInfo) ([]threat.Threat, error) {
	var all []threat.Threat
	var firstErr error
	for _, d := range f.detectors {
		found, err := d.Detect(spec, tools, resources)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		all = append(all, found...)
	}
	return threat.Dedup(all), firstErr
}
