package actions

import "fmt"

// NormalizeRegions resolves a requested region list against the known
// catalog: duplicates are collapsed, unknown tokens are dropped with a
// warning, and an empty request means the full catalog in catalog order.
// The returned list preserves the request's order of first occurrence.
func NormalizeRegions(requested, catalog []string) (regions []string, warnings []string) {
	if len(requested) == 0 {
		regions = make([]string, len(catalog))
		copy(regions, catalog)
		return regions, nil
	}

	known := make(map[string]bool, len(catalog))
	for _, r := range catalog {
		known[r] = true
	}

	seen := make(map[string]bool, len(requested))
	for _, r := range requested {
		if seen[r] {
			continue
		}
		seen[r] = true
		if !known[r] {
			warnings = append(warnings, fmt.Sprintf("unknown region %q dropped", r))
			continue
		}
		regions = append(regions, r)
	}

	// Everything unknown: fall back to the full catalog so the caller
	// still gets coverage instead of an empty result set.
	if len(regions) == 0 {
		regions = make([]string, len(catalog))
		copy(regions, catalog)
		warnings = append(warnings, "no valid regions requested; falling back to all known regions")
	}
	return regions, warnings
}
