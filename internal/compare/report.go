package compare

import (
	"fmt"
	"strings"

	"github.com/multiai/gateway/internal/registry"
)

// renderSummary writes the comparison as a markdown table, the shape the
// MCP client displays directly.
func renderSummary(report *Report) string {
	var b strings.Builder
	b.WriteString("| Model | TTFT | Total | Quality | Tokens/s | **Overall** |\n")
	b.WriteString("|-------|------|-------|---------|----------|-------------|\n")
	for _, r := range report.Results {
		tps := "-"
		if r.TokensPerSecond != nil {
			tps = fmt.Sprintf("%.1f", *r.TokensPerSecond)
		}
		fmt.Fprintf(&b, "| %s | %.0fms | %.1fs | %.1f | %s | **%.1f** |\n",
			registry.NormalizeModelName(r.Model),
			r.TTFTMs,
			r.TotalMs/1000,
			r.Scores.Quality,
			tps,
			r.Scores.Overall)
	}
	if report.Winner != "" {
		fmt.Fprintf(&b, "\n**Winner:** %s\n", registry.NormalizeModelName(report.Winner))
	}
	if len(report.Failures) > 0 {
		fmt.Fprintf(&b, "\nFailed: %s\n", strings.Join(report.Failures, ", "))
	}
	if report.CapWarning {
		b.WriteString("\nNote: judge spending is approaching its cap.\n")
	}
	return b.String()
}
