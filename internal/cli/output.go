package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"

	"routing-backend/internal/analysis"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func statusLabel(status analysis.Status) string {
	switch status {
	case analysis.StatusCompleted:
		return color.New(color.FgGreen).Sprint(status)
	case analysis.StatusFailed:
		return color.New(color.FgRed).Sprint(status)
	default:
		return color.New(color.FgYellow).Sprint(status)
	}
}

func activeLabel(active bool) string {
	if active {
		return color.New(color.FgGreen).Sprint("active")
	}
	return color.New(color.FgYellow).Sprint("pending")
}

func impactLabel(impact analysis.Impact) string {
	switch impact {
	case analysis.ImpactHigh:
		return color.New(color.FgRed).Sprint(impact)
	case analysis.ImpactMedium:
		return color.New(color.FgYellow).Sprint(impact)
	default:
		return fmt.Sprint(impact)
	}
}

func percent(v float64) string {
	return fmt.Sprintf("%.0f%%", v*100)
}

func usd(v float64) string {
	return fmt.Sprintf("$%.4f", v)
}
