package cmd

import (
	"strings"

	"github.com/fatih/color"
)

var (
	colorSuccess = color.New(color.FgGreen).SprintFunc()
	colorInfo    = color.New(color.FgCyan).SprintFunc()
	colorWarn    = color.New(color.FgYellow).SprintFunc()
	colorError   = color.New(color.FgRed).SprintFunc()
	colorMuted   = color.New(color.Faint).SprintFunc()
)

// formatStatusWithColor colors a probe status as printed in the summary.
func formatStatusWithColor(status string) string {
	switch strings.ToLower(status) {
	case "ok", "success":
		return colorSuccess(status)
	case "error", "failure":
		return colorError(status)
	case "pending":
		return colorWarn(status)
	case "skipped", "disabled":
		return colorMuted(status)
	default:
		return status
	}
}
