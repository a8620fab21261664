package tui

import (
	"fmt"
	"time"
)

// RenderTrafficLine formats one replayed HTTP request as a log line.
func RenderTrafficLine(method, url string, status int, duration time.Duration, ts time.Time) string {
	timeStr := dimStyle.Render(ts.Format("15:04:05"))
	truncURL := url
	if len(truncURL) > 30 {
		truncURL = truncURL[:30]
	}
	paddedURL := fmt.Sprintf("%-30s", truncURL)
	dur := dimStyle.Render(fmt.Sprintf("%5dms", duration.Milliseconds()))

	return fmt.Sprintf("  %s  %s  %s  %s  %s",
		timeStr,
		StyledMethod(method),
		paddedURL,
		StyledStatus(status),
		dur,
	)
}

// RenderWsLine formats a bridged WebSocket session opening or closing.
func RenderWsLine(id, event string, ts time.Time) string {
	timeStr := dimStyle.Render(ts.Format("15:04:05"))
	label := fmt.Sprintf("ws %-5s", event)
	styled := label
	if event == "open" {
		styled = statusStyles["connected"].Render(label)
	} else {
		styled = statusStyles["disconnected"].Render(label)
	}
	return fmt.Sprintf("  %s  %s  %s", timeStr, styled, id)
}
